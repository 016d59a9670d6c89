package services

import (
	"io"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// lastFallback is the last timestamp handed out for an empty name.
var lastFallback atomic.Int64

var imageTypePattern = regexp.MustCompile(`^image/(gif|jpe?g|png)`)

// imageExtensions maps a sniffed type to the extension a stored image gets.
var imageExtensions = map[string]string{
	"image/gif":  ".gif",
	"image/jpeg": ".jpg",
	"image/png":  ".png",
}

// SanitizeName drops any directory part of a client supplied name and trims
// dots, whitespace and control characters from both ends. An empty result is
// replaced by a timestamp that is never repeated within the process.
func SanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "/" {
		name = ""
	}

	name = strings.TrimFunc(name, func(r rune) bool {
		return r == '.' || r <= ' '
	})
	if name != "" {
		return name
	}

	return fallbackName()
}

func fallbackName() string {
	for {
		last := lastFallback.Load()
		now := time.Now().UnixNano()
		if now <= last {
			now = last + 1
		}
		if lastFallback.CompareAndSwap(last, now) {
			return strconv.FormatInt(now/int64(time.Second), 10) + "-" + strconv.FormatInt(now%int64(time.Second), 10)
		}
	}
}

// FixExtension adds an image extension to a name without one when the declared type is an image.
func FixExtension(name, mimeType string) string {
	if strings.Contains(name, ".") {
		return name
	}
	m := imageTypePattern.FindStringSubmatch(mimeType)
	if m == nil {
		return name
	}
	return name + "." + m[1]
}

// CorrectImageExtension replaces the extension of name with the one matching the
// sniffed image type of content. Non-images and names already carrying a matching
// extension are returned unchanged.
func CorrectImageExtension(name string, content io.Reader) string {
	mtype, err := mimetype.DetectReader(content)
	if err != nil {
		return name
	}

	want, ok := imageExtensions[mtype.String()]
	if !ok {
		return name
	}

	ext := strings.ToLower(filepath.Ext(name))
	if ext == want || (want == ".jpg" && ext == ".jpeg") {
		return name
	}

	return strings.TrimSuffix(name, filepath.Ext(name)) + want
}
