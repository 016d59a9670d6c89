// Package layout maps stored file names and derivative tags to filesystem
// locations and public download locators.
//
// Canonical files live under Root (inside a per-namespace directory when
// UserDirs is set). A derivative tagged "thumbnail" lives under
// Root/<namespace>/thumbnail/ unless its version configures an own directory.
package layout

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/donmikel/fileupload/applications/server/domain"
)

type Layout struct {
	Root     string
	BaseURL  string
	UserDirs bool
	Versions domain.Versions
}

func New(root, baseURL string, userDirs bool, versions domain.Versions) Layout {
	return Layout{
		Root:     filepath.Clean(root),
		BaseURL:  baseURL,
		UserDirs: userDirs,
		Versions: versions,
	}
}

func (l Layout) namespace(ns string) string {
	if !l.UserDirs {
		return ""
	}
	return ns
}

// Dir returns the directory holding files of the given tag.
func (l Layout) Dir(ns, tag string) string {
	ns = l.namespace(ns)
	if tag != "" {
		if dir := l.Versions[tag].UploadDir; dir != "" {
			return filepath.Join(dir, ns)
		}
		return filepath.Join(l.Root, ns, tag)
	}
	return filepath.Join(l.Root, ns)
}

func (l Layout) FilePath(ns, name, tag string) string {
	return filepath.Join(l.Dir(ns, tag), name)
}

// URL returns the public download locator of a stored file or one of its derivatives.
func (l Layout) URL(ns, name, tag string) string {
	base := l.BaseURL
	var parts []string
	if tag != "" {
		if u := l.Versions[tag].UploadURL; u != "" {
			base = u
		} else {
			parts = append(parts, url.PathEscape(tag))
		}
	}
	if ns = l.namespace(ns); ns != "" {
		parts = append([]string{url.PathEscape(ns)}, parts...)
	}
	parts = append(parts, url.PathEscape(name))

	return strings.TrimSuffix(base, "/") + "/" + path.Join(parts...)
}

// Contains reports whether p lies strictly inside one of the managed roots.
func (l Layout) Contains(p string) bool {
	p = filepath.Clean(p)
	if within(l.Root, p) {
		return true
	}
	for _, v := range l.Versions {
		if v.UploadDir != "" && within(filepath.Clean(v.UploadDir), p) {
			return true
		}
	}
	return false
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
