package services

import (
	"bytes"
	"image"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"photo.jpg", "photo.jpg"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\me\My Photo.png`, "My Photo.png"},
		{".htaccess", "htaccess"},
		{"...hidden.txt...", "hidden.txt"},
		{" \t report.pdf \n", "report.pdf"},
		{"\x00\x01name\x1f", "name"},
		{"dir/", "dir"},
		{"a b (1).txt", "a b (1).txt"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeName(tt.in))
		})
	}
}

func TestSanitizeNameNeverUnsafe(t *testing.T) {
	inputs := []string{
		"/", "\\", "..", "../..", "./.", "a/../.b", `..\..\.x`, "dir/.env", "/abs/path/./.", ". . .", "x/\x00.y",
	}

	for _, in := range inputs {
		got := SanitizeName(in)
		assert.NotEmpty(t, got, in)
		assert.False(t, strings.ContainsAny(got, `/\`), "%q -> %q", in, got)
		assert.False(t, strings.HasPrefix(got, "."), "%q -> %q", in, got)
	}
}

func TestSanitizeNameEmptyFallbackIsUnique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		got := SanitizeName(" ")
		require.NotEmpty(t, got)
		assert.NotContains(t, got, ".")
		_, dup := seen[got]
		require.False(t, dup, "duplicate fallback name %q", got)
		seen[got] = struct{}{}
	}
}

func TestFixExtension(t *testing.T) {
	assert.Equal(t, "blob.png", FixExtension("blob", "image/png"))
	assert.Equal(t, "blob.jpeg", FixExtension("blob", "image/jpeg"))
	assert.Equal(t, "blob.jpg", FixExtension("blob", "image/jpg"))
	assert.Equal(t, "blob", FixExtension("blob", "text/plain"))
	assert.Equal(t, "blob.txt", FixExtension("blob.txt", "image/png"))
}

func TestCorrectImageExtension(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))))
	pngData := buf.Bytes()

	assert.Equal(t, "photo.png", CorrectImageExtension("photo.jpg", bytes.NewReader(pngData)))
	assert.Equal(t, "photo.png", CorrectImageExtension("photo", bytes.NewReader(pngData)))
	assert.Equal(t, "photo.PNG", CorrectImageExtension("photo.PNG", bytes.NewReader(pngData)))
	assert.Equal(t, "notes.jpg", CorrectImageExtension("notes.jpg", strings.NewReader("just text")))
}
