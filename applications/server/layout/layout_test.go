package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/donmikel/fileupload/applications/server/domain"
)

func testLayout(userDirs bool) Layout {
	return New("/srv/files/", "https://example.com/files/", userDirs, domain.Versions{
		"":          {AutoOrient: true},
		"thumbnail": {MaxWidth: 80, MaxHeight: 80},
		"large":     {UploadDir: "/srv/large", UploadURL: "https://cdn.example.com/large/"},
	})
}

func TestFilePath(t *testing.T) {
	tests := []struct {
		name     string
		userDirs bool
		ns       string
		file     string
		tag      string
		want     string
	}{
		{"canonical", false, "sess", "a.jpg", "", "/srv/files/a.jpg"},
		{"tag subdir", false, "sess", "a.jpg", "thumbnail", "/srv/files/thumbnail/a.jpg"},
		{"tag dir override", false, "", "a.jpg", "large", "/srv/large/a.jpg"},
		{"user dirs", true, "sess", "a.jpg", "", "/srv/files/sess/a.jpg"},
		{"user dirs tag", true, "sess", "a.jpg", "thumbnail", "/srv/files/sess/thumbnail/a.jpg"},
		{"user dirs override", true, "sess", "a.jpg", "large", "/srv/large/sess/a.jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, testLayout(tt.userDirs).FilePath(tt.ns, tt.file, tt.tag))
		})
	}
}

func TestURL(t *testing.T) {
	l := testLayout(true)

	assert.Equal(t, "https://example.com/files/sess/my%20photo.jpg", l.URL("sess", "my photo.jpg", ""))
	assert.Equal(t, "https://example.com/files/sess/thumbnail/a.jpg", l.URL("sess", "a.jpg", "thumbnail"))
	assert.Equal(t, "https://cdn.example.com/large/sess/a.jpg", l.URL("sess", "a.jpg", "large"))
	assert.Equal(t, "https://example.com/files/a%3Fb.png", testLayout(false).URL("ignored", "a?b.png", ""))
}

func TestContains(t *testing.T) {
	l := testLayout(false)

	assert.True(t, l.Contains("/srv/files/a.jpg"))
	assert.True(t, l.Contains("/srv/large/a.jpg"))
	assert.False(t, l.Contains("/srv/files"))
	assert.False(t, l.Contains("/srv/files/../../etc/passwd"))
	assert.False(t, l.Contains("/srv/filesystem/a.jpg"))
}
