package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donmikel/fileupload/applications/server/domain"
)

func TestParseConfig(t *testing.T) {
	want := Default()
	want.LogLevel = "debug"
	want.Upload.Dir = "/var/lib/fileupload/files"
	want.Upload.URL = "https://files.example.com/files/"
	want.Upload.MaxRequestSize = 64 * 1000 * 1000
	want.Upload.MaxFileSize = 20 * 1024 * 1024
	want.Upload.MaxNumberOfFiles = 100
	want.Upload.MaxWidth = 8000
	want.Upload.MaxHeight = 8000
	want.Upload.ConvertTimeout = 45 * time.Second
	want.Upload.ReadfileChunkSize = 1024 * 1024
	want.Upload.ImageVersions = domain.Versions{
		"":          {AutoOrient: true},
		"medium":    {MaxWidth: 800, MaxHeight: 600, JPEGQuality: 85},
		"thumbnail": {MaxWidth: 80, MaxHeight: 80, Crop: true},
	}

	got, err := Parse("config.yml")

	assert.NoError(t, got.Validate())
	assert.Equal(t, nil, err)
	assert.Equal(t, want, got)
}

func TestParseDefaultsVersions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("upload:\n  dir: /tmp/files\n"), 0o600))

	got, err := Parse(path)
	require.NoError(t, err)
	require.NoError(t, got.Validate())

	assert.Equal(t, DefaultVersions(), got.Upload.ImageVersions)
	assert.True(t, got.Upload.DiscardAbortedUploads)
	assert.Equal(t, ByteSize(1), got.Upload.MinFileSize)
	assert.Equal(t, LibraryImaging, got.Upload.ImageLibrary)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Server)
	}{
		{"empty addr", func(s *Server) { s.API.HTTPAddr = "" }},
		{"bad level", func(s *Server) { s.LogLevel = "loud" }},
		{"empty dir", func(s *Server) { s.Upload.Dir = "" }},
		{"bad pattern", func(s *Server) { s.Upload.AcceptFileTypes = "(" }},
		{"unknown library", func(s *Server) { s.Upload.ImageLibrary = "gd" }},
		{"convert without bin", func(s *Server) {
			s.Upload.ImageLibrary = LibraryConvert
			s.Upload.ConvertBin = ""
		}},
		{"min above max", func(s *Server) {
			s.Upload.MinFileSize = 10
			s.Upload.MaxFileSize = 5
		}},
		{"jpeg quality", func(s *Server) {
			s.Upload.ImageVersions = domain.Versions{"x": {JPEGQuality: 101}}
		}},
		{"crop without box", func(s *Server) {
			s.Upload.ImageVersions = domain.Versions{"x": {Crop: true, MaxWidth: 10}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Default()
			s.Upload.ImageVersions = DefaultVersions()
			tt.mutate(&s)
			assert.Error(t, s.Validate())
		})
	}
}

func TestByteSize(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.UnmarshalYAML(func(v interface{}) error {
		*(v.(*string)) = "10 MiB"
		return nil
	}))
	assert.Equal(t, ByteSize(10*1024*1024), b)
	assert.Equal(t, "10 MiB", b.String())
}
