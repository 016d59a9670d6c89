package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v2"

	"github.com/donmikel/fileupload/applications/server/domain"
)

// Image backends.
const (
	LibraryRaster  = "raster"
	LibraryImaging = "imaging"
	LibraryConvert = "convert"
)

type Server struct {
	API      Api    `yaml:"api"`
	LogLevel string `yaml:"log_level"`
	Upload   Upload `yaml:"upload"`
}

type Api struct {
	HTTPAddr string `yaml:"http_addr"`
}

type Upload struct {
	Dir       string `yaml:"dir"`
	URL       string `yaml:"url"`
	UserDirs  bool   `yaml:"user_dirs"`
	MkdirMode uint32 `yaml:"mkdir_mode"`

	AcceptFileTypes        string `yaml:"accept_file_types"`
	ImageFileTypes         string `yaml:"image_file_types"`
	InlineFileTypes        string `yaml:"inline_file_types"`
	CorrectImageExtensions bool   `yaml:"correct_image_extensions"`
	DiscardAbortedUploads  bool   `yaml:"discard_aborted_uploads"`

	MaxRequestSize   ByteSize `yaml:"max_request_size"`
	MaxFileSize      ByteSize `yaml:"max_file_size"`
	MinFileSize      ByteSize `yaml:"min_file_size"`
	MaxNumberOfFiles int      `yaml:"max_number_of_files"`

	MaxWidth  int `yaml:"max_width"`
	MaxHeight int `yaml:"max_height"`
	MinWidth  int `yaml:"min_width"`
	MinHeight int `yaml:"min_height"`

	ImageLibrary   string        `yaml:"image_library"`
	ConvertBin     string        `yaml:"convert_bin"`
	ConvertParams  string        `yaml:"convert_params"`
	IdentifyBin    string        `yaml:"identify_bin"`
	ConvertTimeout time.Duration `yaml:"convert_timeout"`

	ReadfileChunkSize ByteSize `yaml:"readfile_chunk_size"`
	Workers           int      `yaml:"workers"`

	ImageVersions domain.Versions `yaml:"image_versions"`
}

// Patterns holds the compiled name patterns of an Upload section.
type Patterns struct {
	Accept *regexp.Regexp
	Image  *regexp.Regexp
	Inline *regexp.Regexp
}

// ByteSize is a byte count that may be written as "20MB" or "10 MiB" in the config file.
type ByteSize uint64

func (b *ByteSize) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	if raw == "" {
		*b = 0
		return nil
	}
	v, err := humanize.ParseBytes(raw)
	if err != nil {
		return fmt.Errorf("can't parse byte size %q: %w", raw, err)
	}
	*b = ByteSize(v)
	return nil
}

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

func Default() Server {
	return Server{
		API:      Api{HTTPAddr: "0.0.0.0:8002"},
		LogLevel: "info",
		Upload: Upload{
			Dir:                   "files",
			URL:                   "/files/",
			MkdirMode:             0o755,
			AcceptFileTypes:       `.+$`,
			ImageFileTypes:        `(?i)\.(gif|jpe?g|png)$`,
			InlineFileTypes:       `(?i)\.(gif|jpe?g|png)$`,
			DiscardAbortedUploads: true,
			MinFileSize:           1,
			MinWidth:              1,
			MinHeight:             1,
			ImageLibrary:          LibraryImaging,
			ConvertBin:            "convert",
			IdentifyBin:           "identify",
			ConvertTimeout:        30 * time.Second,
			ReadfileChunkSize:     10 * humanize.MiByte,
			Workers:               1,
		},
	}
}

// DefaultVersions keeps the canonical file upright and produces an 80x80 thumbnail.
func DefaultVersions() domain.Versions {
	return domain.Versions{
		"":          {AutoOrient: true},
		"thumbnail": {MaxWidth: 80, MaxHeight: 80},
	}
}

func Parse(path string) (Server, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Server{}, fmt.Errorf("can't read config file: %w", err)
	}

	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return Server{}, fmt.Errorf("can't unmarshal config: %w", err)
	}

	if cfg.Upload.ImageVersions == nil {
		cfg.Upload.ImageVersions = DefaultVersions()
	}

	return cfg, nil
}

func (s Server) Validate() error {
	if s.API.HTTPAddr == "" {
		return errors.New("api.http_addr is empty")
	}

	switch s.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", s.LogLevel)
	}

	return s.Upload.Validate()
}

func (u Upload) Validate() error {
	if u.Dir == "" {
		return errors.New("upload.dir is empty")
	}

	if _, err := u.Compile(); err != nil {
		return err
	}

	switch u.ImageLibrary {
	case LibraryRaster, LibraryImaging:
	case LibraryConvert:
		if u.ConvertBin == "" || u.IdentifyBin == "" {
			return errors.New("convert_bin and identify_bin are required for the convert image library")
		}
	default:
		return fmt.Errorf("unknown image_library %q", u.ImageLibrary)
	}

	if u.MinFileSize > 0 && u.MaxFileSize > 0 && u.MinFileSize > u.MaxFileSize {
		return fmt.Errorf("min_file_size %s exceeds max_file_size %s", u.MinFileSize, u.MaxFileSize)
	}

	if u.MaxNumberOfFiles < 0 || u.Workers < 0 {
		return errors.New("max_number_of_files and workers must not be negative")
	}

	for tag, v := range u.ImageVersions {
		if v.JPEGQuality < 0 || v.JPEGQuality > 100 {
			return fmt.Errorf("image version %q: jpeg_quality must be within 0..100", tag)
		}
		if v.PNGQuality < 0 || v.PNGQuality > 9 {
			return fmt.Errorf("image version %q: png_quality must be within 0..9", tag)
		}
		if v.MaxWidth < 0 || v.MaxHeight < 0 || v.MinWidth < 0 || v.MinHeight < 0 {
			return fmt.Errorf("image version %q: dimensions must not be negative", tag)
		}
		if v.Crop && (v.MaxWidth == 0 || v.MaxHeight == 0) {
			return fmt.Errorf("image version %q: crop requires max_width and max_height", tag)
		}
	}

	return nil
}

func (u Upload) Compile() (Patterns, error) {
	var (
		p   Patterns
		err error
	)

	if p.Accept, err = regexp.Compile(u.AcceptFileTypes); err != nil {
		return Patterns{}, fmt.Errorf("can't compile accept_file_types: %w", err)
	}
	if p.Image, err = regexp.Compile(u.ImageFileTypes); err != nil {
		return Patterns{}, fmt.Errorf("can't compile image_file_types: %w", err)
	}
	if p.Inline, err = regexp.Compile(u.InlineFileTypes); err != nil {
		return Patterns{}, fmt.Errorf("can't compile inline_file_types: %w", err)
	}

	return p, nil
}
