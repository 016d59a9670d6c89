package domain

import "sort"

// Version configures one image derivative. The empty tag designates the canonical file.
type Version struct {
	MaxWidth      int    `yaml:"max_width"`
	MaxHeight     int    `yaml:"max_height"`
	MinWidth      int    `yaml:"min_width"`
	MinHeight     int    `yaml:"min_height"`
	Crop          bool   `yaml:"crop"`
	AutoOrient    bool   `yaml:"auto_orient"`
	JPEGQuality   int    `yaml:"jpeg_quality"`
	PNGQuality    int    `yaml:"png_quality"`
	Strip         bool   `yaml:"strip"`
	ConvertParams string `yaml:"convert_params"`
	// UploadDir and UploadURL replace the default <root>/<tag>/ location.
	UploadDir string `yaml:"upload_dir"`
	UploadURL string `yaml:"upload_url"`
}

// Versions maps a tag to its options.
type Versions map[string]Version

// Tags returns the configured tags with the canonical one first and the rest sorted.
func (v Versions) Tags() []string {
	tags := make([]string, 0, len(v))
	if _, ok := v[""]; ok {
		tags = append(tags, "")
	}
	named := make([]string, 0, len(v))
	for tag := range v {
		if tag != "" {
			named = append(named, tag)
		}
	}
	sort.Strings(named)
	return append(tags, named...)
}

