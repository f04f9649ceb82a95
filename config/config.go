// Package config holds the settings of a retrieval: where the two archive
// sets live, where reassembled files go and how long a scan may take.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/caio-sobreiro/dicomstitch/types"
)

// Config is passed explicitly to the retrieval service. Directories have no
// defaults.
type Config struct {
	HeaderArchiveDir string   `toml:"header_archive_dir" yaml:"header_archive_dir"`
	PixelArchiveDir  string   `toml:"pixel_archive_dir" yaml:"pixel_archive_dir"`
	OutputDir        string   `toml:"output_dir" yaml:"output_dir"`
	ScanTimeout      Duration `toml:"scan_timeout" yaml:"scan_timeout"`       // zero means no timeout
	TransferSyntax   string   `toml:"transfer_syntax" yaml:"transfer_syntax"` // empty means native Explicit VR Little Endian
	MaxEntrySize     int64    `toml:"max_entry_size" yaml:"max_entry_size"`   // zero means the locator default
}

// Duration is a time.Duration written as a string such as "30s" in config files.
type Duration struct {
	time.Duration
}

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText formats the duration as a Go duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML parses a Go duration string from a YAML scalar.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	return d.UnmarshalText([]byte(node.Value))
}

// Load reads a TOML (.toml) or YAML (.yaml, .yml) config file. The result is
// not validated; callers apply flag overrides first and then call Validate.
func Load(path string) (Config, error) {
	var cfg Config

	var unmarshal func([]byte, any) error
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		unmarshal = toml.Unmarshal
	case ".yaml", ".yml":
		unmarshal = yaml.Unmarshal
	default:
		return cfg, fmt.Errorf("unsupported config format %q (use .toml, .yaml or .yml)", ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every missing or invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.HeaderArchiveDir == "" {
		errs = append(errs, errors.New("header archive directory is required"))
	}
	if c.PixelArchiveDir == "" {
		errs = append(errs, errors.New("pixel archive directory is required"))
	}
	if c.OutputDir == "" {
		errs = append(errs, errors.New("output directory is required"))
	}
	if c.ScanTimeout.Duration < 0 {
		errs = append(errs, fmt.Errorf("scan timeout must not be negative, got %s", c.ScanTimeout))
	}
	if c.MaxEntrySize < 0 {
		errs = append(errs, fmt.Errorf("max entry size must not be negative, got %d", c.MaxEntrySize))
	}
	if ts := c.TransferSyntax; ts != "" && ts != types.ExplicitVRLittleEndian && !types.IsEncapsulated(ts) {
		errs = append(errs, fmt.Errorf("transfer syntax %s is not an encapsulated transfer syntax", ts))
	}
	return errors.Join(errs...)
}
