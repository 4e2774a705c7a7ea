package liveshader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/liveshader/params"
	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ErrConfigFormat is returned for config files that are neither TOML nor
// YAML.
var ErrConfigFormat = errors.New("liveshader: unsupported config format")

// Duration is a time.Duration written as "100ms" in config files.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	return d.UnmarshalText([]byte(n.Value))
}

// ExportConfig configures interactive paintings.
type ExportConfig struct {
	Dir  string `toml:"dir" yaml:"dir"`
	Size string `toml:"size" yaml:"size"`
}

// RecordConfig configures image sequence recordings.
type RecordConfig struct {
	Dir  string `toml:"dir" yaml:"dir"`
	Size string `toml:"size" yaml:"size"`
	FPS  int    `toml:"fps" yaml:"fps"`
}

// Config is the file form of the engine options.
//
//	shaders = ["~/shaders"]
//	debounce = "80ms"
//	size = "1280x720"
//
//	[[param]]
//	name = "speed"
//	default = 1.0
//	min = 0.0
//	max = 4.0
type Config struct {
	Shaders        []string      `toml:"shaders" yaml:"shaders"`
	Extensions     []string      `toml:"extensions" yaml:"extensions"`
	Debounce       Duration      `toml:"debounce" yaml:"debounce"`
	CompileTimeout Duration      `toml:"compile_timeout" yaml:"compile_timeout"`
	Workers        int           `toml:"workers" yaml:"workers"`
	Slot           string        `toml:"slot" yaml:"slot"`
	Size           string        `toml:"size" yaml:"size"`
	Fallback       []float32     `toml:"fallback" yaml:"fallback"`
	Overlay        *bool         `toml:"overlay" yaml:"overlay"`
	Stats          *bool         `toml:"stats" yaml:"stats"`
	Export         ExportConfig  `toml:"export" yaml:"export"`
	Record         RecordConfig  `toml:"record" yaml:"record"`
	Validate       *bool         `toml:"validate" yaml:"validate"`
	ShaderDebug    bool          `toml:"shader_debug" yaml:"shader_debug"`
	Params         []params.Spec `toml:"param" yaml:"params"`
}

// LoadConfig reads a TOML (.toml) or YAML (.yaml, .yml) file. "~" is
// expanded and relative paths inside the file are resolved against the
// file's directory.
func LoadConfig(path string) (*Config, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("liveshader: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("liveshader: %w", err)
	}

	var c Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &c)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &c)
	default:
		return nil, fmt.Errorf("%w: %s", ErrConfigFormat, filepath.Base(path))
	}
	if err != nil {
		return nil, fmt.Errorf("liveshader: parse %s: %w", filepath.Base(path), err)
	}

	base := filepath.Dir(path)
	for i, s := range c.Shaders {
		if c.Shaders[i], err = resolve(base, s); err != nil {
			return nil, err
		}
	}
	if c.Export.Dir != "" {
		if c.Export.Dir, err = resolve(base, c.Export.Dir); err != nil {
			return nil, err
		}
	}
	if c.Record.Dir != "" {
		if c.Record.Dir, err = resolve(base, c.Record.Dir); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

func resolve(base, p string) (string, error) {
	p, err := homedir.Expand(p)
	if err != nil {
		return "", fmt.Errorf("liveshader: %w", err)
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(base, p)
	}
	return p, nil
}

// Options converts the file into engine options. Unset fields keep the
// defaults.
func (c *Config) Options() ([]Option, error) {
	var opts []Option
	if len(c.Shaders) > 0 {
		opts = append(opts, WithShaders(c.Shaders...))
	}
	if len(c.Extensions) > 0 {
		opts = append(opts, WithExtensions(c.Extensions...))
	}
	if c.Debounce > 0 {
		opts = append(opts, WithDebounce(time.Duration(c.Debounce)))
	}
	if c.CompileTimeout > 0 {
		opts = append(opts, WithCompileTimeout(time.Duration(c.CompileTimeout)))
	}
	if c.Workers > 0 {
		opts = append(opts, WithWorkers(c.Workers))
	}
	if c.Slot != "" {
		opts = append(opts, WithSlot(c.Slot))
	}
	if c.Size != "" {
		w, h, err := ParseSize(c.Size)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithSize(w, h))
	}
	if len(c.Fallback) > 0 {
		if len(c.Fallback) < 3 || len(c.Fallback) > 4 {
			return nil, fmt.Errorf("liveshader: fallback needs 3 or 4 components, got %d", len(c.Fallback))
		}
		col := gputypes.Color{R: float64(c.Fallback[0]), G: float64(c.Fallback[1]), B: float64(c.Fallback[2]), A: 1}
		if len(c.Fallback) == 4 {
			col.A = float64(c.Fallback[3])
		}
		opts = append(opts, WithFallbackColor(col))
	}
	if c.Overlay != nil {
		opts = append(opts, WithOverlay(*c.Overlay))
	}
	if c.Stats != nil {
		opts = append(opts, WithStats(*c.Stats))
	}
	if c.Export.Dir != "" || c.Export.Size != "" {
		d := defaultOptions()
		dir, w, h := d.exportDir, d.exportWidth, d.exportHeight
		if c.Export.Dir != "" {
			dir = c.Export.Dir
		}
		if c.Export.Size != "" {
			var err error
			if w, h, err = ParseSize(c.Export.Size); err != nil {
				return nil, err
			}
		}
		opts = append(opts, WithExport(dir, w, h))
	}
	if c.Record != (RecordConfig{}) {
		d := defaultOptions()
		w, h, fps := d.recordWidth, d.recordHeight, d.recordFPS
		if c.Record.Size != "" {
			var err error
			if w, h, err = ParseSize(c.Record.Size); err != nil {
				return nil, err
			}
		}
		if c.Record.FPS < 0 {
			return nil, fmt.Errorf("liveshader: record fps %d", c.Record.FPS)
		}
		if c.Record.FPS > 0 {
			fps = c.Record.FPS
		}
		opts = append(opts, WithRecording(c.Record.Dir, w, h, fps))
	}
	if c.Validate != nil {
		opts = append(opts, WithValidation(*c.Validate))
	}
	if c.ShaderDebug {
		opts = append(opts, WithShaderDebug(true))
	}
	if len(c.Params) > 0 {
		opts = append(opts, WithParams(c.Params...))
	}
	return opts, nil
}

// ParseSize parses "WIDTHxHEIGHT".
func ParseSize(s string) (w, h uint32, err error) {
	ws, hs, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("liveshader: size %q: want WIDTHxHEIGHT", s)
	}
	wv, err := strconv.ParseUint(ws, 10, 32)
	if err != nil || wv == 0 {
		return 0, 0, fmt.Errorf("liveshader: size %q: bad width", s)
	}
	hv, err := strconv.ParseUint(hs, 10, 32)
	if err != nil || hv == 0 {
		return 0, 0, fmt.Errorf("liveshader: size %q: bad height", s)
	}
	return uint32(wv), uint32(hv), nil
}
