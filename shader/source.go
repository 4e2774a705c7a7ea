package shader

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Stage identifies the pipeline stage a shader source is compiled for.
type Stage uint8

const (
	// StageFragment is the default stage for a shader file.
	StageFragment Stage = iota
	StageVertex
	StageCompute
)

// String returns the stage name.
func (s Stage) String() string {
	switch s {
	case StageVertex:
		return "vertex"
	case StageFragment:
		return "fragment"
	case StageCompute:
		return "compute"
	default:
		return fmt.Sprintf("Stage(%d)", uint8(s))
	}
}

// stageSuffixes maps file-name suffixes to stages. Checked in order.
var stageSuffixes = []struct {
	suffix string
	stage  Stage
}{
	{".vert.wgsl", StageVertex},
	{".frag.wgsl", StageFragment},
	{".comp.wgsl", StageCompute},
}

// Source is one shader file as loaded from disk.
//
// A Source is never mutated after Load returns; every detected change
// produces a new Source.
type Source struct {
	Path        string
	Text        string
	Fingerprint [sha256.Size]byte
	Stage       Stage
}

// NewSource builds a Source from in-memory text.
func NewSource(path, text string, stage Stage) Source {
	return Source{
		Path:        path,
		Text:        text,
		Fingerprint: sha256.Sum256([]byte(text)),
		Stage:       stage,
	}
}

// Load reads path and returns its Source for the given stage.
func Load(path string, stage Stage) (Source, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Source{}, fmt.Errorf("load shader %q: %w", path, err)
	}
	return NewSource(path, string(b), stage), nil
}

// StageFromPath infers the stage from a file name such as "plasma.vert.wgsl".
// Files without a stage suffix are fragment shaders.
func StageFromPath(path string) Stage {
	base := strings.ToLower(filepath.Base(path))
	for _, s := range stageSuffixes {
		if strings.HasSuffix(base, s.suffix) {
			return s.stage
		}
	}
	return StageFragment
}

// SlotName returns the program name a shader file belongs to:
// "shaders/plasma.frag.wgsl" and "shaders/plasma.vert.wgsl" both map to "plasma".
func SlotName(path string) string {
	base := filepath.Base(path)
	lower := strings.ToLower(base)
	for _, s := range stageSuffixes {
		if strings.HasSuffix(lower, s.suffix) {
			return base[:len(base)-len(s.suffix)]
		}
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}
