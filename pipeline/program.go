package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gogpu/liveshader/shader"
)

// Program declares the files that make up one slot. An empty Vertex selects
// shader.FullscreenVertex.
type Program struct {
	Slot     string
	Vertex   string
	Fragment string
}

// Files returns the on-disk files of the program.
func (p Program) Files() []string {
	if p.Vertex == "" {
		return []string{p.Fragment}
	}
	return []string{p.Vertex, p.Fragment}
}

// ErrNoPrograms is returned by Discover when no fragment shader is found.
var ErrNoPrograms = errors.New("pipeline: no fragment shaders found")

// Discover groups the shader files under paths into programs. Files are
// paired by slot name: plasma.vert.wgsl and plasma.frag.wgsl form slot
// "plasma". Directories are scanned one level deep. Compute stages are not
// rendered and are skipped.
func Discover(paths []string) ([]Program, error) {
	bySlot := make(map[string]*Program)
	var order []string
	add := func(file string) {
		stage := shader.StageFromPath(file)
		if stage == shader.StageCompute {
			slogger().Debug("pipeline: skipping compute shader", "path", file)
			return
		}
		key := filepath.Join(filepath.Dir(file), shader.SlotName(file))
		p, ok := bySlot[key]
		if !ok {
			p = &Program{Slot: shader.SlotName(file)}
			bySlot[key] = p
			order = append(order, key)
		}
		if stage == shader.StageVertex {
			p.Vertex = file
		} else {
			p.Fragment = file
		}
	}

	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		fi, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		if !fi.IsDir() {
			add(abs)
			continue
		}
		entries, err := os.ReadDir(abs)
		if err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".wgsl") {
				continue
			}
			add(filepath.Join(abs, e.Name()))
		}
	}

	var out []Program
	names := make(map[string]int)
	for _, key := range order {
		p := *bySlot[key]
		if p.Fragment == "" {
			slogger().Warn("pipeline: vertex shader without fragment", "path", p.Vertex)
			continue
		}
		// Same slot name in two directories: keep both, suffix the later one.
		if n := names[p.Slot]; n > 0 {
			names[p.Slot] = n + 1
			p.Slot = fmt.Sprintf("%s#%d", p.Slot, n+1)
		} else {
			names[p.Slot] = 1
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, ErrNoPrograms
	}
	slices.SortStableFunc(out, func(a, b Program) int { return strings.Compare(a.Slot, b.Slot) })
	return out, nil
}
