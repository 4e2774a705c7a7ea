package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/liveshader"
	"github.com/gogpu/liveshader/export"
)

func TestRunUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no path", nil},
		{"bad flag", []string{"-nope", "x.wgsl"}},
		{"bad size", []string{"-size", "big", "x.wgsl"}},
		{"bad export size", []string{"-export-size", "0x10", "x.wgsl"}},
		{"bad export ext", []string{"-export", "out.jpg", "x.wgsl"}},
		{"missing config", []string{"-config", filepath.Join(t.TempDir(), "none.toml")}},
		{"bad record size", []string{"-record", "out", "-record-size", "x", "x.wgsl"}},
		{"negative fps", []string{"-record", "out", "-record-fps", "-1", "x.wgsl"}},
		{"record frames in a window", []string{"-record", "out", "-record-frames", "10", "x.wgsl"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stderr bytes.Buffer
			assert.Equal(t, exitUsage, run(tt.args, &stderr))
			assert.NotEmpty(t, stderr.String())
		})
	}
}

func TestRunHelp(t *testing.T) {
	var stderr bytes.Buffer
	assert.Equal(t, exitOK, run([]string{"-h"}, &stderr))
	assert.Contains(t, stderr.String(), "usage: liveshader")
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "live.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
shaders = ["shaders"]
size = "640x360"
debounce = "120ms"

[export]
size = "800x600"
`), 0o644))

	t.Run("config only", func(t *testing.T) {
		c, err := parseArgs([]string{"-config", cfgPath}, &bytes.Buffer{})
		require.NoError(t, err)
		cfg, err := c.resolve()
		require.NoError(t, err)
		assert.Equal(t, []string{filepath.Join(dir, "shaders")}, cfg.Shaders)
		assert.Equal(t, "640x360", cfg.Size)
		assert.Equal(t, liveshader.Duration(120*time.Millisecond), cfg.Debounce)
		assert.Equal(t, "800x600", cfg.Export.Size)
	})

	t.Run("flags win", func(t *testing.T) {
		c, err := parseArgs([]string{
			"-config", cfgPath, "-size", "100x50", "-debounce", "60ms", "-export-size", "10x10", "a.wgsl",
		}, &bytes.Buffer{})
		require.NoError(t, err)
		cfg, err := c.resolve()
		require.NoError(t, err)
		assert.Equal(t, []string{"a.wgsl"}, cfg.Shaders)
		assert.Equal(t, "100x50", cfg.Size)
		assert.Equal(t, liveshader.Duration(60*time.Millisecond), cfg.Debounce)
		assert.Equal(t, "10x10", cfg.Export.Size)
	})

	t.Run("defaults", func(t *testing.T) {
		c, err := parseArgs([]string{"a.wgsl"}, &bytes.Buffer{})
		require.NoError(t, err)
		cfg, err := c.resolve()
		require.NoError(t, err)
		assert.Equal(t, "1280x720", cfg.Size)
		assert.Zero(t, cfg.Debounce)
		opts, err := cfg.Options()
		require.NoError(t, err)
		assert.NotEmpty(t, opts)
	})
}

func TestSessionRecording(t *testing.T) {
	c, err := parseArgs([]string{
		"-headless", "-record", "movies", "-record-size", "320x180", "-record-fps", "12", "a.wgsl",
	}, &bytes.Buffer{})
	require.NoError(t, err)
	cfg, err := c.resolve()
	require.NoError(t, err)
	assert.Equal(t, liveshader.RecordConfig{Dir: "movies", Size: "320x180", FPS: 12}, cfg.Record)

	s := c.session(cfg)
	assert.True(t, s.record)
	assert.Equal(t, 12, s.recordFPS)
	assert.Equal(t, 60, s.recordFrames)
	assert.Equal(t, [2]uint32{1280, 720}, [2]uint32{s.width, s.height})

	c, err = parseArgs([]string{"a.wgsl"}, &bytes.Buffer{})
	require.NoError(t, err)
	cfg, err = c.resolve()
	require.NoError(t, err)
	s = c.session(cfg)
	assert.False(t, s.record)
	assert.Equal(t, export.DefaultFPS, s.recordFPS)
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, false)
	l.Debug("hidden")
	l.Info("shown", "k", 1)
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.HasPrefix(out, "{"), "want JSON, got %q", out)

	buf.Reset()
	newLogger(&buf, true).Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestMapKey(t *testing.T) {
	tests := []struct {
		in   glfw.Key
		want gpucontext.Key
	}{
		{glfw.KeyA, gpucontext.KeyA},
		{glfw.KeyP, gpucontext.KeyP},
		{glfw.KeyZ, gpucontext.KeyZ},
		{glfw.Key0, gpucontext.Key0},
		{glfw.Key9, gpucontext.Key9},
		{glfw.KeyF5, gpucontext.KeyF5},
		{glfw.KeyKP3, gpucontext.KeyNumpad3},
		{glfw.KeySpace, gpucontext.KeySpace},
		{glfw.KeyTab, gpucontext.KeyTab},
		{glfw.KeyEscape, gpucontext.KeyEscape},
		{glfw.KeyUp, gpucontext.KeyUp},
		{glfw.KeyWorld1, gpucontext.KeyUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mapKey(tt.in), "mapKey(%d)", tt.in)
	}
}

func TestMapModsAndButtons(t *testing.T) {
	m := mapMods(glfw.ModShift | glfw.ModControl)
	assert.True(t, m.HasShift())
	assert.Equal(t, gpucontext.ModShift|gpucontext.ModControl, m)
	assert.Zero(t, mapMods(0))

	assert.Equal(t, gpucontext.MouseButtonLeft, mapButton(glfw.MouseButtonLeft))
	assert.Equal(t, gpucontext.MouseButtonRight, mapButton(glfw.MouseButtonRight))
	assert.Equal(t, gpucontext.MouseButtonMiddle, mapButton(glfw.MouseButtonMiddle))
}

func TestRank(t *testing.T) {
	assert.Less(t, rank(gputypes.DeviceTypeDiscreteGPU), rank(gputypes.DeviceTypeIntegratedGPU))
	assert.Less(t, rank(gputypes.DeviceTypeIntegratedGPU), rank(gputypes.DeviceTypeCPU))
}
