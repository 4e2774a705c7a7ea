// Command liveshader renders WGSL fragment shaders and reloads them as
// they are edited.
//
// Usage:
//
//	liveshader [flags] <file-or-dir>...
//
// Keys: Space pauses, Tab and Shift+Tab switch programs, P saves a
// painting, M starts or stops a recording, R rebuilds, Left/Right select a
// parameter, Up/Down change it, 0 resets parameters, Esc quits.
//
// Exit status is 0 on a clean shutdown, 1 when the GPU cannot be set up or
// the device is lost, and 2 on a usage error.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/gogpu/liveshader"
	"github.com/gogpu/liveshader/export"
)

const (
	exitOK    = 0
	exitFail  = 1
	exitUsage = 2
)

// cli holds the parsed command line.
type cli struct {
	size       string
	export     string
	exportSize string
	headless   bool
	config     string
	debounce   time.Duration
	verbose    bool
	paths      []string

	record       string
	recordSize   string
	recordFPS    int
	recordFrames int

	// set records the flags given explicitly.
	set map[string]bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	c, err := parseArgs(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "liveshader: %v\n", err)
		return exitUsage
	}

	logger := newLogger(stderr, c.verbose)
	liveshader.SetLogger(logger)

	cfg, err := c.resolve()
	if err != nil {
		fmt.Fprintf(stderr, "liveshader: %v\n", err)
		return exitUsage
	}
	opts, err := cfg.Options()
	if err != nil {
		fmt.Fprintf(stderr, "liveshader: %v\n", err)
		return exitUsage
	}
	s := c.session(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if c.headless {
		err = runHeadless(ctx, s, opts)
	} else {
		err = runWindow(ctx, s, opts)
	}
	if err != nil {
		logger.Error("liveshader: exit", "err", err)
		return exitFail
	}
	return exitOK
}

func parseArgs(args []string, stderr io.Writer) (*cli, error) {
	c := &cli{set: make(map[string]bool)}
	fs := flag.NewFlagSet("liveshader", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&c.size, "size", "1280x720", "window or headless render size `WxH`")
	fs.StringVar(&c.export, "export", "", "write a painting to `PATH` (.tiff or .png) on exit")
	fs.StringVar(&c.exportSize, "export-size", "", "painting size `WxH` (default 3840x2160)")
	fs.BoolVar(&c.headless, "headless", false, "render without a window until the first good frame, export, exit")
	fs.StringVar(&c.config, "config", "", "TOML or YAML configuration `FILE`")
	fs.DurationVar(&c.debounce, "debounce", 0, "quiet period after a file change (50ms..150ms)")
	fs.BoolVar(&c.verbose, "v", false, "debug logging")
	fs.StringVar(&c.record, "record", "", "record an image sequence into a new subdirectory of `DIR` from the first frame")
	fs.StringVar(&c.recordSize, "record-size", "", "recording size `WxH` (default 1920x1080)")
	fs.IntVar(&c.recordFPS, "record-fps", 0, "recording frame rate (default 30)")
	fs.IntVar(&c.recordFrames, "record-frames", 0, "with -headless, frames to record before exiting (default 5 seconds)")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: liveshader [flags] <file-or-dir>...\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) { c.set[f.Name] = true })
	c.paths = fs.Args()

	if len(c.paths) == 0 && c.config == "" {
		fs.Usage()
		return nil, errors.New("no shader path given")
	}
	if _, _, err := liveshader.ParseSize(c.size); err != nil {
		return nil, err
	}
	if c.exportSize != "" {
		if _, _, err := liveshader.ParseSize(c.exportSize); err != nil {
			return nil, err
		}
	}
	if c.recordSize != "" {
		if _, _, err := liveshader.ParseSize(c.recordSize); err != nil {
			return nil, err
		}
	}
	if c.recordFPS < 0 || c.recordFrames < 0 {
		return nil, errors.New("-record-fps and -record-frames must not be negative")
	}
	if c.recordFrames > 0 && (c.record == "" || !c.headless) {
		return nil, errors.New("-record-frames needs -record and -headless")
	}
	if c.export != "" {
		switch filepath.Ext(c.export) {
		case ".tif", ".tiff", ".png", ".TIF", ".TIFF", ".PNG":
		default:
			return nil, fmt.Errorf("-export %s: want a .tiff or .png file", c.export)
		}
	}
	return c, nil
}

// resolve merges the configuration file with the command line. Flags
// given explicitly win; shader paths on the command line replace the
// ones in the file.
func (c *cli) resolve() (*liveshader.Config, error) {
	cfg := &liveshader.Config{}
	if c.config != "" {
		var err error
		if cfg, err = liveshader.LoadConfig(c.config); err != nil {
			return nil, err
		}
	}
	if len(c.paths) > 0 {
		cfg.Shaders = c.paths
	}
	if len(cfg.Shaders) == 0 {
		return nil, errors.New("no shader path given")
	}
	if cfg.Size == "" || c.set["size"] {
		cfg.Size = c.size
	}
	if c.set["export-size"] {
		cfg.Export.Size = c.exportSize
	}
	if c.set["debounce"] {
		cfg.Debounce = liveshader.Duration(c.debounce)
	}
	if c.set["record"] {
		cfg.Record.Dir = c.record
	}
	if c.set["record-size"] {
		cfg.Record.Size = c.recordSize
	}
	if c.set["record-fps"] {
		cfg.Record.FPS = c.recordFPS
	}
	return cfg, nil
}

// session is what the run loops need beyond the engine options.
type session struct {
	width, height uint32
	export        string

	// record starts a recording with the first frame. Headless runs stop
	// after recordFrames frames.
	record       bool
	recordFPS    int
	recordFrames int
}

func (c *cli) session(cfg *liveshader.Config) session {
	w, h, _ := liveshader.ParseSize(cfg.Size)
	s := session{
		width:        w,
		height:       h,
		export:       c.export,
		record:       c.record != "",
		recordFPS:    cfg.Record.FPS,
		recordFrames: c.recordFrames,
	}
	if s.recordFPS <= 0 {
		s.recordFPS = export.DefaultFPS
	}
	if s.recordFrames == 0 {
		s.recordFrames = 5 * s.recordFPS
	}
	return s
}

// newLogger writes text to a terminal and JSON everywhere else.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	hopts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		hopts.Level = slog.LevelDebug
	}
	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return slog.New(slog.NewTextHandler(w, hopts))
	}
	return slog.New(slog.NewJSONHandler(w, hopts))
}

// exportOnExit writes the final painting when -export was given.
func exportOnExit(e *liveshader.Engine, path string) error {
	if path == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	r := <-e.Paint(ctx, path, 0, 0)
	if r.Err != nil {
		return r.Err
	}
	liveshader.Logger().Info("liveshader: painting saved", "path", r.Path, "elapsed", r.Elapsed)
	return nil
}
