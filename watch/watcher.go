package watch

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Debounce limits. Windows outside the range are clamped.
const (
	DefaultDebounce = 100 * time.Millisecond
	MinDebounce     = 50 * time.Millisecond
	MaxDebounce     = 150 * time.Millisecond
)

// ErrUnreachable marks a watched path that was removed, renamed away or can
// no longer be opened.
var ErrUnreachable = errors.New("watch: path unreachable")

// Op describes what happened to a path during a debounce window.
type Op uint8

const (
	OpCreate Op = 1 << iota
	OpWrite
	OpRemove
	OpRename
	OpChmod
)

func (op Op) String() string {
	var parts []string
	for _, n := range []struct {
		op   Op
		name string
	}{{OpCreate, "create"}, {OpWrite, "write"}, {OpRemove, "remove"}, {OpRename, "rename"}, {OpChmod, "chmod"}} {
		if op&n.op != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

func fromNotify(op fsnotify.Op) Op {
	var out Op
	if op.Has(fsnotify.Create) {
		out |= OpCreate
	}
	if op.Has(fsnotify.Write) {
		out |= OpWrite
	}
	if op.Has(fsnotify.Remove) {
		out |= OpRemove
	}
	if op.Has(fsnotify.Rename) {
		out |= OpRename
	}
	if op.Has(fsnotify.Chmod) {
		out |= OpChmod
	}
	return out
}

// Event is one debounced change. A non-nil Err marks a watch failure, in
// which case Err is a *Error.
type Event struct {
	Path string
	Time time.Time
	Op   Op
	Err  error
}

// Error reports a path that cannot be watched. Path is empty for failures
// of the notification backend itself.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return "watch: " + e.Err.Error()
	}
	return fmt.Sprintf("watch %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Option configures a Watcher.
type Option func(*options)

type options struct {
	debounce   time.Duration
	extensions []string
	buffer     int
}

func defaultOptions() options {
	return options{
		debounce:   DefaultDebounce,
		extensions: []string{".wgsl"},
		buffer:     16,
	}
}

// WithDebounce sets the debounce window, clamped to [MinDebounce, MaxDebounce].
func WithDebounce(d time.Duration) Option {
	return func(o *options) {
		o.debounce = min(max(d, MinDebounce), MaxDebounce)
	}
}

// WithExtensions sets the file extensions matched inside watched
// directories. Matching is case-insensitive.
func WithExtensions(exts ...string) Option {
	return func(o *options) {
		o.extensions = o.extensions[:0:0]
		for _, e := range exts {
			if !strings.HasPrefix(e, ".") {
				e = "." + e
			}
			o.extensions = append(o.extensions, strings.ToLower(e))
		}
	}
}

// root is one user-supplied path.
type root struct {
	path  string
	isDir bool
}

// Watcher turns file system notifications for a fixed set of paths into
// debounced change events.
type Watcher struct {
	roots []root
	opts  options
}

// New validates paths and returns a Watcher. Each path must exist when New
// is called; it may disappear later.
func New(paths []string, opts ...Option) (*Watcher, error) {
	if len(paths) == 0 {
		return nil, errors.New("watch: no paths")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	w := &Watcher{opts: o}
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("watch: %w", err)
		}
		fi, err := os.Stat(abs)
		if err != nil {
			return nil, &Error{Path: abs, Err: err}
		}
		w.roots = append(w.roots, root{path: abs, isDir: fi.IsDir()})
	}
	return w, nil
}

// Paths returns the absolute watched paths.
func (w *Watcher) Paths() []string {
	out := make([]string, len(w.roots))
	for i, r := range w.roots {
		out[i] = r.path
	}
	return out
}

// Debounce returns the effective debounce window.
func (w *Watcher) Debounce() time.Duration { return w.opts.debounce }

// Match reports whether a file path is covered by the watcher.
func (w *Watcher) Match(path string) bool {
	path = filepath.Clean(path)
	for _, r := range w.roots {
		if path == r.path {
			return true
		}
		if r.isDir && filepath.Dir(path) == r.path && w.hasExtension(path) {
			return true
		}
	}
	return false
}

func (w *Watcher) hasExtension(path string) bool {
	lower := strings.ToLower(path)
	return slices.ContainsFunc(w.opts.extensions, func(ext string) bool {
		return strings.HasSuffix(lower, ext)
	})
}

// Watch returns a sequence of debounced events. The sequence ends when ctx
// is done or the consumer stops ranging. Each range starts a fresh
// notification backend, so a stopped watch can be ranged again.
func (w *Watcher) Watch(ctx context.Context) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		fw, err := fsnotify.NewWatcher()
		if err != nil {
			yield(Event{Time: time.Now(), Err: &Error{Err: err}})
			return
		}

		out := make(chan Event, w.opts.buffer)
		emit := func(ev Event) {
			select {
			case out <- ev:
			case <-ctx.Done():
			}
		}
		deb := newDebouncer(w.opts.debounce, func(path string, last time.Time, op Op) {
			emit(w.settle(path, last, op))
		})

		var wg sync.WaitGroup
		defer func() {
			cancel()
			deb.stop()
			wg.Wait()
			_ = fw.Close()
		}()

		for _, ev := range w.subscribe(fw) {
			if !yield(ev) {
				return
			}
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			w.pump(ctx, fw, deb, emit)
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-out:
				if !yield(ev) {
					return
				}
			}
		}
	}
}

// dirs returns the directories handed to the backend. Files are watched
// through their parent directory so editors that save by rename are seen.
func (w *Watcher) dirs() []string {
	var out []string
	for _, r := range w.roots {
		dir := r.path
		if !r.isDir {
			dir = filepath.Dir(r.path)
		}
		if !slices.Contains(out, dir) {
			out = append(out, dir)
		}
	}
	return out
}

// subscribe registers every watched directory with the backend.
func (w *Watcher) subscribe(fw *fsnotify.Watcher) []Event {
	var failed []Event
	for _, dir := range w.dirs() {
		if err := fw.Add(dir); err != nil {
			slogger().Warn("watch: subscribe failed", "path", dir, "err", err)
			failed = append(failed, Event{Path: dir, Time: time.Now(), Err: &Error{Path: dir, Err: err}})
			continue
		}
		slogger().Debug("watch: subscribed", "path", dir)
	}
	return failed
}

// resubscribe adds back directories the backend dropped after they were
// removed or renamed away. Files already present in a directory that came
// back are reported as created, since their creation was not observed.
func (w *Watcher) resubscribe(fw *fsnotify.Watcher, deb *debouncer) {
	active := fw.WatchList()
	for _, dir := range w.dirs() {
		if slices.Contains(active, dir) {
			continue
		}
		if err := fw.Add(dir); err != nil {
			continue
		}
		slogger().Info("watch: resubscribed", "path", dir)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		now := time.Now()
		for _, e := range entries {
			p := filepath.Join(dir, e.Name())
			if !e.IsDir() && w.Match(p) {
				deb.trigger(p, now, OpCreate)
			}
		}
	}
}

func (w *Watcher) pump(ctx context.Context, fw *fsnotify.Watcher, deb *debouncer, emit func(Event)) {
	retry := time.NewTicker(w.opts.debounce)
	defer retry.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-retry.C:
			w.resubscribe(fw, deb)
		case nev, ok := <-fw.Events:
			if !ok {
				return
			}
			path := filepath.Clean(nev.Name)
			if !w.Match(path) {
				continue
			}
			deb.trigger(path, time.Now(), fromNotify(nev.Op))
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			slogger().Warn("watch: backend error", "err", err)
			emit(Event{Time: time.Now(), Err: &Error{Err: err}})
		}
	}
}

// settle turns a finished burst into an event. The path is checked once so
// a burst ending in removal or lost permission reports an Error instead of
// a change.
func (w *Watcher) settle(path string, last time.Time, op Op) Event {
	ev := Event{Path: path, Time: last, Op: op}
	if err := reachable(path); err != nil {
		slogger().Warn("watch: path unreachable", "path", path, "op", op, "err", err)
		ev.Err = &Error{Path: path, Err: fmt.Errorf("%w: %w", ErrUnreachable, err)}
		return ev
	}
	slogger().Debug("watch: change", "path", path, "op", op)
	return ev
}

// reachable checks that path exists and can be opened without reading it.
func reachable(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	return f.Close()
}
