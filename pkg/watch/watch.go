// Package watch reloads a dataset when its file changes.
//
// A Watcher observes the directory holding one dataset file, so editors and
// tools that replace the file through a rename are seen as well as in-place
// writes. Bursts of events are coalesced: the handler runs once the file has
// been quiet for the debounce window. Handlers run one at a time on the
// watcher goroutine, so a slow reload delays the next one instead of
// overlapping it.
//
// Example:
//
//	w, err := watch.New("web-Google.txt", func(ctx context.Context, path string) {
//		eng.LoadDataset(ctx, path)
//	}, watch.Options{Logger: logger})
//	if err != nil {
//		return err
//	}
//	if err := w.Start(ctx); err != nil {
//		return err
//	}
//	defer w.Stop()
package watch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is the quiet period used when Options.Debounce is zero.
const DefaultDebounce = 250 * time.Millisecond

// ErrStopped is returned by Start after Stop.
var ErrStopped = errors.New("watcher stopped")

// Handler is invoked with the absolute dataset path after a change settles.
type Handler func(ctx context.Context, path string)

// Options configures a Watcher.
type Options struct {
	// Debounce is how long the file must stay quiet before the handler runs.
	Debounce time.Duration
	Logger   *zap.Logger
}

// Watcher triggers a Handler when one file changes.
type Watcher struct {
	path     string
	handler  Handler
	debounce time.Duration
	log      *zap.Logger

	fsw      *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
}

// New creates a Watcher for path. Watching starts with Start.
func New(path string, handler Handler, opts Options) (*Watcher, error) {
	if handler == nil {
		return nil, fmt.Errorf("watch: nil handler")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("watch: resolving %s: %w", path, err)
	}

	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Watcher{
		path:     abs,
		handler:  handler,
		debounce: debounce,
		log:      logger.Named("watch"),
		done:     make(chan struct{}),
	}, nil
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string { return w.path }

// Start begins watching. It returns once the directory watch is in place;
// events are processed until ctx is done or Stop is called. Calling Start
// on a running watcher is a no-op.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return ErrStopped
	}
	if w.started {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return fmt.Errorf("watch: adding %s: %w", filepath.Dir(w.path), err)
	}
	w.fsw = fsw
	w.started = true

	w.wg.Add(1)
	go w.run(ctx)

	w.log.Info("watching dataset", zap.String("path", w.path), zap.Duration("debounce", w.debounce))
	return nil
}

// Stop ends watching and waits for a running handler to return. It is safe
// to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.stopped = true
		w.mu.Unlock()

		close(w.done)
		w.wg.Wait()
		if w.fsw == nil {
			return
		}
		if err := w.fsw.Close(); err != nil {
			w.log.Warn("closing watcher", zap.Error(err))
		}
	})
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()

	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		pending int
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			switch {
			case event.Has(fsnotify.Write), event.Has(fsnotify.Create):
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				// a replacement shows up as a later Create
				w.log.Debug("dataset moved away", zap.String("path", w.path), zap.Stringer("op", event.Op))
				continue
			default:
				continue
			}

			pending++
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			w.log.Debug("dataset changed", zap.String("path", w.path), zap.Int("events", pending))
			pending = 0
			w.handler(ctx, w.path)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", zap.String("path", w.path), zap.Error(err))
		}
	}
}
