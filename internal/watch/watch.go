// Package watch triggers a model hot-reload when the checkpoint file on
// disk changes, using an fsnotify watch on the checkpoint's directory plus
// a debounce timer, the pattern of an incremental file-index watcher.
package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tejas242/vellum/internal/engine"
)

// debounce absorbs the burst of write events a single checkpoint save
// produces.
const debounce = 500 * time.Millisecond

// Reloader owns a live *engine.Handle and swaps it for a freshly loaded one
// when told to reload, keeping the superseded handle alive until every
// session still bound to it has drained.
type Reloader struct {
	eng  *engine.Engine
	opts engine.ModelOptions

	mu      sync.Mutex
	current *engine.Handle
}

// NewReloader loads opts once and wraps the resulting handle.
func NewReloader(eng *engine.Engine, opts engine.ModelOptions) (*Reloader, error) {
	h, err := eng.Load(opts)
	if err != nil {
		return nil, fmt.Errorf("watch: initial load: %w", err)
	}
	return &Reloader{eng: eng, opts: opts, current: h}, nil
}

// Current returns the handle callers should be stepping right now.
func (r *Reloader) Current() *engine.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Reload loads a fresh handle from the same options and publishes it as
// Current, then drains and closes the superseded handle in the background
// once its last session has finished.
func (r *Reloader) Reload() error {
	next, err := r.eng.Load(r.opts)
	if err != nil {
		return fmt.Errorf("watch: reload: %w", err)
	}

	r.mu.Lock()
	old := r.current
	r.current = next
	r.mu.Unlock()

	go drainAndClose(old)
	return nil
}

func drainAndClose(h *engine.Handle) {
	for h.Live() > 0 {
		time.Sleep(50 * time.Millisecond)
	}
	if err := h.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "[watch] close superseded model %s: %v\n", h.Name(), err)
	}
}

// Watcher watches the directory containing a checkpoint file and calls
// Reload whenever that file is written or recreated.
type Watcher struct {
	fw             *fsnotify.Watcher
	checkpointPath string
	reloader       *Reloader
}

// New watches checkpointPath's directory for changes to that file.
func New(checkpointPath string, reloader *Reloader) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}
	dir := filepath.Dir(checkpointPath)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &Watcher{fw: fw, checkpointPath: checkpointPath, reloader: reloader}, nil
}

// Watch blocks, reloading the model on every debounced write/create event
// for the checkpoint file, until done is closed.
func (w *Watcher) Watch(done <-chan struct{}) error {
	target := filepath.Clean(w.checkpointPath)
	var timer *time.Timer

	for {
		select {
		case <-done:
			return w.fw.Close()

		case event, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				fmt.Fprintf(os.Stderr, "[watch] reloading %s\n", w.checkpointPath)
				if err := w.reloader.Reload(); err != nil {
					fmt.Fprintf(os.Stderr, "[watch] reload error: %v\n", err)
				}
			})

		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "[watch] error: %v\n", err)
		}
	}
}
