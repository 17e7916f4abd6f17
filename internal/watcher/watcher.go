// Package watcher ingests files dropped into a directory.
package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// DefaultDebounce is how long a path must be quiet before it is ingested.
const DefaultDebounce = 500 * time.Millisecond

// IngestFunc ingests the file at path.
type IngestFunc func(ctx context.Context, path string) error

// Watcher calls Ingest for every supported file created or written in Dir.
// Bursts of events for the same path collapse into one call.
type Watcher struct {
	Dir string
	// Formats are lower-case extensions without the dot, e.g. "pdf".
	Formats  []string
	Debounce time.Duration
	// Initial ingests files already present when Run starts.
	Initial bool
	Ingest  IngestFunc

	mu      sync.Mutex
	pending map[string]*time.Timer
	wg      sync.WaitGroup
}

// New returns a Watcher with the default debounce.
func New(dir string, formats []string, ingest IngestFunc) *Watcher {
	return &Watcher{Dir: dir, Formats: formats, Debounce: DefaultDebounce, Ingest: ingest}
}

// Run blocks until ctx is cancelled or the underlying watcher fails.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(w.Dir); err != nil {
		return err
	}
	log.Info().Str("dir", w.Dir).Strs("formats", w.Formats).Msg("watching directory")

	if w.Initial {
		w.scan(ctx)
	}

	defer w.stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return errors.New("watcher closed")
			}
			w.handle(ctx, ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return errors.New("watcher closed")
			}
			log.Warn().Err(err).Str("dir", w.Dir).Msg("watch error")
		}
	}
}

func (w *Watcher) scan(ctx context.Context) {
	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		log.Warn().Err(err).Str("dir", w.Dir).Msg("initial scan failed")
		return
	}
	for _, e := range entries {
		if e.Type().IsRegular() {
			w.handle(ctx, fsnotify.Event{Name: filepath.Join(w.Dir, e.Name()), Op: fsnotify.Create})
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	if !w.supported(ev.Name) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending == nil {
		w.pending = map[string]*time.Timer{}
	}
	if t, ok := w.pending[ev.Name]; ok && t.Stop() {
		w.wg.Done()
	}
	w.wg.Add(1)
	path := ev.Name
	var t *time.Timer
	t = time.AfterFunc(w.debounce(), func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.pending[path] == t {
			delete(w.pending, path)
		}
		w.mu.Unlock()
		w.fire(ctx, path)
	})
	w.pending[path] = t
}

func (w *Watcher) fire(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	st, err := os.Stat(path)
	if err != nil || !st.Mode().IsRegular() {
		return
	}
	lg := log.With().Str("path", path).Logger()
	if err := w.Ingest(lg.WithContext(ctx), path); err != nil {
		lg.Error().Err(err).Msg("ingest failed")
		return
	}
	lg.Info().Msg("ingested")
}

// stop cancels pending timers and waits for running ingests.
func (w *Watcher) stop() {
	w.mu.Lock()
	for p, t := range w.pending {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.pending, p)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Watcher) supported(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	return ext != "" && slices.Contains(w.Formats, ext)
}

func (w *Watcher) debounce() time.Duration {
	if w.Debounce <= 0 {
		return DefaultDebounce
	}
	return w.Debounce
}
