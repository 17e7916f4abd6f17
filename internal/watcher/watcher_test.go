package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) ingest(ctx context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	return nil
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func TestSupported(t *testing.T) {
	w := New(t.TempDir(), []string{"pdf", "txt"}, nil)
	assert.True(t, w.supported("/x/a.pdf"))
	assert.True(t, w.supported("/x/A.TXT"))
	assert.False(t, w.supported("/x/a.docx"))
	assert.False(t, w.supported("/x/noext"))
	assert.False(t, w.supported("/x/.hidden.txt"))
}

func TestHandle_DebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))

	rec := &recorder{}
	w := New(dir, []string{"txt"}, rec.ingest)
	w.Debounce = 20 * time.Millisecond

	ctx := context.Background()
	w.handle(ctx, fsnotify.Event{Name: p, Op: fsnotify.Create})
	w.handle(ctx, fsnotify.Event{Name: p, Op: fsnotify.Write})
	w.handle(ctx, fsnotify.Event{Name: p, Op: fsnotify.Write})
	w.handle(ctx, fsnotify.Event{Name: p, Op: fsnotify.Remove})
	w.handle(ctx, fsnotify.Event{Name: filepath.Join(dir, "b.bin"), Op: fsnotify.Create})

	assert.Eventually(t, func() bool { return len(rec.got()) == 1 }, time.Second, 5*time.Millisecond)
	w.stop()
	assert.Equal(t, []string{p}, rec.got())
}

func TestFire_SkipsVanishedFiles(t *testing.T) {
	rec := &recorder{}
	w := New(t.TempDir(), []string{"txt"}, rec.ingest)
	w.fire(context.Background(), filepath.Join(w.Dir, "gone.txt"))
	assert.Empty(t, rec.got())
}

func TestRun_IngestsNewAndExistingFiles(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "old.md")
	require.NoError(t, os.WriteFile(existing, []byte("old"), 0o644))

	rec := &recorder{}
	w := New(dir, []string{"md", "txt"}, rec.ingest)
	w.Debounce = 20 * time.Millisecond
	w.Initial = true

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	assert.Eventually(t, func() bool { return len(rec.got()) == 1 }, 2*time.Second, 10*time.Millisecond)

	fresh := filepath.Join(dir, "new.txt")
	require.NoError(t, os.WriteFile(fresh, []byte("new"), 0o644))
	assert.Eventually(t, func() bool { return len(rec.got()) == 2 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.ElementsMatch(t, []string{existing, fresh}, rec.got())
}
