package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelevant(t *testing.T) {
	tests := []struct {
		name  string
		event fsnotify.Event
		want  bool
	}{
		{"create markdown", fsnotify.Event{Name: "/kb/grove.md", Op: fsnotify.Create}, true},
		{"write json", fsnotify.Event{Name: "/kb/giants.json", Op: fsnotify.Write}, true},
		{"remove text", fsnotify.Event{Name: "/kb/notes.txt", Op: fsnotify.Remove}, true},
		{"rename", fsnotify.Event{Name: "/kb/old.md", Op: fsnotify.Rename}, true},
		{"write with chmod", fsnotify.Event{Name: "/kb/grove.md", Op: fsnotify.Write | fsnotify.Chmod}, true},
		{"chmod only", fsnotify.Event{Name: "/kb/grove.md", Op: fsnotify.Chmod}, false},
		{"hidden file", fsnotify.Event{Name: "/kb/.grove.md.swp", Op: fsnotify.Write}, false},
		{"unsupported extension", fsnotify.Event{Name: "/kb/map.png", Op: fsnotify.Create}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, relevant(tt.event))
		})
	}
}

func TestWatcher_DebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	var calls atomic.Int32
	fired := make(chan struct{}, 4)

	w, err := NewWithConfig(WatcherConfig{
		Dir:      dir,
		Debounce: 150 * time.Millisecond,
		OnChange: func(ctx context.Context) error {
			calls.Add(1)
			fired <- struct{}{}
			return nil
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	for _, name := range []string{"a.md", "b.md", "c.json"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("# Title\n\nbody"), 0644))
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for rebuild")
	}
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.png"), []byte{1}, 0644))
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcher_NewSubdirectory(t *testing.T) {
	dir := t.TempDir()
	fired := make(chan struct{}, 4)
	w, err := NewWithConfig(WatcherConfig{
		Dir:      dir,
		Debounce: 50 * time.Millisecond,
		OnChange: func(ctx context.Context) error {
			fired <- struct{}{}
			return nil
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	sub := filepath.Join(dir, "locations")
	require.NoError(t, os.Mkdir(sub, 0755))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "grymforge.md"), []byte("# Grymforge"), 0644))

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("change in new subdirectory not seen")
	}
}

func TestNewWithConfig_Errors(t *testing.T) {
	_, err := NewWithConfig(WatcherConfig{Dir: t.TempDir()})
	assert.Error(t, err)

	_, err = NewWithConfig(WatcherConfig{
		Dir:      filepath.Join(t.TempDir(), "missing"),
		OnChange: func(context.Context) error { return nil },
	})
	assert.Error(t, err)
}
