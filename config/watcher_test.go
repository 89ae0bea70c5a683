package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeWatcherConfig(t *testing.T, path string, weight float64) {
	t.Helper()
	content := `
retrieval:
  vector_weight: ` + formatFloat(weight) + `
  precision_filtering: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func formatFloat(f float64) string {
	if f == 0.7 {
		return "0.7"
	}
	if f == 0.3 {
		return "0.3"
	}
	return "0.5"
}

func TestWatcherRequiresPathAndCell(t *testing.T) {
	_, err := NewWatcher("", nil)
	assert.Error(t, err)

	tun := &Tunables{}
	tun.Store(0.7, 0)
	_, err = NewWatcher("", tun)
	assert.Error(t, err)
}

func TestWatcherHotSwapsTunables(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recall.yaml")
	writeWatcherConfig(t, path, 0.7)

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	tun := NewTunables(&cfg.Retrieval)
	swapped := make(chan TunableValues, 1)

	w, err := NewWatcher(path, tun,
		WithDebounce(50*time.Millisecond),
		WithSwapCallback(func(old, updated TunableValues) {
			swapped <- updated
		}),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Watch(ctx) }()
	defer func() { _ = w.Stop() }()

	// Give the watcher time to register before modifying the file.
	time.Sleep(100 * time.Millisecond)
	writeWatcherConfig(t, path, 0.3)

	select {
	case v := <-swapped:
		assert.Equal(t, 0.3, v.VectorWeight)
		assert.Equal(t, 0.3, tun.Load().VectorWeight)
	case <-time.After(3 * time.Second):
		t.Fatal("tunables were not swapped after config change")
	}
}
