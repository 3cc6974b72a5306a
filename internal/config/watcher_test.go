package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, path, addr string) {
	t.Helper()
	yaml := `
server:
  addr: "` + addr + `"
auth: {secret: watcher-secret}
routes:
  - pattern: /api/products
    methods: {GET: [public]}
    service: catalog
services:
  catalog: {url: http://catalog:8081}
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	writeConfig(t, path, ":8080")

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	}, WithDebounceDelay(20*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.Start())
	t.Cleanup(func() { _ = w.Stop() })

	writeConfig(t, path, ":9999")

	select {
	case cfg := <-reloaded:
		assert.Equal(t, ":9999", cfg.Server.Addr)
	case <-time.After(3 * time.Second):
		t.Fatal("reload callback not invoked")
	}
}

func TestWatcher_InvalidChangeReportsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	writeConfig(t, path, ":8080")

	errs := make(chan error, 1)
	w, err := NewWatcher(path, func(*Config) {
		t.Error("reload callback must not run for invalid config")
	},
		WithDebounceDelay(20*time.Millisecond),
		WithErrorCallback(func(err error) {
			select {
			case errs <- err:
			default:
			}
		}),
	)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	t.Cleanup(func() { _ = w.Stop() })

	require.NoError(t, os.WriteFile(path, []byte("routes: ["), 0o600))

	select {
	case err := <-errs:
		assert.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("error callback not invoked")
	}
}
