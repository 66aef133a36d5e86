package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/momentics/netengine/config"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netengine.conf")
	if err := os.WriteFile(path, []byte("log.level=INFO\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	s := config.New()
	w, err := config.NewWatcher(s, path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	v, ok := s.Get("log.level")
	if !ok || v != "INFO" {
		t.Fatalf("expected initial load log.level=INFO, got %q, ok=%v", v, ok)
	}

	if err := os.WriteFile(path, []byte("log.level=DEBUG\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if v, _ := s.Get("log.level"); v == "DEBUG" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("watcher never picked up the rewritten config file")
}
