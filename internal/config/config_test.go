package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir string, doc map[string]interface{}) string {
	t.Helper()
	path := filepath.Join(dir, "ingestd.json")
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadParsesSymbolsPostgresAndBatchSize(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, map[string]interface{}{
		"Symbols":   []string{"btcusdt", "ethusdt"},
		"Postgres":  "postgres://localhost/trades",
		"BatchSize": 100,
	})

	w, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	cur := w.Current()
	if len(cur.Symbols) != 2 || cur.Postgres == "" || cur.BatchSize != 100 {
		t.Fatalf("unexpected config: %+v", cur)
	}
	if got := w.Symbols(); len(got) != 2 {
		t.Fatalf("want 2 symbols from ConfigReader.Symbols, got %v", got)
	}
	if w.Path() != path {
		t.Fatalf("want Path() == %s, got %s", path, w.Path())
	}
}

func TestRequireConnStringRejectsBlank(t *testing.T) {
	var c Config
	if _, err := c.RequireConnString(); err == nil {
		t.Fatalf("expected error for blank connection string")
	}
	c.Postgres = "postgres://localhost/trades"
	if s, err := c.RequireConnString(); err != nil || s == "" {
		t.Fatalf("expected non-blank connection string, got %q, err %v", s, err)
	}
}

func TestReloadNotifiesSubscribers(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, map[string]interface{}{
		"Symbols":   []string{"btcusdt"},
		"Postgres":  "postgres://localhost/trades",
		"BatchSize": 50,
	})

	w, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := w.Subscribe()

	writeConfig(t, dir, map[string]interface{}{
		"Symbols":   []string{"btcusdt", "ethusdt"},
		"Postgres":  "postgres://localhost/trades",
		"BatchSize": 50,
	})

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a notification after the config file changed")
	}
}
