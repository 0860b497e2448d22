package symbols

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type fakeConfig struct {
	symbols []string
	path    string
}

func (f *fakeConfig) Symbols() []string { return f.symbols }
func (f *fakeConfig) Path() string      { return f.path }

type fakeLookup struct {
	recognized map[string]struct{}
	err        error
	calls      int
}

func (f *fakeLookup) RecognizedSymbols(ctx context.Context) (map[string]struct{}, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.recognized, nil
}

func TestResolveFiltersInvalidFormatAndUnrecognized(t *testing.T) {
	cfg := &fakeConfig{symbols: []string{"btcusdt", "XYZ!", "eth"}}
	lookup := &fakeLookup{recognized: map[string]struct{}{"BTCUSDT": {}}}
	r := New(cfg, lookup)

	got := r.Resolve(context.Background())
	if _, ok := got["BTCUSDT"]; !ok || len(got) != 1 {
		t.Fatalf("want only BTCUSDT recognized, got %v", got)
	}
}

func TestResolveDegradesWhenReferenceEndpointUnreachable(t *testing.T) {
	cfg := &fakeConfig{symbols: []string{"btcusdt", "ethusdt"}}
	lookup := &fakeLookup{err: errors.New("network down")}
	r := New(cfg, lookup)

	got := r.Resolve(context.Background())
	if len(got) != 2 {
		t.Fatalf("degraded mode should keep all format-valid symbols, got %v", got)
	}
}

func TestResolveCachesRecognizedSetFor10Minutes(t *testing.T) {
	cfg := &fakeConfig{symbols: []string{"btcusdt"}}
	lookup := &fakeLookup{recognized: map[string]struct{}{"BTCUSDT": {}}}
	r := New(cfg, lookup)

	r.Resolve(context.Background())
	r.Resolve(context.Background())
	if lookup.calls != 1 {
		t.Fatalf("want cached reference lookup (1 call), got %d", lookup.calls)
	}
}

func TestCleanupRewritesConfigFileOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	initial := map[string]any{
		"Symbols":   []string{"btcusdt", "XYZ!", "eth"},
		"Postgres":  "postgres://x",
		"BatchSize": 100,
	}
	data, _ := json.Marshal(initial)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := &fakeConfig{symbols: []string{"btcusdt", "XYZ!", "eth"}, path: path}
	lookup := &fakeLookup{recognized: map[string]struct{}{"BTCUSDT": {}}}
	r := New(cfg, lookup)
	r.Resolve(context.Background())

	rewritten, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read rewritten config: %v", err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(rewritten, &doc); err != nil {
		t.Fatalf("unmarshal rewritten config: %v", err)
	}
	var syms []string
	if err := json.Unmarshal(doc["Symbols"], &syms); err != nil {
		t.Fatalf("unmarshal symbols: %v", err)
	}
	if len(syms) != 1 || syms[0] != "BTCUSDT" {
		t.Fatalf("want cleaned symbols [BTCUSDT], got %v", syms)
	}
	if _, ok := doc["Postgres"]; !ok {
		t.Fatalf("cleanup must preserve other keys")
	}
}
