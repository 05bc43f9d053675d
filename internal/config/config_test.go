package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

const minimalJSON = `{
  "default_stop_loss": 0.20,
  "vix_stop_losses": {"ELEVATED": 0.15, "HIGH": 0.10},
  "position_stop_losses": {"TSLA": {"threshold": 0.25}},
  "defensive_stop_loss": 0.08
}`

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadThenStopLossForPriority(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, minimalJSON)
	st := New(path, zap.NewNop())
	p, err := st.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := p.StopLossFor("TSLA", "NORMAL", false); got != 0.25 {
		t.Fatalf("expected per-ticker override 0.25, got %v", got)
	}
	if got := p.StopLossFor("AAPL", "NORMAL", true); got != 0.08 {
		t.Fatalf("expected defensive floor 0.08, got %v", got)
	}
	if got := p.StopLossFor("AAPL", "ELEVATED", false); got != 0.15 {
		t.Fatalf("expected regime entry 0.15, got %v", got)
	}
	if got := p.StopLossFor("AAPL", "CALM", false); got != 0.20 {
		t.Fatalf("expected default 0.20, got %v", got)
	}
}

func TestMaybeReloadOnlyOnMtimeChange(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, minimalJSON)
	st := New(path, zap.NewNop())
	if _, err := st.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if _, reloaded := st.MaybeReload(); reloaded {
		t.Fatal("expected no reload when the file is untouched")
	}

	// Force a distinct mtime: some filesystems have coarse mtime
	// resolution, so move the rewritten file's mtime a minute ahead.
	writeConfig(t, dir, `{"default_stop_loss": 0.30}`)
	future := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	p, reloaded := st.MaybeReload()
	if !reloaded {
		t.Fatal("expected reload after mtime change")
	}
	if p.DefaultStopLoss != 0.30 {
		t.Fatalf("expected reloaded value 0.30, got %v", p.DefaultStopLoss)
	}
}

func TestMaybeReloadRetainsOnParseFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, minimalJSON)
	st := New(path, zap.NewNop())
	if _, err := st.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	past := time.Now().Add(-time.Minute)
	if err := os.Chtimes(path, past, past); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	p, reloaded := st.MaybeReload()
	if reloaded {
		t.Fatal("expected reloaded=false on parse failure")
	}
	if p.DefaultStopLoss != 0.20 {
		t.Fatalf("expected previous config retained, got %v", p.DefaultStopLoss)
	}
}

func TestLoadFailsOnMissingFile(t *testing.T) {
	st := New(filepath.Join(t.TempDir(), "absent.json"), zap.NewNop())
	if _, err := st.Load(); err == nil {
		t.Fatal("expected error loading a missing config file")
	}
}
