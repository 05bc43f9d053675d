package state

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

type record struct {
	Value int `json:"value"`
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := New(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return st
}

func TestWriteAtomicThenRead(t *testing.T) {
	st := newTestStore(t)
	if err := st.WriteAtomic("rec.json", record{Value: 7}); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}
	var got record
	if err := st.Read("rec.json", &got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Value != 7 {
		t.Fatalf("got %d, want 7", got.Value)
	}
}

func TestReadMissingFileIsZeroValue(t *testing.T) {
	st := newTestStore(t)
	var got record
	if err := st.Read("absent.json", &got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Value != 0 {
		t.Fatalf("expected zero value, got %+v", got)
	}
}

func TestReadCorruptFileFallsBackToZeroValue(t *testing.T) {
	st := newTestStore(t)
	if err := st.WriteAtomic("rec.json", record{Value: 9}); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}
	// Corrupt the file directly, bypassing WriteAtomic.
	path := filepath.Join(st.dir, "rec.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	var got record
	if err := st.Read("rec.json", &got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Value != 0 {
		t.Fatalf("expected zero value on corrupt file, got %+v", got)
	}
}

func TestRemoveMissingFileIsNotAnError(t *testing.T) {
	st := newTestStore(t)
	if err := st.Remove("absent.json"); err != nil {
		t.Fatalf("Remove on missing file should be a no-op: %v", err)
	}
}

func TestExists(t *testing.T) {
	st := newTestStore(t)
	if st.Exists("rec.json") {
		t.Fatal("expected not to exist before write")
	}
	if err := st.WriteAtomic("rec.json", record{Value: 1}); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}
	if !st.Exists("rec.json") {
		t.Fatal("expected to exist after write")
	}
	if err := st.Remove("rec.json"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if st.Exists("rec.json") {
		t.Fatal("expected not to exist after remove")
	}
}
