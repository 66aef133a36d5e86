package dbqueue

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWALWritePendingThenWriteDoneLeavesNothingToRecover(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.wal")
	w := newWAL(path, nil)
	seq := w.nextSeq()
	w.writePending(Task{Type: UpdatePlayerData, SessionID: 5, Data: "a|b"}, seq)
	w.writeDone(seq)
	w.close()

	w2 := newWAL(path, nil)
	entries := w2.recover()
	if len(entries) != 0 {
		t.Fatalf("expected no pending entries, got %d", len(entries))
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected WAL file removed after clean recovery, stat err=%v", err)
	}
}

func TestWALEscapesPipeInData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.wal")
	w := newWAL(path, nil)
	seq := w.nextSeq()
	w.writePending(Task{Type: UpdatePlayerData, SessionID: 1, Data: "a|b|c"}, seq)
	w.close()

	w2 := newWAL(path, nil)
	entries := w2.recover()
	if len(entries) != 1 {
		t.Fatalf("expected 1 pending entry, got %d", len(entries))
	}
	if entries[0].data != "a|b|c" {
		t.Fatalf("expected round-tripped data %q, got %q", "a|b|c", entries[0].data)
	}
}

func TestWALRecoverIsNoOpWhenFileAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.wal")
	w := newWAL(path, nil)
	if entries := w.recover(); entries != nil {
		t.Fatalf("expected nil entries for absent WAL, got %v", entries)
	}
}
