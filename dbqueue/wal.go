// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
package dbqueue

import (
	"bufio"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/momentics/netengine/netlog"
)

// walEscape and walUnescape substitute '\x01' for '|' in the data field so
// a literal '|' inside task data can never be mistaken for a field
// separator, per original_source's WalWritePending escaping.
func walEscape(s string) string   { return strings.ReplaceAll(s, "|", "\x01") }
func walUnescape(s string) string { return strings.ReplaceAll(s, "\x01", "|") }

// walEntry is a recovered pending task, keyed by sequence number so replay
// order is deterministic.
type walEntry struct {
	typ       TaskType
	sessionID SessionID
	data      string
}

// wal is a write-ahead log of pending DB tasks: one line per event,
// "P|<type>|<sessionId>|<seq>|<data>" for pending and "D|<seq>" for done.
// Grounded on DBTaskQueue.cpp's WalWritePending/WalWriteDone/WalRecover.
type wal struct {
	path string
	log  *netlog.Logger

	mu   sync.Mutex
	file *os.File

	seq atomic.Uint64
}

func newWAL(path string, log *netlog.Logger) *wal {
	if log == nil {
		log = netlog.Default
	}
	return &wal{path: path, log: log}
}

// nextSeq returns a fresh, monotonically increasing sequence number.
func (w *wal) nextSeq() uint64 {
	return w.seq.Add(1)
}

func (w *wal) ensureOpen() error {
	if w.file != nil {
		return nil
	}
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w.file = f
	return nil
}

// writePending appends a "P" record before the task is queued, so a crash
// before successful processing is still recoverable on restart.
func (w *wal) writePending(t Task, seq uint64) {
	if w.path == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensureOpen(); err != nil {
		w.log.Warnf("wal: failed to open %s: %v", w.path, err)
		return
	}
	line := "P|" + strconv.Itoa(int(t.Type)) + "|" +
		strconv.FormatUint(uint64(t.SessionID), 10) + "|" +
		strconv.FormatUint(seq, 10) + "|" +
		walEscape(t.Data) + "\n"
	if _, err := w.file.WriteString(line); err != nil {
		w.log.Warnf("wal: write pending failed: %v", err)
		return
	}
	_ = w.file.Sync()
}

// writeDone appends a "D" record once a task has been processed
// successfully, marking it as no longer subject to replay.
func (w *wal) writeDone(seq uint64) {
	if w.path == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensureOpen(); err != nil {
		return
	}
	line := "D|" + strconv.FormatUint(seq, 10) + "\n"
	if _, err := w.file.WriteString(line); err != nil {
		w.log.Warnf("wal: write done failed: %v", err)
		return
	}
	_ = w.file.Sync()
}

func (w *wal) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
}

// parseWALFile reads one WAL file (primary or .bak) into pending, tracking
// the highest sequence number seen across P and D lines so post-recovery
// numbering stays monotonic. Missing files are silently skipped.
func parseWALFile(path string, pending map[uint64]walEntry) (maxSeq uint64) {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "|", 5)
		switch fields[0] {
		case "P":
			if len(fields) < 5 {
				continue
			}
			typeInt, err := strconv.Atoi(fields[1])
			if err != nil {
				continue
			}
			sid, err := strconv.ParseUint(fields[2], 10, 64)
			if err != nil {
				continue
			}
			seq, err := strconv.ParseUint(fields[3], 10, 64)
			if err != nil {
				continue
			}
			if seq > maxSeq {
				maxSeq = seq
			}
			pending[seq] = walEntry{
				typ:       TaskType(typeInt),
				sessionID: SessionID(sid),
				data:      walUnescape(fields[4]),
			}
		case "D":
			if len(fields) < 2 {
				continue
			}
			seq, err := strconv.ParseUint(fields[1], 10, 64)
			if err != nil {
				continue
			}
			if seq > maxSeq {
				maxSeq = seq
			}
			delete(pending, seq)
		}
	}
	return maxSeq
}

// recover reads the primary WAL and its .bak (if a prior recovery crashed
// mid-flight), merges surviving "P" entries not yet marked "D", then
// atomically rotates the log: rename primary -> .bak, re-enqueue every
// pending entry (which re-writes fresh "P" records to a new primary file),
// then delete the backup. Returns entries in ascending sequence order.
//
// This exact rename-then-replay-then-delete sequence, including the
// cross-device rename fallback, is carried over from WalRecover.
func (w *wal) recover() []walEntry {
	if w.path == "" {
		return nil
	}

	pending := make(map[uint64]walEntry)
	maxA := parseWALFile(w.path, pending)
	maxB := parseWALFile(w.path+".bak", pending)
	maxSeq := maxA
	if maxB > maxSeq {
		maxSeq = maxB
	}

	if len(pending) == 0 && maxSeq == 0 {
		return nil // no WAL present at all: clean startup
	}
	w.seq.Store(maxSeq)

	if len(pending) == 0 {
		_ = os.Remove(w.path)
		_ = os.Remove(w.path + ".bak")
		w.log.Infof("wal: clean startup, no pending tasks")
		return nil
	}

	w.log.Warnf("wal: recovering %d unfinished task(s) from previous crash", len(pending))

	backupPath := w.path + ".bak"
	_ = os.Remove(backupPath) // drop a stale backup from an interrupted prior recovery

	if err := os.Rename(w.path, backupPath); err != nil {
		w.log.Warnf("wal: rename to backup failed (%v), falling back to delete-first recovery", err)
		_ = os.Remove(w.path)
	}

	seqs := make([]uint64, 0, len(pending))
	for seq := range pending {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	out := make([]walEntry, 0, len(seqs))
	for _, seq := range seqs {
		out = append(out, pending[seq])
	}

	// The backup is removed by the caller once every recovered entry has
	// been successfully re-enqueued (and thus re-written to the fresh
	// primary file) — see Queue.Initialize.
	return out
}

// finishRecovery deletes the backup file left behind by recover, once all
// recovered entries have fresh WAL records in the primary file.
func (w *wal) finishRecovery() {
	_ = os.Remove(w.path + ".bak")
}
