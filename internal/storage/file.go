package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logx "paperevents/pkg/logx"
)

// fileStore keeps slots as plain files.
//
// Files:
//   - <prefix>.slots/<name>.cosave   (slot payload, replaced atomically)
//   - <prefix>.index.snapshot.json   (slot metadata snapshot)
//   - <prefix>.index.journal.jsonl   (append-only metadata journal)
//   - <prefix>.history.jsonl         (append-only operation history)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	slotDir      string
	snapshotPath string
	journalFile  *os.File
	historyFile  *os.File
	index        map[string]SlotInfo

	journalWrites int
}

// indexRecord is one journal line. Deleted marks a removed slot.
type indexRecord struct {
	SlotInfo
	Deleted bool `json:"deleted,omitempty"`
}

const compactEvery = 200

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("file driver: %w", errNoPath)
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	slotDir := prefix + ".slots"
	if err := os.MkdirAll(slotDir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".index.snapshot.json"
	journalPath := prefix + ".index.journal.jsonl"

	index := map[string]SlotInfo{}
	if err := loadIndexSnapshot(snapPath, index); err != nil && !os.IsNotExist(err) {
		log.Warn("slot index snapshot unreadable", logx.String("path", snapPath), logx.Err(err))
	}
	if err := replayIndexJournal(journalPath, index); err != nil && !os.IsNotExist(err) {
		log.Warn("slot index journal unreadable", logx.String("path", journalPath), logx.Err(err))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	hf, err := os.OpenFile(prefix+".history.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = jf.Close()
		return nil, err
	}

	return &fileStore{
		log:          log,
		slotDir:      slotDir,
		snapshotPath: snapPath,
		journalFile:  jf,
		historyFile:  hf,
		index:        index,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.journalFile != nil {
		err1 = s.journalFile.Close()
		s.journalFile = nil
	}
	if s.historyFile != nil {
		err2 = s.historyFile.Close()
		s.historyFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) slotPath(name string) string {
	return filepath.Join(s.slotDir, name+".cosave")
}

func (s *fileStore) PutSlot(ctx context.Context, slot Slot) error {
	_ = ctx
	if !validSlot(slot.Name) {
		return fmt.Errorf("%w: %q", ErrBadSlot, slot.Name)
	}
	if slot.SavedAt.IsZero() {
		slot.SavedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return ErrClosed
	}
	if err := writeFileAtomic(s.slotPath(slot.Name), slot.Data); err != nil {
		return err
	}
	info := SlotInfo{Name: slot.Name, Session: slot.Session, SavedAt: slot.SavedAt.UTC(), Size: len(slot.Data)}
	s.index[slot.Name] = info
	return s.journalLocked(indexRecord{SlotInfo: info})
}

func (s *fileStore) GetSlot(ctx context.Context, name string) (Slot, bool, error) {
	_ = ctx
	if !validSlot(name) {
		return Slot{}, false, fmt.Errorf("%w: %q", ErrBadSlot, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return Slot{}, false, ErrClosed
	}
	info, ok := s.index[name]
	if !ok {
		return Slot{}, false, nil
	}
	data, err := os.ReadFile(s.slotPath(name))
	if os.IsNotExist(err) {
		// Index and payload disagree; trust the payload.
		return Slot{}, false, nil
	}
	if err != nil {
		return Slot{}, false, err
	}
	return Slot{Name: name, Session: info.Session, SavedAt: info.SavedAt, Data: data}, true, nil
}

func (s *fileStore) DeleteSlot(ctx context.Context, name string) error {
	_ = ctx
	if !validSlot(name) {
		return fmt.Errorf("%w: %q", ErrBadSlot, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return ErrClosed
	}
	if _, ok := s.index[name]; !ok {
		return nil
	}
	if err := os.Remove(s.slotPath(name)); err != nil && !os.IsNotExist(err) {
		return err
	}
	delete(s.index, name)
	return s.journalLocked(indexRecord{SlotInfo: SlotInfo{Name: name}, Deleted: true})
}

func (s *fileStore) ListSlots(ctx context.Context) ([]SlotInfo, error) {
	_ = ctx
	s.mu.Lock()
	out := make([]SlotInfo, 0, len(s.index))
	for _, info := range s.index {
		out = append(out, info)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *fileStore) AppendHistory(ctx context.Context, e HistoryEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.historyFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.historyFile).Encode(e)
}

func (s *fileStore) journalLocked(r indexRecord) error {
	if err := json.NewEncoder(s.journalFile).Encode(r); err != nil {
		return err
	}
	s.journalWrites++
	if s.journalWrites%compactEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("slot index compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	b, err := json.Marshal(s.index)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.snapshotPath, b); err != nil {
		return err
	}
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func loadIndexSnapshot(path string, out map[string]SlotInfo) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]SlotInfo
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayIndexJournal(path string, out map[string]SlotInfo) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r indexRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if r.Name == "" {
			continue
		}
		if r.Deleted {
			delete(out, r.Name)
			continue
		}
		out[r.Name] = r.SlotInfo
	}
	return sc.Err()
}
