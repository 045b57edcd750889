package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	logx "paperevents/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
	keepRows   int
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("sqlite driver: %w", errNoPath)
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 100, keepRows: 5000}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) PutSlot(ctx context.Context, slot Slot) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if !validSlot(slot.Name) {
		return fmt.Errorf("%w: %q", ErrBadSlot, slot.Name)
	}
	if slot.SavedAt.IsZero() {
		slot.SavedAt = time.Now()
	}
	if slot.Data == nil {
		slot.Data = []byte{}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO slots(name, session, saved_at, data) VALUES(?,?,?,?)
		 ON CONFLICT(name) DO UPDATE SET session=excluded.session, saved_at=excluded.saved_at, data=excluded.data`,
		slot.Name, nullStr(slot.Session), slot.SavedAt.UnixMilli(), slot.Data,
	)
	return err
}

func (s *sqliteStore) GetSlot(ctx context.Context, name string) (Slot, bool, error) {
	if s == nil || s.db == nil {
		return Slot{}, false, ErrDisabled
	}
	if !validSlot(name) {
		return Slot{}, false, fmt.Errorf("%w: %q", ErrBadSlot, name)
	}
	var (
		session sql.NullString
		ms      int64
		data    []byte
	)
	err := s.db.QueryRowContext(ctx, `SELECT session, saved_at, data FROM slots WHERE name = ?`, name).Scan(&session, &ms, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return Slot{}, false, nil
	}
	if err != nil {
		return Slot{}, false, err
	}
	return Slot{Name: name, Session: session.String, SavedAt: time.UnixMilli(ms).UTC(), Data: data}, true, nil
}

func (s *sqliteStore) DeleteSlot(ctx context.Context, name string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if !validSlot(name) {
		return fmt.Errorf("%w: %q", ErrBadSlot, name)
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM slots WHERE name = ?`, name)
	return err
}

func (s *sqliteStore) ListSlots(ctx context.Context) ([]SlotInfo, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT name, session, saved_at, length(data) FROM slots ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SlotInfo
	for rows.Next() {
		var (
			info    SlotInfo
			session sql.NullString
			ms      int64
		)
		if err := rows.Scan(&info.Name, &session, &ms, &info.Size); err != nil {
			return nil, err
		}
		info.Session = session.String
		info.SavedAt = time.UnixMilli(ms).UTC()
		out = append(out, info)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendHistory(ctx context.Context, e HistoryEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history(at, op, slot, session, records, bytes, err, took_ms) VALUES(?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.Op, nullStr(e.Slot), nullStr(e.Session), e.Records, e.Bytes, nullStr(e.Error), e.TookMS,
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_ = s.pruneHistory(pctx)
		cancel()
	}
	return err
}

// pruneHistory keeps the newest keepRows entries.
func (s *sqliteStore) pruneHistory(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM history WHERE id <= (SELECT id FROM history ORDER BY id DESC LIMIT 1 OFFSET ?)`, s.keepRows)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
