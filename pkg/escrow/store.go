package escrow

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/crowdforge/escrow-engine/pkg/logging"
)

// SQLiteStore persists escrow snapshots, the payout-id index and the
// append-only event journal in a single embedded database. One Commit is
// one transaction.
type SQLiteStore struct {
	db     *sql.DB
	logger *logging.ColoredLogger
}

const storeSchema = `
CREATE TABLE IF NOT EXISTS escrows (
	id         TEXT PRIMARY KEY,
	status     INTEGER NOT NULL,
	snapshot   TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS payout_ids (
	escrow_id  TEXT NOT NULL,
	payout_id  TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (escrow_id, payout_id)
);
CREATE TABLE IF NOT EXISTS events (
	seq       INTEGER PRIMARY KEY,
	escrow_id TEXT NOT NULL,
	name      TEXT NOT NULL,
	at        TEXT NOT NULL,
	data      TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_escrow ON events(escrow_id, seq);
`

// OpenSQLiteStore opens (or creates) the store at path.
func OpenSQLiteStore(logger *logging.ColoredLogger, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", path, err)
	}
	if _, err := db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply store schema: %w", err)
	}

	logger.ComponentInfo(logging.ComponentStore, "store opened", zap.String("path", path))
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Commit implements Store.
func (s *SQLiteStore) Commit(snapshot *Escrow, payoutID string, events []Event) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to serialize escrow %s: %w", snapshot.ID, err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin store transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)

	if _, err := tx.Exec(
		`INSERT INTO escrows(id, status, snapshot, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status=excluded.status, snapshot=excluded.snapshot, updated_at=excluded.updated_at`,
		snapshot.ID, int(snapshot.Status), string(raw), now,
	); err != nil {
		return fmt.Errorf("failed to upsert escrow %s: %w", snapshot.ID, err)
	}

	if payoutID != "" {
		if _, err := tx.Exec(
			`INSERT INTO payout_ids(escrow_id, payout_id, created_at) VALUES (?, ?, ?)`,
			snapshot.ID, payoutID, now,
		); err != nil {
			return fmt.Errorf("failed to record payout id %s: %w", payoutID, err)
		}
	}

	for _, ev := range events {
		var data []byte
		if ev.Data != nil {
			if data, err = json.Marshal(ev.Data); err != nil {
				return fmt.Errorf("failed to serialize event %d: %w", ev.Seq, err)
			}
		}
		if _, err := tx.Exec(
			`INSERT INTO events(seq, escrow_id, name, at, data) VALUES (?, ?, ?, ?, ?)`,
			ev.Seq, ev.EscrowID, string(ev.Name), ev.At.Format(time.RFC3339Nano), string(data),
		); err != nil {
			return fmt.Errorf("failed to journal event %d: %w", ev.Seq, err)
		}
	}

	return tx.Commit()
}

// Load implements Store.
func (s *SQLiteStore) Load() ([]*Escrow, map[string][]string, uint64, error) {
	rows, err := s.db.Query(`SELECT snapshot FROM escrows`)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("failed to load escrows: %w", err)
	}
	defer rows.Close()

	var escrows []*Escrow
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, nil, 0, err
		}
		var e Escrow
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, nil, 0, fmt.Errorf("failed to decode escrow snapshot: %w", err)
		}
		escrows = append(escrows, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, 0, err
	}

	payoutIDs := make(map[string][]string)
	idRows, err := s.db.Query(`SELECT escrow_id, payout_id FROM payout_ids`)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("failed to load payout ids: %w", err)
	}
	defer idRows.Close()
	for idRows.Next() {
		var escrowID, payoutID string
		if err := idRows.Scan(&escrowID, &payoutID); err != nil {
			return nil, nil, 0, err
		}
		payoutIDs[escrowID] = append(payoutIDs[escrowID], payoutID)
	}
	if err := idRows.Err(); err != nil {
		return nil, nil, 0, err
	}

	var lastSeq sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(seq) FROM events`).Scan(&lastSeq); err != nil {
		return nil, nil, 0, fmt.Errorf("failed to load event sequence: %w", err)
	}

	return escrows, payoutIDs, uint64(lastSeq.Int64), nil
}

// EventsSince returns up to limit journaled events with seq > after, in
// sequence order. Used by the gateway feed to replay the journal tail.
func (s *SQLiteStore) EventsSince(after uint64, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT seq, escrow_id, name, at, data FROM events WHERE seq > ? ORDER BY seq LIMIT ?`,
		after, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read event journal: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev   Event
			name string
			at   string
			data sql.NullString
		)
		if err := rows.Scan(&ev.Seq, &ev.EscrowID, &name, &at, &data); err != nil {
			return nil, err
		}
		ev.Name = EventName(name)
		if ev.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("failed to parse event timestamp: %w", err)
		}
		if data.Valid && data.String != "" {
			if err := json.Unmarshal([]byte(data.String), &ev.Data); err != nil {
				return nil, fmt.Errorf("failed to decode event data: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
