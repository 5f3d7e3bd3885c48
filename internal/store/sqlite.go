package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is the durable Store. WAL mode so reads (history, contacts) never
// block the relay's appends.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
		PRAGMA foreign_keys = ON;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id    INTEGER PRIMARY KEY AUTOINCREMENT,
			name  TEXT NOT NULL,
			text  TEXT NOT NULL,
			room  TEXT NOT NULL DEFAULT '',
			ts    INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_room_ts ON messages(room, ts);

		CREATE TABLE IF NOT EXISTS contacts (
			owner_id   TEXT NOT NULL,
			name       TEXT NOT NULL DEFAULT '',
			contact_id TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (owner_id, name, contact_id)
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) AppendMessage(ctx context.Context, m Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages(name, text, room, ts) VALUES(?, ?, ?, ?)`,
		m.Name, m.Text, m.Room, m.TS.UnixMilli())
	return err
}

func (s *SQLite) QueryMessages(ctx context.Context, room string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	// Newest window, returned oldest first.
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, text, room, ts FROM (
			SELECT id, name, text, room, ts FROM messages
			WHERE room = ? ORDER BY ts DESC, id DESC LIMIT ?
		) ORDER BY ts ASC, id ASC`,
		room, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var m Message
		var ts int64
		if err := rows.Scan(&m.Name, &m.Text, &m.Room, &ts); err != nil {
			return nil, err
		}
		m.TS = time.UnixMilli(ts)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLite) UpsertContact(ctx context.Context, c Contact) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO contacts(owner_id, name, contact_id) VALUES(?, ?, ?)`,
		c.OwnerID, c.Name, c.ContactID)
	return err
}

func (s *SQLite) ListContacts(ctx context.Context, ownerID string) ([]Contact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT owner_id, name, contact_id FROM contacts WHERE owner_id = ? ORDER BY name, contact_id`,
		ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.OwnerID, &c.Name, &c.ContactID); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLite) DeleteContact(ctx context.Context, ownerID, nameOrID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM contacts WHERE owner_id = ? AND (name = ? OR contact_id = ?)`,
		ownerID, nameOrID, nameOrID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) Close() error { return s.db.Close() }
