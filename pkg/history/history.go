// Package history keeps a per-agent SQLite archive of delivered mail.
// Inbox messages are deleted on delivery, so this is the only place past
// conversations survive. The database is private to one agent (single
// writer, no lock protocol) and entirely best-effort: a missing or broken
// archive never affects delivery.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"pimsg/pkg/protocol"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	sender TEXT NOT NULL,
	recipient TEXT NOT NULL,
	text TEXT NOT NULL,
	reply_to TEXT,
	ts TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender);
CREATE INDEX IF NOT EXISTS idx_messages_ts ON messages(ts);
`

// Store is one agent's local archive.
type Store struct {
	db *sql.DB
}

// Open creates or opens <base>/history/<name>.db with WAL journaling.
func Open(baseDir, agentName string) (*Store, error) {
	dir := filepath.Join(baseDir, protocol.HistoryDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	dbPath := filepath.Join(dir, agentName+".db")
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database. Safe to call multiple times.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// ArchiveMessage records one delivered message. Duplicate ids (a message
// re-observed by an overlapping pass) are ignored.
func (s *Store) ArchiveMessage(msg protocol.Message) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO messages (id, sender, recipient, text, reply_to, ts) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.From, msg.To, msg.Text, msg.ReplyTo, msg.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("archive message: %w", err)
	}
	return nil
}

// QueryOpts filters archived messages.
type QueryOpts struct {
	// Peer filters to messages from a specific sender.
	Peer string

	// After and Before bound the message timestamp (inclusive).
	After  *time.Time
	Before *time.Time

	// Limit restricts the number of results (0 = no limit).
	Limit int
}

// Messages returns archived messages matching opts, newest first.
func (s *Store) Messages(ctx context.Context, opts QueryOpts) ([]protocol.Message, error) {
	query, args := buildQuery(opts)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var msgs []protocol.Message
	for rows.Next() {
		var m protocol.Message
		var ts string
		if err := rows.Scan(&m.ID, &m.From, &m.To, &m.Text, &m.ReplyTo, &ts); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse history timestamp: %w", err)
		}
		m.Timestamp = parsed
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return msgs, nil
}

// buildQuery constructs the SQL query and arguments from opts.
func buildQuery(opts QueryOpts) (string, []any) {
	var conditions []string
	var args []any

	query := `SELECT id, sender, recipient, text, IFNULL(reply_to, ''), ts FROM messages`

	if opts.Peer != "" {
		conditions = append(conditions, "sender = ?")
		args = append(args, opts.Peer)
	}
	if opts.After != nil {
		conditions = append(conditions, "ts >= ?")
		args = append(args, opts.After.UTC().Format(time.RFC3339Nano))
	}
	if opts.Before != nil {
		conditions = append(conditions, "ts <= ?")
		args = append(args, opts.Before.UTC().Format(time.RFC3339Nano))
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY ts DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	return query, args
}
