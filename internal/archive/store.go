package archive

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the durable archive: messages, their attachments, and the
// append-only application log, backed by SQLite.
type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id TEXT NOT NULL UNIQUE,
		guild_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		author_id TEXT NOT NULL,
		author_name TEXT DEFAULT '',
		content TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_guild ON messages(guild_id);
	CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp);

	CREATE TABLE IF NOT EXISTS attachments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		attachment_id TEXT NOT NULL UNIQUE,
		message_id TEXT NOT NULL,
		url TEXT NOT NULL,
		filename TEXT DEFAULT '',
		content_type TEXT DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_attachments_message ON attachments(message_id);

	CREATE TABLE IF NOT EXISTS app_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		level TEXT NOT NULL,
		event_type TEXT NOT NULL,
		message TEXT NOT NULL,
		extra TEXT,
		timestamp INTEGER NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so the insert paths can run
// standalone or inside a per-event transaction.
type dbtx interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// Tx groups one handled event's writes into a single atomic unit.
type Tx struct {
	tx *sql.Tx
}

// WithTx runs fn inside a transaction. Any error rolls back every write of
// the unit, keeping archive state and its log trail consistent.
func (s *Store) WithTx(fn func(tx *Tx) error) error {
	t, err := s.db.Begin()
	if err != nil {
		return err
	}

	if err := fn(&Tx{tx: t}); err != nil {
		t.Rollback()
		return err
	}

	return t.Commit()
}

func (t *Tx) InsertMessageIfAbsent(m *ArchivedMessage) (bool, error) {
	return insertMessage(t.tx, m)
}

func (t *Tx) InsertAttachmentIfAbsent(a *Attachment) (bool, error) {
	return insertAttachment(t.tx, a)
}

func (t *Tx) AppendLog(level, eventType, message string, extra map[string]interface{}) error {
	return appendLog(t.tx, level, eventType, message, extra)
}

// InsertMessageIfAbsent inserts a message outside any transaction. Returns
// true when inserted, false when the external id was already known.
func (s *Store) InsertMessageIfAbsent(m *ArchivedMessage) (bool, error) {
	return insertMessage(s.db, m)
}

func (s *Store) InsertAttachmentIfAbsent(a *Attachment) (bool, error) {
	return insertAttachment(s.db, a)
}

func insertMessage(q dbtx, m *ArchivedMessage) (bool, error) {
	res, err := q.Exec(
		`INSERT OR IGNORE INTO messages (message_id, guild_id, channel_id, author_id, author_name, content, timestamp, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.MessageID, m.GuildID, m.ChannelID, m.AuthorID, m.AuthorName, m.Content, m.Timestamp.Unix(), time.Now().Unix(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func insertAttachment(q dbtx, a *Attachment) (bool, error) {
	res, err := q.Exec(
		`INSERT OR IGNORE INTO attachments (attachment_id, message_id, url, filename, content_type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.AttachmentID, a.MessageID, a.URL, a.Filename, a.ContentType, time.Now().Unix(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RandomMessage returns one uniformly random archived message, or nil when the
// archive holds none.
func (s *Store) RandomMessage() (*ArchivedMessage, error) {
	row := s.db.QueryRow(
		`SELECT id, message_id, guild_id, channel_id, author_id, author_name, content, timestamp, created_at
		 FROM messages ORDER BY RANDOM() LIMIT 1`,
	)
	return scanMessage(row)
}

// RandomAttachment returns one uniformly random attachment, or nil when there
// are none.
func (s *Store) RandomAttachment() (*Attachment, error) {
	var a Attachment
	var created int64
	err := s.db.QueryRow(
		`SELECT id, attachment_id, message_id, url, filename, content_type, created_at
		 FROM attachments ORDER BY RANDOM() LIMIT 1`,
	).Scan(&a.ID, &a.AttachmentID, &a.MessageID, &a.URL, &a.Filename, &a.ContentType, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.CreatedAt = time.Unix(created, 0)
	return &a, nil
}

// RecentMessages returns up to limit most recent messages ordered oldest to
// newest, ready to be formatted as generation context.
func (s *Store) RecentMessages(limit int) ([]*ArchivedMessage, error) {
	rows, err := s.db.Query(
		`SELECT id, message_id, guild_id, channel_id, author_id, author_name, content, timestamp, created_at
		 FROM messages ORDER BY timestamp DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*ArchivedMessage
	for rows.Next() {
		m, err := scanMessageRows(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query walks newest-first; flip to chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// DeleteMessage removes a message by its external id, cascading its
// attachments in the same transaction. Returns true when a message existed.
func (s *Store) DeleteMessage(messageID string) (bool, error) {
	var deleted bool
	err := s.WithTx(func(tx *Tx) error {
		if _, err := tx.tx.Exec(`DELETE FROM attachments WHERE message_id = ?`, messageID); err != nil {
			return err
		}
		res, err := tx.tx.Exec(`DELETE FROM messages WHERE message_id = ?`, messageID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		deleted = n > 0
		return nil
	})
	return deleted, err
}

// AppendLog writes one structured application log entry. Append-only.
func (s *Store) AppendLog(level, eventType, message string, extra map[string]interface{}) error {
	return appendLog(s.db, level, eventType, message, extra)
}

func appendLog(q dbtx, level, eventType, message string, extra map[string]interface{}) error {
	var extraJSON interface{}
	if extra != nil {
		data, err := json.Marshal(extra)
		if err != nil {
			return err
		}
		extraJSON = string(data)
	}

	_, err := q.Exec(
		`INSERT INTO app_logs (level, event_type, message, extra, timestamp) VALUES (?, ?, ?, ?, ?)`,
		level, eventType, message, extraJSON, time.Now().Unix(),
	)
	return err
}

func (s *Store) CountMessages() (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}

func (s *Store) CountAttachments() (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM attachments`).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row *sql.Row) (*ArchivedMessage, error) {
	m, err := scanMessageRows(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func scanMessageRows(row rowScanner) (*ArchivedMessage, error) {
	var m ArchivedMessage
	var ts, created int64
	err := row.Scan(&m.ID, &m.MessageID, &m.GuildID, &m.ChannelID, &m.AuthorID, &m.AuthorName, &m.Content, &ts, &created)
	if err != nil {
		return nil, err
	}
	m.Timestamp = time.Unix(ts, 0)
	m.CreatedAt = time.Unix(created, 0)
	return &m, nil
}
