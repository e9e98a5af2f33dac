// Package store provides the SQLite persistence layer for ButlerDuck.
// A single butlerduck.db file holds users, the append-only message log,
// stored image references, and reminders. Messages are never mutated or
// deleted; they are the sole source of truth for context reconstruction.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver.
)

// AgentUserID is the reserved user id for the bot itself. The corresponding
// tg_user row is seeded on every startup.
const AgentUserID = 0

// DefaultHistoryLimit caps how many messages History returns per chat.
const DefaultHistoryLimit = 1000

// schema is the DDL executed on every startup (idempotent via IF NOT EXISTS).
const schema = `
-- Known users. tg_id 0 is the bot itself.
CREATE TABLE IF NOT EXISTS tg_user (
    id    INTEGER PRIMARY KEY AUTOINCREMENT,
    tg_id INTEGER NOT NULL UNIQUE,
    name  TEXT
);

-- Append-only message log. Exactly one of text/image_id is set per row.
CREATE TABLE IF NOT EXISTS user_message (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    chat_id       INTEGER NOT NULL,
    user_id       INTEGER NOT NULL,
    tg_message_id INTEGER NOT NULL DEFAULT 0,
    text          TEXT,
    image_id      INTEGER REFERENCES user_image(id),
    created_at    TEXT NOT NULL,
    CONSTRAINT fk_user FOREIGN KEY (user_id) REFERENCES tg_user(tg_id)
);
CREATE INDEX IF NOT EXISTS idx_user_message_chat ON user_message(chat_id, id);

-- Stored images, referenced by user_message.image_id.
CREATE TABLE IF NOT EXISTS user_image (
    id   INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT NOT NULL
);

-- Reminders created by the set_reminder tool. notified flips 0 -> 1 once.
CREATE TABLE IF NOT EXISTS user_reminder (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    chat_id    INTEGER NOT NULL,
    action     TEXT NOT NULL,
    created_at TEXT NOT NULL,
    deadline   TEXT NOT NULL,
    notified   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_user_reminder_due ON user_reminder(notified, deadline);
`

// Store is the explicit database handle passed to every component.
// Opened once at startup, closed at shutdown.
type Store struct {
	db       *sql.DB
	imageDir string
	logger   *slog.Logger
}

// HistoryRow is one message as returned by History, joined with its author.
type HistoryRow struct {
	UserID    int64
	Username  string
	Text      string
	ImagePath string
}

// Reminder is a pending or delivered reminder row.
type Reminder struct {
	ID        int64
	ChatID    int64
	Action    string
	CreatedAt time.Time
	Deadline  time.Time
	Notified  bool
}

// Open opens (or creates) the database at the given path, enables WAL mode,
// applies the schema, and seeds the bot user row.
func Open(path, imageDir, botName string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create database directory %q: %w", dir, err)
		}
	}
	if imageDir != "" {
		if err := os.MkdirAll(imageDir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create image directory %q: %w", imageDir, err)
		}
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database %q: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	s := &Store{
		db:       db,
		imageDir: imageDir,
		logger:   logger.With("component", "store"),
	}

	// The agent row must always exist so history joins resolve its name.
	if err := s.EnsureUser(context.Background(), AgentUserID, botName); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: seed bot user: %w", err)
	}

	return s, nil
}

// OpenWithRetry opens the database, retrying with a fixed delay a bounded
// number of times. The database container can take longer to come up than
// the bot process, so the first attempts may fail.
func OpenWithRetry(path, imageDir, botName string, attempts int, delay time.Duration, logger *slog.Logger) (*Store, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		s, err := Open(path, imageDir, botName, logger)
		if err == nil {
			return s, nil
		}
		lastErr = err
		if logger != nil {
			logger.Error("store: connection attempt failed",
				"attempt", i+1,
				"attempts", attempts,
				"error", err,
			)
		}
		if i < attempts-1 {
			time.Sleep(delay)
		}
	}
	return nil, fmt.Errorf("store: giving up after %d attempts: %w", attempts, lastErr)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureUser creates a user row for the given Telegram id if none exists.
// Calling it again with the same tg_id is a no-op.
func (s *Store) EnsureUser(ctx context.Context, tgID int64, name string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO tg_user (tg_id, name) VALUES (?, ?)`,
		tgID, name,
	)
	if err != nil {
		return fmt.Errorf("store: ensure user %d: %w", tgID, err)
	}
	return nil
}

// AppendText appends a text message row and returns its store-assigned id.
func (s *Store) AppendText(ctx context.Context, chatID, userID, tgMessageID int64, text string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO user_message (chat_id, user_id, tg_message_id, text, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		chatID, userID, tgMessageID, text, now(),
	)
	if err != nil {
		return 0, fmt.Errorf("store: append message: %w", err)
	}
	return res.LastInsertId()
}

// AppendImage appends a message row referencing a stored image.
func (s *Store) AppendImage(ctx context.Context, chatID, userID, tgMessageID, imageID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO user_message (chat_id, user_id, tg_message_id, image_id, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		chatID, userID, tgMessageID, imageID, now(),
	)
	if err != nil {
		return 0, fmt.Errorf("store: append image message: %w", err)
	}
	return res.LastInsertId()
}

// StoreImage writes the image bytes to the image directory under a fresh
// uuid name and records the path. Returns the image id.
func (s *Store) StoreImage(ctx context.Context, data []byte) (int64, error) {
	name := uuid.NewString() + ".jpg"
	path := filepath.Join(s.imageDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return 0, fmt.Errorf("store: write image %q: %w", path, err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO user_image (path) VALUES (?)`, path,
	)
	if err != nil {
		// The row is the source of truth; an orphaned file is harmless.
		os.Remove(path)
		return 0, fmt.Errorf("store: record image: %w", err)
	}
	return res.LastInsertId()
}

// History returns up to limit messages for a chat, oldest first, joined
// with the author name. It always reflects the latest committed state.
func (s *Store) History(ctx context.Context, chatID int64, limit int) ([]HistoryRow, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.user_id, COALESCE(u.name, ''), COALESCE(m.text, ''), COALESCE(i.path, '')
		 FROM user_message m
		 JOIN tg_user u ON m.user_id = u.tg_id
		 LEFT JOIN user_image i ON m.image_id = i.id
		 WHERE m.chat_id = ?
		 ORDER BY m.id
		 LIMIT ?`,
		chatID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: query history: %w", err)
	}
	defer rows.Close()

	var history []HistoryRow
	for rows.Next() {
		var r HistoryRow
		if err := rows.Scan(&r.UserID, &r.Username, &r.Text, &r.ImagePath); err != nil {
			return nil, fmt.Errorf("store: scan history row: %w", err)
		}
		history = append(history, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate history: %w", err)
	}
	return history, nil
}

// CreateReminder inserts a new reminder row. Reminders are never updated;
// the deadline is fixed at creation.
func (s *Store) CreateReminder(ctx context.Context, chatID int64, action string, deadline time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO user_reminder (chat_id, action, created_at, deadline)
		 VALUES (?, ?, ?, ?)`,
		chatID, action, now(), deadline.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("store: create reminder: %w", err)
	}
	return res.LastInsertId()
}

// DueReminders returns reminders whose deadline has passed and which have
// not been delivered yet, oldest deadline first.
func (s *Store) DueReminders(ctx context.Context, asOf time.Time) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, action, created_at, deadline
		 FROM user_reminder
		 WHERE notified = 0 AND deadline <= ?
		 ORDER BY deadline`,
		asOf.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("store: query due reminders: %w", err)
	}
	defer rows.Close()

	var due []Reminder
	for rows.Next() {
		var r Reminder
		var created, deadline string
		if err := rows.Scan(&r.ID, &r.ChatID, &r.Action, &created, &deadline); err != nil {
			return nil, fmt.Errorf("store: scan reminder: %w", err)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339, created)
		r.Deadline, _ = time.Parse(time.RFC3339, deadline)
		due = append(due, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate reminders: %w", err)
	}
	return due, nil
}

// MarkNotified flips a reminder's notified flag. The transition happens
// once; marking an already-notified reminder is a no-op.
func (s *Store) MarkNotified(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE user_reminder SET notified = 1 WHERE id = ?`, id,
	)
	if err != nil {
		return fmt.Errorf("store: mark reminder %d notified: %w", id, err)
	}
	return nil
}

// now returns the current UTC time in the stored format.
func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
