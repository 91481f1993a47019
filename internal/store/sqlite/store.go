// Package sqlite is the default persistence backend: a single embedded
// database file driven by modernc.org/sqlite (pure Go, no cgo), holding
// chats, messages, the usage log, and autoprompt run bookkeeping.
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/opengunther/guenther/internal/config"
	"github.com/opengunther/guenther/internal/store"
)

// schema is applied on every Open; each statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS chats (
		id         TEXT PRIMARY KEY,
		title      TEXT NOT NULL DEFAULT '',
		agent_id   TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_id    TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
		role       TEXT NOT NULL,
		content    TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, id)`,
	`CREATE TABLE IF NOT EXISTS usage_log (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_id       TEXT NOT NULL DEFAULT '',
		agent_id      TEXT NOT NULL DEFAULT '',
		provider      TEXT NOT NULL,
		model         TEXT NOT NULL,
		input_tokens  INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		created_at    TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_created ON usage_log(created_at)`,
	`CREATE TABLE IF NOT EXISTS autoprompt_runs (
		autoprompt_id TEXT PRIMARY KEY,
		last_run      TIMESTAMP NOT NULL,
		last_error    TEXT NOT NULL DEFAULT ''
	)`,
}

// Store implements store.ChatStore, store.UsageStore and
// store.AutopromptRunStore on one sqlite database.
type Store struct {
	db *sql.DB

	// sqlite allows one writer at a time; serializing writes in-process
	// avoids SQLITE_BUSY under concurrent turns.
	writeMu sync.Mutex
}

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(path string) (*Store, error) {
	path = config.ExpandHome(path)
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// titleLimit is the chat-title truncation threshold: the first user
// message is cut to this many runes plus an ellipsis.
const titleLimit = 50

// TitleFromMessage derives a chat title from its first user message.
func TitleFromMessage(msg string) string {
	msg = strings.TrimSpace(strings.ReplaceAll(msg, "\n", " "))
	runes := []rune(msg)
	if len(runes) <= titleLimit {
		return msg
	}
	return string(runes[:titleLimit]) + "…"
}

func (s *Store) CreateChat(title, agentID string) (string, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO chats (id, title, agent_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, title, agentID, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("create chat: %w", err)
	}
	return id, nil
}

func (s *Store) GetChat(id string) (*store.Chat, error) {
	var c store.Chat
	err := s.db.QueryRow(
		`SELECT id, title, agent_id, created_at, updated_at FROM chats WHERE id = ?`, id,
	).Scan(&c.ID, &c.Title, &c.AgentID, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}

	rows, err := s.db.Query(
		`SELECT id, role, content, created_at FROM messages WHERE chat_id = ? ORDER BY id`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("get chat messages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m store.ChatMessage
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		c.Messages = append(c.Messages, m)
	}
	return &c, rows.Err()
}

func (s *Store) ListChats() ([]store.ChatSummary, error) {
	rows, err := s.db.Query(
		`SELECT c.id, c.title, c.agent_id, c.updated_at,
		        (SELECT COUNT(*) FROM messages m WHERE m.chat_id = c.id)
		 FROM chats c ORDER BY c.updated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var out []store.ChatSummary
	for rows.Next() {
		var cs store.ChatSummary
		if err := rows.Scan(&cs.ID, &cs.Title, &cs.AgentID, &cs.UpdatedAt, &cs.MessageCount); err != nil {
			return nil, fmt.Errorf("scan chat summary: %w", err)
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

func (s *Store) AddMessage(chatID, role, content string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := time.Now().UTC()
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("add message: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO messages (chat_id, role, content, created_at)
		 SELECT id, ?, ?, ? FROM chats WHERE id = ?`,
		role, content, now, chatID,
	)
	if err != nil {
		return fmt.Errorf("add message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	if _, err := tx.Exec(`UPDATE chats SET updated_at = ? WHERE id = ?`, now, chatID); err != nil {
		return fmt.Errorf("touch chat: %w", err)
	}
	return tx.Commit()
}

func (s *Store) SetTitle(chatID, title string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.Exec(`UPDATE chats SET title = ?, updated_at = ? WHERE id = ?`,
		title, time.Now().UTC(), chatID)
	if err != nil {
		return fmt.Errorf("set title: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteChat(id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.Exec(`DELETE FROM chats WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// HistoryForProvider returns the chat's messages in provider replay order.
func (s *Store) HistoryForProvider(chatID string) ([]store.ChatMessage, error) {
	c, err := s.GetChat(chatID)
	if err != nil {
		return nil, err
	}
	return c.Messages, nil
}

func (s *Store) Log(entry store.UsageLogEntry) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	created := entry.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO usage_log (chat_id, agent_id, provider, model, input_tokens, output_tokens, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ChatID, entry.AgentID, entry.Provider, entry.Model,
		entry.InputTokens, entry.OutputTokens, created,
	)
	if err != nil {
		return fmt.Errorf("log usage: %w", err)
	}
	return nil
}

func (s *Store) Query(q store.UsageQuery) ([]store.UsageLogEntry, error) {
	where, args := usageFilter(q)
	rows, err := s.db.Query(
		`SELECT id, chat_id, agent_id, provider, model, input_tokens, output_tokens, created_at
		 FROM usage_log`+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	var out []store.UsageLogEntry
	for rows.Next() {
		var e store.UsageLogEntry
		if err := rows.Scan(&e.ID, &e.ChatID, &e.AgentID, &e.Provider, &e.Model,
			&e.InputTokens, &e.OutputTokens, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) TotalsByDay(q store.UsageQuery) (map[string]store.UsageTotals, error) {
	where, args := usageFilter(q)
	rows, err := s.db.Query(
		`SELECT date(created_at), SUM(input_tokens), SUM(output_tokens), COUNT(*)
		 FROM usage_log`+where+` GROUP BY date(created_at)`, args...)
	if err != nil {
		return nil, fmt.Errorf("usage totals: %w", err)
	}
	defer rows.Close()

	out := make(map[string]store.UsageTotals)
	for rows.Next() {
		var day string
		var t store.UsageTotals
		if err := rows.Scan(&day, &t.InputTokens, &t.OutputTokens, &t.Runs); err != nil {
			return nil, fmt.Errorf("scan usage totals: %w", err)
		}
		out[day] = t
	}
	return out, rows.Err()
}

func usageFilter(q store.UsageQuery) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	if q.AgentID != "" {
		clauses = append(clauses, "agent_id = ?")
		args = append(args, q.AgentID)
	}
	if q.Provider != "" {
		clauses = append(clauses, "provider = ?")
		args = append(args, q.Provider)
	}
	if !q.Since.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, q.Since)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *Store) RecordRun(id string, ranAt time.Time, errMsg string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO autoprompt_runs (autoprompt_id, last_run, last_error) VALUES (?, ?, ?)
		 ON CONFLICT(autoprompt_id) DO UPDATE SET last_run = excluded.last_run, last_error = excluded.last_error`,
		id, ranAt.UTC(), errMsg,
	)
	if err != nil {
		return fmt.Errorf("record autoprompt run: %w", err)
	}
	return nil
}

func (s *Store) LastRun(id string) (time.Time, string, bool) {
	var ranAt time.Time
	var errMsg string
	err := s.db.QueryRow(
		`SELECT last_run, last_error FROM autoprompt_runs WHERE autoprompt_id = ?`, id,
	).Scan(&ranAt, &errMsg)
	if err != nil {
		return time.Time{}, "", false
	}
	return ranAt, errMsg, true
}
