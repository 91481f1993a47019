// Package pg is the Postgres persistence backend, for deployments that
// outgrow the embedded sqlite file. Schema lives in ./migrations and is
// applied with the migrate subcommand, not at open time.
package pg

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/opengunther/guenther/internal/store"
)

// Store implements store.ChatStore, store.UsageStore and
// store.AutopromptRunStore on a Postgres connection pool.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres via the pgx stdlib driver and verifies the
// connection with a ping.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) CreateChat(title, agentID string) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO chats (id, title, agent_id, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
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
		`SELECT id, title, agent_id, created_at, updated_at FROM chats WHERE id = $1`, id,
	).Scan(&c.ID, &c.Title, &c.AgentID, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}

	rows, err := s.db.Query(
		`SELECT id, role, content, created_at FROM messages WHERE chat_id = $1 ORDER BY id`, id,
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
		`SELECT c.id, c.title, c.agent_id, c.updated_at, COUNT(m.id)
		 FROM chats c LEFT JOIN messages m ON m.chat_id = c.id
		 GROUP BY c.id ORDER BY c.updated_at DESC`,
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
	now := time.Now().UTC()
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("add message: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO messages (chat_id, role, content, created_at)
		 SELECT id, $1, $2, $3 FROM chats WHERE id = $4`,
		role, content, now, chatID,
	)
	if err != nil {
		return fmt.Errorf("add message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	if _, err := tx.Exec(`UPDATE chats SET updated_at = $1 WHERE id = $2`, now, chatID); err != nil {
		return fmt.Errorf("touch chat: %w", err)
	}
	return tx.Commit()
}

func (s *Store) SetTitle(chatID, title string) error {
	res, err := s.db.Exec(`UPDATE chats SET title = $1, updated_at = $2 WHERE id = $3`,
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
	res, err := s.db.Exec(`DELETE FROM chats WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) HistoryForProvider(chatID string) ([]store.ChatMessage, error) {
	c, err := s.GetChat(chatID)
	if err != nil {
		return nil, err
	}
	return c.Messages, nil
}

func (s *Store) Log(entry store.UsageLogEntry) error {
	created := entry.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO usage_log (chat_id, agent_id, provider, model, input_tokens, output_tokens, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
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
		`SELECT to_char(created_at, 'YYYY-MM-DD'), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COUNT(*)
		 FROM usage_log`+where+` GROUP BY 1`, args...)
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
	n := 0
	add := func(cond string, v interface{}) {
		n++
		clauses = append(clauses, fmt.Sprintf(cond, n))
		args = append(args, v)
	}
	if q.AgentID != "" {
		add("agent_id = $%d", q.AgentID)
	}
	if q.Provider != "" {
		add("provider = $%d", q.Provider)
	}
	if !q.Since.IsZero() {
		add("created_at >= $%d", q.Since)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *Store) RecordRun(id string, ranAt time.Time, errMsg string) error {
	_, err := s.db.Exec(
		`INSERT INTO autoprompt_runs (autoprompt_id, last_run, last_error) VALUES ($1, $2, $3)
		 ON CONFLICT (autoprompt_id) DO UPDATE SET last_run = EXCLUDED.last_run, last_error = EXCLUDED.last_error`,
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
		`SELECT last_run, last_error FROM autoprompt_runs WHERE autoprompt_id = $1`, id,
	).Scan(&ranAt, &errMsg)
	if err != nil {
		return time.Time{}, "", false
	}
	return ranAt, errMsg, true
}
