// Package store defines the persistence interfaces for chats, usage log,
// autoprompt run history, and generated files, plus the data shapes they
// carry. Concrete backends live in subpackages
// (internal/store/sqlite is the default; internal/store/pg is optional).
package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a chat (or one of its rows) does not exist.
var ErrNotFound = errors.New("not found")

// ChatMessage is one turn in a Chat's history.
type ChatMessage struct {
	ID        int64     `json:"id"`
	Role      string    `json:"role"` // "user", "assistant"
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Chat is a persisted conversation.
type Chat struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	AgentID   string        `json:"agentId,omitempty"`
	Messages  []ChatMessage `json:"messages,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// ChatSummary is lightweight metadata for listing chats without loading
// full message history.
type ChatSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	AgentID      string    `json:"agentId,omitempty"`
	MessageCount int       `json:"messageCount"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ChatStore persists conversations and their message history.
type ChatStore interface {
	CreateChat(title, agentID string) (string, error)
	GetChat(id string) (*Chat, error)
	ListChats() ([]ChatSummary, error)
	AddMessage(chatID, role, content string) error
	SetTitle(chatID, title string) error
	DeleteChat(id string) error
	HistoryForProvider(chatID string) ([]ChatMessage, error)
}

// UsageLogEntry records token/cost accounting for one orchestrator run
//.
type UsageLogEntry struct {
	ID           int64     `json:"id"`
	ChatID       string    `json:"chatId"`
	AgentID      string    `json:"agentId,omitempty"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	InputTokens  int64     `json:"inputTokens"`
	OutputTokens int64     `json:"outputTokens"`
	CreatedAt    time.Time `json:"createdAt"`
}

// UsageQuery filters UsageStore.Query results.
type UsageQuery struct {
	AgentID  string
	Provider string
	Since    time.Time
}

// UsageStore persists and aggregates UsageLogEntry rows.
type UsageStore interface {
	Log(entry UsageLogEntry) error
	Query(q UsageQuery) ([]UsageLogEntry, error)
	TotalsByDay(q UsageQuery) (map[string]UsageTotals, error)
}

// UsageTotals is an aggregated input/output token count.
type UsageTotals struct {
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
	Runs         int64 `json:"runs"`
}

// AutopromptRunStore persists the last-run bookkeeping for scheduled
// prompts (last_run/last_error), separately
// from the trigger definitions that live in config.Config.Autoprompts.
type AutopromptRunStore interface {
	RecordRun(id string, ranAt time.Time, errMsg string) error
	LastRun(id string) (ranAt time.Time, errMsg string, ok bool)
}

// FileStore persists media extracted from orchestrator responses
// so channels that cannot inline base64
// (webhook JSON, Telegram document uploads) can reference a stored file.
type FileStore interface {
	// Store writes data under a content-addressed name with the given
	// extension and returns a stable reference (e.g. "a1b2c3.png").
	Store(data []byte, ext string) (string, error)
	// Get reads back previously stored data by its reference name.
	Get(name string) ([]byte, error)
	// Path returns the absolute filesystem path for a reference name.
	Path(name string) string
}
