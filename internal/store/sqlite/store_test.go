package sqlite

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/opengunther/guenther/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestChatLifecycle(t *testing.T) {
	s := openTestStore(t)

	id, err := s.CreateChat("Testchat", "default")
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	if err := s.AddMessage(id, "user", "Hallo"); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	if err := s.AddMessage(id, "assistant", "Hi!"); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	chat, err := s.GetChat(id)
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if chat.Title != "Testchat" || chat.AgentID != "default" {
		t.Fatalf("chat = %+v", chat)
	}
	if len(chat.Messages) != 2 {
		t.Fatalf("message count = %d", len(chat.Messages))
	}
	if chat.Messages[0].Role != "user" || chat.Messages[1].Role != "assistant" {
		t.Fatalf("message order broken: %+v", chat.Messages)
	}

	summaries, err := s.ListChats()
	if err != nil {
		t.Fatalf("ListChats: %v", err)
	}
	if len(summaries) != 1 || summaries[0].MessageCount != 2 {
		t.Fatalf("summaries = %+v", summaries)
	}
}

func TestDeleteChatRemovesMessages(t *testing.T) {
	s := openTestStore(t)

	id, _ := s.CreateChat("weg damit", "")
	_ = s.AddMessage(id, "user", "Hallo")

	if err := s.DeleteChat(id); err != nil {
		t.Fatalf("DeleteChat: %v", err)
	}
	if _, err := s.GetChat(id); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetChat after delete = %v, want ErrNotFound", err)
	}
	if err := s.AddMessage(id, "user", "zu spät"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("AddMessage after delete = %v, want ErrNotFound", err)
	}
}

func TestAddMessageUnknownChat(t *testing.T) {
	s := openTestStore(t)
	if err := s.AddMessage("missing", "user", "x"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMessageTimestampsMonotonic(t *testing.T) {
	s := openTestStore(t)
	id, _ := s.CreateChat("t", "")
	for i := 0; i < 5; i++ {
		if err := s.AddMessage(id, "user", "m"); err != nil {
			t.Fatal(err)
		}
	}
	chat, _ := s.GetChat(id)
	for i := 1; i < len(chat.Messages); i++ {
		if chat.Messages[i].CreatedAt.Before(chat.Messages[i-1].CreatedAt) {
			t.Fatalf("timestamps regressed at %d", i)
		}
	}
}

func TestUsageLogAndTotals(t *testing.T) {
	s := openTestStore(t)

	entries := []store.UsageLogEntry{
		{Provider: "openrouter", Model: "m1", AgentID: "default", InputTokens: 100, OutputTokens: 10},
		{Provider: "openrouter", Model: "m1", AgentID: "default", InputTokens: 200, OutputTokens: 20},
		{Provider: "ollama", Model: "m2", AgentID: "other", InputTokens: 5, OutputTokens: 5},
	}
	for _, e := range entries {
		if err := s.Log(e); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}

	got, err := s.Query(store.UsageQuery{Provider: "openrouter"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("filtered entries = %d, want 2", len(got))
	}

	totals, err := s.TotalsByDay(store.UsageQuery{AgentID: "default"})
	if err != nil {
		t.Fatalf("TotalsByDay: %v", err)
	}
	if len(totals) != 1 {
		t.Fatalf("totals days = %d, want 1", len(totals))
	}
	for _, day := range totals {
		if day.InputTokens != 300 || day.OutputTokens != 30 || day.Runs != 2 {
			t.Fatalf("totals = %+v", day)
		}
	}
}

func TestAutopromptRunRecord(t *testing.T) {
	s := openTestStore(t)

	if _, _, ok := s.LastRun("job1"); ok {
		t.Fatal("LastRun before any record should report not-found")
	}

	first := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	if err := s.RecordRun("job1", first, "kaputt"); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	if err := s.RecordRun("job1", first.Add(24*time.Hour), ""); err != nil {
		t.Fatalf("RecordRun update: %v", err)
	}

	ranAt, errMsg, ok := s.LastRun("job1")
	if !ok {
		t.Fatal("LastRun not found after RecordRun")
	}
	if !ranAt.Equal(first.Add(24 * time.Hour)) {
		t.Fatalf("ranAt = %v", ranAt)
	}
	if errMsg != "" {
		t.Fatalf("last_error should be cleared, got %q", errMsg)
	}
}

func TestTitleFromMessage(t *testing.T) {
	short := TitleFromMessage("Hallo Welt")
	if short != "Hallo Welt" {
		t.Fatalf("short = %q", short)
	}

	long := TitleFromMessage(string(make([]rune, 0, 80)) + "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	if len([]rune(long)) != 51 {
		t.Fatalf("truncated length = %d, want 51 (50 + ellipsis)", len([]rune(long)))
	}
}
