package cmd

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
)

type memFileStore struct {
	files map[string][]byte
}

func (m *memFileStore) Store(data []byte, ext string) (string, error) {
	name := fmt.Sprintf("f%d.%s", len(m.files)+1, ext)
	m.files[name] = data
	return name, nil
}

func (m *memFileStore) Get(name string) ([]byte, error) {
	data, ok := m.files[name]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

func (m *memFileStore) Path(name string) string { return "/mem/" + name }

func TestSplitStoredFiles(t *testing.T) {
	fs := &memFileStore{files: map[string][]byte{
		"abc.png": []byte("png-bytes"),
		"def.mp3": []byte("mp3-bytes"),
	}}

	content := "Hier dein Bild [STORED_FILE](abc.png) und Ton [STORED_FILE](def.mp3)"
	text, attachments := splitStoredFiles(content, fs)

	if strings.Contains(text, "STORED_FILE") {
		t.Fatalf("markers left in text: %q", text)
	}
	if len(attachments) != 2 {
		t.Fatalf("attachments = %d, want 2", len(attachments))
	}
	for _, att := range attachments {
		data, err := os.ReadFile(att.URL)
		if err != nil {
			t.Fatalf("staged file unreadable: %v", err)
		}
		os.Remove(att.URL)
		if len(data) == 0 {
			t.Fatal("staged file empty")
		}
	}
	if !strings.HasPrefix(attachments[0].ContentType, "image/") {
		t.Fatalf("content type = %q", attachments[0].ContentType)
	}
}

func TestSplitStoredFilesKeepsUnknownReference(t *testing.T) {
	fs := &memFileStore{files: map[string][]byte{}}
	content := "Siehe [STORED_FILE](fehlt.pdf)"
	text, attachments := splitStoredFiles(content, fs)
	if len(attachments) != 0 {
		t.Fatalf("attachments = %d", len(attachments))
	}
	if !strings.Contains(text, "[STORED_FILE](fehlt.pdf)") {
		t.Fatalf("missing-file marker dropped: %q", text)
	}
}

func TestChatFilesHandler(t *testing.T) {
	fs := &memFileStore{files: map[string][]byte{"abc.png": []byte("png-bytes")}}
	handler := makeChatFilesHandler(fs)

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/api/chats/chat1/files/abc.png", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "png-bytes" {
		t.Fatalf("body = %q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/api/chats/chat1/files/missing.png", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing file status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodPost, "/api/chats/chat1/files/abc.png", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST status = %d", rec.Code)
	}
}
