package stt

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWhisperTranscribe(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if model := r.FormValue("model"); model != "whisper-1" {
			t.Errorf("model = %q", model)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"text": " Hallo Welt "})
	}))
	defer srv.Close()

	tr, err := New(Config{BaseURL: srv.URL, APIKey: "sk-test", UseWhisper: true}, srv.Client())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	text, err := tr.Transcribe(context.Background(), []byte("ogg-bytes"), "voice.ogg")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "Hallo Welt" {
		t.Fatalf("text = %q", text)
	}
	if gotPath != "/audio/transcriptions" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("auth = %q", gotAuth)
	}
}

func TestChatTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), "input_audio") {
			t.Error("request missing input_audio content part")
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"choices":[{"message":{"content":"Transkript hier"}}]}`)
	}))
	defer srv.Close()

	tr, err := New(Config{BaseURL: srv.URL, APIKey: "sk", Model: "gpt-4o-audio"}, srv.Client())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	text, err := tr.Transcribe(context.Background(), []byte("audio"), "voice.ogg")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "Transkript hier" {
		t.Fatalf("text = %q", text)
	}
}

func TestTranscribeErrorUnwrapsMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"invalid api key"}}`)
	}))
	defer srv.Close()

	tr, _ := New(Config{BaseURL: srv.URL, UseWhisper: true}, srv.Client())
	_, err := tr.Transcribe(context.Background(), []byte("x"), "v.ogg")
	if err == nil || !strings.Contains(err.Error(), "invalid api key") {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(err.Error(), "401") {
		t.Fatalf("err lacks status: %v", err)
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{}, nil); err == nil {
		t.Fatal("missing base URL accepted")
	}
	if _, err := New(Config{BaseURL: "http://x"}, nil); err == nil {
		t.Fatal("chat backend without model accepted")
	}
}
