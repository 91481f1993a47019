// Package stt transcribes inbound voice messages. Two backends share one
// interface: a Whisper-style /audio/transcriptions endpoint, or a
// multimodal chat completion that accepts input_audio content parts —
// selected by config.Config.UseOpenAIWhisper.
package stt

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"
)

const requestTimeout = 120 * time.Second

// Transcriber converts an audio blob into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// Config selects and parameterizes the transcription backend.
type Config struct {
	BaseURL    string // provider base URL, e.g. https://api.openai.com/v1
	APIKey     string
	Model      string // e.g. "whisper-1" or a multimodal chat model
	UseWhisper bool   // true: /audio/transcriptions; false: chat completion with input_audio
}

// New builds a Transcriber from cfg. The zero Model falls back to
// "whisper-1" for the Whisper backend; the chat backend requires an
// explicit model.
func New(cfg Config, client *http.Client) (Transcriber, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("stt: base URL not configured")
	}
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}
	if cfg.UseWhisper {
		model := cfg.Model
		if model == "" {
			model = "whisper-1"
		}
		return &whisperTranscriber{cfg: cfg, model: model, client: client}, nil
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("stt: chat transcription requires a model")
	}
	return &chatTranscriber{cfg: cfg, client: client}, nil
}

// whisperTranscriber posts multipart form data to /audio/transcriptions.
type whisperTranscriber struct {
	cfg    Config
	model  string
	client *http.Client
}

func (t *whisperTranscriber) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("model", t.model); err != nil {
		return "", fmt.Errorf("stt: build form: %w", err)
	}
	fw, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return "", fmt.Errorf("stt: build form: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return "", fmt.Errorf("stt: build form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("stt: build form: %w", err)
	}

	url := strings.TrimRight(t.cfg.BaseURL, "/") + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return "", fmt.Errorf("stt: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("stt: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("stt: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("stt: %s", apiError(resp.StatusCode, body))
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("stt: parse response: %w", err)
	}
	return strings.TrimSpace(parsed.Text), nil
}

// chatTranscriber sends the audio as an input_audio content part of a
// chat completion and uses the assistant reply as the transcript.
type chatTranscriber struct {
	cfg    Config
	client *http.Client
}

func (t *chatTranscriber) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	format := strings.TrimPrefix(filepath.Ext(filename), ".")
	if format == "" {
		format = "ogg"
	}

	payload := map[string]interface{}{
		"model": t.cfg.Model,
		"messages": []map[string]interface{}{
			{
				"role": "user",
				"content": []map[string]interface{}{
					{"type": "text", "text": "Transkribiere diese Sprachnachricht wortgetreu. Antworte nur mit dem Transkript."},
					{"type": "input_audio", "input_audio": map[string]string{
						"data":   base64.StdEncoding.EncodeToString(audio),
						"format": format,
					}},
				},
			},
		},
	}
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("stt: marshal request: %w", err)
	}

	url := strings.TrimRight(t.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("stt: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("stt: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("stt: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("stt: %s", apiError(resp.StatusCode, body))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("stt: parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("stt: empty response")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

// apiError unwraps an OpenAI-style {"error":{"message":...}} body into a
// readable message, falling back to a truncated raw body.
func apiError(status int, body []byte) string {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return fmt.Sprintf("API error %d: %s", status, parsed.Error.Message)
	}
	raw := string(body)
	if len(raw) > 300 {
		raw = raw[:300] + "…"
	}
	return fmt.Sprintf("API error %d: %s", status, raw)
}
