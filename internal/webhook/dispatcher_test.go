package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/opengunther/guenther/internal/agent"
	"github.com/opengunther/guenther/internal/config"
)

type fakeRunner struct {
	reply    string
	requests []agent.RunRequest
}

func (r *fakeRunner) Run(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error) {
	r.requests = append(r.requests, req)
	return &agent.RunResult{Content: r.reply}, nil
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakeRunner) {
	t.Helper()
	cfg := config.Default()
	cfg.Webhooks = []config.WebhookConfig{{
		ID:    "hook1",
		Name:  "Test",
		Token: "whk_0123456789abcdef0123456789abcdef",
	}}
	runner := &fakeRunner{reply: "Antwort"}
	return New(cfg, runner, nil), runner
}

func post(t *testing.T, d *Dispatcher, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)
	return rec
}

func TestWebhookUnknownID(t *testing.T) {
	d, _ := newTestDispatcher(t)
	rec := post(t, d, "/webhook/missing", "whatever", `{"message":"hi"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestWebhookBadToken(t *testing.T) {
	d, _ := newTestDispatcher(t)

	cases := []string{
		"",
		"wrong",
		"whk_0123456789abcdef0123456789abcdeX",
	}
	for _, token := range cases {
		rec := post(t, d, "/webhook/hook1", token, `{"message":"hi"}`)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("token %q: status = %d, want 401", token, rec.Code)
		}
	}
}

func TestWebhookMissingMessage(t *testing.T) {
	d, _ := newTestDispatcher(t)
	rec := post(t, d, "/webhook/hook1", "whk_0123456789abcdef0123456789abcdef", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestWebhookRunsOneTurn(t *testing.T) {
	d, runner := newTestDispatcher(t)
	rec := post(t, d, "/webhook/hook1", "whk_0123456789abcdef0123456789abcdef", `{"message":"hallo"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if resp.Response != "Antwort" {
		t.Fatalf("response = %q", resp.Response)
	}
	if len(runner.requests) != 1 {
		t.Fatalf("runner invoked %d times", len(runner.requests))
	}
	if runner.requests[0].Message != "hallo" {
		t.Fatalf("message = %q", runner.requests[0].Message)
	}
	if runner.requests[0].Channel != "webhook" {
		t.Fatalf("channel = %q", runner.requests[0].Channel)
	}
}

func TestWebhookMethodNotAllowed(t *testing.T) {
	d, _ := newTestDispatcher(t)
	req := httptest.NewRequest(http.MethodGet, "/webhook/hook1", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
