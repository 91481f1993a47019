package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opengunther/guenther/internal/providers"
	"github.com/opengunther/guenther/internal/tools"
)

// routerMinTools is the tool count at or below which the router is skipped
// entirely: with three or fewer tools, the main call is cheaper than an
// extra filtering round-trip.
const routerMinTools = 3

// routerTemperature keeps the filtering call near-deterministic.
const routerTemperature = 0.1

const routerTimeout = 120 * time.Second

const routerSystemPrompt = `Du bist ein Werkzeug-Router. Du bekommst eine Liste verfügbarer Werkzeuge und die letzte Nutzernachricht. Wähle die Werkzeuge aus, die für die Beantwortung der Nachricht relevant sein könnten.

Antworte AUSSCHLIESSLICH mit einem JSON-Array der Werkzeugnamen, z.B. ["get_time","web_search"]. Kein weiterer Text. Wähle lieber ein Werkzeug zu viel als eines zu wenig.`

// routeTools asks a small LLM call to pre-filter the tool set for this
// turn. Any failure — provider error, unparsable reply, empty
// intersection — falls back to the full input list, so routing can only
// ever narrow, never break, a turn.
func routeTools(ctx context.Context, provider providers.Provider, model string, all []*tools.Descriptor, lastUserMessage string, logLine func(string, ...interface{})) []*tools.Descriptor {
	if len(all) <= routerMinTools || strings.TrimSpace(lastUserMessage) == "" {
		return all
	}

	type toolSummary struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	summaries := make([]toolSummary, len(all))
	for i, d := range all {
		summaries[i] = toolSummary{Name: d.Name, Description: d.Description}
	}
	summaryJSON, err := json.Marshal(summaries)
	if err != nil {
		return all
	}

	routerCtx, cancel := context.WithTimeout(ctx, routerTimeout)
	defer cancel()

	resp, err := provider.Chat(routerCtx, providers.ChatRequest{
		Model: model,
		Messages: []providers.Message{
			{Role: "system", Content: routerSystemPrompt},
			{Role: "user", Content: fmt.Sprintf("Werkzeuge:\n%s\n\nNachricht:\n%s", summaryJSON, lastUserMessage)},
		},
		Options: map[string]interface{}{providers.OptTemperature: routerTemperature},
	})
	if err != nil {
		slog.Warn("tool router call failed, using all tools", "error", err)
		return all
	}

	names, err := parseRouterReply(resp.Content)
	if err != nil {
		slog.Warn("tool router reply unparsable, using all tools", "error", err)
		return all
	}

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[strings.TrimSpace(n)] = true
	}
	filtered := make([]*tools.Descriptor, 0, len(names))
	for _, d := range all {
		if wanted[d.Name] {
			filtered = append(filtered, d)
		}
	}
	if len(filtered) == 0 {
		// The router hallucinated names or returned nothing usable.
		return all
	}

	logLine("ROUTER: %d von %d Werkzeugen ausgewählt", len(filtered), len(all))
	return filtered
}

// parseRouterReply extracts the JSON array of tool names from the router's
// reply, tolerating Markdown code fences around it.
func parseRouterReply(content string) ([]string, error) {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	// Tolerate prose around the array by slicing to the outermost brackets.
	if start := strings.Index(s, "["); start >= 0 {
		if end := strings.LastIndex(s, "]"); end > start {
			s = s[start : end+1]
		}
	}
	var names []string
	if err := json.Unmarshal([]byte(s), &names); err != nil {
		return nil, fmt.Errorf("parse router reply: %w", err)
	}
	return names, nil
}
