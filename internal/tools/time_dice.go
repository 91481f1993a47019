package tools

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// GetCurrentTimeTool reports the current time in a requested IANA zone.
type GetCurrentTimeTool struct{}

func NewGetCurrentTimeTool() *GetCurrentTimeTool { return &GetCurrentTimeTool{} }

func (t *GetCurrentTimeTool) Name() string { return "get_current_time" }

func (t *GetCurrentTimeTool) Description() string {
	return "Gibt die aktuelle Uhrzeit in einer Zeitzone zurück."
}

func (t *GetCurrentTimeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"timezone": map[string]interface{}{
				"type":        "string",
				"description": "IANA-Zeitzone, z.B. 'Europe/Berlin' oder 'UTC'. Standard: UTC.",
			},
		},
		"required": []string{},
	}
}

func (t *GetCurrentTimeTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	zone, _ := args["timezone"].(string)
	if zone == "" {
		zone = "UTC"
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return ErrorResult(fmt.Sprintf("unbekannte Zeitzone %q", zone))
	}
	now := time.Now().In(loc)
	return NewResult(fmt.Sprintf(`{"time": %q, "timezone": %q}`, now.Format("2006-01-02 15:04:05"), zone))
}

// RollDiceTool rolls N dice with M sides.
type RollDiceTool struct{}

func NewRollDiceTool() *RollDiceTool { return &RollDiceTool{} }

func (t *RollDiceTool) Name() string { return "roll_dice" }

func (t *RollDiceTool) Description() string {
	return "Würfelt eine Anzahl Würfel mit einstellbarer Seitenzahl."
}

func (t *RollDiceTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"count": map[string]interface{}{
				"type":        "integer",
				"description": "Anzahl der Würfel (1-100). Standard: 1.",
			},
			"sides": map[string]interface{}{
				"type":        "integer",
				"description": "Seiten pro Würfel (2-1000). Standard: 6.",
			},
		},
		"required": []string{},
	}
}

func (t *RollDiceTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	count := intArg(args, "count", 1, 1, 100)
	sides := intArg(args, "sides", 6, 2, 1000)

	rolls := make([]int, count)
	total := 0
	for i := range rolls {
		rolls[i] = rand.Intn(sides) + 1
		total += rolls[i]
	}
	return NewResult(fmt.Sprintf(`{"rolls": %s, "total": %d, "sides": %d}`, intsJSON(rolls), total, sides))
}

func intArg(args map[string]interface{}, key string, def, min, max int) int {
	v, ok := args[key].(float64)
	if !ok {
		return def
	}
	n := int(v)
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

func intsJSON(ns []int) string {
	out := "["
	for i, n := range ns {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprint(n)
	}
	return out + "]"
}
