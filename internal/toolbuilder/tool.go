package toolbuilder

import (
	"context"
	"encoding/json"

	"github.com/opengunther/guenther/internal/tools"
)

// BuildTool exposes the builder to the agent itself, so the model can
// extend its own tool set mid-conversation.
type BuildTool struct {
	builder *Builder
}

// NewBuildTool wraps builder as a registrable tool.
func NewBuildTool(builder *Builder) *BuildTool {
	return &BuildTool{builder: builder}
}

func (t *BuildTool) Name() string { return "build_mcp_tool" }

func (t *BuildTool) Description() string {
	return "Erstellt (oder überarbeitet) ein neues Werkzeug aus einer Beschreibung, testet es in einer Sandbox und registriert es sofort."
}

func (t *BuildTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"description": map[string]interface{}{
				"type":        "string",
				"description": "Was das neue Werkzeug können soll, inklusive Parameter.",
			},
			"tool_name": map[string]interface{}{
				"type":        "string",
				"description": "Optionaler snake_case-Name. Der Name eines existierenden Werkzeugs überarbeitet dieses.",
			},
		},
		"required": []string{"description"},
	}
}

func (t *BuildTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	description, _ := args["description"].(string)
	if description == "" {
		return tools.ErrorResult("description ist erforderlich")
	}
	toolName, _ := args["tool_name"].(string)

	result := t.builder.Build(ctx, description, toolName, nil)
	payload, err := json.Marshal(result)
	if err != nil {
		return tools.ErrorResult("Ergebnis nicht serialisierbar").WithError(err)
	}
	if !result.Success {
		return tools.ErrorResult(string(payload))
	}
	return tools.NewResult(string(payload))
}
