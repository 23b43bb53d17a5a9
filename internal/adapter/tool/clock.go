package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"hearth/internal/domain"
)

// ClockTool reports the current date and time, optionally in a named
// IANA timezone.
type ClockTool struct {
	now func() time.Time // for testing
}

// NewClockTool creates the builtin clock tool.
func NewClockTool() *ClockTool {
	return &ClockTool{now: time.Now}
}

func (t *ClockTool) Name() string { return "clock" }

func (t *ClockTool) Description() string {
	return "Get the current date and time. Accepts an optional IANA timezone name such as Europe/Berlin; defaults to the local timezone."
}

func (t *ClockTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"timezone": {
					"type": "string",
					"description": "IANA timezone name, e.g. America/New_York"
				}
			}
		}`),
	}
}

func (t *ClockTool) Execute(ctx context.Context, args json.RawMessage) (*domain.ToolResult, error) {
	var params struct {
		Timezone string `json:"timezone"`
	}
	if len(args) > 0 && string(args) != "null" {
		if err := json.Unmarshal(args, &params); err != nil {
			return &domain.ToolResult{
				IsError: true,
				Content: fmt.Sprintf("invalid arguments: %v", err),
			}, nil
		}
	}

	loc := time.Local
	if params.Timezone != "" {
		l, err := time.LoadLocation(params.Timezone)
		if err != nil {
			return &domain.ToolResult{
				IsError: true,
				Content: fmt.Sprintf("unknown timezone %q", params.Timezone),
			}, nil
		}
		loc = l
	}

	now := t.now().In(loc)
	return &domain.ToolResult{
		Content: now.Format("Monday, 2 January 2006 15:04:05 MST"),
	}, nil
}
