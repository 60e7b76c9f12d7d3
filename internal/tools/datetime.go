package tools

import (
	"context"
	"fmt"
	"time"
)

// DateTimeTool reports the current time, optionally in a named timezone.
type DateTimeTool struct{}

func NewDateTimeTool() *DateTimeTool { return &DateTimeTool{} }

func (t *DateTimeTool) Name() string { return "get_datetime" }

func (t *DateTimeTool) Description() string {
	return "Get the current date and time"
}

func (t *DateTimeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"timezone": map[string]interface{}{
				"type":        "string",
				"description": "Timezone (e.g., 'UTC', 'Asia/Shanghai')",
			},
		},
	}
}

func (t *DateTimeTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	tz, _ := args["timezone"].(string)
	if tz == "" {
		tz = "UTC"
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Error: unknown timezone %q", tz))
	}
	return NewResult(time.Now().In(loc).Format("2006-01-02 15:04:05 MST"))
}
