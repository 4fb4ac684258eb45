package tools

import (
	"context"
	"fmt"
	"time"
)

// DatetimeTool reports the current time, optionally in a named zone.
type DatetimeTool struct{}

var _ Tool = (*DatetimeTool)(nil)

func NewDatetimeTool() *DatetimeTool { return &DatetimeTool{} }

func (t *DatetimeTool) Name() string { return "get_current_datetime" }
func (t *DatetimeTool) Description() string {
	return "Get the current date and time, optionally in a specific IANA timezone"
}
func (t *DatetimeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"timezone": map[string]interface{}{
				"type":        "string",
				"description": "IANA timezone name, e.g. Asia/Ho_Chi_Minh. Defaults to local time.",
			},
		},
	}
}

func (t *DatetimeTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	loc := time.Local
	if tz, _ := args["timezone"].(string); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return ErrorResult(fmt.Sprintf("unknown timezone: %s", tz))
		}
		loc = l
	}
	now := time.Now().In(loc)
	return SilentResult(now.Format("Monday, January 2, 2006 15:04:05 MST"))
}
