package tools

import (
	"context"

	"github.com/dinh2350/lunar-sub002/internal/providers"
)

// Tool is a capability the agent can invoke during a conversation.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// Definition converts a tool to the wire schema providers expect.
func Definition(t Tool) providers.ToolDefinition {
	return providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		},
	}
}
