package mcp

import (
	"strings"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
)

func TestPrefixedName(t *testing.T) {
	got := prefixedName("github", "search_issues")
	if got != "mcp_github_search_issues" {
		t.Errorf("prefixedName = %q", got)
	}
}

func TestToDefinition(t *testing.T) {
	remote := mcpgo.Tool{
		Name:        "search",
		Description: "Search things",
		InputSchema: mcpgo.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"q": map[string]interface{}{"type": "string"},
			},
			Required: []string{"q"},
		},
	}
	def := toDefinition("mcp_srv_search", remote)
	if def.Type != "function" || def.Function.Name != "mcp_srv_search" {
		t.Errorf("definition = %+v", def)
	}
	if def.Function.Parameters["type"] != "object" {
		t.Errorf("parameters = %+v", def.Function.Parameters)
	}
	req, _ := def.Function.Parameters["required"].([]string)
	if len(req) != 1 || req[0] != "q" {
		t.Errorf("required = %+v", def.Function.Parameters["required"])
	}
}

func TestContentTextJoinsTextBlocks(t *testing.T) {
	got := contentText([]mcpgo.Content{
		mcpgo.TextContent{Type: "text", Text: "first"},
		mcpgo.TextContent{Type: "text", Text: "second"},
	})
	if got != "first\nsecond" {
		t.Errorf("contentText = %q", got)
	}
}

func TestContentTextStringifiesNonText(t *testing.T) {
	got := contentText([]mcpgo.Content{
		mcpgo.TextContent{Type: "text", Text: "caption"},
		mcpgo.ImageContent{Type: "image", Data: "aGk=", MIMEType: "image/png"},
	})
	lines := strings.Split(got, "\n")
	if len(lines) != 2 || lines[0] != "caption" {
		t.Fatalf("contentText = %q", got)
	}
	if !strings.Contains(lines[1], `"image/png"`) || !strings.Contains(lines[1], `"aGk="`) {
		t.Errorf("non-text block = %q, want JSON with the image payload", lines[1])
	}
}

func TestManagerUnknownTool(t *testing.T) {
	m := NewManager(nil)
	if m.HasTool("mcp_none_x") {
		t.Error("empty manager should not claim tools")
	}
	if defs := m.ListTools(); len(defs) != 0 {
		t.Errorf("ListTools = %d entries, want 0", len(defs))
	}
}
