package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jllopis/conclave/pkg/core"
	cerrors "github.com/jllopis/conclave/pkg/errors"
	"github.com/jllopis/conclave/pkg/llm"
	"github.com/mark3labs/mcp-go/mcp"
)

// ToolCaller executes MCP tools.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
}

// ToolAdapter exposes a remote MCP tool as a core.Tool so sub-agents can
// call it.
type ToolAdapter struct {
	tool   mcp.Tool
	caller ToolCaller
}

// NewToolAdapter builds a core.Tool backed by an MCP tool definition.
func NewToolAdapter(tool mcp.Tool, caller ToolCaller) (*ToolAdapter, error) {
	if tool.Name == "" {
		return nil, cerrors.InvalidInput("mcp tool name is required")
	}
	if caller == nil {
		return nil, cerrors.InvalidInput("tool caller is required").WithContext("tool", tool.Name)
	}
	return &ToolAdapter{tool: tool, caller: caller}, nil
}

func (t *ToolAdapter) Name() string { return t.tool.Name }

// ToolDefinition returns the function definition shown to the model.
func (t *ToolAdapter) ToolDefinition() llm.Tool {
	return ToolDefinition(t.tool)
}

// Call invokes the remote tool. Input may be a map, JSON text or a bare
// string, which is passed as {"input": s}.
func (t *ToolAdapter) Call(ctx context.Context, input any) (any, error) {
	args, err := normalizeToolArgs(input)
	if err != nil {
		return nil, err
	}
	for _, key := range t.tool.InputSchema.Required {
		if _, ok := args[key]; !ok {
			return nil, cerrors.InvalidInput(fmt.Sprintf("missing required field %q", key)).WithContext("tool", t.tool.Name)
		}
	}
	result, err := t.caller.CallTool(ctx, t.tool.Name, args)
	if err != nil {
		return nil, err
	}
	return toolResultToOutput(result)
}

// ToolDefinition converts an MCP tool into an LLM function definition.
func ToolDefinition(tool mcp.Tool) llm.Tool {
	var params any = tool.InputSchema
	if tool.RawInputSchema != nil {
		params = tool.RawInputSchema
	}
	return llm.Tool{
		Type: llm.ToolTypeFunction,
		Function: llm.FunctionDef{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  params,
		},
	}
}

func normalizeToolArgs(input any) (map[string]any, error) {
	switch value := input.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return value, nil
	case string:
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return map[string]any{}, nil
		}
		if strings.HasPrefix(trimmed, "{") {
			var decoded map[string]any
			if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
				return decoded, nil
			}
		}
		return map[string]any{"input": value}, nil
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, cerrors.InvalidInput(fmt.Sprintf("unsupported tool input %T", input))
		}
		var decoded map[string]any
		if err := json.Unmarshal(encoded, &decoded); err != nil {
			return nil, cerrors.InvalidInput(fmt.Sprintf("tool input %T is not an object", input))
		}
		return decoded, nil
	}
}

func toolResultToOutput(result *mcp.CallToolResult) (any, error) {
	if result == nil {
		return nil, cerrors.New(cerrors.CodeBackendError, "mcp tool result is nil", nil)
	}
	if result.IsError {
		return nil, cerrors.New(cerrors.CodeBackendError, "mcp tool returned error: "+textContent(result.Content), nil)
	}
	if result.StructuredContent != nil {
		return result.StructuredContent, nil
	}
	return textContent(result.Content), nil
}

func textContent(items []mcp.Content) string {
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}

var _ core.Tool = (*ToolAdapter)(nil)
