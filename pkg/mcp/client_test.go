package mcp

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	cerrors "github.com/jllopis/conclave/pkg/errors"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vaultServer() *server.MCPServer {
	s := server.NewMCPServer("vault", "1.0.0", server.WithToolCapabilities(false))
	s.AddTool(mcp.NewTool("vault_search",
		mcp.WithDescription("Search the knowledge vault"),
		mcp.WithString("query", mcp.Required()),
	), func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText("notes about " + req.GetString("query", "")), nil
	})
	return s
}

func TestClientToolsInProcess(t *testing.T) {
	ctx := context.Background()
	inproc, err := client.NewInProcessClient(vaultServer())
	require.NoError(t, err)
	require.NoError(t, Initialize(ctx, inproc))

	c := NewClient(inproc, WithTimeout(2*time.Second))
	defer c.Close()

	tools, err := c.Tools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "vault_search", tools[0].Name())
	assert.Equal(t, "Search the knowledge vault", tools[0].ToolDefinition().Function.Description)

	out, err := tools[0].Call(ctx, `{"query":"stoicism"}`)
	require.NoError(t, err)
	assert.Equal(t, "notes about stoicism", out)

	_, err = tools[0].Call(ctx, map[string]any{})
	assert.True(t, cerrors.IsCode(err, cerrors.CodeInvalidInput))
}

type flakyMCP struct {
	client.MCPClient
	failures  int32
	listCalls int32
}

func (f *flakyMCP) ListTools(context.Context, mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	n := atomic.AddInt32(&f.listCalls, 1)
	if n <= f.failures {
		return nil, errors.New("connection reset")
	}
	return &mcp.ListToolsResult{Tools: []mcp.Tool{{Name: "calendar"}}}, nil
}

func TestListToolsRetriesAndCaches(t *testing.T) {
	f := &flakyMCP{failures: 1}
	c := NewClient(f, WithRetry(2, time.Millisecond))

	tools, err := c.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.EqualValues(t, 2, atomic.LoadInt32(&f.listCalls))

	_, err = c.ListTools(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&f.listCalls), "second listing should hit the cache")
}

func TestListToolsGivesUp(t *testing.T) {
	f := &flakyMCP{failures: 10}
	c := NewClient(f, WithRetry(1, time.Millisecond), WithToolCacheTTL(0))

	_, err := c.ListTools(context.Background())
	assert.True(t, cerrors.IsCode(err, cerrors.CodeBackendError))
	assert.EqualValues(t, 2, atomic.LoadInt32(&f.listCalls))
}
