package transport

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"
)

type pingArgs struct {
	Name string `json:"name"`
}

func newServer() *mcp.Server {
	s := mcp.NewServer(&mcp.Implementation{Name: "test", Version: "v0.0.1"}, nil)
	mcp.AddTool(s, &mcp.Tool{Name: "ping", Description: "replies pong"},
		func(ctx context.Context, req *mcp.CallToolRequest, args pingArgs) (*mcp.CallToolResult, any, error) {
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: "pong " + args.Name}},
			}, nil, nil
		})
	return s
}

func decode(t *testing.T, body string) jsonrpc.Message {
	t.Helper()
	msg, err := jsonrpc.DecodeMessage([]byte(body))
	require.NoError(t, err)
	return msg
}

func toolNames(t *testing.T, resp *jsonrpc.Response) []string {
	t.Helper()
	require.Nil(t, resp.Error)
	var res struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &res))
	names := []string{}
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	return names
}

func TestMCPEngineInitialize(t *testing.T) {
	ctx := context.Background()
	e := NewMCPEngine(newServer())
	a := NewAdapter("sess", Opts{ResponseTimeout: 5 * time.Second})
	defer a.Close()

	require.NoError(t, e.Connect(ctx, a, nil))

	resp, err := a.Process(ctx, decode(t, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"c","version":"1"}}}`))
	require.NoError(t, err)
	require.Nil(t, resp.Error)

	var res struct {
		ProtocolVersion string `json:"protocolVersion"`
		ServerInfo      struct {
			Name string `json:"name"`
		} `json:"serverInfo"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &res))
	require.Equal(t, "2025-06-18", res.ProtocolVersion)
	require.Equal(t, "test", res.ServerInfo.Name)

	resp, err = a.Process(ctx, decode(t, `{"jsonrpc":"2.0","method":"notifications/initialized","params":{}}`))
	require.NoError(t, err)
	require.Nil(t, resp)

	resp, err = a.Process(ctx, decode(t, `{"jsonrpc":"2.0","id":2,"method":"tools/list","params":{}}`))
	require.NoError(t, err)
	require.Equal(t, []string{"ping"}, toolNames(t, resp))
	require.Zero(t, a.DroppedWrites())
}

func TestMCPEngineResume(t *testing.T) {
	ctx := context.Background()
	e := NewMCPEngine(newServer())
	a := NewAdapter("sess", Opts{ResponseTimeout: 5 * time.Second})
	defer a.Close()

	require.NoError(t, e.Connect(ctx, a, &Resume{}))

	// No handshake on this adapter: the session is seeded as initialized.
	resp, err := a.Process(ctx, decode(t, `{"jsonrpc":"2.0","id":"x","method":"tools/call","params":{"name":"ping","arguments":{"name":"bob"}}}`))
	require.NoError(t, err)
	require.Nil(t, resp.Error)

	var res mcp.CallToolResult
	require.NoError(t, json.Unmarshal(resp.Result, &res))
	require.Len(t, res.Content, 1)
	require.Equal(t, "pong bob", res.Content[0].(*mcp.TextContent).Text)
}

func TestMCPEngineWithoutHandshakeRejects(t *testing.T) {
	ctx := context.Background()
	e := NewMCPEngine(newServer())
	a := NewAdapter("sess", Opts{ResponseTimeout: 5 * time.Second})
	defer a.Close()

	require.NoError(t, e.Connect(ctx, a, nil))

	resp, err := a.Process(ctx, decode(t, `{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`))
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
}

func TestMCPEngineConnectTwiceFails(t *testing.T) {
	ctx := context.Background()
	e := NewMCPEngine(newServer())
	a := NewAdapter("sess", Opts{})
	defer a.Close()

	require.NoError(t, e.Connect(ctx, a, nil))
	require.Error(t, e.Connect(ctx, a, nil))
	require.True(t, a.Closed())
}
