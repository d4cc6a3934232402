// Package actions defines the tools and resources the server exposes to MCP
// clients.
package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	_ "time/tzdata" // server_time resolves zones without system tzdata

	"github.com/inngest/mcpedge/pkg/config"
	"github.com/inngest/mcpedge/pkg/consts"
	"github.com/inngest/mcpedge/pkg/logger"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	mcpTitle = "mcpedge"

	// ServerInfoURI is the built-in resource describing this server.
	ServerInfoURI = "mcpedge://server/info"

	defaultMIMEType = "text/plain"
)

// Opts configures the actions registered on a server.
type Opts struct {
	Version   string
	Resources []config.Resource
	Logger    logger.Logger
	// Now overrides the clock used by server_time.
	Now func() time.Time
}

// Handler implements the built-in tools.
type Handler struct {
	opts    Opts
	started time.Time
}

// NewServer creates an MCP server with every built-in action registered.
func NewServer(opts Opts) *mcp.Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logger.VoidLogger()
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    consts.ServerName,
		Version: opts.Version,
		Title:   mcpTitle,
	}, &mcp.ServerOptions{
		Logger: opts.Logger.SLog(),
	})

	h := &Handler{opts: opts, started: opts.Now()}
	h.Register(server)
	return server
}

// Register adds the built-in tools and resources to server.
func (h *Handler) Register(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "echo",
		Title:       "Echo",
		Description: "Returns the given text unchanged. Parameters: text (required string)",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true, IdempotentHint: true},
	}, h.echo)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "server_time",
		Title:       "Server time",
		Description: "Returns the server's current time in RFC 3339 format. Parameters: timezone (optional IANA zone such as 'Europe/Paris', default UTC)",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, h.serverTime)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "session_info",
		Title:       "Session info",
		Description: "Returns the id of the session making the call. No parameters required.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true, IdempotentHint: true},
	}, h.sessionInfo)

	server.AddResource(&mcp.Resource{
		URI:         ServerInfoURI,
		Name:        "server-info",
		Description: "Name, version and uptime of this server",
		MIMEType:    "application/json",
	}, h.serverInfo)

	for _, r := range h.opts.Resources {
		res := r
		mime := res.MIMEType
		if mime == "" {
			mime = defaultMIMEType
		}
		name := res.Name
		if name == "" {
			name = res.URI
		}
		server.AddResource(&mcp.Resource{
			URI:         res.URI,
			Name:        name,
			Description: res.Description,
			MIMEType:    mime,
		}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			return &mcp.ReadResourceResult{
				Contents: []*mcp.ResourceContents{{
					URI:      res.URI,
					MIMEType: mime,
					Text:     res.Text,
				}},
			}, nil
		})
	}
}

// EchoArgs represents the arguments for the echo tool
type EchoArgs struct {
	Text string `json:"text" jsonschema:"the text to return"`
}

// ServerTimeArgs represents the arguments for the server_time tool
type ServerTimeArgs struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"an IANA time zone name such as Europe/Paris"`
}

// ServerTimeResult represents the result of the server_time tool
type ServerTimeResult struct {
	Time     string `json:"time"`
	Timezone string `json:"timezone"`
	Unix     int64  `json:"unix"`
}

// SessionInfoResult represents the result of the session_info tool
type SessionInfoResult struct {
	SessionID string `json:"sessionId"`
}

// ServerInfo is the content of the server info resource.
type ServerInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	StartedAt string `json:"startedAt"`
	Uptime    string `json:"uptime"`
}

func text(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: s},
		},
	}
}

func (h *Handler) echo(ctx context.Context, req *mcp.CallToolRequest, args EchoArgs) (*mcp.CallToolResult, any, error) {
	return text(args.Text), nil, nil
}

func (h *Handler) serverTime(ctx context.Context, req *mcp.CallToolRequest, args ServerTimeArgs) (*mcp.CallToolResult, any, error) {
	zone := args.Timezone
	if zone == "" {
		zone = "UTC"
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, nil, fmt.Errorf("unknown timezone %q", args.Timezone)
	}

	now := h.opts.Now().In(loc)
	result := ServerTimeResult{
		Time:     now.Format(time.RFC3339),
		Timezone: loc.String(),
		Unix:     now.Unix(),
	}
	return text(result.Time), result, nil
}

func (h *Handler) sessionInfo(ctx context.Context, req *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
	result := SessionInfoResult{}
	if req != nil && req.Session != nil {
		result.SessionID = req.Session.ID()
	}
	if result.SessionID == "" {
		return text("This call has no session."), result, nil
	}
	return text(fmt.Sprintf("Session ID: %s", result.SessionID)), result, nil
}

func (h *Handler) serverInfo(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	byt, err := json.Marshal(ServerInfo{
		Name:      consts.ServerName,
		Version:   h.opts.Version,
		StartedAt: h.started.UTC().Format(time.RFC3339),
		Uptime:    h.opts.Now().Sub(h.started).Round(time.Second).String(),
	})
	if err != nil {
		return nil, err
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      ServerInfoURI,
			MIMEType: "application/json",
			Text:     string(byt),
		}},
	}, nil
}
