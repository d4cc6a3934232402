package transport

import (
	"context"
	"fmt"

	"github.com/inngest/mcpedge/pkg/consts"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Engine attaches adapters to a protocol engine session.
type Engine interface {
	// Connect starts an engine session on a. When resume is non-nil the
	// session is treated as already initialized, so requests after an
	// adapter is rebuilt don't require a second handshake.
	Connect(ctx context.Context, a *Adapter, resume *Resume) error
}

// Resume describes an existing session being reattached to the engine.
type Resume struct {
	ProtocolVersion string
}

// MCPEngine connects adapters to an *mcp.Server.
type MCPEngine struct {
	server *mcp.Server
}

func NewMCPEngine(server *mcp.Server) *MCPEngine {
	return &MCPEngine{server: server}
}

func (e *MCPEngine) Connect(ctx context.Context, a *Adapter, resume *Resume) error {
	var opts *mcp.ServerSessionOptions
	if resume != nil {
		pv := resume.ProtocolVersion
		if pv == "" {
			pv = consts.DefaultProtocolVersion
		}
		opts = &mcp.ServerSessionOptions{
			State: &mcp.ServerSessionState{
				InitializeParams:  &mcp.InitializeParams{ProtocolVersion: pv},
				InitializedParams: new(mcp.InitializedParams),
				LogLevel:          "info",
			},
		}
	}

	// The engine session outlives the request that created it.
	if _, err := e.server.Connect(context.WithoutCancel(ctx), a, opts); err != nil {
		err = fmt.Errorf("error connecting engine session: %w", err)
		a.fail(err)
		return err
	}
	return nil
}
