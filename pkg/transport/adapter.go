// Package transport bridges single HTTP request/response cycles to the MCP
// engine, which expects a long-lived bidirectional connection.
//
// An Adapter is handed to the engine as both its Transport and its
// Connection. Each inbound message is pushed through Process, which waits for
// the engine to write the matching response and returns it to the caller.
// Anything the engine writes that no caller is waiting for is dropped.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/inngest/mcpedge/pkg/consts"
	"github.com/inngest/mcpedge/pkg/logger"
	"github.com/inngest/mcpedge/pkg/telemetry"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// NotificationPrefix marks fire-and-forget methods.
const NotificationPrefix = "notifications/"

var (
	ErrClosed           = errors.New("transport closed")
	ErrNoResponse       = errors.New("no response produced")
	ErrAlreadyConnected = errors.New("transport already connected")
	ErrServerRequest    = errors.New("server-initiated requests are not supported")
)

// ErrEvicted is returned to callers of an adapter the registry dropped while
// the session itself stayed valid.
var ErrEvicted = fmt.Errorf("%w: evicted from registry", ErrClosed)

var (
	_ mcp.Transport  = (*Adapter)(nil)
	_ mcp.Connection = (*Adapter)(nil)
)

// incomingBuffer is how many messages may be queued for the engine's read
// loop before Process blocks.
const incomingBuffer = 16

// Opts configures an Adapter.
type Opts struct {
	// ResponseTimeout bounds each Process call waiting on the engine.
	ResponseTimeout time.Duration
	Logger          logger.Logger
	// OnDrop is called whenever a write from the engine is discarded.
	OnDrop func()
}

// Adapter is a per-session Transport and Connection for the MCP engine.
type Adapter struct {
	id      string
	timeout time.Duration
	log     logger.Logger
	onDrop  func()

	incoming chan jsonrpc.Message
	done     chan struct{}

	// sem serializes Process calls. A channel is used instead of a mutex
	// so waiting respects the caller's context.
	sem chan struct{}

	mu        sync.Mutex
	connected bool
	closed    bool
	err       error
	pending   *waiter

	dropped atomic.Int64
}

// waiter receives exactly one response for a request id.
type waiter struct {
	id jsonrpc.ID
	ch chan *jsonrpc.Response
}

func NewAdapter(sessionID string, opts Opts) *Adapter {
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = consts.DefaultResponseTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logger.VoidLogger()
	}
	return &Adapter{
		id:       sessionID,
		timeout:  opts.ResponseTimeout,
		log:      opts.Logger.With(logger.KeySessionID, sessionID),
		onDrop:   opts.OnDrop,
		incoming: make(chan jsonrpc.Message, incomingBuffer),
		done:     make(chan struct{}),
		sem:      make(chan struct{}, 1),
	}
}

// IsNotification reports whether msg expects no response.
func IsNotification(msg jsonrpc.Message) bool {
	req, ok := msg.(*jsonrpc.Request)
	if !ok {
		return false
	}
	return strings.HasPrefix(req.Method, NotificationPrefix) || !req.ID.IsValid()
}

// Connect hands the engine its connection. It may only be called once.
func (a *Adapter) Connect(ctx context.Context) (mcp.Connection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, ErrClosed
	}
	if a.connected {
		return nil, ErrAlreadyConnected
	}
	a.connected = true
	return a, nil
}

// SessionID returns the session this adapter serves.
func (a *Adapter) SessionID() string {
	return a.id
}

// Read blocks until Process delivers a message or the adapter closes.
func (a *Adapter) Read(ctx context.Context) (jsonrpc.Message, error) {
	select {
	case msg := <-a.incoming:
		return msg, nil
	case <-a.done:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Write routes a response from the engine to the caller waiting on its id.
func (a *Adapter) Write(ctx context.Context, msg jsonrpc.Message) error {
	resp, ok := msg.(*jsonrpc.Response)
	if !ok {
		if req, ok := msg.(*jsonrpc.Request); ok && req.IsCall() {
			a.drop("server request", "method", req.Method)
			return ErrServerRequest
		}
		// Server notifications have nowhere to go without a stream.
		a.drop("server notification")
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		a.dropLocked("response after close", "id", resp.ID.Raw())
		return ErrClosed
	}
	w := a.pending
	if w == nil || w.id != resp.ID {
		a.dropLocked("unmatched response", "id", resp.ID.Raw())
		return nil
	}
	select {
	case w.ch <- resp:
	default:
		a.dropLocked("duplicate response", "id", resp.ID.Raw())
	}
	return nil
}

// Close releases the engine's read loop and any waiting caller. It's safe to
// call more than once.
func (a *Adapter) Close() error {
	a.shutdown(nil)
	return nil
}

// fail records a terminal error and closes the adapter. Later calls to
// Process return err.
func (a *Adapter) fail(err error) {
	a.shutdown(err)
}

// evict closes the adapter on behalf of the registry.
func (a *Adapter) evict() {
	a.shutdown(ErrEvicted)
}

func (a *Adapter) shutdown(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	a.err = err
	a.pending = nil
	close(a.done)
	a.log.Trace("transport closed", "reason", a.errLocked())
}

// Closed reports whether the adapter has been closed.
func (a *Adapter) Closed() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

// Busy reports whether a Process call is in flight.
func (a *Adapter) Busy() bool {
	return len(a.sem) > 0
}

// Err returns the terminal error, ErrClosed once closed without one, or nil.
func (a *Adapter) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.errLocked()
}

func (a *Adapter) errLocked() error {
	if !a.closed {
		return nil
	}
	if a.err != nil {
		return a.err
	}
	return ErrClosed
}

// DroppedWrites counts engine writes that no caller was waiting for.
func (a *Adapter) DroppedWrites() int64 {
	return a.dropped.Load()
}

// Process delivers msg to the engine. Notifications and client responses
// return a nil response as soon as they're delivered. Requests wait for the
// engine's response until ctx is done or the response timeout elapses, in
// which case ErrNoResponse is returned.
func (a *Adapter) Process(ctx context.Context, msg jsonrpc.Message) (*jsonrpc.Response, error) {
	ctx, span := telemetry.Tracer(consts.OtelScopeTransport).Start(ctx, "transport.process",
		trace.WithAttributes(attribute.String(consts.OtelAttrSessionID, a.id)),
	)
	defer span.End()

	resp, err := a.process(ctx, msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return resp, err
}

func (a *Adapter) process(ctx context.Context, msg jsonrpc.Message) (*jsonrpc.Response, error) {
	select {
	case a.sem <- struct{}{}:
		defer func() { <-a.sem }()
	case <-a.done:
		return nil, a.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	a.mu.Lock()
	if err := a.errLocked(); err != nil {
		a.mu.Unlock()
		return nil, err
	}
	// Anything left over from an earlier call is stale.
	a.pending = nil

	req, isReq := msg.(*jsonrpc.Request)
	if !isReq || IsNotification(msg) {
		a.mu.Unlock()
		if isReq {
			trace.SpanFromContext(ctx).SetAttributes(
				attribute.String(consts.OtelAttrMethod, req.Method),
				attribute.Bool(consts.OtelAttrNotification, true),
			)
		}
		return nil, a.deliver(ctx, msg)
	}

	w := &waiter{id: req.ID, ch: make(chan *jsonrpc.Response, 1)}
	a.pending = w
	a.mu.Unlock()

	trace.SpanFromContext(ctx).SetAttributes(attribute.String(consts.OtelAttrMethod, req.Method))

	defer func() {
		a.mu.Lock()
		if a.pending == w {
			a.pending = nil
		}
		a.mu.Unlock()
	}()

	if err := a.deliver(ctx, msg); err != nil {
		return nil, err
	}

	timer := time.NewTimer(a.timeout)
	defer timer.Stop()

	select {
	case resp := <-w.ch:
		return resp, nil
	case <-a.done:
		return nil, a.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		a.log.Warn("engine produced no response", logger.KeyMethod, req.Method, "timeout", a.timeout)
		return nil, fmt.Errorf("%w for %q within %s", ErrNoResponse, req.Method, a.timeout)
	}
}

func (a *Adapter) deliver(ctx context.Context, msg jsonrpc.Message) error {
	select {
	case a.incoming <- msg:
		return nil
	case <-a.done:
		return a.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Adapter) drop(reason string, args ...any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dropLocked(reason, args...)
}

func (a *Adapter) dropLocked(reason string, args ...any) {
	a.dropped.Add(1)
	if a.onDrop != nil {
		a.onDrop()
	}
	a.log.Debug("dropped engine write", append([]any{"reason", reason}, args...)...)
}
