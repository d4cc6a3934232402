// Package router maps stateless HTTP requests onto MCP sessions: it
// bootstraps sessions on initialize, resumes them on later requests by
// rebuilding transports from the session store when needed, and terminates
// them on DELETE.
package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/inngest/mcpedge/pkg/consts"
	"github.com/inngest/mcpedge/pkg/headers"
	"github.com/inngest/mcpedge/pkg/logger"
	"github.com/inngest/mcpedge/pkg/metrics"
	"github.com/inngest/mcpedge/pkg/rpcerr"
	"github.com/inngest/mcpedge/pkg/session"
	"github.com/inngest/mcpedge/pkg/telemetry"
	"github.com/inngest/mcpedge/pkg/transport"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	methodInitialize = "initialize"

	// ReadyBody acknowledges a GET for a live session.
	ReadyBody = "ready"
	// TerminatedBody confirms a DELETE.
	TerminatedBody = "Session terminated"

	allowedMethods = "GET, POST, DELETE"
)

type Opts struct {
	Store    session.Store
	Registry *transport.Registry
	Engine   transport.Engine
	Logger   logger.Logger
	Metrics  *metrics.MetricsAPI

	SessionTTL      time.Duration
	ResponseTimeout time.Duration
	// RefreshOnUse rewrites the session record, restarting its TTL, on
	// every request that uses it.
	RefreshOnUse bool
	MaxBodyBytes int64

	// NewSessionID generates ids for bootstrapped sessions.
	NewSessionID func() string
}

// Router serves the MCP endpoint.
type Router struct {
	opts Opts
	log  logger.Logger
}

func New(opts Opts) *Router {
	if opts.Logger == nil {
		opts.Logger = logger.VoidLogger()
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = consts.DefaultSessionTTL
	}
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = consts.DefaultResponseTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = consts.DefaultMaxBodyBytes
	}
	if opts.NewSessionID == nil {
		opts.NewSessionID = session.NewID
	}
	return &Router{opts: opts, log: opts.Logger}
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := telemetry.Tracer(consts.OtelScopeRouter).Start(ctx, "mcp.request",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String(consts.OtelAttrHTTPMethod, r.Method)),
	)
	defer span.End()
	r = r.WithContext(ctx)

	var outcome string
	switch r.Method {
	case http.MethodPost:
		outcome = rt.handlePost(w, r)
	case http.MethodGet:
		outcome = rt.handleGet(w, r)
	case http.MethodDelete:
		outcome = rt.handleDelete(w, r)
	default:
		w.Header().Set("Allow", allowedMethods)
		outcome = rt.writeError(w, r, nil, rpcerr.Errorf(http.StatusMethodNotAllowed, rpcerr.CodeInvalidRequest, "Method %s not allowed", r.Method))
	}
	rt.opts.Metrics.Request(r.Method, outcome)
}

func (rt *Router) handlePost(w http.ResponseWriter, r *http.Request) string {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, rt.opts.MaxBodyBytes))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return rt.writeError(w, r, nil, rpcerr.Wrap(err, http.StatusRequestEntityTooLarge, rpcerr.CodeInvalidRequest, "Request body too large"))
		}
		return rt.writeError(w, r, nil, rpcerr.ParseError(err))
	}

	msg, err := decode(body)
	if err != nil {
		return rt.writeError(w, r, nil, err)
	}

	if req, ok := msg.(*jsonrpc.Request); ok && req.Method == methodInitialize {
		if !req.IsCall() {
			// Without an id there's no response to carry the session.
			return rt.writeError(w, r, nil, rpcerr.InvalidRequest(http.StatusBadRequest, "initialize must be a request"))
		}
		return rt.bootstrap(w, r, req)
	}

	id := r.Header.Get(headers.HeaderKeySessionID)
	if id == "" {
		return rt.writeError(w, r, msgID(msg), rpcerr.InvalidRequest(http.StatusBadRequest, "Session required: send initialize first"))
	}
	return rt.resume(w, r, id, msg)
}

// bootstrap creates a session, then hands the initialize request to a fresh
// engine session. Failures leave neither a store record nor a transport.
func (rt *Router) bootstrap(w http.ResponseWriter, r *http.Request, req *jsonrpc.Request) string {
	ctx := r.Context()
	id := rt.opts.NewSessionID()
	l := rt.reqLog(ctx).With(logger.KeySessionID, id)
	trace.SpanFromContext(ctx).SetAttributes(attribute.String(consts.OtelAttrSessionID, id))

	if err := rt.opts.Store.Create(ctx, id, rt.opts.SessionTTL); err != nil {
		l.Error("error creating session", "error", err)
		return rt.writeError(w, r, req.ID.Raw(), rpcerr.Internal(err, http.StatusInternalServerError))
	}

	a := rt.newAdapter(id)
	rt.opts.Registry.Put(id, a)
	if err := rt.opts.Engine.Connect(ctx, a, nil); err != nil {
		rt.teardown(ctx, id)
		return rt.writeError(w, r, req.ID.Raw(), rpcerr.Internal(err, http.StatusInternalServerError))
	}

	if err := withInitializeDefaults(req, r.Header.Get(headers.HeaderKeyProtocolVersion)); err != nil {
		rt.teardown(ctx, id)
		return rt.writeError(w, r, req.ID.Raw(), err)
	}

	resp, err := rt.process(ctx, a, req)
	if err == nil && resp == nil {
		err = transport.ErrNoResponse
	}
	if err != nil {
		rt.teardown(ctx, id)
		return rt.writeError(w, r, req.ID.Raw(), processError(err))
	}
	if resp.Error != nil {
		// The handshake was refused, so the session never existed.
		l.Warn("initialize rejected", "error", resp.Error)
		rt.teardown(ctx, id)
		rt.writeResponse(w, http.StatusBadRequest, resp)
		return metrics.OutcomeClientError
	}

	rt.opts.Metrics.SessionCreated()
	l.NoticeContext(ctx, "session created")
	w.Header().Set(headers.HeaderKeySessionID, id)
	rt.writeResponse(w, http.StatusOK, resp)
	return metrics.OutcomeOK
}

// resume routes msg through the session's transport, rebuilding it when this
// process hasn't seen the session.
func (rt *Router) resume(w http.ResponseWriter, r *http.Request, id string, msg jsonrpc.Message) string {
	ctx := r.Context()
	l := rt.reqLog(ctx).With(logger.KeySessionID, id)
	trace.SpanFromContext(ctx).SetAttributes(attribute.String(consts.OtelAttrSessionID, id))

	if !rt.valid(ctx, id) {
		rt.opts.Registry.Remove(id)
		return rt.writeError(w, r, msgID(msg), errSessionNotFound)
	}
	if err := rt.refresh(ctx, id); err != nil {
		return rt.writeError(w, r, msgID(msg), err)
	}

	a, created, err := rt.opts.Registry.GetOrCreate(id, func() (*transport.Adapter, error) {
		a := rt.newAdapter(id)
		resume := &transport.Resume{ProtocolVersion: r.Header.Get(headers.HeaderKeyProtocolVersion)}
		if err := rt.opts.Engine.Connect(ctx, a, resume); err != nil {
			return nil, err
		}
		return a, nil
	})
	if err != nil {
		l.Error("error recreating transport", "error", err)
		return rt.writeError(w, r, msgID(msg), rpcerr.Internal(err, http.StatusInternalServerError))
	}
	if created {
		rt.opts.Metrics.TransportRecreated()
		l.Debug("transport recreated")
		trace.SpanFromContext(ctx).SetAttributes(attribute.Bool(consts.OtelAttrRecreated, true))
	}

	resp, err := rt.process(ctx, a, msg)
	if err != nil {
		if errors.Is(err, transport.ErrEvicted) {
			l.Warn("transport evicted during request", "error", err)
		}
		return rt.writeError(w, r, msgID(msg), processError(err))
	}

	w.Header().Set(headers.HeaderKeySessionID, id)
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return metrics.OutcomeAccepted
	}
	rt.writeResponse(w, http.StatusOK, resp)
	return metrics.OutcomeOK
}

func (rt *Router) handleGet(w http.ResponseWriter, r *http.Request) string {
	ctx := r.Context()
	id := r.Header.Get(headers.HeaderKeySessionID)
	if id == "" {
		return rt.writeError(w, r, nil, rpcerr.InvalidRequest(http.StatusBadRequest, "Session required"))
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String(consts.OtelAttrSessionID, id))

	if !rt.valid(ctx, id) {
		return rt.writeError(w, r, nil, errSessionNotFound)
	}
	if err := rt.refresh(ctx, id); err != nil {
		return rt.writeError(w, r, nil, err)
	}

	w.Header().Set(headers.HeaderKeySessionID, id)
	writeText(w, http.StatusOK, ReadyBody)
	return metrics.OutcomeOK
}

// handleDelete terminates a session. It succeeds whether or not the session
// existed.
func (rt *Router) handleDelete(w http.ResponseWriter, r *http.Request) string {
	ctx := r.Context()
	id := r.Header.Get(headers.HeaderKeySessionID)
	if id == "" {
		writeText(w, http.StatusOK, TerminatedBody)
		return metrics.OutcomeOK
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String(consts.OtelAttrSessionID, id))

	l := rt.reqLog(ctx).With(logger.KeySessionID, id)
	existed := rt.opts.Registry.Remove(id)
	if session.ValidID(id) {
		ok, err := rt.opts.Store.Exists(ctx, id)
		if err != nil {
			l.Warn("error checking session before destroy", "error", err)
		}
		existed = existed || ok
		if err := rt.opts.Store.Destroy(ctx, id); err != nil {
			l.Error("error destroying session", "error", err)
			return rt.writeError(w, r, nil, rpcerr.Internal(err, http.StatusInternalServerError))
		}
	}

	if existed {
		rt.opts.Metrics.SessionTerminated()
		l.NoticeContext(ctx, "session terminated")
	}
	writeText(w, http.StatusOK, TerminatedBody)
	return metrics.OutcomeOK
}

var errSessionNotFound = rpcerr.InvalidRequest(http.StatusNotFound, "Session not found or expired")

// valid reports whether the store holds id. Store failures are logged and
// treated as a missing session.
func (rt *Router) valid(ctx context.Context, id string) bool {
	if !session.ValidID(id) {
		return false
	}
	ok, err := rt.opts.Store.Exists(ctx, id)
	if err != nil {
		rt.reqLog(ctx).Warn("error checking session, treating as missing", logger.KeySessionID, id, "error", err)
		return false
	}
	return ok
}

func (rt *Router) refresh(ctx context.Context, id string) error {
	if !rt.opts.RefreshOnUse {
		return nil
	}
	if err := rt.opts.Store.Create(ctx, id, rt.opts.SessionTTL); err != nil {
		rt.reqLog(ctx).Error("error refreshing session", logger.KeySessionID, id, "error", err)
		return rpcerr.Internal(err, http.StatusInternalServerError)
	}
	return nil
}

// teardown removes everything bootstrap created for id.
func (rt *Router) teardown(ctx context.Context, id string) {
	rt.opts.Registry.Remove(id)
	if err := rt.opts.Store.Destroy(context.WithoutCancel(ctx), id); err != nil {
		rt.reqLog(ctx).Error("error destroying session after failed bootstrap", logger.KeySessionID, id, "error", err)
	}
}

// reqLog returns the router's logger, tagged with the request id when the
// request id middleware set one.
func (rt *Router) reqLog(ctx context.Context) logger.Logger {
	if id := middleware.GetReqID(ctx); id != "" {
		return rt.log.With(logger.KeyRequestID, id)
	}
	return rt.log
}

func (rt *Router) newAdapter(id string) *transport.Adapter {
	return transport.NewAdapter(id, transport.Opts{
		ResponseTimeout: rt.opts.ResponseTimeout,
		Logger:          rt.log,
		OnDrop:          rt.opts.Metrics.DroppedWrite,
	})
}

func (rt *Router) process(ctx context.Context, a *transport.Adapter, msg jsonrpc.Message) (*jsonrpc.Response, error) {
	start := time.Now()
	resp, err := a.Process(ctx, msg)
	if req, ok := msg.(*jsonrpc.Request); ok {
		rt.opts.Metrics.ObserveEngine(req.Method, time.Since(start))
		rt.reqLog(ctx).TraceContext(ctx, "message processed",
			logger.KeySessionID, a.SessionID(),
			logger.KeyMethod, req.Method,
			"duration", time.Since(start),
			"error", err,
		)
	}
	return resp, err
}

// writeError renders err and returns the outcome recorded for it.
func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, id any, err error) string {
	pe := rpcerr.As(err)
	l := rt.reqLog(r.Context())
	if pe.Status >= 500 {
		l.Error("error handling request", "method", r.Method, "status", pe.Status, "error", err)
	}
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.Int("http.response.status_code", pe.Status))
	if werr := rpcerr.WriteHTTP(w, id, pe); werr != nil {
		l.Warn("error writing response", "error", werr)
	}
	return outcome(pe.Status)
}

func (rt *Router) writeResponse(w http.ResponseWriter, status int, resp *jsonrpc.Response) {
	byt, err := jsonrpc.EncodeMessage(resp)
	if err != nil {
		rt.log.Error("error encoding response", "error", err)
		_ = rpcerr.WriteHTTP(w, resp.ID.Raw(), rpcerr.WrapDefaults(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(byt)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func outcome(status int) string {
	switch {
	case status == http.StatusGatewayTimeout:
		return metrics.OutcomeTimeout
	case status == http.StatusRequestEntityTooLarge:
		return metrics.OutcomeBodyTooLarge
	case status >= 500:
		return metrics.OutcomeServerError
	case status >= 400:
		return metrics.OutcomeClientError
	default:
		return metrics.OutcomeOK
	}
}

// processError maps transport failures to public errors.
func processError(err error) error {
	switch {
	case errors.Is(err, transport.ErrNoResponse):
		return rpcerr.Wrap(err, http.StatusGatewayTimeout, rpcerr.CodeInternalError, "Timed out waiting for a response")
	case errors.Is(err, transport.ErrEvicted):
		// The session is still valid, only this process's transport went away.
		return rpcerr.Wrap(err, http.StatusServiceUnavailable, rpcerr.CodeInternalError, "Transport was recycled, retry the request")
	case errors.Is(err, transport.ErrClosed):
		// Terminated while the request was in flight.
		return rpcerr.Wrap(err, http.StatusNotFound, rpcerr.CodeInvalidRequest, "Session not found or expired")
	default:
		return rpcerr.Internal(err, http.StatusInternalServerError)
	}
}

func msgID(msg jsonrpc.Message) any {
	switch m := msg.(type) {
	case *jsonrpc.Request:
		return m.ID.Raw()
	case *jsonrpc.Response:
		return m.ID.Raw()
	}
	return nil
}

// decode parses a single JSON-RPC message. Batches aren't supported.
func decode(body []byte) (jsonrpc.Message, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, rpcerr.ParseError(errors.New("empty body"))
	}
	if !json.Valid(body) {
		return nil, rpcerr.ParseError(errors.New("invalid json"))
	}
	if body[0] == '[' {
		return nil, rpcerr.InvalidRequest(http.StatusBadRequest, "Batch requests are not supported")
	}
	msg, err := jsonrpc.DecodeMessage(body)
	if err != nil {
		return nil, rpcerr.Wrap(err, http.StatusBadRequest, rpcerr.CodeInvalidRequest, "Invalid Request")
	}
	return msg, nil
}

// withInitializeDefaults fills in params for clients that send a bare
// initialize, so the engine can complete the handshake.
func withInitializeDefaults(req *jsonrpc.Request, protocolVersion string) error {
	raw := bytes.TrimSpace(req.Params)
	if len(raw) != 0 && !bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if protocolVersion == "" {
		protocolVersion = consts.DefaultProtocolVersion
	}
	params, err := json.Marshal(map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "unknown", "version": "0.0.0"},
	})
	if err != nil {
		return rpcerr.WrapDefaults(fmt.Errorf("error building initialize params: %w", err))
	}
	req.Params = params
	return nil
}
