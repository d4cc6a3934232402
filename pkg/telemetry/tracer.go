package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type TracerType int8

const (
	TracerTypeNoop TracerType = iota
	TracerTypeIO
	TracerTypeOTLP
	TracerTypeOTLPHTTP
)

const (
	defaultEndpoint       = "otel-collector:4317"
	defaultURLPath        = "/v1/traces"
	defaultMaxPayloadSize = 4 * 1024 * 1024
)

// ParseTracerType maps a configuration value to a tracer type. Empty values
// disable tracing.
func ParseTracerType(s string) (TracerType, error) {
	switch strings.ToLower(s) {
	case "", "none", "noop", "off":
		return TracerTypeNoop, nil
	case "stdout", "io":
		return TracerTypeIO, nil
	case "otlp", "otlp-grpc":
		return TracerTypeOTLP, nil
	case "otlp-http":
		return TracerTypeOTLPHTTP, nil
	default:
		return TracerTypeNoop, fmt.Errorf("unknown tracer type %q", s)
	}
}

type TracerOpts struct {
	Type        TracerType
	ServiceName string
	// Writer receives spans for TracerTypeIO. Defaults to stdout.
	Writer io.Writer

	// TraceEndpoint is the collector's host:port for the OTLP exporters.
	TraceEndpoint string
	// TraceURLPath is the collector path for TracerTypeOTLPHTTP.
	TraceURLPath             string
	TraceMaxPayloadSizeBytes int
}

func (o TracerOpts) Endpoint() string {
	if o.TraceEndpoint != "" {
		return o.TraceEndpoint
	}
	if e := os.Getenv("OTEL_TRACES_COLLECTOR_ENDPOINT"); e != "" {
		return e
	}
	return defaultEndpoint
}

func (o TracerOpts) URLPath() string {
	if o.TraceURLPath != "" {
		return o.TraceURLPath
	}
	if p := os.Getenv("OTEL_TRACE_COLLECTOR_URL_PATH"); p != "" {
		return p
	}
	return defaultURLPath
}

func (o TracerOpts) MaxPayloadSizeBytes() int {
	if o.TraceMaxPayloadSizeBytes > 0 {
		return o.TraceMaxPayloadSizeBytes
	}
	return defaultMaxPayloadSize
}

// TracerCloser wraps the provider so callers can flush on shutdown.
type TracerCloser interface {
	Provider() oteltrace.TracerProvider
	Shutdown(ctx context.Context) error
}

type tracer struct {
	provider *trace.TracerProvider
	// conn is closed after the provider flushes, if set.
	conn io.Closer
}

func (t tracer) Provider() oteltrace.TracerProvider {
	return t.provider
}

func (t tracer) Shutdown(ctx context.Context) error {
	err := t.provider.Shutdown(ctx)
	if t.conn != nil {
		if cerr := t.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

type noopTracer struct {
	provider oteltrace.TracerProvider
}

func (t noopTracer) Provider() oteltrace.TracerProvider {
	return t.provider
}

func (noopTracer) Shutdown(context.Context) error {
	return nil
}

// NewTracer creates a tracer and installs it, together with W3C trace
// context propagation, as the global provider.
func NewTracer(ctx context.Context, opts TracerOpts) (TracerCloser, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	var (
		t   TracerCloser
		err error
	)
	switch opts.Type {
	case TracerTypeIO:
		t, err = newIOTraceProvider(opts)
	case TracerTypeOTLP:
		t, err = newOTLPGRPCTraceProvider(ctx, opts)
	case TracerTypeOTLPHTTP:
		t, err = newOTLPHTTPTraceProvider(ctx, opts)
	default:
		t = noopTracer{provider: noop.NewTracerProvider()}
	}
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(t.Provider())
	return t, nil
}

func newResource(opts TracerOpts) *resource.Resource {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(opts.ServiceName),
	)
}

func newIOTraceProvider(opts TracerOpts) (TracerCloser, error) {
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("error creating stdout exporter: %w", err)
	}
	tp := trace.NewTracerProvider(
		trace.WithSyncer(exp),
		trace.WithResource(newResource(opts)),
	)
	return tracer{provider: tp}, nil
}

func newOTLPHTTPTraceProvider(ctx context.Context, opts TracerOpts) (TracerCloser, error) {
	client := otlptracehttp.NewClient(
		otlptracehttp.WithEndpoint(opts.Endpoint()),
		otlptracehttp.WithURLPath(opts.URLPath()),
		otlptracehttp.WithInsecure(),
	)
	exp, err := otlptrace.New(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("error creating otlp http trace client: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithSpanProcessor(trace.NewBatchSpanProcessor(exp, trace.WithBatchTimeout(100*time.Millisecond))),
		trace.WithResource(newResource(opts)),
	)
	return tracer{provider: tp}, nil
}

func newOTLPGRPCTraceProvider(ctx context.Context, opts TracerOpts) (TracerCloser, error) {
	// The collector is expected on the same private network.
	conn, err := grpc.NewClient(opts.Endpoint(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallSendMsgSize(opts.MaxPayloadSizeBytes()),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to otel collector via grpc: %w", err)
	}

	exp, err := otlptrace.New(ctx, otlptracegrpc.NewClient(otlptracegrpc.WithGRPCConn(conn)))
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("error creating otlp trace client: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithSpanProcessor(trace.NewBatchSpanProcessor(exp)),
		trace.WithResource(newResource(opts)),
	)
	return tracer{provider: tp, conn: conn}, nil
}

// Tracer returns a named tracer from the global provider.
func Tracer(scope string) oteltrace.Tracer {
	return otel.Tracer(scope)
}
