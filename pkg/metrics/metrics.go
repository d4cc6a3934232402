package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

const namespace = "mcpedge"

// Request outcomes recorded by the router.
const (
	OutcomeOK           = "ok"
	OutcomeAccepted     = "accepted"
	OutcomeClientError  = "client_error"
	OutcomeServerError  = "server_error"
	OutcomeTimeout      = "timeout"
	OutcomeRateLimited  = "rate_limited"
	OutcomeBodyTooLarge = "body_too_large"
)

// LabelOther replaces label values outside the known set, so clients can't
// grow series without bound.
const LabelOther = "other"

// rpcMethods are the MCP methods recorded by name.
var rpcMethods = map[string]bool{
	"initialize":                       true,
	"ping":                             true,
	"tools/list":                       true,
	"tools/call":                       true,
	"resources/list":                   true,
	"resources/read":                   true,
	"resources/templates/list":         true,
	"resources/subscribe":              true,
	"resources/unsubscribe":            true,
	"prompts/list":                     true,
	"prompts/get":                      true,
	"completion/complete":              true,
	"logging/setLevel":                 true,
	"notifications/initialized":        true,
	"notifications/cancelled":          true,
	"notifications/progress":           true,
	"notifications/roots/list_changed": true,
}

var httpMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodPost:    true,
	http.MethodDelete:  true,
	http.MethodOptions: true,
}

// RPCMethodLabel returns method if it's a known MCP method, or LabelOther.
func RPCMethodLabel(method string) string {
	if rpcMethods[method] {
		return method
	}
	return LabelOther
}

// HTTPMethodLabel returns method if the endpoint serves it, or LabelOther.
func HTTPMethodLabel(method string) string {
	if httpMethods[method] {
		return method
	}
	return LabelOther
}

// TransportCounter reports how many transports are held in memory.
type TransportCounter interface {
	Len() int
}

// Opts holds the configuration options for the metrics API
type Opts struct {
	AuthMiddleware func(http.Handler) http.Handler
	Transports     TransportCounter
}

// MetricsAPI records session and request metrics and serves them in the
// Prometheus text format. A nil *MetricsAPI records nothing.
type MetricsAPI struct {
	opts     Opts
	Router   chi.Router
	registry *prometheus.Registry

	transports          prometheus.Gauge
	sessionsCreated     prometheus.Counter
	sessionsTerminated  prometheus.Counter
	transportsRecreated prometheus.Counter
	droppedWrites       prometheus.Counter
	requests            *prometheus.CounterVec
	engineDuration      *prometheus.HistogramVec
}

// NewMetricsAPI creates a new metrics API instance with its own registry.
func NewMetricsAPI(opts Opts) (*MetricsAPI, error) {
	api := &MetricsAPI{
		opts:     opts,
		Router:   chi.NewRouter(),
		registry: prometheus.NewRegistry(),
		transports: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transports",
			Help:      "Transports currently held in memory",
		}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Sessions bootstrapped by an initialize request",
		}),
		sessionsTerminated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_terminated_total",
			Help:      "Sessions ended by a DELETE request",
		}),
		transportsRecreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transports_recreated_total",
			Help:      "Transports rebuilt for a valid session missing from memory",
		}),
		droppedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_dropped_writes_total",
			Help:      "Engine writes with no waiting caller",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests handled on the MCP endpoint",
		}, []string{"http_method", "outcome"}),
		engineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_duration_seconds",
			Help:      "Time spent waiting for the engine to answer",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}

	for _, c := range []prometheus.Collector{
		api.transports,
		api.sessionsCreated,
		api.sessionsTerminated,
		api.transportsRecreated,
		api.droppedWrites,
		api.requests,
		api.engineDuration,
	} {
		if err := api.registry.Register(c); err != nil {
			return nil, err
		}
	}

	api.setupRoutes()
	return api, nil
}

func (api *MetricsAPI) setupRoutes() {
	handler := http.HandlerFunc(api.handleMetrics)

	if api.opts.AuthMiddleware != nil {
		handler = api.opts.AuthMiddleware(handler).ServeHTTP
	}

	api.Router.Get("/", handler)
}

// handleMetrics serves Prometheus-formatted metrics
func (api *MetricsAPI) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if api.opts.Transports != nil {
		api.transports.Set(float64(api.opts.Transports.Len()))
	}

	metricFamilies, err := api.registry.Gather()
	if err != nil {
		http.Error(w, "Failed to gather metrics", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", string(expfmt.FmtText))
	encoder := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range metricFamilies {
		if err := encoder.Encode(mf); err != nil {
			http.Error(w, "Failed to encode metrics", http.StatusInternalServerError)
			return
		}
	}
}

func (api *MetricsAPI) SessionCreated() {
	if api != nil {
		api.sessionsCreated.Inc()
	}
}

func (api *MetricsAPI) SessionTerminated() {
	if api != nil {
		api.sessionsTerminated.Inc()
	}
}

func (api *MetricsAPI) TransportRecreated() {
	if api != nil {
		api.transportsRecreated.Inc()
	}
}

func (api *MetricsAPI) DroppedWrite() {
	if api != nil {
		api.droppedWrites.Inc()
	}
}

func (api *MetricsAPI) Request(httpMethod, outcome string) {
	if api != nil {
		api.requests.WithLabelValues(HTTPMethodLabel(httpMethod), outcome).Inc()
	}
}

func (api *MetricsAPI) ObserveEngine(method string, d time.Duration) {
	if api != nil {
		api.engineDuration.WithLabelValues(RPCMethodLabel(method)).Observe(d.Seconds())
	}
}
