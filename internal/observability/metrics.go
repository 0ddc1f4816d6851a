package observability

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/globe-tracker/internal/reconcile"
)

// Collector bundles the tracker's Prometheus metrics: reconciliation cycles,
// metadata lookups and the gRPC surface.
type Collector struct {
	gatherer prometheus.Gatherer

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec

	Cycles         *prometheus.CounterVec
	CycleDurations *prometheus.HistogramVec
	Tracked        *prometheus.GaugeVec
	Changes        *prometheus.CounterVec
	Lookups        *prometheus.CounterVec
}

// NewCollector registers metrics against reg, defaulting to the global
// Prometheus registry when nil. Registering twice against the same registry
// returns collectors bound to the existing series.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "globe_rpc_requests_total",
		Help: "Total number of handled RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "globe_rpc_requests_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "globe_rpc_request_duration_seconds",
		Help:    "RPC latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"service", "method"}), "globe_rpc_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	cycles, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "globe_reconcile_cycles_total",
		Help: "Reconciliation cycles, labeled by source and outcome.",
	}, []string{"source", "outcome"}), "globe_reconcile_cycles_total")
	if err != nil {
		return nil, err
	}

	cycleDurations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "globe_reconcile_cycle_duration_seconds",
		Help:    "Wall time of a reconciliation cycle including the fetch.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"source"}), "globe_reconcile_cycle_duration_seconds")
	if err != nil {
		return nil, err
	}

	tracked, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "globe_tracked_entities",
		Help: "Entities currently tracked per source.",
	}, []string{"source"}), "globe_tracked_entities")
	if err != nil {
		return nil, err
	}

	changes, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "globe_entity_changes_total",
		Help: "Entity creations, updates and removals applied by reconciliation.",
	}, []string{"source", "change"}), "globe_entity_changes_total")
	if err != nil {
		return nil, err
	}

	lookups, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "globe_metadata_lookups_total",
		Help: "Airline and airport metadata lookups, labeled by kind and cache result.",
	}, []string{"kind", "result"}), "globe_metadata_lookups_total")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:       gatherer,
		RPCRequests:    requests,
		RPCDurations:   durations,
		Cycles:         cycles,
		CycleDurations: cycleDurations,
		Tracked:        tracked,
		Changes:        changes,
		Lookups:        lookups,
	}, nil
}

// RecordCycle implements reconcile.MetricsRecorder. Discarded cycles are
// counted but leave the tracked gauge alone.
func (c *Collector) RecordCycle(rep reconcile.CycleReport) {
	if c == nil {
		return
	}
	source := rep.Source
	if source == "" {
		source = "unknown"
	}
	c.Cycles.WithLabelValues(source, rep.Outcome).Inc()
	c.CycleDurations.WithLabelValues(source).Observe(rep.Duration.Seconds())
	if rep.Outcome == reconcile.OutcomeDiscarded {
		return
	}
	c.Tracked.WithLabelValues(source).Set(float64(rep.Tracked))
	if rep.Created > 0 {
		c.Changes.WithLabelValues(source, "created").Add(float64(rep.Created))
	}
	if rep.Updated > 0 {
		c.Changes.WithLabelValues(source, "updated").Add(float64(rep.Updated))
	}
	if rep.Removed > 0 {
		c.Changes.WithLabelValues(source, "removed").Add(float64(rep.Removed))
	}
}

// RecordLookup counts a metadata lookup as a cache hit or miss.
func (c *Collector) RecordLookup(kind string, hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.Lookups.WithLabelValues(kind, result).Inc()
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *Collector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		c.RPCRequests.WithLabelValues(service, method, code).Inc()
		c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())

		return resp, err
	}
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *Collector) Gatherer() prometheus.Gatherer {
	if c == nil || c.gatherer == nil {
		return prometheus.DefaultGatherer
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.Gatherer(), promhttp.HandlerOpts{})
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}
