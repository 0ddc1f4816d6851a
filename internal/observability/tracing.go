package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/globe-tracker/internal/logging"
)

// Span exporters understood by TracingConfig.Exporter.
const (
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

const (
	defaultServiceName  = "globe-tracker"
	defaultOTLPEndpoint = "localhost:4317"

	// SourcesKey tags the tracer resource with the snapshot sources the
	// process reconciles.
	SourcesKey = attribute.Key("globe.sources")
)

// ErrBadSampleRatio is returned when a sample ratio lies outside [0, 1].
var ErrBadSampleRatio = errors.New("sample ratio must be within [0, 1]")

// TracingConfig governs how spans leave the process.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Exporter    string
	// Endpoint is the OTLP collector address.
	Endpoint    string
	SampleRatio float64
	Sources     []string

	// Output receives stdout-exported spans; nil means os.Stdout.
	Output io.Writer
}

// ApplyDefaults fills unset fields.
func (c *TracingConfig) ApplyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = defaultServiceName
	}
	c.Exporter = strings.ToLower(c.Exporter)
	if c.Exporter == "" {
		c.Exporter = ExporterStdout
	}
	if c.Exporter == ExporterOTLP && c.Endpoint == "" {
		c.Endpoint = defaultOTLPEndpoint
	}
	if c.Output == nil {
		c.Output = os.Stdout
	}
}

// Validate reports settings InitTracing cannot honour.
func (c TracingConfig) Validate() error {
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return fmt.Errorf("%w: %v", ErrBadSampleRatio, c.SampleRatio)
	}
	switch c.Exporter {
	case ExporterStdout, ExporterOTLP:
		return nil
	default:
		return fmt.Errorf("unsupported tracing exporter %q (want %s or %s)", c.Exporter, ExporterStdout, ExporterOTLP)
	}
}

// TracingConfigFromEnv reads GLOBE_TRACING_* and GLOBE_OTLP_ENDPOINT. An
// unparsable or out-of-range ratio samples everything.
func TracingConfigFromEnv() TracingConfig {
	cfg := TracingConfig{
		Enabled:     strings.EqualFold(os.Getenv("GLOBE_TRACING_ENABLED"), "true"),
		ServiceName: os.Getenv("GLOBE_TRACING_SERVICE_NAME"),
		Exporter:    os.Getenv("GLOBE_TRACING_EXPORTER"),
		Endpoint:    os.Getenv("GLOBE_OTLP_ENDPOINT"),
		SampleRatio: 1,
	}
	if raw := os.Getenv("GLOBE_TRACING_SAMPLE_RATIO"); raw != "" {
		if r, err := strconv.ParseFloat(raw, 64); err == nil && r >= 0 && r <= 1 {
			cfg.SampleRatio = r
		}
	}
	cfg.ApplyDefaults()
	return cfg
}

// InitTracing installs the global tracer provider and propagators and returns
// the function that flushes pending spans. With tracing disabled it installs
// a noop provider.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (func(context.Context) error, error) {
	if log == nil {
		log = logging.Noop()
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		log.Debug(ctx, "tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s exporter: %w", cfg.Exporter, err)
	}
	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", cfg.Exporter),
		logging.String("service_name", cfg.ServiceName),
		logging.Float("sample_ratio", cfg.SampleRatio),
		logging.Any("sources", cfg.Sources),
	)
	return tp.Shutdown, nil
}

func newResource(ctx context.Context, cfg TracingConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.namespace", "globe"),
		attribute.String("service.instance.id", uuid.NewString()),
	}
	if len(cfg.Sources) > 0 {
		attrs = append(attrs, SourcesKey.StringSlice(cfg.Sources))
	}
	return resource.New(ctx, resource.WithAttributes(attrs...))
}

func newExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	if cfg.Exporter == ExporterOTLP {
		return otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
	}
	return stdouttrace.New(stdouttrace.WithWriter(cfg.Output))
}

// ShutdownWithTimeout flushes spans through shutdown, giving up after five
// seconds. Failures are logged only.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	if log == nil {
		log = logging.Noop()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}
