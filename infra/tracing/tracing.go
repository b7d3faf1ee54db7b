// Package tracing configures the OpenTelemetry tracer provider used by the
// negotiation and repair spans.
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

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

	"github.com/kilianp07/transitsim/infra/logger"
)

// Config governs how tracing is initialised.
type Config struct {
	Enabled     bool    `json:"enabled"`
	ServiceName string  `json:"service_name"`
	Exporter    string  `json:"exporter"` // stdout | otlp
	Endpoint    string  `json:"endpoint"` // used when Exporter == otlp
	SampleRatio float64 `json:"sample_ratio"`

	// Writer receives stdout spans; nil means os.Stdout.
	Writer io.Writer `json:"-"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "transitsim"
	}
	if c.Exporter == "" {
		c.Exporter = "stdout"
	}
	if c.SampleRatio == 0 {
		c.SampleRatio = 1
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0,1]")
	}
	switch strings.ToLower(c.Exporter) {
	case "", "stdout", "otlp", "otlpgrpc":
		return nil
	default:
		return fmt.Errorf("unsupported tracing exporter: %s", c.Exporter)
	}
}

// Init wires a tracer provider, exporter, propagators and sampler. It
// returns a shutdown function that flushes pending spans.
func Init(ctx context.Context, cfg Config, log logger.Logger) (func(context.Context) error, error) {
	if log == nil {
		log = logger.NopLogger{}
	}
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(propagation.TraceContext{})
		log.Debugf("tracing disabled; using noop tracer provider")
		return func(context.Context) error { return nil }, nil
	}
	cfg.SetDefaults()

	exp, err := exporterFromConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.namespace", "transitsim"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	log.Infow("tracing enabled", map[string]any{
		"exporter":     cfg.Exporter,
		"service_name": cfg.ServiceName,
		"sample_ratio": cfg.SampleRatio,
	})
	return tp.Shutdown, nil
}

func exporterFromConfig(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case "stdout", "":
		w := cfg.Writer
		if w == nil {
			w = os.Stdout
		}
		return stdouttrace.New(
			stdouttrace.WithWriter(w),
			stdouttrace.WithoutTimestamps(),
		)
	case "otlp", "otlpgrpc":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		client := otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
		return otlptrace.New(ctx, client)
	default:
		return nil, fmt.Errorf("unsupported tracing exporter: %s", cfg.Exporter)
	}
}

// ShutdownWithTimeout invokes shutdown with a bounded timeout, logging
// failures instead of returning them.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logger.Logger) {
	if shutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil && log != nil {
		log.Warnf("tracing shutdown failed: %v", err)
	}
}
