package output

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	otelLog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"

	"pescan/config"
)

// Emitter exports classification events as OTLP/HTTP log records. A
// nil Emitter is valid and drops everything, so callers never guard.
type Emitter struct {
	provider    *sdklog.LoggerProvider
	logger      otelLog.Logger
	timeout     time.Duration
	endpoint    string
	exportNames bool
}

// NewEmitter builds the exporter from config. It returns (nil, nil)
// when no endpoint is configured.
func NewEmitter(cfg *config.Config) (*Emitter, error) {
	if cfg == nil {
		return nil, nil
	}
	endpoint := resolveOtelEndpoint(cfg)
	if endpoint == "" {
		return nil, nil
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return nil, fmt.Errorf("otel endpoint must include scheme (http or https)")
	}

	opts := []otlploghttp.Option{otlploghttp.WithEndpointURL(endpoint)}
	if len(cfg.OtelHeaders) > 0 {
		opts = append(opts, otlploghttp.WithHeaders(cfg.OtelHeaders))
	}
	if cfg.OtelTimeout > 0 {
		opts = append(opts, otlploghttp.WithTimeout(cfg.OtelTimeout))
	}

	exp, err := otlploghttp.New(context.Background(), opts...)
	if err != nil {
		return nil, err
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(cfg.OtelServiceName),
	)
	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
		sdklog.WithResource(res),
	)

	return &Emitter{
		provider:    provider,
		logger:      provider.Logger("pescan"),
		timeout:     cfg.OtelTimeout,
		endpoint:    endpoint,
		exportNames: cfg.OtelExportNames,
	}, nil
}

func resolveOtelEndpoint(cfg *config.Config) string {
	if endpoint := strings.TrimSpace(cfg.OtelEndpoint); endpoint != "" {
		return endpoint
	}
	if !cfg.OtelFromEnv {
		return ""
	}
	if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT")); endpoint != "" {
		return endpoint
	}
	return strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
}

// Endpoint reports where events are shipped, empty when disabled.
func (e *Emitter) Endpoint() string {
	if e == nil {
		return ""
	}
	return e.endpoint
}

// ScanEvent is the exported shape of one classification outcome.
type ScanEvent struct {
	DeclaredName string
	Label        string
	Confidence   float64
	Digest       string
	SniffedType  string
	Outcome      string
}

// EmitScan ships one classification event. Declared file names are
// client-controlled and excluded unless the operator opted in.
func (e *Emitter) EmitScan(event ScanEvent) {
	if e == nil || e.logger == nil {
		return
	}

	var record otelLog.Record
	now := time.Now()
	record.SetTimestamp(now)
	record.SetObservedTimestamp(now)
	record.SetEventName("pescan.scan")
	record.AddAttributes(
		otelLog.String("outcome", event.Outcome),
		otelLog.String("label", event.Label),
		otelLog.Float64("confidence", event.Confidence),
		otelLog.String("digest", event.Digest),
		otelLog.String("sniffed_type", event.SniffedType),
	)
	if e.exportNames && event.DeclaredName != "" {
		record.AddAttributes(otelLog.String("declared_name", event.DeclaredName))
	}

	ctx := context.Background()
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	e.logger.Emit(ctx, record)
}

// Shutdown flushes buffered records.
func (e *Emitter) Shutdown() {
	if e == nil || e.provider == nil {
		return
	}
	ctx := context.Background()
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	if err := e.provider.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "otel shutdown: %v\n", err)
	}
}
