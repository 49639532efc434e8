package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerName names the instrumentation scope of qmpie spans.
const TracerName = "qmpie"

// ErrUnknownExporter is returned for an exporter name other than none or stdout.
var ErrUnknownExporter = errors.New("unknown trace exporter")

// TracingOptions 追踪配置
// TracingOptions selects the span exporter.
type TracingOptions struct {
	// Exporter is "none" (default) or "stdout".
	Exporter       string
	ServiceVersion string
	// Writer receives stdout spans; nil means os.Stderr so the REPL and
	// request logs stay readable.
	Writer io.Writer
}

// InitTracing installs the global tracer provider and returns its shutdown
// function, which must be called on exit.
func InitTracing(opts TracingOptions) (shutdown func(context.Context) error, err error) {
	switch strings.ToLower(strings.TrimSpace(opts.Exporter)) {
	case "", "none":
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil

	case "stdout":
		w := opts.Writer
		if w == nil {
			w = os.Stderr
		}
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
		res := resource.NewWithAttributes(
			"",
			attribute.String("service.name", "qmpie"),
			attribute.String("service.version", opts.ServiceVersion),
		)
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
		)
		otel.SetTracerProvider(tp)
		return tp.Shutdown, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, opts.Exporter)
	}
}

// Tracer returns the qmpie tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
