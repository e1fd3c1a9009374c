//go:build !otelotlp

package otelobs

import (
	"context"
	"net/http"
)

// InitTracer is a no-op by default. Build with -tags otelotlp and set
// OTEL_EXPORTER_OTLP_ENDPOINT to export traces.
func InitTracer(serviceName string) func(context.Context) error {
	return func(context.Context) error { return nil }
}

// WrapHTTPHandler is a no-op by default. Build with -tags otelotlp to
// enable tracing.
func WrapHTTPHandler(serviceName string, h http.Handler) http.Handler { return h }
