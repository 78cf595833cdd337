package telemetry

import (
	"context"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Counters shared by the sync and archive engines. Instruments are resolved
// lazily from the global meter provider, so they are no-ops until Init runs
// with telemetry enabled.

// CountTrackerRequest records one tracker HTTP attempt.
func CountTrackerRequest(ctx context.Context, method string, status int) {
	c, _ := Meter("").Int64Counter("captain.tracker.requests",
		metric.WithDescription("Tracker HTTP requests by method and status"))
	c.Add(ctx, 1, metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.Int("http.status_code", status),
	))
}

// CountTrackerRetry records a retried tracker request and why.
func CountTrackerRetry(ctx context.Context, reason string) {
	c, _ := Meter("").Int64Counter("captain.tracker.retries",
		metric.WithDescription("Tracker request retries (unauthorized, rate_limited)"))
	c.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// CountReconciled records reconciliation outcomes for a kind.
func CountReconciled(ctx context.Context, kind string, matched, unmatched int) {
	c, _ := Meter("").Int64Counter("captain.reconcile.entities",
		metric.WithDescription("Entities reconciled against tracker issues"))
	c.Add(ctx, int64(matched), metric.WithAttributes(attribute.String("kind", kind), attribute.String("outcome", "matched")))
	c.Add(ctx, int64(unmatched), metric.WithAttributes(attribute.String("kind", kind), attribute.String("outcome", "unmatched")))
}

// CountJob records a terminal archive job outcome.
func CountJob(ctx context.Context, status string) {
	c, _ := Meter("").Int64Counter("captain.jobs",
		metric.WithDescription("Archive jobs by terminal status"))
	c.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// EndSpan records err on span (if any) and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// WrapHandler instruments an http.Handler with server spans.
func WrapHandler(h http.Handler, operation string) http.Handler {
	if !Enabled() {
		return h
	}
	return otelhttp.NewHandler(h, operation)
}

// WrapTransport instruments outbound requests with client spans.
func WrapTransport(rt http.RoundTripper) http.RoundTripper {
	if !Enabled() {
		return rt
	}
	if rt == nil {
		rt = http.DefaultTransport
	}
	return otelhttp.NewTransport(rt)
}
