// SPDX-License-Identifier: Apache-2.0
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/conclave/pkg/errors"
)

// ErrorMetrics counts errors returned to callers, by code and component.
type ErrorMetrics struct {
	errorCounter    metric.Int64Counter
	recoveryCounter metric.Int64Counter
}

// NewErrorMetrics creates an error metrics tracker on the global meter.
func NewErrorMetrics() (*ErrorMetrics, error) {
	meter := otel.Meter(InstrumentationName)

	errorCounter, err := meter.Int64Counter(
		"conclave.errors.total",
		metric.WithDescription("Total errors by code and component"),
	)
	if err != nil {
		return nil, err
	}
	recoveryCounter, err := meter.Int64Counter(
		"conclave.errors.recovered",
		metric.WithDescription("Recoverable errors handled without failing the turn"),
	)
	if err != nil {
		return nil, err
	}
	return &ErrorMetrics{errorCounter: errorCounter, recoveryCounter: recoveryCounter}, nil
}

// RecordError increments the error counter. Safe on a nil receiver.
func (em *ErrorMetrics) RecordError(ctx context.Context, err error, component string) {
	if em == nil || err == nil {
		return
	}
	ce := errors.AsConclaveError(err)
	em.errorCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String(AttrErrorCode, string(ce.Code)),
			attribute.String("component", component),
			attribute.String("recoverable", ce.RecoverableString()),
		),
	)
}

// RecordRecovery counts a recoverable condition that was absorbed.
func (em *ErrorMetrics) RecordRecovery(ctx context.Context, code errors.ErrorCode) {
	if em == nil {
		return
	}
	em.recoveryCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String(AttrErrorCode, string(code))),
	)
}

// DispatchMetrics records per-call dispatch outcomes.
type DispatchMetrics struct {
	calls    metric.Int64Counter
	failures metric.Int64Counter
	latency  metric.Float64Histogram
}

// NewDispatchMetrics creates dispatch instruments on the global meter.
func NewDispatchMetrics() (*DispatchMetrics, error) {
	meter := otel.Meter(InstrumentationName)

	calls, err := meter.Int64Counter(
		"conclave.dispatch.calls",
		metric.WithDescription("Dispatch calls by backend"),
	)
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter(
		"conclave.dispatch.failures",
		metric.WithDescription("Failed dispatch calls by backend and failure kind"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram(
		"conclave.dispatch.duration",
		metric.WithDescription("Dispatch call latency"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	return &DispatchMetrics{calls: calls, failures: failures, latency: latency}, nil
}

// RecordCall records one finished call. An empty failureKind means success.
// Safe on a nil receiver.
func (dm *DispatchMetrics) RecordCall(ctx context.Context, backendID, failureKind string, d time.Duration) {
	if dm == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(AttrBackendID, backendID))
	dm.calls.Add(ctx, 1, attrs)
	dm.latency.Record(ctx, float64(d.Microseconds())/1000, attrs)
	if failureKind != "" {
		dm.failures.Add(ctx, 1, metric.WithAttributes(
			attribute.String(AttrBackendID, backendID),
			attribute.String(AttrDispatchFailure, failureKind),
		))
	}
}
