// Package audit writes the append-only audit trail and security event log.
//
// The failure policy is asymmetric: the guarded mutation's correctness is
// not negotiable, but audit writes are best-effort. LogAction and
// LogSecurityEvent never return an error to the caller; a failing sink is
// retried a few times on a detached timeout, then escalated through operator
// diagnostics (error log plus a metric counter) instead of failing the
// business operation it documents.
package audit

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fieldline/fence/internal/model"
)

// Sink persists audit records and security events. Satisfied by storage.DB.
type Sink interface {
	InsertAuditRecord(ctx context.Context, rec model.AuditRecord) error
	InsertSecurityEvent(ctx context.Context, ev model.SecurityEvent) error
}

// Options tunes the write policy.
type Options struct {
	// WriteTimeout bounds one full write attempt cycle. The timeout is
	// detached from the request context so a cancelled request cannot strand
	// its own audit record.
	WriteTimeout time.Duration
	// MaxAttempts is the number of write attempts before escalation.
	MaxAttempts int
}

func (o Options) withDefaults() Options {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	return o
}

// Logger is the audit and security event logger.
type Logger struct {
	sink   Sink
	logger *slog.Logger
	opts   Options

	writes        metric.Int64Counter
	writeFailures metric.Int64Counter
}

// New creates a Logger backed by sink.
func New(sink Sink, logger *slog.Logger, opts Options) *Logger {
	meter := otel.Meter("github.com/fieldline/fence/internal/audit")

	writes, err := meter.Int64Counter("fence.audit.writes",
		metric.WithDescription("Audit and security event writes attempted."))
	if err != nil {
		logger.Warn("audit: create writes counter", "error", err)
	}
	failures, err := meter.Int64Counter("fence.audit.write_failures",
		metric.WithDescription("Audit and security event writes that exhausted retries."))
	if err != nil {
		logger.Warn("audit: create write_failures counter", "error", err)
	}

	return &Logger{
		sink:          sink,
		logger:        logger,
		opts:          opts.withDefaults(),
		writes:        writes,
		writeFailures: failures,
	}
}

// LogAction appends a mutation audit record. Never returns an error: a
// failed write is surfaced through diagnostics only.
func (l *Logger) LogAction(ctx context.Context, rec model.AuditRecord) {
	l.write(ctx, "audit_record", func(ctx context.Context) error {
		return l.sink.InsertAuditRecord(ctx, rec)
	}, slog.Group("record",
		"tenant_id", rec.TenantID,
		"actor_id", rec.ActorID,
		"action", rec.Action,
	))
}

// LogSecurityEvent appends a security event. Same failure policy as LogAction.
func (l *Logger) LogSecurityEvent(ctx context.Context, ev model.SecurityEvent) {
	l.write(ctx, "security_event", func(ctx context.Context) error {
		return l.sink.InsertSecurityEvent(ctx, ev)
	}, slog.Group("event",
		"event_type", string(ev.EventType),
		"source", ev.Source,
	))
}

// write runs fn with bounded retries on a context detached from the caller's
// cancellation. The retry shape (linear backoff scaled by attempt number)
// matches what the sink can absorb without amplifying an outage.
func (l *Logger) write(ctx context.Context, kind string, fn func(context.Context) error, extra slog.Attr) {
	if l.writes != nil {
		l.writes.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.opts.WriteTimeout)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= l.opts.MaxAttempts; attempt++ {
		if err := fn(writeCtx); err == nil {
			return
		} else {
			lastErr = err
		}

		if attempt == l.opts.MaxAttempts {
			break
		}
		select {
		case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
		case <-writeCtx.Done():
		}
		if writeCtx.Err() != nil {
			break
		}
	}

	if l.writeFailures != nil {
		l.writeFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	}
	l.logger.Error("audit: write failed after retries, record dropped",
		"kind", kind, "error", lastErr, extra)
}
