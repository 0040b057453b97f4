// Package corrid carries a correlation ID and cycle timing through
// every operation of a trading cycle or out-of-band probe, the way
// the teacher threads position and order IDs explicitly through
// cmd/bot/trading_cycle.go -- except here the identifier is created
// once per cycle and must appear in every log line and emitted event
// arising from it, so it is carried via context.Context rather than
// re-derived at each call site.
package corrid

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/arbitrate/engine/internal/clock"
)

type ctxKey struct{}

// Fields is the correlation data threaded through a cycle.
type Fields struct {
	CorrelationID string
	StartedAt     time.Time
	Deadline      time.Time // zero value means "no deadline"
}

// New stamps ctx with a fresh correlation ID and start time from clk.
// Called once per scheduler cycle, once per out-of-band probe (NTP,
// midnight reset), once per reconciliation pass.
func New(ctx context.Context, clk clock.Clock) context.Context {
	return context.WithValue(ctx, ctxKey{}, Fields{
		CorrelationID: uuid.New().String(),
		StartedAt:     clk.Now(),
	})
}

// NewWithDeadline is New plus an explicit deadline for the cycle.
func NewWithDeadline(ctx context.Context, clk clock.Clock, deadline time.Time) context.Context {
	return context.WithValue(ctx, ctxKey{}, Fields{
		CorrelationID: uuid.New().String(),
		StartedAt:     clk.Now(),
		Deadline:      deadline,
	})
}

// From retrieves the correlation Fields stored in ctx, if any.
func From(ctx context.Context) (Fields, bool) {
	f, ok := ctx.Value(ctxKey{}).(Fields)
	return f, ok
}

// ID returns the correlation ID in ctx, or "" if none is set.
func ID(ctx context.Context) string {
	f, ok := From(ctx)
	if !ok {
		return ""
	}
	return f.CorrelationID
}

// Logger returns base with a correlation_id field attached. If ctx
// carries no correlation Fields -- a programmer error, since every
// cycle and probe is expected to call New first -- a fresh one is
// generated so the log call never panics, and a correlation_id_missing
// field flags the gap.
func Logger(ctx context.Context, base *logrus.Entry) *logrus.Entry {
	f, ok := From(ctx)
	if !ok {
		return base.WithFields(logrus.Fields{
			"correlation_id":         uuid.New().String(),
			"correlation_id_missing": true,
		})
	}
	return base.WithField("correlation_id", f.CorrelationID)
}
