package api

import (
	"context"

	"analyticsbridge/internal/analytics"
	"analyticsbridge/internal/database"

	"go.uber.org/zap"
)

// AuditObserver records every CLI run in the invocation log, tagged with the
// request that caused it.
type AuditObserver struct {
	logger *zap.Logger
}

func NewAuditObserver(logger *zap.Logger) *AuditObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditObserver{logger: logger}
}

// ObserveInvocation implements analytics.Observer.
func (a *AuditObserver) ObserveInvocation(ctx context.Context, o analytics.Observation) {
	if database.GetDB() == nil {
		return
	}
	// The row is written even when the client has gone away.
	ctx = context.WithoutCancel(ctx)
	inv := database.Invocation{
		RequestID:  RequestIDFromContext(ctx),
		Command:    o.Command(),
		ExitCode:   o.ExitCode,
		ErrorType:  string(o.ErrorType),
		DurationMS: o.Duration.Milliseconds(),
	}
	if o.Err != nil && o.ExitCode < 0 {
		inv.ErrorType = "aborted"
	}
	if _, err := database.LogInvocation(ctx, inv); err != nil {
		a.logger.Warn("record cli invocation failed",
			zap.String("request_id", inv.RequestID),
			zap.String("command", inv.Command),
			zap.Error(err),
		)
	}
}
