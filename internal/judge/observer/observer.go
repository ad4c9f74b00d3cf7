// Package observer defines metrics hooks for judging.
package observer

import (
	"context"
	"time"
)

// MetricsRecorder records judge metrics.
type MetricsRecorder interface {
	ObserveSubmission(ctx context.Context, language string, status string)
	ObserveCompile(ctx context.Context, language string, ok bool, elapsed time.Duration)
	ObserveRun(ctx context.Context, language string, outcome string, elapsed time.Duration)
	SessionOpened()
	SessionClosed(cleanupErr error)
}

// Noop discards every observation.
type Noop struct{}

func (Noop) ObserveSubmission(context.Context, string, string)           {}
func (Noop) ObserveCompile(context.Context, string, bool, time.Duration) {}
func (Noop) ObserveRun(context.Context, string, string, time.Duration)   {}
func (Noop) SessionOpened()                                              {}
func (Noop) SessionClosed(error)                                         {}
