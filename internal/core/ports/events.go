package ports

import (
	"context"
	"time"

	"camstream/internal/core/domain"
)

type EventSink interface {
	Deliver(event domain.Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(event domain.Event)

func (f EventSinkFunc) Deliver(event domain.Event) { f(event) }

// MultiSink fans an event out to every sink in order.
type MultiSink []EventSink

func (m MultiSink) Deliver(event domain.Event) {
	for _, s := range m {
		s.Deliver(event)
	}
}

type MetricsRecorder interface {
	SessionTransition(from, to domain.SessionState)
	InitAttempt(success bool)
	PermissionDialog()
	PermissionOutcome(outcome string)
	StartResult(success bool)
	ConnectionEvent(kind domain.EventType)
	LookupRetry()
	CommandHandled(command domain.CommandName, d time.Duration, err error)
	ActiveViews(n int)
}

type NopMetrics struct{}

func (NopMetrics) SessionTransition(domain.SessionState, domain.SessionState) {}
func (NopMetrics) InitAttempt(bool)                                           {}
func (NopMetrics) PermissionDialog()                                          {}
func (NopMetrics) PermissionOutcome(string)                                   {}
func (NopMetrics) StartResult(bool)                                           {}
func (NopMetrics) ConnectionEvent(domain.EventType)                           {}
func (NopMetrics) LookupRetry()                                               {}
func (NopMetrics) CommandHandled(domain.CommandName, time.Duration, error)    {}
func (NopMetrics) ActiveViews(int)                                            {}

// ViewCommands is the host-facing surface served by the bridge and the REST
// handler.
type ViewCommands interface {
	CreateView(ctx context.Context) (int, error)
	CreateViewWithTag(ctx context.Context, tag int) error
	DestroyView(ctx context.Context, tag int) error
	Dispatch(ctx context.Context, cmd domain.Command) error
	Snapshot(ctx context.Context, tag int) (domain.ViewSnapshot, error)
	Views(ctx context.Context) []int
}
