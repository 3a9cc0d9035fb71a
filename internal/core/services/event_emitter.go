package services

import (
	"time"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"

	"go.uber.org/zap"
)

// EventEmitter turns controller transitions into host events for one view.
// Start results are one-shot per opened request id.
type EventEmitter struct {
	tag     int
	sink    ports.EventSink
	now     func() time.Time
	metrics ports.MetricsRecorder
	logger  *zap.SugaredLogger

	open   map[int]int
	closed bool
}

func NewEventEmitter(tag int, sink ports.EventSink, now func() time.Time, metrics ports.MetricsRecorder, logger *zap.SugaredLogger) *EventEmitter {
	if now == nil {
		now = time.Now
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &EventEmitter{
		tag:     tag,
		sink:    sink,
		now:     now,
		metrics: metrics,
		logger:  logger,
		open:    make(map[int]int),
	}
}

// BeginStart opens a slot for one start result with requestID.
func (e *EventEmitter) BeginStart(requestID int) {
	e.open[requestID]++
}

// StartResult reports the outcome of a start. It returns false, and emits
// nothing, when no slot is open for requestID.
func (e *EventEmitter) StartResult(requestID int, err error) bool {
	if e.open[requestID] == 0 {
		e.logger.Warnw("Dropping duplicate start result", "view_tag", e.tag, "request_id", requestID)
		return false
	}
	if e.open[requestID]--; e.open[requestID] == 0 {
		delete(e.open, requestID)
	}

	success := err == nil
	e.metrics.StartResult(success)

	id := requestID
	ev := domain.Event{
		Type:      domain.EventStartStreamingResult,
		RequestID: &id,
		Success:   &success,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	e.deliver(ev)
	return true
}

func (e *EventEmitter) ConnectionSuccess() {
	e.metrics.ConnectionEvent(domain.EventConnectionSuccess)
	e.deliver(domain.Event{Type: domain.EventConnectionSuccess})
}

func (e *EventEmitter) ConnectionFailed(reason string) {
	e.metrics.ConnectionEvent(domain.EventConnectionFailed)
	e.deliver(domain.Event{Type: domain.EventConnectionFailed, Reason: reason})
}

func (e *EventEmitter) Disconnected() {
	e.metrics.ConnectionEvent(domain.EventDisconnected)
	e.deliver(domain.Event{Type: domain.EventDisconnected})
}

func (e *EventEmitter) PermissionsDenied(missing []domain.PermissionID) {
	e.deliver(domain.Event{Type: domain.EventPermissionsDenied, Missing: domain.PermissionNames(missing)})
}

func (e *EventEmitter) PermissionsRationale(missing []domain.PermissionID) {
	e.deliver(domain.Event{Type: domain.EventPermissionsRationale, Missing: domain.PermissionNames(missing)})
}

// ConfigurationError reports a rejected command on the error channel.
func (e *EventEmitter) ConfigurationError(err error) {
	e.logger.Warnw("Configuration rejected", "view_tag", e.tag, "error", err)
	e.deliver(domain.Event{Type: domain.EventConfigurationError, Error: err.Error()})
}

// Close silences the emitter for good.
func (e *EventEmitter) Close() {
	e.closed = true
	e.open = make(map[int]int)
}

func (e *EventEmitter) deliver(ev domain.Event) {
	if e.closed {
		return
	}
	ev.ViewTag = e.tag
	ev.Timestamp = e.now()
	e.sink.Deliver(ev)
}
