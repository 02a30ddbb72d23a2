// Package notify fans engine events out to logs and Redis.
package notify

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"corrdiv/internal/domain"
)

// EventType names an engine event.
type EventType string

const (
	EventSignal             EventType = "SIGNAL"
	EventPositionOpened     EventType = "POSITION_OPENED"
	EventPositionClosed     EventType = "POSITION_CLOSED"
	EventRiskBreach         EventType = "RISK_BREACH"
	EventExecutionRejected  EventType = "EXECUTION_REJECTED"
	EventStateInconsistency EventType = "STATE_INCONSISTENCY"
	EventBreakerTripped     EventType = "BREAKER_TRIPPED"
)

// Event is one notification. Payload is JSON-encodable.
type Event struct {
	Type        EventType `json:"type"`
	TimestampMs int64     `json:"ts"`
	Asset       string    `json:"asset,omitempty"`
	Message     string    `json:"message,omitempty"`
	Payload     any       `json:"payload,omitempty"`
}

// Notifier delivers events. Failures are reported to the caller, never retried.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// SnapshotPublisher stores the latest portfolio snapshot for external readers.
type SnapshotPublisher interface {
	PublishSnapshot(ctx context.Context, snap domain.PortfolioSnapshot) error
}

// LogNotifier writes events to a zerolog logger.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notify").Logger()}
}

// Notify logs ev. Rejections and inconsistencies log at warn.
func (n *LogNotifier) Notify(_ context.Context, ev Event) error {
	e := n.logger.Info()
	switch ev.Type {
	case EventRiskBreach, EventExecutionRejected, EventStateInconsistency, EventBreakerTripped:
		e = n.logger.Warn()
	}
	e.Str("event", string(ev.Type)).
		Int64("ts", ev.TimestampMs).
		Str("asset", ev.Asset).
		Interface("payload", ev.Payload).
		Msg(ev.Message)
	return nil
}

// Multi delivers every event to each notifier and joins their errors.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishSnapshot forwards to every member that stores snapshots.
func (m Multi) PublishSnapshot(ctx context.Context, snap domain.PortfolioSnapshot) error {
	var errs []error
	for _, n := range m {
		if p, ok := n.(SnapshotPublisher); ok {
			if err := p.PublishSnapshot(ctx, snap); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

var (
	_ Notifier          = (*LogNotifier)(nil)
	_ Notifier          = Multi(nil)
	_ SnapshotPublisher = Multi(nil)
)
