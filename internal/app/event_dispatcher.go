package app

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/example/stagehand/internal/core/event"
	"github.com/example/stagehand/internal/core/policy"
	"github.com/example/stagehand/internal/core/stage"
	"github.com/example/stagehand/internal/ports/secondary"
)

// EventDispatcher delivers lifecycle events to subscribers in registration
// order and records every dispatch in the event log.
type EventDispatcher struct {
	subscribers []secondary.EventSubscriber
	eventLog    secondary.EventLogRepository
	metrics     secondary.Metrics
	logger      zerolog.Logger
}

// NewEventDispatcher creates a dispatcher. eventLog may be nil.
func NewEventDispatcher(eventLog secondary.EventLogRepository, metrics secondary.Metrics, logger zerolog.Logger, subscribers ...secondary.EventSubscriber) *EventDispatcher {
	return &EventDispatcher{
		subscribers: subscribers,
		eventLog:    eventLog,
		metrics:     metrics,
		logger:      logger,
	}
}

// Subscribe appends a subscriber.
func (d *EventDispatcher) Subscribe(s secondary.EventSubscriber) {
	d.subscribers = append(d.subscribers, s)
}

// Dispatch delivers evt to every subscriber and returns their non-OK
// results in subscriber order.
func (d *EventDispatcher) Dispatch(ctx context.Context, evt event.Event) []policy.Result {
	var results []policy.Result
	for _, s := range d.subscribers {
		for _, r := range s.OnEvent(ctx, evt) {
			if r.IsOK() {
				continue
			}
			if r.Rule == "" {
				r.Rule = s.Name()
			}
			results = append(results, r)
		}
	}

	severity := policy.MaxSeverity(results).String()
	d.record(ctx, evt, severity, results)
	if d.metrics != nil {
		d.metrics.IncEvent(string(evt.Kind), severity)
	}
	return results
}

// Veto dispatches a pre event and converts error findings into a
// ValidationError for op.
func (d *EventDispatcher) Veto(ctx context.Context, op stage.Operation, evt event.Event) ([]policy.Result, error) {
	results := d.Dispatch(ctx, evt)
	if event.Vetoes(evt.Kind, results) {
		return results, &stage.ValidationError{Op: op, Event: string(evt.Kind), Results: results}
	}
	return results, nil
}

func (d *EventDispatcher) record(ctx context.Context, evt event.Event, severity string, results []policy.Result) {
	message := "ok"
	if msgs := policy.Messages(results); len(msgs) > 0 {
		message = strings.Join(msgs, "; ")
	}
	if evt.Err != "" {
		message = evt.Err
	}

	d.logger.Debug().
		Str("event", string(evt.Kind)).
		Str("stage_id", evt.StageID).
		Str("severity", severity).
		Msg(message)

	if d.eventLog == nil {
		return
	}
	entry := &secondary.EventLogRecord{
		StageID:   evt.StageID,
		Event:     string(evt.Kind),
		Severity:  severity,
		Message:   message,
		CreatedAt: evt.OccurredAt,
	}
	if err := d.eventLog.Append(ctx, entry); err != nil {
		d.logger.Warn().Err(err).Str("event", string(evt.Kind)).Msg("failed to write event log")
	}
}
