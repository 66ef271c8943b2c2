package monitor

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/remedian/remedian/internal/control"
)

// Submitter accepts decoded incidents. control.Control satisfies it.
type Submitter interface {
	SubmitIncident(ctx context.Context, inc control.Incident) error
}

// Intake drains a consumer and submits each decoded incident. Malformed
// events are logged and dropped; one bad payload must not stall the feed.
type Intake struct {
	consumer Consumer
	sink     Submitter
}

// NewIntake wires an incident intake.
func NewIntake(consumer Consumer, sink Submitter) *Intake {
	return &Intake{consumer: consumer, sink: sink}
}

// Run consumes until ctx ends. Run as a goroutine.
func (i *Intake) Run(ctx context.Context) error {
	if err := i.consumer.Start(ctx); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-i.consumer.Messages():
			if !ok {
				return nil
			}
			i.handle(ctx, msg)
		}
	}
}

func (i *Intake) handle(ctx context.Context, msg Message) {
	var inc control.Incident
	if err := json.Unmarshal(msg.Value, &inc); err != nil {
		slog.Warn("Malformed incident event dropped", "topic", msg.Topic, "error", err)
		return
	}
	if inc.Summary == "" && inc.Kind == "" {
		slog.Warn("Empty incident event dropped", "topic", msg.Topic)
		return
	}
	if inc.Source == "" {
		inc.Source = msg.Topic
	}
	if err := i.sink.SubmitIncident(ctx, inc); err != nil {
		slog.Warn("Incident submit failed", "incident", inc.ID, "error", err)
	}
}
