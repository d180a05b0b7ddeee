package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/mikestefanello/backlite"

	"github.com/mrlokans/bookshop/internal/events"
	"github.com/mrlokans/bookshop/internal/metrics"
)

// DeliverEventTask hands one domain event to the publisher. Failed deliveries
// are retried by the queue; the event id stays the same across attempts.
type DeliverEventTask struct {
	Event events.Event `json:"event"`
}

// Config returns the queue configuration for event delivery tasks.
func (t DeliverEventTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        "deliver_event",
		MaxAttempts: 5,
		Backoff:     30 * time.Second,
		Timeout:     30 * time.Second,
		Retention: &backlite.Retention{
			Duration:   24 * time.Hour,
			OnlyFailed: true,
			Data:       &backlite.RetainData{OnlyFailed: true},
		},
	}
}

// DeliverEventProcessor creates a processor function for DeliverEventTask.
func DeliverEventProcessor(publisher events.Publisher) backlite.QueueProcessor[DeliverEventTask] {
	return func(ctx context.Context, task DeliverEventTask) error {
		if publisher == nil {
			return fmt.Errorf("event publisher not configured")
		}
		err := publisher.Publish(ctx, task.Event)
		metrics.RecordEventPublished(string(task.Event.Type), err)
		if err != nil {
			return fmt.Errorf("deliver %s %s: %w", task.Event.Type, task.Event.ID, err)
		}
		return nil
	}
}

// NewDeliverEventQueue creates a backlite queue for event delivery tasks.
func NewDeliverEventQueue(publisher events.Publisher) backlite.Queue {
	return backlite.NewQueue(DeliverEventProcessor(publisher))
}

// EnqueueEvent schedules delivery of e on the deliver_event queue.
func (c *Client) EnqueueEvent(e events.Event) error {
	if _, err := c.Add(DeliverEventTask{Event: e}).Save(); err != nil {
		return fmt.Errorf("enqueue %s: %w", e.Type, err)
	}
	return nil
}
