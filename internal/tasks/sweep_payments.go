package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/mikestefanello/backlite"

	"github.com/mrlokans/bookshop/internal/payments"
)

// PaymentSweeper reconciles payments the provider may have settled silently.
type PaymentSweeper interface {
	SweepStale(ctx context.Context, age time.Duration, limit int) (payments.SweepReport, error)
}

// SweepPaymentsTask polls the provider for stale initiated payments.
type SweepPaymentsTask struct {
	AgeSeconds int `json:"age_seconds"`
	Limit      int `json:"limit"`
}

// Config returns the queue configuration for payment sweep tasks.
func (t SweepPaymentsTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        "sweep_payments",
		MaxAttempts: 1, // The next scheduled run is the retry
		Timeout:     5 * time.Minute,
		Retention: &backlite.Retention{
			Duration:   6 * time.Hour,
			OnlyFailed: false,
			Data:       &backlite.RetainData{OnlyFailed: true},
		},
	}
}

// SweepPaymentsProcessor creates a processor function for SweepPaymentsTask.
func SweepPaymentsProcessor(sweeper PaymentSweeper) backlite.QueueProcessor[SweepPaymentsTask] {
	return func(ctx context.Context, task SweepPaymentsTask) error {
		if sweeper == nil {
			return fmt.Errorf("payment sweeper not configured")
		}
		age := time.Duration(task.AgeSeconds) * time.Second
		if age <= 0 {
			age = 15 * time.Minute
		}
		if _, err := sweeper.SweepStale(ctx, age, task.Limit); err != nil {
			return fmt.Errorf("sweep payments: %w", err)
		}
		return nil
	}
}

// NewSweepPaymentsQueue creates a backlite queue for payment sweep tasks.
func NewSweepPaymentsQueue(sweeper PaymentSweeper) backlite.Queue {
	return backlite.NewQueue(SweepPaymentsProcessor(sweeper))
}
