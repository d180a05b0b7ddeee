package scheduler

import (
	"context"
	"time"

	"github.com/mikestefanello/backlite"

	"github.com/mrlokans/bookshop/internal/tasks"
)

const (
	JobPaymentSweep = "payment_sweep"
	JobAuditCleanup = "audit_cleanup"
)

// TaskAdder is satisfied by the task queue client.
type TaskAdder interface {
	Add(tasks ...backlite.Task) *backlite.TaskAddOp
}

// EnqueueTask returns a job that hands task to the queue, so retries and
// history live in the task database.
func EnqueueTask(queue TaskAdder, task backlite.Task) Job {
	return func(context.Context) error {
		_, err := queue.Add(task).Save()
		return err
	}
}

// SweepDirectly returns a job that runs the payment sweep in-process. Used
// when the task queue is disabled.
func SweepDirectly(sweeper tasks.PaymentSweeper, age time.Duration, limit int) Job {
	return func(ctx context.Context) error {
		_, err := sweeper.SweepStale(ctx, age, limit)
		return err
	}
}
