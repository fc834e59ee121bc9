package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/actiongates/actiongates-server/internal/domain"
)

// Worker drains the processing queue, handing each envelope to the
// processor. It polls because both queue backends are pull-based; the
// interval bounds decision latency, not throughput, since a non-empty
// poll drains everything due.
type Worker struct {
	Consumer  domain.Consumer
	QueueName string
	Processor *Processor
	Interval  time.Duration
	Log       *slog.Logger
}

// Run polls until ctx is cancelled. Queue errors are logged and the
// loop keeps going; a broken backend should not take the worker down.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		w.drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		env, ok, err := w.Consumer.Dequeue(ctx, w.QueueName)
		if err != nil {
			w.Log.Error("dequeue failed", "error", err)
			return
		}
		if !ok {
			return
		}
		if err := w.Processor.Process(ctx, env); err != nil {
			w.Log.Error("processing failed",
				"delivery_id", env.DeliveryID,
				"try", env.TryNumber,
				"error", err,
			)
		}
	}
}
