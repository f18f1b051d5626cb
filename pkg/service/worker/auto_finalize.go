package worker

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/simplemem/pkg/domain/model"
	"github.com/secmon-lab/simplemem/pkg/utils/logging"
)

// Finalizer is the part of the memory use case the worker drives
type Finalizer interface {
	Initialized() bool
	Stats(ctx context.Context) (*model.Stats, error)
	Finalize(ctx context.Context) (*model.FinalizeResult, error)
}

// AutoFinalizeWorker finalizes pending dialogues on a fixed interval so that
// clients which never call finalize still get their dialogues persisted.
//
// Single server instance only; finalize itself serializes against other
// finalizes through the backend lock.
type AutoFinalizeWorker struct {
	memory   Finalizer
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewAutoFinalizeWorker creates a new worker for periodic finalize
func NewAutoFinalizeWorker(memory Finalizer, interval time.Duration) *AutoFinalizeWorker {
	return &AutoFinalizeWorker{
		memory:   memory,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background loop. It does not block.
func (w *AutoFinalizeWorker) Start(ctx context.Context) error {
	if w.interval <= 0 {
		return goerr.New("auto finalize interval must be positive", goerr.V("interval", w.interval.String()))
	}

	logging.Default().Info("Auto finalize worker starting",
		"interval", w.interval.String())

	go w.run(ctx)

	return nil
}

// Stop signals the worker to stop and waits for completion
func (w *AutoFinalizeWorker) Stop() {
	logging.Default().Info("Auto finalize worker stopping")
	close(w.stopCh)
	<-w.doneCh
	logging.Default().Info("Auto finalize worker stopped")
}

func (w *AutoFinalizeWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.finalize(ctx); err != nil {
				// Log error but continue worker
				logging.Default().Error("Auto finalize failed (will retry next interval)",
					"error", err.Error())
			}

		case <-w.stopCh:
			return

		case <-ctx.Done():
			logging.Default().Info("Auto finalize worker context cancelled")
			return
		}
	}
}

// finalize runs one cycle. An uninitialized backend or an empty buffer is
// left alone.
func (w *AutoFinalizeWorker) finalize(ctx context.Context) error {
	if !w.memory.Initialized() {
		return nil
	}

	stats, err := w.memory.Stats(ctx)
	if err != nil {
		return goerr.Wrap(err, "failed to get stats")
	}
	if stats.Pending == 0 {
		return nil
	}

	startTime := time.Now()
	result, err := w.memory.Finalize(ctx)
	if err != nil {
		return goerr.Wrap(err, "failed to finalize", goerr.V("pending", stats.Pending))
	}

	logging.Default().Info("Auto finalize completed",
		"processed", result.Processed,
		"created", result.Created,
		"failed", result.Failed,
		"duration", time.Since(startTime).String())

	return nil
}
