package refund

import (
	"context"
	"time"

	"x402_gateway/internal/utils"
)

// Worker runs the refund batch on a fixed interval.
type Worker struct {
	service  *Service
	interval time.Duration
	logger   *utils.Logger

	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewWorker creates a periodic refund processor.
func NewWorker(service *Service, interval time.Duration) *Worker {
	return &Worker{
		service:     service,
		interval:    interval,
		logger:      utils.NewLogger("refund-worker"),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start begins periodic processing in a background goroutine.
func (w *Worker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for the current batch to finish.
func (w *Worker) Stop() error {
	close(w.stopChan)
	<-w.stoppedChan
	return nil
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.stoppedChan)

	w.logger.Info("Refund worker started", "interval", w.interval.String())

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Refund worker stopping")
			return
		case <-ctx.Done():
			w.logger.Info("Refund worker context cancelled")
			return
		case <-ticker.C:
			if _, err := w.service.ProcessAllPending(ctx); err != nil {
				w.logger.Error("Refund batch failed", "error", err)
			}
		}
	}
}
