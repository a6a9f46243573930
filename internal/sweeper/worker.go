package sweeper

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// SweepFunc performs one sweep pass and reports how many rows it touched.
type SweepFunc func(ctx context.Context) (int64, error)

// Worker runs a sweep function on a fixed interval until stopped. Both the
// offline-device sweep and the validity-cache expiry sweep run as instances
// of this worker.
type Worker struct {
	ctx      context.Context
	cancel   context.CancelFunc
	name     string
	sweep    SweepFunc
	logger   *logrus.Entry
	interval time.Duration
}

// Config holds the configuration for a periodic sweep worker
type Config struct {
	Name        string
	Sweep       SweepFunc
	Logger      *logrus.Entry
	IntervalSec int
}

// NewWorker creates a new sweep worker
func NewWorker(cfg *Config) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		ctx:      ctx,
		cancel:   cancel,
		name:     cfg.Name,
		sweep:    cfg.Sweep,
		logger:   cfg.Logger.WithField("component", cfg.Name),
		interval: time.Duration(cfg.IntervalSec) * time.Second,
	}
}

// Start begins the periodic sweeps
func (w *Worker) Start() {
	w.logger.Infof("Starting %s worker...", w.name)
	ticker := time.NewTicker(w.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.runSweep()
			case <-w.ctx.Done():
				w.logger.Infof("Stopping %s worker...", w.name)
				return
			}
		}
	}()
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.cancel()
}

func (w *Worker) runSweep() {
	affected, err := w.sweep(w.ctx)
	if err != nil {
		w.logger.Errorf("Sweep failed: %v", err)
		return
	}
	if affected > 0 {
		w.logger.WithField("affected", affected).Info("sweep pass finished")
	}
}
