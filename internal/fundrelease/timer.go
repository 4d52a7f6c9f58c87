package fundrelease

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sellora/escrowd/internal/metrics"
)

// Timer periodically sweeps Pending releases and promotes the eligible
// ones to Ready.
type Timer struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates the auto-transition sweep timer.
func NewTimer(service *Service, interval time.Duration, logger *slog.Logger) *Timer {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Timer{
		service:  service,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the sweep loop is active.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeSweep(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in fund release sweep", "panic", fmt.Sprint(r))
		}
	}()

	res, err := t.service.AutoTransitionPending(ctx)
	if err != nil {
		t.logger.Warn("fund release sweep failed", "error", err)
		return
	}
	metrics.SweepChecked.Set(float64(res.Checked))
	metrics.SweepTransitioned.Add(float64(res.Transitioned))
	if res.Transitioned > 0 {
		t.logger.Info("fund release sweep promoted releases",
			"checked", res.Checked,
			"transitioned", res.Transitioned,
		)
	}
}
