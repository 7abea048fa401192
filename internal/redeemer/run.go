package redeemer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/0gfoundation/0g-rav-redeemer/internal/lock"
)

// CycleObserver is told about every finished cycle.
type CycleObserver interface {
	CycleFinished(report CycleReport)
}

// Runner drives a pipeline on a timer. The timer is re-armed only after a
// cycle returns, so cycles of one runner never overlap. When a locker is
// set, a cycle also runs only while holding the variant's Redis lease.
type Runner struct {
	p        *Pipeline
	locker   *lock.Locker
	lockKey  string
	observer CycleObserver
	log      *zap.Logger
}

func NewRunner(p *Pipeline, locker *lock.Locker, observer CycleObserver, log *zap.Logger) *Runner {
	return &Runner{
		p:        p,
		locker:   locker,
		lockKey:  fmt.Sprintf("redeemer:lock:%s:%s", p.s.Network, p.s.Variant),
		observer: observer,
		log:      log.Named(string(p.s.Variant)),
	}
}

// Run loops until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	interval := r.p.s.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()

	r.log.Info("redeemer started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			r.log.Info("redeemer stopped")
			return nil
		case <-timer.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.log.Error("redemption cycle failed", zap.Error(err))
			}
			timer.Reset(interval)
		}
	}
}

// RunOnce runs a single cycle. It returns a nil report when another process
// holds the lock.
func (r *Runner) RunOnce(ctx context.Context) (*CycleReport, error) {
	if r.locker != nil {
		lease, err := r.locker.TryAcquire(ctx, r.lockKey)
		if err != nil {
			return nil, err
		}
		if lease == nil {
			r.log.Debug("cycle lock held elsewhere, skipping tick")
			return nil, nil
		}
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				r.log.Warn("release cycle lock", zap.Error(err))
			}
		}()
	}

	report, err := r.p.RunCycle(ctx)
	if r.observer != nil {
		r.observer.CycleFinished(report)
	}
	return &report, err
}
