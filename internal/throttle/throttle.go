package throttle

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/example/fortify/internal/config"
)

// Throttle is the process-wide admission gate for acquisitions. At most
// maxConcurrent jobs run at once, waiters are admitted in arrival order, and
// two consecutive starts are at least minDelay apart no matter which profile
// they belong to.
type Throttle struct {
	slots    *semaphore.Weighted
	spacing  *rate.Limiter // nil when minDelay is 0
	limit    int64
	minDelay time.Duration

	waiting atomic.Int64
	running atomic.Int64
	started atomic.Int64
}

type Stats struct {
	MaxConcurrent int64         `json:"maxConcurrent"`
	MinDelay      time.Duration `json:"minDelay"`
	Waiting       int64         `json:"waiting"`
	Running       int64         `json:"running"`
	Started       int64         `json:"started"`
}

func New(maxConcurrent int, minDelay time.Duration) *Throttle {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	t := &Throttle{
		slots:    semaphore.NewWeighted(int64(maxConcurrent)),
		limit:    int64(maxConcurrent),
		minDelay: minDelay,
	}
	if minDelay > 0 {
		t.spacing = rate.NewLimiter(rate.Every(minDelay), 1)
	}
	return t
}

func FromConfig(cfg config.Throttle) *Throttle {
	return New(cfg.MaxConcurrent, cfg.MinDelay)
}

// Admit blocks until job may start, runs it and returns its error. If ctx is
// done before the job starts, the job is skipped and ctx's error returned.
func (t *Throttle) Admit(ctx context.Context, job func(ctx context.Context) error) error {
	t.waiting.Add(1)
	err := t.slots.Acquire(ctx, 1)
	if err != nil {
		t.waiting.Add(-1)
		return err
	}
	defer t.slots.Release(1)

	err = t.space(ctx)
	t.waiting.Add(-1)
	if err != nil {
		return err
	}

	t.started.Add(1)
	t.running.Add(1)
	defer t.running.Add(-1)
	return job(ctx)
}

func (t *Throttle) space(ctx context.Context) error {
	if t.spacing == nil {
		return ctx.Err()
	}
	r := t.spacing.Reserve()
	d := r.Delay()
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (t *Throttle) Stats() Stats {
	return Stats{
		MaxConcurrent: t.limit,
		MinDelay:      t.minDelay,
		Waiting:       t.waiting.Load(),
		Running:       t.running.Load(),
		Started:       t.started.Load(),
	}
}
