package throttle

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAdmitSpacesStarts(t *testing.T) {
	const d = 50 * time.Millisecond
	th := New(1, d)

	var mu sync.Mutex
	var starts []time.Time
	begin := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = th.Admit(t.Context(), func(context.Context) error {
				mu.Lock()
				starts = append(starts, time.Now())
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	if len(starts) != 3 {
		t.Fatalf("started %d jobs, want 3", len(starts))
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })
	for i, s := range starts {
		if want := time.Duration(i) * d; s.Sub(begin) < want {
			t.Fatalf("job %d started after %v, want >= %v", i, s.Sub(begin), want)
		}
	}
}

func TestAdmitBoundsConcurrency(t *testing.T) {
	th := New(2, 0)
	var cur, peak atomic.Int64

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = th.Admit(t.Context(), func(context.Context) error {
				n := cur.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				cur.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	if p := peak.Load(); p > 2 {
		t.Fatalf("peak concurrency %d, want <= 2", p)
	}
	if s := th.Stats(); s.Started != 8 || s.Running != 0 || s.Waiting != 0 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestFailingJobDoesNotBlockNext(t *testing.T) {
	th := New(1, 0)
	boom := errors.New("boom")
	if err := th.Admit(t.Context(), func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	ran := false
	if err := th.Admit(t.Context(), func(context.Context) error { ran = true; return nil }); err != nil || !ran {
		t.Fatalf("second job: ran=%v err=%v", ran, err)
	}
}

func TestCancelledWhileQueued(t *testing.T) {
	th := New(1, 0)
	release := make(chan struct{})
	holding := make(chan struct{})
	go func() {
		_ = th.Admit(context.Background(), func(context.Context) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	ran := false
	err := th.Admit(ctx, func(context.Context) error { ran = true; return nil })
	close(release)

	if !errors.Is(err, context.DeadlineExceeded) || ran {
		t.Fatalf("ran=%v err=%v, want skipped with deadline exceeded", ran, err)
	}
}

func TestCancelledDuringSpacing(t *testing.T) {
	th := New(1, time.Hour)
	if err := th.Admit(t.Context(), func(context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	if err := th.Admit(ctx, func(context.Context) error { return nil }); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}
