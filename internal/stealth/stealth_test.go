package stealth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/fortify/internal/config"
)

func TestJitterStaysInRange(t *testing.T) {
	p := NewPacer(config.Stealth{})
	min, max := 500*time.Millisecond, 1500*time.Millisecond
	for i := 0; i < 1000; i++ {
		d := p.Jitter(min, max)
		if d < min || d > max {
			t.Fatalf("jitter %v outside [%v, %v]", d, min, max)
		}
	}
}

func TestJitterDegenerateRange(t *testing.T) {
	var p Pacer
	if got := p.Jitter(time.Second, time.Second); got != time.Second {
		t.Fatalf("jitter = %v, want 1s", got)
	}
	if got := p.Jitter(2*time.Second, time.Second); got != 2*time.Second {
		t.Fatalf("jitter = %v, want min when max < min", got)
	}
}

func TestZeroPacerDoesNotSleep(t *testing.T) {
	var p Pacer
	start := time.Now()
	if err := p.AfterNavigation(context.Background()); err != nil {
		t.Fatalf("after navigation: %v", err)
	}
	if err := p.BetweenScrolls(context.Background()); err != nil {
		t.Fatalf("between scrolls: %v", err)
	}
	if el := time.Since(start); el > 50*time.Millisecond {
		t.Fatalf("zero pacer slept %v", el)
	}
}

func TestGaussianClamped(t *testing.T) {
	mean, sd := 400*time.Millisecond, 200*time.Millisecond
	for i := 0; i < 1000; i++ {
		d := Gaussian(mean, sd)
		if d < 0 || d > mean+3*sd {
			t.Fatalf("gaussian %v out of bounds", d)
		}
	}
}

func TestSleepHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Sleep(ctx, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("sleep err = %v, want context.Canceled", err)
	}
}
