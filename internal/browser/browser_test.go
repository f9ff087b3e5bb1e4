package browser

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/launcher"

	"github.com/example/fortify/internal/config"
	"github.com/example/fortify/internal/logging"
	"github.com/example/fortify/internal/scrape"
)

func TestFingerprintScriptInterpolates(t *testing.T) {
	js := fingerprintScript(1280, 720, "MacIntel")
	for _, want := range []string{`"MacIntel"`, "1380", "820", "780", "webdriver"} {
		if !strings.Contains(js, want) {
			t.Fatalf("script missing %q", want)
		}
	}
}

func TestRandRange(t *testing.T) {
	if got := randRange(5, 5); got != 5 {
		t.Fatalf("randRange(5,5) = %d", got)
	}
	if got := randRange(9, 3); got != 9 {
		t.Fatalf("randRange(9,3) = %d, want min", got)
	}
	for i := 0; i < 200; i++ {
		if got := randRange(1280, 1920); got < 1280 || got > 1920 {
			t.Fatalf("randRange out of bounds: %d", got)
		}
	}
}

func TestClosedBrowserRefusesPages(t *testing.T) {
	cfg := config.Default()
	b := New(&cfg, logging.Discard())
	b.Close()
	b.Close()
	_, err := b.OpenPage(t.Context())
	if !errors.Is(err, scrape.ErrBrowserUnavailable) {
		t.Fatalf("OpenPage after Close err = %v, want ErrBrowserUnavailable", err)
	}
}

func TestOpenPageCanceledContextLaunchesNothing(t *testing.T) {
	cfg := config.Default()
	b := New(&cfg, logging.Discard())
	defer b.Close()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if _, err := b.OpenPage(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if b.launcher != nil || b.rod != nil {
		t.Fatal("browser launched for a canceled context")
	}
}

func TestOpenPageGivesUpWhileLaunchIsStuck(t *testing.T) {
	cfg := config.Default()
	b := New(&cfg, logging.Discard())
	// Occupy the launch slot as a launch that never finishes would.
	b.launching <- struct{}{}
	defer func() { <-b.launching }()

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := b.OpenPage(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if d := time.Since(start); d > 2*time.Second {
		t.Fatalf("OpenPage took %v after its deadline", d)
	}

	closed := make(chan struct{})
	go func() {
		b.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked behind a stuck launch")
	}
}

func TestOpenPageRelaunchesAfterCrash(t *testing.T) {
	bin, ok := launcher.LookPath()
	if !ok {
		t.Skip("no Chrome or Chromium installed")
	}
	cfg := config.Default()
	cfg.Browser.BinPath = bin
	cfg.Browser.Headless = true
	b := New(&cfg, logging.Discard())
	defer b.Close()

	pg, err := b.OpenPage(t.Context())
	if err != nil {
		t.Fatalf("first OpenPage: %v", err)
	}
	_ = pg.Close()

	b.mu.Lock()
	first, l := b.rod, b.launcher
	b.mu.Unlock()
	// Simulate a crash and wait for the process to be gone.
	l.Kill()
	l.Cleanup()

	pg, err = b.OpenPage(t.Context())
	if err != nil {
		t.Fatalf("OpenPage after crash: %v", err)
	}
	defer pg.Close()

	b.mu.Lock()
	second := b.rod
	b.mu.Unlock()
	if second == nil || second == first {
		t.Fatal("browser was not relaunched after the crash")
	}
}
