package scrape

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/example/fortify/internal/config"
	"github.com/example/fortify/internal/logging"
	"github.com/example/fortify/internal/models"
	"github.com/example/fortify/internal/stealth"
)

type Options struct {
	Retry             RetryPolicy
	NavigationTimeout time.Duration
	// FieldTimeout bounds the wait for each selector tried.
	FieldTimeout time.Duration
	ScrollSteps  int
	Pacer        Pacer
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Retry: RetryPolicy{
			MaxRetries: cfg.Acquisition.MaxRetries,
			BaseDelay:  cfg.Acquisition.BackoffBase,
			MaxDelay:   cfg.Acquisition.BackoffMax,
		},
		NavigationTimeout: cfg.Acquisition.NavigationTimeout,
		FieldTimeout:      cfg.Acquisition.FieldTimeout,
		ScrollSteps:       cfg.Stealth.ScrollSteps,
		Pacer:             stealth.NewPacer(cfg.Stealth),
	}
}

// Session turns a profile URL into a payload. It borrows pages from the
// driver and never closes the driver itself.
type Session struct {
	driver   Driver
	registry *Registry
	opts     Options
	log      *logging.Logger
}

func NewSession(d Driver, reg *Registry, opts Options, log *logging.Logger) *Session {
	if reg == nil {
		reg = DefaultRegistry()
	}
	if opts.Pacer == nil {
		opts.Pacer = noPacer{}
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 45 * time.Second
	}
	if opts.FieldTimeout <= 0 {
		opts.FieldTimeout = 5 * time.Second
	}
	if opts.Retry.BaseDelay <= 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Session{driver: d, registry: reg, opts: opts, log: log.With("module", "scrape")}
}

// Validate checks rawURL against the registered strategies without touching
// the browser.
func (s *Session) Validate(platform models.Platform, rawURL string) error {
	_, _, err := s.registry.Resolve(platform, rawURL)
	return err
}

// Acquire scrapes one profile. It returns a *ValidationError for bad input
// and a *TransientError once the retry budget is spent. Missing fields are
// not errors.
func (s *Session) Acquire(ctx context.Context, platform models.Platform, rawURL string) (models.Payload, error) {
	strat, u, err := s.registry.Resolve(platform, rawURL)
	if err != nil {
		return models.Payload{}, err
	}
	target := u.String()
	log := s.log.With("platform", strat.Platform(), "url", target)
	start := time.Now()

	page, attempts, err := s.open(ctx, u, log)
	if err != nil {
		if ctx.Err() != nil {
			return models.Payload{}, fmt.Errorf("acquire %s: %w", target, ctx.Err())
		}
		log.Warn("acquisition failed", "attempts", attempts, "err", err)
		return models.Payload{}, &TransientError{URL: target, Attempts: attempts, Err: err}
	}
	defer func() {
		if err := page.Close(); err != nil {
			log.Debug("page close failed", "err", err)
		}
	}()

	if err := s.opts.Pacer.AfterNavigation(ctx); err != nil {
		return models.Payload{}, err
	}
	for i := 0; i < s.opts.ScrollSteps; i++ {
		if err := page.Scroll(ctx); err != nil {
			log.Debug("scroll failed", "step", i+1, "err", err)
		}
		if i < s.opts.ScrollSteps-1 {
			if err := s.opts.Pacer.BetweenScrolls(ctx); err != nil {
				return models.Payload{}, err
			}
		}
	}

	fields := NewFields(ctx, page, s.opts.FieldTimeout, log)
	payload := Normalize(strat.Extract(ctx, fields))
	if err := ctx.Err(); err != nil {
		return models.Payload{}, fmt.Errorf("acquire %s: %w", target, err)
	}

	log.Info("profile acquired",
		"attempts", attempts,
		"gaps", fields.Gaps(),
		"duration", time.Since(start).Round(time.Millisecond).String())
	return payload, nil
}

// open gets a page and navigates it, retrying both together. A failed
// attempt closes its page so the next one starts clean.
func (s *Session) open(ctx context.Context, u *url.URL, log *logging.Logger) (Page, int, error) {
	policy := s.opts.Retry
	policy.Notify = func(attempt int, err error, wait time.Duration) {
		log.Warn("navigation attempt failed", "attempt", attempt, "retry_in", wait.String(), "err", err)
	}

	var page Page
	attempts, err := policy.Do(ctx, func(ctx context.Context) error {
		p, err := s.driver.OpenPage(ctx)
		if err != nil {
			return fmt.Errorf("open page: %w", err)
		}
		navCtx, cancel := context.WithTimeout(ctx, s.opts.NavigationTimeout)
		err = p.Navigate(navCtx, u.String())
		cancel()
		if err != nil {
			_ = p.Close()
			return fmt.Errorf("navigate: %w", err)
		}
		page = p
		return nil
	})
	if err != nil {
		return nil, attempts, err
	}
	return page, attempts, nil
}
