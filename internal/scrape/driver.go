package scrape

import (
	"context"
	"time"
)

// Driver opens pages on a browser-like backend. Implementations own the
// browser lifecycle: a crashed browser must be relaunched on the next
// OpenPage, and only a failed relaunch is reported as ErrBrowserUnavailable.
type Driver interface {
	OpenPage(ctx context.Context) (Page, error)
}

// Page is a single tab. Closing it must leave the browser running.
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error
	Text(ctx context.Context, selector string, timeout time.Duration) (string, error)
	Texts(ctx context.Context, selector string, timeout time.Duration) ([]string, error)
	Items(ctx context.Context, selector string, timeout time.Duration) ([]Node, error)
	Scroll(ctx context.Context) error
	Close() error
}

// Node is an element inside a list item; Text looks up a descendant without
// waiting.
type Node interface {
	Text(selector string) (string, error)
}

// Pacer adds human-looking pauses around navigation and scrolling.
type Pacer interface {
	AfterNavigation(ctx context.Context) error
	BetweenScrolls(ctx context.Context) error
}

type noPacer struct{}

func (noPacer) AfterNavigation(context.Context) error { return nil }
func (noPacer) BetweenScrolls(context.Context) error  { return nil }
