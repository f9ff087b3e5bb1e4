package scrape

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeDriver hands out fakePages sharing one fixture. The first failNav
// navigations fail.
type fakeDriver struct {
	mu       sync.Mutex
	opens    int
	openErr  error
	failNav  int
	navTimes []time.Time
	closed   int
	texts    map[string]string
	lists    map[string][]string
	items    map[string][]Node
	scrolls  int
}

func (d *fakeDriver) OpenPage(context.Context) (Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens++
	if d.openErr != nil {
		return nil, d.openErr
	}
	return &fakePage{d: d}, nil
}

func (d *fakeDriver) calls() (opens, closed int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens, d.closed
}

type fakePage struct {
	d *fakeDriver
}

var errNavFailed = errors.New("net::ERR_CONNECTION_RESET")

func (p *fakePage) Navigate(ctx context.Context, _ string) error {
	p.d.mu.Lock()
	defer p.d.mu.Unlock()
	p.d.navTimes = append(p.d.navTimes, time.Now())
	if len(p.d.navTimes) <= p.d.failNav {
		return errNavFailed
	}
	return ctx.Err()
}

func (p *fakePage) WaitFor(_ context.Context, sel string, _ time.Duration) error {
	if _, ok := p.d.texts[sel]; ok {
		return nil
	}
	return errors.New("not found")
}

func (p *fakePage) Text(_ context.Context, sel string, _ time.Duration) (string, error) {
	if s, ok := p.d.texts[sel]; ok {
		return s, nil
	}
	return "", errors.New("not found")
}

func (p *fakePage) Texts(_ context.Context, sel string, _ time.Duration) ([]string, error) {
	return p.d.lists[sel], nil
}

func (p *fakePage) Items(_ context.Context, sel string, _ time.Duration) ([]Node, error) {
	return p.d.items[sel], nil
}

func (p *fakePage) Scroll(context.Context) error {
	p.d.mu.Lock()
	p.d.scrolls++
	p.d.mu.Unlock()
	return nil
}

func (p *fakePage) Close() error {
	p.d.mu.Lock()
	p.d.closed++
	p.d.mu.Unlock()
	return nil
}

type fakeNode map[string]string

func (n fakeNode) Text(sel string) (string, error) {
	if s, ok := n[sel]; ok {
		return s, nil
	}
	return "", errors.New("not found")
}
