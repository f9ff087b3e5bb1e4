package browser

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/example/fortify/internal/config"
	"github.com/example/fortify/internal/logging"
	"github.com/example/fortify/internal/scrape"
	"github.com/example/fortify/internal/stealth"
)

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
}

// CDP calls made while opening or closing a page are bounded so a wedged
// Chrome cannot hold up callers.
const (
	healthTimeout = 5 * time.Second
	pageTimeout   = 20 * time.Second
	closeTimeout  = 5 * time.Second
)

var errClosed = fmt.Errorf("%w: browser closed", scrape.ErrBrowserUnavailable)

// Browser is the single long-lived browser of the process. It launches on the
// first OpenPage, relaunches when the previous instance stopped answering, and
// only goes away on Close. mu only guards the fields below it and is never
// held across a CDP call or a launch.
type Browser struct {
	cfg     config.Browser
	stealth config.Stealth
	log     *logging.Logger

	// launching admits one launch at a time.
	launching chan struct{}

	mu       sync.Mutex
	rod      *rod.Browser
	launcher *launcher.Launcher
	closed   bool
}

func New(cfg *config.Config, log *logging.Logger) *Browser {
	return &Browser{
		cfg:       cfg.Browser,
		stealth:   cfg.Stealth,
		log:       log.With("module", "browser"),
		launching: make(chan struct{}, 1),
	}
}

var _ scrape.Driver = (*Browser)(nil)

func (b *Browser) OpenPage(ctx context.Context) (scrape.Page, error) {
	rb, err := b.ensure(ctx)
	if err != nil {
		return nil, err
	}
	p, err := b.newPage(ctx, rb)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// The process can die between the health check and page creation.
		b.log.Warn("page creation failed, relaunching browser", "err", err)
		b.discard(rb)
		if rb, err = b.ensure(ctx); err != nil {
			return nil, err
		}
		if p, err = b.newPage(ctx, rb); err != nil {
			return nil, fmt.Errorf("%w: %v", scrape.ErrBrowserUnavailable, err)
		}
	}
	return &page{p: p, humanMouse: b.stealth.EnableHumanMouse}, nil
}

// Close shuts the browser down. Safe to call more than once, and safe to call
// while another goroutine is stuck in OpenPage.
func (b *Browser) Close() {
	b.mu.Lock()
	b.closed = true
	rb, l := b.rod, b.launcher
	b.rod, b.launcher = nil, nil
	b.mu.Unlock()
	b.stop(rb, l)
}

// newPage opens a disguised tab within pageTimeout. The returned page is
// detached from ctx; callers pass their own context per operation.
func (b *Browser) newPage(ctx context.Context, rb *rod.Browser) (*rod.Page, error) {
	ctx, cancel := context.WithTimeout(ctx, pageTimeout)
	defer cancel()
	p, err := rb.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, err
	}
	if err := b.disguise(p); err != nil {
		_ = closePage(p)
		return nil, fmt.Errorf("prepare page: %w", err)
	}
	return p.Context(context.Background()), nil
}

func (b *Browser) current() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errClosed
	}
	return b.rod, nil
}

// ensure returns a browser that answered a version query, launching a new
// one when there is none or the current one is gone.
func (b *Browser) ensure(ctx context.Context) (*rod.Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rb, err := b.current()
	if err != nil {
		return nil, err
	}
	if rb != nil {
		err := ping(ctx, rb)
		if err == nil {
			return rb, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		b.log.Warn("browser unusable, relaunching", "err", err)
		b.discard(rb)
	}
	return b.launch(ctx)
}

func ping(ctx context.Context, rb *rod.Browser) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	_, err := proto.BrowserGetVersion{}.Call(rb.Context(ctx))
	return err
}

type launched struct {
	rb  *rod.Browser
	l   *launcher.Launcher
	err error
}

func (b *Browser) launch(ctx context.Context) (*rod.Browser, error) {
	select {
	case b.launching <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-b.launching }()

	// Someone else may have launched while we waited.
	if rb, err := b.current(); err != nil || rb != nil {
		return rb, err
	}

	done := make(chan launched, 1)
	go func() { done <- b.start() }()
	var r launched
	select {
	case r = <-done:
	case <-ctx.Done():
		go func() {
			if r := <-done; r.err == nil {
				b.stop(r.rb, r.l)
			}
		}()
		return nil, ctx.Err()
	}
	if r.err != nil {
		return nil, fmt.Errorf("%w: %v", scrape.ErrBrowserUnavailable, r.err)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.stop(r.rb, r.l)
		return nil, errClosed
	}
	b.rod, b.launcher = r.rb, r.l
	b.mu.Unlock()
	b.log.Info("browser launched", "headless", b.cfg.Headless, "pid", r.l.PID())
	return r.rb, nil
}

// discard drops rb if it is still the current browser and shuts it down.
func (b *Browser) discard(rb *rod.Browser) {
	b.mu.Lock()
	if b.rod != rb {
		b.mu.Unlock()
		return
	}
	l := b.launcher
	b.rod, b.launcher = nil, nil
	b.mu.Unlock()
	b.stop(rb, l)
}

func (b *Browser) start() launched {
	w := b.cfg.ViewportWidthMax
	h := b.cfg.ViewportHeightMax
	l := launcher.New().
		Headless(b.cfg.Headless).
		Leakless(b.cfg.Leakless).
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-dev-shm-usage").
		Set("disable-gpu").
		Set("window-size", fmt.Sprintf("%d,%d", w, h))
	if b.cfg.BinPath != "" {
		l = l.Bin(b.cfg.BinPath)
	}
	if os.Geteuid() == 0 {
		// Chrome refuses to start as root with the sandbox on.
		l = l.NoSandbox(true)
	}
	u, err := l.Launch()
	if err != nil {
		return launched{err: fmt.Errorf("launch: %w", err)}
	}
	rb := rod.New().ControlURL(u)
	if err := rb.Connect(); err != nil {
		b.stop(nil, l)
		return launched{err: fmt.Errorf("connect: %w", err)}
	}
	ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()
	if err := rb.Context(ctx).IgnoreCertErrors(true); err != nil {
		b.log.Debug("ignore cert errors failed", "err", err)
	}
	return launched{rb: rb, l: l}
}

// stop closes rb politely, then kills the process so Cleanup never waits on
// a browser that ignored the close.
func (b *Browser) stop(rb *rod.Browser, l *launcher.Launcher) {
	if rb != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		if err := rb.Context(ctx).Close(); err != nil {
			b.log.Debug("browser close", "err", err)
		}
		cancel()
	}
	if l != nil {
		l.Kill()
		l.Cleanup()
	}
}

func closePage(p *rod.Page) error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return p.Context(ctx).Close()
}

// disguise applies UA, headers, viewport and the fingerprint script to a page
// before it loads anything.
func (b *Browser) disguise(p *rod.Page) error {
	ua := b.cfg.UserAgent
	if ua == "" {
		ua = userAgents[rand.Intn(len(userAgents))]
	}
	platform := "Win32"
	switch {
	case strings.Contains(ua, "Macintosh"):
		platform = "MacIntel"
	case strings.Contains(ua, "Linux"):
		platform = "Linux x86_64"
	}
	if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      ua,
		AcceptLanguage: b.cfg.AcceptLanguage,
		Platform:       platform,
	}); err != nil {
		return err
	}
	if _, err := p.SetExtraHeaders([]string{
		"Accept-Language", b.cfg.AcceptLanguage,
		"Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
	}); err != nil {
		return err
	}
	w := randRange(b.cfg.ViewportWidthMin, b.cfg.ViewportWidthMax)
	h := randRange(b.cfg.ViewportHeightMin, b.cfg.ViewportHeightMax)
	if err := p.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             w,
		Height:            h,
		DeviceScaleFactor: 1,
	}); err != nil {
		return err
	}
	if _, err := p.EvalOnNewDocument(fingerprintScript(w, h, platform)); err != nil {
		return err
	}
	b.log.Debug("page disguised", "ua", ua, "viewport", fmt.Sprintf("%dx%d", w, h))
	return nil
}

func fingerprintScript(width, height int, platform string) string {
	return fmt.Sprintf(`(() => {
	Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
	window.chrome = { runtime: {}, loadTimes: function() {}, csi: function() {}, app: {} };
	Object.defineProperty(navigator, 'plugins', {
		get: () => [
			{ name: 'PDF Viewer', filename: 'internal-pdf-viewer', description: 'Portable Document Format' },
			{ name: 'Chrome PDF Viewer', filename: 'internal-pdf-viewer', description: 'Portable Document Format' }
		]
	});
	Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
	Object.defineProperty(navigator, 'platform', { get: () => %q });
	Object.defineProperty(navigator, 'hardwareConcurrency', { get: () => 8 });
	Object.defineProperty(navigator, 'deviceMemory', { get: () => 8 });
	Object.defineProperty(window.screen, 'width', { get: () => %d });
	Object.defineProperty(window.screen, 'height', { get: () => %d });
	Object.defineProperty(window.screen, 'availWidth', { get: () => %d });
	Object.defineProperty(window.screen, 'availHeight', { get: () => %d });
})();`, platform, width+100, height+100, width+100, height+60)
}

func randRange(min, max int) int {
	if min >= max {
		return min
	}
	return min + rand.Intn(max-min+1)
}

type page struct {
	p          *rod.Page
	humanMouse bool
}

func (pg *page) Navigate(ctx context.Context, url string) error {
	p := pg.p.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("wait load: %w", err)
	}
	if pg.humanMouse {
		// Mouse noise is cosmetic; a failed move never fails navigation.
		_ = stealth.WakeUpMovement(ctx, p)
		_ = stealth.Sleep(ctx, stealth.Gaussian(1400*time.Millisecond, 600*time.Millisecond))
	}
	return ctx.Err()
}

func (pg *page) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	_, err := pg.p.Context(ctx).Timeout(timeout).Element(selector)
	return err
}

func (pg *page) Text(ctx context.Context, selector string, timeout time.Duration) (string, error) {
	el, err := pg.p.Context(ctx).Timeout(timeout).Element(selector)
	if err != nil {
		return "", err
	}
	s, err := el.Text()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(s), nil
}

func (pg *page) Texts(ctx context.Context, selector string, timeout time.Duration) ([]string, error) {
	els, err := pg.elements(ctx, selector, timeout)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(els))
	for _, el := range els {
		s, err := el.Text()
		if err != nil {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

func (pg *page) Items(ctx context.Context, selector string, timeout time.Duration) ([]scrape.Node, error) {
	els, err := pg.elements(ctx, selector, timeout)
	if err != nil {
		return nil, err
	}
	out := make([]scrape.Node, 0, len(els))
	for _, el := range els {
		out = append(out, node{el: el})
	}
	return out, nil
}

func (pg *page) elements(ctx context.Context, selector string, timeout time.Duration) (rod.Elements, error) {
	if err := pg.WaitFor(ctx, selector, timeout); err != nil {
		return nil, err
	}
	els, err := pg.p.Context(ctx).Elements(selector)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, errors.New("no elements")
	}
	return els, nil
}

func (pg *page) Scroll(ctx context.Context) error {
	return stealth.ScrollStep(ctx, pg.p.Context(ctx))
}

func (pg *page) Close() error {
	return closePage(pg.p)
}

type node struct{ el *rod.Element }

func (n node) Text(selector string) (string, error) {
	ok, el, err := n.el.Has(selector)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("no match for %q", selector)
	}
	s, err := el.Text()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(s), nil
}
