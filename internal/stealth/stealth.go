package stealth

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/example/fortify/internal/config"
)

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Pacer inserts the randomized pauses a session makes around navigation and
// scrolling. The zero value never sleeps.
type Pacer struct {
	navMin, navMax       time.Duration
	scrollMin, scrollMax time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

func NewPacer(cfg config.Stealth) *Pacer {
	return &Pacer{
		navMin:    cfg.NavDelayMin,
		navMax:    cfg.NavDelayMax,
		scrollMin: cfg.ScrollDelayMin,
		scrollMax: cfg.ScrollDelayMax,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// AfterNavigation pauses like a reader taking in a freshly loaded page.
func (p *Pacer) AfterNavigation(ctx context.Context) error {
	return Sleep(ctx, p.Jitter(p.navMin, p.navMax))
}

// BetweenScrolls pauses between two scroll steps.
func (p *Pacer) BetweenScrolls(ctx context.Context) error {
	return Sleep(ctx, p.Jitter(p.scrollMin, p.scrollMax))
}

// Jitter returns a uniformly random duration in [min, max].
func (p *Pacer) Jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rng == nil {
		p.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return min + time.Duration(p.rng.Int63n(int64(max-min)+1))
}

// Gaussian returns a duration drawn around mean, clamped to mean ± 3σ and
// never negative. Most human pauses cluster around a typical value.
func Gaussian(mean, stdDev time.Duration) time.Duration {
	u1 := rand.Float64()
	u2 := rand.Float64()
	if u1 == 0 {
		u1 = math.SmallestNonzeroFloat64
	}
	z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
	d := time.Duration(float64(mean) + z*float64(stdDev))
	if lo := mean - 3*stdDev; d < lo {
		d = lo
	}
	if hi := mean + 3*stdDev; d > hi {
		d = hi
	}
	if d < 0 {
		d = 0
	}
	return d
}

// ScrollStep scrolls the page by a random distance, sometimes in chunks.
func ScrollStep(ctx context.Context, p *rod.Page) error {
	px := 300 + rand.Intn(500)
	if rand.Float64() < 0.3 {
		chunks := 2 + rand.Intn(3)
		for j := 0; j < chunks; j++ {
			if _, err := p.Context(ctx).Eval(`(dy) => window.scrollBy({top: dy, behavior: 'smooth'})`, px/chunks); err != nil {
				return err
			}
			if err := Sleep(ctx, time.Duration(100+rand.Intn(200))*time.Millisecond); err != nil {
				return err
			}
		}
		return nil
	}
	_, err := p.Context(ctx).Eval(`(dy) => window.scrollBy({top: dy, behavior: 'smooth'})`, px)
	return err
}

// WakeUpMovement moves the mouse from a window edge towards the centre along a
// bezier curve, the way a user picks up the mouse on a new page.
func WakeUpMovement(ctx context.Context, p *rod.Page) error {
	width, height := viewport(p)
	starts := []struct{ x, y int }{
		{100, 100},
		{width - 100, 100},
		{width / 2, 100},
		{100, height / 2},
	}
	s := starts[rand.Intn(len(starts))]
	tx := width/2 + rand.Intn(200) - 100
	ty := height/2 + rand.Intn(200) - 100
	return moveMouse(ctx, p, s.x, s.y, tx, ty)
}

func viewport(p *rod.Page) (int, int) {
	width, height := 1400, 900
	if dims, err := p.Eval(`() => ({width: window.innerWidth, height: window.innerHeight})`); err == nil {
		if w := dims.Value.Get("width").Int(); w > 0 {
			width = w
		}
		if h := dims.Value.Get("height").Int(); h > 0 {
			height = h
		}
	}
	return width, height
}

func moveMouse(ctx context.Context, p *rod.Page, fromX, fromY, toX, toY int) error {
	dist := math.Hypot(float64(toX-fromX), float64(toY-fromY))
	steps := 40 + int(dist/20) + rand.Intn(15)

	cx1 := float64(fromX + (toX-fromX)/3 + rand.Intn(100) - 50)
	cy1 := float64(fromY + (toY-fromY)/3 + rand.Intn(100) - 50)
	cx2 := float64(fromX + 2*(toX-fromX)/3 + rand.Intn(100) - 50)
	cy2 := float64(fromY + 2*(toY-fromY)/3 + rand.Intn(100) - 50)

	for i := 0; i <= steps; i++ {
		t := easeInOutCubic(float64(i) / float64(steps))
		x := cubicBezier(float64(fromX), cx1, cx2, float64(toX), t) + float64(rand.Intn(3)-1)
		y := cubicBezier(float64(fromY), cy1, cy2, float64(toY), t) + float64(rand.Intn(3)-1)
		err := proto.InputDispatchMouseEvent{
			Type: proto.InputDispatchMouseEventTypeMouseMoved,
			X:    x,
			Y:    y,
		}.Call(p)
		if err != nil {
			return err
		}
		delay := 8 + rand.Intn(10)
		if i < 5 || i > steps-5 {
			delay += 5 // slower at the endpoints
		}
		if err := Sleep(ctx, time.Duration(delay)*time.Millisecond); err != nil {
			return err
		}
	}
	return nil
}

func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

func cubicBezier(p0, p1, p2, p3, t float64) float64 {
	return math.Pow(1-t, 3)*p0 +
		3*math.Pow(1-t, 2)*t*p1 +
		3*(1-t)*math.Pow(t, 2)*p2 +
		math.Pow(t, 3)*p3
}
