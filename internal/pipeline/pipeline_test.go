package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/example/fortify/internal/generate"
	"github.com/example/fortify/internal/logging"
	"github.com/example/fortify/internal/models"
	"github.com/example/fortify/internal/scrape"
	"github.com/example/fortify/internal/store"
	"github.com/example/fortify/internal/throttle"
)

// fakeAcquirer returns queued results in order and validates URLs the same
// way the real session does.
type fakeAcquirer struct {
	mu      sync.Mutex
	results []acqResult
	calls   int
}

type acqResult struct {
	payload models.Payload
	err     error
}

func (f *fakeAcquirer) Validate(platform models.Platform, rawURL string) error {
	_, _, err := scrape.DefaultRegistry().Resolve(platform, rawURL)
	return err
}

func (f *fakeAcquirer) Acquire(_ context.Context, platform models.Platform, rawURL string) (models.Payload, error) {
	if err := f.Validate(platform, rawURL); err != nil {
		return models.Payload{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.results[f.calls]
	f.calls++
	return r.payload, r.err
}

// pickyBackend fails for prompts that mention failFor.
type pickyBackend struct{ failFor string }

func (b pickyBackend) Complete(_ context.Context, req generate.Request) (string, error) {
	if b.failFor != "" && strings.Contains(req.Prompt, b.failFor) {
		return "", errors.New("backend unavailable")
	}
	return "SUBJECT: Payroll update\n\nBODY: Please review.", nil
}

func newTestPipeline(t *testing.T, acq *fakeAcquirer, b generate.Backend) (*Pipeline, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "fortify.db"), logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.Migrate(t.Context()); err != nil {
		t.Fatal(err)
	}
	gen := generate.New(b, generate.Options{Model: "m"}, logging.Discard())
	return New(st, throttle.New(1, 0), acq, gen, logging.Discard()), st
}

const janeURL = "https://www.linkedin.com/in/jane-doe"

func TestAcquireTwiceBuildsHistory(t *testing.T) {
	acq := &fakeAcquirer{results: []acqResult{
		{payload: models.Payload{FullName: "Jane", Headline: "Analyst"}},
		{payload: models.Payload{FullName: "Jane", Headline: "CFO"}},
	}}
	p, _ := newTestPipeline(t, acq, nil)
	ctx := t.Context()

	for i := 1; i <= 2; i++ {
		snap, err := p.Acquire(ctx, AcquireRequest{TargetID: "t1", ProfileURL: janeURL})
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		if snap.Version != i {
			t.Fatalf("acquire %d version = %d", i, snap.Version)
		}
	}

	hist, err := p.History(ctx, "t1", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 || hist[0].Version != 2 || hist[1].Version != 1 {
		t.Fatalf("history = %+v, want versions [2 1]", hist)
	}
	if hist[1].Payload.Headline != "Analyst" || hist[0].Payload.Headline != "CFO" {
		t.Fatalf("payloads = %q, %q", hist[0].Payload.Headline, hist[1].Payload.Headline)
	}

	latest, ok, err := p.Latest(ctx, "t1", models.PlatformLinkedIn)
	if err != nil || !ok || latest.Version != 2 {
		t.Fatalf("latest = %+v ok=%v err=%v", latest, ok, err)
	}
	prof, err := p.Profile(ctx, "t1", "")
	if err != nil || prof.Status != models.StatusCompleted {
		t.Fatalf("profile = %+v err=%v", prof, err)
	}
}

func TestAcquireFailureMarksProfile(t *testing.T) {
	cause := &scrape.TransientError{URL: janeURL, Attempts: 3, Err: errors.New("navigation timeout")}
	acq := &fakeAcquirer{results: []acqResult{{err: cause}}}
	p, _ := newTestPipeline(t, acq, nil)
	ctx := t.Context()

	_, err := p.Acquire(ctx, AcquireRequest{TargetID: "t1", ProfileURL: janeURL})
	if !scrape.IsTransient(err) {
		t.Fatalf("err = %v, want TransientError", err)
	}
	prof, err := p.Profile(ctx, "t1", "")
	if err != nil {
		t.Fatal(err)
	}
	if prof.Status != models.StatusFailed || !strings.Contains(prof.LastError, "gave up after 3 attempt") {
		t.Fatalf("profile = %+v", prof)
	}
	if _, ok, _ := p.Latest(ctx, "t1", ""); ok {
		t.Fatal("failed acquisition must not create a snapshot")
	}
}

func TestAcquireValidation(t *testing.T) {
	acq := &fakeAcquirer{}
	p, _ := newTestPipeline(t, acq, nil)
	ctx := t.Context()

	for _, req := range []AcquireRequest{
		{TargetID: "", ProfileURL: janeURL},
		{TargetID: "t1", ProfileURL: "not-a-url"},
		{TargetID: "t1", ProfileURL: "https://example.com/in/jane"},
	} {
		if _, err := p.Acquire(ctx, req); !scrape.IsValidation(err) {
			t.Fatalf("Acquire(%+v) err = %v, want ValidationError", req, err)
		}
	}
	if acq.calls != 0 {
		t.Fatalf("acquirer called %d times", acq.calls)
	}
	if _, err := p.Profile(ctx, "t1", ""); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("profile created for invalid input: %v", err)
	}
}

func TestGenerateBatchIsolatesTargets(t *testing.T) {
	acq := &fakeAcquirer{results: []acqResult{{payload: models.Payload{FullName: "Jane", Company: "Acme"}}}}
	p, _ := newTestPipeline(t, acq, pickyBackend{failFor: "Name: Bob"})
	ctx := t.Context()
	if _, err := p.Acquire(ctx, AcquireRequest{TargetID: "jane", ProfileURL: janeURL}); err != nil {
		t.Fatal(err)
	}

	targets := []models.Target{
		{ID: "jane", Name: "Jane"},
		{ID: "bob", Name: "Bob"},
		{ID: "ann", Name: "Ann"},
	}
	out, err := p.GenerateBatch(ctx, models.CampaignPasswordReset, targets)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 {
		t.Fatalf("got %d messages", len(out))
	}
	if out[0].TargetID != "jane" || out[0].SnapshotVersion != 1 || out[0].Message.Provenance != models.ProvenanceAI {
		t.Fatalf("jane = %+v", out[0])
	}
	if out[1].Message.Provenance != models.ProvenanceFallback || out[1].Message.Subject != generate.DefaultSubject {
		t.Fatalf("bob = %+v", out[1])
	}
	if out[2].SnapshotVersion != 0 || out[2].Message.Provenance != models.ProvenanceAI {
		t.Fatalf("ann = %+v", out[2])
	}
}

func TestGenerateBatchRejectsUnknownCampaign(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeAcquirer{}, nil)
	if _, err := p.GenerateBatch(t.Context(), "lottery", []models.Target{{ID: "x"}}); !scrape.IsValidation(err) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestAssessRiskUsesLatestSnapshot(t *testing.T) {
	acq := &fakeAcquirer{results: []acqResult{{payload: models.Payload{
		Position: "CTO",
		Skills:   []string{"Security"},
		Posts:    make([]models.Post, 5),
	}}}}
	p, _ := newTestPipeline(t, acq, nil)
	ctx := t.Context()
	if _, err := p.Acquire(ctx, AcquireRequest{TargetID: "t1", ProfileURL: janeURL}); err != nil {
		t.Fatal(err)
	}
	got := p.AssessRisk(ctx, models.Target{ID: "t1"})
	if got.Score != 70 || got.RiskLevel != models.RiskHigh {
		t.Fatalf("risk = %+v", got)
	}
	if got := p.AssessRisk(ctx, models.Target{ID: "unknown"}); got.Score != 60 {
		t.Fatalf("risk without snapshot = %+v", got)
	}
}
