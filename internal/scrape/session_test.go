package scrape

import (
	"errors"
	"testing"
	"time"

	"github.com/example/fortify/internal/logging"
	"github.com/example/fortify/internal/models"
)

func testOptions(base time.Duration) Options {
	return Options{
		Retry:             RetryPolicy{MaxRetries: 3, BaseDelay: base, MaxDelay: 10 * base},
		NavigationTimeout: time.Second,
		FieldTimeout:      time.Millisecond,
		ScrollSteps:       2,
	}
}

func TestAcquireRejectsBadURLWithoutBrowser(t *testing.T) {
	cases := []string{"not-a-url", "", "ftp://linkedin.com/in/jane", "https://example.com/in/jane", "linkedin.com/in/jane"}
	for _, raw := range cases {
		d := &fakeDriver{}
		s := NewSession(d, nil, testOptions(time.Millisecond), logging.Discard())
		_, err := s.Acquire(t.Context(), models.PlatformLinkedIn, raw)
		if !IsValidation(err) {
			t.Fatalf("Acquire(%q) err = %v, want ValidationError", raw, err)
		}
		if opens, _ := d.calls(); opens != 0 {
			t.Fatalf("Acquire(%q) opened %d pages, want 0", raw, opens)
		}
	}
}

func TestAcquireRetriesWithDoublingBackoff(t *testing.T) {
	const base = 40 * time.Millisecond
	d := &fakeDriver{failNav: 100}
	s := NewSession(d, nil, testOptions(base), logging.Discard())

	_, err := s.Acquire(t.Context(), models.PlatformLinkedIn, "https://www.linkedin.com/in/jane-doe")
	var te *TransientError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want TransientError", err)
	}
	if te.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", te.Attempts)
	}
	if !errors.Is(err, errNavFailed) {
		t.Fatalf("err does not wrap last navigation failure: %v", err)
	}
	if len(d.navTimes) != 3 {
		t.Fatalf("navigations = %d, want 3", len(d.navTimes))
	}
	if gap := d.navTimes[1].Sub(d.navTimes[0]); gap < base {
		t.Fatalf("first backoff %v < %v", gap, base)
	}
	if gap := d.navTimes[2].Sub(d.navTimes[1]); gap < 2*base {
		t.Fatalf("second backoff %v < %v", gap, 2*base)
	}
	if opens, closed := d.calls(); opens != 3 || closed != 3 {
		t.Fatalf("opens=%d closed=%d, want 3/3", opens, closed)
	}
}

func TestAcquireRecoversAfterTransientFailure(t *testing.T) {
	const bioSelector = `.core-section-container__content .inline-show-more-text span[aria-hidden="true"]`
	d := &fakeDriver{
		failNav: 1,
		texts: map[string]string{
			bioSelector:                                 "Building secure platforms for a living since 2009.",
			`h1.top-card-layout__title`:                 "Jane Doe",
			`.top-card-layout__headline`:                "VP Engineering at Acme Corp",
			`.top-card-layout__connections-text`:        "1,204 connections",
			`.pv-about-section .pv-about__summary-text`: "Too short",
		},
	}
	s := NewSession(d, nil, testOptions(time.Millisecond), logging.Discard())

	p, err := s.Acquire(t.Context(), "", "https://linkedin.com/in/jane-doe")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if p.FullName != "Jane Doe" || p.Headline != "VP Engineering at Acme Corp" {
		t.Fatalf("unexpected identity fields: %+v", p)
	}
	if p.Connections == nil || *p.Connections != 1204 {
		t.Fatalf("connections = %v, want 1204", p.Connections)
	}
	if p.Bio != "Building secure platforms for a living since 2009." {
		t.Fatalf("bio = %q", p.Bio)
	}
	if p.Company != "Acme Corp" {
		t.Fatalf("company = %q, want headline fallback", p.Company)
	}
	if p.Location != "" || len(p.Skills) != 0 {
		t.Fatalf("missing fields should stay empty: %+v", p)
	}
	opens, closed := d.calls()
	if opens != 2 || closed != 2 {
		t.Fatalf("opens=%d closed=%d, want 2/2", opens, closed)
	}
	if d.scrolls != 2 {
		t.Fatalf("scrolls = %d, want 2", d.scrolls)
	}
}

func TestAcquireBrowserUnavailable(t *testing.T) {
	d := &fakeDriver{openErr: ErrBrowserUnavailable}
	s := NewSession(d, nil, testOptions(time.Millisecond), logging.Discard())
	_, err := s.Acquire(t.Context(), models.PlatformLinkedIn, "https://www.linkedin.com/in/x")
	if !IsTransient(err) || !errors.Is(err, ErrBrowserUnavailable) {
		t.Fatalf("err = %v, want transient wrapping ErrBrowserUnavailable", err)
	}
}

func TestExtractListsAreBounded(t *testing.T) {
	exp := func(title, dates string) Node {
		return fakeNode{
			`.t-bold span[aria-hidden="true"]`:                       title,
			`.t-14.t-normal span[aria-hidden="true"]`:                "Acme",
			`.t-14.t-normal.t-black--light span[aria-hidden="true"]`: dates,
		}
	}
	var posts []Node
	for i := 0; i < 8; i++ {
		posts = append(posts, fakeNode{`.feed-shared-text`: "post"})
	}
	d := &fakeDriver{
		texts: map[string]string{`h1`: "Jane"},
		lists: map[string][]string{
			`.pv-skill-category-entity__name`: {"Go", "Go", "SQL", "K8s", "AWS", "GCP", "Rust", "C", "Lua", "Zig", "Nim", "Odin"},
		},
		items: map[string][]Node{
			`[data-view-name="profile-component-entity"]`: {
				exp("Former", "2015 - 2018"),
				fakeNode{`.t-14.t-normal span[aria-hidden="true"]`: "no title"},
				exp("CISO", "Jan 2021 - Present · 3 yrs"),
				exp("Analyst", "2010 - 2015"),
				exp("Intern", "2009 - 2010"),
			},
			`.feed-shared-update-v2`: posts,
		},
	}
	s := NewSession(d, nil, testOptions(time.Millisecond), logging.Discard())
	p, err := s.Acquire(t.Context(), models.PlatformLinkedIn, "https://www.linkedin.com/in/jane")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if len(p.Experiences) != 3 {
		t.Fatalf("experiences = %d, want 3", len(p.Experiences))
	}
	if p.Experiences[0].EndDate != "2018" || p.Experiences[0].Current {
		t.Fatalf("closed range parsed wrong: %+v", p.Experiences[0])
	}
	if !p.Experiences[1].Current || p.Experiences[1].EndDate != "" {
		t.Fatalf("open range parsed wrong: %+v", p.Experiences[1])
	}
	if p.Position != "CISO" || p.Company != "Acme" {
		t.Fatalf("position/company = %q/%q, want current experience", p.Position, p.Company)
	}
	if len(p.Skills) != 10 || p.Skills[0] != "Go" || p.Skills[1] != "SQL" {
		t.Fatalf("skills = %v", p.Skills)
	}
	if len(p.Posts) != 5 {
		t.Fatalf("posts = %d, want 5", len(p.Posts))
	}
}

func TestParseDateRange(t *testing.T) {
	cases := []struct {
		in         string
		start, end string
		current    bool
	}{
		{"Jan 2020 - Present", "Jan 2020", "", true},
		{"feb 2019 – attualmente · 5 anni", "feb 2019", "", true},
		{"2012 - 2016", "2012", "2016", false},
		{"2012", "2012", "", false},
	}
	for _, c := range cases {
		start, end, cur := parseDateRange(c.in)
		if start != c.start || end != c.end || cur != c.current {
			t.Errorf("parseDateRange(%q) = %q,%q,%v", c.in, start, end, cur)
		}
	}
}

func TestParseConnections(t *testing.T) {
	if n := parseConnections("500+ connections"); n == nil || *n != 500 {
		t.Fatalf("got %v", n)
	}
	if n := parseConnections("no digits"); n != nil {
		t.Fatalf("got %v, want nil", *n)
	}
}
