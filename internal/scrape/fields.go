package scrape

import (
	"context"
	"time"

	"github.com/example/fortify/internal/logging"
)

// Fields runs ordered fallback lookups against a loaded page. The first
// selector that yields something non-empty wins. When every selector misses,
// the field is recorded as a gap and the zero value is returned.
type Fields struct {
	ctx     context.Context
	page    Page
	timeout time.Duration
	log     *logging.Logger
	gaps    []string
}

func NewFields(ctx context.Context, page Page, timeout time.Duration, log *logging.Logger) *Fields {
	return &Fields{ctx: ctx, page: page, timeout: timeout, log: log}
}

// Gaps lists the fields nothing was found for.
func (f *Fields) Gaps() []string { return append([]string(nil), f.gaps...) }

func (f *Fields) Text(field string, selectors ...string) string {
	return f.TextWhere(field, nil, selectors...)
}

// TextWhere is Text with an acceptance check; rejected values count as misses.
func (f *Fields) TextWhere(field string, accept func(string) bool, selectors ...string) string {
	for _, sel := range selectors {
		if f.ctx.Err() != nil {
			break
		}
		s, err := f.page.Text(f.ctx, sel, f.timeout)
		if err != nil || s == "" {
			continue
		}
		if accept != nil && !accept(s) {
			continue
		}
		return s
	}
	f.gap(field)
	return ""
}

func (f *Fields) List(field string, selectors ...string) []string {
	for _, sel := range selectors {
		if f.ctx.Err() != nil {
			break
		}
		items, err := f.page.Texts(f.ctx, sel, f.timeout)
		if err == nil && len(items) > 0 {
			return items
		}
	}
	f.gap(field)
	return nil
}

func (f *Fields) Items(field string, selectors ...string) []Node {
	for _, sel := range selectors {
		if f.ctx.Err() != nil {
			break
		}
		items, err := f.page.Items(f.ctx, sel, f.timeout)
		if err == nil && len(items) > 0 {
			return items
		}
	}
	f.gap(field)
	return nil
}

func (f *Fields) gap(field string) {
	f.gaps = append(f.gaps, field)
	if f.log != nil {
		f.log.Debug("field not found", "field", field)
	}
}

// NodeText is the per-item version of Fields.Text. Misses are silent; the
// caller decides whether the item is usable.
func NodeText(n Node, selectors ...string) string {
	for _, sel := range selectors {
		if s, err := n.Text(sel); err == nil && s != "" {
			return s
		}
	}
	return ""
}
