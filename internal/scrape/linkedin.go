package scrape

import (
	"context"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/example/fortify/internal/models"
)

// LinkedIn extracts public linkedin.com profiles. Each field lists the
// selectors for the current layout first, then the older layouts.
type LinkedIn struct{}

var _ Strategy = LinkedIn{}

func (LinkedIn) Platform() models.Platform { return models.PlatformLinkedIn }

func (LinkedIn) Match(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	return host == "linkedin.com" || strings.HasSuffix(host, ".linkedin.com")
}

var (
	liName = []string{
		`h1.text-heading-xlarge`,
		`h1.top-card-layout__title`,
		`.pv-text-details__left-panel h1`,
		`h1`,
	}
	liHeadline = []string{
		`.text-body-medium.break-words`,
		`.top-card-layout__headline`,
		`.pv-text-details__left-panel .text-body-medium`,
		`div[class*="headline"]`,
	}
	liLocation = []string{
		`.text-body-small.inline.t-black--light.break-words`,
		`.top-card-layout__location-text`,
		`.pv-text-details__left-panel .text-body-small`,
	}
	liConnections = []string{
		`.top-card-layout__connections-text`,
		`.pv-top-card--list-bullet li`,
	}
	liAbout = []string{
		`#about ~ * .inline-show-more-text__text`,
		`.pv-about-section .pv-about__summary-text`,
		`[class*="about"] .display-flex.ph5.pv3`,
		`.core-section-container__content .inline-show-more-text span[aria-hidden="true"]`,
	}
	liExperience = []string{
		`#experience ~ * .pvs-list__container`,
		`.experience-section .pv-entity__position-group-pager`,
		`[data-view-name="profile-component-entity"]`,
	}
	liSkills = []string{
		`#skills ~ * .pvs-list__container span[aria-hidden="true"]`,
		`.pv-skill-category-entity__name`,
		`[data-view-name="profile-skill"] span`,
	}
	liEducation = []string{
		`#education ~ * .pvs-list__container > li`,
		`.pv-education-entity`,
	}
	liPosts = []string{
		`[data-id*="ugcPost"]`,
		`.feed-shared-update-v2`,
	}

	// within a list item
	liItemTitle    = []string{`.t-bold span[aria-hidden="true"]`, `.pv-entity__summary-info h3`}
	liItemSubtitle = []string{`.t-14.t-normal span[aria-hidden="true"]`, `.pv-entity__secondary-title`}
	liItemDates    = []string{`.t-14.t-normal.t-black--light span[aria-hidden="true"]`, `.pv-entity__date-range span:nth-child(2)`}
	liItemLocation = []string{`.t-14.t-normal.t-black--light span[aria-hidden="true"]:last-child`, `.pv-entity__location span:nth-child(2)`}
	liEduSchool    = []string{`.t-bold span[aria-hidden="true"]`, `.pv-entity__school-name`}
	liEduDegree    = []string{`.t-14.t-normal span[aria-hidden="true"]`, `.pv-entity__degree-name .pv-entity__comma-item`}
	liEduDates     = []string{`.t-14.t-normal.t-black--light span[aria-hidden="true"]`, `.pv-entity__dates span:nth-child(2)`}
	liPostContent  = []string{`.feed-shared-text`, `.break-words span[dir="ltr"]`}
	liPostDate     = []string{`.feed-shared-actor__sub-description`, `time`}
)

// Extract reads every field it can. Unlimited lists are trimmed later by
// Normalize.
func (LinkedIn) Extract(_ context.Context, f *Fields) models.Payload {
	var p models.Payload

	p.FullName = f.Text("fullName", liName...)
	p.Headline = f.TextWhere("headline", func(s string) bool { return s != p.FullName }, liHeadline...)
	p.Location = f.Text("location", liLocation...)
	if s := f.Text("connections", liConnections...); s != "" {
		p.Connections = parseConnections(s)
	}
	p.Bio = f.TextWhere("bio", func(s string) bool { return len(s) > 20 }, liAbout...)

	for _, n := range f.Items("experiences", liExperience...) {
		if len(p.Experiences) == maxExperiences {
			break
		}
		title := NodeText(n, liItemTitle...)
		if title == "" {
			continue
		}
		exp := models.Experience{
			Title:    title,
			Company:  NodeText(n, liItemSubtitle...),
			Location: NodeText(n, liItemLocation...),
		}
		if dates := NodeText(n, liItemDates...); dates != "" {
			exp.StartDate, exp.EndDate, exp.Current = parseDateRange(dates)
		}
		p.Experiences = append(p.Experiences, exp)
	}

	p.Skills = f.List("skills", liSkills...)

	for _, n := range f.Items("education", liEducation...) {
		if len(p.Education) == maxEducation {
			break
		}
		school := NodeText(n, liEduSchool...)
		if school == "" {
			continue
		}
		edu := models.Education{School: school, Degree: NodeText(n, liEduDegree...)}
		if dates := NodeText(n, liEduDates...); dates != "" {
			edu.StartDate, edu.EndDate, _ = parseDateRange(dates)
		}
		p.Education = append(p.Education, edu)
	}

	// Posts are mostly behind the login wall; take whatever is visible.
	for _, n := range f.Items("posts", liPosts...) {
		if len(p.Posts) == maxPosts {
			break
		}
		content := NodeText(n, liPostContent...)
		if content == "" {
			continue
		}
		p.Posts = append(p.Posts, models.Post{Content: content, Date: NodeText(n, liPostDate...)})
	}

	return p
}

var firstInt = regexp.MustCompile(`\d[\d,]*`)

// parseConnections reads the first integer in s, ignoring thousands commas.
// "500+ connections" gives 500.
func parseConnections(s string) *int {
	m := firstInt.FindString(s)
	if m == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m, ",", ""))
	if err != nil {
		return nil
	}
	return &n
}

// parseDateRange splits "Jan 2020 - Present · 4 yrs" style ranges. An open
// range (present, attualmente) is current and has no end date.
func parseDateRange(s string) (start, end string, current bool) {
	if i := strings.Index(s, "·"); i >= 0 {
		s = s[:i]
	}
	lower := strings.ToLower(s)
	current = strings.Contains(lower, "present") || strings.Contains(lower, "attualmente")

	s = strings.ReplaceAll(s, "–", "-")
	parts := strings.SplitN(s, "-", 2)
	start = strings.TrimSpace(parts[0])
	if len(parts) == 2 && !current {
		end = strings.TrimSpace(parts[1])
	}
	return start, end, current
}
