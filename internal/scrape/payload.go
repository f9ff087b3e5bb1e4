package scrape

import (
	"strings"

	"github.com/example/fortify/internal/models"
)

const (
	maxExperiences = 3
	maxSkills      = 10
	maxEducation   = 3
	maxPosts       = 5
)

// Normalize trims whitespace, enforces the list bounds, dedupes skills and
// derives position and company. Strategies may return more than the bounds;
// the session always normalizes before handing a payload out.
func Normalize(p models.Payload) models.Payload {
	out := models.Payload{
		FullName:    clean(p.FullName),
		Headline:    clean(p.Headline),
		Location:    clean(p.Location),
		Company:     clean(p.Company),
		Position:    clean(p.Position),
		Bio:         strings.TrimSpace(p.Bio),
		Connections: p.Connections,
	}
	if out.Connections != nil {
		c := *out.Connections
		out.Connections = &c
	}

	for _, e := range p.Experiences {
		if len(out.Experiences) == maxExperiences {
			break
		}
		e.Title, e.Company, e.Location = clean(e.Title), clean(e.Company), clean(e.Location)
		if e.Title == "" {
			continue
		}
		out.Experiences = append(out.Experiences, e)
	}

	seen := make(map[string]bool, len(p.Skills))
	for _, s := range p.Skills {
		if len(out.Skills) == maxSkills {
			break
		}
		s = clean(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out.Skills = append(out.Skills, s)
	}

	for _, e := range p.Education {
		if len(out.Education) == maxEducation {
			break
		}
		e.School, e.Degree = clean(e.School), clean(e.Degree)
		if e.School == "" {
			continue
		}
		out.Education = append(out.Education, e)
	}

	for _, post := range p.Posts {
		if len(out.Posts) == maxPosts {
			break
		}
		post.Content = strings.TrimSpace(post.Content)
		if post.Content == "" {
			continue
		}
		out.Posts = append(out.Posts, post)
	}

	for _, e := range out.Experiences {
		if e.Current {
			if out.Position == "" {
				out.Position = e.Title
			}
			if out.Company == "" {
				out.Company = e.Company
			}
			break
		}
	}
	if out.Company == "" {
		out.Company = companyFromHeadline(out.Headline)
	}
	return out
}

// companyFromHeadline takes what follows " at " in "Engineer at Acme".
func companyFromHeadline(h string) string {
	idx := strings.Index(strings.ToLower(h), " at ")
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(h[idx+4:])
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
