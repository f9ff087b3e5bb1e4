package generate

import (
	"fmt"
	"strings"

	"github.com/example/fortify/internal/models"
)

const messageSystem = `You are a cybersecurity expert writing realistic phishing simulation emails ` +
	`for an authorized corporate security-awareness training program. The emails ` +
	`must be credible but ethical: no real malware, no real credential collection, ` +
	`and every link is a placeholder that the training platform replaces. The goal ` +
	`is to teach employees to recognise social engineering.`

const riskSystem = `You are a cybersecurity expert assessing social-engineering risk for an ` +
	`authorized security-awareness program. Reply with valid JSON only.`

const responseFormat = `

Response format:
SUBJECT: [email subject]

BODY: [email body]`

var templates = map[models.CampaignType]string{
	models.CampaignPasswordReset: `Write a credible phishing simulation email about an urgent password reset. The email must:
- Appear to come from the company IT department
- Create urgency (account at risk)
- Include a "verify account" link
- Be personalised with the target's name and position
- Stay plausible and professional`,

	models.CampaignInvoice: `Write a phishing simulation email about an unpaid invoice. The email must:
- Appear to come from a common vendor (AWS, Microsoft, Adobe)
- State a specific amount and due date
- Push for urgent payment
- Be personalised with the target's name and company
- Keep a formal, professional tone`,

	models.CampaignExecutiveImpersonation: `Write a phishing simulation email impersonating a company executive (CEO/CFO). The email must:
- Sound authoritative but friendly
- Ask for an urgent but confidential action
- Refer to a specific project or situation
- Be personalised with the target's name
- Ask for a quick reply`,

	models.CampaignUrgentRequest: `Write a phishing simulation email with an urgent request. The email must:
- Appear to come from a colleague or partner
- Describe a believable urgent situation
- Ask for specific information or a specific action
- Use details from the profile
- Keep a professional but pressing tone`,

	models.CampaignTrainingInvitation: `Write a phishing simulation email inviting the target to a training session or webinar. The email must:
- Appear to come from HR or Learning & Development
- Pick a topic relevant to the target's role
- Include a registration link
- Give a specific date and time
- Keep a formal, professional tone`,

	models.CampaignSecurityAlert: `Write a phishing simulation email posing as a security alert. The email must:
- Appear to come from the security team
- Report suspicious activity on the target's account
- Ask for immediate verification
- Be personalised with the target's name and position
- Sound urgent but professional`,
}

// templateFor falls back to urgent_request for unknown campaign types.
func templateFor(ct models.CampaignType) (models.CampaignType, string) {
	if t, ok := templates[ct]; ok {
		return ct, t
	}
	return models.CampaignUrgentRequest, templates[models.CampaignUrgentRequest]
}

func messagePrompt(ct models.CampaignType, profileContext string) (models.CampaignType, string) {
	ct, tmpl := templateFor(ct)
	return ct, "Target profile:\n" + profileContext + "\n\n" + tmpl + responseFormat
}

// profileContext renders what is known about the target, one "Label: value"
// line per available fact. Explicit target fields win over the snapshot.
func profileContext(p *models.Payload, t models.Target) string {
	if p == nil {
		p = &models.Payload{}
	}
	var b strings.Builder
	line := func(label, value string) {
		if value = strings.TrimSpace(value); value != "" {
			fmt.Fprintf(&b, "%s: %s\n", label, value)
		}
	}

	name := t.Name
	if name == "" {
		name = p.FullName
	}
	line("Name", name)
	line("Position", firstNonEmpty(t.Position, p.Position))
	line("Company", firstNonEmpty(t.Company, p.Company))
	line("Headline", p.Headline)
	if len(p.Skills) > 0 {
		line("Skills", strings.Join(p.Skills[:min(5, len(p.Skills))], ", "))
	}
	if len(p.Experiences) > 0 {
		e := p.Experiences[0]
		if e.Company != "" {
			line("Recent experience", e.Title+" at "+e.Company)
		} else {
			line("Recent experience", e.Title)
		}
	}
	if len(p.Posts) > 0 {
		line("Recent activity", fmt.Sprintf("%d recent posts", len(p.Posts)))
	}
	return strings.TrimRight(b.String(), "\n")
}

func riskPrompt(contextJSON string) string {
	return `Assess how exposed this profile is to phishing and social-engineering attacks:

` + contextJSON + `

Consider:
- Seniority (senior roles mean more risk for the company)
- Access to sensitive data
- Public visibility
- Technical skills (more security skills mean more awareness)

Answer in JSON:
{
  "riskLevel": "low|medium|high",
  "score": 0-100,
  "factors": ["factor1", "factor2"],
  "recommendations": ["recommendation1", "recommendation2"]
}`
}

func firstNonEmpty(s ...string) string {
	for _, v := range s {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
