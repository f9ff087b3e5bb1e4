package generate

import (
	"encoding/json"
	"errors"
	"math"
	"strings"

	"github.com/example/fortify/internal/models"
)

var (
	leadershipMarkers = []string{"ceo", "cto", "cfo", "director"}
	managerMarkers    = []string{"manager", "lead"}
	securitySkills    = []string{"security", "cybersecurity", "infosec", "penetration", "ethical hacking"}
)

// ScoreRisk is the deterministic local scorer. Position overrides the
// snapshot's position when set; p may be nil.
func ScoreRisk(p *models.Payload, position string) models.RiskAssessment {
	if p == nil {
		p = &models.Payload{}
	}
	pos := strings.ToLower(firstNonEmpty(position, p.Position))

	score := 50
	var factors, recs []string

	switch {
	case containsAny(pos, leadershipMarkers):
		score += 30
		factors = append(factors, "Leadership role: high-value target")
		recs = append(recs, "Advanced training on CEO fraud and whaling attacks")
	case containsAny(pos, managerMarkers):
		score += 15
		factors = append(factors, "Management role: access to sensitive data")
		recs = append(recs, "Training on business email compromise (BEC)")
	}

	if hasSecuritySkill(p.Skills) {
		score -= 20
		factors = append(factors, "Security skills: higher awareness")
	} else {
		score += 10
		factors = append(factors, "No security skills listed: more exposed")
		recs = append(recs, "Basic training on phishing and social engineering")
	}

	if len(p.Posts) > 3 {
		score += 10
		factors = append(factors, "High public visibility: more material for attackers")
	}

	score = max(0, min(100, score))

	if len(recs) == 0 {
		recs = append(recs, "Periodic security awareness training")
	}
	recs = append(recs,
		"Enable two-factor authentication (2FA)",
		"Always verify the sender before opening links or attachments")

	return models.RiskAssessment{
		RiskLevel:       levelFor(score),
		Score:           score,
		Factors:         factors,
		Recommendations: recs,
		Provenance:      models.ProvenanceFallback,
	}
}

func levelFor(score int) models.RiskLevel {
	switch {
	case score >= 70:
		return models.RiskHigh
	case score >= 40:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

func hasSecuritySkill(skills []string) bool {
	for _, s := range skills {
		if containsAny(strings.ToLower(s), securitySkills) {
			return true
		}
	}
	return false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

type remoteRisk struct {
	RiskLevel       string   `json:"riskLevel"`
	Score           *float64 `json:"score"`
	Factors         []string `json:"factors"`
	Recommendations []string `json:"recommendations"`
}

var errNoJSON = errors.New("no JSON object in response")

// parseRemoteRisk reads the backend's JSON answer. Code fences and chatter
// around the object are ignored. A missing level means medium, a missing
// score means 50.
func parseRemoteRisk(text string) (models.RiskAssessment, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return models.RiskAssessment{}, errNoJSON
	}
	var r remoteRisk
	if err := json.Unmarshal([]byte(text[start:end+1]), &r); err != nil {
		return models.RiskAssessment{}, err
	}

	out := models.RiskAssessment{
		RiskLevel:       models.RiskLevel(strings.ToLower(strings.TrimSpace(r.RiskLevel))),
		Score:           50,
		Factors:         r.Factors,
		Recommendations: r.Recommendations,
		Provenance:      models.ProvenanceAI,
	}
	if r.Score != nil {
		out.Score = max(0, min(100, int(math.Round(*r.Score))))
	}
	switch out.RiskLevel {
	case models.RiskLow, models.RiskMedium, models.RiskHigh:
	default:
		out.RiskLevel = models.RiskMedium
	}
	if out.Factors == nil {
		out.Factors = []string{}
	}
	if out.Recommendations == nil {
		out.Recommendations = []string{}
	}
	return out, nil
}
