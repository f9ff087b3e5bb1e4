package models

import "time"

type Platform string

const (
	PlatformLinkedIn Platform = "linkedin"
)

type ProfileStatus string

const (
	StatusPending    ProfileStatus = "pending"
	StatusInProgress ProfileStatus = "in_progress"
	StatusCompleted  ProfileStatus = "completed"
	StatusFailed     ProfileStatus = "failed"
)

// Profile is the (target, platform) pair a snapshot history hangs off.
type Profile struct {
	ID             string        `json:"id"`
	TargetID       string        `json:"targetId"`
	Platform       Platform      `json:"platform"`
	ProfileURL     string        `json:"profileUrl"`
	Status         ProfileStatus `json:"status"`
	LastError      string        `json:"lastError,omitempty"`
	LastCapturedAt *time.Time    `json:"lastCapturedAt,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// Snapshot is one immutable capture of a profile. Version starts at 1 and
// increases by one per capture of the same profile.
type Snapshot struct {
	ID         string    `json:"id"`
	ProfileID  string    `json:"profileId"`
	Version    int       `json:"version"`
	Payload    Payload   `json:"payload"`
	CapturedAt time.Time `json:"capturedAt"`
}

// Payload holds the extracted fields. Empty strings and nil pointers mean the
// field could not be extracted.
type Payload struct {
	FullName    string       `json:"fullName,omitempty"`
	Headline    string       `json:"headline,omitempty"`
	Location    string       `json:"location,omitempty"`
	Company     string       `json:"company,omitempty"`
	Position    string       `json:"position,omitempty"`
	Bio         string       `json:"bio,omitempty"`
	Connections *int         `json:"connections,omitempty"`
	Experiences []Experience `json:"experiences,omitempty"`
	Skills      []string     `json:"skills,omitempty"`
	Education   []Education  `json:"education,omitempty"`
	Posts       []Post       `json:"posts,omitempty"`
}

// Clone returns a deep copy so callers can't mutate a stored snapshot through
// shared slices.
func (p Payload) Clone() Payload {
	out := p
	if p.Connections != nil {
		c := *p.Connections
		out.Connections = &c
	}
	out.Experiences = append([]Experience(nil), p.Experiences...)
	out.Skills = append([]string(nil), p.Skills...)
	out.Education = append([]Education(nil), p.Education...)
	out.Posts = append([]Post(nil), p.Posts...)
	return out
}

type Experience struct {
	Title     string `json:"title"`
	Company   string `json:"company"`
	Location  string `json:"location,omitempty"`
	StartDate string `json:"startDate,omitempty"`
	EndDate   string `json:"endDate,omitempty"`
	Current   bool   `json:"current,omitempty"`
}

type Education struct {
	School    string `json:"school"`
	Degree    string `json:"degree,omitempty"`
	StartDate string `json:"startDate,omitempty"`
	EndDate   string `json:"endDate,omitempty"`
}

type Post struct {
	Content string `json:"content"`
	Date    string `json:"date,omitempty"`
}

type CampaignType string

const (
	CampaignPasswordReset          CampaignType = "password_reset"
	CampaignInvoice                CampaignType = "invoice"
	CampaignExecutiveImpersonation CampaignType = "executive_impersonation"
	CampaignUrgentRequest          CampaignType = "urgent_request"
	CampaignTrainingInvitation     CampaignType = "training_invitation"
	CampaignSecurityAlert          CampaignType = "security_alert"
)

var CampaignTypes = []CampaignType{
	CampaignPasswordReset,
	CampaignInvoice,
	CampaignExecutiveImpersonation,
	CampaignUrgentRequest,
	CampaignTrainingInvitation,
	CampaignSecurityAlert,
}

func (c CampaignType) Valid() bool {
	for _, t := range CampaignTypes {
		if c == t {
			return true
		}
	}
	return false
}

// Provenance tells whether content came from the generation backend or the
// local fallback path.
type Provenance string

const (
	ProvenanceAI       Provenance = "ai"
	ProvenanceFallback Provenance = "fallback"
)

type GeneratedMessage struct {
	Subject      string       `json:"subject"`
	Body         string       `json:"body"`
	CampaignType CampaignType `json:"campaignType"`
	Provenance   Provenance   `json:"provenance"`
}

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

type RiskAssessment struct {
	RiskLevel       RiskLevel  `json:"riskLevel"`
	Score           int        `json:"score"`
	Factors         []string   `json:"factors"`
	Recommendations []string   `json:"recommendations"`
	Provenance      Provenance `json:"provenance"`
}

// Target is the identity the campaign layer hands over for content generation.
type Target struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Position string `json:"position,omitempty" yaml:"position"`
	Company  string `json:"company,omitempty" yaml:"company"`
}
