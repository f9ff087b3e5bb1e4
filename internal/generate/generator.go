package generate

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/example/fortify/internal/config"
	"github.com/example/fortify/internal/logging"
	"github.com/example/fortify/internal/models"
)

const (
	DefaultSubject = "Action Required"
	FallbackBody   = "This is a simulated phishing test message."
)

type Options struct {
	Model           string
	Temperature     float64
	MaxTokens       int
	RiskTemperature float64
	RiskMaxTokens   int
	// Timeout bounds a single backend call. Zero means no extra bound.
	Timeout time.Duration
}

func OptionsFromConfig(cfg config.Generator) Options {
	return Options{
		Model:           cfg.Model,
		Temperature:     cfg.Temperature,
		MaxTokens:       cfg.MaxTokens,
		RiskTemperature: cfg.RiskTemperature,
		RiskMaxTokens:   cfg.RiskMaxTokens,
		Timeout:         cfg.Timeout,
	}
}

// Generator writes simulation content and risk assessments. Its methods never
// fail: whenever the backend is missing or unusable they fall back to local,
// deterministic output and say so in the provenance.
type Generator struct {
	backend Backend
	opts    Options
	log     *logging.Logger
}

// New accepts a nil backend; every call then takes the fallback path.
func New(b Backend, opts Options, log *logging.Logger) *Generator {
	if log == nil {
		log = logging.Discard()
	}
	return &Generator{backend: b, opts: opts, log: log.With("module", "generate")}
}

func (g *Generator) HasBackend() bool { return g.backend != nil }

// GenerateMessage writes a subject and body for campaignType aimed at target,
// using payload (may be nil) as context.
func (g *Generator) GenerateMessage(ctx context.Context, payload *models.Payload, campaignType models.CampaignType, target models.Target) models.GeneratedMessage {
	ct, prompt := messagePrompt(campaignType, profileContext(payload, target))
	log := g.log.With("campaign_type", ct, "target_id", target.ID)

	fallback := models.GeneratedMessage{
		Subject:      DefaultSubject,
		Body:         FallbackBody,
		CampaignType: ct,
		Provenance:   models.ProvenanceFallback,
	}
	if g.backend == nil {
		log.Debug("no generation backend configured, using fallback")
		return fallback
	}

	text, err := g.complete(ctx, "generate message", Request{
		Model:       g.opts.Model,
		System:      messageSystem,
		Prompt:      prompt,
		Temperature: g.opts.Temperature,
		MaxTokens:   g.opts.MaxTokens,
	})
	if err != nil {
		log.Warn("message generation failed, using fallback", "err", err)
		return fallback
	}

	sec := ParseSections(text)
	if sec.Complete() {
		return models.GeneratedMessage{
			Subject:      sec.Subject,
			Body:         sec.Body,
			CampaignType: ct,
			Provenance:   models.ProvenanceAI,
		}
	}

	log.Warn("unparseable generation response, using fallback",
		"err", asBackendError("parse response", errMissingSections(sec)))
	msg := fallback
	msg.Body = text
	if sec.Subject != "" {
		msg.Subject = sec.Subject
	}
	if sec.Body != "" {
		msg.Body = sec.Body
	}
	return msg
}

// AssessRisk asks the backend first and uses ScoreRisk when that fails.
func (g *Generator) AssessRisk(ctx context.Context, payload *models.Payload, position string) models.RiskAssessment {
	if g.backend == nil {
		return ScoreRisk(payload, position)
	}
	p := payload
	if p == nil {
		p = &models.Payload{}
	}
	skills := p.Skills
	if len(skills) > 5 {
		skills = skills[:5]
	}
	ctxJSON, err := json.MarshalIndent(map[string]any{
		"position":        firstNonEmpty(position, p.Position),
		"company":         p.Company,
		"skills":          skills,
		"experienceCount": len(p.Experiences),
	}, "", "  ")
	if err != nil {
		return ScoreRisk(payload, position)
	}

	text, err := g.complete(ctx, "assess risk", Request{
		Model:       g.opts.Model,
		System:      riskSystem,
		Prompt:      riskPrompt(string(ctxJSON)),
		Temperature: g.opts.RiskTemperature,
		MaxTokens:   g.opts.RiskMaxTokens,
	})
	if err != nil {
		g.log.Warn("risk assessment failed, using local scorer", "err", err)
		return ScoreRisk(payload, position)
	}
	risk, err := parseRemoteRisk(text)
	if err != nil {
		g.log.Warn("unparseable risk response, using local scorer", "err", asBackendError("parse risk", err))
		return ScoreRisk(payload, position)
	}
	return risk
}

func (g *Generator) complete(ctx context.Context, op string, req Request) (string, error) {
	if g.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()
	}
	text, err := g.backend.Complete(ctx, req)
	if err != nil {
		return "", asBackendError(op, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", &BackendError{Op: op, Err: ErrEmptyResponse}
	}
	return text, nil
}

type errMissingSections Sections

func (e errMissingSections) Error() string {
	switch {
	case e.Subject == "" && e.Body == "":
		return "missing SUBJECT and BODY sections"
	case e.Subject == "":
		return "missing SUBJECT section"
	default:
		return "missing BODY section"
	}
}
