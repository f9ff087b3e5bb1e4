package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/example/fortify/internal/generate"
	"github.com/example/fortify/internal/logging"
	"github.com/example/fortify/internal/models"
	"github.com/example/fortify/internal/scrape"
	"github.com/example/fortify/internal/store"
)

const DefaultHistoryLimit = 10

// Store is what the pipeline needs from a snapshot store. Both the SQLite and
// the Postgres stores implement it.
type Store interface {
	EnsureProfile(ctx context.Context, targetID string, platform models.Platform, profileURL string) (models.Profile, error)
	MarkFailed(ctx context.Context, profileID, reason string) error
	ProfileByTarget(ctx context.Context, targetID string, platform models.Platform) (models.Profile, error)
	Append(ctx context.Context, profileID string, payload models.Payload) (models.Snapshot, error)
	Latest(ctx context.Context, profileID string) (models.Snapshot, bool, error)
	History(ctx context.Context, profileID string, limit int) ([]models.Snapshot, error)
}

type Acquirer interface {
	Validate(platform models.Platform, profileURL string) error
	Acquire(ctx context.Context, platform models.Platform, profileURL string) (models.Payload, error)
}

type Admitter interface {
	Admit(ctx context.Context, job func(ctx context.Context) error) error
}

type Generator interface {
	GenerateMessage(ctx context.Context, payload *models.Payload, campaignType models.CampaignType, target models.Target) models.GeneratedMessage
	AssessRisk(ctx context.Context, payload *models.Payload, position string) models.RiskAssessment
}

var _ Generator = (*generate.Generator)(nil)

type AcquireRequest struct {
	TargetID   string
	Platform   models.Platform
	ProfileURL string
}

// TargetMessage is one row of a batch. SnapshotVersion is 0 when the message
// was written without a snapshot.
type TargetMessage struct {
	TargetID        string                  `json:"targetId"`
	SnapshotVersion int                     `json:"snapshotVersion,omitempty"`
	Message         models.GeneratedMessage `json:"message"`
}

type Pipeline struct {
	store    Store
	throttle Admitter
	acquirer Acquirer
	gen      Generator
	platform models.Platform
	log      *logging.Logger
}

func New(st Store, th Admitter, acq Acquirer, gen Generator, log *logging.Logger) *Pipeline {
	if log == nil {
		log = logging.Discard()
	}
	return &Pipeline{
		store:    st,
		throttle: th,
		acquirer: acq,
		gen:      gen,
		platform: models.PlatformLinkedIn,
		log:      log.With("module", "pipeline"),
	}
}

// Acquire captures one profile and appends it as the next snapshot version.
// Input errors come back before any state changes. Acquisition errors mark
// the profile failed and are returned as they are.
func (p *Pipeline) Acquire(ctx context.Context, req AcquireRequest) (models.Snapshot, error) {
	req.TargetID = strings.TrimSpace(req.TargetID)
	if req.TargetID == "" {
		return models.Snapshot{}, &scrape.ValidationError{Field: "target id", Reason: "required"}
	}
	if req.Platform == "" {
		req.Platform = p.platform
	}
	if err := p.acquirer.Validate(req.Platform, req.ProfileURL); err != nil {
		return models.Snapshot{}, err
	}

	prof, err := p.store.EnsureProfile(ctx, req.TargetID, req.Platform, strings.TrimSpace(req.ProfileURL))
	if err != nil {
		return models.Snapshot{}, err
	}
	log := p.log.With("target_id", req.TargetID, "profile_id", prof.ID)

	var payload models.Payload
	err = p.throttle.Admit(ctx, func(ctx context.Context) error {
		var err error
		payload, err = p.acquirer.Acquire(ctx, req.Platform, prof.ProfileURL)
		return err
	})
	if err != nil {
		p.fail(ctx, log, prof.ID, err)
		return models.Snapshot{}, err
	}

	snap, err := p.store.Append(ctx, prof.ID, payload)
	if err != nil {
		err = fmt.Errorf("store snapshot: %w", err)
		p.fail(ctx, log, prof.ID, err)
		return models.Snapshot{}, err
	}
	log.Info("snapshot stored", "version", snap.Version)
	return snap, nil
}

func (p *Pipeline) fail(ctx context.Context, log *logging.Logger, profileID string, cause error) {
	log.Warn("acquisition failed", "err", cause)
	// Record the failure even when ctx was cancelled by shutdown.
	if err := p.store.MarkFailed(context.WithoutCancel(ctx), profileID, cause.Error()); err != nil {
		log.Error("mark profile failed", "err", err)
	}
}

// Latest returns the newest snapshot for a target, or false when there is
// none (including targets never submitted).
func (p *Pipeline) Latest(ctx context.Context, targetID string, platform models.Platform) (models.Snapshot, bool, error) {
	prof, err := p.profile(ctx, targetID, platform)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.Snapshot{}, false, nil
		}
		return models.Snapshot{}, false, err
	}
	return p.store.Latest(ctx, prof.ID)
}

// History lists a target's snapshots newest first; limit <= 0 means
// DefaultHistoryLimit.
func (p *Pipeline) History(ctx context.Context, targetID string, platform models.Platform, limit int) ([]models.Snapshot, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	prof, err := p.profile(ctx, targetID, platform)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return p.store.History(ctx, prof.ID, limit)
}

func (p *Pipeline) Profile(ctx context.Context, targetID string, platform models.Platform) (models.Profile, error) {
	return p.profile(ctx, targetID, platform)
}

func (p *Pipeline) profile(ctx context.Context, targetID string, platform models.Platform) (models.Profile, error) {
	if platform == "" {
		platform = p.platform
	}
	return p.store.ProfileByTarget(ctx, targetID, platform)
}

// GenerateBatch writes one message per target. Targets are independent: a
// missing snapshot or a backend failure only changes that target's
// provenance. The only error is an invalid campaign type.
func (p *Pipeline) GenerateBatch(ctx context.Context, campaignType models.CampaignType, targets []models.Target) ([]TargetMessage, error) {
	if !campaignType.Valid() {
		return nil, &scrape.ValidationError{Field: "campaign type", Value: string(campaignType), Reason: "unknown"}
	}
	out := make([]TargetMessage, len(targets))
	var g errgroup.Group
	for i, t := range targets {
		g.Go(func() error {
			snap, ok := p.latestForTarget(ctx, t.ID)
			var payload *models.Payload
			if ok {
				payload = &snap.Payload
			}
			out[i] = TargetMessage{
				TargetID:        t.ID,
				SnapshotVersion: snap.Version,
				Message:         p.gen.GenerateMessage(ctx, payload, campaignType, t),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fallbacks := 0
	for _, m := range out {
		if m.Message.Provenance == models.ProvenanceFallback {
			fallbacks++
		}
	}
	p.log.Info("batch generated", "campaign_type", campaignType, "targets", len(targets), "fallbacks", fallbacks)
	return out, nil
}

// AssessRisk scores a target from its latest snapshot, or from the target
// fields alone when there is none.
func (p *Pipeline) AssessRisk(ctx context.Context, t models.Target) models.RiskAssessment {
	var payload *models.Payload
	if snap, ok := p.latestForTarget(ctx, t.ID); ok {
		payload = &snap.Payload
	}
	return p.gen.AssessRisk(ctx, payload, t.Position)
}

// latestForTarget never fails; lookup errors are logged and treated as "no
// snapshot".
func (p *Pipeline) latestForTarget(ctx context.Context, targetID string) (models.Snapshot, bool) {
	snap, ok, err := p.Latest(ctx, targetID, p.platform)
	if err != nil {
		p.log.Warn("latest snapshot lookup failed", "target_id", targetID, "err", err)
		return models.Snapshot{}, false
	}
	if !ok {
		p.log.Debug("no snapshot for target", "target_id", targetID)
	}
	return snap, ok
}
