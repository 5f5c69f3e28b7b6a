package rollout

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/promptlift/promptlift/internal/config"
	"github.com/promptlift/promptlift/internal/metrics"
	inats "github.com/promptlift/promptlift/internal/nats"
)

// EventPublisher receives stage transition events. A nil EventPublisher
// disables publishing.
type EventPublisher interface {
	PublishRolloutTransition(ctx context.Context, event inats.RolloutTransitionEvent) error
}

// Service drives the canary state machine for prompt templates.
type Service struct {
	repo   Repository
	events EventPublisher
	cfg    config.RolloutConfig

	// draw is the uniform 1-100 draw used when no user ID is supplied.
	// Overridable in tests.
	draw func() int
}

// NewService creates a rollout Service.
func NewService(repo Repository, events EventPublisher, cfg config.RolloutConfig) *Service {
	return &Service{
		repo:   repo,
		events: events,
		cfg:    cfg,
		draw:   func() int { return rand.Intn(100) + 1 },
	}
}

// bucketFor maps a user ID into 1-100 with 64-bit FNV-1a. The hash is
// fixed so the same user lands in the same bucket across restarts and a
// stage change never flips users already inside the exposed percentage.
func bucketFor(userID string) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(userID))
	return int(h.Sum64()%100) + 1
}

// ShouldUseNewVersion reports whether this request should be served by
// the given template version. Version 1 is the stable baseline and never
// counts as new. Any internal error answers false, biasing toward the
// stable version.
func (s *Service) ShouldUseNewVersion(ctx context.Context, templateID uuid.UUID, userID string) bool {
	t, err := s.repo.GetByID(ctx, templateID)
	if err != nil || t == nil {
		slog.Warn("rollout: eligibility lookup failed, using stable", "error", err, "template_id", templateID)
		metrics.RolloutDecisionsTotal.WithLabelValues("error").Inc()
		return false
	}
	use := s.inExposedBucket(t, userID)
	if use {
		metrics.RolloutDecisionsTotal.WithLabelValues("new").Inc()
	} else {
		metrics.RolloutDecisionsTotal.WithLabelValues("stable").Inc()
	}
	return use
}

// inExposedBucket reports whether the user's bucket (or a uniform draw,
// absent a user ID) falls inside the template's exposed percentage.
// Version 1 is the stable baseline and never counts as new.
func (s *Service) inExposedBucket(t *Template, userID string) bool {
	if t.Version <= 1 {
		return false
	}
	bucket := s.draw()
	if userID != "" {
		bucket = bucketFor(userID)
	}
	return bucket <= t.Stage.Percentage()
}

// Resolve picks the template version that serves this request: the
// highest active canary version when the user's bucket falls inside its
// exposed percentage, otherwise the active PRODUCTION baseline. Returns
// nil when no active version exists for the name.
func (s *Service) Resolve(ctx context.Context, name, userID string) (*Template, error) {
	templates, err := s.repo.ListByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("resolving template %s: %w", name, err)
	}

	var stable, candidate *Template
	for i := range templates {
		t := &templates[i]
		if !t.IsActive {
			continue
		}
		switch {
		case t.Stage.IsTerminal():
			if stable == nil || t.Version > stable.Version {
				stable = t
			}
		case t.Stage != StageDevelopment:
			if candidate == nil || t.Version > candidate.Version {
				candidate = t
			}
		}
	}

	if candidate != nil && s.inExposedBucket(candidate, userID) {
		metrics.RolloutDecisionsTotal.WithLabelValues("new").Inc()
		return candidate, nil
	}
	if candidate != nil {
		metrics.RolloutDecisionsTotal.WithLabelValues("stable").Inc()
	}
	return stable, nil
}

// EnsureBaseline creates version 1 of a named template when no version
// exists yet. Called at startup so prompt upgrades always have a
// template to resolve and record runs against.
func (s *Service) EnsureBaseline(ctx context.Context, name, content string) error {
	latest, err := s.repo.LatestVersion(ctx, name)
	if err != nil {
		return fmt.Errorf("ensuring baseline template %s: %w", name, err)
	}
	if latest > 0 {
		return nil
	}
	_, err = s.CreateVersion(ctx, name, content)
	return err
}

// IncrementRollout advances the template exactly one stage. At the
// terminal stage it logs and returns the current stage unchanged.
func (s *Service) IncrementRollout(ctx context.Context, templateID uuid.UUID) (Stage, error) {
	t, err := s.repo.GetByID(ctx, templateID)
	if err != nil {
		return "", fmt.Errorf("incrementing rollout: %w", err)
	}
	if t == nil {
		return "", fmt.Errorf("template %s not found", templateID)
	}

	next, ok := t.Stage.Next()
	if !ok {
		slog.Info("rollout already at terminal stage", "template_id", templateID, "stage", t.Stage)
		return t.Stage, nil
	}

	if err := s.repo.UpdateStage(ctx, templateID, next); err != nil {
		return "", fmt.Errorf("incrementing rollout: %w", err)
	}

	metrics.RolloutTransitionsTotal.WithLabelValues("advance").Inc()
	slog.Info("rollout advanced", "template", t.Name, "version", t.Version,
		"from", t.Stage, "to", next)
	s.publishTransition(ctx, t, next, "advance", 0)
	return next, nil
}

// CheckErrorRate returns the failed/total ratio over the trailing window,
// 0 with no recorded runs, and 1 when the query itself fails so callers
// err toward caution.
func (s *Service) CheckErrorRate(ctx context.Context, templateID uuid.UUID, windowHours int) float64 {
	stats, err := s.repo.RunStats(ctx, templateID, time.Duration(windowHours)*time.Hour)
	if err != nil {
		slog.Warn("rollout: error-rate lookup failed, assuming unsafe", "error", err, "template_id", templateID)
		return 1
	}
	if stats.Total == 0 {
		return 0
	}
	return float64(stats.Failed) / float64(stats.Total)
}

// Rollback deactivates the template, parks it back at DEVELOPMENT, and
// reactivates the previous version at PRODUCTION. Fails when no prior
// version exists.
func (s *Service) Rollback(ctx context.Context, templateID uuid.UUID) error {
	t, err := s.repo.GetByID(ctx, templateID)
	if err != nil {
		return fmt.Errorf("rolling back: %w", err)
	}
	if t == nil {
		return fmt.Errorf("template %s not found", templateID)
	}

	prev, err := s.repo.GetByNameVersion(ctx, t.Name, t.Version-1)
	if err != nil {
		return fmt.Errorf("rolling back: %w", err)
	}
	if prev == nil {
		return fmt.Errorf("template %s v%d has no prior version to roll back to", t.Name, t.Version)
	}

	if err := s.repo.SetActive(ctx, t.ID, false); err != nil {
		return fmt.Errorf("rolling back: %w", err)
	}
	if err := s.repo.UpdateStage(ctx, t.ID, StageDevelopment); err != nil {
		return fmt.Errorf("rolling back: %w", err)
	}
	if err := s.repo.SetActive(ctx, prev.ID, true); err != nil {
		return fmt.Errorf("rolling back: %w", err)
	}
	if err := s.repo.UpdateStage(ctx, prev.ID, StageProduction); err != nil {
		return fmt.Errorf("rolling back: %w", err)
	}

	metrics.RolloutTransitionsTotal.WithLabelValues("rollback").Inc()
	slog.Warn("rollout rolled back", "template", t.Name,
		"failed_version", t.Version, "restored_version", prev.Version)
	s.publishTransition(ctx, t, StageDevelopment, "rollback", 0)
	return nil
}

// CreateVersion registers the next version of a named template. The very
// first version goes straight to PRODUCTION as the stable baseline; later
// versions start parked at DEVELOPMENT and earn exposure through the
// canary stages.
func (s *Service) CreateVersion(ctx context.Context, name, content string) (*Template, error) {
	latest, err := s.repo.LatestVersion(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("creating template version: %w", err)
	}

	t := &Template{
		Name:     name,
		Version:  latest + 1,
		Content:  content,
		IsActive: true,
		Stage:    StageDevelopment,
	}
	if t.Version == 1 {
		t.Stage = StageProduction
	}

	if err := s.repo.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("creating template version: %w", err)
	}
	slog.Info("template version created", "template", name, "version", t.Version, "stage", t.Stage)
	return t, nil
}

// GetTemplate returns one template by ID, nil when absent.
func (s *Service) GetTemplate(ctx context.Context, templateID uuid.UUID) (*Template, error) {
	return s.repo.GetByID(ctx, templateID)
}

// ListTemplates returns every template version across all stages.
func (s *Service) ListTemplates(ctx context.Context) ([]Template, error) {
	return s.repo.List(ctx)
}

// RecordRun stores one execution outcome for error-rate accounting.
func (s *Service) RecordRun(ctx context.Context, templateID uuid.UUID, success bool, latencyMs int, stage Stage) error {
	return s.repo.RecordRun(ctx, &Run{
		TemplateID: templateID,
		Success:    success,
		LatencyMs:  latencyMs,
		Stage:      stage,
	})
}

func (s *Service) publishTransition(ctx context.Context, t *Template, to Stage, direction string, errorRate float64) {
	if s.events == nil {
		return
	}
	event := inats.RolloutTransitionEvent{
		TemplateID: t.ID,
		Name:       t.Name,
		Version:    t.Version,
		FromStage:  string(t.Stage),
		ToStage:    string(to),
		Direction:  direction,
		ErrorRate:  errorRate,
		Timestamp:  time.Now().UTC(),
	}
	if err := s.events.PublishRolloutTransition(ctx, event); err != nil {
		slog.Warn("publishing rollout transition", "error", err)
	}
}
