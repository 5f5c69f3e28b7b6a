package rollout

import (
	"context"
	"log/slog"
	"time"

	"github.com/promptlift/promptlift/internal/config"
)

// canaryStages are the stages the driver evaluates: templates mid-rollout,
// neither parked in development nor fully live.
var canaryStages = []Stage{StageCanary5, StageCanary25, StageCanary50}

// Driver periodically evaluates every in-flight canary and advances or
// rolls it back based on the observed error rate.
type Driver struct {
	svc  *Service
	repo Repository
	cfg  config.RolloutConfig
}

// NewDriver creates a rollout Driver.
func NewDriver(svc *Service, repo Repository, cfg config.RolloutConfig) *Driver {
	return &Driver{svc: svc, repo: repo, cfg: cfg}
}

// Start runs the evaluation loop until ctx is canceled.
func (d *Driver) Start(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.DriverInterval)
	defer ticker.Stop()

	slog.Info("rollout driver started", "interval", d.cfg.DriverInterval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("rollout driver stopped")
			return
		case <-ticker.C:
			d.EvaluateAll(ctx)
		}
	}
}

// EvaluateAll runs one evaluation pass over every in-flight canary.
func (d *Driver) EvaluateAll(ctx context.Context) {
	templates, err := d.repo.ListInStages(ctx, canaryStages)
	if err != nil {
		slog.Warn("rollout driver: listing canaries failed", "error", err)
		return
	}

	for _, t := range templates {
		d.evaluate(ctx, t)
	}
}

// evaluate advances the template when the trailing error rate is under
// the threshold and rolls it back otherwise. Canaries without the minimum
// sample size are left alone until enough runs accumulate.
func (d *Driver) evaluate(ctx context.Context, t Template) {
	stats, err := d.repo.RunStats(ctx, t.ID, time.Duration(d.cfg.WindowHours)*time.Hour)
	if err != nil {
		slog.Warn("rollout driver: run stats failed", "error", err, "template_id", t.ID)
		return
	}
	if stats.Total < d.cfg.MinSampleSize {
		slog.Debug("rollout driver: sample too small",
			"template", t.Name, "version", t.Version,
			"runs", stats.Total, "required", d.cfg.MinSampleSize)
		return
	}

	rate := d.svc.CheckErrorRate(ctx, t.ID, d.cfg.WindowHours)
	if rate < d.cfg.ErrorThreshold {
		if _, err := d.svc.IncrementRollout(ctx, t.ID); err != nil {
			slog.Warn("rollout driver: advance failed", "error", err, "template_id", t.ID)
		}
		return
	}

	slog.Warn("rollout driver: error rate over threshold, rolling back",
		"template", t.Name, "version", t.Version,
		"error_rate", rate, "threshold", d.cfg.ErrorThreshold)
	if err := d.svc.Rollback(ctx, t.ID); err != nil {
		slog.Warn("rollout driver: rollback failed", "error", err, "template_id", t.ID)
	}
}
