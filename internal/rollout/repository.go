package rollout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the persistence boundary for templates and their runs.
type Repository interface {
	Create(ctx context.Context, t *Template) error
	GetByID(ctx context.Context, id uuid.UUID) (*Template, error)
	GetByNameVersion(ctx context.Context, name string, version int) (*Template, error)
	LatestVersion(ctx context.Context, name string) (int, error)
	List(ctx context.Context) ([]Template, error)
	ListByName(ctx context.Context, name string) ([]Template, error)
	ListInStages(ctx context.Context, stages []Stage) ([]Template, error)
	UpdateStage(ctx context.Context, id uuid.UUID, stage Stage) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	RecordRun(ctx context.Context, run *Run) error
	RunStats(ctx context.Context, templateID uuid.UUID, window time.Duration) (RunStats, error)
}

// PostgresRepository implements Repository on prompt_templates and
// template_runs.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new rollout repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const templateColumns = `id, name, version, content, is_active, rollout_stage, created_at, updated_at`

func scanTemplate(row pgx.Row) (*Template, error) {
	var t Template
	err := row.Scan(&t.ID, &t.Name, &t.Version, &t.Content, &t.IsActive, &t.Stage,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *PostgresRepository) Create(ctx context.Context, t *Template) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO prompt_templates (name, version, content, is_active, rollout_stage)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at, updated_at`,
		t.Name, t.Version, t.Content, t.IsActive, t.Stage,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating template %s v%d: %w", t.Name, t.Version, err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Template, error) {
	t, err := scanTemplate(r.pool.QueryRow(ctx,
		`SELECT `+templateColumns+` FROM prompt_templates WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching template %s: %w", id, err)
	}
	return t, nil
}

func (r *PostgresRepository) GetByNameVersion(ctx context.Context, name string, version int) (*Template, error) {
	t, err := scanTemplate(r.pool.QueryRow(ctx,
		`SELECT `+templateColumns+` FROM prompt_templates WHERE name = $1 AND version = $2`,
		name, version))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching template %s v%d: %w", name, version, err)
	}
	return t, nil
}

func (r *PostgresRepository) LatestVersion(ctx context.Context, name string) (int, error) {
	var version int
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM prompt_templates WHERE name = $1`,
		name).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("finding latest version of %s: %w", name, err)
	}
	return version, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]Template, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+templateColumns+`
		 FROM prompt_templates
		 ORDER BY name, version`)
	if err != nil {
		return nil, fmt.Errorf("listing templates: %w", err)
	}
	defer rows.Close()

	var templates []Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning template: %w", err)
		}
		templates = append(templates, *t)
	}
	return templates, rows.Err()
}

func (r *PostgresRepository) ListByName(ctx context.Context, name string) ([]Template, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+templateColumns+`
		 FROM prompt_templates
		 WHERE name = $1
		 ORDER BY version`, name)
	if err != nil {
		return nil, fmt.Errorf("listing versions of %s: %w", name, err)
	}
	defer rows.Close()

	var templates []Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning template: %w", err)
		}
		templates = append(templates, *t)
	}
	return templates, rows.Err()
}

func (r *PostgresRepository) ListInStages(ctx context.Context, stages []Stage) ([]Template, error) {
	stageNames := make([]string, len(stages))
	for i, s := range stages {
		stageNames[i] = string(s)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+templateColumns+`
		 FROM prompt_templates
		 WHERE is_active = TRUE AND rollout_stage = ANY($1)
		 ORDER BY name, version`, stageNames)
	if err != nil {
		return nil, fmt.Errorf("listing templates by stage: %w", err)
	}
	defer rows.Close()

	var templates []Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning template: %w", err)
		}
		templates = append(templates, *t)
	}
	return templates, rows.Err()
}

func (r *PostgresRepository) UpdateStage(ctx context.Context, id uuid.UUID, stage Stage) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE prompt_templates SET rollout_stage = $2, updated_at = NOW() WHERE id = $1`,
		id, stage)
	if err != nil {
		return fmt.Errorf("updating template stage: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE prompt_templates SET is_active = $2, updated_at = NOW() WHERE id = $1`,
		id, active)
	if err != nil {
		return fmt.Errorf("updating template active flag: %w", err)
	}
	return nil
}

func (r *PostgresRepository) RecordRun(ctx context.Context, run *Run) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO template_runs (template_id, success, latency_ms, rollout_stage)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		run.TemplateID, run.Success, run.LatencyMs, run.Stage,
	).Scan(&run.ID, &run.CreatedAt)
	if err != nil {
		return fmt.Errorf("recording template run: %w", err)
	}
	return nil
}

func (r *PostgresRepository) RunStats(ctx context.Context, templateID uuid.UUID, window time.Duration) (RunStats, error) {
	var stats RunStats
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE NOT success)
		 FROM template_runs
		 WHERE template_id = $1 AND created_at > NOW() - make_interval(secs => $2)`,
		templateID, window.Seconds(),
	).Scan(&stats.Total, &stats.Failed)
	if err != nil {
		return RunStats{}, fmt.Errorf("aggregating template runs: %w", err)
	}
	return stats, nil
}
