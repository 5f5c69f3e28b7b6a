package rollout

import (
	"time"

	"github.com/google/uuid"
)

// Stage is a canary rollout stage. Stages form a total order of
// increasing traffic exposure.
type Stage string

const (
	StageDevelopment Stage = "DEVELOPMENT"
	StageCanary5     Stage = "CANARY_5"
	StageCanary25    Stage = "CANARY_25"
	StageCanary50    Stage = "CANARY_50"
	StageProduction  Stage = "PRODUCTION"

	// StageFull100 is a terminal alias of PRODUCTION kept for older rows.
	StageFull100 Stage = "FULL_100"
)

var stageOrder = []Stage{
	StageDevelopment,
	StageCanary5,
	StageCanary25,
	StageCanary50,
	StageProduction,
}

var stagePercentage = map[Stage]int{
	StageDevelopment: 0,
	StageCanary5:     5,
	StageCanary25:    25,
	StageCanary50:    50,
	StageProduction:  100,
	StageFull100:     100,
}

// Percentage returns the share of traffic (0-100) exposed at this stage.
// Unknown stages map to 0.
func (s Stage) Percentage() int {
	return stagePercentage[s]
}

// Next returns the following stage in the rollout order. ok is false at
// the terminal stage.
func (s Stage) Next() (next Stage, ok bool) {
	if s == StageFull100 {
		return s, false
	}
	for i, stage := range stageOrder {
		if stage == s && i+1 < len(stageOrder) {
			return stageOrder[i+1], true
		}
	}
	return s, false
}

// IsTerminal reports whether the stage is fully rolled out.
func (s Stage) IsTerminal() bool {
	return s == StageProduction || s == StageFull100
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	_, ok := stagePercentage[s]
	return ok
}

// Template is one version of a named prompt template under rollout.
type Template struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Version   int       `json:"version"`
	Content   string    `json:"content"`
	IsActive  bool      `json:"is_active"`
	Stage     Stage     `json:"rollout_stage"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Run is one recorded execution of a template version.
type Run struct {
	ID         uuid.UUID `json:"id"`
	TemplateID uuid.UUID `json:"template_id"`
	Success    bool      `json:"success"`
	LatencyMs  int       `json:"latency_ms"`
	Stage      Stage     `json:"rollout_stage"`
	CreatedAt  time.Time `json:"created_at"`
}

// RunStats aggregates runs over a trailing window.
type RunStats struct {
	Total  int
	Failed int
}
