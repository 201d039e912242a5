package model

import "time"

// RunStatus is the lifecycle state of a SearchRun. Terminal once it leaves
// StatusRunning.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// PhaseSummary records the outcome of one discovery phase.
type PhaseSummary struct {
	Phase              int      `json:"phase"`
	Name               string   `json:"name"`
	Completed          bool     `json:"completed"`
	OpportunitiesFound int      `json:"opportunities_found"`
	Confidence         float64  `json:"confidence"`
	Sources            []string `json:"sources,omitempty"`
	Error              string   `json:"error,omitempty"`
}

// SearchRun is one execution of the phase pipeline for one agency.
type SearchRun struct {
	ID                 string         `json:"id"`
	AgencyID           string         `json:"agency_id"`
	Status             RunStatus      `json:"status"`
	Phases             []PhaseSummary `json:"phases"`
	Confidence         float64        `json:"confidence_score"`
	OpportunitiesFound int            `json:"opportunities_found"`
	Error              string         `json:"error,omitempty"`
	StartedAt          time.Time      `json:"started_at"`
	CompletedAt        *time.Time     `json:"completed_at,omitempty"`
}

// RunOutcome carries the terminal state written back to a SearchRun.
type RunOutcome struct {
	Status             RunStatus
	Phases             []PhaseSummary
	Confidence         float64
	OpportunitiesFound int
	Error              string
}

// AgencyResult is the per-agency entry in an invocation's response. Either
// the success fields or Error is populated.
type AgencyResult struct {
	AgencyID           string  `json:"agencyId"`
	AgencyName         string  `json:"agencyName"`
	SearchRunID        string  `json:"searchRunId,omitempty"`
	OpportunitiesFound int     `json:"opportunitiesFound"`
	Confidence         float64 `json:"confidence"`
	PhasesCompleted    int     `json:"phasesCompleted"`
	Error              string  `json:"error,omitempty"`
}
