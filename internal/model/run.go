package model

import "time"

// RunStatus is the persisted lifecycle state of a run.
type RunStatus string

const (
	RunStatusQueued      RunStatus = "queued"
	RunStatusResearching RunStatus = "researching"
	RunStatusExtracting  RunStatus = "extracting"
	RunStatusComplete    RunStatus = "complete"
	RunStatusPartial     RunStatus = "partial"
	RunStatusFailed      RunStatus = "failed"
)

// RunDocument is the single JSON document emitted when a run terminates.
type RunDocument struct {
	RunID           string           `json:"run_id"`
	Query           string           `json:"query"`
	AcceptedRecords []map[string]any `json:"accepted_records"`
	Metadata        RunMetadata      `json:"metadata"`
}

// Status maps the document onto the persisted terminal status.
func (d RunDocument) Status() RunStatus {
	switch {
	case d.Metadata.Success:
		return RunStatusComplete
	case d.Metadata.Partial || len(d.AcceptedRecords) > 0:
		return RunStatusPartial
	default:
		return RunStatusFailed
	}
}

// RunMetadata summarizes how a run went.
type RunMetadata struct {
	CandidatesTried         int         `json:"candidates_tried"`
	TotalExtractionAttempts int         `json:"total_extraction_attempts"`
	TotalResearchAttempts   int         `json:"total_research_attempts"`
	Success                 bool        `json:"success"`
	Partial                 bool        `json:"partial"`
	TargetCandidates        int         `json:"target_candidates"`
	SuccessfulCandidates    int         `json:"successful_candidates"`
	SuccessRate             float64     `json:"success_rate"`
	Transitions             int         `json:"transitions"`
	TerminationReason       string      `json:"termination_reason,omitempty"`
	Candidates              []Candidate `json:"candidates,omitempty"`
	StartedAt               time.Time   `json:"started_at"`
	CompletedAt             time.Time   `json:"completed_at"`
}

// Run is a persisted run record.
type Run struct {
	ID        string       `json:"id"`
	Query     string       `json:"query"`
	Status    RunStatus    `json:"status"`
	Document  *RunDocument `json:"document,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}
