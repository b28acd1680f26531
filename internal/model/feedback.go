package model

// FeedbackTarget names the capability whose corrective action is plausible.
type FeedbackTarget string

const (
	TargetExtraction FeedbackTarget = "extraction"
	TargetResearch   FeedbackTarget = "research"
	TargetBoth       FeedbackTarget = "both"
)

// Includes reports whether feedback aimed at t should be acted on by other.
// TargetBoth includes both capabilities.
func (t FeedbackTarget) Includes(other FeedbackTarget) bool {
	if t == other {
		return true
	}
	return t == TargetBoth && (other == TargetExtraction || other == TargetResearch)
}

// Feedback is a structured description of why validation failed and what
// each collaborating capability could do about it.
type Feedback struct {
	Issues          []string                    `json:"issues"`
	Target          FeedbackTarget              `json:"target"`
	Recommendations map[FeedbackTarget][]string `json:"recommendations,omitempty"`
}

// RecommendationsFor returns the recommendations addressed to t. Safe on a
// nil receiver.
func (f *Feedback) RecommendationsFor(t FeedbackTarget) []string {
	if f == nil || !f.Target.Includes(t) {
		return nil
	}
	return f.Recommendations[t]
}

// ValidationOutcome is the result of validating one batch of records.
type ValidationOutcome struct {
	Accepted      []ExtractedRecord `json:"accepted"`
	RejectedCount int               `json:"rejected_count"`
	// RelevanceRejected counts records that failed only the query-match
	// check. They are included in RejectedCount.
	RelevanceRejected int       `json:"relevance_rejected"`
	Feedback          *Feedback `json:"feedback,omitempty"`
}

// Passed reports whether every record was accepted.
func (o ValidationOutcome) Passed() bool {
	return o.Feedback == nil
}
