package pipeline

import (
	"github.com/sells-group/product-scout/internal/model"
)

// Decision is the router's choice of what a run does after a validation.
type Decision int

const (
	AdvanceCandidate Decision = iota
	RetryExtraction
	RetryResearch
	Finalize
)

func (d Decision) String() string {
	switch d {
	case AdvanceCandidate:
		return "advance_candidate"
	case RetryExtraction:
		return "retry_extraction"
	case RetryResearch:
		return "retry_research"
	case Finalize:
		return "finalize"
	default:
		return "unknown"
	}
}

// RouteState is the slice of run state the router reads.
type RouteState struct {
	ExtractionAttempts    int
	MaxExtractionAttempts int
	ResearchAttempts      int
	MaxResearchAttempts   int
	// MoreCandidates is true when the registry holds a candidate after the
	// current one.
	MoreCandidates bool
	// TargetMet is true when committing the current outcome reaches the
	// run's target number of successful candidates.
	TargetMet bool
}

func (s RouteState) extractionExhausted() bool {
	return s.ExtractionAttempts >= s.MaxExtractionAttempts
}

func (s RouteState) researchExhausted() bool {
	return s.ResearchAttempts >= s.MaxResearchAttempts
}

// Route picks the next step for a validation outcome. Rules are evaluated
// in order and the first match wins:
//
//  1. no feedback: finalize when the target is met, else advance
//  2. extraction and research both exhausted: advance if more candidates
//     remain, else finalize
//  3. feedback targets research and research has budget: retry research
//  4. feedback targets extraction or both and extraction has budget: retry
//     extraction
//  5. otherwise advance
func Route(outcome model.ValidationOutcome, state RouteState) Decision {
	d, _ := route(outcome, state)
	return d
}

// route returns the decision together with the rule that produced it.
func route(outcome model.ValidationOutcome, state RouteState) (Decision, int) {
	fb := outcome.Feedback
	if fb == nil {
		if state.TargetMet {
			return Finalize, 1
		}
		return AdvanceCandidate, 1
	}

	if state.extractionExhausted() && state.researchExhausted() {
		if state.MoreCandidates {
			return AdvanceCandidate, 2
		}
		return Finalize, 2
	}

	if fb.Target == model.TargetResearch && !state.researchExhausted() {
		return RetryResearch, 3
	}

	if (fb.Target == model.TargetExtraction || fb.Target == model.TargetBoth) && !state.extractionExhausted() {
		return RetryExtraction, 4
	}

	return AdvanceCandidate, 5
}
