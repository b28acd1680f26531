package pipeline

// Phase is a state of the run state machine.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseResearching
	PhaseExtracting
	PhaseValidating
	PhaseRetryExtracting
	PhaseRetryResearching
	PhaseAdvancing
	PhaseFinalizing
	PhaseTerminal
)

var phaseNames = [...]string{
	PhaseInit:             "init",
	PhaseResearching:      "researching",
	PhaseExtracting:       "extracting",
	PhaseValidating:       "validating",
	PhaseRetryExtracting:  "retry_extracting",
	PhaseRetryResearching: "retry_researching",
	PhaseAdvancing:        "advancing",
	PhaseFinalizing:       "finalizing",
	PhaseTerminal:         "terminal",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}
