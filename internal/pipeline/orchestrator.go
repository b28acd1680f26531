// Package pipeline drives one product-scout run: research candidates,
// extract from each, validate, and route on the feedback until the run
// finalizes.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/product-scout/internal/automation"
	"github.com/sells-group/product-scout/internal/extract"
	"github.com/sells-group/product-scout/internal/model"
	"github.com/sells-group/product-scout/internal/registry"
	"github.com/sells-group/product-scout/internal/research"
	"github.com/sells-group/product-scout/internal/resilience"
	"github.com/sells-group/product-scout/internal/schema"
	"github.com/sells-group/product-scout/internal/validate"
)

// Termination reasons recorded in run metadata.
const (
	ReasonTargetMet           = "target_met"
	ReasonCandidatesExhausted = "candidates_exhausted"
	ReasonNoCandidates        = "no_candidates"
	ReasonCancelled           = "cancelled"
	ReasonTransitionLimit     = "transition_limit"
	ReasonAutomationFailed    = "automation_unavailable"
	ReasonRouted              = "routed_finalize"
)

// Sink receives the final document of every run.
type Sink interface {
	Write(ctx context.Context, doc model.RunDocument) error
}

// StatusRecorder persists run status changes. Failures are logged, never
// fatal.
type StatusRecorder interface {
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
}

// Extractor performs one extraction attempt. *extract.Step implements it.
type Extractor interface {
	Extract(ctx context.Context, c model.Candidate, sch *schema.Schema, fb *model.Feedback) ([]model.ExtractedRecord, error)
}

// Validator validates one batch. *validate.Step implements it.
type Validator interface {
	Validate(ctx context.Context, records []model.ExtractedRecord, qc validate.QueryContext) model.ValidationOutcome
}

// Config holds the ceilings and tuning for runs.
type Config struct {
	MaxExtractionAttempts int
	MaxResearchAttempts   int
	TargetCandidates      int
	// MaxCandidates caps how many candidates one research call may add.
	MaxCandidates   int
	ResearchTimeout time.Duration
	// MaxTransitions overrides the derived transition ceiling when > 0.
	MaxTransitions int
	Extraction     extract.Options
	Validation     validate.Options
}

func (c Config) withDefaults() Config {
	if c.MaxExtractionAttempts < 0 {
		c.MaxExtractionAttempts = 0
	}
	if c.MaxResearchAttempts < 0 {
		c.MaxResearchAttempts = 0
	}
	if c.TargetCandidates <= 0 {
		c.TargetCandidates = 1
	}
	return c
}

// Orchestrator runs queries. It holds only shared, read-only collaborators;
// each Run builds its own state and automation session.
type Orchestrator struct {
	cfg        Config
	researcher research.Researcher
	opener     automation.Opener
	schema     *schema.Schema
	sink       Sink
	status     StatusRecorder
	now        func() time.Time
}

// New returns an Orchestrator. status may be nil.
func New(cfg Config, researcher research.Researcher, opener automation.Opener, sch *schema.Schema, sink Sink, status StatusRecorder) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg.withDefaults(),
		researcher: researcher,
		opener:     opener,
		schema:     sch,
		sink:       sink,
		status:     status,
		now:        time.Now,
	}
}

// Run executes one query to completion and writes its document to the
// sink. runID may be empty, in which case one is generated. The returned
// error is non-nil only when the sink fails; the document is returned
// either way.
func (o *Orchestrator) Run(ctx context.Context, runID, query string) (*model.RunDocument, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	log := zap.L().With(zap.String("run_id", runID), zap.String("query", query))

	r := &runner{
		cfg:        o.cfg,
		runID:      runID,
		query:      query,
		schema:     o.schema,
		researcher: o.researcher,
		validator:  validate.New(o.schema, o.cfg.Validation),
		status:     o.status,
		now:        o.now,
		log:        log,
	}

	session, err := o.opener.Open(ctx)
	if err != nil {
		log.Error("pipeline: open automation session", zap.Error(err))
		r.init()
		r.st.reason = ReasonAutomationFailed
		r.st.phase = PhaseTerminal
	} else {
		defer func() {
			if cerr := session.Close(); cerr != nil {
				log.Warn("pipeline: close automation session", zap.Error(cerr))
			}
		}()
		r.extractor = extract.New(session, query, o.cfg.Extraction)
		r.run(ctx)
	}

	doc := r.document()
	r.setStatus(doc.Status())
	log.Info("pipeline: run complete",
		zap.Int("accepted", len(doc.AcceptedRecords)),
		zap.Int("candidates_tried", doc.Metadata.CandidatesTried),
		zap.Bool("success", doc.Metadata.Success),
		zap.Bool("partial", doc.Metadata.Partial),
		zap.String("reason", doc.Metadata.TerminationReason),
	)

	if err := o.sink.Write(context.WithoutCancel(ctx), doc); err != nil {
		return &doc, eris.Wrapf(err, "pipeline: write document for run %s", runID)
	}
	return &doc, nil
}

// runState is the mutable state of one run. Only the runner touches it.
type runState struct {
	phase    Phase
	registry *registry.Registry

	accepted []model.ExtractedRecord
	// pending holds the best accepted batch for the current candidate. It
	// is committed when the run leaves the candidate.
	pending []model.ExtractedRecord

	extractionAttempts int
	researchAttempts   int

	totalExtraction int
	totalResearch   int
	successful      int
	tried           map[string]bool

	// feedback from the last validation, handed to the next extraction or
	// research call.
	feedback *model.Feedback
	// last extraction result, consumed by the validating phase.
	lastRecords []model.ExtractedRecord
	lastErr     error

	excluded   []string
	superseded []model.Candidate

	partial     bool
	transitions int
	reason      string
	status      model.RunStatus
	startedAt   time.Time
}

type runner struct {
	cfg        Config
	runID      string
	query      string
	schema     *schema.Schema
	researcher research.Researcher
	extractor  Extractor
	validator  Validator
	status     StatusRecorder
	now        func() time.Time
	log        *zap.Logger

	st runState
}

func (r *runner) init() {
	r.st = runState{
		phase:     PhaseInit,
		registry:  registry.New(),
		tried:     make(map[string]bool),
		startedAt: r.now().UTC(),
	}
}

// run drives the state machine until TERMINAL.
func (r *runner) run(ctx context.Context) {
	r.init()
	for r.st.phase != PhaseTerminal {
		if ctx.Err() != nil {
			r.log.Warn("pipeline: run cancelled", zap.Stringer("phase", r.st.phase))
			r.st.partial = true
			r.st.reason = ReasonCancelled
			r.st.phase = PhaseTerminal
			break
		}
		if r.st.phase != PhaseFinalizing && r.st.transitions >= r.transitionLimit() {
			r.log.Error("pipeline: transition limit reached", zap.Int("transitions", r.st.transitions))
			r.st.reason = ReasonTransitionLimit
			r.st.phase = PhaseFinalizing
		}
		if err := r.st.registry.Check(); err != nil {
			// Unreachable: the registry never leaves its cursor out of range.
			r.log.Error("pipeline: registry invariant", zap.Error(err))
			r.st.registry.RepairIndex()
		}

		r.st.transitions++
		from := r.st.phase
		r.step(ctx)
		r.log.Debug("pipeline: transition", zap.Stringer("from", from), zap.Stringer("to", r.st.phase))
	}
	r.commitPending()
}

func (r *runner) step(ctx context.Context) {
	switch r.st.phase {
	case PhaseInit:
		r.st.phase = PhaseResearching
	case PhaseResearching:
		r.research(ctx)
	case PhaseExtracting:
		r.extract(ctx)
	case PhaseValidating:
		r.validate(ctx)
	case PhaseRetryExtracting:
		r.st.extractionAttempts++
		r.st.phase = PhaseExtracting
	case PhaseRetryResearching:
		r.st.researchAttempts++
		r.st.phase = PhaseResearching
	case PhaseAdvancing:
		r.advance()
	case PhaseFinalizing:
		if r.st.reason == "" {
			r.st.reason = ReasonRouted
		}
		r.st.phase = PhaseTerminal
	default:
		r.st.phase = PhaseTerminal
	}
}

// transitionLimit bounds the run. It grows with the registry, which itself
// only grows through a bounded number of research calls.
func (r *runner) transitionLimit() int {
	if r.cfg.MaxTransitions > 0 {
		return r.cfg.MaxTransitions
	}
	perCandidate := 3*(r.cfg.MaxExtractionAttempts+1) + 2
	researchCalls := r.cfg.MaxResearchAttempts + 1
	candidates := r.st.registry.Len() + len(r.st.superseded)
	return 16 + 4*researchCalls + (candidates+researchCalls)*perCandidate
}

func (r *runner) research(ctx context.Context) {
	r.setStatus(model.RunStatusResearching)
	ref := r.refinement()

	cands, err := resilience.WithTimeout(ctx, "research", r.cfg.ResearchTimeout,
		func(ctx context.Context) ([]model.Candidate, error) {
			return r.researcher.Discover(ctx, r.query, ref)
		})
	r.st.totalResearch++
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.log.Warn("pipeline: research failed",
			zap.Int("research_attempts", r.st.researchAttempts),
			zap.String("class", resilience.Classify(err)),
			zap.Error(err),
		)
		if r.st.researchAttempts < r.cfg.MaxResearchAttempts {
			r.st.researchAttempts++
			return
		}
		// Out of research budget: finish with what has been accumulated,
		// even when a candidate is still current.
		r.st.reason = ReasonCandidatesExhausted
		r.st.phase = PhaseFinalizing
		return
	}

	placed := r.merge(cands)
	r.log.Info("pipeline: research complete",
		zap.Int("returned", len(cands)),
		zap.Int("placed", placed),
		zap.Int("registry", r.st.registry.Len()),
	)
	reason := ReasonCandidatesExhausted
	if r.st.registry.Len() == 0 {
		reason = ReasonNoCandidates
	}
	r.afterResearch(reason)
}

// afterResearch continues with the current candidate, or finalizes when
// there is none.
func (r *runner) afterResearch(reason string) {
	if _, ok := r.st.registry.Current(); ok {
		r.st.phase = PhaseExtracting
		return
	}
	r.st.reason = reason
	r.st.phase = PhaseFinalizing
}

// refinement builds the research input from pending feedback and the
// exclusion list. A research retry also excludes the current candidate.
func (r *runner) refinement() model.Refinement {
	excluded := append([]string(nil), r.st.excluded...)
	if c, ok := r.st.registry.Current(); ok && r.st.feedback != nil {
		excluded = append(excluded, c.Locator)
	}
	urls, domains := research.BuildExclusions(excluded)
	return model.Refinement{
		Instructions:    r.st.feedback.RecommendationsFor(model.TargetResearch),
		ExcludeLocators: urls,
		ExcludeDomains:  domains,
		Attempt:         r.st.researchAttempts,
		MaxCandidates:   r.cfg.MaxCandidates,
	}
}

// merge places research results. When a fresh candidate takes the current
// slot, the replaced one is closed and kept in the superseded list so it
// still shows up in the run's metadata.
func (r *runner) merge(cands []model.Candidate) int {
	if r.st.researchAttempts > 0 || r.st.feedback != nil {
		for i := range cands {
			cands[i].Origin = model.OriginAddedByRetry
		}
	}
	prev, hadCurrent := r.st.registry.Current()
	placed := r.st.registry.Merge(cands, r.cfg.MaxCandidates)
	if placed == 0 || !hadCurrent {
		return placed
	}
	if cur, ok := r.st.registry.Current(); ok && (cur.ID != prev.ID || cur.Locator != prev.Locator) {
		// prev is no longer in the registry, so close it by hand.
		if len(r.st.pending) > 0 {
			r.commitPending()
		} else {
			r.st.excluded = append(r.st.excluded, prev.Locator)
		}
		prev.Exhausted = true
		r.st.superseded = append(r.st.superseded, prev)
		r.st.extractionAttempts = 0
		r.st.feedback = nil
	}
	return placed
}

func (r *runner) extract(ctx context.Context) {
	c, ok := r.st.registry.Current()
	if !ok {
		if r.st.researchAttempts < r.cfg.MaxResearchAttempts {
			r.st.researchAttempts++
			r.st.phase = PhaseResearching
			return
		}
		r.st.reason = ReasonCandidatesExhausted
		r.st.phase = PhaseFinalizing
		return
	}
	log := r.log.With(zap.String("candidate", c.ID), zap.String("locator", c.Locator))

	if !c.HasValidLocator() {
		log.Warn("pipeline: skipping candidate with invalid locator")
		r.st.phase = PhaseAdvancing
		return
	}

	r.setStatus(model.RunStatusExtracting)
	r.st.registry.IncrementAttempts()
	r.st.totalExtraction++
	r.st.tried[c.ID] = true

	fb := r.st.feedback
	records, err := r.extractor.Extract(ctx, c, r.schema, fb)
	if ctx.Err() != nil {
		return
	}

	var schemaErr *extract.SchemaError
	if errors.As(err, &schemaErr) {
		log.Warn("pipeline: malformed extraction data, advancing", zap.Error(err))
		r.st.phase = PhaseAdvancing
		return
	}
	if err != nil {
		log.Warn("pipeline: extraction failed",
			zap.Int("extraction_attempts", r.st.extractionAttempts),
			zap.String("class", resilience.Classify(err)),
			zap.Error(err),
		)
	}
	r.st.lastRecords, r.st.lastErr = records, err
	r.st.phase = PhaseValidating
}

func (r *runner) validate(ctx context.Context) {
	c, ok := r.st.registry.Current()
	if !ok {
		r.st.phase = PhaseExtracting
		return
	}

	var outcome model.ValidationOutcome
	if r.st.lastErr != nil {
		outcome = extractionFailure(r.st.lastErr)
	} else {
		outcome = r.validator.Validate(ctx, r.st.lastRecords, validate.QueryContext{Query: r.query, Candidate: c})
	}
	r.st.lastRecords, r.st.lastErr = nil, nil

	if len(outcome.Accepted) > len(r.st.pending) {
		r.st.pending = outcome.Accepted
	}

	state := RouteState{
		ExtractionAttempts:    r.st.extractionAttempts,
		MaxExtractionAttempts: r.cfg.MaxExtractionAttempts,
		ResearchAttempts:      r.st.researchAttempts,
		MaxResearchAttempts:   r.cfg.MaxResearchAttempts,
		MoreCandidates:        r.st.registry.Remaining() > 0,
		TargetMet:             r.st.successful+1 >= r.cfg.TargetCandidates,
	}
	decision, rule := route(outcome, state)

	fields := []zap.Field{
		zap.String("candidate", c.ID),
		zap.Stringer("decision", decision),
		zap.Int("rule", rule),
		zap.Int("accepted", len(outcome.Accepted)),
		zap.Int("rejected", outcome.RejectedCount),
		zap.Int("extraction_attempts", r.st.extractionAttempts),
		zap.Int("research_attempts", r.st.researchAttempts),
	}
	if outcome.Feedback != nil {
		fields = append(fields,
			zap.String("target", string(outcome.Feedback.Target)),
			zap.Strings("issues", outcome.Feedback.Issues),
		)
	}
	r.log.Info("pipeline: routed", fields...)

	r.st.feedback = outcome.Feedback
	switch decision {
	case RetryExtraction:
		r.st.phase = PhaseRetryExtracting
	case RetryResearch:
		r.st.phase = PhaseRetryResearching
	case Finalize:
		r.st.reason = ReasonRouted
		if outcome.Feedback == nil {
			r.st.reason = ReasonTargetMet
		}
		r.st.phase = PhaseFinalizing
	default:
		r.st.phase = PhaseAdvancing
	}
}

// extractionFailure turns an extraction error into an outcome the router
// can act on.
func extractionFailure(err error) model.ValidationOutcome {
	return model.ValidationOutcome{
		Feedback: &model.Feedback{
			Issues: []string{"extraction failed: " + resilience.Classify(err)},
			Target: model.TargetExtraction,
			Recommendations: map[model.FeedbackTarget][]string{
				model.TargetExtraction: {"wait for the page to finish loading before extracting"},
			},
		},
	}
}

func (r *runner) advance() {
	if c, ok := r.st.registry.Current(); ok {
		r.closeCandidate(c)
		r.st.registry.Advance()
	}
	r.st.extractionAttempts = 0
	r.st.feedback = nil
	if r.st.successful >= r.cfg.TargetCandidates {
		r.st.reason = ReasonTargetMet
		r.st.phase = PhaseFinalizing
		return
	}
	r.st.phase = PhaseExtracting
}

// closeCandidate commits the pending batch for c. A candidate that
// yielded nothing is marked exhausted and excluded from later research.
// c must be the current candidate.
func (r *runner) closeCandidate(c model.Candidate) {
	if len(r.st.pending) > 0 {
		r.commitPending()
		return
	}
	r.st.registry.MarkExhausted()
	r.st.excluded = append(r.st.excluded, c.Locator)
}

func (r *runner) commitPending() {
	if len(r.st.pending) == 0 {
		return
	}
	r.st.accepted = append(r.st.accepted, r.st.pending...)
	r.st.successful++
	r.st.pending = nil
}

func (r *runner) setStatus(s model.RunStatus) {
	if r.status == nil || r.st.status == s {
		return
	}
	r.st.status = s
	if err := r.status.UpdateRunStatus(context.Background(), r.runID, s); err != nil {
		r.log.Warn("pipeline: failed to update status", zap.String("status", string(s)), zap.Error(err))
	}
}

// document renders the terminal state.
func (r *runner) document() model.RunDocument {
	records := make([]map[string]any, 0, len(r.st.accepted))
	for _, rec := range r.st.accepted {
		records = append(records, rec.Flat())
	}

	var rate float64
	if r.st.totalExtraction > 0 {
		rate = float64(len(r.st.accepted)) / float64(r.st.totalExtraction)
	}

	candidates := append([]model.Candidate(nil), r.st.superseded...)
	if r.st.registry != nil {
		candidates = append(candidates, r.st.registry.Snapshot()...)
	}

	return model.RunDocument{
		RunID:           r.runID,
		Query:           r.query,
		AcceptedRecords: records,
		Metadata: model.RunMetadata{
			CandidatesTried:         len(r.st.tried),
			TotalExtractionAttempts: r.st.totalExtraction,
			TotalResearchAttempts:   r.st.totalResearch,
			Success:                 r.st.successful >= r.cfg.TargetCandidates,
			Partial:                 r.st.partial,
			TargetCandidates:        r.cfg.TargetCandidates,
			SuccessfulCandidates:    r.st.successful,
			SuccessRate:             rate,
			Transitions:             r.st.transitions,
			TerminationReason:       r.st.reason,
			Candidates:              candidates,
			StartedAt:               r.st.startedAt,
			CompletedAt:             r.now().UTC(),
		},
	}
}
