// Package validate checks extracted records against the schema, the query
// and the legitimacy of their source, and turns failures into feedback.
package validate

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/product-scout/internal/model"
	"github.com/sells-group/product-scout/internal/schema"
)

// DefaultNameMatchThreshold is the share of query tokens a product name
// must contain.
const DefaultNameMatchThreshold = 0.6

// IssueNoRecords is the issue raised for an empty batch.
const IssueNoRecords = "no records extracted"

// DefaultExcludedDomains are price comparison and aggregator sites. Records
// sourced from them are never accepted.
var DefaultExcludedDomains = []string{
	"google.com",
	"pricerunner.com",
	"pricespy.co.uk",
	"pricegrabber.com",
	"shopzilla.com",
	"bizrate.com",
	"idealo.com",
	"idealo.co.uk",
	"idealo.de",
	"kelkoo.com",
	"camelcamelcamel.com",
	"pricecharting.com",
	"shopsavvy.com",
	"getprice.com.au",
}

// Options tunes a Step.
type Options struct {
	NameMatchThreshold float64
	ExcludedDomains    []string
	// BrandTokens are ignored when comparing names, so "Acme Widget Pro"
	// matches a page titled "Widget Pro".
	BrandTokens []string
	// Legitimacy, when set, is asked about every distinct source that
	// passes the domain check.
	Legitimacy LegitimacyChecker
}

// QueryContext is what records are validated against.
type QueryContext struct {
	Query     string
	Candidate model.Candidate
}

// failure classes, in check order.
type failureClass int

const (
	classSchema failureClass = iota
	classLegitimacy
	classRelevance
)

// bucket weights: schema failures point at extraction, legitimacy and
// relevance failures at research.
var classWeight = map[failureClass]float64{
	classSchema:     1,
	classLegitimacy: 1,
	classRelevance:  1,
}

// Step validates batches of records for one run.
type Step struct {
	schema   *schema.Schema
	opts     Options
	excluded []string
}

// New returns a Step for sch.
func New(sch *schema.Schema, opts Options) *Step {
	if opts.NameMatchThreshold <= 0 || opts.NameMatchThreshold > 1 {
		opts.NameMatchThreshold = DefaultNameMatchThreshold
	}
	if opts.ExcludedDomains == nil {
		opts.ExcludedDomains = DefaultExcludedDomains
	}
	excluded := make([]string, 0, len(opts.ExcludedDomains))
	for _, d := range opts.ExcludedDomains {
		d = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "www."))
		if d != "" {
			excluded = append(excluded, d)
		}
	}
	return &Step{schema: sch, opts: opts, excluded: excluded}
}

// tally collects distinct failures across a batch.
type tally struct {
	weights        map[failureClass]float64
	schemaFields   map[string]map[string]int // field -> reason -> count
	badDomains     map[string]int
	checkerReasons map[string]int
	irrelevant     int
	sampleNames    []string
}

func newTally() *tally {
	return &tally{
		weights:        make(map[failureClass]float64),
		schemaFields:   make(map[string]map[string]int),
		badDomains:     make(map[string]int),
		checkerReasons: make(map[string]int),
	}
}

// Validate checks records in order. A record is accepted when it passes
// the schema, comes from a legitimate source and matches the query.
func (s *Step) Validate(ctx context.Context, records []model.ExtractedRecord, qc QueryContext) model.ValidationOutcome {
	if len(records) == 0 {
		return model.ValidationOutcome{Feedback: s.noRecordsFeedback(qc)}
	}

	m := newMatcher(qc.Query, s.opts.BrandTokens, s.opts.NameMatchThreshold)
	t := newTally()
	var out model.ValidationOutcome

	for _, r := range records {
		if vs := s.schema.Check(r.Fields()); len(vs) > 0 {
			t.weights[classSchema] += classWeight[classSchema]
			for _, v := range vs {
				if t.schemaFields[v.Field] == nil {
					t.schemaFields[v.Field] = make(map[string]int)
				}
				t.schemaFields[v.Field][v.Reason]++
			}
			out.RejectedCount++
			continue
		}

		source := s.sourceOf(r, qc.Candidate)
		if reason, ok := s.legitimate(ctx, source, r.StringField(s.schema.NameField())); !ok {
			t.weights[classLegitimacy] += classWeight[classLegitimacy]
			if reason == "" {
				t.badDomains[model.LocatorDomain(source)]++
			} else {
				t.checkerReasons[reason]++
			}
			out.RejectedCount++
			continue
		}

		name := r.StringField(s.schema.NameField())
		if !m.matches(name) {
			t.weights[classRelevance] += classWeight[classRelevance]
			t.irrelevant++
			if len(t.sampleNames) < 3 {
				t.sampleNames = append(t.sampleNames, name)
			}
			out.RejectedCount++
			out.RelevanceRejected++
			continue
		}

		out.Accepted = append(out.Accepted, r)
	}

	if out.RejectedCount > 0 {
		out.Feedback = s.feedback(t, qc, len(records))
	}
	return out
}

// sourceOf returns the record's page URL, falling back to the candidate
// locator when the schema has no source field or the record left it blank.
func (s *Step) sourceOf(r model.ExtractedRecord, c model.Candidate) string {
	if f := s.schema.SourceField(); f != "" {
		if v := strings.TrimSpace(r.StringField(f)); v != "" {
			return v
		}
	}
	return c.Locator
}

// legitimate reports whether source may supply records. A non-empty reason
// comes from the external checker; an empty one means an excluded domain.
func (s *Step) legitimate(ctx context.Context, source, productName string) (string, bool) {
	domain := model.LocatorDomain(source)
	for _, ex := range s.excluded {
		if domain == ex || strings.HasSuffix(domain, "."+ex) {
			return "", false
		}
	}
	if s.opts.Legitimacy == nil || source == "" {
		return "", true
	}
	v, err := s.opts.Legitimacy.CheckSource(ctx, source, productName)
	if err != nil {
		zap.L().Warn("validate: legitimacy check failed, treating source as legitimate",
			zap.String("source", source), zap.Error(err))
		return "", true
	}
	if !v.Legitimate() {
		return v.Reason(), false
	}
	return "", true
}

// target picks the capability whose fix is plausible. A bucket holding
// more than half of the weighted failures wins; an even split is both.
func target(weights map[failureClass]float64) model.FeedbackTarget {
	extraction := weights[classSchema]
	research := weights[classLegitimacy] + weights[classRelevance]
	switch {
	case extraction > research:
		return model.TargetExtraction
	case research > extraction:
		return model.TargetResearch
	default:
		return model.TargetBoth
	}
}

func (s *Step) feedback(t *tally, qc QueryContext, total int) *model.Feedback {
	fb := &model.Feedback{
		Target:          target(t.weights),
		Recommendations: make(map[model.FeedbackTarget][]string),
	}
	addRec := func(to model.FeedbackTarget, rec string) {
		if !slices.Contains(fb.Recommendations[to], rec) {
			fb.Recommendations[to] = append(fb.Recommendations[to], rec)
		}
	}

	for _, f := range s.schema.Fields() {
		reasons, ok := t.schemaFields[f.Name]
		if !ok {
			continue
		}
		for _, reason := range sortedKeys(reasons) {
			switch reason {
			case "missing":
				fb.Issues = append(fb.Issues, fmt.Sprintf("required field %q missing in %d of %d records", f.Name, reasons[reason], total))
			default:
				fb.Issues = append(fb.Issues, fmt.Sprintf("field %q is not a valid %s in %d of %d records", f.Name, f.Kind, reasons[reason], total))
			}
		}
		rec := fmt.Sprintf("extract %q for every product as a %s value", f.Name, f.Kind)
		if f.Description != "" {
			rec += " (" + f.Description + ")"
		}
		addRec(model.TargetExtraction, rec)
	}

	if len(t.badDomains) > 0 {
		domains := sortedKeys(t.badDomains)
		fb.Issues = append(fb.Issues, "source is a comparison or aggregator site, not a vendor: "+strings.Join(domains, ", "))
		addRec(model.TargetResearch, "find pages on retailers that sell the product directly; avoid "+strings.Join(domains, ", "))
	}
	for _, reason := range sortedKeys(t.checkerReasons) {
		fb.Issues = append(fb.Issues, "source is not a legitimate vendor page: "+reason)
		addRec(model.TargetResearch, "find product pages where the item can be bought, not listings, reviews or comparison pages")
	}

	if t.irrelevant > 0 {
		issue := fmt.Sprintf("%d of %d records do not match %q", t.irrelevant, total, qc.Query)
		if len(t.sampleNames) > 0 {
			issue += " (e.g. " + strings.Join(quoted(t.sampleNames), ", ") + ")"
		}
		fb.Issues = append(fb.Issues, issue)
		addRec(model.TargetExtraction, fmt.Sprintf("only extract products whose name matches %q; skip accessories and related items", qc.Query))
		addRec(model.TargetResearch, fmt.Sprintf("find pages that sell %q itself, not similar products", qc.Query))
	}

	// Both capabilities always get something to act on.
	if len(fb.Recommendations[model.TargetExtraction]) == 0 {
		addRec(model.TargetExtraction, fmt.Sprintf("extract only the %q product details shown on the page", qc.Query))
	}
	if len(fb.Recommendations[model.TargetResearch]) == 0 {
		addRec(model.TargetResearch, fmt.Sprintf("find a different retailer page for %q", qc.Query))
	}
	return fb
}

func (s *Step) noRecordsFeedback(qc QueryContext) *model.Feedback {
	return &model.Feedback{
		Issues: []string{IssueNoRecords},
		Target: model.TargetExtraction,
		Recommendations: map[model.FeedbackTarget][]string{
			model.TargetExtraction: {
				fmt.Sprintf("locate the product listing for %q on the page and extract every matching product", qc.Query),
				"dismiss popups or cookie banners and wait for the content to load before extracting",
			},
			model.TargetResearch: {
				fmt.Sprintf("find a retailer page that lists %q directly", qc.Query),
			},
		},
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func quoted(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = fmt.Sprintf("%q", s)
	}
	return out
}
