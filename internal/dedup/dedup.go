// Package dedup is the Deduplicator: a fixed, deterministic decision
// procedure over the Repository's candidate scores. Thresholds are
// compile-time constants, not a configurable rule table — the
// decision a given pair of records yields must never depend on
// mutable state.
package dedup

import (
	"context"
	"math"

	"github.com/hoppy/ingest/internal/matching"
	"github.com/hoppy/ingest/internal/model"
	"github.com/hoppy/ingest/internal/repository"
)

// Confidence thresholds the decision procedure is built around.
const (
	HighConfidence = 0.90
	LowConfidence  = 0.70

	duplicateSearchRadiusMeters = 200

	// tieEpsilon bounds how close two candidates' confidences have to
	// be before they're treated as tied and broken by distance, then
	// by id, rather than by whichever happened to sort first.
	tieEpsilon = 1e-6
)

// Decision is the outcome of evaluating one incoming standardized
// record against the Repository's existing businesses. The three
// values are the spec's full action vocabulary — there is no
// manual-review state; every record resolves deterministically.
type Decision string

const (
	// DecisionCreate: no existing SourceBinding and no candidate
	// cleared the match-decision table — insert a new Business.
	DecisionCreate Decision = "created"
	// DecisionUpdate: either a refetch of an already-known
	// (source, sourceId) pair, or a match in [LowConfidence,
	// HighConfidence) that didn't supply enough new data to be worth
	// a full merge — overwrite the existing Business in place.
	DecisionUpdate Decision = "updated"
	// DecisionMerge: a match at or above HighConfidence, or a match in
	// [LowConfidence, HighConfidence) that supplies at least two new
	// data-quality signals — fold into the existing Business.
	DecisionMerge Decision = "merged"
)

// Result is the full decision plus the evidence behind it.
type Result struct {
	Decision   Decision
	MatchedID  *model.Business
	Score      float64
	Confidence float64
	Candidates []repository.DuplicateCandidate
}

// Deduplicator evaluates incoming standardized records against the
// Repository.
type Deduplicator struct {
	repo repository.Repository
}

// New builds a Deduplicator over repo.
func New(repo repository.Repository) *Deduplicator {
	return &Deduplicator{repo: repo}
}

// Evaluate runs the decision procedure for one standardized record.
func (d *Deduplicator) Evaluate(ctx context.Context, sb model.StandardizedBusiness) (Result, error) {
	// Step 1: a refetch of a source we already track updates that
	// Business directly — it is never a candidate for matching against
	// some other Business.
	if existing, ok, err := d.repo.FindBySource(ctx, sb.Source, sb.SourceID); err != nil {
		return Result{}, err
	} else if ok {
		matched := existing
		return Result{Decision: DecisionUpdate, MatchedID: &matched, Confidence: 1.0}, nil
	}

	candidates, err := d.repo.FindPotentialDuplicates(ctx, sb, duplicateSearchRadiusMeters)
	if err != nil {
		return Result{}, err
	}
	if len(candidates) == 0 {
		return Result{Decision: DecisionCreate, Confidence: 1.0, Candidates: candidates}, nil
	}

	best := selectBestCandidate(candidates)
	isMatch, confidence := matching.MatchDecision(best.Score)

	if !isMatch {
		return Result{Decision: DecisionCreate, Score: best.Score.Overall, Confidence: 1.0, Candidates: candidates}, nil
	}

	matched := best.Business

	if confidence >= HighConfidence {
		return Result{Decision: DecisionMerge, MatchedID: &matched, Score: best.Score.Overall, Confidence: confidence, Candidates: candidates}, nil
	}

	// LowConfidence <= confidence < HighConfidence: the match is real
	// but not certain enough to fold in blind. Only do so if the
	// incoming record actually brings new data worth recording.
	if countImprovements(matched, sb) >= 2 {
		return Result{Decision: DecisionMerge, MatchedID: &matched, Score: best.Score.Overall, Confidence: confidence, Candidates: candidates}, nil
	}
	return Result{Decision: DecisionUpdate, MatchedID: &matched, Score: best.Score.Overall, Confidence: confidence, Candidates: candidates}, nil
}

// selectBestCandidate picks the candidate with the highest match
// confidence. Candidates within tieEpsilon of each other are tied;
// ties break by smaller distance to the incoming record, then by
// smallest business id.
func selectBestCandidate(candidates []repository.DuplicateCandidate) repository.DuplicateCandidate {
	best := candidates[0]
	_, bestConfidence := matching.MatchDecision(best.Score)

	for _, c := range candidates[1:] {
		_, confidence := matching.MatchDecision(c.Score)
		switch {
		case confidence > bestConfidence+tieEpsilon:
			best, bestConfidence = c, confidence
		case math.Abs(confidence-bestConfidence) <= tieEpsilon:
			if c.Score.DistanceM < best.Score.DistanceM ||
				(c.Score.DistanceM == best.Score.DistanceM && c.Business.ID.String() < best.Business.ID.String()) {
				best, bestConfidence = c, confidence
			}
		}
	}
	return best
}

// countImprovements counts how many data-quality signals incoming
// supplies that existing did not already have. The [LowConfidence,
// HighConfidence) band uses this count to decide whether a match is
// worth a full merge (>= 2) or just an update.
func countImprovements(existing model.Business, incoming model.StandardizedBusiness) int {
	n := 0
	if existing.Phone == "" && incoming.Phone != "" {
		n++
	}
	if existing.Website == "" && incoming.Website != "" {
		n++
	}
	if len(existing.OperatingHours) == 0 && len(incoming.OperatingHours) > 0 {
		n++
	}
	if hasNewCategory(existing.Categories, incoming.Categories) {
		n++
	}
	switch incoming.Source {
	case model.SourceGoogle:
		if existing.RatingGoogle == nil {
			n++
		}
	case model.SourceYelp:
		if existing.RatingYelp == nil {
			n++
		}
	}
	if existing.PriceLevel == 0 && incoming.PriceLevel != 0 {
		n++
	}
	return n
}

func hasNewCategory(existing, incoming []string) bool {
	seen := make(map[string]struct{}, len(existing))
	for _, c := range existing {
		seen[c] = struct{}{}
	}
	for _, c := range incoming {
		if _, ok := seen[c]; !ok {
			return true
		}
	}
	return false
}

// Apply executes the decision against the Repository.
func (d *Deduplicator) Apply(ctx context.Context, sb model.StandardizedBusiness, result Result) (model.Business, bool, error) {
	switch result.Decision {
	case DecisionCreate:
		b, err := d.repo.Create(ctx, sb)
		return b, false, err
	case DecisionUpdate:
		b, err := d.repo.UpdateStandardized(ctx, result.MatchedID.ID, sb, result.Confidence)
		return b, false, err
	case DecisionMerge:
		merged, _, err := d.repo.Merge(ctx, *result.MatchedID, sb, result.Confidence)
		return merged, true, err
	default:
		return model.Business{}, false, nil
	}
}

// ScoreCandidate is exposed for callers (e.g. the review API) that
// need to recompute a single pairwise score without a full
// FindPotentialDuplicates sweep.
func ScoreCandidate(a, b matching.Candidate) matching.Score {
	return matching.Compute(a, b)
}
