package dedup_test

import (
	"context"
	"testing"

	"github.com/hoppy/ingest/internal/dedup"
	"github.com/hoppy/ingest/internal/model"
	"github.com/hoppy/ingest/internal/repository"
)

func baseBusiness(source model.Source, sourceID string) model.StandardizedBusiness {
	return model.StandardizedBusiness{
		DisplayName:    "The Tipsy Anchor",
		NormalizedName: "the tipsy anchor",
		Latitude:       40.7128,
		Longitude:      -74.0060,
		Source:         source,
		SourceID:       sourceID,
		Categories:     []string{"bar"},
		IsBar:          true,
		Rating:         4.3,
	}
}

func TestEvaluateCreatesWhenNoCandidates(t *testing.T) {
	repo := repository.New()
	d := dedup.New(repo)

	result, err := d.Evaluate(context.Background(), baseBusiness(model.SourceGoogle, "g-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Decision != dedup.DecisionCreate {
		t.Fatalf("expected DecisionCreate with no existing businesses, got %s", result.Decision)
	}
}

func TestEvaluateMergesOnHighConfidenceMatch(t *testing.T) {
	repo := repository.New()
	ctx := context.Background()

	if _, err := repo.Create(ctx, baseBusiness(model.SourceGoogle, "g-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d := dedup.New(repo)
	result, err := d.Evaluate(ctx, baseBusiness(model.SourceYelp, "y-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Decision != dedup.DecisionMerge {
		t.Fatalf("expected DecisionMerge for a near-identical record, got %s (score %f)", result.Decision, result.Score)
	}
}

// moderateMatchCandidate builds an incoming record close enough in
// name and location to the g-1 baseBusiness fixture to land its match
// confidence in [LowConfidence, HighConfidence) — name similarity
// ~0.72, location ~4m away — without tripping the name+location or
// phone/domain high-confidence rules.
func moderateMatchCandidate() model.StandardizedBusiness {
	incoming := baseBusiness(model.SourceYelp, "y-1")
	incoming.DisplayName = "Tipsy Anchor"
	incoming.NormalizedName = "tipsy anchor"
	incoming.Latitude = 40.71283
	incoming.Longitude = -74.00597
	return incoming
}

func TestEvaluateMergesModerateMatchWithEnoughImprovements(t *testing.T) {
	repo := repository.New()
	ctx := context.Background()

	if _, err := repo.Create(ctx, baseBusiness(model.SourceGoogle, "g-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Brings three new data-quality signals (phone, website, a Yelp
	// rating the business didn't have) — enough to justify a merge
	// even though the match confidence alone isn't high enough to
	// merge on its own.
	incoming := moderateMatchCandidate()
	incoming.Phone = "+12125551234"
	incoming.NormalizedPhone = "+12125551234"
	incoming.Website = "https://tipsyanchor.com"
	incoming.Domain = "tipsyanchor.com"

	d := dedup.New(repo)
	result, err := d.Evaluate(ctx, incoming)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Decision != dedup.DecisionMerge {
		t.Fatalf("expected enough new data to trigger a merge, got %s (confidence %f)", result.Decision, result.Confidence)
	}
	if result.Confidence < dedup.LowConfidence || result.Confidence >= dedup.HighConfidence {
		t.Fatalf("expected a moderate-band confidence, got %f", result.Confidence)
	}
}

func TestEvaluateUpdatesModerateMatchWithoutEnoughImprovements(t *testing.T) {
	repo := repository.New()
	ctx := context.Background()

	if _, err := repo.Create(ctx, baseBusiness(model.SourceGoogle, "g-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Only a new per-source rating — a single new signal, not enough
	// to justify a merge.
	incoming := moderateMatchCandidate()

	d := dedup.New(repo)
	result, err := d.Evaluate(ctx, incoming)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Decision != dedup.DecisionUpdate {
		t.Fatalf("expected too few new signals to fall back to an update, got %s (confidence %f)", result.Decision, result.Confidence)
	}
}

func TestEvaluateUpdatesOnSourceRefetch(t *testing.T) {
	repo := repository.New()
	ctx := context.Background()

	created, err := repo.Create(ctx, baseBusiness(model.SourceGoogle, "g-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d := dedup.New(repo)
	refetch := baseBusiness(model.SourceGoogle, "g-1")
	refetch.DisplayName = "The Tipsy Anchor (Updated)"
	refetch.NormalizedName = "the tipsy anchor updated"

	result, err := d.Evaluate(ctx, refetch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Decision != dedup.DecisionUpdate {
		t.Fatalf("expected a refetch of a known source to update, got %s", result.Decision)
	}
	if result.Confidence != 1.0 {
		t.Fatalf("expected a source refetch to always update at full confidence, got %f", result.Confidence)
	}
	if result.MatchedID == nil || result.MatchedID.ID != created.ID {
		t.Fatalf("expected the refetch to target the business its SourceBinding already points at")
	}
}

func TestApplyCreatePersistsNewBusiness(t *testing.T) {
	repo := repository.New()
	ctx := context.Background()
	d := dedup.New(repo)

	sb := baseBusiness(model.SourceGoogle, "g-1")
	result, err := d.Evaluate(ctx, sb)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	business, merged, err := d.Apply(ctx, sb, result)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if merged {
		t.Fatalf("expected merged=false for a create decision")
	}
	if business.ID == (business.ID) && business.DisplayName != sb.DisplayName {
		t.Fatalf("expected created business to carry the standardized name")
	}
}

func TestApplyMergeFoldsIntoExisting(t *testing.T) {
	repo := repository.New()
	ctx := context.Background()
	d := dedup.New(repo)

	created, err := repo.Create(ctx, baseBusiness(model.SourceGoogle, "g-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	incoming := baseBusiness(model.SourceYelp, "y-1")
	result, err := d.Evaluate(ctx, incoming)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Decision != dedup.DecisionMerge {
		t.Fatalf("expected a merge decision, got %s", result.Decision)
	}

	merged, wasMerge, err := d.Apply(ctx, incoming, result)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !wasMerge {
		t.Fatalf("expected wasMerge=true")
	}
	if merged.ID != created.ID {
		t.Fatalf("expected the merge target to be the original business")
	}
}
