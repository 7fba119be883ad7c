// Package repository is the Repository: the single point of contact
// with canonical Business storage. It owns merge rules and duplicate
// candidate search; callers never touch storage directly.
package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hoppy/ingest/internal/apperrors"
	"github.com/hoppy/ingest/internal/matching"
	"github.com/hoppy/ingest/internal/model"
)

// SearchCriteria filters a business search. Zero-value fields are
// unfiltered.
type SearchCriteria struct {
	Category string
	IsBar    *bool
	MinRating float64
	Limit    int
}

// Repository is the canonical Business store.
type Repository interface {
	FindByID(ctx context.Context, id uuid.UUID) (model.Business, error)
	FindBySource(ctx context.Context, source model.Source, sourceID string) (model.Business, bool, error)
	SearchByCriteria(ctx context.Context, criteria SearchCriteria) ([]model.Business, error)
	FindPotentialDuplicates(ctx context.Context, candidate model.StandardizedBusiness, radiusMeters float64) ([]DuplicateCandidate, error)
	Create(ctx context.Context, sb model.StandardizedBusiness) (model.Business, error)
	Update(ctx context.Context, b model.Business) (model.Business, error)
	UpdateStandardized(ctx context.Context, id uuid.UUID, sb model.StandardizedBusiness, confidence float64) (model.Business, error)
	Merge(ctx context.Context, existing model.Business, incoming model.StandardizedBusiness, confidence float64) (model.Business, MergeOutcome, error)
	SavePhoto(ctx context.Context, p model.Photo) (model.Photo, error)
	PhotosForBusiness(ctx context.Context, businessID uuid.UUID) ([]model.Photo, error)
	UpsertRawBusiness(ctx context.Context, raw model.RawBusiness) (model.RawBusiness, error)
	FindRawBusiness(ctx context.Context, source model.Source, sourceID string) (model.RawBusiness, bool, error)
}

// DuplicateCandidate pairs an existing Business with its similarity
// score against the business being considered.
type DuplicateCandidate struct {
	Business model.Business
	Score    matching.Score
}

// MergeOutcome records what a Merge actually changed, so the
// Deduplicator can count data-quality improvements.
type MergeOutcome struct {
	FieldsImproved  []string
	SourcesFolded   []model.Source
	ConfidenceAfter float64
}

// InMemory is a transactional-enough in-process Repository, good
// enough for tests and for a single-instance deployment. Everything is
// held in process memory only; nothing is written out, so the contents
// are lost when the process exits.
type InMemory struct {
	mu sync.RWMutex

	businesses map[uuid.UUID]model.Business
	bindings   map[string]model.SourceBinding // "SOURCE:sourceID" -> binding
	photos     map[uuid.UUID][]model.Photo
	rawBiz     map[string]model.RawBusiness // "SOURCE:sourceID" -> raw snapshot

	now func() time.Time
}

// New builds an empty InMemory repository.
func New() *InMemory {
	return &InMemory{
		businesses: make(map[uuid.UUID]model.Business),
		bindings:   make(map[string]model.SourceBinding),
		photos:     make(map[uuid.UUID][]model.Photo),
		rawBiz:     make(map[string]model.RawBusiness),
		now:        time.Now,
	}
}

func bindingKey(source model.Source, sourceID string) string {
	return string(source) + ":" + sourceID
}

func (r *InMemory) FindByID(ctx context.Context, id uuid.UUID) (model.Business, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.businesses[id]
	if !ok {
		return model.Business{}, apperrors.NewValidation("id", "business not found")
	}
	return b, nil
}

func (r *InMemory) FindBySource(ctx context.Context, source model.Source, sourceID string) (model.Business, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	binding, ok := r.bindings[bindingKey(source, sourceID)]
	if !ok {
		return model.Business{}, false, nil
	}
	b, ok := r.businesses[binding.BusinessID]
	return b, ok, nil
}

func (r *InMemory) SearchByCriteria(ctx context.Context, criteria SearchCriteria) ([]model.Business, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []model.Business
	for _, b := range r.businesses {
		if criteria.Category != "" && !containsCategory(b.Categories, criteria.Category) {
			continue
		}
		if criteria.IsBar != nil && b.IsBar != *criteria.IsBar {
			continue
		}
		if criteria.MinRating > 0 && b.Rating < criteria.MinRating {
			continue
		}
		matched = append(matched, b)
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].Rating > matched[j].Rating })

	if criteria.Limit > 0 && len(matched) > criteria.Limit {
		matched = matched[:criteria.Limit]
	}
	return matched, nil
}

func containsCategory(categories []string, want string) bool {
	for _, c := range categories {
		if c == want {
			return true
		}
	}
	return false
}

// FindPotentialDuplicates pre-filters with a bounding box, then scores
// every business inside it, returning candidates sorted by descending
// score.
func (r *InMemory) FindPotentialDuplicates(ctx context.Context, candidate model.StandardizedBusiness, radiusMeters float64) ([]DuplicateCandidate, error) {
	minLat, maxLat, minLng, maxLng := matching.BoundingBox(candidate.Latitude, candidate.Longitude, radiusMeters)

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]DuplicateCandidate, 0, 8)
	for _, b := range r.businesses {
		if b.Latitude < minLat || b.Latitude > maxLat || b.Longitude < minLng || b.Longitude > maxLng {
			continue
		}
		score := matching.Compute(
			matching.Candidate{
				NormalizedName:  candidate.NormalizedName,
				Latitude:        candidate.Latitude,
				Longitude:       candidate.Longitude,
				NormalizedPhone: candidate.NormalizedPhone,
				Domain:          candidate.Domain,
			},
			matching.Candidate{
				NormalizedName:  b.NormalizedName,
				Latitude:        b.Latitude,
				Longitude:       b.Longitude,
				NormalizedPhone: b.NormalizedPhone,
				Domain:          b.Domain,
			},
		)
		out = append(out, DuplicateCandidate{Business: b, Score: score})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Score.Overall > out[j].Score.Overall })
	return out, nil
}

func (r *InMemory) Create(ctx context.Context, sb model.StandardizedBusiness) (model.Business, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	b := model.Business{
		ID:              uuid.New(),
		DisplayName:     sb.DisplayName,
		NormalizedName:  sb.NormalizedName,
		Address:         sb.Address,
		NormalizedAddr:  sb.NormalizedAddr,
		Latitude:        sb.Latitude,
		Longitude:       sb.Longitude,
		Phone:           sb.Phone,
		NormalizedPhone: sb.NormalizedPhone,
		Website:         sb.Website,
		Domain:          sb.Domain,
		IsBar:           sb.IsBar,
		IsRestaurant:    sb.IsRestaurant,
		Categories:      sb.Categories,
		RatingGoogle:    sb.RatingGoogle,
		RatingYelp:      sb.RatingYelp,
		Rating:          sb.Rating,
		PriceLevel:      sb.PriceLevel,
		OperatingHours:  sb.OperatingHours,
		Confidence:      1.0,
		LastAnalyzed:    now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	r.applySourceID(&b, sb.Source, sb.SourceID)
	r.businesses[b.ID] = b
	r.bindings[bindingKey(sb.Source, sb.SourceID)] = model.SourceBinding{
		Source: sb.Source, SourceID: sb.SourceID, BusinessID: b.ID, LastFetched: now,
	}
	return b, nil
}

func (r *InMemory) Update(ctx context.Context, b model.Business) (model.Business, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.businesses[b.ID]; !ok {
		return model.Business{}, apperrors.NewValidation("id", "business not found")
	}
	b.UpdatedAt = r.now()
	r.businesses[b.ID] = b
	return b, nil
}

// UpdateStandardized overwrites id's mutable fields from a freshly
// standardized record — used for a refetch of an already-known source
// and for a moderate-confidence match that isn't worth a full merge.
// Confidence never downgrades: an update only raises it. The
// SourceBinding for sb's (source, sourceId) is upserted to point at
// id, same as Create/Merge do.
func (r *InMemory) UpdateStandardized(ctx context.Context, id uuid.UUID, sb model.StandardizedBusiness, confidence float64) (model.Business, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.businesses[id]
	if !ok {
		return model.Business{}, apperrors.NewValidation("id", "business not found")
	}

	b.DisplayName = sb.DisplayName
	b.NormalizedName = sb.NormalizedName
	b.Address = sb.Address
	b.NormalizedAddr = sb.NormalizedAddr
	b.Latitude = sb.Latitude
	b.Longitude = sb.Longitude
	b.Phone = sb.Phone
	b.NormalizedPhone = sb.NormalizedPhone
	b.Website = sb.Website
	b.Domain = sb.Domain
	b.IsBar = sb.IsBar
	b.IsRestaurant = sb.IsRestaurant
	b.Categories = sb.Categories
	b.PriceLevel = sb.PriceLevel
	b.OperatingHours = sb.OperatingHours

	switch sb.Source {
	case model.SourceGoogle:
		b.RatingGoogle = ratingOf(sb)
	case model.SourceYelp:
		b.RatingYelp = ratingOf(sb)
	}
	b.Rating = combinedRating(b.RatingGoogle, b.RatingYelp)

	if confidence > b.Confidence {
		b.Confidence = confidence
	}

	r.applySourceID(&b, sb.Source, sb.SourceID)
	now := r.now()
	b.UpdatedAt = now
	b.LastAnalyzed = now
	r.businesses[b.ID] = b
	r.bindings[bindingKey(sb.Source, sb.SourceID)] = model.SourceBinding{
		Source: sb.Source, SourceID: sb.SourceID, BusinessID: b.ID, LastFetched: now,
	}
	return b, nil
}

// Merge folds an incoming standardized record into an existing
// Business per the intelligent-merge rules: name keeps whichever is
// longer; coordinates and address always adopt the incoming value
// (latest wins); phone/website keep the existing value if already
// populated; operating hours take the incoming value whenever it's
// non-empty; price level takes the incoming value whenever it's set;
// categories union then sort; per-source ratings are set from
// whichever source incoming came from, and the overall rating is
// recomputed as the mean of whatever per-source ratings are present.
// Confidence is set directly to the decision's confidence — a merge
// never accumulates or boosts it.
func (r *InMemory) Merge(ctx context.Context, existing model.Business, incoming model.StandardizedBusiness, confidence float64) (model.Business, MergeOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	outcome := MergeOutcome{SourcesFolded: []model.Source{incoming.Source}}

	if len(incoming.DisplayName) > len(existing.DisplayName) {
		existing.DisplayName = incoming.DisplayName
		existing.NormalizedName = incoming.NormalizedName
		outcome.FieldsImproved = append(outcome.FieldsImproved, "name")
	}

	existing.Latitude = incoming.Latitude
	existing.Longitude = incoming.Longitude
	existing.Address = incoming.Address
	existing.NormalizedAddr = incoming.NormalizedAddr

	if existing.Website == "" && incoming.Website != "" {
		existing.Website = incoming.Website
		existing.Domain = incoming.Domain
		outcome.FieldsImproved = append(outcome.FieldsImproved, "website")
	}
	if existing.Phone == "" && incoming.Phone != "" {
		existing.Phone = incoming.Phone
		existing.NormalizedPhone = incoming.NormalizedPhone
		outcome.FieldsImproved = append(outcome.FieldsImproved, "phone")
	}
	if len(incoming.OperatingHours) > 0 {
		if len(existing.OperatingHours) == 0 {
			outcome.FieldsImproved = append(outcome.FieldsImproved, "operatingHours")
		}
		existing.OperatingHours = incoming.OperatingHours
	}
	if incoming.PriceLevel != 0 {
		if existing.PriceLevel == 0 {
			outcome.FieldsImproved = append(outcome.FieldsImproved, "priceLevel")
		}
		existing.PriceLevel = incoming.PriceLevel
	}
	existing.Categories = mergeCategories(existing.Categories, incoming.Categories)
	sort.Strings(existing.Categories)

	switch incoming.Source {
	case model.SourceGoogle:
		existing.RatingGoogle = ratingOf(incoming)
	case model.SourceYelp:
		existing.RatingYelp = ratingOf(incoming)
	}
	existing.Rating = combinedRating(existing.RatingGoogle, existing.RatingYelp)

	existing.Confidence = confidence
	outcome.ConfidenceAfter = confidence

	r.applySourceID(&existing, incoming.Source, incoming.SourceID)
	now := r.now()
	existing.UpdatedAt = now
	existing.LastAnalyzed = now
	r.businesses[existing.ID] = existing
	r.bindings[bindingKey(incoming.Source, incoming.SourceID)] = model.SourceBinding{
		Source: incoming.Source, SourceID: incoming.SourceID, BusinessID: existing.ID, LastFetched: now,
	}

	return existing, outcome, nil
}

// applySourceID keeps the denormalized GoogleID/YelpID read columns in
// sync with the authoritative SourceBinding set in the same call.
func (r *InMemory) applySourceID(b *model.Business, source model.Source, sourceID string) {
	switch source {
	case model.SourceGoogle:
		b.GoogleID = sourceID
	case model.SourceYelp:
		b.YelpID = sourceID
	}
}

func ratingOf(sb model.StandardizedBusiness) *float64 {
	v := sb.Rating
	return &v
}

func combinedRating(google, yelp *float64) float64 {
	switch {
	case google != nil && yelp != nil:
		return (*google + *yelp) / 2
	case google != nil:
		return *google
	case yelp != nil:
		return *yelp
	default:
		return 0
	}
}

func mergeCategories(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing))
	out := make([]string, 0, len(existing)+len(incoming))
	for _, c := range existing {
		if _, ok := seen[c]; !ok {
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	for _, c := range incoming {
		if _, ok := seen[c]; !ok {
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

func (r *InMemory) SavePhoto(ctx context.Context, p model.Photo) (model.Photo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.LastProcessed = r.now()
	existing := r.photos[p.BusinessID]
	for i, ph := range existing {
		if ph.ID == p.ID {
			existing[i] = p
			r.photos[p.BusinessID] = existing
			return p, nil
		}
	}
	r.photos[p.BusinessID] = append(existing, p)
	return p, nil
}

func (r *InMemory) PhotosForBusiness(ctx context.Context, businessID uuid.UUID) ([]model.Photo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Photo, len(r.photos[businessID]))
	copy(out, r.photos[businessID])
	return out, nil
}

// UpsertRawBusiness records a fetch from an upstream source. First
// fetch sets both timestamps; a refetch of an already-known
// (source, sourceId) keeps FirstSeenAt and bumps only LastFetchedAt
// and the document — the Raw Collector never mutates a snapshot's
// birth time.
func (r *InMemory) UpsertRawBusiness(ctx context.Context, raw model.RawBusiness) (model.RawBusiness, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := bindingKey(raw.Source, raw.SourceID)
	now := r.now()
	if existing, ok := r.rawBiz[key]; ok {
		raw.ID = existing.ID
		raw.FirstSeenAt = existing.FirstSeenAt
	} else {
		if raw.ID == uuid.Nil {
			raw.ID = uuid.New()
		}
		raw.FirstSeenAt = now
	}
	raw.LastFetchedAt = now
	r.rawBiz[key] = raw
	return raw, nil
}

func (r *InMemory) FindRawBusiness(ctx context.Context, source model.Source, sourceID string) (model.RawBusiness, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	raw, ok := r.rawBiz[bindingKey(source, sourceID)]
	return raw, ok, nil
}
