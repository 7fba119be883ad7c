// Package photos is the Photo Processor: it downloads candidate
// images, resizes them through the storage gateway, and assigns a
// main photo per business. Downloads and uploads fan out with
// errgroup the way the imaging service's Service.processJob uploads
// derivatives concurrently, bounded by a semaphore.
package photos

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hoppy/ingest/internal/apperrors"
	"github.com/hoppy/ingest/internal/costcontrol"
	"github.com/hoppy/ingest/internal/eventbus"
	"github.com/hoppy/ingest/internal/model"
	"github.com/hoppy/ingest/internal/storage"
)

const (
	maxCandidatesPerBusiness = 8
	maxPhotoBytes            = 10 * 1024 * 1024
	downloadTimeout          = 15 * time.Second
	interPhotoDelay          = 250 * time.Millisecond
	maxConcurrentDownloads   = 4
)

// Candidate is a single external photo reference discovered during
// standardization, before it has been downloaded or stored.
type Candidate struct {
	Source      model.Source
	SourceID    string
	ExternalURL string
	Width       int
	Height      int
}

// Downloader fetches photo bytes given a URL. Swappable for tests.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, string, error) // bytes, content-type, err
}

// HTTPDownloader fetches over real HTTP, capped at maxPhotoBytes.
type HTTPDownloader struct {
	Client *http.Client
}

func (d HTTPDownloader) Download(ctx context.Context, url string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", apperrors.NewUpstream("photo_download", err.Error(), true)
	}

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", apperrors.NewUpstream("photo_download", err.Error(), false)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, "", apperrors.NewUpstream("photo_download", fmt.Sprintf("status %d", resp.StatusCode), resp.StatusCode < 500)
	}

	limited := io.LimitReader(resp.Body, maxPhotoBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, "", apperrors.NewUpstream("photo_download", err.Error(), false)
	}
	if len(data) > maxPhotoBytes {
		return nil, "", apperrors.NewValidation("photo", "source image exceeds maximum allowed size")
	}

	return data, resp.Header.Get("Content-Type"), nil
}

// SavePhoto persists a Photo row; implemented by the Repository.
type SavePhoto func(ctx context.Context, p model.Photo) (model.Photo, error)

// Processor is the Photo Processor.
type Processor struct {
	gateway    *storage.Gateway
	downloader Downloader
	savePhoto  SavePhoto
	bus        *eventbus.Bus
	cost       *costcontrol.Controller
	logger     zerolog.Logger
}

// New builds a Processor. cost is consulted up front so a business
// ingested while the Cost Controller is in emergency mode skips photo
// work entirely rather than downloading images it can never store.
func New(gateway *storage.Gateway, downloader Downloader, savePhoto SavePhoto, bus *eventbus.Bus, cost *costcontrol.Controller, logger zerolog.Logger) *Processor {
	return &Processor{
		gateway:    gateway,
		downloader: downloader,
		savePhoto:  savePhoto,
		bus:        bus,
		cost:       cost,
		logger:     logger.With().Str("component", "photos").Logger(),
	}
}

// ProcessBusiness downloads, resizes, and stores photos for one
// business's candidate list, assigns exactly one main photo, and
// publishes photos.processed once at least one Photo row is
// persisted. Candidates beyond maxCandidatesPerBusiness (sorted by
// descending resolution) are skipped.
func (p *Processor) ProcessBusiness(ctx context.Context, businessID uuid.UUID, candidates []Candidate) ([]model.Photo, error) {
	if p.cost != nil && p.cost.IsEmergencyMode() {
		p.logger.Warn().Str("businessId", businessID.String()).Msg("skipping photo processing: cost controller in emergency mode")
		return nil, nil
	}

	candidates = sortByResolution(candidates)
	if len(candidates) > maxCandidatesPerBusiness {
		p.logger.Info().Str("businessId", businessID.String()).Int("dropped", len(candidates)-maxCandidatesPerBusiness).Msg("dropping excess photo candidates")
		candidates = candidates[:maxCandidatesPerBusiness]
	}

	photos := make([]model.Photo, len(candidates))
	errored := make([]bool, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, maxConcurrentDownloads)

	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-sem }()

			time.Sleep(interPhotoDelay * time.Duration(i%maxConcurrentDownloads))

			photo, err := p.processOne(gctx, businessID, c)
			if err != nil {
				p.logger.Warn().Str("businessId", businessID.String()).Str("url", c.ExternalURL).Err(err).Msg("photo processing failed for one candidate")
				errored[i] = true
				return nil // isolate per-candidate failures, don't cancel siblings
			}
			photos[i] = photo
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var saved []model.Photo
	for i, ph := range photos {
		if errored[i] {
			continue
		}
		saved = append(saved, ph)
	}
	if len(saved) == 0 {
		return nil, nil
	}

	assignMainPhoto(saved)

	persisted := make([]model.Photo, 0, len(saved))
	for _, ph := range saved {
		stored, err := p.savePhoto(ctx, ph)
		if err != nil {
			p.logger.Error().Err(err).Msg("failed to persist photo")
			continue
		}
		persisted = append(persisted, stored)
	}

	if len(persisted) > 0 {
		p.bus.Publish(ctx, eventbus.Event{Name: eventbus.EventPhotosProcessed, Payload: persisted})
	}

	return persisted, nil
}

func (p *Processor) processOne(ctx context.Context, businessID uuid.UUID, c Candidate) (model.Photo, error) {
	data, _, err := p.downloader.Download(ctx, c.ExternalURL)
	if err != nil {
		return model.Photo{}, err
	}

	keyPrefix := fmt.Sprintf("businesses/%s/%s", businessID.String(), uuid.New().String())
	result, err := p.gateway.UploadAllVariants(ctx, keyPrefix, data)

	photo := model.Photo{
		ID:            uuid.New(),
		BusinessID:    businessID,
		Source:        c.Source,
		SourceID:      c.SourceID,
		Width:         c.Width,
		Height:        c.Height,
		ExternalURL:   c.ExternalURL,
		Format:        "jpeg",
		FileSize:      int64(len(data)),
		LastProcessed: time.Now(),
	}

	if err != nil {
		var budgetErr *apperrors.BudgetDenialError
		if !errors.As(err, &budgetErr) {
			return model.Photo{}, err
		}
		// Budget denied even the essentials fallback — keep the photo
		// row pointing at the external URL only, no local storage.
		p.logger.Warn().Str("businessId", businessID.String()).Msg("storing photo with external URL only; cost controller denied upload")
		return photo, nil
	}

	for _, v := range result.Uploaded {
		key := fmt.Sprintf("%s_%s.jpg", keyPrefix, v)
		switch v {
		case model.VariantOriginal:
			photo.S3Key = key
		case model.VariantLarge:
			photo.S3KeyLarge = key
		case model.VariantMedium:
			photo.S3KeyMedium = key
		case model.VariantSmall:
			photo.S3KeySmall = key
		case model.VariantThumbnail:
			photo.S3KeyThumb = key
		}
	}

	return photo, nil
}

func sortByResolution(candidates []Candidate) []Candidate {
	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Width*out[i].Height > out[j].Width*out[j].Height
	})
	return out
}

// assignMainPhoto marks exactly the highest-resolution stored photo
// (preferring one with S3 storage over external-URL-only) as the main
// photo.
func assignMainPhoto(photos []model.Photo) {
	if len(photos) == 0 {
		return
	}
	bestIdx := 0
	for i, ph := range photos {
		if i == 0 {
			continue
		}
		if betterMainCandidate(ph, photos[bestIdx]) {
			bestIdx = i
		}
	}
	for i := range photos {
		photos[i].MainPhoto = i == bestIdx
	}
}

func betterMainCandidate(a, b model.Photo) bool {
	aStored, bStored := a.HasS3Storage(), b.HasS3Storage()
	if aStored != bStored {
		return aStored
	}
	return a.Width*a.Height > b.Width*b.Height
}
