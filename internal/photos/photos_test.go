package photos_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hoppy/ingest/internal/config"
	"github.com/hoppy/ingest/internal/costcontrol"
	"github.com/hoppy/ingest/internal/eventbus"
	"github.com/hoppy/ingest/internal/metrics"
	"github.com/hoppy/ingest/internal/model"
	"github.com/hoppy/ingest/internal/photos"
	"github.com/hoppy/ingest/internal/storage"
)

func sourceJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{uint8(x % 255), uint8(y % 255), 100, 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("failed to build fixture jpeg: %v", err)
	}
	return buf.Bytes()
}

type fakeDownloader struct {
	byURL map[string][]byte
}

func (f fakeDownloader) Download(ctx context.Context, url string) ([]byte, string, error) {
	data, ok := f.byURL[url]
	if !ok {
		return nil, "", io.ErrUnexpectedEOF
	}
	return data, "image/jpeg", nil
}

type fakeDownloaderFunc func(ctx context.Context, url string) ([]byte, string, error)

func (f fakeDownloaderFunc) Download(ctx context.Context, url string) ([]byte, string, error) {
	return f(ctx, url)
}

func testProcessor(t *testing.T) (*photos.Processor, *storage.MemBackend, *eventbus.Bus, *costcontrol.Controller) {
	t.Helper()
	log := zerolog.New(io.Discard)
	reg := metrics.New(log)
	cfg := &config.Config{
		MonthlyBudgetUSD:     1000,
		AlertThreshold:       0.8,
		EmergencyThreshold:   0.95,
		TokenBucketCapacity:  1000,
		TokenBucketRefillMin: 1000,
	}
	ledger := costcontrol.NewMemLedger()
	cost := costcontrol.New(cfg, ledger, log, reg)
	backend := storage.NewMemBackend()
	cdn := storage.NoopCDN{BaseURL: "https://cdn.test"}
	gateway := storage.New(cfg, backend, cdn, cost, log)
	bus := eventbus.New(log, reg)

	downloader := fakeDownloader{byURL: map[string][]byte{
		"https://photos.test/a.jpg": sourceJPEG(t, 1600, 1200),
		"https://photos.test/b.jpg": sourceJPEG(t, 400, 300),
	}}

	var saved []model.Photo
	savePhoto := func(ctx context.Context, p model.Photo) (model.Photo, error) {
		saved = append(saved, p)
		return p, nil
	}

	proc := photos.New(gateway, downloader, savePhoto, bus, cost, log)
	return proc, backend, bus, cost
}

func TestProcessBusinessPersistsAndPublishesOnSuccess(t *testing.T) {
	proc, backend, bus, _ := testProcessor(t)

	var published []model.Photo
	bus.Subscribe(eventbus.EventPhotosProcessed, func(ctx context.Context, ev eventbus.Event) error {
		published = ev.Payload.([]model.Photo)
		return nil
	})

	candidates := []photos.Candidate{
		{Source: model.SourceGoogle, SourceID: "g1", ExternalURL: "https://photos.test/a.jpg", Width: 1600, Height: 1200},
		{Source: model.SourceYelp, SourceID: "y1", ExternalURL: "https://photos.test/b.jpg", Width: 400, Height: 300},
	}

	result, err := proc.ProcessBusiness(context.Background(), uuid.New(), candidates)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("expected 2 persisted photos, got %d", len(result))
	}
	if len(published) != 2 {
		t.Fatalf("expected photos.processed to carry 2 photos, got %d", len(published))
	}

	mainCount := 0
	for _, p := range result {
		if p.MainPhoto {
			mainCount++
		}
		if !p.HasS3Storage() {
			t.Fatalf("expected photo %s to have object storage keys", p.ID)
		}
	}
	if mainCount != 1 {
		t.Fatalf("expected exactly one main photo, got %d", mainCount)
	}

	if _, err := backend.Get(context.Background(), result[0].S3Key); err != nil && result[0].S3Key != "" {
		t.Fatalf("expected main photo's original variant to exist in the backend: %v", err)
	}
}

func TestProcessBusinessAssignsMainPhotoToHighestResolution(t *testing.T) {
	proc, _, _, _ := testProcessor(t)

	candidates := []photos.Candidate{
		{Source: model.SourceYelp, SourceID: "small", ExternalURL: "https://photos.test/b.jpg", Width: 400, Height: 300},
		{Source: model.SourceGoogle, SourceID: "large", ExternalURL: "https://photos.test/a.jpg", Width: 1600, Height: 1200},
	}

	result, err := proc.ProcessBusiness(context.Background(), uuid.New(), candidates)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, p := range result {
		if p.SourceID == "large" && !p.MainPhoto {
			t.Fatalf("expected the higher resolution photo to be the main photo")
		}
		if p.SourceID == "small" && p.MainPhoto {
			t.Fatalf("did not expect the lower resolution photo to be main")
		}
	}
}

func TestProcessBusinessIsolatesPerCandidateDownloadFailures(t *testing.T) {
	proc, _, _, _ := testProcessor(t)

	candidates := []photos.Candidate{
		{Source: model.SourceGoogle, SourceID: "ok", ExternalURL: "https://photos.test/a.jpg", Width: 1600, Height: 1200},
		{Source: model.SourceYelp, SourceID: "broken", ExternalURL: "https://photos.test/missing.jpg", Width: 400, Height: 300},
	}

	result, err := proc.ProcessBusiness(context.Background(), uuid.New(), candidates)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 1 {
		t.Fatalf("expected exactly 1 surviving photo, got %d", len(result))
	}
	if result[0].SourceID != "ok" {
		t.Fatalf("expected the surviving photo to be the one that downloaded successfully")
	}
}

func TestProcessBusinessReturnsNilWithoutPublishingWhenAllCandidatesFail(t *testing.T) {
	proc, _, bus, _ := testProcessor(t)

	published := false
	bus.Subscribe(eventbus.EventPhotosProcessed, func(ctx context.Context, ev eventbus.Event) error {
		published = true
		return nil
	})

	candidates := []photos.Candidate{
		{Source: model.SourceGoogle, SourceID: "broken", ExternalURL: "https://photos.test/missing.jpg", Width: 800, Height: 600},
	}

	result, err := proc.ProcessBusiness(context.Background(), uuid.New(), candidates)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Fatalf("expected no photos to be returned")
	}
	if published {
		t.Fatalf("did not expect photos.processed to be published when nothing was persisted")
	}
}

func TestProcessBusinessSkipsEntirelyInEmergencyMode(t *testing.T) {
	log := zerolog.New(io.Discard)
	reg := metrics.New(log)
	cfg := &config.Config{
		MonthlyBudgetUSD:     0.00001,
		AlertThreshold:       0.8,
		EmergencyThreshold:   0.01,
		TokenBucketCapacity:  1000,
		TokenBucketRefillMin: 1000,
	}
	ledger := costcontrol.NewMemLedger()
	cost := costcontrol.New(cfg, ledger, log, reg)
	backend := storage.NewMemBackend()
	gateway := storage.New(cfg, backend, storage.NoopCDN{BaseURL: "https://cdn.test"}, cost, log)
	bus := eventbus.New(log, reg)

	// Trip emergency mode with one oversized PUT before the processor ever runs.
	_, _ = cost.CheckAndExecute(model.OpPut, 10<<20, func() (int64, error) { return 10 << 20, nil })
	if !cost.IsEmergencyMode() {
		t.Fatal("expected the cost controller to be in emergency mode after the seeding operation")
	}

	published := false
	bus.Subscribe(eventbus.EventPhotosProcessed, func(ctx context.Context, ev eventbus.Event) error {
		published = true
		return nil
	})

	downloaded := false
	downloader := fakeDownloaderFunc(func(ctx context.Context, url string) ([]byte, string, error) {
		downloaded = true
		return sourceJPEG(t, 800, 600), "image/jpeg", nil
	})

	savePhoto := func(ctx context.Context, p model.Photo) (model.Photo, error) { return p, nil }
	proc := photos.New(gateway, downloader, savePhoto, bus, cost, log)

	candidates := []photos.Candidate{
		{Source: model.SourceGoogle, SourceID: "g1", ExternalURL: "https://photos.test/a.jpg", Width: 800, Height: 600},
	}
	result, err := proc.ProcessBusiness(context.Background(), uuid.New(), candidates)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Fatalf("expected no photos in emergency mode, got %d", len(result))
	}
	if downloaded {
		t.Fatal("expected emergency mode to skip downloads entirely")
	}
	if published {
		t.Fatal("did not expect photos.processed to be published in emergency mode")
	}
}

func TestProcessBusinessCapsCandidatesAtMaximum(t *testing.T) {
	proc, _, _, _ := testProcessor(t)

	byURL := map[string][]byte{}
	candidates := make([]photos.Candidate, 0, 10)
	for i := 0; i < 10; i++ {
		url := "https://photos.test/extra.jpg"
		byURL[url] = sourceJPEG(t, 100, 100)
		candidates = append(candidates, photos.Candidate{
			Source: model.SourceGoogle, SourceID: "extra", ExternalURL: url, Width: 100, Height: 100,
		})
	}

	result, err := proc.ProcessBusiness(context.Background(), uuid.New(), candidates)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) > 8 {
		t.Fatalf("expected at most 8 photos to be processed, got %d", len(result))
	}
}
