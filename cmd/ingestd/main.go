package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hoppy/ingest/internal/config"
	"github.com/hoppy/ingest/internal/costcontrol"
	"github.com/hoppy/ingest/internal/dedup"
	"github.com/hoppy/ingest/internal/eventbus"
	"github.com/hoppy/ingest/internal/httpapi"
	"github.com/hoppy/ingest/internal/ingestpipeline"
	"github.com/hoppy/ingest/internal/jobqueue"
	"github.com/hoppy/ingest/internal/logger"
	"github.com/hoppy/ingest/internal/metrics"
	"github.com/hoppy/ingest/internal/model"
	"github.com/hoppy/ingest/internal/photos"
	"github.com/hoppy/ingest/internal/rawcollector"
	"github.com/hoppy/ingest/internal/redisclient"
	"github.com/hoppy/ingest/internal/repository"
	"github.com/hoppy/ingest/internal/standardize"
	"github.com/hoppy/ingest/internal/storage"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)

	log.Info().Str("env", cfg.Env).Msg("ingestd starting")

	reg := metrics.New(log)
	repo := repository.New()
	bus := eventbus.New(log, reg)
	cost := costcontrol.New(cfg, costcontrol.NewMemLedger(), log, reg)

	jobStore, err := newJobStore(cfg, log)
	if err != nil {
		log.Warn().Err(err).Msg("redis job store unavailable — falling back to in-process store")
		jobStore = jobqueue.NewMemStore()
	}
	queue := jobqueue.New(cfg, jobStore, log, reg)

	backend := storage.NewMemBackend()
	var cdn storage.CDN = storage.NoopCDN{BaseURL: cfg.CDNBaseURL}
	gateway := storage.New(cfg, backend, cdn, cost, log)

	savePhoto := func(ctx context.Context, p model.Photo) (model.Photo, error) {
		return repo.SavePhoto(ctx, p)
	}
	photoProcessor := photos.New(gateway, photos.HTTPDownloader{}, savePhoto, bus, cost, log)

	pipeline := ingestpipeline.New(bus, standardize.New(), dedup.New(repo), photoProcessor, log)
	pipeline.Wire()

	sourceRegistry := rawcollector.NewRegistry()
	registerSources(cfg, sourceRegistry, log)

	upsertRaw := func(ctx context.Context, raw model.RawBusiness) error {
		_, err := repo.UpsertRawBusiness(ctx, raw)
		return err
	}
	collector := rawcollector.New(sourceRegistry, bus, log, upsertRaw)
	collector.RegisterJobHandlers(queue)

	queue.Start()
	defer queue.Stop()

	gate := &httpapi.ShutdownGate{}
	router := httpapi.NewRouter(cfg, log, repo, queue, collector, sourceRegistry, cost, reg, gate)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.DefaultTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("ingestd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	gate.Drain()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("ingestd stopped gracefully")
	}
}

// newJobStore connects to Redis and wraps it in a jobqueue.RedisStore
// with a codec that knows how to rebuild every job kind's concrete
// payload type after a round trip through JSON. Callers fall back to
// the in-process MemStore on any connection failure so a missing
// Redis instance degrades to single-instance operation rather than
// blocking startup.
func newJobStore(cfg *config.Config, log zerolog.Logger) (jobqueue.Store, error) {
	client, err := redisclient.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := redisclient.Ping(client); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	log.Info().Msg("redis job store connected")
	return jobqueue.NewRedisStore(client, decodeJobPayload), nil
}

// decodeJobPayload is the jobqueue.PayloadCodec for every kind this
// service enqueues. A kind with no case here is a wiring bug, not a
// runtime condition — add the case when a new job kind is introduced.
func decodeJobPayload(kind string, raw []byte) (interface{}, error) {
	switch kind {
	case rawcollector.JobSearchNearby:
		var p rawcollector.SearchNearbyJob
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case rawcollector.JobPlaceDetails:
		var p rawcollector.PlaceDetailsJob
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("no payload codec registered for job kind %q", kind)
	}
}

// registerSources wires every upstream connector whose API key is
// present in the environment, the same opt-in pattern the teacher's
// registerProviders uses for LLM providers.
func registerSources(cfg *config.Config, registry *rawcollector.Registry, log zerolog.Logger) {
	client := &http.Client{Timeout: 15 * time.Second}

	if cfg.GoogleAPIKey != "" {
		registry.Register(&rawcollector.GoogleSource{APIKey: cfg.GoogleAPIKey, Client: client})
		log.Info().Msg("registered google places source")
	} else {
		log.Warn().Msg("GOOGLE_API_KEY not set — google source disabled")
	}

	if cfg.YelpAPIKey != "" {
		registry.Register(&rawcollector.YelpSource{APIKey: cfg.YelpAPIKey, Client: client})
		log.Info().Msg("registered yelp source")
	} else {
		log.Warn().Msg("YELP_API_KEY not set — yelp source disabled")
	}
}
