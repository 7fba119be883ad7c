// Package httpapi is the ingestion-control HTTP surface: endpoints to
// trigger raw collection jobs and to browse the deduplicated catalog.
// Grounded on the gateway's router+handler split — one thin handler
// struct per resource, chi for routing, JSON everywhere.
package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hoppy/ingest/internal/apperrors"
	"github.com/hoppy/ingest/internal/costcontrol"
	"github.com/hoppy/ingest/internal/jobqueue"
	"github.com/hoppy/ingest/internal/matching"
	"github.com/hoppy/ingest/internal/model"
	"github.com/hoppy/ingest/internal/rawcollector"
	"github.com/hoppy/ingest/internal/repository"
)

const maxSearchRadiusMeters = 50000

// collectionHandler serves /data-collection/*.
type collectionHandler struct {
	logger    zerolog.Logger
	queue     *jobqueue.Queue
	collector *rawcollector.Collector
}

type searchNearbyRequest struct {
	Latitude       float64  `json:"latitude"`
	Longitude      float64  `json:"longitude"`
	Radius         float64  `json:"radius,omitempty"`
	IncludedTypes  []string `json:"includedTypes,omitempty"`
	ExcludedTypes  []string `json:"excludedTypes,omitempty"`
	MaxResultCount int      `json:"maxResultCount,omitempty"`
}

func validateLatLngRadius(lat, lng, radius float64) error {
	if lat < -90 || lat > 90 {
		return apperrors.NewValidation("latitude", "must be between -90 and 90")
	}
	if lng < -180 || lng > 180 {
		return apperrors.NewValidation("longitude", "must be between -180 and 180")
	}
	if radius != 0 && (radius <= 0 || radius > maxSearchRadiusMeters) {
		return apperrors.NewValidation("radius", "must be > 0 and <= 50000 meters")
	}
	return nil
}

func (h *collectionHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchNearbyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "malformed request body")
		return
	}
	if err := validateLatLngRadius(req.Latitude, req.Longitude, req.Radius); err != nil {
		writeValidationError(w, err)
		return
	}

	radius := int(req.Radius)
	if radius == 0 {
		radius = 5000
	}

	job, err := h.queue.Enqueue(rawcollector.JobSearchNearby, rawcollector.SearchNearbyJob{
		Source: model.SourceGoogle,
		Args: rawcollector.SearchNearbyArgs{
			Latitude:  req.Latitude,
			Longitude: req.Longitude,
			RadiusM:   radius,
		},
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "enqueue_failed", err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"jobId":  job.ID.String(),
		"status": "queued",
	})
}

type bulkSearchRequest struct {
	Locations []struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Options   *struct {
			Radius float64 `json:"radius,omitempty"`
		} `json:"options,omitempty"`
	} `json:"locations"`
}

func (h *collectionHandler) SearchBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkSearchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "malformed request body")
		return
	}
	if len(req.Locations) == 0 {
		writeError(w, http.StatusBadRequest, "validation", "locations must not be empty")
		return
	}

	payloads := make([]interface{}, 0, len(req.Locations))
	for _, loc := range req.Locations {
		radius := 5000.0
		if loc.Options != nil && loc.Options.Radius != 0 {
			radius = loc.Options.Radius
		}
		if err := validateLatLngRadius(loc.Latitude, loc.Longitude, radius); err != nil {
			writeValidationError(w, err)
			return
		}
		payloads = append(payloads, rawcollector.SearchNearbyJob{
			Source: model.SourceGoogle,
			Args: rawcollector.SearchNearbyArgs{
				Latitude:  loc.Latitude,
				Longitude: loc.Longitude,
				RadiusM:   int(radius),
			},
		})
	}

	jobs, err := h.queue.EnqueueBulk(rawcollector.JobSearchNearby, payloads)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "enqueue_failed", err.Error())
		return
	}

	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID.String()
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"jobIds": ids,
		"count":  len(ids),
	})
}

type citySearchRequest struct {
	City          string   `json:"city"`
	IncludedTypes []string `json:"includedTypes,omitempty"`
	ExcludedTypes []string `json:"excludedTypes,omitempty"`
}

func (h *collectionHandler) SearchCity(w http.ResponseWriter, r *http.Request) {
	var req citySearchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "malformed request body")
		return
	}

	lat, lng, err := rawcollector.ResolveCity(req.City)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"error":           "unknown_city",
			"message":         err.Error(),
			"availableCities": rawcollector.KnownCities(),
		})
		return
	}

	job, err := h.queue.Enqueue(rawcollector.JobSearchNearby, rawcollector.SearchNearbyJob{
		Source: model.SourceGoogle,
		Args:   rawcollector.SearchNearbyArgs{Latitude: lat, Longitude: lng, RadiusM: 5000},
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "enqueue_failed", err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"jobId":  job.ID.String(),
		"status": "queued",
		"city":   req.City,
	})
}

func (h *collectionHandler) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats := h.queue.Stats()
	byState := map[string]int{
		"waiting":   stats[jobqueue.StatusPending] + int(stats[jobqueue.StatusRetrying]),
		"active":    stats[jobqueue.StatusRunning],
		"completed": stats[jobqueue.StatusSucceeded],
		"failed":    stats[jobqueue.StatusFailed],
		"delayed":   stats[jobqueue.StatusRetrying],
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"waiting":   byState["waiting"],
		"active":    byState["active"],
		"completed": byState["completed"],
		"failed":    byState["failed"],
		"byState":   byState,
	})
}

// costControllerHandler exposes the Cost Controller's spend report.
type costControllerHandler struct {
	logger zerolog.Logger
	cost   *costcontrol.Controller
}

func (h *costControllerHandler) Report(w http.ResponseWriter, r *http.Request) {
	report, err := h.cost.GetReport()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to build cost report")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// businessHandler serves /businesses*.
type businessHandler struct {
	logger zerolog.Logger
	repo   repository.Repository
}

func (h *businessHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	withPhotosOnly := r.URL.Query().Get("withPhotosOnly") == "true"

	all, err := h.repo.SearchByCriteria(r.Context(), repository.SearchCriteria{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to list businesses")
		return
	}

	if withPhotosOnly {
		filtered := all[:0]
		for _, b := range all {
			photos, _ := h.repo.PhotosForBusiness(r.Context(), b.ID)
			if len(photos) > 0 {
				filtered = append(filtered, b)
			}
		}
		all = filtered
	}

	totalCount := len(all)
	page := offset/maxInt(limit, 1) + 1
	totalPages := (totalCount + limit - 1) / maxInt(limit, 1)
	if totalPages == 0 {
		totalPages = 1
	}

	end := offset + limit
	if end > totalCount {
		end = totalCount
	}
	var pageItems []model.Business
	if offset < totalCount {
		pageItems = all[offset:end]
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"businesses": pageItems,
		"count":      len(pageItems),
		"totalCount": totalCount,
		"page":       page,
		"totalPages": totalPages,
		"hasMore":    end < totalCount,
	})
}

func (h *businessHandler) Get(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid business id")
		return
	}

	b, err := h.repo.FindByID(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": "not_found", "message": "business not found"})
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *businessHandler) SearchLocation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, latErr := strconv.ParseFloat(q.Get("lat"), 64)
	lng, lngErr := strconv.ParseFloat(q.Get("lng"), 64)
	radiusKm, radErr := strconv.ParseFloat(q.Get("radius"), 64)
	if latErr != nil || lngErr != nil || radErr != nil {
		writeError(w, http.StatusBadRequest, "validation", "lat, lng, and radius are required numeric query params")
		return
	}
	if err := validateLatLngRadius(lat, lng, radiusKm*1000); err != nil {
		writeValidationError(w, err)
		return
	}

	withDealsOnly := q.Get("withDealsOnly") == "true"
	limit := queryInt(r, "limit", 50)

	all, err := h.repo.SearchByCriteria(r.Context(), repository.SearchCriteria{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to search businesses")
		return
	}

	var results []model.Business
	for _, b := range all {
		if haversineKm(lat, lng, b.Latitude, b.Longitude) > radiusKm {
			continue
		}
		_ = withDealsOnly // deals are a disabled-by-default sub-feature; no-op filter until enabled
		results = append(results, b)
		if len(results) >= limit {
			break
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"count":   len(results),
		"searchCriteria": map[string]interface{}{
			"lat": lat, "lng": lng, "radiusKm": radiusKm, "withDealsOnly": withDealsOnly,
		},
	})
}

func (h *businessHandler) SearchCategory(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	q := r.URL.Query()

	criteria := repository.SearchCriteria{Category: category}
	if v := q.Get("isBar"); v != "" {
		b := v == "true"
		criteria.IsBar = &b
	}

	results, err := h.repo.SearchByCriteria(r.Context(), criteria)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to search businesses")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results":  results,
		"count":    len(results),
		"category": category,
		"filters": map[string]interface{}{
			"isBar":         criteria.IsBar,
			"isRestaurant":  q.Get("isRestaurant"),
			"withDealsOnly": q.Get("withDealsOnly"),
		},
	})
}

func writeValidationError(w http.ResponseWriter, err error) {
	var ve *apperrors.ValidationError
	if errors.As(err, &ve) {
		writeError(w, http.StatusBadRequest, "validation", ve.Error())
		return
	}
	writeError(w, http.StatusBadRequest, "validation", err.Error())
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	return matching.HaversineMeters(lat1, lng1, lat2, lng2) / 1000
}
