package rawcollector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hoppy/ingest/internal/apperrors"
	"github.com/hoppy/ingest/internal/model"
)

// httpDoer lets tests substitute a fake transport without standing up
// a real server.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// GoogleSource fetches from the Google Places API.
type GoogleSource struct {
	APIKey string
	Client httpDoer
}

func (g *GoogleSource) Name() model.Source { return model.SourceGoogle }

func (g *GoogleSource) SearchNearby(ctx context.Context, args SearchNearbyArgs) ([]string, error) {
	if g.APIKey == "" {
		return nil, apperrors.NewUpstream("GOOGLE", "missing API key", true)
	}

	url := fmt.Sprintf(
		"https://maps.googleapis.com/maps/api/place/nearbysearch/json?location=%f,%f&radius=%d&key=%s",
		args.Latitude, args.Longitude, args.RadiusM, g.APIKey,
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperrors.NewUpstream("GOOGLE", err.Error(), true)
	}

	resp, err := g.Client.Do(req)
	if err != nil {
		return nil, apperrors.NewUpstream("GOOGLE", err.Error(), false)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, apperrors.NewUpstream("GOOGLE", fmt.Sprintf("status %d", resp.StatusCode), false)
	}
	if resp.StatusCode >= 400 {
		return nil, apperrors.NewUpstream("GOOGLE", fmt.Sprintf("status %d", resp.StatusCode), true)
	}

	var body struct {
		Results []struct {
			PlaceID string `json:"place_id"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, apperrors.NewUpstream("GOOGLE", "malformed response: "+err.Error(), false)
	}

	ids := make([]string, 0, len(body.Results))
	for _, r := range body.Results {
		ids = append(ids, r.PlaceID)
	}
	return ids, nil
}

func (g *GoogleSource) PlaceDetails(ctx context.Context, sourceID string) (model.RawBusiness, error) {
	url := fmt.Sprintf("https://maps.googleapis.com/maps/api/place/details/json?place_id=%s&key=%s", sourceID, g.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return model.RawBusiness{}, apperrors.NewUpstream("GOOGLE", err.Error(), true)
	}

	resp, err := g.Client.Do(req)
	if err != nil {
		return model.RawBusiness{}, apperrors.NewUpstream("GOOGLE", err.Error(), false)
	}
	defer resp.Body.Close()

	var body struct {
		Result map[string]interface{} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return model.RawBusiness{}, apperrors.NewUpstream("GOOGLE", "malformed response: "+err.Error(), false)
	}

	now := time.Now()
	return model.RawBusiness{
		Source:        model.SourceGoogle,
		SourceID:      sourceID,
		Document:      body.Result,
		FirstSeenAt:   now,
		LastFetchedAt: now,
	}, nil
}

func (g *GoogleSource) HealthCheck(ctx context.Context) HealthStatus {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://maps.googleapis.com/maps/api/place/nearbysearch/json", nil)
	if err != nil {
		return HealthStatus{Healthy: false, Error: err.Error(), LastCheck: time.Now()}
	}
	resp, err := g.Client.Do(req)
	if err != nil {
		return HealthStatus{Healthy: false, Error: err.Error(), LastCheck: time.Now()}
	}
	defer resp.Body.Close()
	return HealthStatus{Healthy: resp.StatusCode < 500, Latency: time.Since(start), LastCheck: time.Now()}
}

// YelpSource fetches from the Yelp Fusion API.
type YelpSource struct {
	APIKey string
	Client httpDoer
}

func (y *YelpSource) Name() model.Source { return model.SourceYelp }

func (y *YelpSource) SearchNearby(ctx context.Context, args SearchNearbyArgs) ([]string, error) {
	if y.APIKey == "" {
		return nil, apperrors.NewUpstream("YELP", "missing API key", true)
	}

	url := fmt.Sprintf(
		"https://api.yelp.com/v3/businesses/search?latitude=%f&longitude=%f&radius=%d",
		args.Latitude, args.Longitude, args.RadiusM,
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperrors.NewUpstream("YELP", err.Error(), true)
	}
	req.Header.Set("Authorization", "Bearer "+y.APIKey)

	resp, err := y.Client.Do(req)
	if err != nil {
		return nil, apperrors.NewUpstream("YELP", err.Error(), false)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, apperrors.NewRateLimit("yelp rate limit", 60*time.Second)
	}
	if resp.StatusCode >= 500 {
		return nil, apperrors.NewUpstream("YELP", fmt.Sprintf("status %d", resp.StatusCode), false)
	}
	if resp.StatusCode >= 400 {
		return nil, apperrors.NewUpstream("YELP", fmt.Sprintf("status %d", resp.StatusCode), true)
	}

	var body struct {
		Businesses []struct {
			ID string `json:"id"`
		} `json:"businesses"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, apperrors.NewUpstream("YELP", "malformed response: "+err.Error(), false)
	}

	ids := make([]string, 0, len(body.Businesses))
	for _, b := range body.Businesses {
		ids = append(ids, b.ID)
	}
	return ids, nil
}

func (y *YelpSource) PlaceDetails(ctx context.Context, sourceID string) (model.RawBusiness, error) {
	url := fmt.Sprintf("https://api.yelp.com/v3/businesses/%s", sourceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return model.RawBusiness{}, apperrors.NewUpstream("YELP", err.Error(), true)
	}
	req.Header.Set("Authorization", "Bearer "+y.APIKey)

	resp, err := y.Client.Do(req)
	if err != nil {
		return model.RawBusiness{}, apperrors.NewUpstream("YELP", err.Error(), false)
	}
	defer resp.Body.Close()

	var doc map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return model.RawBusiness{}, apperrors.NewUpstream("YELP", "malformed response: "+err.Error(), false)
	}

	now := time.Now()
	return model.RawBusiness{
		Source:        model.SourceYelp,
		SourceID:      sourceID,
		Document:      doc,
		FirstSeenAt:   now,
		LastFetchedAt: now,
	}, nil
}

func (y *YelpSource) HealthCheck(ctx context.Context) HealthStatus {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.yelp.com/v3/businesses/search", nil)
	if err != nil {
		return HealthStatus{Healthy: false, Error: err.Error(), LastCheck: time.Now()}
	}
	req.Header.Set("Authorization", "Bearer "+y.APIKey)
	resp, err := y.Client.Do(req)
	if err != nil {
		return HealthStatus{Healthy: false, Error: err.Error(), LastCheck: time.Now()}
	}
	defer resp.Body.Close()
	return HealthStatus{Healthy: resp.StatusCode < 500, Latency: time.Since(start), LastCheck: time.Now()}
}
