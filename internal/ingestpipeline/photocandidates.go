package ingestpipeline

import (
	"github.com/hoppy/ingest/internal/model"
	"github.com/hoppy/ingest/internal/photos"
)

// PhotoCandidates reads the raw document the same way a
// standardize.Extractor does and returns the photo URLs worth
// downloading. Google Places photos carry explicit dimensions; Yelp's
// photos array is bare URLs, so width/height are left at zero and the
// Photo Processor's resolution sort naturally ranks them last.
func PhotoCandidates(raw model.RawBusiness) []photos.Candidate {
	switch raw.Source {
	case model.SourceGoogle:
		return googlePhotoCandidates(raw)
	case model.SourceYelp:
		return yelpPhotoCandidates(raw)
	default:
		return nil
	}
}

func googlePhotoCandidates(raw model.RawBusiness) []photos.Candidate {
	list, ok := raw.Document["photos"].([]interface{})
	if !ok {
		return nil
	}
	out := make([]photos.Candidate, 0, len(list))
	for _, item := range list {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		url, _ := entry["url"].(string)
		if url == "" {
			continue
		}
		width, _ := entry["width"].(float64)
		height, _ := entry["height"].(float64)
		out = append(out, photos.Candidate{
			Source:      raw.Source,
			SourceID:    raw.SourceID,
			ExternalURL: url,
			Width:       int(width),
			Height:      int(height),
		})
	}
	return out
}

func yelpPhotoCandidates(raw model.RawBusiness) []photos.Candidate {
	var out []photos.Candidate
	if img, ok := raw.Document["image_url"].(string); ok && img != "" {
		out = append(out, photos.Candidate{Source: raw.Source, SourceID: raw.SourceID, ExternalURL: img})
	}
	if list, ok := raw.Document["photos"].([]interface{}); ok {
		for _, item := range list {
			url, ok := item.(string)
			if !ok || url == "" {
				continue
			}
			out = append(out, photos.Candidate{Source: raw.Source, SourceID: raw.SourceID, ExternalURL: url})
		}
	}
	return out
}
