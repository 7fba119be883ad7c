package rawcollector

import (
	"strings"

	"github.com/hoppy/ingest/internal/apperrors"
)

// cityCoordinates is a small built-in gazetteer for the initial set of
// launch cities. A production deployment would back this with a
// geocoding API call instead.
var cityCoordinates = map[string][2]float64{
	"new york":     {40.7128, -74.0060},
	"brooklyn":     {40.6782, -73.9442},
	"chicago":      {41.8781, -87.6298},
	"austin":       {30.2672, -97.7431},
	"san francisco": {37.7749, -122.4194},
	"los angeles":  {34.0522, -118.2437},
	"seattle":      {47.6062, -122.3321},
	"denver":       {39.7392, -104.9903},
	"boston":       {42.3601, -71.0589},
	"miami":        {25.7617, -80.1918},
}

// ResolveCity looks up a launch city's center coordinates by name,
// case-insensitively.
func ResolveCity(name string) (lat, lng float64, err error) {
	key := strings.ToLower(strings.TrimSpace(name))
	coords, ok := cityCoordinates[key]
	if !ok {
		return 0, 0, apperrors.NewValidation("city", "unknown launch city: "+name)
	}
	return coords[0], coords[1], nil
}

// KnownCities lists every launch city recognized by ResolveCity, for
// the 404 response's availableCities field.
func KnownCities() []string {
	out := make([]string, 0, len(cityCoordinates))
	for name := range cityCoordinates {
		out = append(out, name)
	}
	return out
}
