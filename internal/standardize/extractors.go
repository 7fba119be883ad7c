package standardize

import (
	"fmt"

	"github.com/hoppy/ingest/internal/apperrors"
	"github.com/hoppy/ingest/internal/model"
)

// GoogleExtractor reads a Google Places Details response shape.
type GoogleExtractor struct{}

func (GoogleExtractor) Extract(doc map[string]interface{}) (model.StandardizedBusiness, error) {
	name, _ := doc["name"].(string)
	address, _ := doc["formatted_address"].(string)
	phone, _ := doc["international_phone_number"].(string)
	website, _ := doc["website"].(string)

	geometry, _ := doc["geometry"].(map[string]interface{})
	location, _ := geometry["location"].(map[string]interface{})
	lat, _ := location["lat"].(float64)
	lng, _ := location["lng"].(float64)

	var rating float64
	if r, ok := doc["rating"].(float64); ok {
		rating = r
	}

	var categories []string
	if types, ok := doc["types"].([]interface{}); ok {
		for _, t := range types {
			if s, ok := t.(string); ok {
				categories = append(categories, s)
			}
		}
	}

	var hours []string
	if oh, ok := doc["opening_hours"].(map[string]interface{}); ok {
		if weekday, ok := oh["weekday_text"].([]interface{}); ok {
			for _, d := range weekday {
				if s, ok := d.(string); ok {
					hours = append(hours, s)
				}
			}
		}
	}

	priceLevel := 0
	if pl, ok := doc["price_level"]; ok {
		priceLevel = ParsePriceLevel(pl)
	}

	if name == "" {
		return model.StandardizedBusiness{}, apperrors.NewValidation("name", "google document missing name")
	}

	return model.StandardizedBusiness{
		DisplayName:    name,
		Address:        address,
		Latitude:       lat,
		Longitude:      lng,
		Phone:          phone,
		Website:        website,
		Categories:     categories,
		RatingGoogle:   floatPtr(rating),
		Rating:         rating,
		PriceLevel:     priceLevel,
		OperatingHours: hours,
	}, nil
}

// YelpExtractor reads a Yelp Fusion business response shape.
type YelpExtractor struct{}

func (YelpExtractor) Extract(doc map[string]interface{}) (model.StandardizedBusiness, error) {
	name, _ := doc["name"].(string)
	phone, _ := doc["phone"].(string)
	url, _ := doc["url"].(string)

	location, _ := doc["location"].(map[string]interface{})
	address := joinAddressLines(location)

	coords, _ := doc["coordinates"].(map[string]interface{})
	lat, _ := coords["latitude"].(float64)
	lng, _ := coords["longitude"].(float64)

	var rating float64
	if r, ok := doc["rating"].(float64); ok {
		rating = r
	}

	var categories []string
	if cats, ok := doc["categories"].([]interface{}); ok {
		for _, c := range cats {
			if cm, ok := c.(map[string]interface{}); ok {
				if title, ok := cm["title"].(string); ok {
					categories = append(categories, title)
				}
			}
		}
	}

	priceLevel := 0
	if pl, ok := doc["price"].(string); ok {
		priceLevel = ParsePriceLevel(pl)
	}

	if name == "" {
		return model.StandardizedBusiness{}, fmt.Errorf("yelp document missing name")
	}

	return model.StandardizedBusiness{
		DisplayName: name,
		Address:     address,
		Latitude:    lat,
		Longitude:   lng,
		Phone:       phone,
		Website:     url,
		Categories:  categories,
		RatingYelp:  floatPtr(rating),
		Rating:      rating,
		PriceLevel:  priceLevel,
	}, nil
}

func joinAddressLines(location map[string]interface{}) string {
	if location == nil {
		return ""
	}
	parts := make([]string, 0, 4)
	if a1, ok := location["address1"].(string); ok && a1 != "" {
		parts = append(parts, a1)
	}
	if city, ok := location["city"].(string); ok && city != "" {
		parts = append(parts, city)
	}
	if state, ok := location["state"].(string); ok && state != "" {
		parts = append(parts, state)
	}
	if zip, ok := location["zip_code"].(string); ok && zip != "" {
		parts = append(parts, zip)
	}
	joined := ""
	for i, p := range parts {
		if i > 0 {
			joined += ", "
		}
		joined += p
	}
	return joined
}

func floatPtr(v float64) *float64 {
	return &v
}
