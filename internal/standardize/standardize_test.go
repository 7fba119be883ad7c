package standardize_test

import (
	"testing"

	"github.com/hoppy/ingest/internal/model"
	"github.com/hoppy/ingest/internal/standardize"
)

func TestNormalizeNameStripsPunctuationAndCase(t *testing.T) {
	got := standardize.NormalizeName("The Tipsy Anchor, LLC!")
	want := "the tipsy anchor"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestNormalizeNameStripsBusinessSuffixVariants(t *testing.T) {
	cases := map[string]string{
		"Tipsy Anchor Bar":    "tipsy anchor",
		"Tipsy Anchor Grill.": "tipsy anchor",
		"O'Malley's Tavern":   "o'malley's",
	}
	for in, want := range cases {
		if got := standardize.NormalizeName(in); got != want {
			t.Fatalf("NormalizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeNameKeepsHyphensAndApostrophes(t *testing.T) {
	got := standardize.NormalizeName("Mother-in-Law's Kitchen")
	want := "mother-in-law's kitchen"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestNormalizeAddressDropsUnitAndExpandsAbbreviations(t *testing.T) {
	got := standardize.NormalizeAddress("123 Main St, Apt 4B")
	want := "123 main street"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestNormalizePhoneAssumesUSForBareTenDigits(t *testing.T) {
	got := standardize.NormalizePhone("(212) 555-1234")
	want := "+12125551234"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestNormalizePhonePreservesExistingCountryCode(t *testing.T) {
	got := standardize.NormalizePhone("+44 20 7946 0958")
	if got != "+442079460958" {
		t.Fatalf("got %q", got)
	}
}

func TestExtractDomainStripsWWW(t *testing.T) {
	got := standardize.ExtractDomain("https://www.tipsyanchor.com/menu")
	if got != "tipsyanchor.com" {
		t.Fatalf("got %q", got)
	}
}

func TestClassifyCategoriesDetectsBar(t *testing.T) {
	isBar, isRestaurant := standardize.ClassifyCategories([]string{"cocktail_bars"}, "The Tipsy Anchor")
	if !isBar {
		t.Fatalf("expected bar category to classify as a bar")
	}
	if isRestaurant {
		t.Fatalf("did not expect a bar-only category to classify as a restaurant")
	}
}

func TestParsePriceLevelHandlesDollarSigns(t *testing.T) {
	if got := standardize.ParsePriceLevel("$$$"); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}

func TestParsePriceLevelHandlesNumeric(t *testing.T) {
	if got := standardize.ParsePriceLevel(float64(2)); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
}

func TestStandardizeGoogleDocument(t *testing.T) {
	s := standardize.New()
	raw := model.RawBusiness{
		Source:   model.SourceGoogle,
		SourceID: "g-1",
		Document: map[string]interface{}{
			"name":                        "The Tipsy Anchor",
			"formatted_address":           "123 Main St, New York, NY",
			"international_phone_number":  "+1 212-555-1234",
			"website":                     "https://www.tipsyanchor.com",
			"rating":                      4.5,
			"price_level":                 float64(2),
			"types":                       []interface{}{"bar", "point_of_interest"},
			"geometry": map[string]interface{}{
				"location": map[string]interface{}{"lat": 40.7128, "lng": -74.0060},
			},
		},
	}

	sb, err := s.Standardize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sb.NormalizedName != "the tipsy anchor" {
		t.Fatalf("got normalized name %q", sb.NormalizedName)
	}
	if sb.Domain != "tipsyanchor.com" {
		t.Fatalf("got domain %q", sb.Domain)
	}
	if !sb.IsBar {
		t.Fatalf("expected IsBar true from 'bar' type")
	}
	if sb.RatingGoogle == nil || *sb.RatingGoogle != 4.5 {
		t.Fatalf("expected RatingGoogle 4.5, got %v", sb.RatingGoogle)
	}
}

func TestStandardizeRejectsMissingLocation(t *testing.T) {
	s := standardize.New()
	raw := model.RawBusiness{
		Source:   model.SourceGoogle,
		SourceID: "g-2",
		Document: map[string]interface{}{
			"name": "No Location Bar",
		},
	}
	if _, err := s.Standardize(raw); err == nil {
		t.Fatalf("expected an error when latitude/longitude are both zero")
	}
}

func TestStandardizeRejectsUnknownSource(t *testing.T) {
	s := standardize.New()
	raw := model.RawBusiness{Source: model.Source("UNKNOWN"), SourceID: "x-1", Document: map[string]interface{}{}}
	if _, err := s.Standardize(raw); err == nil {
		t.Fatalf("expected an error for an unregistered source")
	}
}
