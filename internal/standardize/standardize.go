// Package standardize is the Standardizer: it turns a per-source raw
// document into the canonical StandardizedBusiness shape, doing name,
// address, phone, and domain normalization plus category
// classification.
package standardize

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/hoppy/ingest/internal/apperrors"
	"github.com/hoppy/ingest/internal/model"
)

var (
	// nonAlnum keeps hyphens and apostrophes alongside alphanumerics so
	// "O'Malley's" and "Mother-in-Law's" survive normalization intact.
	nonAlnum   = regexp.MustCompile(`[^a-z0-9\s\-']`)
	extraSpace = regexp.MustCompile(`\s+`)
	phoneDigits = regexp.MustCompile(`[^0-9+]`)

	// businessSuffix strips a trailing generic business-type word so
	// "The Tipsy Anchor, LLC" and "The Tipsy Anchor Bar" both normalize
	// toward the same core name.
	businessSuffix = regexp.MustCompile(`(?i)\s+(LLC|Inc|Corp|Ltd|Co|Restaurant|Bar|Pub|Grill|Lounge|Tavern|Cafe|Bistro)\.?$`)

	unitToken = regexp.MustCompile(`(?i)\b(apt|suite|ste|unit|#)\.?\s*[\w-]*`)

	streetAbbrev = []struct {
		pattern     *regexp.Regexp
		replacement string
	}{
		{regexp.MustCompile(`(?i)\bst\.?\b`), "street"},
		{regexp.MustCompile(`(?i)\bave\.?\b`), "avenue"},
		{regexp.MustCompile(`(?i)\bblvd\.?\b`), "boulevard"},
		{regexp.MustCompile(`(?i)\brd\.?\b`), "road"},
		{regexp.MustCompile(`(?i)\bdr\.?\b`), "drive"},
		{regexp.MustCompile(`(?i)\bln\.?\b`), "lane"},
		{regexp.MustCompile(`(?i)\bct\.?\b`), "court"},
		{regexp.MustCompile(`(?i)\bpl\.?\b`), "place"},
	}

	barKeywords = []string{"bar", "pub", "tavern", "lounge", "brewery", "taproom", "speakeasy", "cocktail"}
	restaurantKeywords = []string{"restaurant", "grill", "bistro", "eatery", "kitchen", "diner", "cafe"}
)

// Extractor pulls source-specific fields out of a raw document. Each
// upstream source's raw JSON shape gets its own Extractor.
type Extractor interface {
	Extract(doc map[string]interface{}) (model.StandardizedBusiness, error)
}

// Standardizer dispatches to the right Extractor by source and
// applies the normalization steps common to every source.
type Standardizer struct {
	extractors map[model.Source]Extractor
}

// New builds a Standardizer with the default Google/Yelp extractors.
func New() *Standardizer {
	return &Standardizer{
		extractors: map[model.Source]Extractor{
			model.SourceGoogle: GoogleExtractor{},
			model.SourceYelp:   YelpExtractor{},
		},
	}
}

// Register adds or overrides the Extractor used for source.
func (s *Standardizer) Register(source model.Source, e Extractor) {
	s.extractors[source] = e
}

// Standardize converts a RawBusiness into its canonical form.
func (s *Standardizer) Standardize(raw model.RawBusiness) (model.StandardizedBusiness, error) {
	extractor, ok := s.extractors[raw.Source]
	if !ok {
		return model.StandardizedBusiness{}, apperrors.NewValidation("source", fmt.Sprintf("no extractor registered for source %q", raw.Source))
	}

	sb, err := extractor.Extract(raw.Document)
	if err != nil {
		return model.StandardizedBusiness{}, err
	}
	sb.Source = raw.Source
	sb.SourceID = raw.SourceID

	if sb.DisplayName == "" {
		return model.StandardizedBusiness{}, apperrors.NewValidation("name", "business name is required")
	}
	if sb.Latitude == 0 && sb.Longitude == 0 {
		return model.StandardizedBusiness{}, apperrors.NewValidation("location", "latitude/longitude are required")
	}

	sb.NormalizedName = NormalizeName(sb.DisplayName)
	sb.NormalizedAddr = NormalizeAddress(sb.Address)
	sb.NormalizedPhone = NormalizePhone(sb.Phone)
	sb.Domain = ExtractDomain(sb.Website)
	sb.IsBar, sb.IsRestaurant = ClassifyCategories(sb.Categories, sb.DisplayName)

	return sb, nil
}

// NormalizeName lowercases, strips punctuation other than hyphens and
// apostrophes, collapses whitespace, and finally strips a trailing
// generic business-type suffix so near-identical names compare equal.
func NormalizeName(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	stripped := nonAlnum.ReplaceAllString(lower, "")
	collapsed := strings.TrimSpace(extraSpace.ReplaceAllString(stripped, " "))
	return strings.TrimSpace(businessSuffix.ReplaceAllString(collapsed, ""))
}

// NormalizeAddress drops apartment/suite/unit tokens and expands
// common street-type abbreviations before applying the same
// punctuation/whitespace cleanup NormalizeName does, so "123 Main St,
// Apt 4B" and "123 Main Street" compare equal.
func NormalizeAddress(addr string) string {
	withoutUnit := unitToken.ReplaceAllString(addr, "")
	expanded := strings.TrimSpace(withoutUnit)
	for _, abbr := range streetAbbrev {
		expanded = abbr.pattern.ReplaceAllString(expanded, abbr.replacement)
	}
	lower := strings.ToLower(expanded)
	stripped := nonAlnum.ReplaceAllString(lower, "")
	return strings.TrimSpace(extraSpace.ReplaceAllString(stripped, " "))
}

// NormalizePhone strips everything but digits and a leading '+',
// and assumes US/Canada numbering when a bare 10-digit number is
// given.
func NormalizePhone(phone string) string {
	if phone == "" {
		return ""
	}
	digits := phoneDigits.ReplaceAllString(phone, "")
	if strings.HasPrefix(digits, "+") {
		return digits
	}
	if len(digits) == 10 {
		return "+1" + digits
	}
	if len(digits) == 11 && strings.HasPrefix(digits, "1") {
		return "+" + digits
	}
	return digits
}

// ExtractDomain pulls the registrable host out of a website URL,
// stripping "www." so "https://www.example.com/menu" and
// "http://example.com" compare equal.
func ExtractDomain(website string) string {
	if website == "" {
		return ""
	}
	u, err := url.Parse(website)
	if err != nil || u.Host == "" {
		// Not a valid URL; assume the caller already passed a bare host.
		return strings.TrimPrefix(strings.ToLower(website), "www.")
	}
	return strings.TrimPrefix(strings.ToLower(u.Host), "www.")
}

// ClassifyCategories decides the IsBar/IsRestaurant flags from a
// source's category list and, as a fallback, the business name.
func ClassifyCategories(categories []string, name string) (isBar, isRestaurant bool) {
	haystack := strings.ToLower(strings.Join(categories, " ") + " " + name)
	for _, kw := range barKeywords {
		if strings.Contains(haystack, kw) {
			isBar = true
			break
		}
	}
	for _, kw := range restaurantKeywords {
		if strings.Contains(haystack, kw) {
			isRestaurant = true
			break
		}
	}
	return isBar, isRestaurant
}

// googlePriceLevels maps the Places API (New) PriceLevel enum to the
// canonical 1-4 scale.
var googlePriceLevels = map[string]int{
	"PRICE_LEVEL_FREE":          0,
	"PRICE_LEVEL_INEXPENSIVE":   1,
	"PRICE_LEVEL_MODERATE":      2,
	"PRICE_LEVEL_EXPENSIVE":     3,
	"PRICE_LEVEL_VERY_EXPENSIVE": 4,
}

// ParsePriceLevel maps a source's free-form price signal ("$", "$$",
// a numeric 1-4, or the Places API's PRICE_LEVEL_* enum) to the
// canonical 1-4 scale. Returns 0 (unknown) on anything unrecognized.
func ParsePriceLevel(raw interface{}) int {
	switch v := raw.(type) {
	case string:
		trimmed := strings.TrimSpace(v)
		if level, ok := googlePriceLevels[trimmed]; ok {
			return level
		}
		if trimmed != "" && strings.Count(trimmed, "$") == len(trimmed) {
			level := len(trimmed)
			if level > 4 {
				level = 4
			}
			return level
		}
		if n, err := strconv.Atoi(trimmed); err == nil {
			return clampPriceLevel(n)
		}
		return 0
	case float64:
		return clampPriceLevel(int(v))
	case int:
		return clampPriceLevel(v)
	default:
		return 0
	}
}

func clampPriceLevel(n int) int {
	if n < 0 {
		return 0
	}
	if n > 4 {
		return 4
	}
	return n
}
