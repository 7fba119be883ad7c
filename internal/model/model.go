// Package model defines the canonical data types shared across every
// stage of the ingestion pipeline.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Source identifies an upstream listings provider.
type Source string

const (
	SourceGoogle Source = "GOOGLE"
	SourceYelp   Source = "YELP"
	SourceManual Source = "MANUAL"
)

// RawBusiness is a snapshot of a single upstream record, keyed by
// (Source, SourceID). It is upserted by the Raw Collector and never
// mutated by later stages.
type RawBusiness struct {
	ID            uuid.UUID              `json:"id" db:"id"`
	Source        Source                 `json:"source" db:"source"`
	SourceID      string                 `json:"sourceId" db:"source_id"`
	Document      map[string]interface{} `json:"document" db:"document"`
	FirstSeenAt   time.Time              `json:"firstSeenAt" db:"first_seen_at"`
	LastFetchedAt time.Time              `json:"lastFetchedAt" db:"last_fetched_at"`
}

// StandardizedBusiness is the canonical intermediate form produced by
// the Standardizer. It is transient — an event payload, never
// persisted standalone.
type StandardizedBusiness struct {
	DisplayName     string
	NormalizedName  string
	Address         string
	NormalizedAddr  string
	Latitude        float64
	Longitude       float64
	Phone           string
	NormalizedPhone string
	Website         string
	Domain          string
	IsBar           bool
	IsRestaurant    bool
	Categories      []string

	RatingGoogle *float64
	RatingYelp   *float64
	RatingOther  map[Source]float64
	Rating       float64 // overall

	PriceLevel int // 1-4, 0 = unknown

	OperatingHours []string

	Source   Source
	SourceID string
}

// Business is the canonical, deduplicated record. SourceBinding is the
// authoritative record of which upstream records fold into it; GoogleID
// and YelpID are denormalized read columns kept consistent with the
// SourceBinding set by the Repository in the same transaction.
type Business struct {
	ID uuid.UUID `json:"id" db:"id"`

	DisplayName     string   `json:"name" db:"name"`
	NormalizedName  string   `json:"normalizedName" db:"normalized_name"`
	Address         string   `json:"address" db:"address"`
	NormalizedAddr  string   `json:"normalizedAddress" db:"normalized_address"`
	Latitude        float64  `json:"latitude" db:"latitude"`
	Longitude       float64  `json:"longitude" db:"longitude"`
	Phone           string   `json:"phone" db:"phone"`
	NormalizedPhone string   `json:"normalizedPhone" db:"normalized_phone"`
	Website         string   `json:"website" db:"website"`
	Domain          string   `json:"domain" db:"domain"`
	IsBar           bool     `json:"isBar" db:"is_bar"`
	IsRestaurant    bool     `json:"isRestaurant" db:"is_restaurant"`
	Categories      []string `json:"categories" db:"categories"`

	RatingGoogle *float64 `json:"ratingGoogle" db:"rating_google"`
	RatingYelp   *float64 `json:"ratingYelp" db:"rating_yelp"`
	Rating       float64  `json:"rating" db:"rating"`
	PriceLevel   int      `json:"priceLevel" db:"price_level"`

	OperatingHours []string `json:"operatingHours" db:"operating_hours"`

	Confidence   float64   `json:"confidence" db:"confidence"`
	LastAnalyzed time.Time `json:"lastAnalyzed" db:"last_analyzed"`

	// Denormalized read convenience — see SPEC_FULL.md Open Question 1.
	GoogleID string `json:"googleId,omitempty" db:"google_id"`
	YelpID   string `json:"yelpId,omitempty" db:"yelp_id"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// SourceBinding maps an upstream (Source, SourceID) pair to the
// canonical Business it folds into. Key is globally unique.
type SourceBinding struct {
	Source      Source    `json:"source" db:"source"`
	SourceID    string    `json:"sourceId" db:"source_id"`
	BusinessID  uuid.UUID `json:"businessId" db:"business_id"`
	LastFetched time.Time `json:"lastFetched" db:"last_fetched"`
}

// PhotoVariant names a resized encoding of a source image.
type PhotoVariant string

const (
	VariantThumbnail PhotoVariant = "thumbnail"
	VariantSmall     PhotoVariant = "small"
	VariantMedium    PhotoVariant = "medium"
	VariantLarge     PhotoVariant = "large"
	VariantOriginal  PhotoVariant = "original"
)

// Photo is a single business photo with its stored variants. At most
// one Photo per Business has MainPhoto=true; this is enforced by the
// Photo Processor, not by the schema.
type Photo struct {
	ID            uuid.UUID `json:"id" db:"id"`
	BusinessID    uuid.UUID `json:"businessId" db:"business_id"`
	Source        Source    `json:"source" db:"source"`
	SourceID      string    `json:"sourceId" db:"source_id"`
	Width         int       `json:"width" db:"width"`
	Height        int       `json:"height" db:"height"`
	ExternalURL   string    `json:"url,omitempty" db:"url"`
	S3Key         string    `json:"s3Key,omitempty" db:"s3_key"`
	S3KeyThumb    string    `json:"s3KeyThumbnail,omitempty" db:"s3_key_thumbnail"`
	S3KeySmall    string    `json:"s3KeySmall,omitempty" db:"s3_key_small"`
	S3KeyMedium   string    `json:"s3KeyMedium,omitempty" db:"s3_key_medium"`
	S3KeyLarge    string    `json:"s3KeyLarge,omitempty" db:"s3_key_large"`
	MainPhoto     bool      `json:"mainPhoto" db:"main_photo"`
	Format        string    `json:"format" db:"format"`
	FileSize      int64     `json:"fileSize" db:"file_size"`
	LastProcessed time.Time `json:"lastProcessed" db:"last_processed"`
}

// HasS3Storage reports whether at least one variant was actually
// uploaded to object storage (false when budget denial degraded the
// photo to external-URL-only).
func (p Photo) HasS3Storage() bool {
	return p.S3Key != "" || p.S3KeyThumb != "" || p.S3KeySmall != "" || p.S3KeyMedium != "" || p.S3KeyLarge != ""
}

// Deal is an optional, disabled-by-default sub-feature: an
// operating-hour/promotion window extracted from raw text.
type Deal struct {
	ID           uuid.UUID `json:"id" db:"id"`
	BusinessID   uuid.UUID `json:"businessId" db:"business_id"`
	DayOfWeek    *int      `json:"dayOfWeek" db:"day_of_week"` // 0..6, nil = every day
	StartTime    string    `json:"startTime" db:"start_time"`  // "HH:MM"
	EndTime      string    `json:"endTime" db:"end_time"`
	Title        string    `json:"title" db:"title"` // <= 100 chars
	Description  string    `json:"description" db:"description"`
	ExtractedBy  string    `json:"extractedBy" db:"extracted_by"`
	Confidence   float64   `json:"confidence" db:"confidence"`
	SourceText   string    `json:"sourceText" db:"source_text"`
	IsActive     bool      `json:"isActive" db:"is_active"`
}

// OperationType is the kind of object-store call an Operation logs.
type OperationType string

const (
	OpPut    OperationType = "PUT"
	OpGet    OperationType = "GET"
	OpDelete OperationType = "DELETE"
	OpList   OperationType = "LIST"
)

// Operation is an append-only cost-ledger entry for a single
// object-store call.
type Operation struct {
	ID            uuid.UUID     `json:"id" db:"id"`
	Type          OperationType `json:"type" db:"type"`
	EstimatedCost float64       `json:"estimatedCost" db:"estimated_cost"`
	Bytes         int64         `json:"bytes" db:"bytes"`
	BusinessID    *uuid.UUID    `json:"businessId,omitempty" db:"business_id"`
	PhotoID       *uuid.UUID    `json:"photoId,omitempty" db:"photo_id"`
	StorageKey    string        `json:"storageKey,omitempty" db:"storage_key"`
	CDNPurged     bool          `json:"cdnPurged" db:"cdn_purged"`
	CreatedAt     time.Time     `json:"createdAt" db:"created_at"`
}

// Budget is the monthly cost ledger. Key is MonthYear, "YYYY-MM".
type Budget struct {
	MonthYear          string    `json:"monthYear" db:"month_year"`
	TotalBudget        float64   `json:"totalBudget" db:"total_budget"`
	CurrentSpent       float64   `json:"currentSpent" db:"current_spent"`
	AlertThreshold     float64   `json:"alertThreshold" db:"alert_threshold"`
	EmergencyThreshold float64   `json:"emergencyThreshold" db:"emergency_threshold"`
	EmergencyMode      bool      `json:"emergencyMode" db:"emergency_mode"`
	AlertSent          bool      `json:"alertSent" db:"alert_sent"`
	CDNBandwidthUsed   int64     `json:"cdnBandwidthUsed" db:"cdn_bandwidth_used"`
	CDNRequestsUsed    int64     `json:"cdnRequestsUsed" db:"cdn_requests_used"`
	UpdatedAt          time.Time `json:"updatedAt" db:"updated_at"`
}
