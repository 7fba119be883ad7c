// Package storage is the Object Storage Gateway: every PUT/GET/DELETE
// against the photo bucket is routed through the cost controller, and
// every resolved URL is served from a short-lived in-process cache the
// way the semantic cache engine serves repeated lookups — keyed
// instead by storage key, expiring instead of evicting LRU.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"golang.org/x/image/draw"

	"github.com/rs/zerolog"

	"github.com/hoppy/ingest/internal/apperrors"
	"github.com/hoppy/ingest/internal/config"
	"github.com/hoppy/ingest/internal/costcontrol"
	"github.com/hoppy/ingest/internal/model"
)

// dimensions per variant. Matches the Object Storage Gateway's resize
// table; "original" is stored unscaled.
var variantDimensions = map[model.PhotoVariant]int{
	model.VariantThumbnail: 150,
	model.VariantSmall:     400,
	model.VariantMedium:    800,
	model.VariantLarge:     1600,
}

// essentialVariants is the minimum viable set kept when the cost
// controller denies the full upload (budget degradation path).
var essentialVariants = []model.PhotoVariant{model.VariantThumbnail, model.VariantMedium}

// allVariants is the full resize ladder, largest-to-smallest so the
// canonical "original" upload happens once and scales feed off of it.
var allVariants = []model.PhotoVariant{model.VariantOriginal, model.VariantLarge, model.VariantMedium, model.VariantSmall, model.VariantThumbnail}

// Backend is the underlying object store (S3-compatible). A real
// deployment wires an AWS SDK client; tests use an in-memory backend.
type Backend interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// CDN purges edge caches for a key after a delete. Optional — a
// deployment without a CDN configured uses a no-op implementation.
type CDN interface {
	PurgeURL(ctx context.Context, url string) error
	SignedURL(key string, ttl time.Duration) (string, error)
	PublicURL(key string) string
}

type urlCacheEntry struct {
	url       string
	expiresAt time.Time
}

// Gateway is the Object Storage Gateway.
type Gateway struct {
	backend Backend
	cdn     CDN
	cost    *costcontrol.Controller
	logger  zerolog.Logger

	cdnEnabled bool
	bucket     string

	urlCacheMu  sync.Mutex
	urlCache    map[string]urlCacheEntry
	urlCacheTTL time.Duration
}

// New builds a Gateway. cdn may be nil when CDNEnabled is false, in
// which case GetURL always returns signed URLs directly from the
// backend.
func New(cfg *config.Config, backend Backend, cdn CDN, cost *costcontrol.Controller, logger zerolog.Logger) *Gateway {
	return &Gateway{
		backend:     backend,
		cdn:         cdn,
		cost:        cost,
		logger:      logger.With().Str("component", "storage").Logger(),
		cdnEnabled:  cfg.CDNEnabled && cdn != nil,
		bucket:      cfg.S3Bucket,
		urlCache:    make(map[string]urlCacheEntry),
		urlCacheTTL: 10 * time.Minute,
	}
}

// VariantUpload is a single resized encoding ready for upload.
type VariantUpload struct {
	Variant model.PhotoVariant
	Key     string
	Data    []byte
}

// BuildVariants decodes source and produces every variant, largest
// first, downscaling using a linear interpolation filter. The
// original image is re-encoded at quality 90, scaled variants at 85.
func BuildVariants(keyPrefix string, source []byte) ([]VariantUpload, error) {
	img, format, err := image.Decode(bytes.NewReader(source))
	if err != nil {
		return nil, apperrors.NewValidation("photo", fmt.Sprintf("unable to decode image: %v", err))
	}
	_ = format

	uploads := make([]VariantUpload, 0, len(allVariants))
	for _, variant := range allVariants {
		var encoded []byte
		if variant == model.VariantOriginal {
			encoded, err = encodeJPEG(img, 90)
		} else {
			target := variantDimensions[variant]
			encoded, err = encodeJPEG(resizeToWidth(img, target), 85)
		}
		if err != nil {
			return nil, apperrors.NewValidation("photo", fmt.Sprintf("unable to encode variant %s: %v", variant, err))
		}
		uploads = append(uploads, VariantUpload{
			Variant: variant,
			Key:     fmt.Sprintf("%s_%s.jpg", keyPrefix, variant),
			Data:    encoded,
		})
	}
	return uploads, nil
}

func resizeToWidth(src image.Image, targetWidth int) image.Image {
	bounds := src.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	if srcW <= targetWidth {
		return src
	}
	targetHeight := int(float64(srcH) * float64(targetWidth) / float64(srcW))
	dst := image.NewRGBA(image.Rect(0, 0, targetWidth, targetHeight))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	return dst
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UploadResult reports which variants actually made it to the store.
type UploadResult struct {
	Uploaded []model.PhotoVariant
	Degraded bool // true when the essentials-only fallback was used
}

// UploadAllVariants uploads every variant behind the cost controller.
// If the controller denies the full set (budget pressure), it retries
// with just the essentials subset; if even that is denied, it returns
// the BudgetDenialError untouched so the caller can skip storage
// entirely and keep the external URL only.
func (g *Gateway) UploadAllVariants(ctx context.Context, keyPrefix string, source []byte) (UploadResult, error) {
	uploads, err := BuildVariants(keyPrefix, source)
	if err != nil {
		return UploadResult{}, err
	}

	result, err := g.uploadSet(ctx, uploads)
	if err == nil {
		return result, nil
	}

	var budgetErr *apperrors.BudgetDenialError
	if !errors.As(err, &budgetErr) {
		return UploadResult{}, err
	}

	g.logger.Warn().Str("keyPrefix", keyPrefix).Msg("full variant upload denied by cost controller, retrying essentials only")
	essentials := filterVariants(uploads, essentialVariants)
	result, err = g.uploadSet(ctx, essentials)
	if err != nil {
		return UploadResult{}, err
	}
	result.Degraded = true
	return result, nil
}

func (g *Gateway) uploadSet(ctx context.Context, uploads []VariantUpload) (UploadResult, error) {
	uploaded := make([]model.PhotoVariant, 0, len(uploads))
	for _, u := range uploads {
		_, err := g.cost.CheckAndExecute(model.OpPut, int64(len(u.Data)), func() (int64, error) {
			if err := g.backend.Put(ctx, u.Key, u.Data); err != nil {
				return 0, apperrors.NewPersistence("storage_put", err)
			}
			return int64(len(u.Data)), nil
		})
		if err != nil {
			return UploadResult{Uploaded: uploaded}, err
		}
		uploaded = append(uploaded, u.Variant)
	}
	return UploadResult{Uploaded: uploaded}, nil
}

func filterVariants(uploads []VariantUpload, keep []model.PhotoVariant) []VariantUpload {
	wanted := make(map[model.PhotoVariant]bool, len(keep))
	for _, v := range keep {
		wanted[v] = true
	}
	out := make([]VariantUpload, 0, len(keep))
	for _, u := range uploads {
		if wanted[u.Variant] {
			out = append(out, u)
		}
	}
	return out
}

// GetURL resolves a storage key to a servable URL: CDN public URL when
// enabled, otherwise a signed URL fetched through the cost controller
// and cached locally until ttl expires.
func (g *Gateway) GetURL(ctx context.Context, key string) (string, error) {
	if g.cdnEnabled {
		return g.cdn.PublicURL(key), nil
	}

	g.urlCacheMu.Lock()
	if entry, ok := g.urlCache[key]; ok && time.Now().Before(entry.expiresAt) {
		g.urlCacheMu.Unlock()
		return entry.url, nil
	}
	g.urlCacheMu.Unlock()

	var signed string
	_, err := g.cost.CheckAndExecute(model.OpGet, 0, func() (int64, error) {
		u, err := g.cdnSignedURL(key)
		if err != nil {
			return 0, err
		}
		signed = u
		return 0, nil
	})
	if err != nil {
		return "", err
	}

	g.urlCacheMu.Lock()
	g.urlCache[key] = urlCacheEntry{url: signed, expiresAt: time.Now().Add(g.urlCacheTTL)}
	g.urlCacheMu.Unlock()

	return signed, nil
}

func (g *Gateway) cdnSignedURL(key string) (string, error) {
	if g.cdn != nil {
		return g.cdn.SignedURL(key, g.urlCacheTTL)
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", g.bucket, key), nil
}

// BatchURLs resolves many keys at once under one LIST-class cost
// check. Each key is still resolved through GetURL, which runs its own
// GET-class check on a cache miss when the CDN is disabled.
func (g *Gateway) BatchURLs(ctx context.Context, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	_, err := g.cost.CheckAndExecute(model.OpList, 0, func() (int64, error) {
		for _, k := range keys {
			u, err := g.GetURL(ctx, k)
			if err != nil {
				return 0, err
			}
			out[k] = u
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes every variant key for a photo and purges the CDN
// edge cache for each, if enabled.
func (g *Gateway) Delete(ctx context.Context, keys []string) error {
	for _, key := range keys {
		if key == "" {
			continue
		}
		_, err := g.cost.CheckAndExecute(model.OpDelete, 0, func() (int64, error) {
			if err := g.backend.Delete(ctx, key); err != nil {
				return 0, apperrors.NewPersistence("storage_delete", err)
			}
			return 0, nil
		})
		if err != nil {
			return err
		}
		if g.cdnEnabled {
			if err := g.cdn.PurgeURL(ctx, g.cdn.PublicURL(key)); err != nil {
				g.logger.Error().Err(err).Str("key", key).Msg("CDN purge failed after delete")
			}
		}
		g.urlCacheMu.Lock()
		delete(g.urlCache, key)
		g.urlCacheMu.Unlock()
	}
	return nil
}
