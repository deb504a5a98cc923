package videos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/watchearn/backend/internal/logging"
	"github.com/watchearn/backend/internal/models"
	"github.com/watchearn/backend/internal/repositories"
)

// ImportRequest describes a catalog addition. Title and DurationSeconds
// override the provider's metadata when set.
type ImportRequest struct {
	URL             string
	EarningAmount   decimal.Decimal
	Title           string
	DurationSeconds float64
}

// Importer adds videos to the catalog.
type Importer struct {
	Store    repositories.Store
	Provider Provider
	NowFunc  func() time.Time
}

// NewImporter constructs an Importer. The provider may be nil when callers
// always supply title and duration.
func NewImporter(store repositories.Store, provider Provider) *Importer {
	return &Importer{Store: store, Provider: provider}
}

// VideoID derives a stable id from the source URL.
func VideoID(sourceURL string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(sourceURL)).String()
}

// Import resolves metadata and stores the video. Videos without a positive
// duration are refused so every session has a usable completion threshold.
func (i *Importer) Import(ctx context.Context, req ImportRequest) (models.Video, error) {
	sourceURL, err := normalizeURL(req.URL)
	if err != nil {
		return models.Video{}, err
	}
	amount := req.EarningAmount.Round(2)
	if !amount.IsPositive() {
		return models.Video{}, ErrInvalidEarningAmount
	}

	title := strings.TrimSpace(req.Title)
	duration := req.DurationSeconds
	if title == "" || duration == 0 {
		if i.Provider == nil {
			return models.Video{}, ErrProviderUnavailable
		}
		meta, err := i.Provider.Lookup(ctx, sourceURL)
		if err != nil {
			return models.Video{}, fmt.Errorf("lookup video metadata: %w", err)
		}
		if title == "" {
			title = strings.TrimSpace(meta.Title)
		}
		if duration == 0 {
			duration = meta.DurationSeconds
		}
	}
	if math.IsNaN(duration) || math.IsInf(duration, 0) || duration <= 0 {
		return models.Video{}, fmt.Errorf("%w: %v", ErrInvalidDuration, duration)
	}
	if title == "" {
		title = sourceURL
	}

	now := time.Now().UTC()
	if i.NowFunc != nil {
		now = i.NowFunc().UTC()
	}
	video := models.Video{
		ID:              VideoID(sourceURL),
		Title:           title,
		SourceURL:       sourceURL,
		DurationSeconds: duration,
		EarningAmount:   amount,
		CreatedAt:       now,
	}
	err = i.Store.InTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		return tx.CreateVideo(ctx, video)
	})
	if err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			return models.Video{}, ErrAlreadyImported
		}
		return models.Video{}, err
	}

	logging.FromContext(ctx).Info("video imported",
		slog.String("video_id", video.ID),
		slog.String("source_url", sourceURL),
		slog.Float64("duration_seconds", duration),
		slog.String("earning_amount", video.EarningAmount.String()),
	)
	return video, nil
}

func normalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidURL
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return parsed.String(), nil
}
