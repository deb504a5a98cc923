package videos

import "errors"

var (
	// ErrProviderUnavailable indicates the metadata provider is not configured.
	ErrProviderUnavailable = errors.New("video metadata provider unavailable")
	// ErrInvalidDuration indicates a video without a positive duration.
	ErrInvalidDuration = errors.New("video duration must be positive")
	// ErrInvalidEarningAmount indicates a non-positive per-video reward.
	ErrInvalidEarningAmount = errors.New("video earning amount must be positive")
	// ErrInvalidURL indicates a missing or malformed source URL.
	ErrInvalidURL = errors.New("video url is invalid")
	// ErrAlreadyImported indicates the source URL is already in the catalog.
	ErrAlreadyImported = errors.New("video already imported")
)
