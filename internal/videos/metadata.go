package videos

import "context"

// Metadata captures the video details the catalog needs.
type Metadata struct {
	Title           string
	DurationSeconds float64
	WebpageURL      string
}

// Provider returns metadata for the supplied video URL.
type Provider interface {
	Lookup(ctx context.Context, url string) (Metadata, error)
}
