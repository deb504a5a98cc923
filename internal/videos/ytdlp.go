package videos

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CommandRunner executes external commands and returns stdout bytes.
type CommandRunner func(ctx context.Context, binary string, args ...string) ([]byte, error)

// YTDLPProvider fetches catalog metadata using the yt-dlp CLI tool.
type YTDLPProvider struct {
	Binary  string
	Args    []string
	Run     CommandRunner
	Timeout time.Duration
}

// NewYTDLPProvider constructs a Provider that shells out to yt-dlp.
func NewYTDLPProvider(binary string, timeout time.Duration) *YTDLPProvider {
	if strings.TrimSpace(binary) == "" {
		binary = "yt-dlp"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &YTDLPProvider{
		Binary:  binary,
		Args:    []string{"--dump-single-json", "--no-warnings", "--no-playlist", "--skip-download"},
		Run:     defaultCommandRunner,
		Timeout: timeout,
	}
}

type ytdlpPayload struct {
	Type       string   `json:"_type"`
	Title      string   `json:"title"`
	Duration   *float64 `json:"duration"`
	IsLive     bool     `json:"is_live"`
	WebpageURL string   `json:"webpage_url"`
}

// Lookup executes yt-dlp for the provided URL and parses the title and
// duration. Tool failures wrap ErrProviderUnavailable. Live streams and
// playlists have no fixed length and wrap ErrInvalidDuration.
func (p *YTDLPProvider) Lookup(ctx context.Context, url string) (Metadata, error) {
	if p == nil {
		return Metadata{}, ErrProviderUnavailable
	}
	run := p.Run
	if run == nil {
		run = defaultCommandRunner
	}

	execCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	args := append(append([]string{}, p.Args...), url)
	out, err := run(execCtx, p.Binary, args...)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: yt-dlp: %w", ErrProviderUnavailable, err)
	}

	var payload ytdlpPayload
	if err := json.Unmarshal(out, &payload); err != nil {
		return Metadata{}, fmt.Errorf("%w: parse yt-dlp response: %w", ErrProviderUnavailable, err)
	}

	switch {
	case payload.Type == "playlist":
		return Metadata{}, fmt.Errorf("%w: url is a playlist", ErrInvalidDuration)
	case payload.IsLive:
		return Metadata{}, fmt.Errorf("%w: url is a live stream", ErrInvalidDuration)
	case payload.Title == "" && payload.Duration == nil:
		return Metadata{}, fmt.Errorf("%w: yt-dlp returned empty metadata", ErrProviderUnavailable)
	}

	meta := Metadata{Title: payload.Title, WebpageURL: payload.WebpageURL}
	if payload.Duration != nil {
		meta.DurationSeconds = *payload.Duration
	}
	return meta, nil
}

// defaultCommandRunner runs the binary and folds the first stderr line into
// the error so failures are diagnosable from logs.
func defaultCommandRunner(ctx context.Context, binary string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, binary, args...).Output()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if line, _, _ := bytes.Cut(bytes.TrimSpace(exitErr.Stderr), []byte("\n")); len(line) > 0 {
			return nil, fmt.Errorf("%w: %s", err, line)
		}
	}
	return out, err
}
