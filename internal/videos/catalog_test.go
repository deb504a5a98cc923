package videos

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/watchearn/backend/internal/repositories"
)

func TestImporterUsesProviderMetadata(t *testing.T) {
	store := repositories.NewMemoryStore()
	provider := &stubProvider{metadata: Metadata{Title: "Cooking 101", DurationSeconds: 300}}
	importer := NewImporter(store, provider)
	importer.NowFunc = func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }

	video, err := importer.Import(context.Background(), ImportRequest{
		URL:           "https://example.com/watch?v=abc",
		EarningAmount: decimal.RequireFromString("0.755"),
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if video.Title != "Cooking 101" || video.DurationSeconds != 300 {
		t.Fatalf("unexpected video %+v", video)
	}
	if video.ID != VideoID("https://example.com/watch?v=abc") {
		t.Fatalf("expected deterministic id, got %s", video.ID)
	}
	if !video.EarningAmount.Equal(decimal.RequireFromString("0.76")) {
		t.Fatalf("expected amount rounded to cents, got %s", video.EarningAmount)
	}

	var stored bool
	err = store.InTx(context.Background(), func(ctx context.Context, tx repositories.Tx) error {
		_, err := tx.GetVideo(ctx, video.ID)
		stored = err == nil
		return nil
	})
	if err != nil || !stored {
		t.Fatalf("expected video to be stored")
	}

	if _, err := importer.Import(context.Background(), ImportRequest{
		URL:           "https://example.com/watch?v=abc",
		EarningAmount: decimal.NewFromInt(1),
	}); !errors.Is(err, ErrAlreadyImported) {
		t.Fatalf("expected ErrAlreadyImported, got %v", err)
	}
}

func TestImporterRejectsBadInput(t *testing.T) {
	store := repositories.NewMemoryStore()
	live := &stubProvider{metadata: Metadata{Title: "Live"}}
	importer := NewImporter(store, live)
	ctx := context.Background()

	cases := []struct {
		name string
		req  ImportRequest
		want error
	}{
		{name: "missing url", req: ImportRequest{EarningAmount: decimal.NewFromInt(1)}, want: ErrInvalidURL},
		{name: "relative url", req: ImportRequest{URL: "/watch", EarningAmount: decimal.NewFromInt(1)}, want: ErrInvalidURL},
		{name: "zero amount", req: ImportRequest{URL: "https://example.com/a"}, want: ErrInvalidEarningAmount},
		{name: "sub-cent amount", req: ImportRequest{URL: "https://example.com/a", Title: "A", DurationSeconds: 60, EarningAmount: decimal.RequireFromString("0.004")}, want: ErrInvalidEarningAmount},
		{name: "no duration", req: ImportRequest{URL: "https://example.com/a", EarningAmount: decimal.NewFromInt(1)}, want: ErrInvalidDuration},
		{name: "negative override", req: ImportRequest{URL: "https://example.com/b", Title: "B", DurationSeconds: -5, EarningAmount: decimal.NewFromInt(1)}, want: ErrInvalidDuration},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := importer.Import(ctx, tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestImporterOverridesSkipProvider(t *testing.T) {
	store := repositories.NewMemoryStore()
	importer := NewImporter(store, nil)

	video, err := importer.Import(context.Background(), ImportRequest{
		URL:             "https://example.com/c",
		Title:           "Manual",
		DurationSeconds: 90,
		EarningAmount:   decimal.NewFromInt(1),
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if video.Title != "Manual" || video.DurationSeconds != 90 {
		t.Fatalf("unexpected video %+v", video)
	}

	if _, err := importer.Import(context.Background(), ImportRequest{
		URL:           "https://example.com/d",
		EarningAmount: decimal.NewFromInt(1),
	}); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}
