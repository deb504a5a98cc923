package payouts

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path"
	"time"
)

// ObjectUploader stores settlement files.
type ObjectUploader interface {
	Upload(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
}

// BatchExporter writes opened batches as CSV for the settlement process.
type BatchExporter struct {
	Uploader ObjectUploader
	Prefix   string
}

var exportHeader = []string{"batch_id", "payout_id", "user_id", "amount", "requested_at"}

// Encode renders the batch as CSV.
func Encode(batch Batch) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(exportHeader); err != nil {
		return nil, err
	}
	for _, r := range batch.Requests {
		record := []string{batch.ID, r.ID, r.UserID, r.Amount.StringFixed(2), r.RequestedAt.UTC().Format(time.RFC3339)}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Export uploads the batch and returns the object location. Empty batches are
// not written.
func (e *BatchExporter) Export(ctx context.Context, batch Batch) (string, error) {
	if e == nil || e.Uploader == nil || len(batch.Requests) == 0 {
		return "", nil
	}
	body, err := Encode(batch)
	if err != nil {
		return "", fmt.Errorf("encode batch %s: %w", batch.ID, err)
	}
	key := path.Join(e.Prefix, batch.OpenedAt.UTC().Format("2006/01/02"), batch.ID+".csv")
	location, err := e.Uploader.Upload(ctx, key, bytes.NewReader(body), "text/csv")
	if err != nil {
		return "", fmt.Errorf("upload batch %s: %w", batch.ID, err)
	}
	return location, nil
}
