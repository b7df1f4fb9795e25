// Package snapshot persists reconciliation snapshots as partitioned,
// gzip-compressed JSON files. It is the local stand-in for an object-store
// uploader and consumes only the snapshot payload.
package snapshot

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"

	"reconciler.transitchat.org/internal/logging"
	"reconciler.transitchat.org/internal/models"
)

// Writer stores snapshots under
// <dir>/<agency>/<yyyy>/<mm>/<dd>/<kind>-<unix>.json.gz.
type Writer struct {
	dir    string
	logger *slog.Logger
}

func NewWriter(dir string, logger *slog.Logger) *Writer {
	return &Writer{dir: dir, logger: logger}
}

// Write persists the snapshot, timestamped at now, and returns the final
// path. The file appears atomically: data is written to a temp file in the
// target directory and renamed into place.
func (w *Writer) Write(snap *models.Snapshot, now time.Time) (string, error) {
	dir := filepath.Join(w.dir, snap.Agency, now.Format("2006"), now.Format("01"), now.Format("02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating snapshot partition: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s-%d.json.gz", snap.Kind, now.Unix()))

	tmp, err := os.CreateTemp(dir, "."+snap.Kind.String()+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating snapshot temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := w.encode(tmp, snap); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing snapshot temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("publishing snapshot: %w", err)
	}

	logging.LogOperation(w.logger, "snapshot_written",
		slog.String("agency_id", snap.Agency),
		slog.String("kind", snap.Kind.String()),
		slog.String("path", path))

	return path, nil
}

func (w *Writer) encode(f *os.File, snap *models.Snapshot) error {
	gz := gzip.NewWriter(f)
	if err := json.NewEncoder(gz).Encode(snap); err != nil {
		_ = gz.Close()
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("flushing snapshot gzip stream: %w", err)
	}
	return nil
}
