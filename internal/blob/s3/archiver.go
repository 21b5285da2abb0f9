package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/oddslab/predarb/internal/domain"
)

// multipartThreshold is the payload size above which trade archives switch
// from a single PutObject to a multipart upload.
const multipartThreshold = 8 * 1024 * 1024

// reportFiles are the report artifacts uploaded by ArchiveReports, with
// their content types. Missing local files are skipped.
var reportFiles = map[string]string{
	"unified_report.json": "application/json",
	"live_summary.csv":    "text/csv",
}

// TradeArchiveStore provides read access to trades for archival. The
// Postgres trade store satisfies it through its ListBefore method.
type TradeArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error)
}

// uploader is the slice of the blob writer the archiver needs.
type uploader interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// prober checks for already-archived objects so re-runs are idempotent.
type prober interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver ships old trade history and the current report files to object
// storage. Deleting archived trades from the primary store is a separate,
// explicit step taken after the archive has been verified.
type Archiver struct {
	blobs  uploader
	probe  prober
	trades TradeArchiveStore
}

// NewArchiver creates an Archiver over the given writer, reader, and trade
// store. The trade store may be nil when only report archiving is wired.
func NewArchiver(w *Writer, r *Reader, trades TradeArchiveStore) *Archiver {
	return &Archiver{blobs: w, probe: r, trades: trades}
}

// ArchiveTrades uploads all trades before the cutoff as JSONL at
// archive/trades/YYYY-MM.jsonl, partitioned by the cutoff month. A month
// that has already been archived is skipped. Returns the number of trades
// written.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	if a.trades == nil {
		return 0, fmt.Errorf("s3blob: trade archiving is not configured")
	}

	path := archivePath("trades", before)
	exists, err := a.probe.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades probe: %w", err)
	}
	if exists {
		return 0, nil
	}

	trades, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	if int64(len(buf)) > multipartThreshold {
		err = a.blobs.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.blobs.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	return int64(len(trades)), nil
}

// ArchiveReports uploads the report files found in dir under
// reports/YYYY-MM-DD/, overwriting any earlier upload for the same day.
// Returns the number of files uploaded.
func (a *Archiver) ArchiveReports(ctx context.Context, dir string, day time.Time) (int, error) {
	prefix := "reports/" + day.Format("2006-01-02")

	var uploaded int
	for name, contentType := range reportFiles {
		f, err := os.Open(filepath.Join(dir, name))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return uploaded, fmt.Errorf("s3blob: archive report open %s: %w", name, err)
		}

		err = a.blobs.Put(ctx, prefix+"/"+name, f, contentType)
		f.Close()
		if err != nil {
			return uploaded, fmt.Errorf("s3blob: archive report upload %s: %w", name, err)
		}
		uploaded++
	}

	return uploaded, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff.
//
//	archive/trades/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON, one compact
// line per record.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
