package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/oddslab/predarb/internal/domain"
)

type fakeBlobStore struct {
	objects map[string][]byte
	types   map[string]string
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func (f *fakeBlobStore) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.objects[path] = buf
	f.types[path] = contentType
	return nil
}

func (f *fakeBlobStore) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	return f.Put(context.Background(), path, data, "application/x-ndjson")
}

func (f *fakeBlobStore) Exists(_ context.Context, path string) (bool, error) {
	_, ok := f.objects[path]
	return ok, nil
}

type fakeTradeStore struct {
	trades []domain.Trade
	calls  int
}

func (f *fakeTradeStore) ListBefore(_ context.Context, _ time.Time) ([]domain.Trade, error) {
	f.calls++
	return f.trades, nil
}

func testTrade(id string) domain.Trade {
	return domain.Trade{
		ID:        id,
		Timestamp: time.Date(2026, 7, 14, 10, 0, 0, 0, time.UTC),
		MarketID:  "mkt-1",
		OutcomeID: "yes-1",
		Side:      domain.SideBuy,
		Amount:    25,
		Price:     0.44,
		Fees:      0.07,
	}
}

func TestArchiveTradesWritesJSONL(t *testing.T) {
	blobs := newFakeBlobStore()
	store := &fakeTradeStore{trades: []domain.Trade{testTrade("t-1"), testTrade("t-2")}}
	a := &Archiver{blobs: blobs, probe: blobs, trades: store}

	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	n, err := a.ArchiveTrades(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("ArchiveTrades: %v", err)
	}
	if n != 2 {
		t.Fatalf("archived %d trades, want 2", n)
	}

	body, ok := blobs.objects["archive/trades/2026-08.jsonl"]
	if !ok {
		t.Fatalf("archive object missing, got keys %v", keys(blobs.objects))
	}

	lines := bytes.Split(bytes.TrimRight(body, "\n"), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("got %d JSONL lines, want 2", len(lines))
	}
	var tr domain.Trade
	if err := json.Unmarshal(lines[0], &tr); err != nil {
		t.Fatalf("unmarshal first line: %v", err)
	}
	if tr.ID != "t-1" {
		t.Errorf("first line ID = %q, want t-1", tr.ID)
	}
}

func TestArchiveTradesSkipsExistingMonth(t *testing.T) {
	blobs := newFakeBlobStore()
	blobs.objects["archive/trades/2026-08.jsonl"] = []byte("{}\n")
	store := &fakeTradeStore{trades: []domain.Trade{testTrade("t-1")}}
	a := &Archiver{blobs: blobs, probe: blobs, trades: store}

	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	n, err := a.ArchiveTrades(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("ArchiveTrades: %v", err)
	}
	if n != 0 {
		t.Fatalf("archived %d trades, want 0 for an existing month", n)
	}
	if store.calls != 0 {
		t.Errorf("trade store queried %d times, want 0", store.calls)
	}
}

func TestArchiveReportsUploadsPresentFiles(t *testing.T) {
	dir := t.TempDir()
	report := `{"last_updated":"2026-08-26T00:00:00Z"}`
	if err := os.WriteFile(filepath.Join(dir, "unified_report.json"), []byte(report), 0o644); err != nil {
		t.Fatal(err)
	}

	blobs := newFakeBlobStore()
	a := &Archiver{blobs: blobs, probe: blobs}

	day := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	n, err := a.ArchiveReports(context.Background(), dir, day)
	if err != nil {
		t.Fatalf("ArchiveReports: %v", err)
	}
	if n != 1 {
		t.Fatalf("uploaded %d files, want 1 (live_summary.csv is absent)", n)
	}

	key := "reports/2026-08-26/unified_report.json"
	if string(blobs.objects[key]) != report {
		t.Fatalf("object %s missing or wrong body", key)
	}
	if blobs.types[key] != "application/json" {
		t.Errorf("content type = %q, want application/json", blobs.types[key])
	}
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
