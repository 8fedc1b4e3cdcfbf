package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/trailstop/internal/domain"
)

type memBlobs struct {
	objects   map[string][]byte
	putErr    error
	multipart int
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: map[string][]byte{}} }

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if m.putErr != nil {
		return m.putErr
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	m.multipart++
	return m.Put(ctx, path, data, "")
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for path, data := range m.objects {
		if strings.HasPrefix(path, prefix) {
			out = append(out, domain.BlobInfo{Path: path, Size: int64(len(data))})
		}
	}
	return out, nil
}

type memTrades struct {
	rows []domain.TradeRecord
}

func (s *memTrades) ListBefore(_ context.Context, before time.Time, _ int) ([]domain.TradeRecord, error) {
	var out []domain.TradeRecord
	for _, t := range s.rows {
		if t.Timestamp.Before(before) {
			out = append(out, t)
		}
	}
	return out, nil
}

type memAudit struct {
	rows   []domain.AuditEntry
	logged []string
}

func (s *memAudit) ListBefore(_ context.Context, before time.Time, _ int) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	for _, e := range s.rows {
		if e.CreatedAt.Before(before) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memAudit) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	var kept []domain.AuditEntry
	var n int64
	for _, e := range s.rows {
		if e.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	s.rows = kept
	return n, nil
}

func (s *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	s.logged = append(s.logged, event)
	return nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func lines(t *testing.T, b []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("bad jsonl line %q: %v", sc.Text(), err)
		}
		out = append(out, m)
	}
	return out
}

func tradeAt(id int64, ts time.Time) domain.TradeRecord {
	return domain.TradeRecord{
		ID: id, Symbol: "BTC", Type: domain.TradeAcquire,
		Price: decimal.RequireFromString("50000.5"), Quantity: decimal.RequireFromString("0.1"),
		Fee: decimal.Zero, Timestamp: ts,
	}
}

func TestArchiveTrades_PartitionsByMonthAndKeepsRows(t *testing.T) {
	blobs := newMemBlobs()
	trades := &memTrades{rows: []domain.TradeRecord{
		tradeAt(1, time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)),
		tradeAt(2, time.Date(2026, 2, 7, 0, 0, 0, 0, time.UTC)),
		tradeAt(3, time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC)),
		tradeAt(4, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)),
	}}
	audit := &memAudit{}
	a := NewArchiver(blobs, blobs, trades, audit, discard())

	n, err := a.ArchiveTrades(context.Background(), time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ArchiveTrades() error = %v", err)
	}
	if n != 3 {
		t.Errorf("archived = %d, want 3", n)
	}
	if got := lines(t, blobs.objects["archive/trades/2026-01.jsonl"]); len(got) != 1 || got[0]["price"] != "50000.5" {
		t.Errorf("2026-01 = %v", got)
	}
	if got := lines(t, blobs.objects["archive/trades/2026-02.jsonl"]); len(got) != 2 {
		t.Errorf("2026-02 = %v", got)
	}
	if len(trades.rows) != 4 {
		t.Errorf("trade rows = %d, want all 4 kept", len(trades.rows))
	}
	if len(audit.logged) != 1 || audit.logged[0] != "archive.trades" {
		t.Errorf("audit = %v", audit.logged)
	}
}

func TestArchiveTrades_AppendsToExistingObject(t *testing.T) {
	blobs := newMemBlobs()
	blobs.objects["archive/trades/2026-01.jsonl"] = []byte(`{"id":0}`)
	trades := &memTrades{rows: []domain.TradeRecord{tradeAt(1, time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))}}
	a := NewArchiver(blobs, blobs, trades, &memAudit{}, discard())

	if _, err := a.ArchiveTrades(context.Background(), time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("ArchiveTrades() error = %v", err)
	}
	got := lines(t, blobs.objects["archive/trades/2026-01.jsonl"])
	if len(got) != 2 || got[0]["id"] != float64(0) || got[1]["id"] != float64(1) {
		t.Errorf("merged = %v", got)
	}
}

func TestArchiveTrades_RerunSkipsArchivedRows(t *testing.T) {
	blobs := newMemBlobs()
	trades := &memTrades{rows: []domain.TradeRecord{
		tradeAt(1, time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)),
		tradeAt(2, time.Date(2026, 1, 9, 0, 0, 0, 0, time.UTC)),
	}}
	a := NewArchiver(blobs, blobs, trades, &memAudit{}, discard())
	cutoff := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	if n, err := a.ArchiveTrades(context.Background(), cutoff); n != 2 || err != nil {
		t.Fatalf("first ArchiveTrades() = %d, %v, want 2", n, err)
	}
	trades.rows = append(trades.rows, tradeAt(3, time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)))

	n, err := a.ArchiveTrades(context.Background(), cutoff)
	if err != nil || n != 1 {
		t.Fatalf("second ArchiveTrades() = %d, %v, want 1", n, err)
	}
	got := lines(t, blobs.objects["archive/trades/2026-01.jsonl"])
	if len(got) != 3 {
		t.Fatalf("2026-01 has %d lines, want 3 without duplicates", len(got))
	}
	for i, want := range []float64{1, 2, 3} {
		if got[i]["id"] != want {
			t.Errorf("line %d id = %v, want %v", i, got[i]["id"], want)
		}
	}
}

func TestArchiveTrades_UploadFailure(t *testing.T) {
	blobs := newMemBlobs()
	blobs.putErr = errors.New("bucket gone")
	trades := &memTrades{rows: []domain.TradeRecord{tradeAt(1, time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))}}
	a := NewArchiver(blobs, blobs, trades, &memAudit{}, discard())

	if _, err := a.ArchiveTrades(context.Background(), time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)); err == nil {
		t.Fatal("ArchiveTrades() succeeded with failing upload")
	}
}

func TestArchiveAudit(t *testing.T) {
	blobs := newMemBlobs()
	audit := &memAudit{rows: []domain.AuditEntry{
		{ID: 1, Event: "stop_updated", Detail: map[string]any{"symbol": "BTCUSDT"}, CreatedAt: time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)},
		{ID: 2, Event: "stop_updated", CreatedAt: time.Date(2026, 6, 3, 0, 0, 0, 0, time.UTC)},
	}}
	a := NewArchiver(blobs, blobs, &memTrades{}, audit, discard())

	n, err := a.ArchiveAudit(context.Background(), time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	if err != nil || n != 1 {
		t.Fatalf("ArchiveAudit() = %d, %v", n, err)
	}
	got := lines(t, blobs.objects["archive/audit/2026-01.jsonl"])
	if len(got) != 1 || got[0]["event"] != "stop_updated" {
		t.Errorf("archive = %v", got)
	}
	if len(audit.rows) != 1 || audit.rows[0].ID != 2 {
		t.Errorf("remaining = %+v", audit.rows)
	}
}

func TestArchive_NothingToDo(t *testing.T) {
	blobs := newMemBlobs()
	a := NewArchiver(blobs, blobs, &memTrades{}, &memAudit{}, discard())
	if n, err := a.ArchiveTrades(context.Background(), time.Now()); n != 0 || err != nil {
		t.Errorf("ArchiveTrades() = %d, %v", n, err)
	}
	if len(blobs.objects) != 0 {
		t.Error("uploaded an empty archive")
	}
}

func TestNormaliseEndpoint(t *testing.T) {
	tests := map[string]struct {
		in     string
		useSSL bool
		want   string
	}{
		"scheme kept":   {"https://s3.example.com", false, "https://s3.example.com"},
		"bare with tls": {"minio:9000", true, "https://minio:9000"},
		"bare plain":    {"localhost:9000", false, "http://localhost:9000"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			if got := normaliseEndpoint(tt.in, tt.useSSL); got != tt.want {
				t.Errorf("normaliseEndpoint() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInventory_ListsArchiveObjects(t *testing.T) {
	blobs := newMemBlobs()
	blobs.objects["archive/trades/2026-02.jsonl"] = []byte("{}\n{}\n")
	blobs.objects["archive/audit/2026-01.jsonl"] = []byte("{}\n")
	blobs.objects["exports/other.csv"] = []byte("x")
	a := NewArchiver(blobs, blobs, &memTrades{}, &memAudit{}, discard())

	infos, err := a.Inventory(context.Background())
	if err != nil {
		t.Fatalf("Inventory() error = %v", err)
	}
	if len(infos) != 2 || infos[0].Path != "archive/audit/2026-01.jsonl" || infos[1].Size != 6 {
		t.Errorf("inventory = %+v", infos)
	}
}
