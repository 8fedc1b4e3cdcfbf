package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/trailstop/internal/domain"
)

const contentTypeJSONL = "application/x-ndjson"

// multipartThreshold is the payload size above which uploads go through the
// multipart manager.
const multipartThreshold = 8 * 1024 * 1024

const archivePrefix = "archive/"

// tradeSource is the part of domain.TradeStore the archiver needs. There is
// no delete: holdings replay every trade of a symbol, so trade rows outlive
// their archive copy.
type tradeSource interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.TradeRecord, error)
}

// auditSource is the part of domain.AuditStore the archiver needs.
type auditSource interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.AuditEntry, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
	Log(ctx context.Context, event string, detail map[string]any) error
}

// Archiver implements domain.Archiver. Rows older than the cutoff are
// written as JSONL to one object per calendar month of the row timestamp and
// merged into any object already there; a row whose id the object already
// holds is not written twice. Audit rows are then deleted from the database.
// Trade rows stay.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	trades tradeSource
	audit  auditSource
	logger *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	trades tradeSource,
	audit auditSource,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		writer: writer,
		reader: reader,
		trades: trades,
		audit:  audit,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// archiveRecord is one JSONL line; its id keys de-duplication.
type archiveRecord interface {
	recordID() int64
}

type archivedTrade struct {
	ID        int64     `json:"id"`
	Symbol    string    `json:"symbol"`
	Type      string    `json:"type"`
	Price     string    `json:"price"`
	Quantity  string    `json:"quantity"`
	Fee       string    `json:"fee"`
	Timestamp time.Time `json:"timestamp"`
}

type archivedAudit struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func (t archivedTrade) recordID() int64 { return t.ID }
func (e archivedAudit) recordID() int64 { return e.ID }

// ArchiveTrades copies trades older than before to archive/trades/ and
// returns how many were newly written. Running it again over the same window
// writes nothing.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	byMonth := make(map[string][]archiveRecord)
	for _, t := range trades {
		path := archivePath("trades", t.Timestamp)
		byMonth[path] = append(byMonth[path], archivedTrade{
			ID:        t.ID,
			Symbol:    t.Symbol,
			Type:      string(t.Type),
			Price:     t.Price.String(),
			Quantity:  t.Quantity.String(),
			Fee:       t.Fee.String(),
			Timestamp: t.Timestamp.UTC(),
		})
	}
	written, err := a.upload(ctx, byMonth)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades: %w", err)
	}
	a.record(ctx, "archive.trades", map[string]any{
		"paths":    sortedPaths(byMonth),
		"archived": written,
		"before":   before.UTC().Format(time.RFC3339),
	})
	return written, nil
}

// ArchiveAudit moves audit entries older than before to archive/audit/.
func (a *Archiver) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.ListBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	byMonth := make(map[string][]archiveRecord)
	for _, e := range entries {
		path := archivePath("audit", e.CreatedAt)
		byMonth[path] = append(byMonth[path], archivedAudit{
			ID:        e.ID,
			Event:     e.Event,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt.UTC(),
		})
	}
	if _, err := a.upload(ctx, byMonth); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit: %w", err)
	}

	deleted, err := a.audit.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit delete: %w", err)
	}
	if deleted != int64(len(entries)) {
		a.logger.WarnContext(ctx, "archiver: deleted row count differs from archived",
			slog.Int("archived", len(entries)),
			slog.Int64("deleted", deleted),
		)
	}
	a.record(ctx, "archive.audit", map[string]any{
		"paths":    sortedPaths(byMonth),
		"archived": len(entries),
		"deleted":  deleted,
		"before":   before.UTC().Format(time.RFC3339),
	})
	return int64(len(entries)), nil
}

// upload writes each month file, appending the records the stored object
// does not already hold. It returns the number of records appended.
func (a *Archiver) upload(ctx context.Context, byMonth map[string][]archiveRecord) (int64, error) {
	var written int64
	for _, path := range sortedPaths(byMonth) {
		existing, seen, err := a.existing(ctx, path)
		if err != nil {
			return written, err
		}

		var fresh []archiveRecord
		for _, rec := range byMonth[path] {
			if !seen[rec.recordID()] {
				fresh = append(fresh, rec)
			}
		}
		if len(fresh) == 0 {
			continue
		}

		lines, err := marshalJSONL(fresh)
		if err != nil {
			return written, fmt.Errorf("marshal %s: %w", path, err)
		}
		body := append(existing, lines...)

		if len(body) > multipartThreshold {
			err = a.writer.PutMultipart(ctx, path, bytes.NewReader(body), 0)
		} else {
			err = a.writer.Put(ctx, path, bytes.NewReader(body), contentTypeJSONL)
		}
		if err != nil {
			return written, fmt.Errorf("upload %s: %w", path, err)
		}
		written += int64(len(fresh))
		a.logger.InfoContext(ctx, "archiver: uploaded",
			slog.String("path", path),
			slog.Int("records", len(fresh)),
			slog.Int("bytes", len(body)),
		)
	}
	return written, nil
}

// existing returns the stored object at path, newline-terminated, and the
// ids it holds.
func (a *Archiver) existing(ctx context.Context, path string) ([]byte, map[int64]bool, error) {
	seen := make(map[int64]bool)
	rc, err := a.reader.Get(ctx, path)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, seen, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read existing %s: %w", path, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, nil, fmt.Errorf("read existing %s: %w", path, err)
	}
	if len(data) > 0 && data[len(data)-1] != '\n' {
		data = append(data, '\n')
	}
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		var row struct {
			ID *int64 `json:"id"`
		}
		if json.Unmarshal(line, &row) == nil && row.ID != nil {
			seen[*row.ID] = true
		}
	}
	return data, seen, nil
}

func (a *Archiver) record(ctx context.Context, event string, detail map[string]any) {
	if err := a.audit.Log(ctx, event, detail); err != nil {
		a.logger.WarnContext(ctx, "archiver: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func sortedPaths(byMonth map[string][]archiveRecord) []string {
	paths := make([]string, 0, len(byMonth))
	for p := range byMonth {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Inventory lists the objects under archive/, sorted by path.
func (a *Archiver) Inventory(ctx context.Context) ([]domain.BlobInfo, error) {
	infos, err := a.reader.List(ctx, archivePrefix)
	if err != nil {
		return nil, fmt.Errorf("s3blob: inventory: %w", err)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	return infos, nil
}

// archivePath builds the object key, e.g. archive/trades/2025-01.jsonl.
func archivePath(kind string, ts time.Time) string {
	return fmt.Sprintf("%s%s/%s.jsonl", archivePrefix, kind, ts.UTC().Format("2006-01"))
}

// marshalJSONL encodes one compact JSON value per line.
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

var _ domain.Archiver = (*Archiver)(nil)
