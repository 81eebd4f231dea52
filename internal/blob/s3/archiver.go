package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

const (
	// ArchiveCursor is the event-log cursor the archiver advances.
	ArchiveCursor = "archive"
	// ArchivePrefix is where archived event files live in the bucket.
	ArchivePrefix = "archive/events/"

	jsonlContentType = "application/x-ndjson"
	// multipartThreshold switches uploads to the transfer manager.
	multipartThreshold = 8 * 1024 * 1024
	defaultBatch       = 1000
)

// EventArchiver copies events older than a cutoff from the event log into
// JSONL objects, one object per UTC day per batch:
//
//	archive/events/2026-03-01/000000000001-000000000420.jsonl
//
// The log itself is left untouched; the archive cursor only moves forward
// once an object is uploaded and the audit entry is written.
type EventArchiver struct {
	log     domain.EventLog
	cursors domain.CursorStore
	writer  domain.BlobWriter
	audit   domain.AuditStore
	batch   int
}

// NewEventArchiver creates an EventArchiver. A non-positive batch selects
// 1000 events per read.
func NewEventArchiver(
	log domain.EventLog,
	cursors domain.CursorStore,
	writer domain.BlobWriter,
	audit domain.AuditStore,
	batch int,
) *EventArchiver {
	if batch <= 0 {
		batch = defaultBatch
	}
	return &EventArchiver{log: log, cursors: cursors, writer: writer, audit: audit, batch: batch}
}

// ArchiveEvents uploads every not yet archived event that occurred before
// the cutoff and returns how many it archived. It stops at the first event
// at or after the cutoff so the archive stays a contiguous prefix of the log.
func (a *EventArchiver) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	cursor, err := a.cursors.LoadCursor(ctx, ArchiveCursor)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive: load cursor: %w", err)
	}

	var total int64
	for {
		events, err := a.log.EventsAfter(ctx, cursor, a.batch)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive: read log after %d: %w", cursor, err)
		}

		eligible := events
		for i, ev := range events {
			if !ev.OccurredAt.Before(before) {
				eligible = events[:i]
				break
			}
		}

		for _, chunk := range splitByDay(eligible) {
			if err := a.upload(ctx, chunk, before); err != nil {
				return total, err
			}
			cursor = chunk[len(chunk)-1].Seq
			total += int64(len(chunk))
		}

		if len(eligible) < a.batch {
			return total, nil
		}
	}
}

func (a *EventArchiver) upload(ctx context.Context, chunk []domain.Event, before time.Time) error {
	first, last := chunk[0].Seq, chunk[len(chunk)-1].Seq
	path := ArchivePath(chunk[0].OccurredAt, first, last)

	buf, err := marshalJSONL(chunk)
	if err != nil {
		return fmt.Errorf("s3blob: archive: encode %s: %w", path, err)
	}
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return fmt.Errorf("s3blob: archive: upload: %w", err)
	}

	if err := a.audit.Log(ctx, "archive.events", map[string]any{
		"path":      path,
		"first_seq": first,
		"last_seq":  last,
		"count":     len(chunk),
		"bytes":     len(buf),
		"before":    before.UTC().Format(time.RFC3339),
	}); err != nil {
		return fmt.Errorf("s3blob: archive: audit %s: %w", path, err)
	}
	if err := a.cursors.SaveCursor(ctx, ArchiveCursor, last); err != nil {
		return fmt.Errorf("s3blob: archive: save cursor %d: %w", last, err)
	}
	return nil
}

// ArchivePath names the object holding events first..last that occurred on
// day's UTC date.
func ArchivePath(day time.Time, first, last int64) string {
	return fmt.Sprintf("%s%s/%012d-%012d.jsonl", ArchivePrefix, day.UTC().Format("2006-01-02"), first, last)
}

// splitByDay cuts events into runs that share a UTC calendar day.
func splitByDay(events []domain.Event) [][]domain.Event {
	var out [][]domain.Event
	start := 0
	for i := 1; i <= len(events); i++ {
		if i == len(events) || !sameDay(events[i].OccurredAt, events[start].OccurredAt) {
			if i > start {
				out = append(out, events[start:i])
			}
			start = i
		}
	}
	return out
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// marshalJSONL encodes one compact JSON document per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.EventArchiver = (*EventArchiver)(nil)
