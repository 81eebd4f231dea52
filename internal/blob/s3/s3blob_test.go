package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftmarket/internal/domain"
	memstore "github.com/alanyoungcy/nftmarket/internal/store/memory"
)

type object struct {
	data      []byte
	multipart bool
}

type fakeWriter struct {
	objects map[string]object
	order   []string
	failAt  int
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{objects: map[string]object{}, failAt: -1}
}

func (w *fakeWriter) store(path string, r io.Reader, multipart bool) error {
	if w.failAt == len(w.order) {
		return errors.New("bucket unavailable")
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	w.objects[path] = object{data: b, multipart: multipart}
	w.order = append(w.order, path)
	return nil
}

func (w *fakeWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	return w.store(path, data, false)
}

func (w *fakeWriter) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	return w.store(path, data, true)
}

var day1 = time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)

func seedEvents(t *testing.T, s *memstore.Store, times ...time.Time) {
	t.Helper()
	key, err := domain.ParseListingKey("0x5FbDB2315678afecb367f032d93F642f64180aa3", "1")
	require.NoError(t, err)
	for _, at := range times {
		err := s.WithinTx(context.Background(), func(ctx context.Context, tx domain.MarketTx) error {
			return tx.AppendEvent(ctx, &domain.Event{Kind: domain.EventNewBid, Key: key, OccurredAt: at})
		})
		require.NoError(t, err)
	}
}

func countLines(t *testing.T, b []byte) []domain.Event {
	t.Helper()
	var out []domain.Event
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		var ev domain.Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		out = append(out, ev)
	}
	return out
}

func TestArchiveEventsSplitsByDay(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(common.Address{})
	seedEvents(t, store,
		day1, day1.Add(time.Hour),
		day1.Add(2*time.Hour),
		day1.Add(30*time.Hour),
		day1.Add(72*time.Hour),
	)

	w := newFakeWriter()
	a := NewEventArchiver(store, store, w, store, 2)

	n, err := a.ArchiveEvents(ctx, day1.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	assert.Equal(t, []string{
		"archive/events/2026-03-01/000000000001-000000000002.jsonl",
		"archive/events/2026-03-02/000000000003-000000000003.jsonl",
		"archive/events/2026-03-03/000000000004-000000000004.jsonl",
	}, w.order)
	got := countLines(t, w.objects[w.order[0]].data)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].Seq)
	assert.False(t, w.objects[w.order[0]].multipart)

	cursor, err := store.LoadCursor(ctx, ArchiveCursor)
	require.NoError(t, err)
	assert.Equal(t, int64(4), cursor)

	audit, err := store.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, audit, 3)

	n, err = a.ArchiveEvents(ctx, day1.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = a.ArchiveEvents(ctx, day1.Add(96*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestArchiveEventsStopsOnUploadFailure(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(common.Address{})
	seedEvents(t, store, day1, day1.Add(26*time.Hour))

	w := newFakeWriter()
	w.failAt = 1
	a := NewEventArchiver(store, store, w, store, 10)

	n, err := a.ArchiveEvents(ctx, day1.Add(100*time.Hour))
	require.Error(t, err)
	assert.Equal(t, int64(1), n)

	cursor, err := store.LoadCursor(ctx, ArchiveCursor)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cursor)

	w.failAt = -1
	n, err = a.ArchiveEvents(ctx, day1.Add(100*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://e2.example.com", normaliseEndpoint("https://e2.example.com", false))
	assert.Equal(t, "http://localhost:9000", normaliseEndpoint("localhost:9000", false))
	assert.Equal(t, "https://minio.internal", normaliseEndpoint("minio.internal", true))
}
