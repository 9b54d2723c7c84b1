package prices

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EquitySync/internal/collector"
	"EquitySync/internal/freshness"
	"EquitySync/internal/model"
	"EquitySync/internal/storage"
)

var fixedNow = time.Date(2026, 1, 9, 18, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func rawBar(date string, close float64) model.RawBar {
	return model.RawBar{Date: d(date), Open: close, High: close, Low: close, Close: close, Volume: int64(1000)}
}

type fixture struct {
	fetcher *collector.MockFetcher
	store   *storage.MemoryStore
	idx     *freshness.Index
	sync    *Synchronizer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		fetcher: collector.NewMockFetcher(),
		store:   storage.NewMemoryStore(),
		idx:     freshness.New(freshness.NewFileStore(filepath.Join(t.TempDir(), "prices_log.json"))),
	}
	f.sync = NewSynchronizer(f.fetcher, f.store, Options{Workers: 2, MaxFillRun: 3}, clock)
	return f
}

func byEntity(results []model.EntityResult) map[model.Entity]model.EntityResult {
	out := make(map[model.Entity]model.EntityResult, len(results))
	for _, r := range results {
		out[r.Entity] = r
	}
	return out
}

func TestSync_DeltaForKnownAndBackfillForNew(t *testing.T) {
	f := newFixture(t)
	// AAA is known through 01-07, BBB has never been synced.
	require.NoError(t, f.store.SaveSeries("AAA", []model.Bar{bar("2026-01-06", 9), bar("2026-01-07", 10)}))
	f.idx.Record("AAA", d("2026-01-07"))

	f.fetcher.Series["AAA"] = []model.RawBar{rawBar("2026-01-07", 99), rawBar("2026-01-08", 11), rawBar("2026-01-09", 12)}
	f.fetcher.Series["BBB"] = []model.RawBar{rawBar("2024-03-01", 50), rawBar("2026-01-09", 55)}

	results := byEntity(f.sync.Sync(context.Background(), f.idx, []model.Entity{"AAA", "BBB"}))

	assert.Equal(t, model.OutcomeUpdated, results["AAA"].Outcome)
	assert.Equal(t, 2, results["AAA"].Rows, "only rows after the last date are fetched")
	aaa, err := f.store.LoadSeries("AAA")
	require.NoError(t, err)
	require.Len(t, aaa, 4)
	assert.Equal(t, 10.0, *aaa[1].Close)

	assert.Equal(t, model.OutcomeUpdated, results["BBB"].Outcome)
	bbb, err := f.store.LoadSeries("BBB")
	require.NoError(t, err)
	assert.Len(t, bbb, 2)

	last, ok := f.idx.Get("AAA")
	require.True(t, ok)
	assert.Equal(t, d("2026-01-09"), last)
	last, ok = f.idx.Get("BBB")
	require.True(t, ok)
	assert.Equal(t, d("2026-01-09"), last)
}

func TestSync_CurrentEntityIsNotFetched(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SaveSeries("AAA", []model.Bar{bar("2026-01-09", 10)}))
	f.idx.Record("AAA", d("2026-01-09"))

	results := f.sync.Sync(context.Background(), f.idx, []model.Entity{"AAA"})
	require.Len(t, results, 1)
	assert.Equal(t, model.OutcomeCurrent, results[0].Outcome)
	assert.Equal(t, 0, f.fetcher.CallCount("series", "AAA"))
}

func TestSync_EmptyDeltaLeavesStorageAndIndex(t *testing.T) {
	f := newFixture(t)
	stored := []model.Bar{bar("2026-01-07", 10)}
	require.NoError(t, f.store.SaveSeries("AAA", stored))
	f.idx.Record("AAA", d("2026-01-07"))
	_, err := f.idx.PersistIfDirty()
	require.NoError(t, err)

	results := f.sync.Sync(context.Background(), f.idx, []model.Entity{"AAA"})
	assert.Equal(t, model.OutcomeEmpty, results[0].Outcome)
	got, err := f.store.LoadSeries("AAA")
	require.NoError(t, err)
	assert.Equal(t, stored, got)
	assert.False(t, f.idx.Dirty())
}

func TestSync_FetchFailureIsIsolated(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SaveSeries("BAD", []model.Bar{bar("2026-01-05", 1)}))
	f.idx.Record("BAD", d("2026-01-05"))
	f.fetcher.Errors["BAD"] = errors.New("provider unavailable")
	f.fetcher.Series["GOOD"] = []model.RawBar{rawBar("2026-01-09", 3)}

	results := byEntity(f.sync.Sync(context.Background(), f.idx, []model.Entity{"BAD", "GOOD"}))

	assert.Equal(t, model.OutcomeFailed, results["BAD"].Outcome)
	assert.Contains(t, results["BAD"].Err, "provider unavailable")
	assert.Equal(t, model.OutcomeUpdated, results["GOOD"].Outcome)

	last, _ := f.idx.Get("BAD")
	assert.Equal(t, d("2026-01-05"), last, "failed entity keeps its entry")
	bad, err := f.store.LoadSeries("BAD")
	require.NoError(t, err)
	assert.Len(t, bad, 1)
}

func TestSync_SaveFailureDoesNotAdvanceIndex(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SaveSeries("AAA", []model.Bar{bar("2026-01-07", 10)}))
	f.idx.Record("AAA", d("2026-01-07"))
	f.fetcher.Series["AAA"] = []model.RawBar{rawBar("2026-01-08", 11)}
	f.store.FailSave["AAA"] = errors.New("disk full")

	results := f.sync.Sync(context.Background(), f.idx, []model.Entity{"AAA"})
	assert.Equal(t, model.OutcomeFailed, results[0].Outcome)
	last, _ := f.idx.Get("AAA")
	assert.Equal(t, d("2026-01-07"), last)

	// The next pass retries from the same point.
	results = f.sync.Sync(context.Background(), f.idx, []model.Entity{"AAA"})
	assert.Equal(t, model.OutcomeUpdated, results[0].Outcome)
	last, _ = f.idx.Get("AAA")
	assert.Equal(t, d("2026-01-08"), last)
}

func TestSync_RecoversMissingIndexEntryFromStorage(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SaveSeries("AAA", []model.Bar{bar("2026-01-07", 10)}))
	f.fetcher.Series["AAA"] = []model.RawBar{rawBar("2025-06-01", 1), rawBar("2026-01-08", 11)}

	results := f.sync.Sync(context.Background(), f.idx, []model.Entity{"AAA"})
	assert.Equal(t, model.OutcomeUpdated, results[0].Outcome)
	assert.Equal(t, 1, results[0].Rows, "resumes after the stored last date instead of backfilling")
}

func TestSync_SeriesAgedOutOfRetentionIsDropped(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SaveSeries("OLD", []model.Bar{bar("2019-12-31", 1)}))
	f.idx.Record("OLD", d("2019-12-31"))
	f.fetcher.Series["OLD"] = []model.RawBar{rawBar("2020-06-01", 2)}

	results := f.sync.Sync(context.Background(), f.idx, []model.Entity{"OLD"})
	assert.Equal(t, model.OutcomeEmpty, results[0].Outcome)
	_, err := f.store.LoadSeries("OLD")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, ok := f.idx.Get("OLD")
	assert.False(t, ok, "index never points at a missing series")
}

func TestSync_RetentionPrunesOnUpdate(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SaveSeries("AAA", []model.Bar{bar("2020-06-01", 1), bar("2026-01-07", 10)}))
	f.idx.Record("AAA", d("2026-01-07"))
	f.fetcher.Series["AAA"] = []model.RawBar{rawBar("2026-01-08", 11)}

	f.sync.Sync(context.Background(), f.idx, []model.Entity{"AAA"})
	got, err := f.store.LoadSeries("AAA")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, d("2026-01-07"), got[0].Date)
}

func TestSync_EmptyDeltaStillExpiresOldRows(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SaveSeries("DLS", []model.Bar{bar("2020-06-01", 1), bar("2025-03-03", 2)}))
	require.NoError(t, f.store.SaveSeries("GONE", []model.Bar{bar("2020-06-01", 1)}))
	f.idx.Record("DLS", d("2025-03-03"))
	f.idx.Record("GONE", d("2020-06-01"))

	results := byEntity(f.sync.Sync(context.Background(), f.idx, []model.Entity{"DLS", "GONE"}))
	assert.Equal(t, model.OutcomeEmpty, results["DLS"].Outcome)
	assert.Equal(t, model.OutcomeEmpty, results["GONE"].Outcome)

	got, err := f.store.LoadSeries("DLS")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, d("2025-03-03"), got[0].Date)
	last, ok := f.idx.Get("DLS")
	require.True(t, ok)
	assert.Equal(t, d("2025-03-03"), last)

	_, err = f.store.LoadSeries("GONE")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, ok = f.idx.Get("GONE")
	assert.False(t, ok)
}

func TestSync_EntryWithoutStoredSeriesIsDropped(t *testing.T) {
	f := newFixture(t)
	f.idx.Record("AAA", d("2026-01-05"))

	results := f.sync.Sync(context.Background(), f.idx, []model.Entity{"AAA"})
	assert.Equal(t, model.OutcomeEmpty, results[0].Outcome)
	_, ok := f.idx.Get("AAA")
	assert.False(t, ok, "next pass plans a full backfill")
}

func TestSync_ConvergesByteForByte(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewFileStore(dir)
	require.NoError(t, err)
	fetcher := collector.NewMockFetcher()
	fetcher.Series["AAA"] = []model.RawBar{rawBar("2026-01-07", 10), rawBar("2026-01-08", 11)}
	fetcher.Series["BBB"] = []model.RawBar{rawBar("2026-01-09", 20)}

	indexPath := filepath.Join(dir, "prices_log.json")
	s := NewSynchronizer(fetcher, store, Options{}, clock)
	entities := []model.Entity{"AAA", "BBB"}

	snapshot := func() map[string][]byte {
		out := map[string][]byte{}
		for _, p := range []string{indexPath, filepath.Join(dir, "prices", "AAA.csv"), filepath.Join(dir, "prices", "BBB.csv")} {
			data, err := os.ReadFile(p)
			require.NoError(t, err)
			out[p] = data
		}
		return out
	}
	pass := func() {
		idx := freshness.Load(freshness.NewFileStore(indexPath), store)
		s.Sync(context.Background(), idx, entities)
		_, err := idx.PersistIfDirty()
		require.NoError(t, err)
	}

	pass()
	first := snapshot()
	pass()
	assert.Equal(t, first, snapshot())
}
