package validate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EquitySync/internal/model"
)

func day(d int) time.Time {
	return time.Date(2026, 3, d, 0, 0, 0, 0, time.UTC)
}

func raw(e model.Entity, d int, close any, volume any) model.RawBar {
	return model.RawBar{
		Entity: e, Date: day(d),
		Open: 10.0, High: 11.0, Low: 9.0, Close: close,
		Volume: volume, Dividends: 0.0, StockSplits: 0.0,
	}
}

func TestClean_MasksAnomaliesOnly(t *testing.T) {
	rows := []model.RawBar{
		{Entity: "AAA", Date: day(2), Open: 0.0, High: 11.0, Low: 9.0, Close: 10.5, Volume: int64(-5), Dividends: 0.0, StockSplits: 0.0},
		raw("AAA", 3, 10.7, int64(1200)),
	}

	got := Clean(rows, Options{})
	require.Len(t, got, 2)

	first := got[0]
	assert.Nil(t, first.Open, "zero price must be masked")
	assert.Nil(t, first.Volume, "negative volume must be masked")
	require.NotNil(t, first.High)
	assert.Equal(t, 11.0, *first.High)
	require.NotNil(t, first.Low)
	assert.Equal(t, 9.0, *first.Low)
	require.NotNil(t, first.Close)
	assert.Equal(t, 10.5, *first.Close)

	second := got[1]
	require.NotNil(t, second.Open)
	require.NotNil(t, second.Volume)
	assert.Equal(t, int64(1200), *second.Volume)
}

func TestClean_ZeroVolumeIsKept(t *testing.T) {
	got := Clean([]model.RawBar{raw("AAA", 2, 10.0, 0.0)}, Options{MaxFillRun: 3})
	require.NotNil(t, got[0].Volume)
	assert.Equal(t, int64(0), *got[0].Volume)
}

func TestClean_CoercesNonNumericToAbsent(t *testing.T) {
	rows := []model.RawBar{
		raw("AAA", 2, "n/a", "12.5"),
		raw("AAA", 3, "10.25", "300"),
	}
	got := Clean(rows, Options{})
	require.Len(t, got, 2, "rows are never dropped")
	assert.Nil(t, got[0].Close)
	assert.Nil(t, got[0].Volume, "fractional volume is not a volume")
	require.NotNil(t, got[1].Close)
	assert.Equal(t, 10.25, *got[1].Close)
	assert.Equal(t, int64(300), *got[1].Volume)
}

func TestClean_SortsByEntityThenDate(t *testing.T) {
	rows := []model.RawBar{
		raw("BBB", 3, 1.0, 1.0),
		raw("AAA", 4, 1.0, 1.0),
		raw("BBB", 2, 1.0, 1.0),
		raw("AAA", 1, 1.0, 1.0),
	}
	got := Clean(rows, Options{})
	var order []string
	for _, b := range got {
		order = append(order, string(b.Entity)+b.Date.Format("02"))
	}
	assert.Equal(t, []string{"AAA01", "AAA04", "BBB02", "BBB03"}, order)
}

func TestClean_FillIsBoundedAndPerEntity(t *testing.T) {
	rows := []model.RawBar{
		raw("AAA", 1, 10.0, 1.0),
		raw("AAA", 2, nil, 1.0),
		raw("AAA", 3, nil, 1.0),
		raw("AAA", 4, 12.0, 1.0),
		raw("AAA", 5, nil, 1.0),
		raw("AAA", 6, nil, 1.0),
		raw("AAA", 7, nil, 1.0),
		raw("AAA", 8, nil, 1.0),
		raw("AAA", 9, 13.0, 1.0),
		// BBB starts with a gap: nothing before it may leak in from AAA.
		raw("BBB", 1, nil, 1.0),
		raw("BBB", 2, 20.0, 1.0),
	}
	got := Clean(rows, Options{MaxFillRun: 2})

	closes := make([]*float64, len(got))
	for i, b := range got {
		closes[i] = b.Close
	}
	require.NotNil(t, closes[1])
	assert.Equal(t, 10.0, *closes[1])
	require.NotNil(t, closes[2])
	assert.Equal(t, 10.0, *closes[2])
	for i := 4; i <= 7; i++ {
		assert.Nil(t, closes[i], "long gap at row %d must stay absent", i)
	}
	assert.Nil(t, closes[9], "fill must not cross entities")
	require.NotNil(t, closes[10])
}

func TestClean_NeverFillsBackward(t *testing.T) {
	rows := []model.RawBar{
		raw("AAA", 2, nil, 1.0),
		raw("AAA", 3, 5.0, 1.0),
	}
	got := Clean(rows, Options{MaxFillRun: 3})
	assert.Nil(t, got[0].Close)
}

func TestRevalidate_Idempotent(t *testing.T) {
	rows := []model.RawBar{
		raw("AAA", 1, 10.0, 1.0),
		raw("AAA", 2, nil, nil),
		raw("AAA", 3, -1.0, int64(-3)),
		raw("AAA", 4, nil, 7.0),
		raw("AAA", 5, nil, 7.0),
		raw("AAA", 6, nil, 7.0),
		raw("AAA", 7, nil, 7.0),
		raw("AAA", 8, 11.0, 7.0),
	}
	opts := Options{MaxFillRun: DefaultMaxFillRun}
	once := Clean(rows, opts)

	snapshot := make([]model.TaggedBar, len(once))
	copy(snapshot, once)
	twice := Revalidate(once, opts)

	assert.Equal(t, snapshot, twice)
}
