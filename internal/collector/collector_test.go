package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EquitySync/internal/model"
)

func TestGather_IsolatesFailuresAndTimeouts(t *testing.T) {
	entities := []model.Entity{"AAA", "BBB", "SLOW"}
	results := Gather(context.Background(), entities, 2, 50*time.Millisecond,
		func(ctx context.Context, e model.Entity) (int, error) {
			switch e {
			case "BBB":
				return 0, errors.New("boom")
			case "SLOW":
				<-ctx.Done()
				return 0, ctx.Err()
			}
			return 7, nil
		})

	require.Len(t, results, 3)
	assert.NoError(t, results["AAA"].Err)
	assert.Equal(t, 7, results["AAA"].Value)
	assert.EqualError(t, results["BBB"].Err, "boom")
	assert.ErrorIs(t, results["SLOW"].Err, context.DeadlineExceeded)
}

func TestGather_RecoversPanics(t *testing.T) {
	results := Gather(context.Background(), []model.Entity{"AAA"}, 1, 0,
		func(ctx context.Context, e model.Entity) (int, error) {
			panic("bad row")
		})
	require.Error(t, results["AAA"].Err)
	assert.Contains(t, results["AAA"].Err.Error(), "panicked")
}

func TestMockFetcher_FiltersByStart(t *testing.T) {
	m := NewMockFetcher()
	m.Series["AAA"] = []model.RawBar{
		{Date: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), Close: 1.0},
		{Date: time.Date(2026, 1, 6, 0, 0, 0, 0, time.UTC), Close: 2.0},
	}
	rows, err := m.FetchSeries(context.Background(), "AAA", time.Date(2026, 1, 6, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2.0, rows[0].Close)
	assert.Equal(t, 1, m.CallCount("series", "AAA"))
}

func TestExists(t *testing.T) {
	now := time.Date(2026, 1, 9, 12, 0, 0, 0, time.UTC)
	m := NewMockFetcher()
	m.Series["AAA"] = []model.RawBar{{Date: time.Date(2026, 1, 8, 0, 0, 0, 0, time.UTC), Close: 1.0}}

	ok, err := Exists(context.Background(), m, "AAA", now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Exists(context.Background(), m, "ZZZ", now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGuardedFetcher_OpensAfterConsecutiveFailures(t *testing.T) {
	m := NewMockFetcher()
	m.Errors["AAA"] = errors.New("503")
	var transitions []string
	g := NewGuardedFetcher(m, GuardConfig{
		BreakerFailures: 2,
		BreakerTimeout:  time.Minute,
		OnStateChange: func(_ string, from, to gobreaker.State) {
			transitions = append(transitions, from.String()+">"+to.String())
		},
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := g.FetchSeries(ctx, "AAA", time.Now())
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, g.State())
	assert.Equal(t, []string{"closed>open"}, transitions)

	_, err := g.FetchSeries(ctx, "BBB", time.Now())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState, "open breaker fails fast")
	assert.Equal(t, 0, m.CallCount("series", "BBB"))
}

func TestGuardedFetcher_EmptyResultIsSuccess(t *testing.T) {
	m := NewMockFetcher()
	g := NewGuardedFetcher(m, GuardConfig{BreakerFailures: 1, RatePerSecond: 100, Burst: 10})

	rows, err := g.FetchSeries(context.Background(), "AAA", time.Now())
	require.NoError(t, err)
	assert.Empty(t, rows)
	a, err := g.FetchAttributes(context.Background(), "AAA")
	require.NoError(t, err)
	assert.Nil(t, a)
	assert.Equal(t, gobreaker.StateClosed, g.State())
}
