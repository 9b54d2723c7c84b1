// Package validate cleans raw provider batches before they are merged into
// storage. Everything here is pure: no I/O, no clock.
package validate

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"EquitySync/internal/model"
)

// DefaultMaxFillRun is the longest gap of absent cells that forward-fill closes.
const DefaultMaxFillRun = 3

// Options tunes Clean.
type Options struct {
	// MaxFillRun bounds forward-fill. A run of consecutive absent cells is
	// filled only when it is no longer than this; longer runs stay absent.
	// Zero disables filling.
	MaxFillRun int
}

// Clean coerces, masks, sorts and forward-fills a batch that may span many
// entities. Rows are never dropped; unusable cells become absent.
func Clean(raw []model.RawBar, opts Options) []model.TaggedBar {
	out := make([]model.TaggedBar, 0, len(raw))
	for _, r := range raw {
		out = append(out, model.TaggedBar{
			Entity: r.Entity,
			Bar: model.Bar{
				Date:        r.Date,
				Open:        toFloat(r.Open),
				High:        toFloat(r.High),
				Low:         toFloat(r.Low),
				Close:       toFloat(r.Close),
				Volume:      toInt(r.Volume),
				Dividends:   toFloat(r.Dividends),
				StockSplits: toFloat(r.StockSplits),
			},
		})
	}
	return Revalidate(out, opts)
}

// Revalidate applies masking, ordering and fill to already-typed rows.
// Revalidate(Revalidate(x)) == Revalidate(x).
func Revalidate(bars []model.TaggedBar, opts Options) []model.TaggedBar {
	for i := range bars {
		Mask(&bars[i].Bar)
	}
	sort.SliceStable(bars, func(i, j int) bool {
		if bars[i].Entity != bars[j].Entity {
			return bars[i].Entity < bars[j].Entity
		}
		return bars[i].Date.Before(bars[j].Date)
	})
	if opts.MaxFillRun > 0 {
		start := 0
		for i := 1; i <= len(bars); i++ {
			if i == len(bars) || bars[i].Entity != bars[start].Entity {
				fillEntity(bars[start:i], opts.MaxFillRun)
				start = i
			}
		}
	}
	return bars
}

// Mask clears impossible values: prices <= 0 and negative volume. Zero volume
// is a legitimate non-trading day and is kept.
func Mask(b *model.Bar) {
	for _, p := range []**float64{&b.Open, &b.High, &b.Low, &b.Close} {
		if *p != nil && (**p <= 0 || math.IsNaN(**p) || math.IsInf(**p, 0)) {
			*p = nil
		}
	}
	if b.Volume != nil && *b.Volume < 0 {
		b.Volume = nil
	}
	for _, p := range []**float64{&b.Dividends, &b.StockSplits} {
		if *p != nil && (math.IsNaN(**p) || math.IsInf(**p, 0)) {
			*p = nil
		}
	}
}

// fillEntity forward-fills each column of one entity's date-ordered rows.
func fillEntity(rows []model.TaggedBar, maxRun int) {
	floatCols := []func(*model.Bar) **float64{
		func(b *model.Bar) **float64 { return &b.Open },
		func(b *model.Bar) **float64 { return &b.High },
		func(b *model.Bar) **float64 { return &b.Low },
		func(b *model.Bar) **float64 { return &b.Close },
		func(b *model.Bar) **float64 { return &b.Dividends },
		func(b *model.Bar) **float64 { return &b.StockSplits },
	}
	for _, col := range floatCols {
		fillRuns(len(rows),
			func(i int) bool { return *col(&rows[i].Bar) == nil },
			func(dst, src int) {
				v := **col(&rows[src].Bar)
				*col(&rows[dst].Bar) = &v
			}, maxRun)
	}
	fillRuns(len(rows),
		func(i int) bool { return rows[i].Volume == nil },
		func(dst, src int) {
			v := *rows[src].Volume
			rows[dst].Volume = &v
		}, maxRun)
}

// fillRuns finds runs of absent cells that follow a present one and copies
// the last present value into the run when the run is short enough.
func fillRuns(n int, absent func(int) bool, copyFrom func(dst, src int), maxRun int) {
	last := -1
	for i := 0; i < n; {
		if !absent(i) {
			last = i
			i++
			continue
		}
		j := i
		for j < n && absent(j) {
			j++
		}
		if last >= 0 && j-i <= maxRun {
			for k := i; k < j; k++ {
				copyFrom(k, last)
			}
		}
		i = j
	}
}

func toFloat(v any) *float64 {
	var f float64
	switch n := v.(type) {
	case nil:
		return nil
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return nil
		}
		f = parsed
	case *float64:
		if n == nil {
			return nil
		}
		f = *n
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// toInt coerces a volume cell. Fractional volumes are not volumes.
func toInt(v any) *int64 {
	switch n := v.(type) {
	case int64:
		return &n
	case *int64:
		return n
	case int:
		x := int64(n)
		return &x
	}
	f := toFloat(v)
	if f == nil || *f != math.Trunc(*f) || math.Abs(*f) > math.MaxInt64/2 {
		return nil
	}
	x := int64(*f)
	return &x
}
