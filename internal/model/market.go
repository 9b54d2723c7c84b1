package model

import (
	"sort"
	"time"
)

// Bar is one daily row of an entity's price series. Nil fields are absent.
type Bar struct {
	Date        time.Time
	Open        *float64
	High        *float64
	Low         *float64
	Close       *float64
	Volume      *int64
	Dividends   *float64
	StockSplits *float64
}

// TaggedBar is a Bar carrying its entity, as produced when many entities are
// cleaned in one batch.
type TaggedBar struct {
	Entity Entity
	Bar
}

// RawBar is a provider row before validation. Cells hold whatever the source
// returned (float64, int, string, nil, ...).
type RawBar struct {
	Entity      Entity
	Date        time.Time
	Open        any
	High        any
	Low         any
	Close       any
	Volume      any
	Dividends   any
	StockSplits any
}

// Day truncates t to its calendar date in t's location and returns it as UTC
// midnight, the canonical timestamp of a daily bar.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SortBars orders bars by date ascending.
func SortBars(bars []Bar) {
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
}

// LastDate returns the latest date in bars and false when bars is empty.
func LastDate(bars []Bar) (time.Time, bool) {
	if len(bars) == 0 {
		return time.Time{}, false
	}
	last := bars[0].Date
	for _, b := range bars[1:] {
		if b.Date.After(last) {
			last = b.Date
		}
	}
	return last, true
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int64) *int64 { return &v }
