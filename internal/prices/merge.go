package prices

import (
	"time"

	"EquitySync/internal/model"
)

// Plan is the fetch decision for one entity.
type Plan struct {
	Entity model.Entity
	Start  time.Time
	// Current means the entity is already up to date and nothing is fetched.
	Current bool
}

// PlanStart computes where the delta for an entity begins. With a confirmed
// last date the delta starts the day after; without one it is a full
// backfill from the retention cutoff. A start after today means current.
func PlanStart(entity model.Entity, last time.Time, hasLast bool, today, cutoff time.Time) Plan {
	start := cutoff
	if hasLast {
		start = model.Day(last).AddDate(0, 0, 1)
	}
	return Plan{Entity: entity, Start: start, Current: start.After(today)}
}

// Cutoff returns the oldest date kept for a retention of years.
func Cutoff(today time.Time, years int) time.Time {
	return model.Day(today).AddDate(-years, 0, 0)
}

// Merge combines the stored series with a freshly fetched delta: rows older
// than cutoff are dropped, and on a date collision the delta wins because the
// provider restates history (split adjustments). The result is date ordered
// with unique dates.
func Merge(existing, delta []model.Bar, cutoff time.Time) []model.Bar {
	byDate := make(map[time.Time]model.Bar, len(existing)+len(delta))
	for _, b := range existing {
		byDate[model.Day(b.Date)] = b
	}
	// Later rows overwrite earlier ones, so duplicates inside the delta also
	// resolve to the last one seen.
	for _, b := range delta {
		byDate[model.Day(b.Date)] = b
	}

	out := make([]model.Bar, 0, len(byDate))
	for d, b := range byDate {
		if d.Before(cutoff) {
			continue
		}
		b.Date = d
		out = append(out, b)
	}
	model.SortBars(out)
	return out
}

// Prune returns the rows dated on or after cutoff, keeping their order.
func Prune(bars []model.Bar, cutoff time.Time) []model.Bar {
	out := make([]model.Bar, 0, len(bars))
	for _, b := range bars {
		if !model.Day(b.Date).Before(cutoff) {
			out = append(out, b)
		}
	}
	return out
}

// EnforceSchema fixes column types before persistence: volume is always an
// integer (absent becomes 0), prices stay float or absent.
func EnforceSchema(bars []model.Bar) {
	for i := range bars {
		if bars[i].Volume == nil {
			bars[i].Volume = model.Int(0)
		}
	}
}
