package recorder

import (
	"time"

	"EquitySync/internal/model"
)

// PassRow is one recorded synchronization pass.
type PassRow struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Entities   int
	Updated    int
	Failed     int
}

// ResultRow is one entity's outcome within a pass.
type ResultRow struct {
	PassID   string `db:"pass_id"`
	Entity   string `db:"entity"`
	Stage    string `db:"stage"`
	Outcome  string `db:"outcome"`
	Rows     int    `db:"row_count"`
	LastDate string `db:"last_date"`
	Err      string `db:"error"`
}

// Recorder persists pass history for later inspection.
type Recorder interface {
	RecordPass(report *model.PassReport) error
	RecentPasses(limit int) ([]PassRow, error)
	PassResults(passID string) ([]ResultRow, error)
	Close() error
}

func passRow(r *model.PassReport) PassRow {
	updated := 0
	for _, res := range r.Results {
		if res.Outcome == model.OutcomeUpdated {
			updated++
		}
	}
	return PassRow{
		ID:         r.ID,
		StartedAt:  r.StartedAt.UTC(),
		FinishedAt: r.FinishedAt.UTC(),
		Entities:   r.Entities,
		Updated:    updated,
		Failed:     len(r.Failed()),
	}
}

func resultRows(r *model.PassReport) []ResultRow {
	out := make([]ResultRow, 0, len(r.Results))
	for _, res := range r.Results {
		last := ""
		if !res.LastDate.IsZero() {
			last = res.LastDate.Format("2006-01-02")
		}
		out = append(out, ResultRow{
			PassID:   r.ID,
			Entity:   string(res.Entity),
			Stage:    string(res.Stage),
			Outcome:  string(res.Outcome),
			Rows:     res.Rows,
			LastDate: last,
			Err:      res.Err,
		})
	}
	return out
}
