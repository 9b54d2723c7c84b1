package model

import "time"

// Stage names the part of a pass that produced a result.
type Stage string

const (
	StagePrices     Stage = "prices"
	StageAttributes Stage = "attributes"
	StageDerived    Stage = "derived"
	StageRemove     Stage = "remove"
)

// Outcome is what happened to one entity in one stage.
type Outcome string

const (
	OutcomeUpdated Outcome = "updated" // new data persisted
	OutcomeCurrent Outcome = "current" // already fresh, nothing fetched
	OutcomeEmpty   Outcome = "empty"   // fetched, nothing new
	OutcomeFailed  Outcome = "failed"
)

// EntityResult reports one entity's outcome for one stage.
type EntityResult struct {
	Entity   Entity
	Stage    Stage
	Outcome  Outcome
	Rows     int
	LastDate time.Time
	Err      string
}

// PassReport collects every per-entity result of a synchronization pass.
type PassReport struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Entities   int
	Results    []EntityResult
}

// Count returns how many results of stage have the given outcome.
func (r *PassReport) Count(stage Stage, outcome Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Stage == stage && res.Outcome == outcome {
			n++
		}
	}
	return n
}

// Failed lists results with a failed outcome, in report order.
func (r *PassReport) Failed() []EntityResult {
	var out []EntityResult
	for _, res := range r.Results {
		if res.Outcome == OutcomeFailed {
			out = append(out, res)
		}
	}
	return out
}

// OK reports whether no entity failed in any stage.
func (r *PassReport) OK() bool { return len(r.Failed()) == 0 }

// Duration is the wall time of the pass.
func (r *PassReport) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }
