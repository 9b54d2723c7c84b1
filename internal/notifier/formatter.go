package notifier

import (
	"fmt"
	"strings"
	"time"

	"EquitySync/internal/model"
)

// maxListedFailures caps how many failed entities a summary names.
const maxListedFailures = 10

// FormatPassSummary renders a pass report as a short HTML chat message.
func FormatPassSummary(r *model.PassReport) string {
	var b strings.Builder

	icon := "✅"
	if !r.OK() {
		icon = "⚠️"
	}
	b.WriteString(fmt.Sprintf("%s <b>EquitySync pass</b> | %s\n\n", icon, r.StartedAt.Format("2006-01-02 15:04")))
	b.WriteString(fmt.Sprintf("Entities: %d | Duration: %s\n\n", r.Entities, r.Duration().Round(time.Second)))

	for _, stage := range []model.Stage{model.StagePrices, model.StageAttributes, model.StageDerived} {
		b.WriteString(fmt.Sprintf("%s: %d updated, %d current, %d empty, %d failed\n",
			stage,
			r.Count(stage, model.OutcomeUpdated),
			r.Count(stage, model.OutcomeCurrent),
			r.Count(stage, model.OutcomeEmpty),
			r.Count(stage, model.OutcomeFailed)))
	}

	failed := r.Failed()
	if len(failed) > 0 {
		b.WriteString("\n<b>Failures:</b>\n")
		for i, f := range failed {
			if i == maxListedFailures {
				b.WriteString(fmt.Sprintf("  … and %d more\n", len(failed)-maxListedFailures))
				break
			}
			b.WriteString(fmt.Sprintf("  %s (%s): %s\n", f.Entity, f.Stage, escape(f.Err)))
		}
	}
	return b.String()
}

// FormatRemoval reports a cascade delete.
func FormatRemoval(entities []model.Entity, errs []string) string {
	var b strings.Builder
	names := make([]string, len(entities))
	for i, e := range entities {
		names[i] = string(e)
	}
	b.WriteString(fmt.Sprintf("🗑 <b>Removed</b> %s\n", strings.Join(names, ", ")))
	for _, e := range errs {
		b.WriteString(fmt.Sprintf("  %s\n", escape(e)))
	}
	return b.String()
}

func escape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
