// Package notify implements event sinks for outbound notification of
// domain events: plain webhooks, Slack, and Discord. All sinks are
// best-effort; the event dispatcher logs their failures and moves on.
package notify

import (
	"fmt"
	"strings"

	"github.com/zulandar/shopfloor/internal/events"
)

// Summary renders a one-line human description of an event for chat sinks.
func Summary(ev events.Event) string {
	var b strings.Builder
	switch ev.Type {
	case events.OperationStarted:
		fmt.Fprintf(&b, "Operation %s started in cell %s", ev.OperationID, ev.Detail.CellID)
		if ev.Detail.OperatorID != "" {
			fmt.Fprintf(&b, " by %s", ev.Detail.OperatorID)
		}
	case events.OperationPaused:
		fmt.Fprintf(&b, "Operation %s paused", ev.OperationID)
	case events.OperationResumed:
		fmt.Fprintf(&b, "Operation %s resumed", ev.OperationID)
	case events.OperationCompleted:
		fmt.Fprintf(&b, "Operation %s completed (%ds labor, %d good / %d scrap)",
			ev.OperationID, ev.Detail.ActualSeconds, ev.Detail.QuantityGood, ev.Detail.QuantityScrap)
		if ev.Detail.Decision == "warning" {
			fmt.Fprintf(&b, " — next cell %s near limit (%d/%d)", ev.Detail.CellID, ev.Detail.WIP, ev.Detail.Limit)
		}
	case events.PartCompleted:
		fmt.Fprintf(&b, "Part %s completed", ev.PartID)
	case events.JobCompleted:
		fmt.Fprintf(&b, "Job %s completed", ev.JobID)
	default:
		fmt.Fprintf(&b, "%s (%s → %s)", ev.Type, ev.PrevStatus, ev.NewStatus)
	}
	return b.String()
}
