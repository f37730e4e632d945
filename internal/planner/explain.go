package planner

import (
	"fmt"
	"time"
)

// Skip and unplanned reasons.
const (
	ReasonAlreadyCompleted   = "already completed"
	ReasonZeroEffort         = "estimated effort is 0 minutes"
	ReasonDueInPast          = "due date is already in the past"
	ReasonNoFreeWindows      = "no available free windows"
	ReasonNotEnoughBeforeDue = "not enough free windows before due date"
	ReasonNotEnoughUndated   = "not enough free windows in planning horizon"
)

// Explainability records why each task was skipped, where its sessions
// went and what is left unplanned.
type Explainability struct {
	Now                time.Time       `json:"now"`
	SkippedAssignments []SkippedTask   `json:"skipped_assignments"`
	Placements         []Placement     `json:"placements"`
	Unplanned          []UnplannedTask `json:"unplanned"`
}

type SkippedTask struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason"`
}

type Placement struct {
	TaskID  string    `json:"task_id"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Minutes int       `json:"minutes"`
	Reason  string    `json:"reason"`
}

type UnplannedTask struct {
	TaskID           string `json:"task_id"`
	RemainingMinutes int    `json:"remaining_minutes"`
	Reason           string `json:"reason"`
}

// normalized replaces nil lists with empty ones for stable JSON.
func (e Explainability) normalized() Explainability {
	if e.SkippedAssignments == nil {
		e.SkippedAssignments = []SkippedTask{}
	}
	if e.Placements == nil {
		e.Placements = []Placement{}
	}
	if e.Unplanned == nil {
		e.Unplanned = []UnplannedTask{}
	}
	return e
}

// urgency buckets a due date relative to the run's now.
func urgency(p *pending, now time.Time) string {
	if !p.dated {
		return "no due date"
	}
	left := p.due.Sub(now)
	switch {
	case left <= 24*time.Hour:
		return "due within 24h"
	case left <= 72*time.Hour:
		return "due within 3 days"
	case left <= 7*24*time.Hour:
		return "due this week"
	default:
		return "due later"
	}
}

func placementReason(p *pending, now time.Time, minutes int) string {
	return fmt.Sprintf("%s, priority %d: placed %d min, %d min left", urgency(p, now), p.task.Priority, minutes, p.remaining)
}

// Summary renders the trace as human-readable lines.
func (e Explainability) Summary() []string {
	lines := make([]string, 0, len(e.SkippedAssignments)+len(e.Placements)+len(e.Unplanned))
	for _, s := range e.SkippedAssignments {
		lines = append(lines, fmt.Sprintf("skipped %s: %s", s.TaskID, s.Reason))
	}
	for _, p := range e.Placements {
		lines = append(lines, fmt.Sprintf("placed %s %s-%s (%s)", p.TaskID,
			p.Start.Format("2006-01-02 15:04"), p.End.Format("15:04"), p.Reason))
	}
	for _, u := range e.Unplanned {
		lines = append(lines, fmt.Sprintf("unplanned %s (%d min): %s", u.TaskID, u.RemainingMinutes, u.Reason))
	}
	return lines
}
