package model

import "time"

// TimeInterval is a half-open span [Start, End). An interval is only valid
// when End is strictly after Start; invalid intervals are dropped by every
// component instead of being clamped.
type TimeInterval struct {
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`
}

// Valid reports whether End > Start.
func (iv TimeInterval) Valid() bool {
	return iv.End.After(iv.Start)
}

// Duration returns End - Start.
func (iv TimeInterval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Overlaps reports whether the two intervals share any instant.
func (iv TimeInterval) Overlaps(o TimeInterval) bool {
	return iv.Start.Before(o.End) && o.Start.Before(iv.End)
}

// CalendarEvent is a single VEVENT resolved to absolute instants.
type CalendarEvent struct {
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Summary string    `json:"summary,omitempty"`
	// AllDay is set when DTSTART carried a DATE value.
	AllDay bool `json:"all_day,omitempty"`
}

// Interval returns the event's [Start, End).
func (e CalendarEvent) Interval() TimeInterval {
	return TimeInterval{Start: e.Start, End: e.End}
}

// Availability block sources.
const (
	SourceManual = "manual"
	SourceWeekly = "weekly"
	SourceICS    = "ics"
)

// AvailabilityBlock is a declared window of availability (or a busy
// interval, depending on where it is fed in) tagged with its origin, e.g.
// "manual", "weekly" or "ics:<feed-id>".
type AvailabilityBlock struct {
	TimeInterval `yaml:",inline"`
	Source       string `json:"source" yaml:"source"`
}

// Task statuses understood by the planner. Anything other than StatusDone
// is treated as pending.
const (
	StatusTodo       = "todo"
	StatusInProgress = "in_progress"
	StatusDone       = "done"
)

// TaskForPlanning is a pending unit of work handed to the planner. It is
// never mutated by the planner.
type TaskForPlanning struct {
	ID    string     `json:"id" yaml:"id"`
	Title string     `json:"title,omitempty" yaml:"title,omitempty"`
	DueAt *time.Time `json:"due_at,omitempty" yaml:"due_at,omitempty"`

	Status string `json:"status" yaml:"status"`

	// EstimatedEffortMinutes is the total remaining work.
	EstimatedEffortMinutes int `json:"estimated_effort_minutes" yaml:"estimated_effort_minutes"`

	// Priority: higher is more urgent when due dates tie.
	Priority int `json:"priority" yaml:"priority"`
}

// PlannedSession is one placed block of work for a task.
type PlannedSession struct {
	TaskID string    `json:"task_id"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
}

// Interval returns the session's [Start, End).
func (s PlannedSession) Interval() TimeInterval {
	return TimeInterval{Start: s.Start, End: s.End}
}

// Minutes returns the session length in whole minutes.
func (s PlannedSession) Minutes() int {
	return int(s.End.Sub(s.Start) / time.Minute)
}
