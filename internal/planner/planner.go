// Package planner greedily places work sessions for pending tasks into free
// time windows under deadline, priority and daily-load limits.
package planner

import (
	"cmp"
	"slices"
	"time"

	"studyplan/internal/model"
)

const (
	DefaultMinSessionMinutes = 30
	DefaultMaxSessionMinutes = 60
	DefaultBufferMinutes     = 10
	DefaultMaxMinutesPerDay  = 180
	DefaultHorizonDays       = 7
)

// Options are the planner tunables. Start from DefaultOptions; non-positive
// session, day and horizon values and a negative buffer are replaced with
// defaults.
type Options struct {
	MinSessionMinutes int `yaml:"min_session_minutes" json:"min_session_minutes"`
	MaxSessionMinutes int `yaml:"max_session_minutes" json:"max_session_minutes"`
	BufferMinutes     int `yaml:"buffer_minutes" json:"buffer_minutes"`
	MaxMinutesPerDay  int `yaml:"max_minutes_per_day" json:"max_minutes_per_day"`

	// HorizonDays sets the synthetic due date (now + HorizonDays) of tasks
	// without one.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// Now is the single clock reading for the run. Zero means time.Now(),
	// read once.
	Now time.Time `yaml:"-" json:"-"`

	// Location decides which calendar day a session counts against for
	// MaxMinutesPerDay. Nil means UTC.
	Location *time.Location `yaml:"-" json:"-"`
}

// DefaultOptions returns the standard tunables.
func DefaultOptions() Options {
	return Options{
		MinSessionMinutes: DefaultMinSessionMinutes,
		MaxSessionMinutes: DefaultMaxSessionMinutes,
		BufferMinutes:     DefaultBufferMinutes,
		MaxMinutesPerDay:  DefaultMaxMinutesPerDay,
		HorizonDays:       DefaultHorizonDays,
	}
}

func (o Options) withDefaults() Options {
	if o.MinSessionMinutes <= 0 {
		o.MinSessionMinutes = DefaultMinSessionMinutes
	}
	if o.MaxSessionMinutes <= 0 {
		o.MaxSessionMinutes = DefaultMaxSessionMinutes
	}
	if o.BufferMinutes < 0 {
		o.BufferMinutes = DefaultBufferMinutes
	}
	if o.MaxMinutesPerDay <= 0 {
		o.MaxMinutesPerDay = DefaultMaxMinutesPerDay
	}
	if o.HorizonDays <= 0 {
		o.HorizonDays = DefaultHorizonDays
	}
	if o.Now.IsZero() {
		o.Now = time.Now()
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	return o
}

// Result is the outcome of one planning run.
type Result struct {
	Sessions []model.PlannedSession `json:"sessions"`
	Explain  Explainability         `json:"explainability"`
}

// pending is a task that passed the pre-filter, with the planner's local
// remaining-effort counter.
type pending struct {
	task      model.TaskForPlanning
	due       time.Time
	dated     bool
	remaining int
	order     int
}

// run is the accumulator threaded through the window loop. Nothing outside
// AutoPlan sees it.
type run struct {
	opts  Options
	queue []*pending // sorted by (due asc, priority desc, input order)

	dayUsed    map[string]int
	sessions   []model.PlannedSession
	placements []Placement
}

// AutoPlan places sessions for tasks into freeWindows. It never mutates its
// inputs, reads the clock at most once and is deterministic for identical
// inputs and Options.Now.
func AutoPlan(tasks []model.TaskForPlanning, freeWindows []model.TimeInterval, opts Options) Result {
	opts = opts.withDefaults()
	now := opts.Now

	r := &run{opts: opts, dayUsed: make(map[string]int)}
	explain := Explainability{Now: now}

	for i, t := range tasks {
		if reason, skip := skipReason(t, now); skip {
			explain.SkippedAssignments = append(explain.SkippedAssignments, SkippedTask{TaskID: t.ID, Reason: reason})
			continue
		}
		p := &pending{task: t, remaining: t.EstimatedEffortMinutes, order: i}
		if t.DueAt != nil {
			p.due, p.dated = *t.DueAt, true
		} else {
			p.due = now.AddDate(0, 0, opts.HorizonDays)
		}
		r.queue = append(r.queue, p)
	}
	slices.SortStableFunc(r.queue, func(a, b *pending) int {
		if c := a.due.Compare(b.due); c != 0 {
			return c
		}
		if c := cmp.Compare(b.task.Priority, a.task.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.order, b.order)
	})

	windows := clampWindows(freeWindows, now)
	if len(windows) == 0 {
		for _, p := range r.queue {
			explain.Unplanned = append(explain.Unplanned, UnplannedTask{
				TaskID:           p.task.ID,
				RemainingMinutes: p.remaining,
				Reason:           ReasonNoFreeWindows,
			})
		}
		return Result{Sessions: []model.PlannedSession{}, Explain: explain.normalized()}
	}

	for _, w := range windows {
		r.fill(w)
	}

	for _, p := range r.queue {
		if p.remaining <= 0 {
			continue
		}
		reason := ReasonNotEnoughUndated
		if p.dated {
			reason = ReasonNotEnoughBeforeDue
		}
		explain.Unplanned = append(explain.Unplanned, UnplannedTask{
			TaskID:           p.task.ID,
			RemainingMinutes: p.remaining,
			Reason:           reason,
		})
	}

	explain.Placements = r.placements
	sessions := r.sessions
	if sessions == nil {
		sessions = []model.PlannedSession{}
	}
	return Result{Sessions: sessions, Explain: explain.normalized()}
}

func skipReason(t model.TaskForPlanning, now time.Time) (string, bool) {
	switch {
	case t.Status == model.StatusDone:
		return ReasonAlreadyCompleted, true
	case t.EstimatedEffortMinutes <= 0:
		return ReasonZeroEffort, true
	case t.DueAt != nil && !t.DueAt.After(now):
		return ReasonDueInPast, true
	}
	return "", false
}

// clampWindows drops the part of every window before now and sorts by
// start. Overlapping windows are coalesced so placements can never
// collide; windows that merely touch stay separate.
func clampWindows(windows []model.TimeInterval, now time.Time) []model.TimeInterval {
	clamped := make([]model.TimeInterval, 0, len(windows))
	for _, w := range windows {
		if w.Start.Before(now) {
			w.Start = now
		}
		if w.Valid() {
			clamped = append(clamped, w)
		}
	}
	slices.SortFunc(clamped, func(a, b model.TimeInterval) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return a.End.Compare(b.End)
	})

	out := clamped[:0]
	for _, w := range clamped {
		if n := len(out); n > 0 && w.Start.Before(out[n-1].End) {
			if w.End.After(out[n-1].End) {
				out[n-1].End = w.End
			}
			continue
		}
		out = append(out, w)
	}
	return out
}

// fill places as many sessions as fit into one window.
func (r *run) fill(w model.TimeInterval) {
	o := r.opts
	buffer := time.Duration(o.BufferMinutes) * time.Minute
	cursor := w.Start

	for cursor.Before(w.End) {
		day := r.dayKey(cursor)
		dayBudget := o.MaxMinutesPerDay - r.dayUsed[day]
		if dayBudget < o.MinSessionMinutes {
			return
		}

		p := r.next(cursor)
		if p == nil {
			return
		}

		fit := int(w.End.Sub(cursor.Add(buffer)) / time.Minute)
		length := min(o.MaxSessionMinutes, p.remaining, dayBudget, fit)
		if length < o.MinSessionMinutes {
			return
		}

		end := cursor.Add(time.Duration(length) * time.Minute)
		p.remaining -= length
		r.dayUsed[day] += length
		r.sessions = append(r.sessions, model.PlannedSession{TaskID: p.task.ID, Start: cursor, End: end})
		r.placements = append(r.placements, Placement{
			TaskID:  p.task.ID,
			Start:   cursor,
			End:     end,
			Minutes: length,
			Reason:  placementReason(p, r.opts.Now, length),
		})

		cursor = end.Add(buffer)
	}
}

// next returns the most urgent task that still needs time and whose
// effective due date is after cursor. The queue is pre-sorted, so the
// first match wins; the scan is repeated on every placement because
// remaining effort changes.
func (r *run) next(cursor time.Time) *pending {
	for _, p := range r.queue {
		if p.remaining > 0 && p.due.After(cursor) {
			return p
		}
	}
	return nil
}

func (r *run) dayKey(t time.Time) string {
	return t.In(r.opts.Location).Format(time.DateOnly)
}
