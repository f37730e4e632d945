// Package pipeline runs one planning invocation end to end: calendar text
// to busy intervals, declared availability to free windows, free windows
// to planned sessions, sessions to an iCalendar feed.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"studyplan/internal/availability"
	"studyplan/internal/config"
	"studyplan/internal/ics"
	appLog "studyplan/internal/log"
	"studyplan/internal/model"
	"studyplan/internal/planner"
	"studyplan/internal/store"
	"studyplan/internal/zoned"
)

const (
	PlanJSONName = "plan.json"
	PlanICSName  = "plan.ics"
)

// Settings are the knobs of Build, usually derived from config.
type Settings struct {
	Zone string

	// WindowDays limits availability to [now, now+WindowDays).
	WindowDays int

	Normalize availability.NormalizeOptions
	Free      availability.FreeOptions
	Planner   planner.Options
	Weekly    []availability.WeeklyTemplate

	CalendarName string
}

// SettingsFromConfig maps configuration onto Settings.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Zone:       cfg.Timezone,
		WindowDays: cfg.HorizonDays,
		Normalize: availability.NormalizeOptions{
			Zone:           cfg.Timezone,
			LongBlockHours: cfg.Availability.LongBlockHours,
			DayStartHour:   cfg.Availability.DayStartHour,
			DayEndHour:     cfg.Availability.DayEndHour,
		},
		Free:         availability.FreeOptions{MinFreeMinutes: cfg.Availability.MinFreeMinutes},
		Planner:      cfg.Planner,
		Weekly:       cfg.Weekly,
		CalendarName: cfg.CalendarName,
	}
}

// Inputs is everything one run plans over.
type Inputs struct {
	Tasks        []model.TaskForPlanning
	Availability []model.AvailabilityBlock
	Calendars    []ics.FetchResult
}

// CalendarReport is the parse outcome of one busy calendar.
type CalendarReport struct {
	ID          string          `json:"id"`
	FromCache   bool            `json:"from_cache"`
	Events      int             `json:"events"`
	Diagnostics ics.Diagnostics `json:"diagnostics"`
}

// Plan is the result of one run.
type Plan struct {
	GeneratedAt time.Time              `json:"generated_at"`
	Timezone    string                 `json:"timezone"`
	Sessions    []model.PlannedSession `json:"sessions"`
	Explain     planner.Explainability `json:"explainability"`
	FreeWindows []model.TimeInterval   `json:"free_windows"`
	Calendars   []CalendarReport       `json:"calendars"`
	Warnings    []string               `json:"warnings,omitempty"`

	// Feed is the sessions as iCalendar text.
	Feed string `json:"-"`
}

// Build plans over in. It performs no I/O; now is the run's single clock
// reading.
func Build(in Inputs, s Settings, now time.Time) Plan {
	plan := Plan{GeneratedAt: now, Timezone: s.Zone}

	loc, err := zoned.Location(s.Zone)
	if err != nil {
		plan.Warnings = append(plan.Warnings, fmt.Sprintf("timezone %q unsupported; days are counted in UTC and all-day blocks are not expanded", s.Zone))
		loc = time.UTC
	}

	windowDays := s.WindowDays
	if windowDays <= 0 {
		windowDays = defaultWindowDays
	}
	horizon := model.TimeInterval{Start: now, End: now.AddDate(0, 0, windowDays)}

	declared := append([]model.AvailabilityBlock(nil), in.Availability...)
	weekly, err := availability.ExpandWeekly(s.Weekly, s.Zone, horizon.Start, horizon.End)
	if err != nil {
		plan.Warnings = append(plan.Warnings, "weekly availability skipped: "+err.Error())
	}
	declared = append(declared, weekly...)

	normalized := availability.Normalize(declared, s.Normalize)
	avail := clip(availability.Intervals(normalized), horizon)

	var busy []model.TimeInterval
	for _, cal := range in.Calendars {
		res := ics.ParseCalendar(string(cal.Body), ics.ParseOptions{DefaultZone: s.Zone})
		for _, ev := range res.Events {
			busy = append(busy, ev.Interval())
		}
		plan.Calendars = append(plan.Calendars, CalendarReport{
			ID:          cal.Source.Label(),
			FromCache:   cal.FromCache,
			Events:      len(res.Events),
			Diagnostics: res.Diagnostics,
		})
	}

	plan.FreeWindows = availability.DeriveFreeWindows(avail, busy, s.Free)

	opts := s.Planner
	opts.Now = now
	opts.Location = loc
	res := planner.AutoPlan(in.Tasks, plan.FreeWindows, opts)
	plan.Sessions = res.Sessions
	plan.Explain = res.Explain

	titles := make(map[string]string, len(in.Tasks))
	for _, t := range in.Tasks {
		if t.Title != "" {
			titles[t.ID] = t.Title
		}
	}
	plan.Feed = ics.ExportSessions(plan.Sessions, ics.ExportOptions{
		CalendarName: s.CalendarName,
		Stamp:        now,
		Titles:       titles,
	})

	if plan.Calendars == nil {
		plan.Calendars = []CalendarReport{}
	}
	return plan
}

const defaultWindowDays = 14

// clip intersects every interval with bounds, dropping empty results.
func clip(intervals []model.TimeInterval, bounds model.TimeInterval) []model.TimeInterval {
	out := make([]model.TimeInterval, 0, len(intervals))
	for _, iv := range intervals {
		if iv.Start.Before(bounds.Start) {
			iv.Start = bounds.Start
		}
		if iv.End.After(bounds.End) {
			iv.End = bounds.End
		}
		if iv.Valid() {
			out = append(out, iv)
		}
	}
	return out
}

// Runner loads inputs from disk and feeds, builds the plan and writes it.
type Runner struct {
	cfg        *config.Config
	configPath string
	fetcher    *ics.Fetcher
	now        func() time.Time
}

// NewRunner wires a Runner for cfg loaded from configPath.
func NewRunner(cfg *config.Config, configPath string) *Runner {
	return &Runner{
		cfg:        cfg,
		configPath: configPath,
		fetcher:    ics.NewFetcher(config.ResolvePath(configPath, cfg.CacheDir)),
		now:        time.Now,
	}
}

// WithClock replaces the clock.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// Sources converts configured calendars into fetch sources.
func (r *Runner) Sources() []ics.Source {
	out := make([]ics.Source, 0, len(r.cfg.ICS))
	for _, c := range r.cfg.ICS {
		out = append(out, ics.Source{
			ID:   c.ID,
			Name: c.Name,
			URL:  c.URL,
			Path: config.ResolvePath(r.configPath, c.Path),
		})
	}
	return out
}

// Run performs one planning invocation. Calendar sources that fail are
// reported as warnings; only unreadable task or availability files fail
// the run.
func (r *Runner) Run(ctx context.Context) (*Plan, error) {
	now := r.now()

	tasks, err := store.LoadTasks(config.ResolvePath(r.configPath, r.cfg.TasksFile))
	if err != nil {
		return nil, fmt.Errorf("pipeline: load tasks: %w", err)
	}
	blocks, err := store.LoadAvailability(config.ResolvePath(r.configPath, r.cfg.AvailabilityFile))
	if err != nil {
		return nil, fmt.Errorf("pipeline: load availability: %w", err)
	}

	calendars, fetchErrs := r.fetcher.FetchAll(ctx, r.Sources())

	plan := Build(Inputs{Tasks: tasks, Availability: blocks, Calendars: calendars}, SettingsFromConfig(r.cfg), now)
	for _, e := range fetchErrs {
		plan.Warnings = append(plan.Warnings, e.Error())
	}

	for _, c := range plan.Calendars {
		if c.Diagnostics.Ignored > 0 {
			for _, reason := range c.Diagnostics.Reasons {
				appLog.Warn("calendar events ignored", "id", c.ID, "reason", reason.Reason, "count", reason.Count, "examples", reason.Examples)
			}
		}
	}
	for _, w := range plan.Warnings {
		appLog.Warn("plan warning", "detail", w)
	}
	appLog.Info("plan built",
		"tasks", len(tasks),
		"calendars", len(plan.Calendars),
		"free_windows", len(plan.FreeWindows),
		"sessions", len(plan.Sessions),
		"skipped", len(plan.Explain.SkippedAssignments),
		"unplanned", len(plan.Explain.Unplanned),
	)
	return &plan, nil
}

// Write stores plan.json and plan.ics in the configured output directory.
func (r *Runner) Write(plan *Plan) error {
	dir := config.ResolvePath(r.configPath, r.cfg.OutputDir)
	if err := store.WriteJSON(filepath.Join(dir, PlanJSONName), plan); err != nil {
		return fmt.Errorf("pipeline: write plan: %w", err)
	}
	if err := store.WriteFile(filepath.Join(dir, PlanICSName), []byte(plan.Feed)); err != nil {
		return fmt.Errorf("pipeline: write feed: %w", err)
	}
	appLog.Info("plan written", "dir", dir, "sessions", len(plan.Sessions))
	return nil
}
