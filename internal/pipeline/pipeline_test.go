package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyplan/internal/availability"
	"studyplan/internal/config"
	"studyplan/internal/ics"
	"studyplan/internal/model"
	"studyplan/internal/planner"
	"studyplan/internal/store"
)

// Wednesday 2026-02-11 06:00 UTC, midnight in Chicago.
var now = time.Date(2026, 2, 11, 6, 0, 0, 0, time.UTC)

const schoolICS = "BEGIN:VCALENDAR\r\n" +
	"BEGIN:VEVENT\r\n" +
	"SUMMARY:Chemistry lecture\r\n" +
	"DTSTART;TZID=America/Chicago:20260212T090000\r\n" +
	"DTEND;TZID=America/Chicago:20260212T110000\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"SUMMARY:Broken\r\n" +
	"DTSTART:not-a-date\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func settings() Settings {
	cfg := config.DefaultConfig()
	cfg.Timezone = "America/Chicago"
	cfg.HorizonDays = 7
	return SettingsFromConfig(cfg)
}

func TestBuild_EndToEnd(t *testing.T) {
	essayDue := time.Date(2026, 2, 13, 23, 0, 0, 0, time.UTC)
	in := Inputs{
		Tasks: []model.TaskForPlanning{
			{ID: "essay", Title: "History essay", DueAt: &essayDue, EstimatedEffortMinutes: 120, Priority: 1},
			{ID: "done", Status: model.StatusDone, EstimatedEffortMinutes: 60},
		},
		Availability: []model.AvailabilityBlock{{
			// All of Thursday Feb 12 in Chicago.
			TimeInterval: model.TimeInterval{
				Start: time.Date(2026, 2, 12, 6, 0, 0, 0, time.UTC),
				End:   time.Date(2026, 2, 13, 6, 0, 0, 0, time.UTC),
			},
			Source: model.SourceManual,
		}},
		Calendars: []ics.FetchResult{{Source: ics.Source{ID: "school"}, Body: []byte(schoolICS)}},
	}

	plan := Build(in, settings(), now)

	// 08:00-18:00 Chicago minus the 09:00-11:00 lecture.
	require.Len(t, plan.FreeWindows, 2)
	assert.Equal(t, time.Date(2026, 2, 12, 14, 0, 0, 0, time.UTC), plan.FreeWindows[0].Start)
	assert.Equal(t, time.Date(2026, 2, 12, 15, 0, 0, 0, time.UTC), plan.FreeWindows[0].End)
	assert.Equal(t, time.Date(2026, 2, 12, 17, 0, 0, 0, time.UTC), plan.FreeWindows[1].Start)

	// 50 + 60; the 10 minute remainder is below the session minimum.
	require.Len(t, plan.Sessions, 2)
	assert.Equal(t, time.Date(2026, 2, 12, 14, 0, 0, 0, time.UTC), plan.Sessions[0].Start)
	assert.Equal(t, 50, plan.Sessions[0].Minutes(), "window minus buffer")
	assert.Equal(t, time.Date(2026, 2, 12, 17, 0, 0, 0, time.UTC), plan.Sessions[1].Start)
	assert.Equal(t, 60, plan.Sessions[1].Minutes())
	assert.Equal(t, []planner.UnplannedTask{
		{TaskID: "essay", RemainingMinutes: 10, Reason: planner.ReasonNotEnoughBeforeDue},
	}, plan.Explain.Unplanned)

	require.Len(t, plan.Calendars, 1)
	assert.Equal(t, "school", plan.Calendars[0].ID)
	assert.Equal(t, 1, plan.Calendars[0].Events)
	assert.Equal(t, 1, plan.Calendars[0].Diagnostics.Ignored)

	assert.Equal(t, []planner.SkippedTask{{TaskID: "done", Reason: planner.ReasonAlreadyCompleted}}, plan.Explain.SkippedAssignments)
	assert.Contains(t, plan.Feed, "SUMMARY:History essay")
	assert.Empty(t, plan.Warnings)
}

func TestBuild_WeeklyTemplatesAndHorizon(t *testing.T) {
	s := settings()
	s.WindowDays = 7
	s.Weekly = []availability.WeeklyTemplate{{Rule: "FREQ=WEEKLY;BYDAY=MO", Start: "13:00", End: "15:00"}}

	plan := Build(Inputs{Tasks: []model.TaskForPlanning{{ID: "read", EstimatedEffortMinutes: 30}}}, s, now)

	// Only Monday Feb 16 falls inside the 7 day window.
	require.Len(t, plan.FreeWindows, 1)
	assert.Equal(t, time.Date(2026, 2, 16, 19, 0, 0, 0, time.UTC), plan.FreeWindows[0].Start)
	require.Len(t, plan.Sessions, 1)
	assert.Equal(t, "read", plan.Sessions[0].TaskID)
}

func TestBuild_UnsupportedZoneDegrades(t *testing.T) {
	s := settings()
	s.Zone = "Nowhere/Land"
	s.Normalize.Zone = "Nowhere/Land"
	s.Weekly = []availability.WeeklyTemplate{{Rule: "FREQ=DAILY", Start: "09:00", End: "10:00"}}

	long := model.AvailabilityBlock{TimeInterval: model.TimeInterval{
		Start: time.Date(2026, 2, 12, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 2, 13, 0, 0, 0, 0, time.UTC),
	}}
	plan := Build(Inputs{Availability: []model.AvailabilityBlock{long}}, s, now)

	assert.Len(t, plan.Warnings, 2)
	require.Len(t, plan.FreeWindows, 1)
	assert.Equal(t, 24*time.Hour, plan.FreeWindows[0].Duration(), "block kept unexpanded")
}

func TestBuild_NoFreeTime(t *testing.T) {
	plan := Build(Inputs{Tasks: []model.TaskForPlanning{{ID: "a", EstimatedEffortMinutes: 60}}}, settings(), now)

	assert.Empty(t, plan.Sessions)
	require.Len(t, plan.Explain.Unplanned, 1)
	assert.Equal(t, planner.ReasonNoFreeWindows, plan.Explain.Unplanned[0].Reason)
	assert.NotContains(t, plan.Feed, "BEGIN:VEVENT")
}

func TestRunner_RunAndWrite(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tasks.yaml"), []byte(`
tasks:
  - id: essay
    title: History essay
    estimated_effort_minutes: 60
`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "availability.yaml"), []byte(`
blocks:
  - start: 2026-02-12T13:00:00Z
    end: 2026-02-12T16:00:00Z
`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "school.ics"), []byte(schoolICS), 0o600))

	cfgPath := filepath.Join(dir, "config.yaml")
	cfg := config.DefaultConfig()
	cfg.Timezone = "America/Chicago"
	cfg.ICS = []config.ICSConfig{{ID: "school", Path: "school.ics"}, {ID: "gone", Path: "gone.ics"}}

	r := NewRunner(cfg, cfgPath).WithClock(func() time.Time { return now })
	plan, err := r.Run(context.Background())
	require.NoError(t, err)

	// 13:00-16:00Z minus lecture 15:00-17:00Z leaves 13:00-15:00Z.
	require.Len(t, plan.Sessions, 1)
	assert.Equal(t, time.Date(2026, 2, 12, 13, 0, 0, 0, time.UTC), plan.Sessions[0].Start)
	require.Len(t, plan.Warnings, 1)
	assert.Contains(t, plan.Warnings[0], "gone")

	require.NoError(t, r.Write(plan))

	var saved Plan
	require.NoError(t, store.ReadJSON(filepath.Join(dir, "out", PlanJSONName), &saved))
	assert.Len(t, saved.Sessions, 1)
	assert.Equal(t, "America/Chicago", saved.Timezone)

	feed, err := os.ReadFile(filepath.Join(dir, "out", PlanICSName))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(feed), "SUMMARY:History essay"))
}

func TestRunner_BadTasksFileFails(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tasks.yaml"), []byte("tasks: ["), 0o600))

	_, err := NewRunner(config.DefaultConfig(), filepath.Join(dir, "config.yaml")).Run(context.Background())
	assert.Error(t, err)
}
