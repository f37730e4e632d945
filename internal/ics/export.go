package ics

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strconv"
	"time"

	ical "github.com/arran4/golang-ical"

	"studyplan/internal/model"
)

const (
	defaultProductID    = "-//studyplan//auto-plan//EN"
	defaultCalendarName = "Study plan"
	uidDomain           = "@studyplan"
	sessionCategory     = "STUDY"
)

// ExportOptions controls ExportSessions.
type ExportOptions struct {
	CalendarName string
	ProductID    string

	// Stamp is written as DTSTAMP on every VEVENT. Pass the planning run's
	// "now" so re-exporting the same plan yields identical text.
	Stamp time.Time

	// Titles maps task IDs to human-readable summaries. Tasks without an
	// entry use their ID.
	Titles map[string]string
}

// SessionUID derives a stable UID from the task ID and session start, so a
// subscriber sees an unchanged event when the same session is re-exported.
func SessionUID(s model.PlannedSession) string {
	sum := sha256.Sum256([]byte(s.TaskID + "|" + strconv.FormatInt(s.Start.Unix(), 10)))
	return hex.EncodeToString(sum[:12]) + uidDomain
}

// ExportSessions serializes planned sessions as an iCalendar feed with one
// VEVENT per session. Events are ordered by start, then task ID.
func ExportSessions(sessions []model.PlannedSession, opts ExportOptions) string {
	if opts.ProductID == "" {
		opts.ProductID = defaultProductID
	}
	if opts.CalendarName == "" {
		opts.CalendarName = defaultCalendarName
	}

	ordered := slices.Clone(sessions)
	slices.SortStableFunc(ordered, func(a, b model.PlannedSession) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		if a.TaskID < b.TaskID {
			return -1
		}
		if a.TaskID > b.TaskID {
			return 1
		}
		return 0
	})

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(opts.ProductID)
	cal.SetXWRCalName(opts.CalendarName)

	stamp := opts.Stamp.UTC()
	for _, s := range ordered {
		if !s.End.After(s.Start) {
			continue
		}
		ev := cal.AddEvent(SessionUID(s))
		ev.SetDtStampTime(stamp)
		ev.SetStartAt(s.Start.UTC())
		ev.SetEndAt(s.End.UTC())

		title := opts.Titles[s.TaskID]
		if title == "" {
			title = s.TaskID
		}
		ev.SetSummary(title)
		ev.SetDescription("Planned study session for task " + s.TaskID)
		ev.SetProperty(ical.ComponentPropertyCategories, sessionCategory)
	}

	return cal.Serialize()
}
