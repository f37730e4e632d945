package ics

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyplan/internal/model"
)

func calendar(lines ...string) string {
	all := append([]string{"BEGIN:VCALENDAR", "VERSION:2.0"}, lines...)
	all = append(all, "END:VCALENDAR")
	return strings.Join(all, "\r\n") + "\r\n"
}

func utc(y int, mo time.Month, d, h, mi int) time.Time {
	return time.Date(y, mo, d, h, mi, 0, 0, time.UTC)
}

func TestParseCalendar_TZIDResolvesToUTC(t *testing.T) {
	text := calendar(
		"BEGIN:VEVENT",
		"SUMMARY:Chemistry lecture",
		"DTSTART;TZID=America/Chicago:20260212T090000",
		"DTEND;TZID=America/Chicago:20260212T110000",
		"END:VEVENT",
	)

	res := ParseCalendar(text, ParseOptions{})

	require.Len(t, res.Events, 1)
	ev := res.Events[0]
	assert.True(t, utc(2026, 2, 12, 15, 0).Equal(ev.Start), ev.Start.String())
	assert.True(t, utc(2026, 2, 12, 17, 0).Equal(ev.End), ev.End.String())
	assert.Equal(t, "Chemistry lecture", ev.Summary)
	assert.Equal(t, Diagnostics{Total: 1, Parsed: 1}, res.Diagnostics)
}

func TestParseCalendar_ZonePrecedence(t *testing.T) {
	cases := []struct {
		name   string
		header []string
		opts   ParseOptions
		start  string
		want   time.Time
	}{
		{
			name:  "utc suffix ignores every default",
			opts:  ParseOptions{DefaultZone: "Asia/Seoul"},
			start: "DTSTART:20260212T090000Z",
			want:  utc(2026, 2, 12, 9, 0),
		},
		{
			name:   "x-wr-timezone beats caller default",
			header: []string{"X-WR-TIMEZONE:Europe/Berlin"},
			opts:   ParseOptions{DefaultZone: "Asia/Seoul"},
			start:  "DTSTART:20260212T090000",
			want:   utc(2026, 2, 12, 8, 0),
		},
		{
			name: "vtimezone tzid used as calendar default",
			header: []string{
				"BEGIN:VTIMEZONE", "TZID:America/New_York",
				"BEGIN:STANDARD", "TZOFFSETFROM:-0400", "TZOFFSETTO:-0500", "END:STANDARD",
				"END:VTIMEZONE",
			},
			start: "DTSTART:20260212T090000",
			want:  utc(2026, 2, 12, 14, 0),
		},
		{
			name:  "caller default",
			opts:  ParseOptions{DefaultZone: "Asia/Seoul"},
			start: "DTSTART:20260212T090000",
			want:  utc(2026, 2, 12, 0, 0),
		},
		{
			name:  "floating without any zone is utc",
			start: "DTSTART:20260212T090000",
			want:  utc(2026, 2, 12, 9, 0),
		},
		{
			name:  "unknown tzid falls back to caller default",
			opts:  ParseOptions{DefaultZone: "Asia/Seoul"},
			start: "DTSTART;TZID=Nowhere/Special:20260212T090000",
			want:  utc(2026, 2, 12, 0, 0),
		},
		{
			name:  "vendor-prefixed tzid",
			start: "DTSTART;TZID=/mozilla.org/20050126_1/America/New_York:20260212T090000",
			want:  utc(2026, 2, 12, 14, 0),
		},
		{
			name:  "quoted tzid",
			start: `DTSTART;TZID="Europe/Berlin":20260212T090000`,
			want:  utc(2026, 2, 12, 8, 0),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lines := append([]string{}, tc.header...)
			lines = append(lines, "BEGIN:VEVENT", tc.start, "DURATION:PT1H", "END:VEVENT")

			res := ParseCalendar(calendar(lines...), tc.opts)

			require.Len(t, res.Events, 1)
			assert.True(t, tc.want.Equal(res.Events[0].Start), "got %s", res.Events[0].Start)
			assert.Equal(t, time.Hour, res.Events[0].End.Sub(res.Events[0].Start))
		})
	}
}

func TestParseCalendar_EndInheritsStartZone(t *testing.T) {
	text := calendar(
		"X-WR-TIMEZONE:Asia/Seoul",
		"BEGIN:VEVENT",
		"DTSTART;TZID=America/Chicago:20260212T090000",
		"DTEND:20260212T100000",
		"END:VEVENT",
	)

	res := ParseCalendar(text, ParseOptions{})

	require.Len(t, res.Events, 1)
	assert.True(t, utc(2026, 2, 12, 16, 0).Equal(res.Events[0].End), res.Events[0].End.String())
}

func TestParseCalendar_AllDayAndDefaults(t *testing.T) {
	text := calendar(
		"BEGIN:VEVENT",
		"SUMMARY:Holiday",
		"DTSTART;VALUE=DATE:20260216",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"SUMMARY:Reading week",
		"DTSTART;VALUE=DATE:20260216",
		"DTEND;VALUE=DATE:20260221",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"SUMMARY:Office hours",
		"DTSTART:20260216T140000Z",
		"END:VEVENT",
	)

	res := ParseCalendar(text, ParseOptions{DefaultZone: "America/Chicago"})

	require.Len(t, res.Events, 3)
	holiday := res.Events[0]
	assert.True(t, holiday.AllDay)
	assert.True(t, utc(2026, 2, 16, 6, 0).Equal(holiday.Start), holiday.Start.String())
	assert.Equal(t, 24*time.Hour, holiday.End.Sub(holiday.Start))

	week := res.Events[1]
	assert.Equal(t, 5*24*time.Hour, week.End.Sub(week.Start))

	office := res.Events[2]
	assert.False(t, office.AllDay)
	assert.Equal(t, time.Hour, office.End.Sub(office.Start))
}

func TestParseCalendar_LineFoldingAndEscapes(t *testing.T) {
	text := "BEGIN:VCALENDAR\r\n" +
		"BEGIN:VEVENT\r\n" +
		"SUMMARY:Lab\\, part 1\\; bring\\n goggles \\\\ ap\r\n" +
		" ron\r\n" +
		"DTSTART;TZID=America/\r\n" +
		"\tChicago:20260212T090000\r\n" +
		"DURATION:PT90M\r\n" +
		"END:VEVENT\r\n" +
		"END:VCALENDAR\r\n"

	res := ParseCalendar(text, ParseOptions{})

	require.Len(t, res.Events, 1)
	assert.Equal(t, "Lab, part 1; bring\n goggles \\ apron", res.Events[0].Summary)
	assert.True(t, utc(2026, 2, 12, 15, 0).Equal(res.Events[0].Start))
	assert.Equal(t, 90*time.Minute, res.Events[0].End.Sub(res.Events[0].Start))
}

func TestParseCalendar_Diagnostics(t *testing.T) {
	text := calendar(
		"BEGIN:VEVENT", "SUMMARY:No start 1", "DTEND:20260212T100000Z", "END:VEVENT",
		"BEGIN:VEVENT", "SUMMARY:No start 2", "END:VEVENT",
		"BEGIN:VEVENT", "SUMMARY:No start 3", "END:VEVENT",
		"BEGIN:VEVENT", "SUMMARY:No start 4", "END:VEVENT",
		"BEGIN:VEVENT", "SUMMARY:Bad start", "DTSTART:2026-02-12", "END:VEVENT",
		"BEGIN:VEVENT", "SUMMARY:Bad end", "DTSTART:20260212T090000Z", "DTEND:20261312T100000Z", "END:VEVENT",
		"BEGIN:VEVENT", "SUMMARY:Zero duration", "DTSTART:20260212T090000Z", "DURATION:PT0S", "END:VEVENT",
		"BEGIN:VEVENT", "SUMMARY:Backwards", "DTSTART:20260212T090000Z", "DTEND:20260212T080000Z", "END:VEVENT",
		"BEGIN:VEVENT", "DTSTART:20260212T090000Z", "DTEND:20260212T090000Z", "END:VEVENT",
		"BEGIN:VEVENT", "SUMMARY:Good", "DTSTART:20260212T090000Z", "DTEND:20260212T100000Z", "END:VEVENT",
	)

	res := ParseCalendar(text, ParseOptions{})

	want := Diagnostics{
		Total:   10,
		Parsed:  1,
		Ignored: 9,
		Reasons: []IgnoreReason{
			{Reason: ReasonMissingStart, Count: 4, Examples: []string{"No start 1", "No start 2", "No start 3"}},
			{Reason: ReasonInvalidStart, Count: 1, Examples: []string{"Bad start"}},
			{Reason: ReasonInvalidEnd, Count: 1, Examples: []string{"Bad end"}},
			{Reason: ReasonInvalidDuration, Count: 1, Examples: []string{"Zero duration"}},
			{Reason: ReasonEndNotAfter, Count: 2, Examples: []string{"Backwards", noSummary}},
		},
	}
	if diff := cmp.Diff(want, res.Diagnostics); diff != "" {
		t.Fatalf("diagnostics mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, res.Events, 1)
	assert.Equal(t, "Good", res.Events[0].Summary)
}

func TestParseCalendar_NestedAlarmAndUnterminated(t *testing.T) {
	text := calendar(
		"BEGIN:VEVENT",
		"SUMMARY:Exam",
		"DTSTART:20260301T090000Z",
		"DTEND:20260301T120000Z",
		"BEGIN:VALARM",
		"TRIGGER:-PT15M",
		"DURATION:PT5M",
		"SUMMARY:Alarm text",
		"END:VALARM",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"SUMMARY:Cut off",
		"DTSTART:20260302T090000Z",
	)

	res := ParseCalendar(text, ParseOptions{})

	require.Len(t, res.Events, 1)
	assert.Equal(t, "Exam", res.Events[0].Summary)
	assert.Equal(t, 3*time.Hour, res.Events[0].End.Sub(res.Events[0].Start))
	assert.Equal(t, 2, res.Diagnostics.Total)
	assert.Equal(t, 1, res.Diagnostics.Ignored)
	require.Len(t, res.Diagnostics.Reasons, 1)
	assert.Equal(t, ReasonUnterminated, res.Diagnostics.Reasons[0].Reason)
}

func TestParseCalendar_EmptyInput(t *testing.T) {
	res := ParseCalendar("", ParseOptions{})
	assert.Empty(t, res.Events)
	assert.NotNil(t, res.Events)
	assert.Equal(t, Diagnostics{}, res.Diagnostics)
}

// Malformed fragments must never yield an interval with end <= start.
func TestParseCalendar_FuzzedFragmentsKeepIntervalInvariant(t *testing.T) {
	starts := []string{
		"DTSTART:20260212T090000Z", "DTSTART;VALUE=DATE:20260212", "DTSTART:20260230T090000",
		"DTSTART:", "DTSTART;TZID=Europe/Paris:20260329T023000", "DTSTART:2026021", "DTSTART:20260212T250000",
		"DTSTART;TZID=Bad/Zone:20260212T090000", "",
	}
	ends := []string{
		"DTEND:20260212T090000Z", "DTEND:20260212T080000Z", "DTEND;VALUE=DATE:20260212", "DTEND:garbage",
		"DURATION:-PT1H", "DURATION:P", "DURATION:PT", "DURATION:P1W", "DURATION:PT1H30M", "DURATION:P1DT", "",
		"DTEND;TZID=Asia/Tokyo:20260212T090000",
	}
	for _, s := range starts {
		for _, e := range ends {
			lines := []string{"BEGIN:VEVENT", "SUMMARY:x"}
			if s != "" {
				lines = append(lines, s)
			}
			if e != "" {
				lines = append(lines, e)
			}
			lines = append(lines, "END:VEVENT")

			res := ParseCalendar(calendar(lines...), ParseOptions{DefaultZone: "America/Chicago"})

			d := res.Diagnostics
			require.Equal(t, 1, d.Total)
			require.Equal(t, d.Total, d.Parsed+d.Ignored, "%s / %s", s, e)
			for _, ev := range res.Events {
				require.True(t, ev.End.After(ev.Start), "%s / %s produced %v", s, e, ev.Interval())
			}
		}
	}
}

func TestParseDuration(t *testing.T) {
	good := map[string]time.Duration{
		"PT1H":        time.Hour,
		"PT90M":       90 * time.Minute,
		"P1D":         24 * time.Hour,
		"P2W":         14 * 24 * time.Hour,
		"P1DT2H3M4S":  26*time.Hour + 3*time.Minute + 4*time.Second,
		"+PT15M":      15 * time.Minute,
		"pt30m":       30 * time.Minute,
		"P0DT0H0M30S": 30 * time.Second,
	}
	for in, want := range good {
		got, err := ParseDuration(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "P", "PT", "-PT1H", "PT0S", "P1H", "PT1D", "1H", "PT1.5H", "P1X", "PTH", "P1"} {
		_, err := ParseDuration(in)
		assert.ErrorIs(t, err, errBadDuration, in)
	}
}

func TestEventInterval(t *testing.T) {
	ev := model.CalendarEvent{Start: utc(2026, 1, 1, 9, 0), End: utc(2026, 1, 1, 10, 0)}
	assert.True(t, ev.Interval().Valid())
}
