// Package zoned converts between civil (wall-clock) date/times in a named
// zone and absolute instants.
//
// The only zone primitive used is "render this instant as civil time in
// zone X" (time.Time.In). CivilToInstant is derived from it by iterative
// offset refinement, so the same code path handles whole-hour, half-hour
// and 45-minute offsets as well as DST transitions.
package zoned

import (
	"errors"
	"strings"
	"sync"
	"time"
	_ "time/tzdata" // embedded zone database for hosts without /usr/share/zoneinfo
)

// ErrUnsupportedZone is returned when a zone identifier cannot be resolved.
var ErrUnsupportedZone = errors.New("zoned: unsupported zone")

const maxRefinements = 4

// Civil is a wall-clock date/time with no zone attached.
type Civil struct {
	Year   int
	Month  int
	Day    int
	Hour   int
	Minute int
	Second int
}

// Date returns a Civil at midnight of the given day.
func Date(year, month, day int) Civil {
	return Civil{Year: year, Month: month, Day: day}
}

// AddDays returns c shifted by n calendar days, normalizing month and year
// rollover. Time-of-day is preserved.
func (c Civil) AddDays(n int) Civil {
	t := time.Date(c.Year, time.Month(c.Month), c.Day+n, c.Hour, c.Minute, c.Second, 0, time.UTC)
	return civilOf(t)
}

// asUTC reads the civil fields as if they were UTC; used for arithmetic
// on the civil components only.
func (c Civil) asUTC() time.Time {
	return time.Date(c.Year, time.Month(c.Month), c.Day, c.Hour, c.Minute, c.Second, 0, time.UTC)
}

func civilOf(t time.Time) Civil {
	return Civil{
		Year:   t.Year(),
		Month:  int(t.Month()),
		Day:    t.Day(),
		Hour:   t.Hour(),
		Minute: t.Minute(),
		Second: t.Second(),
	}
}

// locations memoizes resolved zones by identifier. Resolved *time.Location
// values are immutable and safe for concurrent use.
var locations sync.Map // map[string]*time.Location

// IsUTC reports whether zone names UTC or GMT, case-insensitively and with
// or without a leading slash.
func IsUTC(zone string) bool {
	z := strings.TrimPrefix(strings.TrimSpace(zone), "/")
	return strings.EqualFold(z, "UTC") || strings.EqualFold(z, "GMT")
}

// Location resolves zone to a *time.Location.
func Location(zone string) (*time.Location, error) {
	if IsUTC(zone) {
		return time.UTC, nil
	}
	zone = strings.TrimSpace(zone)
	if zone == "" {
		return nil, ErrUnsupportedZone
	}
	if v, ok := locations.Load(zone); ok {
		return v.(*time.Location), nil
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, ErrUnsupportedZone
	}
	// "Local" resolves to the host zone, which would make results depend on
	// the machine running the planner.
	if loc == time.Local {
		return nil, ErrUnsupportedZone
	}
	locations.Store(zone, loc)
	return loc, nil
}

// Supported reports whether zone can be resolved.
func Supported(zone string) bool {
	_, err := Location(zone)
	return err == nil
}

// InstantToCivil renders t as civil components in zone.
func InstantToCivil(t time.Time, zone string) (Civil, error) {
	loc, err := Location(zone)
	if err != nil {
		return Civil{}, err
	}
	return civilOf(t.In(loc)), nil
}

// CivilToInstant returns the instant whose civil rendering in zone is c.
//
// The first guess reads c as UTC. Each refinement renders the guess in the
// zone, measures how far that rendering is from c and shifts the guess by
// that amount. For civil times that fall in a DST gap the result lands on
// one side of the gap.
func CivilToInstant(c Civil, zone string) (time.Time, error) {
	want := c.asUTC()
	if IsUTC(zone) {
		return want, nil
	}
	loc, err := Location(zone)
	if err != nil {
		return time.Time{}, err
	}

	guess := want
	for range maxRefinements {
		got := civilOf(guess.In(loc)).asUTC()
		delta := want.Sub(got)
		if delta == 0 {
			break
		}
		guess = guess.Add(delta)
	}
	return guess.UTC(), nil
}

// StartOfDay returns the instant of civil midnight of t's day in zone.
func StartOfDay(t time.Time, zone string) (time.Time, error) {
	c, err := InstantToCivil(t, zone)
	if err != nil {
		return time.Time{}, err
	}
	return CivilToInstant(Date(c.Year, c.Month, c.Day), zone)
}
