// Package availability turns declared availability and busy calendars into
// the bounded free windows the planner fills.
package availability

import (
	"slices"
	"time"

	"studyplan/internal/model"
	"studyplan/internal/zoned"
)

const (
	DefaultLongBlockHours = 20
	DefaultDayStartHour   = 8
	DefaultDayEndHour     = 18

	// maxExpandDays bounds expansion of absurdly long blocks.
	maxExpandDays = 366
)

// NormalizeOptions controls Normalize. The zero value expands nothing
// (no zone) and uses the default thresholds.
type NormalizeOptions struct {
	// Zone is the IANA zone whose calendar days long blocks are split on.
	Zone string
	// LongBlockHours is the length from which a block counts as all-day-like.
	LongBlockHours int
	// DayStartHour and DayEndHour bound the window emitted per day.
	DayStartHour int
	DayEndHour   int
}

func (o NormalizeOptions) withDefaults() NormalizeOptions {
	if o.LongBlockHours <= 0 {
		o.LongBlockHours = DefaultLongBlockHours
	}
	if o.DayStartHour < 0 || o.DayEndHour > 24 || o.DayEndHour <= o.DayStartHour {
		o.DayStartHour = DefaultDayStartHour
		o.DayEndHour = DefaultDayEndHour
	}
	return o
}

// Normalize shapes raw availability for the planner. Blocks at least
// LongBlockHours long ("I'm free all day") become one
// DayStartHour–DayEndHour window per civil day they cover in Zone; shorter
// blocks pass through. Invalid blocks are dropped. Without a resolvable
// Zone no expansion happens. The result is sorted by start.
func Normalize(blocks []model.AvailabilityBlock, opts NormalizeOptions) []model.AvailabilityBlock {
	opts = opts.withDefaults()
	expand := zoned.Supported(opts.Zone)
	threshold := time.Duration(opts.LongBlockHours) * time.Hour

	out := make([]model.AvailabilityBlock, 0, len(blocks))
	for _, b := range blocks {
		if !b.Valid() {
			continue
		}
		if !expand || b.Duration() < threshold {
			out = append(out, b)
			continue
		}
		out = append(out, expandDays(b, opts)...)
	}

	slices.SortStableFunc(out, func(a, b model.AvailabilityBlock) int {
		return a.Start.Compare(b.Start)
	})
	return out
}

// expandDays emits one daytime window for every civil day of b in
// opts.Zone: the start day, plus each following day whose midnight falls
// before b.End.
func expandDays(b model.AvailabilityBlock, opts NormalizeOptions) []model.AvailabilityBlock {
	first, err := zoned.InstantToCivil(b.Start, opts.Zone)
	if err != nil {
		return []model.AvailabilityBlock{b}
	}
	day := zoned.Date(first.Year, first.Month, first.Day)

	var out []model.AvailabilityBlock
	for i := 0; i < maxExpandDays; i, day = i+1, day.AddDays(1) {
		if i > 0 {
			midnight, err := zoned.CivilToInstant(day, opts.Zone)
			if err != nil || !midnight.Before(b.End) {
				break
			}
		}

		from := day
		from.Hour = opts.DayStartHour
		to := day
		if opts.DayEndHour == 24 {
			to = day.AddDays(1)
		} else {
			to.Hour = opts.DayEndHour
		}

		start, err := zoned.CivilToInstant(from, opts.Zone)
		if err != nil {
			break
		}
		end, err := zoned.CivilToInstant(to, opts.Zone)
		if err != nil {
			break
		}
		if !end.After(start) {
			continue
		}
		out = append(out, model.AvailabilityBlock{
			TimeInterval: model.TimeInterval{Start: start, End: end},
			Source:       b.Source,
		})
	}
	return out
}

// Intervals strips source tags.
func Intervals(blocks []model.AvailabilityBlock) []model.TimeInterval {
	out := make([]model.TimeInterval, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, b.TimeInterval)
	}
	return out
}
