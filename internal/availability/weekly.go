package availability

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"studyplan/internal/model"
	"studyplan/internal/zoned"
)

// maxWeeklyOccurrences caps how many days a single template may produce.
const maxWeeklyOccurrences = 1000

// WeeklyTemplate is a recurring availability rule, e.g. every Monday and
// Wednesday from 09:00 to 12:00. Rule is an RFC 5545 RRULE value without
// DTSTART; recurrence starts at the expansion range.
type WeeklyTemplate struct {
	Rule  string `yaml:"rrule" json:"rrule"`
	Start string `yaml:"start" json:"start"` // "HH:MM"
	End   string `yaml:"end" json:"end"`     // "HH:MM"
}

// Validate checks the rule and clock times without expanding.
func (w WeeklyTemplate) Validate() error {
	if _, err := rrule.StrToROption(trimRulePrefix(w.Rule)); err != nil {
		return fmt.Errorf("weekly: rrule %q: %w", w.Rule, err)
	}
	_, _, err := w.clock()
	return err
}

func (w WeeklyTemplate) clock() (start, end time.Time, err error) {
	start, err = time.Parse("15:04", strings.TrimSpace(w.Start))
	if err != nil {
		return start, end, fmt.Errorf("weekly: start %q: %w", w.Start, err)
	}
	end, err = time.Parse("15:04", strings.TrimSpace(w.End))
	if err != nil {
		return start, end, fmt.Errorf("weekly: end %q: %w", w.End, err)
	}
	if !end.After(start) {
		return start, end, errors.New("weekly: end must be after start")
	}
	return start, end, nil
}

func trimRulePrefix(rule string) string {
	rule = strings.TrimSpace(rule)
	if len(rule) >= 6 && strings.EqualFold(rule[:6], "RRULE:") {
		return rule[6:]
	}
	return rule
}

// ExpandWeekly turns templates into availability blocks tagged "weekly"
// for every matching civil day in zone whose window ends after from and
// starts before to.
func ExpandWeekly(templates []WeeklyTemplate, zone string, from, to time.Time) ([]model.AvailabilityBlock, error) {
	if len(templates) == 0 || !to.After(from) {
		return nil, nil
	}
	loc, err := zoned.Location(zone)
	if err != nil {
		return nil, err
	}
	first, err := zoned.StartOfDay(from, zone)
	if err != nil {
		return nil, err
	}

	var out []model.AvailabilityBlock
	for _, tpl := range templates {
		clockStart, clockEnd, err := tpl.clock()
		if err != nil {
			return nil, err
		}
		opt, err := rrule.StrToROption(trimRulePrefix(tpl.Rule))
		if err != nil {
			return nil, fmt.Errorf("weekly: rrule %q: %w", tpl.Rule, err)
		}
		opt.Dtstart = first.In(loc)
		rule, err := rrule.NewRRule(*opt)
		if err != nil {
			return nil, fmt.Errorf("weekly: rrule %q: %w", tpl.Rule, err)
		}

		days := rule.Between(opt.Dtstart, to.In(loc), true)
		if len(days) > maxWeeklyOccurrences {
			days = days[:maxWeeklyOccurrences]
		}
		for _, d := range days {
			day := d.In(loc)
			startCivil := zoned.Civil{Year: day.Year(), Month: int(day.Month()), Day: day.Day(), Hour: clockStart.Hour(), Minute: clockStart.Minute()}
			endCivil := zoned.Civil{Year: day.Year(), Month: int(day.Month()), Day: day.Day(), Hour: clockEnd.Hour(), Minute: clockEnd.Minute()}

			start, err := zoned.CivilToInstant(startCivil, zone)
			if err != nil {
				return nil, err
			}
			end, err := zoned.CivilToInstant(endCivil, zone)
			if err != nil {
				return nil, err
			}
			if !end.After(from) || !start.Before(to) || !end.After(start) {
				continue
			}
			out = append(out, model.AvailabilityBlock{
				TimeInterval: model.TimeInterval{Start: start, End: end},
				Source:       model.SourceWeekly,
			})
		}
	}
	return out, nil
}
