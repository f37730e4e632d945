package ics

import (
	"strings"
	"time"

	"studyplan/internal/model"
	"studyplan/internal/zoned"
)

// Reasons attached to ignored VEVENTs. They are stable strings so callers
// can group and display them.
const (
	ReasonMissingStart    = "missing DTSTART"
	ReasonInvalidStart    = "invalid DTSTART"
	ReasonInvalidEnd      = "invalid DTEND"
	ReasonInvalidDuration = "invalid DURATION"
	ReasonEndNotAfter     = "end is not after start"
	ReasonUnterminated    = "unterminated VEVENT"
)

const (
	maxReasonExamples = 3
	noSummary         = "(no summary)"
)

// ParseOptions tunes ParseCalendar.
type ParseOptions struct {
	// DefaultZone is used for floating DTSTART/DTEND values when neither the
	// property nor the calendar names a zone. Empty means UTC.
	DefaultZone string
}

// IgnoreReason aggregates all events skipped for the same reason.
type IgnoreReason struct {
	Reason   string   `json:"reason"`
	Count    int      `json:"count"`
	Examples []string `json:"examples"`
}

// Diagnostics summarizes one ParseCalendar call.
type Diagnostics struct {
	Total   int            `json:"total"`
	Parsed  int            `json:"parsed"`
	Ignored int            `json:"ignored"`
	Reasons []IgnoreReason `json:"reasons,omitempty"`
}

// ParseResult is the output of ParseCalendar.
type ParseResult struct {
	Events      []model.CalendarEvent
	Diagnostics Diagnostics
}

// property is a single unfolded content line.
type property struct {
	name   string
	params map[string]string
	value  string
}

func (p *property) param(name string) string {
	if p == nil {
		return ""
	}
	return p.params[name]
}

// rawEvent accumulates the properties of one VEVENT.
type rawEvent struct {
	start    *property
	end      *property
	duration *property
	summary  string
}

// ParseCalendar parses single-occurrence VEVENTs out of an iCalendar text
// blob. Malformed events are skipped and accounted for in the returned
// diagnostics; ParseCalendar never fails as a whole. RRULE and other
// recurrence properties are ignored.
func ParseCalendar(text string, opts ParseOptions) ParseResult {
	p := parser{
		defaultZone: opts.DefaultZone,
		reasonIndex: make(map[string]int),
	}
	p.run(unfold(text))
	return p.result()
}

type parser struct {
	defaultZone   string
	xwrZone       string
	vtimezoneZone string

	events      []model.CalendarEvent
	diag        Diagnostics
	reasonIndex map[string]int
}

func (p *parser) run(lines []string) {
	var (
		stack []string
		cur   *rawEvent
	)
	top := func() string {
		if len(stack) == 0 {
			return ""
		}
		return stack[len(stack)-1]
	}

	for _, line := range lines {
		prop, ok := parseLine(line)
		if !ok {
			continue
		}

		switch prop.name {
		case "BEGIN":
			comp := strings.ToUpper(strings.TrimSpace(prop.value))
			stack = append(stack, comp)
			if comp == "VEVENT" {
				p.diag.Total++
				if cur != nil {
					// A VEVENT opened inside another one; the outer one
					// never closed properly.
					p.ignore(ReasonUnterminated, cur.summary)
				}
				cur = &rawEvent{}
			}
			continue
		case "END":
			comp := strings.ToUpper(strings.TrimSpace(prop.value))
			// Pop back to the matching BEGIN, tolerating missing ENDs of
			// nested components.
			for i := len(stack) - 1; i >= 0; i-- {
				if stack[i] == comp {
					stack = stack[:i]
					break
				}
			}
			if comp == "VEVENT" && cur != nil {
				p.finish(cur)
				cur = nil
			}
			continue
		}

		switch top() {
		case "VEVENT":
			if cur == nil {
				continue
			}
			switch prop.name {
			case "DTSTART":
				cur.start = &prop
			case "DTEND":
				cur.end = &prop
			case "DURATION":
				cur.duration = &prop
			case "SUMMARY":
				cur.summary = unescapeText(prop.value)
			}
		case "VTIMEZONE":
			if prop.name == "TZID" && p.vtimezoneZone == "" {
				p.vtimezoneZone = strings.TrimSpace(prop.value)
			}
		case "VCALENDAR", "":
			if prop.name == "X-WR-TIMEZONE" {
				p.xwrZone = strings.TrimSpace(prop.value)
			}
		}
	}

	if cur != nil {
		p.ignore(ReasonUnterminated, cur.summary)
	}
}

// finish resolves a completed VEVENT into an event or an ignore reason.
func (p *parser) finish(ev *rawEvent) {
	if ev.start == nil || strings.TrimSpace(ev.start.value) == "" {
		p.ignore(ReasonMissingStart, ev.summary)
		return
	}

	start, startZone, allDay, ok := p.resolve(ev.start, "")
	if !ok {
		p.ignore(ReasonInvalidStart, ev.summary)
		return
	}

	var end time.Time
	switch {
	case ev.end != nil:
		end, _, _, ok = p.resolve(ev.end, startZone)
		if !ok {
			p.ignore(ReasonInvalidEnd, ev.summary)
			return
		}
	case ev.duration != nil:
		d, err := ParseDuration(ev.duration.value)
		if err != nil {
			p.ignore(ReasonInvalidDuration, ev.summary)
			return
		}
		end = start.Add(d)
	case allDay:
		end = start.Add(24 * time.Hour)
	default:
		end = start.Add(time.Hour)
	}

	if !end.After(start) {
		p.ignore(ReasonEndNotAfter, ev.summary)
		return
	}

	p.events = append(p.events, model.CalendarEvent{
		Start:   start,
		End:     end,
		Summary: ev.summary,
		AllDay:  allDay,
	})
	p.diag.Parsed++
}

// resolve turns a DTSTART/DTEND property into an instant. inherited is the
// zone DTSTART resolved to and is only consulted for DTEND. It returns the
// zone actually used so DTEND can inherit it.
func (p *parser) resolve(prop *property, inherited string) (time.Time, string, bool, bool) {
	value := strings.TrimSpace(prop.value)
	dateOnly := strings.EqualFold(prop.param("VALUE"), "DATE") || isDateOnly(value)

	c, utc, ok := parseDateTime(value, dateOnly)
	if !ok {
		return time.Time{}, "", false, false
	}
	if utc {
		t, _ := zoned.CivilToInstant(c, "UTC")
		return t, "UTC", dateOnly, true
	}

	zone := p.zoneFor(prop.param("TZID"), inherited)
	t, err := zoned.CivilToInstant(c, zone)
	if err != nil {
		// zoneFor only returns supported zones or UTC.
		return time.Time{}, "", false, false
	}
	return t, zone, dateOnly, true
}

// zoneFor picks the first resolvable zone among the property's own TZID,
// the inherited DTSTART zone, the calendar default and the caller default.
// Unresolvable candidates are skipped; the last resort is UTC.
func (p *parser) zoneFor(tzid, inherited string) string {
	candidates := []string{tzid}
	if inherited != "" {
		candidates = append(candidates, inherited)
	} else {
		candidates = append(candidates, p.xwrZone, p.vtimezoneZone, p.defaultZone)
	}
	for _, c := range candidates {
		if z, ok := normalizeTZID(c); ok {
			return z
		}
	}
	return "UTC"
}

// normalizeTZID resolves a TZID parameter value. Some producers prefix IANA
// names with a vendor path ("/mozilla.org/20050126_1/America/New_York"), so
// trailing path suffixes are tried as well.
func normalizeTZID(tzid string) (string, bool) {
	tzid = strings.Trim(strings.TrimSpace(tzid), `"`)
	if tzid == "" {
		return "", false
	}
	if zoned.Supported(tzid) {
		return tzid, true
	}
	parts := strings.Split(strings.Trim(tzid, "/"), "/")
	for i := 1; i < len(parts); i++ {
		cand := strings.Join(parts[i:], "/")
		if zoned.Supported(cand) {
			return cand, true
		}
	}
	return "", false
}

func (p *parser) ignore(reason, summary string) {
	p.diag.Ignored++
	if summary == "" {
		summary = noSummary
	}
	idx, ok := p.reasonIndex[reason]
	if !ok {
		idx = len(p.diag.Reasons)
		p.reasonIndex[reason] = idx
		p.diag.Reasons = append(p.diag.Reasons, IgnoreReason{Reason: reason})
	}
	r := &p.diag.Reasons[idx]
	r.Count++
	if len(r.Examples) < maxReasonExamples {
		r.Examples = append(r.Examples, summary)
	}
}

func (p *parser) result() ParseResult {
	events := p.events
	if events == nil {
		events = []model.CalendarEvent{}
	}
	return ParseResult{Events: events, Diagnostics: p.diag}
}

// unfold splits text into content lines, joining RFC 5545 folded
// continuations (lines starting with a space or tab) onto the previous
// line with the single leading whitespace removed.
func unfold(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	raw := strings.Split(text, "\n")

	out := make([]string, 0, len(raw))
	for _, line := range raw {
		if len(line) > 0 && (line[0] == ' ' || line[0] == '\t') && len(out) > 0 {
			out[len(out)-1] += line[1:]
			continue
		}
		out = append(out, line)
	}
	return out
}

// parseLine splits "NAME;P1=v1;P2=\"v:2\":value" into its parts. Colons
// and semicolons inside double-quoted parameter values are not separators.
func parseLine(line string) (property, bool) {
	if strings.TrimSpace(line) == "" {
		return property{}, false
	}

	inQuote := false
	valueAt := -1
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			inQuote = !inQuote
		case ':':
			if !inQuote {
				valueAt = i
			}
		}
		if valueAt >= 0 {
			break
		}
	}
	if valueAt < 0 {
		return property{}, false
	}

	head := line[:valueAt]
	prop := property{value: line[valueAt+1:]}

	segments := splitUnquoted(head, ';')
	prop.name = strings.ToUpper(strings.TrimSpace(segments[0]))
	if prop.name == "" {
		return property{}, false
	}
	for _, seg := range segments[1:] {
		k, v, found := strings.Cut(seg, "=")
		if !found {
			continue
		}
		if prop.params == nil {
			prop.params = make(map[string]string)
		}
		prop.params[strings.ToUpper(strings.TrimSpace(k))] = strings.Trim(strings.TrimSpace(v), `"`)
	}
	return prop, true
}

func splitUnquoted(s string, sep byte) []string {
	var (
		parts   []string
		inQuote bool
		last    int
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuote = !inQuote
		case sep:
			if !inQuote {
				parts = append(parts, s[last:i])
				last = i + 1
			}
		}
	}
	return append(parts, s[last:])
}

func isDateOnly(v string) bool {
	return len(v) == 8 && allDigits(v)
}

// parseDateTime parses DATE ("YYYYMMDD") and DATE-TIME ("YYYYMMDDTHHMMSS"
// with optional trailing "Z") values into civil components. utc is true
// for the Z form.
func parseDateTime(v string, dateOnly bool) (c zoned.Civil, utc bool, ok bool) {
	if dateOnly {
		if !isDateOnly(v) {
			return zoned.Civil{}, false, false
		}
		c = zoned.Civil{Year: atoi(v[0:4]), Month: atoi(v[4:6]), Day: atoi(v[6:8])}
		return c, false, validCivil(c)
	}

	if strings.HasSuffix(v, "Z") || strings.HasSuffix(v, "z") {
		utc = true
		v = v[:len(v)-1]
	}
	if len(v) != 15 || (v[8] != 'T' && v[8] != 't') || !allDigits(v[:8]) || !allDigits(v[9:]) {
		return zoned.Civil{}, false, false
	}
	c = zoned.Civil{
		Year:   atoi(v[0:4]),
		Month:  atoi(v[4:6]),
		Day:    atoi(v[6:8]),
		Hour:   atoi(v[9:11]),
		Minute: atoi(v[11:13]),
		Second: atoi(v[13:15]),
	}
	return c, utc, validCivil(c)
}

// validCivil rejects out-of-range components such as month 13 or Feb 30.
// Second 60 (leap second) is accepted and folds into the next minute.
func validCivil(c zoned.Civil) bool {
	if c.Month < 1 || c.Month > 12 || c.Day < 1 || c.Hour > 23 || c.Minute > 59 || c.Second > 60 {
		return false
	}
	t := time.Date(c.Year, time.Month(c.Month), c.Day, 0, 0, 0, 0, time.UTC)
	return t.Day() == c.Day
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// atoi parses a string already checked by allDigits.
func atoi(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		n = n*10 + int(s[i]-'0')
	}
	return n
}

// unescapeText reverses RFC 5545 TEXT escaping.
func unescapeText(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n', 'N':
			b.WriteByte('\n')
		case ',', ';', '\\':
			b.WriteByte(s[i])
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
