package availability

import (
	"slices"
	"time"

	"studyplan/internal/model"
)

// DefaultMinFreeMinutes is the shortest free fragment worth proposing.
const DefaultMinFreeMinutes = 30

// FreeOptions controls DeriveFreeWindows.
type FreeOptions struct {
	// MinFreeMinutes drops shorter fragments. Zero means
	// DefaultMinFreeMinutes.
	MinFreeMinutes int
}

// Merge sorts intervals and coalesces overlapping or touching ones.
// Invalid intervals are dropped. Merge is idempotent.
func Merge(intervals []model.TimeInterval) []model.TimeInterval {
	sorted := make([]model.TimeInterval, 0, len(intervals))
	for _, iv := range intervals {
		if iv.Valid() {
			sorted = append(sorted, iv)
		}
	}
	slices.SortFunc(sorted, func(a, b model.TimeInterval) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return a.End.Compare(b.End)
	})

	out := make([]model.TimeInterval, 0, len(sorted))
	for _, iv := range sorted {
		if n := len(out); n > 0 && !iv.Start.After(out[n-1].End) {
			if iv.End.After(out[n-1].End) {
				out[n-1].End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// DeriveFreeWindows returns availability minus busy. Both inputs are merged
// first, so busy intervals duplicated across sources and overlapping
// availability windows are counted once. Fragments shorter than
// MinFreeMinutes are dropped.
func DeriveFreeWindows(availability, busy []model.TimeInterval, opts FreeOptions) []model.TimeInterval {
	minFree := opts.MinFreeMinutes
	if minFree <= 0 {
		minFree = DefaultMinFreeMinutes
	}
	minLen := time.Duration(minFree) * time.Minute

	windows := Merge(availability)
	blocked := Merge(busy)

	free := make([]model.TimeInterval, 0, len(windows))
	emit := func(start, end time.Time) {
		if end.Sub(start) >= minLen && end.After(start) {
			free = append(free, model.TimeInterval{Start: start, End: end})
		}
	}

	next := 0
	for _, w := range windows {
		for next < len(blocked) && !blocked[next].End.After(w.Start) {
			next++
		}

		cursor := w.Start
		for i := next; i < len(blocked) && blocked[i].Start.Before(w.End); i++ {
			b := blocked[i]
			if b.Start.After(cursor) {
				emit(cursor, b.Start)
			}
			if b.End.After(cursor) {
				cursor = b.End
			}
			if !cursor.Before(w.End) {
				break
			}
		}
		if cursor.Before(w.End) {
			emit(cursor, w.End)
		}
	}
	return free
}
