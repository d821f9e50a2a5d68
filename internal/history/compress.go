package history

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Interval is one contiguous reading span, both ends inclusive, in Unix
// seconds. A singleton observation has Start == End.
type Interval struct {
	Start int64
	End   int64
}

// Singleton reports whether the interval holds a single observation.
func (iv Interval) Singleton() bool { return iv.Start == iv.End }

// MarshalJSON encodes a singleton as [t] and a span as [start,end].
func (iv Interval) MarshalJSON() ([]byte, error) {
	if iv.Singleton() {
		return json.Marshal([1]int64{iv.Start})
	}
	return json.Marshal([2]int64{iv.Start, iv.End})
}

// UnmarshalJSON accepts the encodings produced by MarshalJSON.
func (iv *Interval) UnmarshalJSON(data []byte) error {
	var ts []int64
	if err := json.Unmarshal(data, &ts); err != nil {
		return err
	}
	switch len(ts) {
	case 1:
		*iv = Interval{Start: ts[0], End: ts[0]}
	case 2:
		if ts[1] < ts[0] {
			return fmt.Errorf("interval end %d before start %d", ts[1], ts[0])
		}
		*iv = Interval{Start: ts[0], End: ts[1]}
	default:
		return fmt.Errorf("interval must have 1 or 2 elements, got %d", len(ts))
	}
	return nil
}

// Compress folds timestamps into maximal intervals. The input need not be
// sorted and may contain repeats. Two neighbouring samples a <= b share an
// interval when b-a <= tolerance.
func Compress(timestamps []int64, tolerance int64) []Interval {
	points := make([]Interval, len(timestamps))
	for i, t := range timestamps {
		points[i] = Interval{Start: t, End: t}
	}
	return Coalesce(points, tolerance)
}

// Coalesce runs the compression sweep over intervals, so compact data can be
// folded together with fresh samples. The result does not depend on the
// order of the input.
func Coalesce(spans []Interval, tolerance int64) []Interval {
	if tolerance < 0 {
		tolerance = 0
	}
	sorted := make([]Interval, len(spans))
	copy(sorted, spans)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End < sorted[j].End
	})

	out := []Interval{}
	for _, iv := range sorted {
		if iv.End < iv.Start {
			iv.Start, iv.End = iv.End, iv.Start
		}
		if n := len(out); n > 0 && within(out[n-1].End, iv.Start, tolerance) {
			if iv.End > out[n-1].End {
				out[n-1].End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// within reports whether b-a <= tol for a <= b, without overflowing on
// far-apart values.
func within(a, b, tol int64) bool {
	if b <= a {
		return true
	}
	return uint64(b)-uint64(a) <= uint64(tol)
}

// Boundaries flattens spans to their boundary timestamps: one for a
// singleton, start and end otherwise.
func Boundaries(spans []Interval) []int64 {
	out := make([]int64, 0, 2*len(spans))
	for _, iv := range spans {
		out = append(out, iv.Start)
		if !iv.Singleton() {
			out = append(out, iv.End)
		}
	}
	return out
}

// Expand flattens spans to their boundaries plus interior points at most
// tolerance apart. Compress(Expand(c, tol), tol) reproduces c for any c
// produced by Compress with the same tolerance.
func Expand(spans []Interval, tolerance int64) []int64 {
	var out []int64
	for _, iv := range spans {
		if tolerance <= 0 {
			out = append(out, Boundaries([]Interval{iv})...)
			continue
		}
		for t := iv.Start; t < iv.End; t += tolerance {
			out = append(out, t)
		}
		out = append(out, iv.End)
	}
	return out
}

// Dwell is the total reading time covered by spans. A singleton counts as
// floor seconds, one sampling period, rather than zero. The sum saturates at
// math.MaxInt64.
func Dwell(spans []Interval, floor int64) int64 {
	var total uint64
	for _, iv := range spans {
		d := uint64(floor)
		if !iv.Singleton() {
			d = uint64(iv.End) - uint64(iv.Start)
		}
		if total+d < total || total+d > math.MaxInt64 {
			return math.MaxInt64
		}
		total += d
	}
	return int64(total)
}
