package timeline

import "time"

// Interval is a closed time span.
type Interval struct {
	Start    time.Time
	End      time.Time
	Duration time.Duration
}

// NewInterval builds an interval and derives its duration.
func NewInterval(start, end time.Time) Interval {
	return Interval{Start: start, End: end, Duration: end.Sub(start)}
}

// Table is a named, ordered set of intervals. A nil *Table marks an absent
// stream.
type Table struct {
	Name string
	Rows []Interval
	// Frames holds the video frame index of every row. Nil unless the rows
	// are camera frames.
	Frames []int
}

// Len is nil-safe.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Starts returns the start of every row.
func (t *Table) Starts() []time.Time {
	if t == nil {
		return nil
	}
	out := make([]time.Time, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Start
	}
	return out
}

// FrameIntervals turns ordered frame timestamps into per-frame intervals:
// each frame ends where the next one starts and the last frame lasts one
// nominal period.
func FrameIntervals(name string, starts []time.Time, period time.Duration) *Table {
	if len(starts) == 0 {
		return nil
	}
	rows := make([]Interval, len(starts))
	for i, s := range starts {
		end := s.Add(period)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		rows[i] = NewInterval(s, end)
	}
	return &Table{Name: name, Rows: rows}
}
