package sensor

import "time"

// Sample is one reading of a sensor.
type Sample struct {
	Time  time.Time
	Value float64
}

// Series is the ordered readings of one sensor. Duplicate timestamps are
// kept. A nil *Series marks an absent stream.
type Series struct {
	Name    string
	Samples []Sample
}

// Len is nil-safe.
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Samples)
}

// Times returns the sample timestamps.
func (s *Series) Times() []time.Time {
	if s == nil {
		return nil
	}
	out := make([]time.Time, len(s.Samples))
	for i, smp := range s.Samples {
		out[i] = smp.Time
	}
	return out
}

// Values returns the sample values.
func (s *Series) Values() []float64 {
	if s == nil {
		return nil
	}
	out := make([]float64, len(s.Samples))
	for i, smp := range s.Samples {
		out[i] = smp.Value
	}
	return out
}
