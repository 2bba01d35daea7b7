package sensor

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"behavior-session-backend/internal/timeline"
)

// DefaultWindow is the distance smoothing window when metadata has none.
const DefaultWindow = 10

// Pairing selects how lick bout edges are matched into intervals.
type Pairing string

const (
	// PairStateMachine walks the edges idle -> open -> idle. A series that
	// starts "on" opens a bout at its first sample.
	PairStateMachine Pairing = "state_machine"
	// PairPositional zips the i-th rising edge with the i-th falling edge.
	PairPositional Pairing = "positional"
)

// ParsePairing validates a configured pairing name.
func ParsePairing(s string) (Pairing, error) {
	switch p := Pairing(s); p {
	case PairStateMachine, PairPositional:
		return p, nil
	case "":
		return PairStateMachine, nil
	default:
		return "", fmt.Errorf("unknown lick pairing %q", s)
	}
}

// Photoresistor is a passthrough; frame render times are not derived yet.
func Photoresistor(s *Series, log *zap.Logger) *Series {
	if s == nil {
		return nil
	}
	log.Info("[Sensor] processing photoresistor data", zap.Int("samples", s.Len()))
	return s
}

// SmoothDistance logs the sampling integrity of the raw series, then applies
// a trailing rolling mean. The first window-1 outputs are NaN.
func SmoothDistance(s *Series, window int, log *zap.Logger) *Series {
	if s == nil {
		return nil
	}
	log.Info("[Sensor] processing distance sensor data", zap.Int("samples", s.Len()))

	report := timeline.CheckIntegrity(s.Times())
	log.Info("[Sensor] distance sensor integrity\n\t" + report.String())

	if window <= 0 {
		window = DefaultWindow
	}
	return &Series{Name: s.Name, Samples: RollingMean(s.Samples, window)}
}

// RollingMean is a trailing mean over window samples. A window containing a
// NaN yields NaN.
func RollingMean(in []Sample, window int) []Sample {
	out := make([]Sample, len(in))
	var sum float64
	var nans int
	for i, smp := range in {
		if math.IsNaN(smp.Value) {
			nans++
		} else {
			sum += smp.Value
		}
		if i >= window {
			old := in[i-window].Value
			if math.IsNaN(old) {
				nans--
			} else {
				sum -= old
			}
		}

		out[i] = Sample{Time: smp.Time, Value: math.NaN()}
		if i >= window-1 && nans == 0 {
			out[i].Value = sum / float64(window)
		}
	}
	return out
}

// LickBouts turns the binary lick series into bout intervals. The last sample
// is treated as 0 so that a bout still open at the end of the recording is
// closed. A bout ends at the sample preceding its falling edge.
func LickBouts(s *Series, pairing Pairing, name string, log *zap.Logger) *timeline.Table {
	if s == nil {
		return nil
	}
	log.Info("[Sensor] processing lick sensor data", zap.Int("samples", s.Len()))

	tbl := &timeline.Table{Name: name, Rows: []timeline.Interval{}}
	n := s.Len()
	if n == 0 {
		return tbl
	}

	state := make([]int, n)
	for i, smp := range s.Samples {
		if smp.Value != 0 && !math.IsNaN(smp.Value) {
			state[i] = 1
		}
	}
	state[n-1] = 0

	var starts, ends []int
	switch pairing {
	case PairPositional:
		starts, ends = positionalEdges(state)
		if len(starts) != len(ends) {
			log.Warn("[Sensor] unmatched lick edges; positional pairing truncates to the shorter list",
				zap.Int("starts", len(starts)), zap.Int("ends", len(ends)))
		}
		k := min(len(starts), len(ends))
		starts, ends = starts[:k], ends[:k]
	default:
		starts, ends = stateMachineEdges(state)
	}

	for i := range starts {
		tbl.Rows = append(tbl.Rows, timeline.NewInterval(s.Samples[starts[i]].Time, s.Samples[ends[i]].Time))
	}
	return tbl
}

// positionalEdges collects rising-edge indices and the index before every
// falling edge, independently of each other.
func positionalEdges(state []int) (starts, ends []int) {
	for i := 1; i < len(state); i++ {
		switch state[i] - state[i-1] {
		case 1:
			starts = append(starts, i)
		case -1:
			ends = append(ends, i-1)
		}
	}
	return starts, ends
}

func stateMachineEdges(state []int) (starts, ends []int) {
	open := -1
	for i, v := range state {
		switch {
		case v == 1 && open < 0:
			open = i
		case v == 0 && open >= 0:
			starts = append(starts, open)
			ends = append(ends, i-1)
			open = -1
		}
	}
	// state ends in 0, so every bout has been closed here.
	return starts, ends
}
