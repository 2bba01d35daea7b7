package timeline

import (
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// maxUnixSeconds bounds conversions to what time.Time can represent with
// nanosecond precision via UnixNano (year 2262).
const maxUnixSeconds = math.MaxInt64 / 1e9

// FromUnix converts fractional epoch seconds into a UTC time rounded to the
// microsecond, the finest resolution a float64 epoch near the present
// carries. Values that cannot be represented are reported as invalid
// instead of failing.
func FromUnix(sec float64) (time.Time, bool) {
	if math.IsNaN(sec) || math.IsInf(sec, 0) || math.Abs(sec) >= maxUnixSeconds {
		return time.Time{}, false
	}
	whole := math.Floor(sec)
	usec := math.Round((sec - whole) * 1e6)
	return time.Unix(int64(whole), int64(usec)*int64(time.Microsecond)).UTC(), true
}

// ParseUnix parses a textual epoch-seconds value. Unparsable text yields NaN.
func ParseUnix(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// Normalize converts every value; invalid ones become the zero time.
func Normalize(values []float64) []time.Time {
	out := make([]time.Time, len(values))
	for i, v := range values {
		t, ok := FromUnix(v)
		if ok {
			out[i] = t
		}
	}
	return out
}

// NegativeDeltas flags each sample whose value lies below the last accepted
// sample. Non-finite values are flagged as well and never become the
// reference.
func NegativeDeltas(values []float64) []bool {
	mask := make([]bool, len(values))
	last := math.Inf(-1)
	for i, v := range values {
		if _, ok := FromUnix(v); !ok {
			mask[i] = true
			continue
		}
		if v < last {
			mask[i] = true
			continue
		}
		last = v
	}
	return mask
}

// Clean converts values into an ordered timeline. Invalid and out-of-order
// samples are dropped; kept holds the input index of every output sample.
func Clean(values []float64, log *zap.Logger) (times []time.Time, kept []int) {
	mask := NegativeDeltas(values)
	times = make([]time.Time, 0, len(values))
	kept = make([]int, 0, len(values))

	var invalid int
	var dropped []float64
	for i, v := range values {
		if mask[i] {
			if _, ok := FromUnix(v); ok {
				dropped = append(dropped, v)
			} else {
				invalid++
			}
			continue
		}
		t, _ := FromUnix(v)
		times = append(times, t)
		kept = append(kept, i)
	}

	if log != nil && invalid > 0 {
		log.Warn("[Timeline] invalid timestamps detected; these samples will be removed",
			zap.Int("count", invalid))
	}
	if log != nil && len(dropped) > 0 {
		log.Warn("[Timeline] negative timedeltas detected; these values will be removed",
			zap.Int("count", len(dropped)),
			zap.Float64s("values", dropped))
	}
	return times, kept
}

// IsSorted reports whether times is non-decreasing.
func IsSorted(times []time.Time) bool {
	for i := 1; i < len(times); i++ {
		if times[i].Before(times[i-1]) {
			return false
		}
	}
	return true
}
