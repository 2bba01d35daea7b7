package timeline

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Band counts gaps that lie within +/- Delta milliseconds of the median gap.
type Band struct {
	Label   string
	Delta   float64
	Low     float64
	High    float64
	Count   int
	Percent float64
}

// Report is the outcome of CheckIntegrity. It is purely diagnostic.
type Report struct {
	Samples           int
	Gaps              int
	MedianMS          float64
	StdMS             float64
	Bands             []Band // 1 ms, 1 std, 2 std, 3 std
	OutOfDistribution int
}

// CheckIntegrity summarises the regularity of a timeline's sampling. The
// input is not modified. Fewer than two samples yield NaN statistics.
func CheckIntegrity(times []time.Time) Report {
	r := Report{Samples: len(times), MedianMS: math.NaN(), StdMS: math.NaN()}
	if len(times) < 2 {
		for _, bs := range bandSpecs(r.StdMS) {
			r.Bands = append(r.Bands, Band{Label: bs.label, Delta: bs.delta,
				Low: math.NaN(), High: math.NaN(), Percent: math.NaN()})
		}
		return r
	}

	gaps := make([]float64, len(times)-1)
	for i := 1; i < len(times); i++ {
		gaps[i-1] = float64(times[i].Sub(times[i-1])) / float64(time.Millisecond)
	}
	r.Gaps = len(gaps)
	r.MedianMS = median(gaps)
	r.StdMS = stddev(gaps)

	for _, bs := range bandSpecs(r.StdMS) {
		b := Band{Label: bs.label, Delta: bs.delta}
		b.Low = math.Max(r.MedianMS-bs.delta, 0)
		b.High = r.MedianMS + bs.delta
		for _, g := range gaps {
			if g >= b.Low && g <= b.High {
				b.Count++
			}
		}
		b.Percent = float64(b.Count) * 100 / float64(len(gaps))
		r.Bands = append(r.Bands, b)
	}
	r.OutOfDistribution = len(gaps) - r.Bands[len(r.Bands)-1].Count
	return r
}

type bandSpec struct {
	label string
	delta float64
}

func bandSpecs(std float64) []bandSpec {
	return []bandSpec{
		{"1 ms", 1},
		{"1 STD", std},
		{"2 STD", 2 * std},
		{"3 STD", 3 * std},
	}
}

// Lines renders the report for the log.
func (r Report) Lines() []string {
	lines := []string{fmt.Sprintf("Median: %.3f, STD: %.3f", r.MedianMS, r.StdMS)}
	for _, b := range r.Bands {
		lines = append(lines, fmt.Sprintf("Within %s (%.3f ms - %.3f ms): %.1f%%", b.Label, b.Low, b.High, b.Percent))
	}
	lines = append(lines, fmt.Sprintf("Out of distribution deltatimes: %d", r.OutOfDistribution))
	return lines
}

func (r Report) String() string {
	out := ""
	for i, l := range r.Lines() {
		if i > 0 {
			out += "\n\t"
		}
		out += l
	}
	return out
}

func median(values []float64) float64 {
	s := append([]float64(nil), values...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// stddev is the population standard deviation.
func stddev(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
}
