package history

import (
	"math"
	"slices"
	"time"
)

// Stats summarizes the recorded durations of one test. StdDev is the
// population standard deviation, so a single sample has StdDev 0.
type Stats struct {
	Mean        float64 `json:"mean"`
	Median      float64 `json:"median"`
	StdDev      float64 `json:"std_dev"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	SampleCount int     `json:"sample_count"`
}

// MeanDuration returns the mean as a time.Duration.
func (s Stats) MeanDuration() time.Duration {
	return seconds(s.Mean)
}

func computeStats(records []Record) Stats {
	n := len(records)
	if n == 0 {
		return Stats{}
	}

	values := make([]float64, n)

	var sum float64

	for i := range records {
		values[i] = records[i].Duration
		sum += values[i]
	}

	mean := sum / float64(n)

	var sq float64

	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}

	slices.Sort(values)

	median := values[n/2]
	if n%2 == 0 {
		median = (values[n/2-1] + values[n/2]) / 2
	}

	return Stats{
		Mean:        mean,
		Median:      median,
		StdDev:      math.Sqrt(sq / float64(n)),
		Min:         values[0],
		Max:         values[n-1],
		SampleCount: n,
	}
}

func mean(records []Record) float64 {
	var sum float64
	for i := range records {
		sum += records[i].Duration
	}

	return sum / float64(len(records))
}

// ema folds the records in chronological order with smoothing factor alpha.
func ema(records []Record, alpha float64) float64 {
	value := records[0].Duration
	for i := 1; i < len(records); i++ {
		value = alpha*records[i].Duration + (1-alpha)*value
	}

	return value
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
