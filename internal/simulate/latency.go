package simulate

import (
	"fmt"
	"io"
	"sort"
	"time"
)

// LatencyStats captures pass durations.
type LatencyStats struct {
	Min    time.Duration `json:"min" yaml:"min"`
	Max    time.Duration `json:"max" yaml:"max"`
	Mean   time.Duration `json:"mean" yaml:"mean"`
	P50    time.Duration `json:"p50" yaml:"p50"`
	P95    time.Duration `json:"p95" yaml:"p95"`
	P99    time.Duration `json:"p99" yaml:"p99"`
	Passes int           `json:"passes" yaml:"passes"`
}

func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return &LatencyStats{
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Mean:   sum / time.Duration(len(sorted)),
		P50:    sorted[len(sorted)*50/100],
		P95:    sorted[len(sorted)*95/100],
		P99:    sorted[len(sorted)*99/100],
		Passes: len(sorted),
	}
}

// Print writes the statistics to w.
func (s *LatencyStats) Print(w io.Writer) {
	fmt.Fprintf(w, "Pass latency (%d passes):\n", s.Passes)
	fmt.Fprintf(w, "  Min:  %v\n", s.Min)
	fmt.Fprintf(w, "  P50:  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean: %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:  %v\n", s.P95)
	fmt.Fprintf(w, "  P99:  %v\n", s.P99)
	fmt.Fprintf(w, "  Max:  %v\n", s.Max)
}
