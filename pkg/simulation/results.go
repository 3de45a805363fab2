package simulation

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/empowersim/empower/internal/objectstore"
)

// TrialSummary is the metric map one grand summary holds, metric name to
// annual value.
type TrialSummary map[string]float64

// MetricStats aggregates one metric across a run's trials.
type MetricStats struct {
	Metric string  `json:"metric"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	P10    float64 `json:"p10"`
	P50    float64 `json:"p50"`
	P90    float64 `json:"p90"`
}

// Results reads every trial's grand summary for the run and computes
// cross-trial statistics per metric.
func Results(ctx context.Context, store objectstore.Store, bucket, runTag string, trials int) ([]MetricStats, error) {
	samples := make(map[string][]float64)
	for t := 0; t < trials; t++ {
		key := ResultsPrefix(runTag, TrialID(t)) + "SUMMARY.json"
		data, err := store.Get(ctx, bucket, key)
		if err != nil {
			return nil, fmt.Errorf("read grand summary for trial %d: %w", t, err)
		}
		var summary TrialSummary
		if err := json.Unmarshal(data, &summary); err != nil {
			return nil, fmt.Errorf("decode grand summary for trial %d: %w", t, err)
		}
		for metric, value := range summary {
			samples[metric] = append(samples[metric], value)
		}
	}
	metrics := make([]string, 0, len(samples))
	for metric := range samples {
		metrics = append(metrics, metric)
	}
	sort.Strings(metrics)

	out := make([]MetricStats, 0, len(metrics))
	for _, metric := range metrics {
		values := samples[metric]
		sort.Float64s(values)
		out = append(out, MetricStats{
			Metric: metric,
			Mean:   stat.Mean(values, nil),
			StdDev: stat.StdDev(values, nil),
			P10:    stat.Quantile(0.1, stat.Empirical, values, nil),
			P50:    stat.Quantile(0.5, stat.Empirical, values, nil),
			P90:    stat.Quantile(0.9, stat.Empirical, values, nil),
		})
	}
	return out, nil
}
