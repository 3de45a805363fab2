package simulation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/empowersim/empower/internal/invoke"
)

// Merger drives the fan-in stages: per-day partials into yearly summaries,
// yearly summaries into one grand summary per trial. The actual aggregation
// runs in the merger function; this side only gates and invokes.
type Merger struct {
	invoker   invoke.Invoker
	poller    *Poller
	mergeFunc string
	logger    *slog.Logger
}

// NewMerger creates a merger using poller to gate each stage.
func NewMerger(invoker invoke.Invoker, poller *Poller, mergeFunc string, logger *slog.Logger) *Merger {
	return &Merger{invoker: invoker, poller: poller, mergeFunc: mergeFunc, logger: logger}
}

// ResultsPrefix is the object-store prefix holding one trial's artifacts.
func ResultsPrefix(runTag string, trial TrialID) string {
	return fmt.Sprintf("simulation-results/%s/%d/", runTag, trial)
}

type mergePayload struct {
	RunTag string  `json:"run_tag"`
	Trial  TrialID `json:"trial"`
	Prefix string  `json:"prefix"`
	Output string  `json:"output"`
}

// MergeYears checks every trial's day partials and, when all are present,
// invokes the merger once per (trial, year). A trial with missing partials
// aborts the whole stage with IncompleteResultsError so the re-check task
// can try again later.
func (m *Merger) MergeYears(ctx context.Context, runTag string, trials int, startYear, endYear, expectedDays int) error {
	for t := 0; t < trials; t++ {
		prefix := ResultsPrefix(runTag, TrialID(t))
		ok, found, err := m.poller.CheckComplete(ctx, prefix, expectedDays)
		if err != nil {
			return err
		}
		if !ok {
			return &IncompleteResultsError{Prefix: prefix, Expected: expectedDays, Found: found}
		}
	}
	for t := 0; t < trials; t++ {
		for year := startYear; year <= endYear; year++ {
			prefix := ResultsPrefix(runTag, TrialID(t))
			payload, err := json.Marshal(mergePayload{
				RunTag: runTag,
				Trial:  TrialID(t),
				Prefix: prefix + strconv.Itoa(year) + "-",
				Output: prefix + "SUMMARY-" + strconv.Itoa(year) + ".json",
			})
			if err != nil {
				return fmt.Errorf("encode year merge payload: %w", err)
			}
			if err := m.invoker.Invoke(ctx, m.mergeFunc, payload); err != nil {
				return fmt.Errorf("invoke year merge for trial %d year %d: %w", t, year, err)
			}
		}
	}
	m.logger.Info("year merges invoked", "run_tag", runTag, "trials", trials, "years", endYear-startYear+1)
	return nil
}

// MergeAll checks each trial's yearly summaries and invokes the grand-summary
// merge per trial once all are present.
func (m *Merger) MergeAll(ctx context.Context, runTag string, trials, expectedSummaries int) error {
	for t := 0; t < trials; t++ {
		prefix := ResultsPrefix(runTag, TrialID(t)) + "SUMMARY-"
		ok, found, err := m.poller.CheckComplete(ctx, prefix, expectedSummaries)
		if err != nil {
			return err
		}
		if !ok {
			return &IncompleteResultsError{Prefix: prefix, Expected: expectedSummaries, Found: found}
		}
	}
	for t := 0; t < trials; t++ {
		prefix := ResultsPrefix(runTag, TrialID(t))
		payload, err := json.Marshal(mergePayload{
			RunTag: runTag,
			Trial:  TrialID(t),
			Prefix: prefix + "SUMMARY-",
			Output: prefix + "SUMMARY.json",
		})
		if err != nil {
			return fmt.Errorf("encode grand merge payload: %w", err)
		}
		if err := m.invoker.Invoke(ctx, m.mergeFunc, payload); err != nil {
			return fmt.Errorf("invoke grand merge for trial %d: %w", t, err)
		}
	}
	m.logger.Info("grand merges invoked", "run_tag", runTag, "trials", trials)
	return nil
}
