package simulation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/empowersim/empower/internal/invoke"
)

// Dispatcher fans a run's trials out to the compute function, one invocation
// per week block.
type Dispatcher struct {
	invoker  invoke.Invoker
	simFunc  string
	interval time.Duration
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher invoking the named solver function,
// sleeping interval between trials.
func NewDispatcher(invoker invoke.Invoker, simFunc string, interval time.Duration, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		invoker:  invoker,
		simFunc:  simFunc,
		interval: interval,
		logger:   logger,
	}
}

// DispatchTask is the handle for an in-flight dispatch. Invocations are
// fire-and-forget, so Err reports submission failures only, never compute
// outcomes.
type DispatchTask struct {
	done chan struct{}
	err  error
}

// Done returns a channel closed when all invocations have been submitted or
// the dispatch aborted.
func (t *DispatchTask) Done() <-chan struct{} { return t.done }

// Err returns the submission error, if any. Valid after Done is closed.
func (t *DispatchTask) Err() error { return t.err }

// Wait blocks until submission completes or ctx expires.
func (t *DispatchTask) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type trialPayload struct {
	RunTag string    `json:"run_tag"`
	Trial  TrialID   `json:"trial"`
	Days   []DayPair `json:"days"`
}

// Dispatch submits every trial of the plan. Within a trial all week blocks
// are invoked concurrently; trials are spaced by the configured interval to
// keep the compute backend from being swamped. Cancelling ctx stops the
// trial loop between invocations.
func (d *Dispatcher) Dispatch(ctx context.Context, runTag string, trials map[TrialID]ReferenceDayMap) *DispatchTask {
	task := &DispatchTask{done: make(chan struct{})}
	ids := make([]TrialID, 0, len(trials))
	for id := range trials {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	go func() {
		defer close(task.done)
		for n, id := range ids {
			if n > 0 {
				select {
				case <-time.After(d.interval):
				case <-ctx.Done():
					task.err = ctx.Err()
					return
				}
			}
			if err := d.dispatchTrial(ctx, runTag, id, trials[id]); err != nil {
				task.err = &DispatchError{RunTag: runTag, Trial: id, Err: err}
				return
			}
			d.logger.Info("dispatched trial", "run_tag", runTag, "trial", int(id), "blocks", len(trials[id]))
		}
	}()
	return task
}

func (d *Dispatcher) dispatchTrial(ctx context.Context, runTag string, id TrialID, blocks ReferenceDayMap) error {
	grp, gctx := errgroup.WithContext(ctx)
	for _, block := range blocks {
		payload, err := json.Marshal(trialPayload{RunTag: runTag, Trial: id, Days: block[:]})
		if err != nil {
			return fmt.Errorf("encode week block: %w", err)
		}
		grp.Go(func() error {
			return d.invoker.Invoke(gctx, d.simFunc, payload)
		})
	}
	return grp.Wait()
}
