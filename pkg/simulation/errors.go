package simulation

import "fmt"

// DispatchError reports that the invocation service rejected or errored on a
// trial invocation. It surfaces out of the dispatch task and lands in the
// simulation's status detail.
type DispatchError struct {
	RunTag string
	Trial  TrialID
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch trial %d of %s: %v", e.Trial, e.RunTag, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// IncompleteResultsError reports that fewer outputs than expected were found
// under a result prefix. The current merge stage aborts; the run's state is
// left untouched and a scheduled re-check retries later.
type IncompleteResultsError struct {
	Prefix   string
	Expected int
	Found    int
}

func (e *IncompleteResultsError) Error() string {
	return fmt.Sprintf("%d of %d expected results under %s", e.Found, e.Expected, e.Prefix)
}

// ErrConflict reports a lost compare-and-swap on a simulation status update:
// another writer transitioned the row first.
type ErrConflict struct {
	RunTag string
	From   Status
}

func (e *ErrConflict) Error() string {
	return fmt.Sprintf("simulation %s is no longer in state %q", e.RunTag, e.From)
}
