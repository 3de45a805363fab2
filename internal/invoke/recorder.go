package invoke

import (
	"context"
	"sync"
)

// Invocation is one recorded call.
type Invocation struct {
	Function string
	Payload  []byte
}

// Recorder is an Invoker for tests: it records every call and can be
// programmed to fail. Safe for concurrent use, since the dispatcher fires
// week-block invocations from separate goroutines.
type Recorder struct {
	mu    sync.Mutex
	calls []Invocation

	// Err, when set, is returned by every Invoke.
	Err error
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Invoke(_ context.Context, function string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	r.calls = append(r.calls, Invocation{Function: function, Payload: cp})
	return nil
}

// Calls returns a snapshot of recorded invocations.
func (r *Recorder) Calls() []Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Invocation, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallsTo returns recorded invocations of one function.
func (r *Recorder) CallsTo(function string) []Invocation {
	var out []Invocation
	for _, c := range r.Calls() {
		if c.Function == function {
			out = append(out, c)
		}
	}
	return out
}
