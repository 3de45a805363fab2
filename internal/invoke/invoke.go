// Package invoke wraps the external stateless compute service used for
// simulation trials, reference-day pool generation and result merging.
// Invocations are asynchronous: callers hand over a payload and never consume
// a return value.
package invoke

import "context"

// Invoker submits one payload to a named compute function. Submission errors
// (service rejected the request) are returned; execution outcomes are not
// observable through this interface and are discovered later by listing
// result objects.
type Invoker interface {
	Invoke(ctx context.Context, function string, payload []byte) error
}
