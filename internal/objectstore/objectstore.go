// Package objectstore abstracts the blob store shared by the simulation
// pipeline: uploaded workbooks, reference-day pools, batch parameter caches,
// per-trial partial results and merged summaries all live here, keyed under
// run-scoped prefixes.
package objectstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no object exists under the key.
var ErrNotFound = errors.New("objectstore: key not found")

// Store is the minimal surface the pipeline needs from a bucketed blob store.
// List must handle backend pagination transparently and return every key
// under the prefix.
type Store interface {
	Put(ctx context.Context, bucket, key string, data []byte) error
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	List(ctx context.Context, bucket, prefix string) ([]string, error)
}

// URLer is implemented by stores that can produce a public download URL for
// an object. The in-memory store does not implement it.
type URLer interface {
	DownloadURL(bucket, key string) string
}
