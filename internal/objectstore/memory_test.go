package objectstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorePutGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "inputs", "cache/run1/params.json", []byte(`{"a":1}`)))

	data, err := s.Get(ctx, "inputs", "cache/run1/params.json")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"a":1}`), data)
}

func TestMemoryStoreGetMissing(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.Get(context.Background(), "inputs", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreListPrefix(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Put(ctx, "outputs", fmt.Sprintf("simulation-results/run1/0/2021-01-0%d.json", i+1), []byte("x")))
	}
	require.NoError(t, s.Put(ctx, "outputs", "simulation-results/run1/1/2021-01-01.json", []byte("x")))
	require.NoError(t, s.Put(ctx, "other", "simulation-results/run1/0/2021-01-09.json", []byte("x")))

	keys, err := s.List(ctx, "outputs", "simulation-results/run1/0/")
	require.NoError(t, err)
	assert.Len(t, keys, 3)
	assert.Equal(t, "simulation-results/run1/0/2021-01-01.json", keys[0])
}
