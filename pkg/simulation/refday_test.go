package simulation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/empowersim/empower/internal/invoke"
	"github.com/empowersim/empower/internal/objectstore"
)

const testBucket = "empower-outputs"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGenerator(t *testing.T, store objectstore.Store, invoker invoke.Invoker, poolCount int) *Generator {
	t.Helper()
	return NewGenerator(store, invoker, testBucket, "spot-price-ref-day-gen",
		time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2019, 7, 31, 0, 0, 0, 0, time.UTC),
		poolCount, discardLogger())
}

// seedPools writes count pools covering January month-days, each with a few
// candidate historical dates.
func seedPools(t *testing.T, store objectstore.Store, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		pool := make(poolFile)
		for day := 1; day <= 31; day++ {
			pool[fmt.Sprintf("01-%02d", day)] = []string{
				fmt.Sprintf("2017-01-%02d", day),
				fmt.Sprintf("2018-01-%02d", day),
				fmt.Sprintf("2019-01-%02d", day),
			}
		}
		data, err := json.Marshal(pool)
		require.NoError(t, err)
		key := fmt.Sprintf("reference-days/2017-01-01_2019-07-31/%d.json", i)
		require.NoError(t, store.Put(context.Background(), testBucket, key, data))
	}
}

func TestEnsurePoolsRequestsMissing(t *testing.T) {
	store := objectstore.NewMemoryStore()
	recorder := invoke.NewRecorder()
	gen := newTestGenerator(t, store, recorder, 5)
	seedPools(t, store, 3)

	missing, err := gen.EnsurePools(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, missing)
	assert.Len(t, recorder.CallsTo("spot-price-ref-day-gen"), 2)

	var req map[string]any
	require.NoError(t, json.Unmarshal(recorder.Calls()[0].Payload, &req))
	assert.Equal(t, "2017-01-01", req["ref_start"])
	assert.Equal(t, "2019-07-31", req["ref_end"])
}

func TestEnsurePoolsAllPresent(t *testing.T) {
	store := objectstore.NewMemoryStore()
	recorder := invoke.NewRecorder()
	gen := newTestGenerator(t, store, recorder, 3)
	seedPools(t, store, 3)

	missing, err := gen.EnsurePools(context.Background())
	require.NoError(t, err)
	assert.Zero(t, missing)
	assert.Empty(t, recorder.Calls())
}

func TestGenerateGroupsWholeWeeks(t *testing.T) {
	store := objectstore.NewMemoryStore()
	gen := newTestGenerator(t, store, invoke.NewRecorder(), 3)
	seedPools(t, store, 3)

	sim := testSim("run-a", "fy21 outlook")
	sim.EndDate = FullWeekEnd(sim.StartDate, sim.EndDate)

	plan, err := gen.Generate(context.Background(), sim, 3, rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	require.Len(t, plan, 3)

	for trial := TrialID(0); trial < 3; trial++ {
		blocks := plan[trial]
		require.Len(t, blocks, 1)
		for i, pair := range blocks[0] {
			assert.Equal(t, sim.StartDate.AddDate(0, 0, i), pair.SimDate)
			assert.Equal(t, pair.SimDate.Day(), pair.RefDate.Day())
			assert.Contains(t, []int{2017, 2018, 2019}, pair.RefDate.Year())
		}
	}
}

// The same seed must produce the same plan.
func TestGenerateDeterministicUnderSeed(t *testing.T) {
	store := objectstore.NewMemoryStore()
	gen := newTestGenerator(t, store, invoke.NewRecorder(), 5)
	seedPools(t, store, 5)

	sim := testSim("run-a", "fy21 outlook")
	sim.EndDate = FullWeekEnd(sim.StartDate, sim.EndDate)

	first, err := gen.Generate(context.Background(), sim, 4, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	second, err := gen.Generate(context.Background(), sim, 4, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	different, err := gen.Generate(context.Background(), sim, 4, rand.New(rand.NewSource(43)))
	require.NoError(t, err)
	assert.NotEqual(t, first, different)
}

func TestGenerateRejectsPartialWeeks(t *testing.T) {
	store := objectstore.NewMemoryStore()
	gen := newTestGenerator(t, store, invoke.NewRecorder(), 3)
	seedPools(t, store, 3)

	sim := testSim("run-a", "fy21 outlook") // ends 2021-01-10, nine days
	_, err := gen.Generate(context.Background(), sim, 1, rand.New(rand.NewSource(1)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not whole weeks")
}

func TestBatchParametersRoundTrip(t *testing.T) {
	store := objectstore.NewMemoryStore()
	gen := newTestGenerator(t, store, invoke.NewRecorder(), 3)
	seedPools(t, store, 3)

	sim := testSim("run-a", "fy21 outlook")
	sim.EndDate = FullWeekEnd(sim.StartDate, sim.EndDate)
	plan, err := gen.Generate(context.Background(), sim, 2, rand.New(rand.NewSource(9)))
	require.NoError(t, err)

	params := &BatchParameters{
		RunTag:    sim.RunID,
		StartDate: "2021-01-01",
		EndDate:   "2021-01-08",
		Trials:    plan,
	}
	require.NoError(t, gen.PersistBatchParameters(context.Background(), params))

	loaded, err := gen.LoadBatchParameters(context.Background(), "run-a")
	require.NoError(t, err)
	assert.Equal(t, params, loaded)

	_, err = gen.LoadBatchParameters(context.Background(), "run-missing")
	require.ErrorIs(t, err, objectstore.ErrNotFound)
}
