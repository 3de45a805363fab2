package simulation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/empowersim/empower/internal/invoke"
	"github.com/empowersim/empower/internal/objectstore"
)

// TrialID numbers one Monte Carlo trial within a run, starting at 0.
type TrialID int

// DayPair maps one simulated calendar date to the historical date whose
// weather and demand traces stand in for it.
type DayPair struct {
	SimDate time.Time
	RefDate time.Time
}

type dayPairJSON struct {
	SimDate string `json:"sim_date"`
	RefDate string `json:"ref_date"`
}

func (p DayPair) MarshalJSON() ([]byte, error) {
	return json.Marshal(dayPairJSON{
		SimDate: p.SimDate.Format("2006-01-02"),
		RefDate: p.RefDate.Format("2006-01-02"),
	})
}

func (p *DayPair) UnmarshalJSON(data []byte) error {
	var raw dayPairJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	sim, err := time.Parse("2006-01-02", raw.SimDate)
	if err != nil {
		return fmt.Errorf("parse sim_date %q: %w", raw.SimDate, err)
	}
	ref, err := time.Parse("2006-01-02", raw.RefDate)
	if err != nil {
		return fmt.Errorf("parse ref_date %q: %w", raw.RefDate, err)
	}
	p.SimDate, p.RefDate = sim, ref
	return nil
}

// WeekBlock is one dispatch unit: seven consecutive simulated days with
// their reference days.
type WeekBlock [7]DayPair

// ReferenceDayMap is the ordered week blocks covering a trial's simulated
// span.
type ReferenceDayMap []WeekBlock

// BatchParameters is the persisted dispatch plan for a run. It is written
// before dispatch begins so a re-check can replay the plan without
// regenerating reference days.
type BatchParameters struct {
	RunTag    string                      `json:"run_tag"`
	StartDate string                      `json:"start_date"`
	EndDate   string                      `json:"end_date"`
	Trials    map[TrialID]ReferenceDayMap `json:"trials"`
}

// poolFile is the stored shape of one reference-day pool: month-day of a
// simulated date to the candidate historical dates that may stand in for it.
type poolFile map[string][]string

// Generator picks reference days for each trial from pre-built pools held in
// the object store.
type Generator struct {
	store     objectstore.Store
	invoker   invoke.Invoker
	bucket    string
	refStart  time.Time
	refEnd    time.Time
	poolCount int
	genFunc   string
	logger    *slog.Logger
}

// NewGenerator creates a reference-day generator over poolCount pools built
// from the historical window [refStart, refEnd]. Missing pools are built by
// the named generator function.
func NewGenerator(store objectstore.Store, invoker invoke.Invoker, bucket, genFunc string, refStart, refEnd time.Time, poolCount int, logger *slog.Logger) *Generator {
	return &Generator{
		store:     store,
		invoker:   invoker,
		bucket:    bucket,
		refStart:  refStart,
		refEnd:    refEnd,
		poolCount: poolCount,
		genFunc:   genFunc,
		logger:    logger,
	}
}

func (g *Generator) poolPrefix() string {
	return fmt.Sprintf("reference-days/%s_%s/", g.refStart.Format("2006-01-02"), g.refEnd.Format("2006-01-02"))
}

func (g *Generator) poolKey(i int) string {
	return g.poolPrefix() + strconv.Itoa(i) + ".json"
}

// EnsurePools lists the pool prefix and fires the pool-generator function for
// every missing pool index. Generation is asynchronous; callers re-check on
// the next run start.
func (g *Generator) EnsurePools(ctx context.Context) (missing int, err error) {
	keys, err := g.store.List(ctx, g.bucket, g.poolPrefix())
	if err != nil {
		return 0, fmt.Errorf("list reference-day pools: %w", err)
	}
	present := make(map[int]bool, len(keys))
	for _, key := range keys {
		name := strings.TrimSuffix(path.Base(key), ".json")
		if i, err := strconv.Atoi(name); err == nil {
			present[i] = true
		}
	}
	for i := 0; i < g.poolCount; i++ {
		if present[i] {
			continue
		}
		payload, _ := json.Marshal(map[string]any{
			"ref_start": g.refStart.Format("2006-01-02"),
			"ref_end":   g.refEnd.Format("2006-01-02"),
			"pool":      i,
		})
		if err := g.invoker.Invoke(ctx, g.genFunc, payload); err != nil {
			return missing, fmt.Errorf("request pool %d generation: %w", i, err)
		}
		missing++
	}
	if missing > 0 {
		g.logger.Info("requested reference-day pool generation", "missing", missing, "total", g.poolCount)
	}
	return missing, nil
}

func (g *Generator) loadPool(ctx context.Context, i int) (poolFile, error) {
	data, err := g.store.Get(ctx, g.bucket, g.poolKey(i))
	if err != nil {
		return nil, fmt.Errorf("load reference-day pool %d: %w", i, err)
	}
	var pool poolFile
	if err := json.Unmarshal(data, &pool); err != nil {
		return nil, fmt.Errorf("decode reference-day pool %d: %w", i, err)
	}
	return pool, nil
}

// Generate picks reference days for each trial of sim. Each trial draws one
// pool uniformly, then one candidate per simulated date, grouped into
// contiguous week blocks. The draw sequence depends only on rng, so a seeded
// rng reproduces the same plan.
func (g *Generator) Generate(ctx context.Context, sim *Simulation, trials int, rng *rand.Rand) (map[TrialID]ReferenceDayMap, error) {
	dates := DateRange(sim.StartDate, sim.EndDate)
	if len(dates)%7 != 0 {
		return nil, fmt.Errorf("simulated span of %d days is not whole weeks", len(dates))
	}
	pools := make(map[int]poolFile)
	plan := make(map[TrialID]ReferenceDayMap, trials)
	for t := 0; t < trials; t++ {
		poolIdx := rng.Intn(g.poolCount)
		pool, ok := pools[poolIdx]
		if !ok {
			var err error
			pool, err = g.loadPool(ctx, poolIdx)
			if err != nil {
				return nil, err
			}
			pools[poolIdx] = pool
		}
		blocks := make(ReferenceDayMap, 0, len(dates)/7)
		var block WeekBlock
		for i, date := range dates {
			candidates := pool[date.Format("01-02")]
			if len(candidates) == 0 {
				return nil, fmt.Errorf("pool %d has no candidates for %s", poolIdx, date.Format("2006-01-02"))
			}
			ref, err := time.Parse("2006-01-02", candidates[rng.Intn(len(candidates))])
			if err != nil {
				return nil, fmt.Errorf("pool %d candidate for %s: %w", poolIdx, date.Format("2006-01-02"), err)
			}
			block[i%7] = DayPair{SimDate: date, RefDate: ref}
			if i%7 == 6 {
				blocks = append(blocks, block)
			}
		}
		plan[TrialID(t)] = blocks
	}
	return plan, nil
}

func batchParametersKey(runTag string) string {
	return "cache/" + runTag + "/batch_parameters.json"
}

// PersistBatchParameters writes the dispatch plan for the run tag.
func (g *Generator) PersistBatchParameters(ctx context.Context, params *BatchParameters) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode batch parameters for %s: %w", params.RunTag, err)
	}
	if err := g.store.Put(ctx, g.bucket, batchParametersKey(params.RunTag), data); err != nil {
		return fmt.Errorf("persist batch parameters for %s: %w", params.RunTag, err)
	}
	return nil
}

// LoadBatchParameters reads back a persisted dispatch plan.
func (g *Generator) LoadBatchParameters(ctx context.Context, runTag string) (*BatchParameters, error) {
	data, err := g.store.Get(ctx, g.bucket, batchParametersKey(runTag))
	if err != nil {
		return nil, fmt.Errorf("load batch parameters for %s: %w", runTag, err)
	}
	var params BatchParameters
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("decode batch parameters for %s: %w", runTag, err)
	}
	return &params, nil
}
