package simulation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/empowersim/empower/internal/notify"
	"github.com/empowersim/empower/internal/objectstore"
	"github.com/empowersim/empower/pkg/assumption"
)

// OrchestratorConfig tunes run orchestration.
type OrchestratorConfig struct {
	InputBucket      string
	OutputBucket     string
	DispatchMaxWait  time.Duration
	FinishedTemplate string
	FailedTemplate   string
	Recipients       []string
}

// Orchestrator drives the assumption pipeline and the run state machine. All
// long operations run inside background tasks; the orchestrator itself is
// stateless apart from its collaborators.
type Orchestrator struct {
	cfg         OrchestratorConfig
	sims        *Store
	assumptions *assumption.Store
	ingestor    *assumption.Ingestor
	objects     objectstore.Store
	gen         *Generator
	dispatcher  *Dispatcher
	poller      *Poller
	merger      *Merger
	notifier    notify.Notifier
	newRNG      func() *rand.Rand
	logger      *slog.Logger
}

// NewOrchestrator wires the pipeline together.
func NewOrchestrator(cfg OrchestratorConfig, sims *Store, assumptions *assumption.Store,
	objects objectstore.Store, gen *Generator, dispatcher *Dispatcher, poller *Poller,
	merger *Merger, notifier notify.Notifier, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		sims:        sims,
		assumptions: assumptions,
		ingestor:    assumption.NewIngestor(),
		objects:     objects,
		gen:         gen,
		dispatcher:  dispatcher,
		poller:      poller,
		merger:      merger,
		notifier:    notifier,
		newRNG:      func() *rand.Rand { return rand.New(rand.NewSource(time.Now().UnixNano())) },
		logger:      logger,
	}
}

// SetRNG overrides the trial randomness source. Tests use a seeded source.
func (o *Orchestrator) SetRNG(newRNG func() *rand.Rand) { o.newRNG = newRNG }

// fetchWorkbook downloads the uploaded workbook to a temp file so the
// ingestor can open it. Callers remove the returned path.
func (o *Orchestrator) fetchWorkbook(ctx context.Context, file *assumption.File) (string, error) {
	data, err := o.objects.Get(ctx, o.cfg.InputBucket, file.ObjectKey)
	if err != nil {
		return "", fmt.Errorf("download workbook %s: %w", file.ObjectKey, err)
	}
	tmp, err := os.CreateTemp("", "assumptions-*.xlsx")
	if err != nil {
		return "", fmt.Errorf("stage workbook: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("stage workbook: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("stage workbook: %w", err)
	}
	return tmp.Name(), nil
}

// ProcessAssumption ingests an uploaded workbook, persists one new version
// per category and caches each version snapshot in the object store. Any
// failure marks the file Error with the failure message and persists nothing
// new beyond versions already committed before the failing category.
func (o *Orchestrator) ProcessAssumption(ctx context.Context, fileID uint) error {
	file, err := o.assumptions.GetFile(fileID)
	if err != nil {
		return err
	}
	if file == nil {
		return fmt.Errorf("assumption file %d not found", fileID)
	}
	if err := o.assumptions.SetFileStatus(file.ID, assumption.FileProcessing, ""); err != nil {
		return err
	}
	fail := func(err error) error {
		o.logger.Error("assumption processing failed", "file", file.Name, "error", err)
		if serr := o.assumptions.SetFileStatus(file.ID, assumption.FileError, err.Error()); serr != nil {
			o.logger.Error("could not record assumption failure", "file", file.Name, "error", serr)
		}
		return err
	}

	path, err := o.fetchWorkbook(ctx, file)
	if err != nil {
		return fail(err)
	}
	defer os.Remove(path)

	tables, err := o.ingestor.Ingest(path)
	if err != nil {
		return fail(err)
	}
	for _, desc := range assumption.WorkbookCategories() {
		table := tables[desc.Category]
		versionID, err := o.assumptions.SaveAsNewVersion(desc.Category, table, "uploaded via "+file.Name, "")
		if err != nil {
			return fail(err)
		}
		snapshot, err := json.Marshal(table)
		if err != nil {
			return fail(fmt.Errorf("encode %s snapshot: %w", desc.Category, err))
		}
		key := fmt.Sprintf("cache/%d/%s.json", versionID, desc.Category)
		if err := o.objects.Put(ctx, o.cfg.OutputBucket, key, snapshot); err != nil {
			return fail(fmt.Errorf("cache %s snapshot: %w", desc.Category, err))
		}
	}
	if err := o.assumptions.SetFileStatus(file.ID, assumption.FileProcessed, ""); err != nil {
		return err
	}
	o.sims.Log(&LogEntry{
		Action: ActionProcessFile, ActionObject: file.Name,
		ActionObjectType: "assumption_file", Result: "success",
	})
	o.logger.Info("assumption file processed", "file", file.Name, "categories", len(tables))
	return nil
}

// ProcessCategoryUpload ingests a standalone single-category workbook, such
// as an ISP capacity scenario, and persists it as a new version under the
// given scenario name.
func (o *Orchestrator) ProcessCategoryUpload(ctx context.Context, fileID uint, category assumption.Category, scenario string) error {
	desc, ok := assumption.Lookup(category)
	if !ok {
		return fmt.Errorf("unknown category %q", category)
	}
	if !desc.Standalone {
		return fmt.Errorf("category %s is part of the standard workbook", category)
	}
	file, err := o.assumptions.GetFile(fileID)
	if err != nil {
		return err
	}
	if file == nil {
		return fmt.Errorf("assumption file %d not found", fileID)
	}
	if err := o.assumptions.SetFileStatus(file.ID, assumption.FileProcessing, ""); err != nil {
		return err
	}
	fail := func(err error) error {
		o.logger.Error("category upload failed", "file", file.Name, "category", category, "error", err)
		if serr := o.assumptions.SetFileStatus(file.ID, assumption.FileError, err.Error()); serr != nil {
			o.logger.Error("could not record upload failure", "file", file.Name, "error", serr)
		}
		return err
	}

	path, err := o.fetchWorkbook(ctx, file)
	if err != nil {
		return fail(err)
	}
	defer os.Remove(path)

	table, err := o.ingestor.IngestCategory(path, category)
	if err != nil {
		return fail(err)
	}
	note := "uploaded via " + file.Name
	if scenario != "" {
		note = fmt.Sprintf("scenario %s uploaded via %s", scenario, file.Name)
	}
	versionID, err := o.assumptions.SaveAsNewVersion(category, table, note, scenario)
	if err != nil {
		return fail(err)
	}
	snapshot, err := json.Marshal(table)
	if err != nil {
		return fail(fmt.Errorf("encode %s snapshot: %w", category, err))
	}
	key := fmt.Sprintf("cache/%d/%s.json", versionID, category)
	if err := o.objects.Put(ctx, o.cfg.OutputBucket, key, snapshot); err != nil {
		return fail(fmt.Errorf("cache %s snapshot: %w", category, err))
	}
	if err := o.assumptions.SetFileStatus(file.ID, assumption.FileProcessed, ""); err != nil {
		return err
	}
	o.sims.Log(&LogEntry{
		Action: ActionProcessFile, ActionObject: file.Name,
		ActionObjectType: "assumption_file", Result: "success",
		Detail: fmt.Sprintf("category %s scenario %q", category, scenario),
	})
	o.logger.Info("category upload processed",
		"file", file.Name, "category", category, "scenario", scenario, "rows", len(table.Rows))
	return nil
}

// StartRun takes a waiting simulation through validation, reference-day
// generation and dispatch. A validation failure leaves the run waiting with
// the message recorded; pipeline failures move it to Run failed and notify.
func (o *Orchestrator) StartRun(ctx context.Context, simID uint, actor string) error {
	sim, err := o.sims.Get(simID)
	if err != nil {
		return err
	}
	if sim.Status != StatusWaiting {
		return fmt.Errorf("simulation %s has status %q and cannot be started", sim.RunID, sim.Status)
	}
	o.sims.Log(&LogEntry{
		User: actor, Action: ActionStartRun, ActionObject: sim.RunID,
		ActionObjectType: "simulation", Result: "requested",
	})

	file, err := o.assumptions.GetFile(sim.AssumptionFileID)
	if err != nil {
		return err
	}
	if file == nil {
		detail := fmt.Sprintf("assumption file %d not found", sim.AssumptionFileID)
		o.sims.SetDetail(sim, detail)
		return errors.New(detail)
	}
	if file.Status != assumption.FileProcessed {
		detail := fmt.Sprintf("assumption file %s has status %s", file.Name, file.Status)
		o.sims.SetDetail(sim, detail)
		return errors.New(detail)
	}

	path, err := o.fetchWorkbook(ctx, file)
	if err != nil {
		return err
	}
	defer os.Remove(path)
	tables, err := o.ingestor.Ingest(path)
	if err != nil {
		o.sims.SetDetail(sim, err.Error())
		return err
	}

	end := FullWeekEnd(sim.StartDate, sim.EndDate)
	if ok, msg := assumption.Validate(tables, sim.StartDate, end); !ok {
		o.sims.SetDetail(sim, msg)
		o.sims.Log(&LogEntry{
			User: actor, Action: ActionStartRun, ActionObject: sim.RunID,
			ActionObjectType: "simulation", Result: "rejected", Detail: msg,
		})
		return fmt.Errorf("assumption validation: %s", msg)
	}

	if err := o.sims.Transition(sim, StatusWaiting, StatusPreprocess, ""); err != nil {
		return err
	}
	if end != sim.EndDate {
		if err := o.sims.SetEndDate(sim, end); err != nil {
			return o.failRun(ctx, sim, err.Error())
		}
	}

	missing, err := o.gen.EnsurePools(ctx)
	if err != nil {
		return o.failRun(ctx, sim, err.Error())
	}
	if missing > 0 {
		detail := fmt.Sprintf("%d reference-day pools are still being generated", missing)
		if err := o.sims.Transition(sim, StatusPreprocess, StatusWaiting, detail); err != nil {
			return err
		}
		return errors.New(detail)
	}

	params, err := o.gen.LoadBatchParameters(ctx, sim.RunID)
	switch {
	case err == nil:
		o.logger.Info("reusing persisted batch parameters", "run_tag", sim.RunID)
	case errors.Is(err, objectstore.ErrNotFound):
		plan, genErr := o.gen.Generate(ctx, sim, sim.RunNo, o.newRNG())
		if genErr != nil {
			return o.failRun(ctx, sim, genErr.Error())
		}
		params = &BatchParameters{
			RunTag:    sim.RunID,
			StartDate: sim.StartDate.Format("2006-01-02"),
			EndDate:   sim.EndDate.Format("2006-01-02"),
			Trials:    plan,
		}
		if perr := o.gen.PersistBatchParameters(ctx, params); perr != nil {
			return o.failRun(ctx, sim, perr.Error())
		}
	default:
		return o.failRun(ctx, sim, err.Error())
	}

	if err := o.sims.Transition(sim, StatusPreprocess, StatusDispatch, ""); err != nil {
		return err
	}

	// The dispatch runs under the wait deadline, so expiry stops submission.
	dispatchCtx, cancel := context.WithTimeout(ctx, o.cfg.DispatchMaxWait)
	defer cancel()
	task := o.dispatcher.Dispatch(dispatchCtx, sim.RunID, params.Trials)
	if err := task.Wait(dispatchCtx); err != nil {
		detail := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			detail = fmt.Sprintf("dispatch did not finish within %s", o.cfg.DispatchMaxWait)
		}
		return o.failRun(ctx, sim, detail)
	}
	o.sims.Log(&LogEntry{
		User: actor, Action: ActionStartRun, ActionObject: sim.RunID,
		ActionObjectType: "simulation", Result: "dispatched",
	})
	return nil
}

// RecheckMerge advances the fan-in for a dispatched run: yearly merges once
// all day partials exist, then grand merges once all yearly summaries exist.
// IncompleteResultsError means not yet; the task queue re-checks later.
func (o *Orchestrator) RecheckMerge(ctx context.Context, runTag string) error {
	sim, err := o.sims.GetByRunID(runTag)
	if err != nil {
		return err
	}
	if sim.Status != StatusDispatch {
		return fmt.Errorf("simulation %s has status %q, nothing to merge", runTag, sim.Status)
	}
	params, err := o.gen.LoadBatchParameters(ctx, runTag)
	if err != nil {
		return err
	}
	expectedDays := TotalDays(sim.StartDate, sim.EndDate)
	startYear := sim.StartDate.Year()
	endYear := sim.EndDate.AddDate(0, 0, -1).Year()
	years := endYear - startYear + 1

	if err := o.merger.MergeYears(ctx, runTag, len(params.Trials), startYear, endYear, expectedDays); err != nil {
		return err
	}
	o.sims.Log(&LogEntry{
		Action: ActionMergeYears, ActionObject: runTag,
		ActionObjectType: "simulation", Result: "invoked",
	})
	if err := o.merger.MergeAll(ctx, runTag, len(params.Trials), years); err != nil {
		return err
	}
	o.sims.Log(&LogEntry{
		Action: ActionMergeAll, ActionObject: runTag,
		ActionObjectType: "simulation", Result: "invoked",
	})
	return nil
}

// ConfirmMerge is the external completion callback. It verifies every trial's
// grand summary exists, marks the run finished, stores the report links and
// notifies the requester.
func (o *Orchestrator) ConfirmMerge(ctx context.Context, runTag string, links json.RawMessage) error {
	sim, err := o.sims.GetByRunID(runTag)
	if err != nil {
		return err
	}
	if sim.Status != StatusDispatch {
		return fmt.Errorf("simulation %s has status %q and cannot be confirmed", runTag, sim.Status)
	}
	for t := 0; t < sim.RunNo; t++ {
		key := ResultsPrefix(runTag, TrialID(t)) + "SUMMARY.json"
		if _, err := o.objects.Get(ctx, o.poller.bucket, key); err != nil {
			return fmt.Errorf("grand summary missing for trial %d: %w", t, err)
		}
	}
	if err := o.sims.Transition(sim, StatusDispatch, StatusFinished, ""); err != nil {
		return err
	}
	if len(links) > 0 {
		if err := o.sims.SetReportLinks(sim, links); err != nil {
			return err
		}
	}
	o.sims.Log(&LogEntry{
		Action: ActionFinishRun, ActionObject: runTag,
		ActionObjectType: "simulation", Result: "success",
	})
	o.notifyOutcome(ctx, sim, o.cfg.FinishedTemplate, map[string]string{
		"simulation": sim.Name,
		"project":    sim.Project,
		"user":       sim.RequestedBy,
		"links":      string(links),
	})
	o.logger.Info("run finished", "run_tag", runTag)
	return nil
}

// failRun moves sim into Run failed from whatever state it holds, records the
// detail and notifies the requester.
func (o *Orchestrator) failRun(ctx context.Context, sim *Simulation, detail string) error {
	if err := o.sims.Transition(sim, sim.Status, StatusFailed, detail); err != nil {
		o.logger.Error("could not mark run failed", "run_tag", sim.RunID, "error", err)
	}
	o.sims.Log(&LogEntry{
		Action: ActionFailRun, ActionObject: sim.RunID,
		ActionObjectType: "simulation", Result: "failure", Detail: detail,
	})
	user := sim.RequestedBy
	if entry, err := o.sims.LatestStartRun(sim.RunID); err == nil && entry != nil && entry.User != "" {
		user = entry.User
	}
	o.notifyOutcome(ctx, sim, o.cfg.FailedTemplate, map[string]string{
		"simulation": sim.Name,
		"project":    sim.Project,
		"user":       user,
		"error":      detail,
	})
	o.logger.Error("run failed", "run_tag", sim.RunID, "detail", detail)
	return errors.New(detail)
}

func (o *Orchestrator) notifyOutcome(ctx context.Context, sim *Simulation, template string, data map[string]string) {
	if o.notifier == nil {
		return
	}
	recipients := o.cfg.Recipients
	if data["user"] != "" && strings.Contains(data["user"], "@") {
		recipients = append([]string{data["user"]}, recipients...)
	}
	for _, to := range recipients {
		if err := o.notifier.Send(ctx, to, template, data, nil); err != nil {
			o.logger.Error("notification failed", "run_tag", sim.RunID, "to", to, "error", err)
		}
	}
}
