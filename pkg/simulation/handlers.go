package simulation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/empowersim/empower/internal/objectstore"
	"github.com/empowersim/empower/pkg/assumption"
)

// Background task kinds the handlers enqueue.
const (
	TaskProcessAssumption = "process_assumption"
	TaskProcessCategory   = "process_category"
	TaskStartRun          = "start_run"
	TaskRecheckMerge      = "recheck_merge"
)

// Enqueuer hands work to the background task queue. The idempotency key
// collapses duplicate submissions of the same unit of work.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind, idempotencyKey string, payload []byte) error
}

const maxUploadBytes = 64 << 20

// UploadAssumptionHandler handles POST /api/v1/assumptions. The workbook is
// stored under the input bucket and processing is queued.
func UploadAssumptionHandler(store *assumption.Store, objects objectstore.Store, bucket string, queue Enqueuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart request: %v", err))
			return
		}
		upload, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing file field")
			return
		}
		defer upload.Close()

		data, err := io.ReadAll(io.LimitReader(upload, maxUploadBytes))
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to read upload: %v", err))
			return
		}
		objectKey := "assumptions/" + header.Filename
		if err := objects.Put(r.Context(), bucket, objectKey, data); err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to store workbook: %v", err))
			return
		}
		downloadURL := ""
		if urler, ok := objects.(objectstore.URLer); ok {
			downloadURL = urler.DownloadURL(bucket, objectKey)
		}
		file, err := store.CreateFile(header.Filename, objectKey, downloadURL)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to record workbook: %v", err))
			return
		}
		payload, _ := json.Marshal(map[string]uint{"file_id": file.ID})
		if err := queue.Enqueue(r.Context(), TaskProcessAssumption, fmt.Sprintf("process-file-%d", file.ID), payload); err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to queue processing: %v", err))
			return
		}
		writeJSON(w, http.StatusAccepted, fileToResponse(file))
	}
}

// UploadCategoryHandler handles POST /api/v1/assumptions/{category}, the
// standalone upload path for categories outside the standard workbook. A
// scenario name is required when the category branches by scenario.
func UploadCategoryHandler(store *assumption.Store, objects objectstore.Store, bucket string, queue Enqueuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		category := assumption.Category(chi.URLParam(r, "category"))
		desc, ok := assumption.Lookup(category)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Sprintf("unknown category %q", category))
			return
		}
		if !desc.Standalone {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("category %s is part of the standard workbook", category))
			return
		}
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart request: %v", err))
			return
		}
		scenario := r.FormValue("scenario")
		if desc.Scenario && scenario == "" {
			writeError(w, http.StatusBadRequest, "scenario field is required")
			return
		}
		upload, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing file field")
			return
		}
		defer upload.Close()

		data, err := io.ReadAll(io.LimitReader(upload, maxUploadBytes))
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to read upload: %v", err))
			return
		}
		objectKey := "assumptions/" + header.Filename
		if err := objects.Put(r.Context(), bucket, objectKey, data); err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to store workbook: %v", err))
			return
		}
		downloadURL := ""
		if urler, ok := objects.(objectstore.URLer); ok {
			downloadURL = urler.DownloadURL(bucket, objectKey)
		}
		file, err := store.CreateFile(header.Filename, objectKey, downloadURL)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to record workbook: %v", err))
			return
		}
		payload, _ := json.Marshal(map[string]any{
			"file_id": file.ID, "category": category, "scenario": scenario,
		})
		if err := queue.Enqueue(r.Context(), TaskProcessCategory, fmt.Sprintf("process-file-%d", file.ID), payload); err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to queue processing: %v", err))
			return
		}
		writeJSON(w, http.StatusAccepted, fileToResponse(file))
	}
}

// ListAssumptionsHandler handles GET /api/v1/assumptions
func ListAssumptionsHandler(store *assumption.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		files, err := store.ListFiles()
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list files: %v", err))
			return
		}
		out := make([]map[string]any, len(files))
		for i := range files {
			out[i] = fileToResponse(&files[i])
		}
		writeJSON(w, http.StatusOK, map[string]any{"files": out})
	}
}

// ListVersionsHandler handles GET /api/v1/assumptions/{category}/versions
func ListVersionsHandler(store *assumption.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		category := assumption.Category(chi.URLParam(r, "category"))
		if _, ok := assumption.Lookup(category); !ok {
			writeError(w, http.StatusNotFound, fmt.Sprintf("unknown category %q", category))
			return
		}
		versions, err := store.Versions(category)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list versions: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
	}
}

type createSimulationRequest struct {
	Name             string `json:"name"`
	Project          string `json:"project"`
	RequestedBy      string `json:"requested_by"`
	AssumptionFileID uint   `json:"assumption_file_id"`
	RunNo            int    `json:"run_no"`
	StartDate        string `json:"start_date"`
	EndDate          string `json:"end_date"`
}

// CreateSimulationHandler handles POST /api/v1/simulations
func CreateSimulationHandler(store *Store, assumptions *assumption.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createSimulationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
		if req.Name == "" || req.RunNo < 1 {
			writeError(w, http.StatusBadRequest, "name and a positive run_no are required")
			return
		}
		start, err := time.Parse("2006-01-02", req.StartDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid start_date: %v", err))
			return
		}
		end, err := time.Parse("2006-01-02", req.EndDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid end_date: %v", err))
			return
		}
		if !end.After(start) {
			writeError(w, http.StatusBadRequest, "end_date must be after start_date")
			return
		}
		file, err := assumptions.GetFile(req.AssumptionFileID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to look up assumption file: %v", err))
			return
		}
		if file == nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown assumption file %d", req.AssumptionFileID))
			return
		}
		sim := &Simulation{
			RunID:            uuid.NewString(),
			Name:             req.Name,
			Project:          req.Project,
			RequestedBy:      req.RequestedBy,
			AssumptionFileID: req.AssumptionFileID,
			RunNo:            req.RunNo,
			StartDate:        start,
			EndDate:          end,
			Status:           StatusWaiting,
		}
		if err := store.Create(sim); err != nil {
			writeError(w, http.StatusConflict, fmt.Sprintf("failed to create simulation: %v", err))
			return
		}
		writeJSON(w, http.StatusCreated, simToResponse(sim))
	}
}

// GetSimulationHandler handles GET /api/v1/simulations/{id}
func GetSimulationHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid simulation ID")
			return
		}
		sim, err := store.Get(uint(id))
		if err != nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("simulation %d not found", id))
			return
		}
		writeJSON(w, http.StatusOK, simToResponse(sim))
	}
}

// ListSimulationsHandler handles GET /api/v1/simulations
func ListSimulationsHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sims, err := store.List(r.URL.Query().Get("project"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list simulations: %v", err))
			return
		}
		out := make([]map[string]any, len(sims))
		for i := range sims {
			out[i] = simToResponse(&sims[i])
		}
		writeJSON(w, http.StatusOK, map[string]any{"simulations": out})
	}
}

// StartSimulationHandler handles POST /api/v1/simulations/{id}:start
func StartSimulationHandler(store *Store, queue Enqueuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid simulation ID")
			return
		}
		sim, err := store.Get(uint(id))
		if err != nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("simulation %d not found", id))
			return
		}
		if sim.Status != StatusWaiting {
			writeError(w, http.StatusConflict, fmt.Sprintf("simulation has status %q", sim.Status))
			return
		}
		actor := r.Header.Get("X-Requested-By")
		if actor == "" {
			actor = sim.RequestedBy
		}
		payload, _ := json.Marshal(map[string]any{"simulation_id": sim.ID, "actor": actor})
		if err := queue.Enqueue(r.Context(), TaskStartRun, "start-"+sim.RunID, payload); err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to queue start: %v", err))
			return
		}
		writeJSON(w, http.StatusAccepted, simToResponse(sim))
	}
}

type confirmRequest struct {
	Links json.RawMessage `json:"links"`
}

// ConfirmRunHandler handles POST /api/v1/runs/{runTag}:confirm, the external
// completion callback.
func ConfirmRunHandler(orch *Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runTag := chi.URLParam(r, "runTag")
		var req confirmRequest
		if r.Body != nil {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
				return
			}
		}
		if err := orch.ConfirmMerge(r.Context(), runTag, req.Links); err != nil {
			writeError(w, http.StatusConflict, fmt.Sprintf("failed to confirm run: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": string(StatusFinished)})
	}
}

// RunResultsHandler handles GET /api/v1/runs/{runTag}/results
func RunResultsHandler(store *Store, objects objectstore.Store, bucket string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runTag := chi.URLParam(r, "runTag")
		sim, err := store.GetByRunID(runTag)
		if err != nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("run %q not found", runTag))
			return
		}
		if sim.Status != StatusFinished {
			writeError(w, http.StatusConflict, fmt.Sprintf("run has status %q", sim.Status))
			return
		}
		stats, err := Results(r.Context(), objects, bucket, runTag, sim.RunNo)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to compute results: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"run_tag": runTag, "metrics": stats})
	}
}

func fileToResponse(f *assumption.File) map[string]any {
	return map[string]any{
		"id":            f.ID,
		"name":          f.Name,
		"status":        f.Status,
		"status_detail": f.StatusDetail.Ptr(),
		"download_url":  f.DownloadURL,
		"created_at":    f.CreatedAt,
	}
}

func simToResponse(s *Simulation) map[string]any {
	resp := map[string]any{
		"id":            s.ID,
		"run_tag":       s.RunID,
		"name":          s.Name,
		"project":       s.Project,
		"requested_by":  s.RequestedBy,
		"run_no":        s.RunNo,
		"start_date":    s.StartDate.Format("2006-01-02"),
		"end_date":      s.EndDate.Format("2006-01-02"),
		"status":        s.Status,
		"status_detail": s.StatusDetail.Ptr(),
	}
	if s.FinishedAt.Valid {
		resp["finished_at"] = s.FinishedAt.Time
	}
	if len(s.ReportLinks) > 0 {
		resp["report_links"] = json.RawMessage(s.ReportLinks)
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
