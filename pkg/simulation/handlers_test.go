package simulation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/empowersim/empower/internal/objectstore"
	"github.com/empowersim/empower/pkg/assumption"
)

type recordedEnqueue struct {
	Kind    string
	Key     string
	Payload []byte
}

type fakeQueue struct {
	enqueued []recordedEnqueue
	err      error
}

func (q *fakeQueue) Enqueue(_ context.Context, kind, key string, payload []byte) error {
	if q.err != nil {
		return q.err
	}
	q.enqueued = append(q.enqueued, recordedEnqueue{Kind: kind, Key: key, Payload: payload})
	return nil
}

type apiFixture struct {
	router      chi.Router
	sims        *Store
	assumptions *assumption.Store
	objects     *objectstore.MemoryStore
	queue       *fakeQueue
}

func setupAPI(t *testing.T) *apiFixture {
	t.Helper()
	db := setupTestDB(t)

	sims := NewStore(db)
	require.NoError(t, sims.AutoMigrate())
	assumptions := assumption.NewStore(db)
	require.NoError(t, assumptions.AutoMigrate())

	fx := &apiFixture{
		sims:        sims,
		assumptions: assumptions,
		objects:     objectstore.NewMemoryStore(),
		queue:       &fakeQueue{},
	}
	fx.router = Router(RouterDeps{
		Simulations:  sims,
		Assumptions:  assumptions,
		Objects:      fx.objects,
		InputBucket:  "empower-inputs",
		OutputBucket: "empower-outputs",
		Queue:        fx.queue,
	})
	return fx
}

func (fx *apiFixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, req)
	return w
}

func (fx *apiFixture) createSim(t *testing.T, name string) *Simulation {
	t.Helper()
	file, err := fx.assumptions.CreateFile("assumptions.xlsx", "assumptions/assumptions.xlsx", "")
	require.NoError(t, err)

	sim := testSim("", name)
	sim.RunID = "run-" + name
	sim.AssumptionFileID = file.ID
	require.NoError(t, fx.sims.Create(sim))
	return sim
}

func TestUploadAssumptionHandler(t *testing.T) {
	fx := setupAPI(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "fy21.xlsx")
	require.NoError(t, err)
	_, err = part.Write([]byte("workbook-bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/assumptions", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := fx.do(t, req)

	assert.Equal(t, http.StatusAccepted, w.Code)

	var resp map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "fy21.xlsx", resp["name"])
	assert.Equal(t, string(assumption.FileUploaded), resp["status"])

	data, err := fx.objects.Get(context.Background(), "empower-inputs", "assumptions/fy21.xlsx")
	require.NoError(t, err)
	assert.Equal(t, []byte("workbook-bytes"), data)

	require.Len(t, fx.queue.enqueued, 1)
	assert.Equal(t, TaskProcessAssumption, fx.queue.enqueued[0].Kind)
	file, err := fx.assumptions.GetFileByName("fy21.xlsx")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("process-file-%d", file.ID), fx.queue.enqueued[0].Key)
}

func TestUploadAssumptionHandler_MissingFile(t *testing.T) {
	fx := setupAPI(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("name", "fy21.xlsx"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/assumptions", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := fx.do(t, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, fx.queue.enqueued)
}

func multipartUpload(t *testing.T, filename string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, value := range fields {
		require.NoError(t, mw.WriteField(name, value))
	}
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte("workbook-bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func TestUploadCategoryHandler(t *testing.T) {
	fx := setupAPI(t)

	body, contentType := multipartUpload(t, "isp.xlsx", map[string]string{"scenario": "step-change"})
	req := httptest.NewRequest(http.MethodPost, "/assumptions/isp_capacity", body)
	req.Header.Set("Content-Type", contentType)
	w := fx.do(t, req)

	assert.Equal(t, http.StatusAccepted, w.Code)

	require.Len(t, fx.queue.enqueued, 1)
	got := fx.queue.enqueued[0]
	assert.Equal(t, TaskProcessCategory, got.Kind)

	var payload struct {
		FileID   uint   `json:"file_id"`
		Category string `json:"category"`
		Scenario string `json:"scenario"`
	}
	require.NoError(t, json.Unmarshal(got.Payload, &payload))
	assert.Equal(t, "isp_capacity", payload.Category)
	assert.Equal(t, "step-change", payload.Scenario)
	assert.Equal(t, fmt.Sprintf("process-file-%d", payload.FileID), got.Key)
}

func TestUploadCategoryHandler_RequiresScenario(t *testing.T) {
	fx := setupAPI(t)

	body, contentType := multipartUpload(t, "isp.xlsx", nil)
	req := httptest.NewRequest(http.MethodPost, "/assumptions/isp_capacity", body)
	req.Header.Set("Content-Type", contentType)
	w := fx.do(t, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "scenario")
	assert.Empty(t, fx.queue.enqueued)
}

func TestUploadCategoryHandler_RejectsWorkbookCategory(t *testing.T) {
	fx := setupAPI(t)

	body, contentType := multipartUpload(t, "demand.xlsx", nil)
	req := httptest.NewRequest(http.MethodPost, "/assumptions/demand_growth", body)
	req.Header.Set("Content-Type", contentType)
	w := fx.do(t, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "standard workbook")
	assert.Empty(t, fx.queue.enqueued)
}

func TestListVersionsHandler_UnknownCategory(t *testing.T) {
	fx := setupAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/assumptions/not-a-category/versions", nil)
	w := fx.do(t, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateSimulationHandler(t *testing.T) {
	fx := setupAPI(t)
	file, err := fx.assumptions.CreateFile("assumptions.xlsx", "assumptions/assumptions.xlsx", "")
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]any{
		"name":               "fy21 outlook",
		"project":            "nem-outlook",
		"requested_by":       "analyst@example.com",
		"assumption_file_id": file.ID,
		"run_no":             3,
		"start_date":         "2021-01-01",
		"end_date":           "2021-01-10",
	})
	req := httptest.NewRequest(http.MethodPost, "/simulations", bytes.NewReader(body))
	w := fx.do(t, req)

	assert.Equal(t, http.StatusCreated, w.Code)

	var resp map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "fy21 outlook", resp["name"])
	assert.Equal(t, string(StatusWaiting), resp["status"])
	assert.NotEmpty(t, resp["run_tag"])

	// No queue activity until start is requested.
	assert.Empty(t, fx.queue.enqueued)
}

func TestCreateSimulationHandler_Validation(t *testing.T) {
	fx := setupAPI(t)

	cases := []struct {
		name string
		body map[string]any
	}{
		{"missing name", map[string]any{"run_no": 3, "start_date": "2021-01-01", "end_date": "2021-01-10"}},
		{"zero run_no", map[string]any{"name": "x", "run_no": 0, "start_date": "2021-01-01", "end_date": "2021-01-10"}},
		{"bad start", map[string]any{"name": "x", "run_no": 3, "start_date": "not-a-date", "end_date": "2021-01-10"}},
		{"end before start", map[string]any{"name": "x", "run_no": 3, "start_date": "2021-01-10", "end_date": "2021-01-01"}},
		{"unknown file", map[string]any{"name": "x", "run_no": 3, "assumption_file_id": 99, "start_date": "2021-01-01", "end_date": "2021-01-10"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body, _ := json.Marshal(tc.body)
			req := httptest.NewRequest(http.MethodPost, "/simulations", bytes.NewReader(body))
			w := fx.do(t, req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestCreateSimulationHandler_UnknownAssumptionFile(t *testing.T) {
	fx := setupAPI(t)

	body, _ := json.Marshal(map[string]any{
		"name":               "fy21 outlook",
		"assumption_file_id": 999,
		"run_no":             3,
		"start_date":         "2021-01-01",
		"end_date":           "2021-01-10",
	})
	req := httptest.NewRequest(http.MethodPost, "/simulations", bytes.NewReader(body))
	w := fx.do(t, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unknown assumption file 999")

	sims, err := fx.sims.List("")
	require.NoError(t, err)
	assert.Empty(t, sims)
}

func TestGetSimulationHandler_NotFound(t *testing.T) {
	fx := setupAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/simulations/42", nil)
	w := fx.do(t, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListSimulationsHandler_ProjectFilter(t *testing.T) {
	fx := setupAPI(t)
	fx.createSim(t, "a")
	other := fx.createSim(t, "b")
	other.Project = "other-project"
	require.NoError(t, fx.sims.db.Save(other).Error)

	req := httptest.NewRequest(http.MethodGet, "/simulations?project=nem-outlook", nil)
	w := fx.do(t, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Simulations []map[string]any `json:"simulations"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Simulations, 1)
	assert.Equal(t, "a", resp.Simulations[0]["name"])
}

func TestStartSimulationHandler(t *testing.T) {
	fx := setupAPI(t)
	sim := fx.createSim(t, "fy21 outlook")

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/simulations/%d:start", sim.ID), nil)
	req.Header.Set("X-Requested-By", "trader@example.com")
	w := fx.do(t, req)

	assert.Equal(t, http.StatusAccepted, w.Code)

	require.Len(t, fx.queue.enqueued, 1)
	got := fx.queue.enqueued[0]
	assert.Equal(t, TaskStartRun, got.Kind)
	assert.Equal(t, "start-"+sim.RunID, got.Key)

	var payload struct {
		SimulationID uint   `json:"simulation_id"`
		Actor        string `json:"actor"`
	}
	require.NoError(t, json.Unmarshal(got.Payload, &payload))
	assert.Equal(t, sim.ID, payload.SimulationID)
	assert.Equal(t, "trader@example.com", payload.Actor)
}

func TestStartSimulationHandler_ActorFallsBackToRequester(t *testing.T) {
	fx := setupAPI(t)
	sim := fx.createSim(t, "fy21 outlook")

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/simulations/%d:start", sim.ID), nil)
	w := fx.do(t, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, fx.queue.enqueued, 1)

	var payload struct {
		Actor string `json:"actor"`
	}
	require.NoError(t, json.Unmarshal(fx.queue.enqueued[0].Payload, &payload))
	assert.Equal(t, "analyst@example.com", payload.Actor)
}

func TestStartSimulationHandler_RejectsNonWaiting(t *testing.T) {
	fx := setupAPI(t)
	sim := fx.createSim(t, "fy21 outlook")
	require.NoError(t, fx.sims.Transition(sim, StatusWaiting, StatusPreprocess, ""))

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/simulations/%d:start", sim.ID), nil)
	w := fx.do(t, req)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Empty(t, fx.queue.enqueued)
}

func TestRunResultsHandler_RequiresFinished(t *testing.T) {
	fx := setupAPI(t)
	sim := fx.createSim(t, "fy21 outlook")

	req := httptest.NewRequest(http.MethodGet, "/runs/"+url.PathEscape(sim.RunID)+"/results", nil)
	w := fx.do(t, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHealthz(t *testing.T) {
	fx := setupAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := fx.do(t, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
