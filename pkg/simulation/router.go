package simulation

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/empowersim/empower/internal/objectstore"
	"github.com/empowersim/empower/pkg/assumption"
)

// RouterDeps carries the collaborators the API routes need.
type RouterDeps struct {
	Simulations  *Store
	Assumptions  *assumption.Store
	Objects      objectstore.Store
	InputBucket  string
	OutputBucket string
	Queue        Enqueuer
	Orchestrator *Orchestrator
}

// Router creates a chi.Router for the simulation API.
func Router(deps RouterDeps) chi.Router {
	r := chi.NewRouter()

	r.Post("/assumptions", UploadAssumptionHandler(deps.Assumptions, deps.Objects, deps.InputBucket, deps.Queue))
	r.Post("/assumptions/{category}", UploadCategoryHandler(deps.Assumptions, deps.Objects, deps.InputBucket, deps.Queue))
	r.Get("/assumptions", ListAssumptionsHandler(deps.Assumptions))
	r.Get("/assumptions/{category}/versions", ListVersionsHandler(deps.Assumptions))

	r.Post("/simulations", CreateSimulationHandler(deps.Simulations, deps.Assumptions))
	r.Get("/simulations", ListSimulationsHandler(deps.Simulations))
	r.Get("/simulations/{id}", GetSimulationHandler(deps.Simulations))
	r.Post("/simulations/{id}:start", StartSimulationHandler(deps.Simulations, deps.Queue))

	r.Post("/runs/{runTag}:confirm", ConfirmRunHandler(deps.Orchestrator))
	r.Get("/runs/{runTag}/results", RunResultsHandler(deps.Simulations, deps.Objects, deps.OutputBucket))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
