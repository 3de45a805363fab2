// Package main provides the empower server entry point: the simulation REST
// API plus the background task workers that drive the pipeline.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"

	"github.com/empowersim/empower/internal/config"
	"github.com/empowersim/empower/internal/db"
	"github.com/empowersim/empower/internal/invoke"
	"github.com/empowersim/empower/internal/notify"
	"github.com/empowersim/empower/internal/objectstore"
	"github.com/empowersim/empower/pkg/assumption"
	"github.com/empowersim/empower/pkg/simulation"
	"github.com/empowersim/empower/pkg/tasks"
)

func main() {
	var (
		configPath string
		envFile    string
	)
	flag.StringVar(&configPath, "config", "", "Path to config file (optional)")
	flag.StringVar(&envFile, "env-file", "", "Path to .env file (optional)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			fatal(logger, "failed to load env file", err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(logger, "failed to load config", err)
	}

	logger.Info("starting empower server",
		"listen", cfg.Server.Listen,
		"database", cfg.Database.Type,
		"pools", cfg.Pipeline.PoolCount)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		fatal(logger, "failed to connect to database", err)
	}

	assumptionStore := assumption.NewStore(gormDB)
	simStore := simulation.NewStore(gormDB)
	taskStore := tasks.NewTaskStore(gormDB)

	// Serialize migrations so multiple replicas can start concurrently.
	locker := db.NewMigrationLocker(gormDB)
	err = locker.WithLock(ctx, func() error {
		if err := assumptionStore.AutoMigrate(); err != nil {
			return fmt.Errorf("assumption tables: %w", err)
		}
		if err := simStore.AutoMigrate(); err != nil {
			return fmt.Errorf("simulation tables: %w", err)
		}
		if err := taskStore.AutoMigrate(); err != nil {
			return fmt.Errorf("task tables: %w", err)
		}
		return nil
	})
	if err != nil {
		fatal(logger, "failed to migrate database", err)
	}

	var objects objectstore.Store
	if cfg.ObjectStore.Endpoint != "" {
		objects, err = objectstore.NewMinioStore(objectstore.MinioConfig{
			Endpoint:  cfg.ObjectStore.Endpoint,
			AccessKey: cfg.ObjectStore.AccessKey,
			SecretKey: cfg.ObjectStore.SecretKey,
			UseSSL:    cfg.ObjectStore.UseSSL,
		})
		if err != nil {
			fatal(logger, "failed to connect to object store", err)
		}
	} else {
		logger.Warn("no object store endpoint configured, using in-memory store")
		objects = objectstore.NewMemoryStore()
	}

	invoker := invoke.NewHTTPInvoker(cfg.Functions.GatewayURL)
	var notifier notify.Notifier
	if cfg.Notify.Endpoint != "" {
		notifier = notify.NewHTTPNotifier(cfg.Notify.Endpoint, cfg.Notify.APIKey, cfg.Notify.From)
	}

	refStart, err := time.Parse("2006-01-02", cfg.Pipeline.RefStart)
	if err != nil {
		fatal(logger, "invalid pipeline.ref_start", err)
	}
	refEnd, err := time.Parse("2006-01-02", cfg.Pipeline.RefEnd)
	if err != nil {
		fatal(logger, "invalid pipeline.ref_end", err)
	}

	gen := simulation.NewGenerator(objects, invoker, cfg.ObjectStore.OutputBucket,
		cfg.Functions.RefDayGen, refStart, refEnd, cfg.Pipeline.PoolCount, logger)
	dispatcher := simulation.NewDispatcher(invoker, cfg.Functions.Solver,
		cfg.Pipeline.DispatchInterval, logger)
	poller := simulation.NewPoller(objects, cfg.ObjectStore.OutputBucket, logger)
	merger := simulation.NewMerger(invoker, poller, cfg.Functions.Merger, logger)

	orch := simulation.NewOrchestrator(simulation.OrchestratorConfig{
		InputBucket:      cfg.ObjectStore.InputBucket,
		OutputBucket:     cfg.ObjectStore.OutputBucket,
		DispatchMaxWait:  cfg.Pipeline.DispatchMaxWait,
		FinishedTemplate: cfg.Notify.FinishedTemplate,
		FailedTemplate:   cfg.Notify.FailedTemplate,
		Recipients:       cfg.Notify.Recipients,
	}, simStore, assumptionStore, objects, gen, dispatcher, poller, merger, notifier, logger)

	taskCfg := tasks.DefaultConfig()
	taskCfg.Concurrency = cfg.Tasks.Concurrency
	taskCfg.PollInterval = cfg.Tasks.PollInterval
	taskCfg.ClaimTimeout = cfg.Tasks.ClaimTimeout
	taskCfg.MaxRetries = cfg.Tasks.MaxRetries

	handlers := taskHandlers(orch, simStore, taskStore)
	pool := tasks.NewWorkerPool(taskStore, func(kind string) (tasks.Handler, bool) {
		h, ok := handlers[kind]
		return h, ok
	}, taskCfg, logger)
	go pool.Run(ctx)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-By"},
		AllowCredentials: true,
	}))
	router.Mount("/api/v1", simulation.Router(simulation.RouterDeps{
		Simulations:  simStore,
		Assumptions:  assumptionStore,
		Objects:      objects,
		InputBucket:  cfg.ObjectStore.InputBucket,
		OutputBucket: cfg.ObjectStore.OutputBucket,
		Queue:        queueAdapter{taskStore},
		Orchestrator: orch,
	}))

	httpServer := &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: router,
	}
	go func() {
		logger.Info("empower server ready", "listen", cfg.Server.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatal(logger, "HTTP server error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	logger.Info("empower server stopped")
}

// taskHandlers maps queue kinds to orchestrator calls. A successful start
// schedules the first merge re-check; an incomplete merge gate defers the
// re-check instead of failing it.
func taskHandlers(orch *simulation.Orchestrator, sims *simulation.Store, store *tasks.TaskStore) map[string]tasks.Handler {
	return map[string]tasks.Handler{
		simulation.TaskProcessAssumption: func(ctx context.Context, payload []byte) error {
			var req struct {
				FileID uint `json:"file_id"`
			}
			if err := json.Unmarshal(payload, &req); err != nil {
				return fmt.Errorf("decode payload: %w", err)
			}
			return orch.ProcessAssumption(ctx, req.FileID)
		},
		simulation.TaskProcessCategory: func(ctx context.Context, payload []byte) error {
			var req struct {
				FileID   uint                `json:"file_id"`
				Category assumption.Category `json:"category"`
				Scenario string              `json:"scenario"`
			}
			if err := json.Unmarshal(payload, &req); err != nil {
				return fmt.Errorf("decode payload: %w", err)
			}
			return orch.ProcessCategoryUpload(ctx, req.FileID, req.Category, req.Scenario)
		},
		simulation.TaskStartRun: func(ctx context.Context, payload []byte) error {
			var req struct {
				SimulationID uint   `json:"simulation_id"`
				Actor        string `json:"actor"`
			}
			if err := json.Unmarshal(payload, &req); err != nil {
				return fmt.Errorf("decode payload: %w", err)
			}
			if err := orch.StartRun(ctx, req.SimulationID, req.Actor); err != nil {
				return err
			}
			sim, err := sims.Get(req.SimulationID)
			if err != nil {
				return err
			}
			return enqueueRecheck(store, sim.RunID)
		},
		simulation.TaskRecheckMerge: func(ctx context.Context, payload []byte) error {
			var req struct {
				RunTag string `json:"run_tag"`
			}
			if err := json.Unmarshal(payload, &req); err != nil {
				return fmt.Errorf("decode payload: %w", err)
			}
			err := orch.RecheckMerge(ctx, req.RunTag)
			var incomplete *simulation.IncompleteResultsError
			if errors.As(err, &incomplete) {
				return fmt.Errorf("%w: %v", tasks.ErrRetryLater, err)
			}
			return err
		},
	}
}

// queueAdapter exposes the task store through the narrow interface the HTTP
// handlers take.
type queueAdapter struct {
	store *tasks.TaskStore
}

func (q queueAdapter) Enqueue(ctx context.Context, kind, idempotencyKey string, payload []byte) error {
	return q.store.EnqueueKind(ctx, kind, idempotencyKey, payload)
}

// enqueueRecheck schedules the merge re-check loop for a dispatched run.
// Repeated starts collapse into one in-flight re-check per run tag.
func enqueueRecheck(store *tasks.TaskStore, runTag string) error {
	payload, _ := json.Marshal(map[string]string{"run_tag": runTag})
	_, err := store.Enqueue(&tasks.Task{
		Kind:           simulation.TaskRecheckMerge,
		Payload:        payload,
		IdempotencyKey: "recheck-" + runTag,
	})
	return err
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
