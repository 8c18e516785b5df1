// Package main is the entry point for the PocketBase extension with studio
// data import capabilities.
package main

import (
	"log/slog"
	"os"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/hook"

	"github.com/kennangle/mbodataanalysis/config"
	"github.com/kennangle/mbodataanalysis/importer"
	"github.com/kennangle/mbodataanalysis/logging"
)

func main() {
	// Unified logging format:
	// 2026-01-06T14:05:52Z [pocketbase] LEVEL message
	logging.Init("pocketbase")

	settings, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	app := pocketbase.New()

	app.OnServe().Bind(&hook.Handler[*core.ServeEvent]{
		Func: func(e *core.ServeEvent) error {
			slog.Info("Initializing import service")

			if err := importer.EnsureCollections(app); err != nil {
				return err
			}

			store := importer.NewJobStore(app)

			// Orphaned jobs must be failed before the worker can accept
			// new ones, so a crashed import never looks alive.
			if err := importer.RecoverOrphanJobs(store); err != nil {
				return err
			}

			worker := importer.NewWorker(store, importer.NewPhaseFactory(app, settings), settings.BatchDelay)
			scheduler := importer.NewScheduler(app, store, worker, settings)

			service := importer.NewService(app, store, worker, scheduler, settings)
			service.RegisterRoutes(e)

			scheduler.Start()

			return e.Next()
		},
	})

	if err := app.Start(); err != nil {
		slog.Error("Failed to start application", "error", err)
		os.Exit(1)
	}
}
