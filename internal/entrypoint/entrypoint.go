package entrypoint

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mrlokans/marketsync/internal/actions"
	"github.com/mrlokans/marketsync/internal/admission"
	"github.com/mrlokans/marketsync/internal/batch"
	"github.com/mrlokans/marketsync/internal/config"
	"github.com/mrlokans/marketsync/internal/database"
	"github.com/mrlokans/marketsync/internal/database/jobs"
	syncstore "github.com/mrlokans/marketsync/internal/database/sync"
	http_controllers "github.com/mrlokans/marketsync/internal/http"
	"github.com/mrlokans/marketsync/internal/notify"
	"github.com/mrlokans/marketsync/internal/pipeline"
	"github.com/mrlokans/marketsync/internal/scheduler"
	"github.com/mrlokans/marketsync/internal/tasks"
	"github.com/mrlokans/marketsync/internal/worker"
)

// ShutdownFunc is called during graceful shutdown to clean up resources.
type ShutdownFunc func(ctx context.Context)

func Serve(router *gin.Engine, cfg *config.Config, onShutdown ShutdownFunc) {
	timeout := time.Duration(cfg.Global.ShutdownTimeoutInSeconds) * time.Second

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler: router,
	}

	go func() {
		fmt.Printf("Starting server at %s:%d\n", cfg.HTTP.Host, cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// kill (no param) sends SIGTERM, kill -2 is SIGINT
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Printf("Shutdown Server, waiting %v before killing\n", timeout)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Stop accepting requests before the workers drain.
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server Shutdown: %v", err)
	}

	if onShutdown != nil {
		onShutdown(ctx)
	}

	log.Println("Server exiting")
}

func Run(cfg *config.Config, version string) {
	log.Printf("Starting MarketSync v%s", version)

	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}()

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	jobsRepo := jobs.NewRepository(db.DB)
	syncRepo := syncstore.NewRepository(db.DB)

	// Jobs claimed by a previous process never reported back.
	if reset, err := jobsRepo.ResetRunningJobs(appCtx); err != nil {
		log.Fatalf("Failed to reset running jobs: %v", err)
	} else if reset > 0 {
		log.Printf("Returned %d interrupted jobs to pending", reset)
	}

	clients := NewMarketplaces(cfg.Marketplace)
	registry := actions.NewRegistry(clients)
	for _, code := range clients.Codes() {
		actions.RegisterDefaults(registry, code)
	}
	global := admission.NewGlobal(cfg.Workers.GlobalConcurrency)

	wake := &wakeups{}
	batchService := batch.NewService(jobsRepo, registry, cfg.Workers.DefaultMaxRetries, wake)

	dispatcher := worker.NewDispatcher(appCtx, worker.Deps{
		DB:       db.DB,
		Store:    jobsRepo,
		Executor: registry,
		Global:   global,
		Observer: batchService,
	}, WorkerConfig(cfg.Workers))
	wake.add(dispatcher)

	var redisNotifier *notify.RedisNotifier
	if cfg.Notify.RedisAddr != "" {
		redisNotifier, err = notify.NewRedisNotifier(appCtx, cfg.Notify.RedisAddr, cfg.Notify.RedisPassword, cfg.Notify.RedisChannel)
		if err != nil {
			log.Printf("WARNING: Redis wake-ups disabled: %v", err)
		} else {
			wake.add(redisNotifier)
			go func() {
				if err := redisNotifier.Listen(appCtx, dispatcher.NotifyTenant); err != nil {
					log.Printf("[NOTIFY] Listener stopped: %v", err)
				}
			}()
		}
	}

	if err := dispatcher.ResumePending(appCtx, jobsRepo); err != nil {
		log.Printf("WARNING: Failed to resume pending tenants: %v", err)
	}

	pipe := pipeline.New(db.DB, syncRepo, clients, global, PipelineConfig(cfg.Sync))
	syncService := pipeline.NewService(syncRepo, clients, nil)

	taskCfg := tasks.Config{
		Workers:           cfg.Tasks.Workers,
		ReleaseAfter:      cfg.Tasks.ReleaseAfter,
		CleanupInterval:   cfg.Tasks.CleanupInterval,
		RetentionDuration: cfg.Tasks.RetentionDuration,
	}

	var taskClient *tasks.Client
	var inline *pipeline.InlineRunner
	if cfg.Tasks.Enabled {
		taskClient, err = tasks.NewClient(cfg.Database.Path, taskCfg)
		if err != nil {
			log.Fatalf("Failed to initialize task queue: %v", err)
		}
		defer func() {
			if err := taskClient.Close(); err != nil {
				log.Printf("Error closing task client: %v", err)
			}
		}()

		taskClient.Register(
			tasks.NewSyncRunQueue(pipe),
			tasks.NewCleanupSyncRunsQueue(syncRepo),
		)
		syncService.SetEnqueuer(taskClient)

		if _, err := taskClient.Add(tasks.CleanupSyncRunsTask{RetentionDays: taskCfg.RetentionDays()}).Save(); err != nil {
			log.Printf("WARNING: Failed to enqueue sync run cleanup: %v", err)
		}

		// Runs interrupted mid-phase are still queued and resume here.
		go taskClient.Start(appCtx)
	} else {
		log.Printf("Task queue disabled, sync runs execute in-process")
		inline = pipeline.NewInlineRunner(appCtx, pipe)
		syncService.SetEnqueuer(inline)

		// This process is the only executor, so leases left behind are stale.
		if released, err := syncRepo.ReleaseAllLeases(appCtx); err != nil {
			log.Printf("WARNING: Failed to release stale sync run leases: %v", err)
		} else if released > 0 {
			log.Printf("Released %d stale sync run leases", released)
		}

		active, err := syncRepo.ListActiveRuns(appCtx)
		if err != nil {
			log.Printf("WARNING: Failed to list active sync runs: %v", err)
		}
		for _, run := range active {
			if err := syncService.ResumeSyncRun(appCtx, run.ID); err != nil {
				log.Printf("WARNING: Failed to resume sync run %s: %v", run.ID, err)
			}
		}
	}

	var syncScheduler *scheduler.MarketplaceSyncScheduler
	if cfg.ScheduledSync.Enabled {
		targets, err := scheduler.ParseTargets(cfg.ScheduledSync.Targets)
		if err != nil {
			log.Fatalf("Invalid scheduled sync targets: %v", err)
		}
		syncScheduler = scheduler.NewMarketplaceSyncScheduler(syncService, cfg.ScheduledSync.Schedule, targets)
		if taskClient != nil {
			err := syncScheduler.AddHousekeeping("30 3 * * *", func() {
				task := tasks.CleanupSyncRunsTask{RetentionDays: taskCfg.RetentionDays()}
				if _, err := taskClient.Add(task).Save(); err != nil {
					log.Printf("[SCHEDULER] Failed to enqueue sync run cleanup: %v", err)
				}
			})
			if err != nil {
				log.Fatalf("Failed to schedule housekeeping: %v", err)
			}
		}
		if err := syncScheduler.Start(appCtx); err != nil {
			log.Fatalf("Failed to start sync scheduler: %v", err)
		}
	}

	routerCfg := http_controllers.RouterConfig{
		Database: db,
		Batches:  batchService,
		Syncs:    syncService,
		Workers:  dispatcher,
		Version:  version,

		Admission: global,
	}
	if taskClient != nil {
		routerCfg.TaskClient = taskClient
	}

	router := http_controllers.NewRouter(routerCfg)

	onShutdown := func(ctx context.Context) {
		if syncScheduler != nil {
			syncScheduler.Stop()
		}
		if !dispatcher.StopAll(cfg.Workers.StopTimeout) {
			log.Printf("Some tenant workers did not stop in time, their jobs resume on next start")
		}
		if taskClient != nil {
			taskClient.Stop(ctx)
		}
		appCancel()
		if inline != nil {
			inline.Wait()
		}
		if redisNotifier != nil {
			if err := redisNotifier.Close(); err != nil {
				log.Printf("Error closing redis notifier: %v", err)
			}
		}
	}

	Serve(router, cfg, onShutdown)
}
