package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mrlokans/marketsync/internal/admission"
	"github.com/mrlokans/marketsync/internal/config"
	"github.com/mrlokans/marketsync/internal/database"
	syncstore "github.com/mrlokans/marketsync/internal/database/sync"
	"github.com/mrlokans/marketsync/internal/entities"
	"github.com/mrlokans/marketsync/internal/entrypoint"
	"github.com/mrlokans/marketsync/internal/marketplace"
	"github.com/mrlokans/marketsync/internal/pipeline"
	"gorm.io/gorm/logger"
)

// SyncCommand runs one marketplace sync inline and prints its progress.
type SyncCommand struct {
	DatabasePath  string
	TenantID      string
	Marketplace   string
	Seed          int
	Resume        string
	PollInterval  time.Duration
	Verbose       bool
	GlobalTokens  int
	syncConfig    config.Sync
	marketsConfig config.Marketplace
}

// NewSyncCommand creates a new SyncCommand
func NewSyncCommand() *SyncCommand {
	cfg := config.NewConfig()
	return &SyncCommand{
		syncConfig:    cfg.Sync,
		marketsConfig: cfg.Marketplace,
		GlobalTokens:  cfg.Workers.GlobalConcurrency,
		DatabasePath:  cfg.Database.Path,
	}
}

// ParseFlags parses command line flags
func (cmd *SyncCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)

	fs.StringVar(&cmd.DatabasePath, "db", cmd.DatabasePath, "Path to the database file")
	fs.StringVar(&cmd.TenantID, "tenant", "", "Tenant to sync (required unless -resume)")
	fs.StringVar(&cmd.Marketplace, "marketplace", "", "Marketplace code, e.g. ebay (required unless -resume)")
	fs.IntVar(&cmd.Seed, "seed", 0, "Seed the in-memory marketplace with this many generated listings")
	fs.StringVar(&cmd.Resume, "resume", "", "Resume an interrupted sync run by ID instead of starting one")
	fs.DurationVar(&cmd.PollInterval, "poll", time.Second, "How often progress is printed")
	fs.BoolVar(&cmd.Verbose, "verbose", false, "Print every progress update, not only label changes")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s sync [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Run a marketplace sync in this process against the configured database.\n\n")
		fmt.Fprintf(os.Stderr, "The run goes through fetch, enrich, cleanup, reconcile and sold-elsewhere.\n")
		fmt.Fprintf(os.Stderr, "Ctrl+C stops it between waves; resume it later with -resume.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s sync -tenant acme -marketplace ebay\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s sync -tenant acme -marketplace ebay -seed 250\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s sync -resume 2f1c...\n", os.Args[0])
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	if cmd.Resume == "" && (cmd.TenantID == "" || cmd.Marketplace == "") {
		return fmt.Errorf("-tenant and -marketplace are required")
	}
	return nil
}

// Run executes the sync command
func (cmd *SyncCommand) Run() error {
	absDBPath, err := filepath.Abs(cmd.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to get absolute path for database: %w", err)
	}

	db, err := database.NewDatabaseWithLogLevel(absDBPath, logger.Error)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clients := cmd.clients()
	runs := syncstore.NewRepository(db.DB)
	pipe := pipeline.New(db.DB, runs, clients, admission.NewGlobal(cmd.GlobalTokens), entrypoint.PipelineConfig(cmd.syncConfig))
	inline := pipeline.NewInlineRunner(ctx, pipe)
	service := pipeline.NewService(runs, clients, inline)

	fmt.Printf("Database: %s\n", absDBPath)

	runID := cmd.Resume
	if runID != "" {
		if err := service.ResumeSyncRun(ctx, runID); err != nil {
			return fmt.Errorf("resume sync run: %w", err)
		}
		fmt.Printf("Resuming sync run %s\n", runID)
	} else {
		runID, err = service.StartSyncRun(ctx, cmd.TenantID, cmd.Marketplace)
		if err != nil {
			return fmt.Errorf("start sync run: %w", err)
		}
		fmt.Printf("Started sync run %s for %s on %s\n", runID, cmd.TenantID, cmd.Marketplace)
	}

	done := make(chan struct{})
	go func() {
		inline.Wait()
		close(done)
	}()

	ticker := time.NewTicker(cmd.PollInterval)
	defer ticker.Stop()

	var lastLabel string
	for {
		select {
		case <-done:
			return cmd.report(service, runID)
		case <-ticker.C:
			progress, err := service.GetSyncProgress(context.Background(), runID)
			if err != nil {
				continue
			}
			if cmd.Verbose || progress.Label != lastLabel {
				fmt.Printf("  [%s] %d/%d %s\n", progress.Phase, progress.Current, progress.Total, progress.Label)
				lastLabel = progress.Label
			}
		}
	}
}

// clients registers the configured marketplaces. Only the selected one is
// seeded.
func (cmd *SyncCommand) clients() *marketplace.Directory {
	dir := marketplace.NewDirectory()
	for _, code := range cmd.marketsConfig.Codes {
		mem := marketplace.NewMemoryClient(code)
		if code == cmd.Marketplace && cmd.Seed > 0 {
			mem.Seed(cmd.TenantID, SeedItems(cmd.Seed)...)
		}
		var client marketplace.Client = mem
		if cmd.marketsConfig.RateLimit > 0 {
			client = marketplace.NewRateLimited(mem, cmd.marketsConfig.RateLimit, cmd.marketsConfig.Burst)
		}
		dir.Register(code, client)
	}
	return dir
}

func (cmd *SyncCommand) report(service *pipeline.Service, runID string) error {
	progress, err := service.GetSyncProgress(context.Background(), runID)
	if err != nil {
		return fmt.Errorf("read sync run: %w", err)
	}

	switch progress.Status {
	case entities.SyncStatusCompleted:
		fmt.Printf("\nSync run %s completed\n", runID)
		return nil
	case entities.SyncStatusCancelled:
		fmt.Printf("\nSync run %s was cancelled\n", runID)
		return nil
	case entities.SyncStatusFailed:
		return fmt.Errorf("sync run %s failed: %s", runID, progress.Error)
	default:
		fmt.Printf("\nSync run %s interrupted in phase %s, resume with: %s sync -resume %s\n",
			runID, progress.Phase, os.Args[0], runID)
		return nil
	}
}

// SeedItems generates n active listings with stable ids.
func SeedItems(n int) []marketplace.Item {
	items := make([]marketplace.Item, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, marketplace.Item{
			RemoteID:  fmt.Sprintf("seed-%05d", i),
			ProductID: fmt.Sprintf("prod-%05d", i),
			Title:     fmt.Sprintf("Seeded listing %d", i),
			Price:     int64(1000 + i),
			Quantity:  1,
			Status:    entities.RemoteStatusActive,
		})
	}
	return items
}
