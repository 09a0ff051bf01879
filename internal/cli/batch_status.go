package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/mrlokans/marketsync/internal/batch"
	"github.com/mrlokans/marketsync/internal/config"
	"github.com/mrlokans/marketsync/internal/database"
	"github.com/mrlokans/marketsync/internal/database/jobs"
	"gorm.io/gorm/logger"
)

// BatchStatusCommand prints the progress of a batch.
type BatchStatusCommand struct {
	DatabasePath string
	BatchID      string
	JSON         bool

	out io.Writer
}

// NewBatchStatusCommand creates a new BatchStatusCommand
func NewBatchStatusCommand() *BatchStatusCommand {
	return &BatchStatusCommand{
		DatabasePath: config.NewConfig().Database.Path,
		out:          os.Stdout,
	}
}

// ParseFlags parses command line flags
func (cmd *BatchStatusCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("batch-status", flag.ExitOnError)

	fs.StringVar(&cmd.DatabasePath, "db", cmd.DatabasePath, "Path to the database file")
	fs.StringVar(&cmd.BatchID, "id", "", "Batch ID (required)")
	fs.BoolVar(&cmd.JSON, "json", false, "Print the summary as JSON")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s batch-status -id <batch-id> [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Show job counts and completion of a batch.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if cmd.BatchID == "" {
		return fmt.Errorf("-id is required")
	}
	return nil
}

// Run executes the batch-status command
func (cmd *BatchStatusCommand) Run() error {
	db, err := database.NewDatabaseWithLogLevel(cmd.DatabasePath, logger.Error)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	// Reading a summary needs neither actions nor notifiers.
	service := batch.NewService(jobs.NewRepository(db.DB), nil, 0)
	summary, err := service.GetBatchSummary(context.Background(), cmd.BatchID)
	if err != nil {
		return err
	}
	return cmd.print(summary)
}

func (cmd *BatchStatusCommand) print(summary *batch.Summary) error {
	if cmd.JSON {
		enc := json.NewEncoder(cmd.out)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	b := summary.Batch
	fmt.Fprintf(cmd.out, "Batch %s (%s on %s, action %s)\n", b.ID, b.TenantID, b.Marketplace, b.ActionCode)
	fmt.Fprintf(cmd.out, "Status:    %s\n", b.Status)
	fmt.Fprintf(cmd.out, "Running:   %d\n", summary.Counts.Running)
	fmt.Fprintf(cmd.out, "Progress:  %.1f%% (%d pending of %d)\n", summary.PercentComplete, summary.PendingCount, b.TotalCount)
	fmt.Fprintf(cmd.out, "Completed: %d\n", summary.Counts.Completed)
	fmt.Fprintf(cmd.out, "Failed:    %d\n", summary.Counts.Failed)
	fmt.Fprintf(cmd.out, "Cancelled: %d\n", summary.Counts.Cancelled)
	return nil
}
