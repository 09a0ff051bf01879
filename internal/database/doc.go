// Package database provides the data access layer for the scheduler.
//
// # Architecture
//
// The database layer is organized into domain-specific sub-packages:
//
//	database/
//	├── database.go      # Connection setup, migrations
//	├── jobs/            # Job and batch rows (claiming, transitions, batch cancel)
//	├── sync/            # Durable sync run state and progress reporting
//	└── listings/        # Local mirror of each tenant's marketplace inventory
//
// # Using Sub-packages
//
// Each sub-package provides a Repository type with domain-specific operations:
//
//	db, err := database.NewDatabase("./marketsync.db")
//
//	jobsRepo := jobs.NewRepository(db.DB)
//	runs := sync.NewRepository(db.DB)
//	catalog := listings.NewRepository(db.DB)
//
// # Concurrency
//
// Tenant workers and pipeline waves write concurrently. Status transitions are
// expressed as conditional UPDATEs (WHERE status IN ...) so the row itself is
// the arbiter; multi-row changes such as cancelling a batch run inside a
// single transaction.
//
// # Interface Implementations
//
//   - jobs.Repository: implements worker.JobStore and batch.Store
//   - sync.Repository: implements pipeline.RunStore
//   - listings.Repository: implements pipeline.Catalog
package database
