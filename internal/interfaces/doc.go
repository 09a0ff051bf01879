// Package interfaces documents the core abstractions used throughout the application.
//
// This package consolidates interface documentation to show the extension
// points and which concrete types plug into them.
//
// # Interface Categories
//
// ## Data Access Interfaces
//
//   - batch.Store: Batch and job persistence for the orchestrator (internal/batch/service.go)
//   - worker.JobStore: Claiming and recording jobs (internal/worker/worker.go)
//   - worker.PendingLister: Tenants to restart after a crash (internal/worker/dispatcher.go)
//   - pipeline.RunStore: Durable sync run state (internal/pipeline/pipeline.go)
//   - pipeline.Catalog: The local listing catalog a sync reconciles (internal/pipeline/pipeline.go)
//
// ## Marketplace Interfaces
//
//   - marketplace.Client: All marketplace-specific calls (internal/marketplace/client.go)
//   - worker.Executor: Runs a claimed job through its registered action (internal/worker/worker.go)
//   - batch.ActionResolver: Validates action codes per marketplace (internal/batch/service.go)
//
// ## Coordination Interfaces
//
//   - batch.Notifier: Wakes a tenant worker, in process or through Redis
//   - worker.JobObserver: Told when a job is final, recomputes its batch
//   - pipeline.Enqueuer: Hands a sync run to the durable queue or an inline runner
//   - tasks.SyncRunner: What the durable sync_run task executes
//   - scheduler.SyncStarter: What the cron scheduler starts
//
// # Adding a New Marketplace
//
//  1. Implement marketplace.Client in internal/marketplace/
//
//     type EtsyClient struct {
//         httpClient *http.Client
//     }
//
//     func (c *EtsyClient) FetchPage(ctx context.Context, tenantID string, limit, offset int) (marketplace.Page, error)
//     ...
//
//     var _ marketplace.Client = (*EtsyClient)(nil)
//
//  2. Register it in entrypoint.NewMarketplaces, wrapped in marketplace.NewRateLimited
//
//  3. Register actions for the code with actions.RegisterDefaults or registry.Register
//
// # Adding a New Action
//
//	registry.Register("ebay", actions.Descriptor{
//	    Code:           "relist",
//	    Name:           "Relist ended listing",
//	    RequiresTarget: true,
//	    Handler:        relist,
//	})
//
// A handler receives the tenant-scoped DB session and the marketplace client
// in actions.Env. Its return value is stored as the job result.
//
// # Compile-Time Interface Checks
//
// All implementations should include compile-time checks to ensure they satisfy
// their interfaces. This catches missing methods at compile time rather than runtime:
//
//	var _ SomeInterface = (*MyImplementation)(nil)
//
// See checks.go for the full list.
package interfaces
