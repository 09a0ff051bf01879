// Package tasks runs durable background work on a backlite queue stored in
// its own SQLite database next to the main one.
package tasks

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mikestefanello/backlite"
)

const tasksDSNParams = "?_journal=WAL&_timeout=5000&_busy_timeout=5000"

// Client owns the queue database and the backlite dispatcher on top of it.
type Client struct {
	queue  *backlite.Client
	db     *sql.DB
	config Config

	mu      sync.Mutex
	started bool
}

// DBPath returns the tasks database path for a main database path:
// the main file name with a "-tasks" suffix, in the same directory.
func DBPath(mainDBPath string) string {
	ext := filepath.Ext(mainDBPath)
	return strings.TrimSuffix(mainDBPath, ext) + "-tasks" + ext
}

func openTasksDB(path string, workers int) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+tasksDSNParams)
	if err != nil {
		return nil, err
	}
	// Workers hold a connection each while running; the rest serve enqueues
	// and status reads.
	db.SetMaxOpenConns(workers + 5)
	db.SetMaxIdleConns(workers + 2)
	db.SetConnMaxLifetime(time.Hour)
	return db, nil
}

// NewClient opens the tasks database for mainDBPath and installs the
// backlite schema.
func NewClient(mainDBPath string, cfg Config) (*Client, error) {
	db, err := openTasksDB(DBPath(mainDBPath), cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("failed to open tasks database: %w", err)
	}

	queue, err := backlite.NewClient(backlite.ClientConfig{
		DB:              db,
		NumWorkers:      cfg.Workers,
		ReleaseAfter:    cfg.ReleaseAfter,
		CleanupInterval: cfg.CleanupInterval,
		Logger:          queueLogger{},
	})
	if err == nil {
		err = queue.Install()
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set up task queue: %w", err)
	}

	return &Client{queue: queue, db: db, config: cfg}, nil
}

// Register adds queues. Must be called before Start.
func (c *Client) Register(queues ...backlite.Queue) {
	for _, q := range queues {
		c.queue.Register(q)
	}
}

// Start begins processing, including tasks a previous process claimed but
// never finished once their ReleaseAfter passes. It does not block.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true

	log.Printf("[TASK] Task queue started with %d workers", c.config.Workers)
	c.queue.Start(ctx)
}

// Stop waits for running tasks until ctx is done. It reports whether every
// worker finished in time.
func (c *Client) Stop(ctx context.Context) bool {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return true
	}

	log.Println("[TASK] Stopping task queue...")
	if !c.queue.Stop(ctx) {
		log.Println("[TASK] Task queue stopped with timeout, interrupted sync runs resume on next start")
		return false
	}
	log.Println("[TASK] Task queue stopped gracefully")
	return true
}

// Close releases the tasks database. Call it after Stop.
func (c *Client) Close() error {
	return c.db.Close()
}

// Add starts an operation to enqueue one or more tasks.
func (c *Client) Add(tasks ...backlite.Task) *backlite.TaskAddOp {
	return c.queue.Add(tasks...)
}

// Status returns the status of a task by ID as a lowercase name.
func (c *Client) Status(ctx context.Context, taskID string) (string, error) {
	status, err := c.queue.Status(ctx, taskID)
	if err != nil {
		return "", fmt.Errorf("task status %s: %w", taskID, err)
	}
	return StatusName(status), nil
}

// StatusName renders a backlite task status.
func StatusName(status backlite.TaskStatus) string {
	switch status {
	case backlite.TaskStatusPending:
		return "pending"
	case backlite.TaskStatusRunning:
		return "running"
	case backlite.TaskStatusSuccess:
		return "success"
	case backlite.TaskStatusFailure:
		return "failure"
	case backlite.TaskStatusNotFound:
		return "not_found"
	}
	return "unknown"
}

// queueLogger routes backlite's logs through the standard logger. backlite
// passes params as alternating keys and values.
type queueLogger struct{}

func (queueLogger) Info(message string, params ...any) {
	log.Printf("[TASK] %s%s", message, formatParams(params))
}

func (queueLogger) Error(message string, params ...any) {
	log.Printf("[TASK ERROR] %s%s", message, formatParams(params))
}

func formatParams(params []any) string {
	var b strings.Builder
	for i := 0; i < len(params); i += 2 {
		if i+1 < len(params) {
			fmt.Fprintf(&b, " %v=%v", params[i], params[i+1])
		} else {
			fmt.Fprintf(&b, " %v", params[i])
		}
	}
	return b.String()
}
