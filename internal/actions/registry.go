// Package actions maps (marketplace, action code) pairs to the code that
// performs them and executes jobs through that mapping.
package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mrlokans/marketsync/internal/database/listings"
	"github.com/mrlokans/marketsync/internal/entities"
	"github.com/mrlokans/marketsync/internal/marketplace"
	"gorm.io/gorm"
)

var (
	ErrUnknownAction  = errors.New("unknown action")
	ErrNoClient       = errors.New("no client registered for marketplace")
	ErrTargetRequired = errors.New("action requires a target id")
)

// Env is what a handler gets to do its work. DB is the job's own session.
type Env struct {
	DB       *gorm.DB
	Client   marketplace.Client
	Listings *listings.Repository
}

// Handler performs one job and returns a JSON-serialisable result.
type Handler func(ctx context.Context, env Env, job *entities.Job) (any, error)

// Descriptor describes a registered action.
type Descriptor struct {
	Code           string
	Name           string
	RequiresTarget bool
	Handler        Handler
}

// Result is the outcome of one execution attempt.
type Result struct {
	Success  bool
	Duration time.Duration
	Err      error
	Payload  []byte
}

// Registry holds the actions each marketplace supports.
type Registry struct {
	clients *marketplace.Directory

	mu      sync.RWMutex
	actions map[string]map[string]Descriptor
}

func NewRegistry(clients *marketplace.Directory) *Registry {
	return &Registry{
		clients: clients,
		actions: make(map[string]map[string]Descriptor),
	}
}

// Register adds or replaces an action for a marketplace.
func (r *Registry) Register(marketplaceCode string, d Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byCode, ok := r.actions[marketplaceCode]
	if !ok {
		byCode = make(map[string]Descriptor)
		r.actions[marketplaceCode] = byCode
	}
	byCode[d.Code] = d
}

// ResolveActionType looks up an action for a marketplace.
func (r *Registry) ResolveActionType(marketplaceCode, actionCode string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.actions[marketplaceCode][actionCode]
	return d, ok
}

// ExecuteJob runs the job's action against its marketplace client.
// Errors are returned in the Result, never as a panic.
func (r *Registry) ExecuteJob(ctx context.Context, db *gorm.DB, job *entities.Job) Result {
	start := time.Now()
	payload, err := r.execute(ctx, db, job)
	return Result{
		Success:  err == nil,
		Duration: time.Since(start),
		Err:      err,
		Payload:  payload,
	}
}

func (r *Registry) execute(ctx context.Context, db *gorm.DB, job *entities.Job) ([]byte, error) {
	d, ok := r.ResolveActionType(job.Marketplace, job.ActionCode)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownAction, job.Marketplace, job.ActionCode)
	}
	if d.RequiresTarget && (job.TargetID == nil || *job.TargetID == "") {
		return nil, fmt.Errorf("%w: %s", ErrTargetRequired, d.Code)
	}
	client, ok := r.clients.Get(job.Marketplace)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoClient, job.Marketplace)
	}

	env := Env{
		DB:       db,
		Client:   client,
		Listings: listings.NewRepository(db),
	}
	out, err := d.Handler(ctx, env, job)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return payload, nil
}
