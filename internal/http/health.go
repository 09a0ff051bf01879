package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mrlokans/marketsync/internal/admission"
	"github.com/mrlokans/marketsync/internal/database"
	"github.com/mrlokans/marketsync/internal/worker"
)

// Tenant worker states reported by /health.
const (
	tenantBusy      = "busy"
	tenantSaturated = "saturated"
	tenantIdle      = "idle"
	tenantRecycle   = "recycle_due"
	tenantStopped   = "stopped"
	tenantWaiting   = "waiting"
)

type HealthResponse struct {
	Status  string            `json:"status"`
	Time    string            `json:"time"`
	Version string            `json:"version,omitempty"`
	Checks  map[string]string `json:"checks"`
	Tenants []TenantHealth    `json:"tenants,omitempty"`
}

// TenantHealth is the load of one tenant worker.
type TenantHealth struct {
	TenantID   string `json:"tenant_id"`
	State      string `json:"state"`
	ActiveJobs int    `json:"active_jobs"`
	Capacity   int    `json:"capacity"`
}

type HealthController struct {
	db      *database.Database
	workers WorkerLister
	global  *admission.Limiter
	version string
}

func NewHealthController(db *database.Database, version string) *HealthController {
	return &HealthController{
		db:      db,
		version: version,
	}
}

// WithWorkers adds per-tenant worker load to the health report.
func (h *HealthController) WithWorkers(workers WorkerLister) *HealthController {
	h.workers = workers
	return h
}

// WithAdmission adds the usage of the process-wide admission tokens.
func (h *HealthController) WithAdmission(global *admission.Limiter) *HealthController {
	h.global = global
	return h
}

func (h *HealthController) Status(c *gin.Context) {
	health := HealthResponse{
		Status:  "healthy",
		Time:    time.Now().Format(time.RFC3339),
		Version: h.version,
		Checks:  make(map[string]string),
	}

	switch {
	case h.db == nil:
		health.Checks["database"] = "not configured"
	case h.db.Ping() != nil:
		health.Checks["database"] = "error: " + h.db.Ping().Error()
		health.Status = "unhealthy"
	default:
		health.Checks["database"] = "ok"
	}

	if h.global != nil {
		health.Checks["admission"] = fmt.Sprintf("%d/%d tokens in use", h.global.InUse(), h.global.Capacity())
	}

	if h.workers != nil {
		statuses := h.workers.Statuses()
		active, saturated := 0, 0
		for _, s := range statuses {
			th := tenantHealth(s)
			if th.State == tenantSaturated {
				saturated++
			}
			active += s.ActiveJobs
			health.Tenants = append(health.Tenants, th)
		}
		health.Checks["workers"] = fmt.Sprintf("%d tenants, %d active jobs, %d saturated", len(statuses), active, saturated)
	}

	statusCode := http.StatusOK
	if health.Status != "healthy" {
		statusCode = http.StatusServiceUnavailable
	}
	c.IndentedJSON(statusCode, health)
}

func tenantHealth(s worker.Status) TenantHealth {
	th := TenantHealth{TenantID: s.TenantID, ActiveJobs: s.ActiveJobs, Capacity: s.Concurrency}
	switch {
	case !s.Running:
		th.State = tenantStopped
	case s.ActiveJobs >= s.Concurrency:
		th.State = tenantSaturated
	case s.ActiveJobs > 0:
		th.State = tenantBusy
	case s.Old:
		th.State = tenantRecycle
	case s.Idle:
		th.State = tenantIdle
	default:
		th.State = tenantWaiting
	}
	return th
}
