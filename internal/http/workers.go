package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// WorkerInfo is the JSON view of one tenant worker.
type WorkerInfo struct {
	TenantID    string `json:"tenant_id"`
	Schema      string `json:"schema"`
	Running     bool   `json:"running"`
	ActiveJobs  int    `json:"active_jobs"`
	Concurrency int    `json:"concurrency"`
	Idle        bool   `json:"idle"`
	Old         bool   `json:"old"`
	Age         string `json:"age"`
	IdleFor     string `json:"idle_for"`
}

type WorkersController struct {
	workers WorkerLister
}

func NewWorkersController(workers WorkerLister) *WorkersController {
	return &WorkersController{workers: workers}
}

// List handles GET /api/workers
func (wc *WorkersController) List(c *gin.Context) {
	statuses := wc.workers.Statuses()
	infos := make([]WorkerInfo, 0, len(statuses))
	for _, s := range statuses {
		infos = append(infos, WorkerInfo{
			TenantID:    s.TenantID,
			Schema:      s.Schema,
			Running:     s.Running,
			ActiveJobs:  s.ActiveJobs,
			Concurrency: s.Concurrency,
			Idle:        s.Idle,
			Old:         s.Old,
			Age:         s.Age.Round(time.Second).String(),
			IdleFor:     s.IdleFor.Round(time.Second).String(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"workers": infos})
}
