package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mrlokans/marketsync/internal/admission"
	"github.com/mrlokans/marketsync/internal/database"
	"github.com/mrlokans/marketsync/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

func setupHealthTestDB(t *testing.T) (*database.Database, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.NewDatabaseWithLogLevel(filepath.Join(t.TempDir(), "health.db"), logger.Silent)
	require.NoError(t, err)

	cleanup := func() {
		db.Close()
	}
	return db, cleanup
}

func getHealth(t *testing.T, controller *HealthController) (*httptest.ResponseRecorder, HealthResponse) {
	t.Helper()
	router := gin.New()
	router.GET("/health", controller.Status)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	router.ServeHTTP(w, req)

	var response HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	return w, response
}

type fakeWorkers []worker.Status

func (f fakeWorkers) Statuses() []worker.Status { return f }

func TestHealthController_Status(t *testing.T) {
	t.Run("returns healthy when database is connected", func(t *testing.T) {
		db, cleanup := setupHealthTestDB(t)
		defer cleanup()

		w, response := getHealth(t, NewHealthController(db, "1.0.0"))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "healthy", response.Status)
		assert.Equal(t, "1.0.0", response.Version)
		assert.Equal(t, "ok", response.Checks["database"])
		assert.Contains(t, response.Time, "T")
	})

	t.Run("reports a missing database", func(t *testing.T) {
		gin.SetMode(gin.TestMode)

		w, response := getHealth(t, NewHealthController(nil, "1.0.0"))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "not configured", response.Checks["database"])
	})

	t.Run("returns unhealthy when database connection is closed", func(t *testing.T) {
		db, _ := setupHealthTestDB(t)
		db.Close()

		w, response := getHealth(t, NewHealthController(db, "1.0.0"))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "unhealthy", response.Status)
		assert.Contains(t, response.Checks["database"], "error")
	})

	t.Run("reports per-tenant worker load", func(t *testing.T) {
		db, cleanup := setupHealthTestDB(t)
		defer cleanup()

		workers := fakeWorkers{
			{TenantID: "t1", Running: true, ActiveJobs: 2, Concurrency: 2},
			{TenantID: "t2", Running: true, ActiveJobs: 1, Concurrency: 3},
			{TenantID: "t3", Running: true, Concurrency: 2, Idle: true},
			{TenantID: "t4", Running: true, Concurrency: 2, Idle: true, Old: true},
			{TenantID: "t5", Running: true, Concurrency: 2},
			{TenantID: "t6", Concurrency: 2},
		}
		_, response := getHealth(t, NewHealthController(db, "1.0.0").WithWorkers(workers))

		assert.Equal(t, "6 tenants, 3 active jobs, 1 saturated", response.Checks["workers"])
		require.Len(t, response.Tenants, 6)
		assert.Equal(t, TenantHealth{TenantID: "t1", State: "saturated", ActiveJobs: 2, Capacity: 2}, response.Tenants[0])
		assert.Equal(t, TenantHealth{TenantID: "t2", State: "busy", ActiveJobs: 1, Capacity: 3}, response.Tenants[1])
		assert.Equal(t, "idle", response.Tenants[2].State)
		assert.Equal(t, "recycle_due", response.Tenants[3].State)
		assert.Equal(t, "waiting", response.Tenants[4].State)
		assert.Equal(t, "stopped", response.Tenants[5].State)
	})

	t.Run("omits tenants without a worker lister", func(t *testing.T) {
		db, cleanup := setupHealthTestDB(t)
		defer cleanup()

		_, response := getHealth(t, NewHealthController(db, "1.0.0"))

		assert.Empty(t, response.Tenants)
		assert.NotContains(t, response.Checks, "workers")
	})

	t.Run("reports admission token usage", func(t *testing.T) {
		db, cleanup := setupHealthTestDB(t)
		defer cleanup()

		global := admission.NewGlobal(4)
		require.True(t, global.TryAcquire())
		defer global.Release()

		_, response := getHealth(t, NewHealthController(db, "1.0.0").WithAdmission(global))

		assert.Equal(t, "1/4 tokens in use", response.Checks["admission"])
	})
}
