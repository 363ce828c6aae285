package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/langchou/evgate/internal/cache"
	"github.com/langchou/evgate/internal/models"
	"github.com/langchou/evgate/internal/service"
	"github.com/langchou/evgate/internal/session"
	"github.com/langchou/evgate/pkg/ws"
)

func newTestEngine(t *testing.T) (*gin.Engine, *session.Store, *cache.Cache) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	sessions := session.NewStore(time.Hour)
	stateCache := cache.New()
	vehicleService := service.NewVehicleService(logger, nil, nil, stateCache)
	hub := ws.NewHub(logger, sessions, time.Minute, 5)

	h := NewHandler(logger, nil, vehicleService, sessions, hub)
	engine := gin.New()
	h.RegisterRoutes(engine)
	return engine, sessions, stateCache
}

func doRequest(engine *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestRequireTokenRejectsUnauthenticatedRequests(t *testing.T) {
	engine, sessions, _ := newTestEngine(t)
	sessions.Put(session.Session{Token: "tok-valid", Email: "rider@example.com", VehicleID: "bike-1"})

	testCases := []struct {
		name   string
		path   string
		token  string
		status int
	}{
		{"no header", "/api/vehicle/dashboard", "", http.StatusUnauthorized},
		{"unknown token", "/api/vehicle/dashboard", "totally-bogus-token", http.StatusUnauthorized},
		{"valid token", "/api/vehicle/dashboard", "tok-valid", http.StatusOK},
		{"state no header", "/api/vehicle/bike-1/state", "", http.StatusUnauthorized},
		{"state unknown token", "/api/vehicle/bike-1/state", "totally-bogus-token", http.StatusUnauthorized},
		{"state valid token", "/api/vehicle/bike-1/state", "tok-valid", http.StatusOK},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := doRequest(engine, tc.path, tc.token)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func TestRequireTokenRejectsExpiredToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	sessions := session.NewStore(30 * time.Millisecond)
	stateCache := cache.New()
	hub := ws.NewHub(logger, sessions, time.Minute, 5)
	h := NewHandler(logger, nil, service.NewVehicleService(logger, nil, nil, stateCache), sessions, hub)
	engine := gin.New()
	h.RegisterRoutes(engine)

	sessions.Put(session.Session{Token: "tok-short", Email: "rider@example.com", VehicleID: "bike-1"})
	assert.Equal(t, http.StatusOK, doRequest(engine, "/api/vehicle/dashboard", "tok-short").Code)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, http.StatusUnauthorized, doRequest(engine, "/api/vehicle/dashboard", "tok-short").Code)
}

func TestDashboardReturnsCachedVehicles(t *testing.T) {
	engine, sessions, stateCache := newTestEngine(t)
	sessions.Put(session.Session{Token: "tok-valid", Email: "rider@example.com", VehicleID: "bike-1"})
	stateCache.MergeTelemetry("bike-1", models.TelemetrySample{Speed: 25, SOC: 80})

	w := doRequest(engine, "/api/vehicle/dashboard", "tok-valid")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"bike-1"`)
	assert.Contains(t, w.Body.String(), `"speed":25`)
}
