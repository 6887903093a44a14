package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rdmaulana/fcm-notification-service/internal/models"
	"github.com/rdmaulana/fcm-notification-service/pkg/logger"
	"github.com/rdmaulana/fcm-notification-service/pkg/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type memoryFinder map[string]*models.DeliveryRecord

func (m memoryFinder) FindByIdentifier(_ context.Context, id string) (*models.DeliveryRecord, error) {
	if id == "boom" {
		return nil, errors.New("db gone")
	}
	return m[id], nil
}

func newTestRouter(checks ...HealthCheck) *gin.Engine {
	at := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	m := metrics.New()
	m.IncConsumed()
	return NewRouter(Options{
		Name:    "fcm_service",
		Metrics: m,
		Checks:  checks,
		Deliveries: memoryFinder{
			"abc-1": {Identifier: "abc-1", DeliverAt: at, CreatedAt: at},
		},
		Logger:  logger.Discard(),
		Started: time.Now(),
	})
}

func get(t *testing.T, router http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return rec, body
}

func healthyChecks() []HealthCheck {
	return []HealthCheck{
		StatusCheck("rabbitmq", func() (string, bool) { return "connected", true }),
		PingCheck("database", pingFunc(func(context.Context) error { return nil })),
		InitializedCheck("fcm", true),
	}
}

func TestRootListsEndpoints(t *testing.T) {
	rec, body := get(t, newTestRouter(), "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["name"] != "fcm_service" || body["version"] != Version {
		t.Errorf("body = %v", body)
	}
	endpoints, _ := body["endpoints"].(map[string]any)
	if endpoints["health"] != "/health" {
		t.Errorf("endpoints = %v", endpoints)
	}
}

func TestHealthAllUp(t *testing.T) {
	rec, body := get(t, newTestRouter(healthyChecks()...), "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %v", body["status"])
	}
	services := body["services"].(map[string]any)
	want := map[string]string{"rabbitmq": "connected", "database": "connected", "fcm": "initialized"}
	for k, v := range want {
		if services[k] != v {
			t.Errorf("services[%s] = %v, want %s", k, services[k], v)
		}
	}
	if _, ok := body["details"]; ok {
		t.Error("healthy report carries details")
	}
}

func TestHealthReportsFailures(t *testing.T) {
	router := newTestRouter(
		StatusCheck("rabbitmq", func() (string, bool) { return "disconnected", false }),
		PingCheck("database", pingFunc(func(context.Context) error { return errors.New("connection refused") })),
		InitializedCheck("fcm", true),
	)
	rec, body := get(t, router, "/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["status"] != "unhealthy" {
		t.Errorf("status = %v", body["status"])
	}
	services := body["services"].(map[string]any)
	if services["rabbitmq"] != "disconnected" || services["database"] != "disconnected" {
		t.Errorf("services = %v", services)
	}
	details := body["details"].(map[string]any)
	if details["database"] != "connection refused" {
		t.Errorf("details = %v", details)
	}
	if _, ok := details["fcm"]; ok {
		t.Error("healthy component listed in details")
	}
}

func TestHealthUninitializedGateway(t *testing.T) {
	checks := healthyChecks()
	checks[2] = InitializedCheck("fcm", false)
	rec, body := get(t, newTestRouter(checks...), "/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["services"].(map[string]any)["fcm"] != "not_initialized" {
		t.Errorf("body = %v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rec, _ := get(t, newTestRouter(), "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "fcm_messages_consumed_total 1") {
		t.Errorf("metrics body missing counter:\n%s", rec.Body.String())
	}
}

func TestDeliveryLookup(t *testing.T) {
	router := newTestRouter()

	rec, body := get(t, router, "/deliveries/abc-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["identifier"] != "abc-1" || body["deliverAt"] != "2026-10-18T08:00:00.000Z" {
		t.Errorf("body = %v", body)
	}

	rec, _ = get(t, router, "/deliveries/missing")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing status = %d", rec.Code)
	}

	rec, _ = get(t, router, "/deliveries/boom")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("error status = %d", rec.Code)
	}
}
