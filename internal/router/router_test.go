package router_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appointmenthandler "github.com/jwalitptl/clinic-api/internal/handler/appointment"
	dashboardhandler "github.com/jwalitptl/clinic-api/internal/handler/dashboard"
	"github.com/jwalitptl/clinic-api/internal/handler/health"
	inventoryhandler "github.com/jwalitptl/clinic-api/internal/handler/inventory"
	invoicehandler "github.com/jwalitptl/clinic-api/internal/handler/invoice"
	patienthandler "github.com/jwalitptl/clinic-api/internal/handler/patient"
	promhandler "github.com/jwalitptl/clinic-api/internal/handler/prometheus"
	recordhandler "github.com/jwalitptl/clinic-api/internal/handler/record"
	schedulehandler "github.com/jwalitptl/clinic-api/internal/handler/schedule"
	"github.com/jwalitptl/clinic-api/internal/handler/system"
	workflowhandler "github.com/jwalitptl/clinic-api/internal/handler/workflow"
	"github.com/jwalitptl/clinic-api/internal/middleware"
	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/notification"
	"github.com/jwalitptl/clinic-api/internal/router"
	"github.com/jwalitptl/clinic-api/internal/service/appointment"
	"github.com/jwalitptl/clinic-api/internal/service/billing"
	"github.com/jwalitptl/clinic-api/internal/service/dashboard"
	"github.com/jwalitptl/clinic-api/internal/service/inventory"
	"github.com/jwalitptl/clinic-api/internal/service/medical"
	"github.com/jwalitptl/clinic-api/internal/service/patient"
	"github.com/jwalitptl/clinic-api/internal/service/schedule"
	"github.com/jwalitptl/clinic-api/internal/service/servicetest"
	"github.com/jwalitptl/clinic-api/internal/service/workflow"
	"github.com/jwalitptl/clinic-api/pkg/auth"
	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/messaging"
)

type apiResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Errors  []struct {
		Field   string `json:"field"`
		Message string `json:"message"`
	} `json:"errors"`
}

type testServer struct {
	t      *testing.T
	env    *servicetest.Env
	engine *gin.Engine
	jwt    auth.JWTService
}

func newTestServer(t *testing.T, tweak ...func(*router.RouterConfig)) *testServer {
	t.Helper()
	env := servicetest.New(t)
	log := logger.Nop()
	registry := prometheus.NewRegistry()
	notices := notification.NewService(messaging.NewMemoryBroker(), log)
	t.Cleanup(notices.Wait)

	workflows := workflow.NewService(env.Gateway.Workflows, env.Cache, log)
	handlers := router.Handlers{
		Health:       health.NewHandler(env.Gateway.Health),
		Metrics:      promhandler.New(registry),
		Patients:     patienthandler.NewHandler(patient.NewService(env.Gateway.Patients, env.Cache, log)),
		Records:      recordhandler.NewHandler(medical.NewService(env.Gateway.Records, nil, env.Cache, log)),
		Appointments: appointmenthandler.NewHandler(appointment.NewService(env.Gateway.Appointments, env.Cache, log)),
		Invoices:     invoicehandler.NewHandler(billing.NewService(env.Gateway, workflows, notices, env.Cache, log)),
		Workflows:    workflowhandler.NewHandler(workflows),
		Inventory:    inventoryhandler.NewHandler(inventory.NewService(env.Gateway.Inventory, env.Cache, log)),
		Schedules:    schedulehandler.NewHandler(schedule.NewService(env.Gateway.Schedules, env.Cache, log)),
		System:       system.NewHandler(env.Cache, notices),
		Dashboard:    dashboardhandler.NewHandler(dashboard.NewService(env.Gateway, env.Cache, log)),
	}

	config := router.RouterConfig{
		Logger:           log.Zerolog(),
		Registerer:       registry,
		MetricsNamespace: "clinic",
		RequestTimeout:   5 * time.Second,
		CORSConfig: middleware.CORSConfig{
			AllowOrigins: []string{"*"},
			AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders: []string{"Authorization", "Content-Type"},
		},
		Security: middleware.DefaultSecurityConfig(),
	}
	for _, fn := range tweak {
		fn(&config)
	}

	jwtSvc := auth.NewJWTService("test-secret", "clinic-api")
	r := router.NewRouter(middleware.NewAuthMiddleware(jwtSvc), handlers, config)
	return &testServer{t: t, env: env, engine: r.Engine(), jwt: jwtSvc}
}

func (s *testServer) token(role model.Role) string {
	s.t.Helper()
	tok, err := s.jwt.Issue(model.Actor{UserID: uuid.New(), Role: role}, time.Hour)
	require.NoError(s.t, err)
	return tok
}

func (s *testServer) makeRequest(method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, data interface{}) apiResponse {
	t.Helper()
	var resp apiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	if data != nil {
		require.NoError(t, json.Unmarshal(resp.Data, data))
	}
	return resp
}

func (s *testServer) createPatient(token string) model.Patient {
	s.t.Helper()
	rec := s.makeRequest(http.MethodPost, "/api/v1/patients", map[string]interface{}{
		"first_name":    "Ada",
		"last_name":     "Lovelace",
		"phone":         "+15550100",
		"gender":        "female",
		"date_of_birth": "1990-01-01T00:00:00Z",
	}, token)
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	var p model.Patient
	decode(s.t, rec, &p)
	return p
}

func TestHealthIsPublic(t *testing.T) {
	s := newTestServer(t)

	rec := s.makeRequest(http.MethodGet, "/api/v1/health/live", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.makeRequest(http.MethodGet, "/api/v1/health/ready", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(middleware.HeaderXRequestID))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)

	rec := s.makeRequest(http.MethodGet, "/api/v1/patients", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.makeRequest(http.MethodGet, "/api/v1/patients", nil, "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "error", decode(t, rec, nil).Status)
}

func TestPatientLifecycle(t *testing.T) {
	s := newTestServer(t)
	token := s.token(model.RoleReceptionist)

	created := s.createPatient(token)
	assert.NotEqual(t, uuid.Nil, created.ID)

	rec := s.makeRequest(http.MethodGet, "/api/v1/patients?search=ada", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	var patients []model.Patient
	decode(t, rec, &patients)
	require.Len(t, patients, 1)
	assert.Equal(t, created.ID, patients[0].ID)

	rec = s.makeRequest(http.MethodPut, "/api/v1/patients/"+created.ID.String(),
		map[string]interface{}{"phone": "+15550199"}, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stored, err := s.env.Gateway.Patients.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "+15550199", stored.Phone)

	rec = s.makeRequest(http.MethodGet, "/api/v1/patients/not-a-uuid", nil, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	path := "/api/v1/patients/" + created.ID.String()
	rec = s.makeRequest(http.MethodGet, path, nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.makeRequest(http.MethodDelete, path, nil, token)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.makeRequest(http.MethodGet, path, nil, token)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestValidationErrorsAreReportedPerField(t *testing.T) {
	s := newTestServer(t)

	rec := s.makeRequest(http.MethodPost, "/api/v1/patients", map[string]interface{}{
		"first_name": "Ada",
		"gender":     "unknown",
	}, s.token(model.RoleReceptionist))

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decode(t, rec, nil)
	fields := map[string]bool{}
	for _, e := range resp.Errors {
		fields[e.Field] = true
	}
	assert.True(t, fields["last_name"])
	assert.True(t, fields["gender"])
	assert.Zero(t, s.env.Store.Writes())
}

func TestPaymentCompletesInvoiceAndWorkflow(t *testing.T) {
	s := newTestServer(t)
	token := s.token(model.RoleCashier)
	p := s.createPatient(token)

	rec := s.makeRequest(http.MethodPost, "/api/v1/invoices", map[string]interface{}{
		"patient_id":   p.ID,
		"invoice_type": "consultation",
		"items": []map[string]interface{}{
			{"description": "Consultation", "quantity": 1, "unit_price": 80},
		},
	}, token)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var inv model.Invoice
	decode(t, rec, &inv)
	assert.Equal(t, model.InvoiceStatusPending, inv.Status)

	rec = s.makeRequest(http.MethodPost, "/api/v1/invoices/"+inv.ID.String()+"/payments",
		map[string]interface{}{"amount": 80, "method": "cash"}, token)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var result model.PaymentResult
	decode(t, rec, &result)
	assert.Equal(t, model.InvoiceStatusPaid, result.Invoice.Status)

	w, err := s.env.Gateway.Workflows.GetByInvoice(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WorkflowPaymentCompleted, w.Status)

	// A paid invoice is immutable.
	rec = s.makeRequest(http.MethodPut, "/api/v1/invoices/"+inv.ID.String(),
		map[string]interface{}{"notes": "late edit"}, token)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSkippedWorkflowStepIsAConflict(t *testing.T) {
	s := newTestServer(t)
	token := s.token(model.RoleCashier)
	p := s.createPatient(token)

	rec := s.makeRequest(http.MethodPost, "/api/v1/invoices", map[string]interface{}{
		"patient_id":   p.ID,
		"invoice_type": "consultation",
		"items": []map[string]interface{}{
			{"description": "Consultation", "quantity": 1, "unit_price": 50},
		},
	}, token)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var inv model.Invoice
	decode(t, rec, &inv)

	w, err := s.env.Gateway.Workflows.GetByInvoice(context.Background(), inv.ID)
	require.NoError(t, err)

	rec = s.makeRequest(http.MethodPost, "/api/v1/workflows/"+w.ID.String()+"/advance",
		map[string]interface{}{"status": "in-progress"}, s.token(model.RoleDoctor))
	assert.Equal(t, http.StatusConflict, rec.Code)

	stored, err := s.env.Gateway.Workflows.Get(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WorkflowPaymentPending, stored.Status)
}

func TestDashboardIsAdminOnly(t *testing.T) {
	s := newTestServer(t)

	rec := s.makeRequest(http.MethodGet, "/api/v1/dashboard/stats", nil, s.token(model.RoleCashier))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.makeRequest(http.MethodGet, "/api/v1/dashboard/stats", nil, s.token(model.RoleAdmin))
	require.Equal(t, http.StatusOK, rec.Code)
	var stats model.DashboardStats
	decode(t, rec, &stats)
	assert.Zero(t, stats.TotalPatients)
}

func TestCacheSignalsAndNotifications(t *testing.T) {
	s := newTestServer(t)
	token := s.token(model.RoleNurse)

	rec := s.makeRequest(http.MethodGet, "/api/v1/inventory", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.makeRequest(http.MethodPost, "/api/v1/cache/reconnect", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Signal    string `json:"signal"`
		Refetched int    `json:"refetched"`
	}
	decode(t, rec, &out)
	assert.Equal(t, "reconnect", out.Signal)
	assert.GreaterOrEqual(t, out.Refetched, 1)

	rec = s.makeRequest(http.MethodGet, "/api/v1/notifications?limit=5", nil, token)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.makeRequest(http.MethodGet, "/api/v1/notifications?limit=zero", nil, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.makeRequest(http.MethodGet, "/api/v1/health/live", nil, "")

	rec := s.makeRequest(http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "clinic_http_requests_total"))
}

func TestRateLimitRejectsBursts(t *testing.T) {
	s := newTestServer(t, func(c *router.RouterConfig) {
		c.RateLimitEnabled = true
		c.RateLimit = middleware.RateLimiterConfig{Rate: 1, Burst: 1}
	})

	assert.Equal(t, http.StatusOK, s.makeRequest(http.MethodGet, "/api/v1/health/live", nil, "").Code)
	rec := s.makeRequest(http.MethodGet, "/api/v1/health/live", nil, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}
