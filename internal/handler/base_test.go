package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-api/internal/model"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testContext(method, target, body string) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		c.Request.Header.Set("Content-Type", "application/json")
	}
	return c, w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestParamID(t *testing.T) {
	id := uuid.New()
	c, _ := testContext(http.MethodGet, "/", "")
	c.Params = gin.Params{{Key: "id", Value: id.String()}}
	got, ok := ParamID(c, "id")
	require.True(t, ok)
	assert.Equal(t, id, got)

	c, w := testContext(http.MethodGet, "/", "")
	c.Params = gin.Params{{Key: "id", Value: "nope"}}
	_, ok = ParamID(c, "id")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid id", decodeResponse(t, w).Message)
}

func TestQueryHelpers(t *testing.T) {
	c, _ := testContext(http.MethodGet, "/?status=paid", "")
	status, ok := QueryEnum(c, "status", model.ParseInvoiceStatus)
	require.True(t, ok)
	assert.Equal(t, model.InvoiceStatusPaid, status)

	id, ok := QueryID(c, "patient_id")
	require.True(t, ok)
	assert.Nil(t, id)

	c, w := testContext(http.MethodGet, "/?status=refunded", "")
	_, ok = QueryEnum(c, "status", model.ParseInvoiceStatus)
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c, w = testContext(http.MethodGet, "/?patient_id=123", "")
	_, ok = QueryID(c, "patient_id")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueryRange(t *testing.T) {
	c, _ := testContext(http.MethodGet, "/?from=2024-03-10&to=2024-03-12", "")
	r, ok := QueryRange(c)
	require.True(t, ok)
	assert.Equal(t, 10, r.From.Day())
	assert.Equal(t, 12, r.To.Day())

	c, w := testContext(http.MethodGet, "/?from=2024-03-12&to=2024-03-10", "")
	_, ok = QueryRange(c)
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c, w = testContext(http.MethodGet, "/?from=yesterday", "")
	_, ok = QueryRange(c)
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBindJSONReportsFields(t *testing.T) {
	var req model.RecordPaymentRequest
	c, w := testContext(http.MethodPost, "/", `{}`)
	assert.False(t, BindJSON(c, &req))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	resp := decodeResponse(t, w)
	assert.Equal(t, "validation failed", resp.Message)
	assert.NotEmpty(t, resp.Errors)

	c, w = testContext(http.MethodPost, "/", `{"amount":`)
	assert.False(t, BindJSON(c, &req))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRespondErrorHidesInternalDetail(t *testing.T) {
	c, w := testContext(http.MethodGet, "/", "")
	RespondError(c, apperrors.Internal(assert.AnError))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal server error", decodeResponse(t, w).Message)
	assert.Len(t, c.Errors, 1)

	c, w = testContext(http.MethodGet, "/", "")
	RespondError(c, apperrors.NotFound("patient", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, c.Errors)
}
