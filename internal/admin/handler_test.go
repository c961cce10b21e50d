// internal/admin/handler_test.go
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"notification-outbox/internal/common/logger"
	"notification-outbox/internal/models"
	"notification-outbox/internal/outbox"
	"notification-outbox/internal/preference"
	"notification-outbox/internal/template"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Mock Implementations
// ==========================

type mockTicker struct {
	ticks int
}

func (m *mockTicker) RunTick(ctx context.Context) {
	m.ticks++
}

// ==========================
// Test Helper Functions
// ==========================

var entryColumnNames = []string{
	"id", "institute_id", "event_key", "to_email", "to_name", "template_key",
	"template_version", "payload", "dedup_key", "status", "attempts",
	"last_error", "scheduled_at", "sent_at", "provider_message_id",
	"created_at", "updated_at",
}

func newTestHandler(t *testing.T) (*Handler, sqlmock.Sqlmock, *mockTicker) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := logger.NewTestLogger(t)
	store := outbox.NewStore(db)
	registry := template.NewRegistry(db, log)
	gate := preference.NewGate(db, log)
	gateway := outbox.NewGateway(store, registry, log)
	ticker := &mockTicker{}

	return NewHandler(gateway, registry, gate, ticker, log), mock, ticker
}

func serve(h *Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

// ==========================
// Outbox Endpoint Tests
// ==========================

func TestHandler_ListOutbox(t *testing.T) {
	h, mock, _ := newTestHandler(t)

	now := time.Now().UTC()
	rows := sqlmock.NewRows(entryColumnNames).AddRow(
		"out-001", "inst-01", "fee.due", "priya@example.com", "Priya",
		"fee.reminder", 2, []byte(`{}`), "dk-1", "SENT", 1, "", now, now,
		"prov-1", now, now,
	)
	mock.ExpectQuery("SELECT (.+) FROM outbox_entries").
		WithArgs(models.StatusSent, 200, 0).
		WillReturnRows(rows)

	rec := serve(h, http.MethodGet, "/outbox?status=SENT", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Entries []models.OutboxEntry `json:"entries"`
		Count   int                  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "out-001", resp.Entries[0].ID)
}

func TestHandler_Stats(t *testing.T) {
	h, mock, _ := newTestHandler(t)

	mock.ExpectQuery("SELECT status, COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).AddRow("PENDING", 2))
	mock.ExpectQuery("SELECT COUNT(.+) FROM outbox_entries").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))
	mock.ExpectQuery("SELECT event_key, COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"event_key", "count"}).AddRow("fee.due", 2))

	rec := serve(h, http.MethodGet, "/outbox/stats", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	var stats models.QueueStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.ByStatus[models.StatusPending])
	assert.Equal(t, 5, stats.SentLast24)
}

func TestHandler_Retry_InvalidStateReturns409(t *testing.T) {
	h, mock, _ := newTestHandler(t)

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT (.+) FROM outbox_entries WHERE id").
		WithArgs("out-001").
		WillReturnRows(sqlmock.NewRows(entryColumnNames).AddRow(
			"out-001", "inst-01", "fee.due", "priya@example.com", "Priya",
			"fee.reminder", 2, []byte(`{}`), "dk-1", "SENT", 1, "", now, now,
			"prov-1", now, now,
		))

	rec := serve(h, http.MethodPost, "/outbox/out-001/retry", "")

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_STATE")
}

func TestHandler_Retry_NotFoundReturns404(t *testing.T) {
	h, mock, _ := newTestHandler(t)

	mock.ExpectQuery("SELECT (.+) FROM outbox_entries WHERE id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(entryColumnNames))

	rec := serve(h, http.MethodPost, "/outbox/missing/retry", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_ManualTick(t *testing.T) {
	h, _, ticker := newTestHandler(t)

	rec := serve(h, http.MethodPost, "/outbox/tick", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ticker.ticks)
}

// ==========================
// Template Endpoint Tests
// ==========================

func TestHandler_CreateTemplate(t *testing.T) {
	h, mock, _ := newTestHandler(t)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("welcome.email").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("INSERT INTO templates").
		WillReturnResult(sqlmock.NewResult(0, 1))

	body := `{"key":"welcome.email","subject":"Welcome {{name}}","htmlBody":"<p>Hi {{name}}</p>","variablesSchema":[{"name":"name","required":true}]}`
	rec := serve(h, http.MethodPost, "/templates", body)

	assert.Equal(t, http.StatusCreated, rec.Code)
	var tmpl models.Template
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tmpl))
	assert.Equal(t, 1, tmpl.Version)
	assert.True(t, tmpl.IsActive)
}

func TestHandler_CreateTemplate_MissingKeyReturns400(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := serve(h, http.MethodPost, "/templates", `{"subject":"no key"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_CreateTemplate_ConflictReturns409(t *testing.T) {
	h, mock, _ := newTestHandler(t)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("welcome.email").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	body := `{"key":"welcome.email","subject":"Welcome"}`
	rec := serve(h, http.MethodPost, "/templates", body)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "TEMPLATE_KEY_CONFLICT")
}

// ==========================
// Preference Endpoint Tests
// ==========================

func TestHandler_GetPreferences_LazyCreates(t *testing.T) {
	h, mock, _ := newTestHandler(t)

	now := time.Now().UTC()
	prefCols := []string{"recipient_id", "general_enabled", "digest_enabled", "reminders_enabled", "created_at", "updated_at"}
	mock.ExpectQuery("SELECT (.+) FROM notification_preferences").
		WithArgs("rec-001").
		WillReturnRows(sqlmock.NewRows(prefCols))
	mock.ExpectQuery("INSERT INTO notification_preferences").
		WithArgs("rec-001").
		WillReturnRows(sqlmock.NewRows(prefCols).AddRow("rec-001", true, true, true, now, now))

	rec := serve(h, http.MethodGet, "/preferences/rec-001", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	var pref models.Preference
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pref))
	assert.True(t, pref.GeneralEnabled)
}

func TestHandler_UpdatePreferences(t *testing.T) {
	h, mock, _ := newTestHandler(t)

	now := time.Now().UTC()
	prefCols := []string{"recipient_id", "general_enabled", "digest_enabled", "reminders_enabled", "created_at", "updated_at"}
	mock.ExpectQuery("SELECT (.+) FROM notification_preferences").
		WithArgs("rec-001").
		WillReturnRows(sqlmock.NewRows(prefCols).AddRow("rec-001", true, true, true, now, now))
	mock.ExpectQuery("UPDATE notification_preferences").
		WithArgs(false, true, true, "rec-001").
		WillReturnRows(sqlmock.NewRows(prefCols).AddRow("rec-001", false, true, true, now, now))

	rec := serve(h, http.MethodPatch, "/preferences/rec-001", `{"generalEnabled":false}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	var pref models.Preference
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pref))
	assert.False(t, pref.GeneralEnabled)
}

// ==========================
// Health Tests
// ==========================

func TestHandler_Healthz(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := serve(h, http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}
