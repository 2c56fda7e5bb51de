package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldline/fence/internal/model"
	"github.com/fieldline/fence/internal/server"
	"github.com/fieldline/fence/internal/storage"
	"github.com/fieldline/fence/internal/testutil"
)

var testDB *storage.DB

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()

	db, err := tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "server test setup: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}
	testDB = db

	code := m.Run()
	db.Close()
	tc.Terminate()
	os.Exit(code)
}

func newTestHandler() http.Handler {
	srv := server.New(server.ServerConfig{
		DB:      testDB,
		Logger:  testutil.TestLogger(),
		Port:    0,
		Version: "test",
	})
	return srv.Handler()
}

func doGet(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var envelope map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return rec, envelope
}

func TestHealthEndpoint(t *testing.T) {
	rec, envelope := doGet(t, newTestHandler(), "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var data struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	require.NoError(t, json.Unmarshal(envelope["data"], &data))
	assert.Equal(t, "ok", data.Status)
	assert.Equal(t, "test", data.Version)
}

func TestTenantAuditEndpoint(t *testing.T) {
	ctx := context.Background()
	h := newTestHandler()

	tenant, err := testDB.CreateTenant(ctx, model.Tenant{Slug: "audit-endpoint", Name: "Audit Endpoint"})
	require.NoError(t, err)

	actorID := uuid.New()
	for i := 0; i < 3; i++ {
		require.NoError(t, testDB.InsertAuditRecord(ctx, model.AuditRecord{
			TenantID:   tenant.ID,
			ActorID:    actorID,
			Action:     "insert_jobs",
			EntityType: "jobs",
			Payload:    map[string]any{"seq": i},
		}))
	}

	rec, envelope := doGet(t, h, "/v1/tenants/"+tenant.ID.String()+"/audit?limit=2")
	assert.Equal(t, http.StatusOK, rec.Code)

	var data struct {
		Records []model.AuditRecord `json:"records"`
		Limit   int                 `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(envelope["data"], &data))
	assert.Len(t, data.Records, 2)
	assert.Equal(t, 2, data.Limit)
	for _, r := range data.Records {
		assert.Equal(t, tenant.ID, r.TenantID)
	}
}

func TestTenantAuditEndpointErrors(t *testing.T) {
	h := newTestHandler()

	rec, envelope := doGet(t, h, "/v1/tenants/not-a-uuid/audit")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var detail struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(envelope["error"], &detail))
	assert.Equal(t, model.ErrCodeBadRequest, detail.Code)

	rec, envelope = doGet(t, h, "/v1/tenants/"+uuid.NewString()+"/audit")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NoError(t, json.Unmarshal(envelope["error"], &detail))
	assert.Equal(t, model.ErrCodeNotFound, detail.Code)
}

func TestTenantSecurityEventsEndpoint(t *testing.T) {
	ctx := context.Background()
	h := newTestHandler()

	tenant, err := testDB.CreateTenant(ctx, model.Tenant{Slug: "sec-endpoint", Name: "Sec Endpoint"})
	require.NoError(t, err)

	require.NoError(t, testDB.InsertSecurityEvent(ctx, model.SecurityEvent{
		TenantID:  &tenant.ID,
		EventType: model.EventTenantMismatch,
		Source:    "guard",
	}))

	rec, envelope := doGet(t, h, "/v1/tenants/"+tenant.ID.String()+"/security-events")
	assert.Equal(t, http.StatusOK, rec.Code)

	var data struct {
		Events []model.SecurityEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(envelope["data"], &data))
	require.Len(t, data.Events, 1)
	assert.Equal(t, model.EventTenantMismatch, data.Events[0].EventType)
}

func TestGlobalSecurityEventsIncludeTenantlessAnomalies(t *testing.T) {
	ctx := context.Background()
	h := newTestHandler()

	// Missing-tenant anomalies carry no tenant id and only show up here.
	require.NoError(t, testDB.InsertSecurityEvent(ctx, model.SecurityEvent{
		EventType: model.EventMissingTenantID,
		Source:    "pipeline",
		Metadata:  map[string]any{"candidate": ""},
	}))

	rec, envelope := doGet(t, h, "/v1/security-events?type="+string(model.EventMissingTenantID))
	assert.Equal(t, http.StatusOK, rec.Code)

	var data struct {
		Events []model.SecurityEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(envelope["data"], &data))
	require.NotEmpty(t, data.Events)
	for _, ev := range data.Events {
		assert.Equal(t, model.EventMissingTenantID, ev.EventType)
		assert.Nil(t, ev.TenantID)
	}
}
