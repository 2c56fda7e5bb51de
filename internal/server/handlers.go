package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/fieldline/fence/internal/model"
	"github.com/fieldline/fence/internal/storage"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db      *storage.DB
	logger  *slog.Logger
	version string
}

type healthResponse struct {
	Status  string    `json:"status"`
	Version string    `json:"version"`
	Time    time.Time `json:"time"`
}

// HandleHealth returns service health. It pings the database so orchestration
// probes see storage outages, not just process liveness.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Pool().Ping(r.Context()); err != nil {
		h.logger.Error("health check db ping failed", "error", err)
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternal, "database unreachable")
		return
	}
	writeJSON(w, r, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: h.version,
		Time:    time.Now().UTC(),
	})
}

// HandleTenantAudit returns a tenant's audit trail, newest first.
func (h *Handlers) HandleTenantAudit(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantFromPath(w, r)
	if !ok {
		return
	}
	limit, offset := pagination(r)

	records, err := h.db.ListAuditRecords(r.Context(), tenantID, limit, offset)
	if err != nil {
		h.logger.Error("list audit records failed", "error", err, "tenant_id", tenantID)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "failed to list audit records")
		return
	}
	if records == nil {
		records = []model.AuditRecord{}
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"records": records,
		"limit":   limit,
		"offset":  offset,
	})
}

// HandleTenantSecurityEvents returns a tenant's security events, newest first.
func (h *Handlers) HandleTenantSecurityEvents(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantFromPath(w, r)
	if !ok {
		return
	}
	limit, offset := pagination(r)

	events, err := h.db.ListTenantSecurityEvents(r.Context(), tenantID, limit, offset)
	if err != nil {
		h.logger.Error("list tenant security events failed", "error", err, "tenant_id", tenantID)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "failed to list security events")
		return
	}
	if events == nil {
		events = []model.SecurityEvent{}
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"events": events,
		"limit":  limit,
		"offset": offset,
	})
}

// HandleSecurityEvents returns security events across all tenants, newest
// first. Optional ?type= filters by event type.
func (h *Handlers) HandleSecurityEvents(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	eventType := model.SecurityEventType(r.URL.Query().Get("type"))

	events, err := h.db.ListSecurityEvents(r.Context(), eventType, limit, offset)
	if err != nil {
		h.logger.Error("list security events failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "failed to list security events")
		return
	}
	if events == nil {
		events = []model.SecurityEvent{}
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"events": events,
		"limit":  limit,
		"offset": offset,
	})
}

// tenantFromPath parses and verifies the {tenant_id} path segment. Writes the
// error response itself when the id is malformed or unknown.
func (h *Handlers) tenantFromPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	tenantID, err := uuid.Parse(r.PathValue("tenant_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, "invalid tenant id")
		return uuid.Nil, false
	}
	if _, err := h.db.GetTenant(r.Context(), tenantID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "tenant not found")
			return uuid.Nil, false
		}
		h.logger.Error("get tenant failed", "error", err, "tenant_id", tenantID)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "failed to load tenant")
		return uuid.Nil, false
	}
	return tenantID, true
}

func pagination(r *http.Request) (limit, offset int) {
	limit = defaultPageLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = min(n, maxPageLimit)
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
