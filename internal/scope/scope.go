// Package scope validates the claimed tenant identifier on every mutation.
//
// Nothing downstream of the guard runs without a validated tenant id: a
// missing or malformed candidate is recorded as a security event and the
// mutation is rejected before any query is constructed.
package scope

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/fieldline/fence/internal/model"
)

// maxCandidateLen bounds how much of a malformed candidate is copied into
// security event metadata.
const maxCandidateLen = 128

// MissingTenantError indicates that no valid tenant id could be resolved
// from the request. Fatal for the request; never retried.
type MissingTenantError struct {
	Candidate string
}

func (e *MissingTenantError) Error() string {
	if e.Candidate == "" {
		return "scope: missing tenant id"
	}
	return fmt.Sprintf("scope: malformed tenant id %q", e.Candidate)
}

// IsMissingTenant reports whether err is a MissingTenantError.
func IsMissingTenant(err error) bool {
	var mte *MissingTenantError
	return errors.As(err, &mte)
}

// SecurityEventRecorder records security anomalies. Satisfied by
// audit.Logger; recording is best-effort and never returns an error.
type SecurityEventRecorder interface {
	LogSecurityEvent(ctx context.Context, ev model.SecurityEvent)
}

// Guard validates claimed tenant identifiers.
type Guard struct {
	events SecurityEventRecorder
	logger *slog.Logger
	source string
}

// New creates a Guard. source names the component recorded on security
// events (e.g. "mutation_pipeline").
func New(events SecurityEventRecorder, logger *slog.Logger, source string) *Guard {
	return &Guard{events: events, logger: logger, source: source}
}

// RequireTenantID validates and normalizes a claimed tenant id.
//
// On an empty or malformed candidate it records a missing_tenant_id security
// event before returning MissingTenantError, so rejected attempts remain
// observable even though no mutation happens.
func (g *Guard) RequireTenantID(ctx context.Context, candidate string) (uuid.UUID, error) {
	trimmed := strings.TrimSpace(candidate)
	if trimmed != "" {
		if id, err := uuid.Parse(trimmed); err == nil && id != uuid.Nil {
			return id, nil
		}
	}

	truncated := trimmed
	if len(truncated) > maxCandidateLen {
		truncated = truncated[:maxCandidateLen]
	}

	g.logger.Warn("scope: rejected mutation without valid tenant id",
		"candidate", truncated, "source", g.source)

	g.events.LogSecurityEvent(ctx, model.SecurityEvent{
		EventType: model.EventMissingTenantID,
		Source:    g.source,
		Metadata:  map[string]any{"candidate": truncated},
	})

	return uuid.Nil, &MissingTenantError{Candidate: truncated}
}
