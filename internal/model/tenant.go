package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Tenant represents an isolated customer/organization boundary. Every row of
// a tenant-scoped table carries exactly one tenant id, immutable after creation.
type Tenant struct {
	ID        uuid.UUID `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Membership records an actor's role within a single tenant. An actor may
// hold different roles in different tenants; lookups are always scoped by
// tenant id.
type Membership struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	ActorID   uuid.UUID `json:"actor_id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// ValidateSlug checks that a tenant slug conforms to the allowed format.
// Slugs must start with a lowercase letter and contain only lowercase
// alphanumeric characters and hyphens.
func ValidateSlug(slug string) error {
	if len(slug) == 0 {
		return fmt.Errorf("slug must not be empty")
	}
	if len(slug) > 64 {
		return fmt.Errorf("slug must be at most 64 characters")
	}
	if slug[0] < 'a' || slug[0] > 'z' {
		return fmt.Errorf("slug must start with a lowercase letter")
	}
	for i := 0; i < len(slug); i++ {
		c := slug[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' {
			continue
		}
		return fmt.Errorf("slug contains invalid character %q", c)
	}
	return nil
}
