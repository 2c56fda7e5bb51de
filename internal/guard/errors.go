package guard

import (
	"errors"
	"fmt"
)

// StoreError wraps a failure from the underlying store. Surfaced to callers
// through the pipeline result; retry policy is the caller's concern.
type StoreError struct {
	Table string
	Op    string
	Err   error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("guard: %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsStore reports whether err is a StoreError.
func IsStore(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

// TenantMismatchError is returned in strict mode when an insert payload
// carries a tenant id that differs from the handle's bound tenant.
type TenantMismatchError struct {
	Table    string
	Bound    string
	Supplied string
}

func (e *TenantMismatchError) Error() string {
	return fmt.Sprintf("guard: payload tenant id %s does not match bound tenant %s on table %s",
		e.Supplied, e.Bound, e.Table)
}

// IsTenantMismatch reports whether err is a TenantMismatchError.
func IsTenantMismatch(err error) bool {
	var tme *TenantMismatchError
	return errors.As(err, &tme)
}
