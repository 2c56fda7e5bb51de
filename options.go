package fence

import (
	"log/slog"
	"time"
)

// Option configures a Client.
type Option func(*resolvedOptions)

type resolvedOptions struct {
	databaseURL       string
	logger            *slog.Logger
	source            string
	strict            bool
	runMigrations     bool
	auditWriteTimeout time.Duration
	auditMaxAttempts  int
}

func resolveOptions(opts []Option) resolvedOptions {
	o := resolvedOptions{
		logger:        slog.Default(),
		source:        "fence",
		runMigrations: true,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// WithDatabaseURL sets the Postgres connection string. Required.
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithSource names this client in security events it records. Defaults to
// "fence"; applications embedding multiple clients should name each one.
func WithSource(source string) Option {
	return func(o *resolvedOptions) { o.source = source }
}

// WithStrictTenantMismatch rejects inserts whose payload carries a tenant id
// differing from the validated one, instead of silently overwriting it.
func WithStrictTenantMismatch(strict bool) Option {
	return func(o *resolvedOptions) { o.strict = strict }
}

// WithMigrations controls whether New runs the bundled schema migrations.
// Defaults to true; disable when the deployment applies migrations itself.
func WithMigrations(run bool) Option {
	return func(o *resolvedOptions) { o.runMigrations = run }
}

// WithAuditWritePolicy tunes the best-effort audit sink: one write cycle is
// bounded by timeout and retried up to maxAttempts times. Zero values keep
// the defaults (5s, 3 attempts).
func WithAuditWritePolicy(timeout time.Duration, maxAttempts int) Option {
	return func(o *resolvedOptions) {
		o.auditWriteTimeout = timeout
		o.auditMaxAttempts = maxAttempts
	}
}
