package scanner_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldline/fence/internal/scanner"
)

const testSchema = `
CREATE TABLE IF NOT EXISTS jobs (
    id         UUID PRIMARY KEY,
    tenant_id  UUID NOT NULL,
    status     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS vehicles (
    id        UUID PRIMARY KEY,
    tenant_id UUID NOT NULL,
    plate     TEXT NOT NULL
);

-- Nullable tenant column: not tenant-scoped for scanning purposes.
CREATE TABLE IF NOT EXISTS incidents (
    id        UUID PRIMARY KEY,
    tenant_id UUID,
    note      TEXT
);

-- No tenant column at all.
CREATE TABLE IF NOT EXISTS regions (
    id   UUID PRIMARY KEY,
    name TEXT NOT NULL
);
`

// writeTree lays out a scannable source tree in a temp dir.
func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()

	files["migrations/001_schema.sql"] = testSchema
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func newScanner(t *testing.T, root string) *scanner.Scanner {
	t.Helper()
	s, err := scanner.New(scanner.Config{Root: root}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return s
}

func TestTenantScopedTablesRequireNotNullTenantColumn(t *testing.T) {
	root := writeTree(t, map[string]string{})

	s := newScanner(t, root)
	assert.Equal(t, []string{"jobs", "vehicles"}, s.Tables())
}

func TestScanReportsRawUnguardedAccess(t *testing.T) {
	root := writeTree(t, map[string]string{
		"internal/reports/weekly.go": `package reports

func weeklyJobs(db DB) error {
	rows, err := db.Query(ctx, "SELECT * FROM jobs WHERE status = 'open'")
	_ = rows
	return err
}
`,
	})

	result, err := newScanner(t, root).Scan()
	require.NoError(t, err)

	require.Len(t, result.New, 1)
	v := result.New[0]
	assert.Equal(t, "internal/reports/weekly.go", v.File)
	assert.Equal(t, scanner.RuleMissingWrapper, v.Rule)
	assert.Contains(t, v.Detail, "jobs")
}

func TestScanAcceptsWrapperGuardedAccess(t *testing.T) {
	root := writeTree(t, map[string]string{
		"internal/jobs/create.go": `package jobs

func create(p *pipeline.Pipeline) {
	handle, _ := guard.TenantTable(db, tenantID, "jobs", opts)
	res := p.SafeInsert(ctx, req, roles)
	_ = res
}
`,
	})

	result, err := newScanner(t, root).Scan()
	require.NoError(t, err)
	assert.Empty(t, result.All)
}

func TestScanAcceptsExplicitTenantFilter(t *testing.T) {
	root := writeTree(t, map[string]string{
		"internal/jobs/list.go": `package jobs

func list(db DB, tenantID uuid.UUID) error {
	rows, err := db.Query(ctx,
		"SELECT id, status FROM jobs WHERE tenant_id = $1 AND status = $2",
		tenantID, "open")
	_ = rows
	return err
}
`,
	})

	result, err := newScanner(t, root).Scan()
	require.NoError(t, err)
	assert.Empty(t, result.All)
}

func TestScanClassifiesIDLookupWithoutTenantFilter(t *testing.T) {
	root := writeTree(t, map[string]string{
		"internal/jobs/get.go": `package jobs

func get(db DB, id uuid.UUID) error {
	row := db.QueryRow(ctx, "SELECT status FROM jobs WHERE id = $1", id)
	_ = row
	return nil
}
`,
	})

	result, err := newScanner(t, root).Scan()
	require.NoError(t, err)
	require.Len(t, result.New, 1)
	assert.Equal(t, scanner.RuleIDLookupNoTenant, result.New[0].Rule)
}

func TestScanClassifiesInsertWithoutTenantID(t *testing.T) {
	root := writeTree(t, map[string]string{
		"internal/vehicles/add.go": `package vehicles

func add(db DB, plate string) error {
	_, err := db.Exec(ctx, "INSERT INTO vehicles (id, plate) VALUES ($1, $2)", uuid.New(), plate)
	return err
}
`,
	})

	result, err := newScanner(t, root).Scan()
	require.NoError(t, err)
	require.Len(t, result.New, 1)
	assert.Equal(t, scanner.RuleInsertNoTenant, result.New[0].Rule)
}

func TestScanInsertWithTenantIDInColumnListIsGuarded(t *testing.T) {
	root := writeTree(t, map[string]string{
		"internal/vehicles/add.go": `package vehicles

func add(db DB, tenantID uuid.UUID, plate string) error {
	_, err := db.Exec(ctx,
		"INSERT INTO vehicles (id, tenant_id, plate) VALUES ($1, $2, $3)",
		uuid.New(), tenantID, plate)
	return err
}
`,
	})

	result, err := newScanner(t, root).Scan()
	require.NoError(t, err)
	assert.Empty(t, result.All)
}

func TestScanIgnoresNonScopedTables(t *testing.T) {
	root := writeTree(t, map[string]string{
		"internal/regions/list.go": `package regions

func list(db DB) error {
	rows, err := db.Query(ctx, "SELECT * FROM regions")
	_ = rows
	return err
}

func incidents(db DB) error {
	rows, err := db.Query(ctx, "SELECT * FROM incidents")
	_ = rows
	return err
}
`,
	})

	result, err := newScanner(t, root).Scan()
	require.NoError(t, err)
	assert.Empty(t, result.All)
}

func TestScanSkipsVendorAndGeneratedFiles(t *testing.T) {
	root := writeTree(t, map[string]string{
		"vendor/dep/query.go": `package dep

var q = "SELECT * FROM jobs"
`,
		"internal/gen/queries.go": `// Code generated by sqlgen. DO NOT EDIT.
package gen

var q = "SELECT * FROM jobs"
`,
	})

	result, err := newScanner(t, root).Scan()
	require.NoError(t, err)
	assert.Empty(t, result.All)
}

func TestScanIdempotent(t *testing.T) {
	root := writeTree(t, map[string]string{
		"internal/reports/weekly.go": `package reports

var q = "SELECT * FROM jobs"
var q2 = "DELETE FROM vehicles"
`,
	})
	s := newScanner(t, root)

	first, err := s.Scan()
	require.NoError(t, err)
	second, err := s.Scan()
	require.NoError(t, err)

	assert.Equal(t, first.All, second.All)
	assert.Equal(t, first.New, second.New)
}

func TestBaselineSuppressesKnownViolations(t *testing.T) {
	root := writeTree(t, map[string]string{
		"internal/reports/weekly.go": `package reports

var q = "SELECT * FROM jobs"
`,
	})
	s := newScanner(t, root)

	// First scan: the violation is new.
	result, err := s.Scan()
	require.NoError(t, err)
	require.Len(t, result.New, 1)

	// Accept the debt by writing the baseline.
	baselinePath := filepath.Join(root, ".fence-baseline.json")
	require.NoError(t, scanner.WriteBaseline(baselinePath, result.All))

	// Second scan: still present in the full set, no longer new.
	result, err = s.Scan()
	require.NoError(t, err)
	assert.Len(t, result.All, 1)
	assert.Empty(t, result.New)

	// Removing the baseline entry resurfaces the violation as new.
	require.NoError(t, scanner.WriteBaseline(baselinePath, nil))
	result, err = s.Scan()
	require.NoError(t, err)
	assert.Len(t, result.New, 1)
}

func TestBaselineEqualityIgnoresDetail(t *testing.T) {
	root := writeTree(t, map[string]string{
		"internal/reports/weekly.go": `package reports

var q = "SELECT * FROM jobs"
`,
	})
	s := newScanner(t, root)

	result, err := s.Scan()
	require.NoError(t, err)
	require.Len(t, result.New, 1)

	// Baseline the violation with a different detail string: the signature
	// (file, line, rule) still matches.
	entry := result.New[0]
	entry.Detail = "accepted legacy report query"
	baselinePath := filepath.Join(root, ".fence-baseline.json")
	require.NoError(t, scanner.WriteBaseline(baselinePath, []scanner.Violation{entry}))

	result, err = s.Scan()
	require.NoError(t, err)
	assert.Empty(t, result.New)
}

func TestLoadBaselineMissingFileIsEmpty(t *testing.T) {
	b, err := scanner.LoadBaseline(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Empty(t, b.Entries())
}

func TestWriteBaselineOrdersEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "baseline.json")
	require.NoError(t, scanner.WriteBaseline(path, []scanner.Violation{
		{File: "b.go", Line: 10, Rule: scanner.RuleMissingWrapper},
		{File: "a.go", Line: 20, Rule: scanner.RuleMissingWrapper},
		{File: "a.go", Line: 5, Rule: scanner.RuleInsertNoTenant},
	}))

	b, err := scanner.LoadBaseline(path)
	require.NoError(t, err)

	entries := b.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "a.go", entries[0].File)
	assert.Equal(t, 5, entries[0].Line)
	assert.Equal(t, "a.go", entries[1].File)
	assert.Equal(t, "b.go", entries[2].File)
}

func TestFormatReportNumbersViolations(t *testing.T) {
	out := scanner.FormatReport([]scanner.Violation{
		{File: "a.go", Line: 5, Rule: scanner.RuleMissingWrapper, Detail: "raw access"},
		{File: "b.go", Line: 9, Rule: scanner.RuleInsertNoTenant, Detail: "insert"},
	})

	assert.Contains(t, out, "1. a.go:5")
	assert.Contains(t, out, "2. b.go:9")
	assert.Contains(t, out, scanner.RuleMissingWrapper)

	assert.Empty(t, scanner.FormatReport(nil))
}
