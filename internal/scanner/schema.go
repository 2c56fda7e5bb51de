package scanner

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// createTableRe captures a CREATE TABLE statement's name and column body.
var createTableRe = regexp.MustCompile(
	`(?is)create\s+table\s+(?:if\s+not\s+exists\s+)?"?([a-z][a-z0-9_]*)"?\s*\((.*?)\)\s*;`)

// tenantColumnRe matches a NOT NULL tenant discriminator column inside a
// column body. Nullable tenant columns are excluded on purpose: a table
// whose rows may legitimately lack a tenant id (e.g. a security event log)
// is not tenant-scoped in the sense this scanner enforces.
var tenantColumnRe = regexp.MustCompile(
	`(?im)^\s*"?(tenant_id|org_id)"?\s+\S+[^,\n]*\bnot\s+null`)

// TenantScopedTables derives the set of tenant-scoped table names from the
// schema files under dir. A table is tenant-scoped when its CREATE TABLE
// statement declares a NOT NULL tenant_id (or org_id) column. Returned names
// are sorted and deduplicated.
func TenantScopedTables(fsys fs.FS, dir string) ([]string, error) {
	seen := map[string]bool{}

	err := fs.WalkDir(fsys, dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".sql") {
			return nil
		}

		content, err := fs.ReadFile(fsys, path)
		if err != nil {
			return fmt.Errorf("scanner: read schema file %s: %w", path, err)
		}

		for _, match := range createTableRe.FindAllSubmatch(content, -1) {
			name := strings.ToLower(string(match[1]))
			body := match[2]
			if tenantColumnRe.Match(body) {
				seen[name] = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanner: walk schema dir %s: %w", filepath.ToSlash(dir), err)
	}

	tables := make([]string, 0, len(seen))
	for name := range seen {
		tables = append(tables, name)
	}
	sort.Strings(tables)
	return tables, nil
}
