// Package scanner is the static isolation scanner: a CI gate that fails the
// build when new raw access to a tenant-scoped table appears outside the
// guarded mutation surface.
//
// Detection is a deliberate speed-over-precision tradeoff: the scanner looks
// for table-name tokens at raw access call sites and checks a bounded window
// of surrounding lines for guard evidence (a wrapper invocation or an
// explicit tenant filter). It is a heuristic CI gate, not a sound verifier.
// Previously accepted violations live in a baseline file and do not re-fail
// the build; anything new does.
package scanner

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Violation rule categories.
const (
	RuleMissingWrapper   = "missing-tenant-wrapper"
	RuleIDLookupNoTenant = "id-lookup-without-tenant-filter"
	RuleInsertNoTenant   = "insert-without-tenant-id"
)

// Violation is one unguarded access to a tenant-scoped table.
type Violation struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Rule   string `json:"rule"`
	Detail string `json:"detail"`
}

// Signature is the identity used to diff against the baseline. Detail is
// descriptive only and deliberately excluded.
func (v Violation) Signature() string {
	return fmt.Sprintf("%s:%d:%s", v.File, v.Line, v.Rule)
}

// Config tunes a scan.
type Config struct {
	// Root of the source tree to scan.
	Root string
	// SchemaDir holds the .sql files tenant-scoped tables are derived from,
	// relative to Root.
	SchemaDir string
	// BaselinePath is the baseline file, relative to Root.
	BaselinePath string
	// Window is the number of lines inspected on each side of a call site
	// for guard evidence.
	Window int
}

func (c Config) withDefaults() Config {
	if c.SchemaDir == "" {
		c.SchemaDir = "migrations"
	}
	if c.BaselinePath == "" {
		c.BaselinePath = ".fence-baseline.json"
	}
	if c.Window <= 0 {
		c.Window = 6
	}
	return c
}

// skipDirs are never descended into: vendored and generated trees have no
// business being gated.
var skipDirs = map[string]bool{
	".git":         true,
	"vendor":       true,
	"node_modules": true,
	"testdata":     true,
	"dist":         true,
	"build":        true,
	"_examples":    true,
}

// sourceExts are the file types scanned for raw access.
var sourceExts = map[string]bool{
	".go":  true,
	".sql": true,
	".ts":  true,
	".tsx": true,
	".js":  true,
}

// wrapperTokens are evidence that access goes through the guarded surface.
var wrapperTokens = []string{
	"TenantTable(",
	"SafeInsert",
	"SafeUpdate",
	"SafeDelete",
}

// tenantFilterRe is evidence of an explicit tenant filter near the call site.
var tenantFilterRe = regexp.MustCompile(`(?i)\b(tenant_id|org_id)\s*(=|!=|<>|\bin\b|=\s*any)`)

// tenantTokenRe is looser evidence used for inserts, where the tenant id
// appears in a column list rather than a comparison.
var tenantTokenRe = regexp.MustCompile(`(?i)\b(tenant_id|org_id)\b`)

// idLookupRe marks single-row lookups by primary key.
var idLookupRe = regexp.MustCompile(`(?i)\bid\s*(=|in\b)`)

// generatedRe marks generated files, which are skipped.
var generatedRe = regexp.MustCompile(`(?i)code generated|do not edit|@generated`)

// tableAccess holds the precompiled call-site patterns for one table.
type tableAccess struct {
	table    string
	insertRe *regexp.Regexp
	accessRe *regexp.Regexp
}

// Scanner scans one source tree for unguarded tenant-scoped access.
type Scanner struct {
	cfg    Config
	logger *slog.Logger
	tables []tableAccess
}

// New builds a Scanner, deriving the tenant-scoped table set from the schema
// directory under cfg.Root.
func New(cfg Config, logger *slog.Logger) (*Scanner, error) {
	cfg = cfg.withDefaults()

	names, err := TenantScopedTables(os.DirFS(cfg.Root), cfg.SchemaDir)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		logger.Warn("scanner: no tenant-scoped tables derived from schema", "schema_dir", cfg.SchemaDir)
	}

	tables := make([]tableAccess, 0, len(names))
	for _, name := range names {
		quoted := regexp.QuoteMeta(name)
		tables = append(tables, tableAccess{
			table: name,
			insertRe: regexp.MustCompile(
				`(?i)(insert\s+into\s+"?` + quoted + `"?\b|\.insert\(\s*['"]` + quoted + `['"])`),
			accessRe: regexp.MustCompile(
				`(?i)(from\s+"?` + quoted + `"?\b|update\s+"?` + quoted + `"?\b|\.(from|table|update|delete)\(\s*['"]` + quoted + `['"])`),
		})
	}

	return &Scanner{cfg: cfg, logger: logger, tables: tables}, nil
}

// Tables returns the derived tenant-scoped table names.
func (s *Scanner) Tables() []string {
	names := make([]string, len(s.tables))
	for i, t := range s.tables {
		names[i] = t.table
	}
	return names
}

// ScanResult is the outcome of one scan.
type ScanResult struct {
	// All is the full, ordered violation set for the tree.
	All []Violation
	// New is the subset whose signatures are absent from the baseline.
	// Only these fail the build.
	New []Violation
}

// Scan walks the source tree once and diffs the violation set against the
// baseline. The scan is deterministic: unchanged source and baseline always
// yield identical results.
func (s *Scanner) Scan() (*ScanResult, error) {
	baseline, err := LoadBaseline(filepath.Join(s.cfg.Root, s.cfg.BaselinePath))
	if err != nil {
		return nil, err
	}

	all, err := s.collect()
	if err != nil {
		return nil, err
	}

	result := &ScanResult{All: all}
	for _, v := range all {
		if !baseline.Has(v) {
			result.New = append(result.New, v)
		}
	}
	return result, nil
}

// collect gathers the full violation set for the tree, ordered by
// (file, line, rule).
func (s *Scanner) collect() ([]Violation, error) {
	var violations []Violation

	err := filepath.WalkDir(s.cfg.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == s.cfg.Root {
				return nil
			}
			if skipDirs[d.Name()] || strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !sourceExts[filepath.Ext(path)] {
			return nil
		}

		rel, err := filepath.Rel(s.cfg.Root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		// Schema files define the tables; they are not call sites.
		if strings.HasPrefix(rel, filepath.ToSlash(s.cfg.SchemaDir)+"/") {
			return nil
		}

		vs, err := s.scanFile(path, rel)
		if err != nil {
			return err
		}
		violations = append(violations, vs...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanner: walk source tree: %w", err)
	}

	sort.Slice(violations, func(i, j int) bool {
		a, b := violations[i], violations[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Rule < b.Rule
	})
	return violations, nil
}

// scanFile checks one file's call sites against every tenant-scoped table.
func (s *Scanner) scanFile(path, rel string) ([]Violation, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	if isGenerated(lines) {
		return nil, nil
	}

	var violations []Violation
	for i, line := range lines {
		for _, t := range s.tables {
			isInsert := t.insertRe.MatchString(line)
			if !isInsert && !t.accessRe.MatchString(line) {
				continue
			}

			window := s.window(lines, i)
			if hasWrapperToken(window) {
				continue
			}

			rule := s.classify(isInsert, window)
			if rule == "" {
				continue
			}
			violations = append(violations, Violation{
				File:   rel,
				Line:   i + 1,
				Rule:   rule,
				Detail: fmt.Sprintf("raw access to tenant-scoped table %q: %s", t.table, strings.TrimSpace(line)),
			})
		}
	}
	return violations, nil
}

// classify decides the rule category for an unwrapped call site, or returns
// "" when the window carries sufficient guard evidence.
func (s *Scanner) classify(isInsert bool, window string) string {
	if isInsert {
		// An insert is guarded when the tenant id appears anywhere nearby:
		// in a column list, a struct field, or a named parameter.
		if tenantTokenRe.MatchString(window) {
			return ""
		}
		return RuleInsertNoTenant
	}

	if tenantFilterRe.MatchString(window) {
		return ""
	}
	if idLookupRe.MatchString(window) {
		return RuleIDLookupNoTenant
	}
	return RuleMissingWrapper
}

// window joins the lines around index i, bounded by the configured size.
func (s *Scanner) window(lines []string, i int) string {
	lo := i - s.cfg.Window
	if lo < 0 {
		lo = 0
	}
	hi := i + s.cfg.Window + 1
	if hi > len(lines) {
		hi = len(lines)
	}
	return strings.Join(lines[lo:hi], "\n")
}

func hasWrapperToken(window string) bool {
	for _, token := range wrapperTokens {
		if strings.Contains(window, token) {
			return true
		}
	}
	return false
}

func isGenerated(lines []string) bool {
	limit := 5
	if len(lines) < limit {
		limit = len(lines)
	}
	for _, line := range lines[:limit] {
		if generatedRe.MatchString(line) {
			return true
		}
	}
	return false
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("scanner: open %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scanner: read %s: %w", path, err)
	}
	return lines, nil
}
