package scanner

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Baseline is the persisted set of previously accepted violations. It is
// read on every scan and rewritten only in the explicit baseline-write mode,
// never automatically: growing the baseline silently widens tolerated debt,
// so widening it takes a deliberate operator action.
type Baseline struct {
	entries    []Violation
	signatures map[string]bool
}

// Has reports whether v's signature is in the baseline. Equality is
// determined solely by (file, line, rule).
func (b *Baseline) Has(v Violation) bool {
	return b.signatures[v.Signature()]
}

// Entries returns the baseline's violations in persisted order.
func (b *Baseline) Entries() []Violation {
	return b.entries
}

// LoadBaseline reads the baseline file. A missing file is an empty baseline,
// not an error: a fresh tree simply has no accepted debt.
func LoadBaseline(path string) (*Baseline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Baseline{signatures: map[string]bool{}}, nil
		}
		return nil, fmt.Errorf("scanner: read baseline %s: %w", path, err)
	}

	var entries []Violation
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("scanner: parse baseline %s: %w", path, err)
	}

	b := &Baseline{entries: entries, signatures: make(map[string]bool, len(entries))}
	for _, v := range entries {
		b.signatures[v.Signature()] = true
	}
	return b, nil
}

// WriteBaseline overwrites the baseline file with the given violation set,
// ordered by (file, line, rule).
func WriteBaseline(path string, violations []Violation) error {
	sorted := make([]Violation, len(violations))
	copy(sorted, violations)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Rule < b.Rule
	})
	if sorted == nil {
		sorted = []Violation{}
	}

	data, err := json.MarshalIndent(sorted, "", "  ")
	if err != nil {
		return fmt.Errorf("scanner: marshal baseline: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("scanner: write baseline %s: %w", path, err)
	}
	return nil
}
