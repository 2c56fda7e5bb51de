package scanner

import (
	"fmt"
	"strings"
)

// FormatReport renders new violations as the numbered list the CI gate
// prints before failing the build.
func FormatReport(violations []Violation) string {
	if len(violations) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "found %d new unguarded tenant-scoped access(es):\n", len(violations))
	for i, v := range violations {
		fmt.Fprintf(&b, "%d. %s:%d [%s] %s\n", i+1, v.File, v.Line, v.Rule, v.Detail)
	}
	return b.String()
}
