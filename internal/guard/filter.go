package guard

import (
	"fmt"
	"strings"

	"github.com/fieldline/fence/internal/model"
)

// validOps maps accepted filter operators to their SQL form. "in" compiles
// to = ANY so the value binds as a single array parameter.
var validOps = map[string]string{
	"=":  "=",
	"!=": "<>",
	"<":  "<",
	"<=": "<=",
	">":  ">",
	">=": ">=",
	"in": "in",
}

// validIdent checks a table or column identifier: lowercase snake_case,
// starting with a letter, at most 63 bytes (the Postgres identifier limit).
// Everything else is rejected before any SQL is assembled; values never
// appear in SQL text at all, only as bound parameters.
func validIdent(name string) bool {
	if len(name) == 0 || len(name) > 63 {
		return false
	}
	if name[0] < 'a' || name[0] > 'z' {
		return false
	}
	for i := 1; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_' {
			continue
		}
		return false
	}
	return true
}

// compileFilter renders a filter as a WHERE fragment with placeholder args
// starting at $argOffset. The fragment is parenthesized so the caller can
// AND it with the tenant condition without precedence surprises.
func compileFilter(f model.Filter, argOffset int) (string, []any, error) {
	if len(f) == 0 {
		return "", nil, nil
	}

	var (
		parts = make([]string, 0, len(f))
		args  = make([]any, 0, len(f))
	)
	for _, c := range f {
		if !validIdent(c.Column) {
			return "", nil, fmt.Errorf("guard: invalid filter column %q", c.Column)
		}
		op, ok := validOps[c.Op]
		if !ok {
			return "", nil, fmt.Errorf("guard: invalid filter operator %q", c.Op)
		}

		placeholder := fmt.Sprintf("$%d", argOffset+len(args))
		if op == "in" {
			parts = append(parts, fmt.Sprintf("%s = ANY(%s)", c.Column, placeholder))
		} else {
			parts = append(parts, fmt.Sprintf("%s %s %s", c.Column, op, placeholder))
		}
		args = append(args, c.Value)
	}

	return "(" + strings.Join(parts, " AND ") + ")", args, nil
}
