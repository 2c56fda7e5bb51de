package model

// Cond is a single column comparison in a filter.
type Cond struct {
	Column string
	Op     string // one of =, !=, <, <=, >, >=, in
	Value  any
}

// Filter is an ordered list of conditions ANDed together. A filter can only
// narrow a query: the guard always appends its own tenant condition with a
// logical AND, so no filter can widen access past the tenant boundary.
type Filter []Cond

// Where starts a filter with one condition.
func Where(column, op string, value any) Filter {
	return Filter{{Column: column, Op: op, Value: value}}
}

// And appends a condition.
func (f Filter) And(column, op string, value any) Filter {
	return append(f, Cond{Column: column, Op: op, Value: value})
}
