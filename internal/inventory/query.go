package inventory

import (
	"fmt"
	"regexp"
	"strings"
)

// identPattern restricts column names interpolated into SQL. Values are
// always bound as parameters; only identifiers pass through this gate.
var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// cond is one rendered WHERE fragment with its bound arguments.
type cond struct {
	sql  string
	args []any
}

// Query is a small conditions builder over the inventory table. It exists
// so the filter service can rewrite a downstream query without knowing SQL,
// and so "guaranteed zero rows" is a typed variant instead of a magic
// predicate.
type Query struct {
	conds         []cond
	unsatisfiable bool
	err           error
}

// NewQuery returns a query matching every non-deleted inventory record.
func NewQuery() *Query {
	return &Query{}
}

// setErr records the first builder error; SQL() surfaces it.
func (q *Query) setErr(err error) *Query {
	if q.err == nil {
		q.err = err
	}

	return q
}

// checkIdent validates a column identifier.
func (q *Query) checkIdent(col string) bool {
	if !identPattern.MatchString(col) {
		q.setErr(fmt.Errorf("inventory: invalid column identifier %q", col))
		return false
	}

	return true
}

// WhereEq adds an equality condition.
func (q *Query) WhereEq(col string, val any) *Query {
	if !q.checkIdent(col) {
		return q
	}

	q.conds = append(q.conds, cond{sql: col + " = ?", args: []any{val}})

	return q
}

// WhereIn adds a set-membership condition. An empty value set produces an
// unsatisfiable query — membership in the empty set matches nothing.
func (q *Query) WhereIn(col string, vals []string) *Query {
	if !q.checkIdent(col) {
		return q
	}

	if len(vals) == 0 {
		return q.MarkUnsatisfiable()
	}

	placeholders := strings.Repeat("?, ", len(vals)-1) + "?"
	args := make([]any, len(vals))

	for i, v := range vals {
		args[i] = v
	}

	q.conds = append(q.conds, cond{sql: col + " IN (" + placeholders + ")", args: args})

	return q
}

// InSet is one disjunct of WhereAnyIn: membership of col in vals.
type InSet struct {
	Col  string
	Vals []string
}

// WhereAnyIn adds a disjunction of set-membership conditions: the row
// matches when any listed column holds one of its set's values. Sets with
// no values are dropped; when every set is empty the query is unsatisfiable.
func (q *Query) WhereAnyIn(sets ...InSet) *Query {
	var (
		parts []string
		args  []any
	)

	for _, set := range sets {
		if !q.checkIdent(set.Col) {
			return q
		}

		if len(set.Vals) == 0 {
			continue
		}

		placeholders := strings.Repeat("?, ", len(set.Vals)-1) + "?"
		parts = append(parts, set.Col+" IN ("+placeholders+")")

		for _, v := range set.Vals {
			args = append(args, v)
		}
	}

	if len(parts) == 0 {
		return q.MarkUnsatisfiable()
	}

	q.conds = append(q.conds, cond{
		sql:  "(" + strings.Join(parts, " OR ") + ")",
		args: args,
	})

	return q
}

// WhereBelongsTo adds the scope-membership condition used by the filter
// fallback: the row either is one of the resolved records or hangs off one
// of them via its parent reference.
func (q *Query) WhereBelongsTo(idCol, parentCol string, ids []string) *Query {
	return q.WhereAnyIn(InSet{Col: idCol, Vals: ids}, InSet{Col: parentCol, Vals: ids})
}

// MarkUnsatisfiable turns the query into the typed empty-result sentinel:
// the store short-circuits it to zero rows without touching the database.
// This distinguishes "scope configured but nothing matches" from
// "no scope configured".
func (q *Query) MarkUnsatisfiable() *Query {
	q.unsatisfiable = true
	return q
}

// IsUnsatisfiable reports whether the query is the empty-result sentinel.
func (q *Query) IsUnsatisfiable() bool {
	return q.unsatisfiable
}

// SQL renders the WHERE clause (without the leading WHERE) and its bound
// arguments. The base non-deleted predicate is always present.
func (q *Query) SQL() (string, []any, error) {
	if q.err != nil {
		return "", nil, q.err
	}

	clauses := []string{"deleted = 0"}

	var args []any

	for _, c := range q.conds {
		clauses = append(clauses, c.sql)
		args = append(args, c.args...)
	}

	return strings.Join(clauses, " AND "), args, nil
}
