package search

import (
	"fmt"
	"strings"
)

// predicate accumulates a SQL WHERE fragment and its positional args,
// letting lexical.go and vector.go share one access-control + filter
// builder without duplicating the namespace-grant/visibility logic.
type predicate struct {
	clauses []string
	args    []any
}

func newPredicate() *predicate {
	return &predicate{}
}

// bind appends value to the predicate's args and returns its positional
// placeholder ($1, $2, ...), numbered from the predicate's current length.
func (p *predicate) bind(value any) string {
	p.args = append(p.args, value)
	return fmt.Sprintf("$%d", len(p.args))
}

func (p *predicate) where(clause string) {
	p.clauses = append(p.clauses, clause)
}

func (p *predicate) sql() string {
	if len(p.clauses) == 0 {
		return "true"
	}
	return strings.Join(p.clauses, " AND ")
}

// memoryAccessPredicate builds the row-visibility + filter WHERE clause for
// the memories table: owner always sees their own rows; otherwise the
// caller must hold a namespace grant.
func memoryAccessPredicate(req Request) *predicate {
	p := newPredicate()
	callerParam := p.bind(req.CallerEmail)
	p.where(fmt.Sprintf(
		"(user_email = %s OR namespace IN (SELECT namespace FROM namespace_grants WHERE email = %s))",
		callerParam, callerParam))

	applyCommonFilters(p, req, "memories")

	if req.MemoryType != "" {
		p.where(fmt.Sprintf("memory_type = %s", p.bind(req.MemoryType)))
	}

	return p
}

// noteAccessPredicate builds the row-visibility + filter WHERE clause for
// the notes table: owner always sees their own rows; public notes are
// visible to everyone; shared notes require a namespace grant; private
// notes are never visible to a non-owner regardless of hide_from_agents
// (that flag only controls whether an embedding is computed).
func noteAccessPredicate(req Request) *predicate {
	p := newPredicate()
	callerParam := p.bind(req.CallerEmail)
	p.where(fmt.Sprintf(`(
		user_email = %s
		OR visibility = 'public'
		OR (visibility = 'shared' AND namespace IN (SELECT namespace FROM namespace_grants WHERE email = %s))
	)`, callerParam, callerParam))

	applyCommonFilters(p, req, "notes")

	return p
}

func applyCommonFilters(p *predicate, req Request, table string) {
	if len(req.Namespaces) > 0 {
		p.where(fmt.Sprintf("namespace = ANY(%s)", p.bind(pqTextArray(req.Namespaces))))
	}
	if len(req.Tags) > 0 {
		p.where(fmt.Sprintf("tags && %s", p.bind(pqTextArray(req.Tags))))
	}
	_ = table
}

// pqTextArray renders a Go string slice as a Postgres text[] literal.
func pqTextArray(values []string) string {
	escaped := make([]string, len(values))
	for i, v := range values {
		escaped[i] = `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
	}
	return "{" + strings.Join(escaped, ",") + "}"
}
