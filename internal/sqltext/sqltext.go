// Package sqltext is the SQL-parser collaborator spec.md §6 describes as
// consumed, not implemented: a validate/parse capability the gateway may
// call but does not depend on for most statements, since it forwards SQL
// to the backend unparsed.
package sqltext

import "strings"

// Statement is the minimal shape Parse exposes: enough to recognize a
// leading keyword for command-tag synthesis (spec.md §4.3), nothing more.
type Statement struct {
	Keyword string
	Text    string
}

// Validate reports whether sql is syntactically well-formed enough to
// attempt. Both session controllers call it on every statement, but only
// to log a blank statement; its result never stops a statement from being
// forwarded.
func Validate(sql string) bool {
	return strings.TrimSpace(sql) != ""
}

// Parse extracts the leading keyword of sql. It is not a real SQL parser —
// the gateway is explicitly not a dialect translator (spec.md §1
// Non-goals) — just enough structure for the PostgreSQL session to pick a
// command tag. The MySQL introspection intercepts match on the statement
// text directly and do not use it.
func Parse(sql string) Statement {
	trimmed := strings.TrimSpace(sql)
	fields := strings.Fields(trimmed)
	keyword := ""
	if len(fields) > 0 {
		keyword = strings.ToUpper(fields[0])
	}
	return Statement{Keyword: keyword, Text: trimmed}
}

// Split breaks semicolon-separated multi-statement input into individual
// non-empty statements (spec.md §4.2 "Multi-statement input"). This is a
// naive split — it does not account for semicolons inside string literals,
// which is consistent with the gateway forwarding SQL text unparsed.
func Split(sql string) []string {
	var out []string
	for _, part := range strings.Split(sql, ";") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
