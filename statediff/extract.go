package statediff

import (
	"fmt"

	"vitess.io/vitess/go/vt/sqlparser"
)

var parser = sqlparser.NewTestParser()

// ParseStatement parses sql into a vitess AST, the external SQL parser the
// write-interception and row-rewrite paths treat as a collaborator.
func ParseStatement(sql string) (sqlparser.Statement, error) {
	stmt, err := parser.Parse(sql)
	if err != nil {
		return nil, fmt.Errorf("statediff: parse %q: %w", sql, err)
	}
	return stmt, nil
}

// ExtractUpdate pulls {table, predicate, assignments} out of a parsed UPDATE
// statement. Only single-table updates with a literal or NULL right-hand
// side per assignment are supported; anything else is reported as an error
// so the caller can log and drop the overlay entry without failing the
// session.
func ExtractUpdate(stmt sqlparser.Statement) (table string, predicate sqlparser.Expr, assignments map[string]*string, err error) {
	upd, ok := stmt.(*sqlparser.Update)
	if !ok {
		return "", nil, nil, fmt.Errorf("statediff: not an UPDATE statement: %T", stmt)
	}
	if len(upd.TableExprs) != 1 {
		return "", nil, nil, fmt.Errorf("statediff: only single-table UPDATE is supported")
	}
	aliased, ok := upd.TableExprs[0].(*sqlparser.AliasedTableExpr)
	if !ok {
		return "", nil, nil, fmt.Errorf("statediff: unsupported UPDATE target shape %T", upd.TableExprs[0])
	}
	tableName, ok := aliased.Expr.(sqlparser.TableName)
	if !ok {
		return "", nil, nil, fmt.Errorf("statediff: unsupported UPDATE target expression %T", aliased.Expr)
	}
	table = tableName.Name.String()

	assignments = make(map[string]*string, len(upd.Exprs))
	for _, assign := range upd.Exprs {
		col := assign.Name.Name.String()
		switch v := assign.Expr.(type) {
		case *sqlparser.Literal:
			s := string(v.Val)
			assignments[col] = &s
		case *sqlparser.NullVal:
			assignments[col] = nil
		default:
			return "", nil, nil, fmt.Errorf("statediff: unsupported assignment value for column %q: %T", col, assign.Expr)
		}
	}

	if upd.Where != nil {
		predicate = upd.Where.Expr
	}
	return table, predicate, assignments, nil
}

// ExtractSelectWhere returns a SELECT statement's WHERE expression, if any.
func ExtractSelectWhere(stmt sqlparser.Statement) (sqlparser.Expr, bool) {
	sel, ok := stmt.(*sqlparser.Select)
	if !ok || sel.Where == nil {
		return nil, false
	}
	return sel.Where.Expr, true
}

// StatementKind is a coarse classification of a COM_QUERY's statement text,
// used by write interception to decide whether to attempt a parse at all.
type StatementKind int

const (
	StatementOther StatementKind = iota
	StatementInsert
	StatementUpdate
	StatementDelete
)

// ClassifyQuery returns the coarse kind of a query's first keyword,
// matching case-insensitively on the leading token.
func ClassifyQuery(query string) StatementKind {
	trimmed := trimLeadingSpace(query)
	switch {
	case hasCaseInsensitivePrefix(trimmed, "insert "):
		return StatementInsert
	case hasCaseInsensitivePrefix(trimmed, "update "):
		return StatementUpdate
	case hasCaseInsensitivePrefix(trimmed, "delete "):
		return StatementDelete
	default:
		return StatementOther
	}
}

func trimLeadingSpace(s string) string {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r') {
		i++
	}
	return s[i:]
}

func hasCaseInsensitivePrefix(s, prefix string) bool {
	if len(s) < len(prefix) {
		return false
	}
	for i := 0; i < len(prefix); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		p := prefix[i]
		if c != p {
			return false
		}
	}
	return true
}
