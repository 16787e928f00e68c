package mysql

import (
	"fmt"
	"log"

	"github.com/mickamy/mysqlfaultproxy/statediff"
	"github.com/mickamy/mysqlfaultproxy/wire"

	"vitess.io/vitess/go/vt/sqlparser"
)

const nullMarker = 0xFB

// rowRewrite decodes one text-protocol row, overlays any matching pending
// write from sess.DiffStore, re-encodes it, and decides whether the row
// still satisfies the originating SELECT's WHERE clause.
func rowRewrite(pkt *Packet, sess *Session, columns []ColumnDefinition, where *whereLookup) error {
	if len(columns) == 0 {
		return fmt.Errorf("mysql: row packet with no column definitions")
	}

	row, err := decodeRow(pkt.Body, columns)
	if err != nil {
		return fmt.Errorf("mysql: decode row: %w", err)
	}

	applyOverride(row, sess, columns[0].OrgTable)

	newBody, err := encodeRow(row, columns)
	if err != nil {
		return fmt.Errorf("mysql: re-encode row: %w", err)
	}
	pkt.Body = newBody
	pkt.Header.Size = uint32(len(newBody))

	expr := resolveSelectWhere(where, sess)
	if expr == nil {
		return nil
	}

	result, err := statediff.Evaluate(expr, row)
	if err != nil {
		// A WHERE the evaluator can't understand must not silently suppress
		// rows: leave the row as-is and let the client's own driver decide.
		if sess.LogUnsupportedQueries {
			log.Printf("mysql: unsupported WHERE shape in %q: %v", sess.LastCommand.Query(), err)
		}
		return nil
	}
	if result.IsBool && !result.Bool {
		pkt.Skip = true
	}
	return nil
}

func decodeRow(body []byte, columns []ColumnDefinition) (map[string]*string, error) {
	row := make(map[string]*string, len(columns))
	off := 0
	for _, col := range columns {
		if off >= len(body) {
			return nil, fmt.Errorf("short row body at column %q", col.Name)
		}
		if body[off] == nullMarker {
			row[col.Name] = nil
			off++
			continue
		}
		s, n, err := wire.StringLenEnc(body[off:])
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col.Name, err)
		}
		val := s
		row[col.Name] = &val
		off += n
	}
	return row, nil
}

func encodeRow(row map[string]*string, columns []ColumnDefinition) ([]byte, error) {
	var out []byte
	for _, col := range columns {
		v, ok := row[col.Name]
		if !ok {
			return nil, fmt.Errorf("missing value for column %q during re-encode", col.Name)
		}
		if v == nil {
			out = append(out, nullMarker)
			continue
		}
		out = append(out, wire.EncodeStringLenEnc(*v)...)
	}
	return out, nil
}

// applyOverride walks the table's pending-write overlay in insertion order,
// applying every entry whose predicate matches the row (nil predicate
// matches unconditionally). Since entries are visited oldest-first, the
// final assignment for a column is always from the most recently inserted
// matching entry.
func applyOverride(row map[string]*string, sess *Session, orgTable string) {
	if sess.DiffStore == nil || orgTable == "" {
		return
	}
	for _, entry := range sess.DiffStore.Entries(orgTable) {
		if entry.Predicate != nil {
			result, err := statediff.Evaluate(entry.Predicate, row)
			if err != nil || !result.IsBool || !result.Bool {
				continue
			}
		}
		for col, val := range entry.Assignments {
			row[col] = val
		}
	}
}

// resolveSelectWhere parses the response's originating command once and
// caches its SELECT WHERE expression (or the fact that there isn't one).
func resolveSelectWhere(lookup *whereLookup, sess *Session) sqlparser.Expr {
	if lookup.tried {
		expr, _ := lookup.expr.(sqlparser.Expr)
		return expr
	}
	lookup.tried = true

	if sess.LastCommand == nil {
		return nil
	}
	stmt, err := statediff.ParseStatement(sess.LastCommand.Query())
	if err != nil {
		if sess.LogUnsupportedQueries {
			log.Printf("mysql: %v", err)
		}
		return nil
	}
	expr, ok := statediff.ExtractSelectWhere(stmt)
	if !ok {
		return nil
	}
	lookup.expr = expr
	return expr
}
