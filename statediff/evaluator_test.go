package statediff

import "testing"

func strp(s string) *string { return &s }

func TestEvaluateConjunctionWithIsNull(t *testing.T) {
	row := map[string]*string{
		"a": strp("1"),
		"x": nil,
	}

	stmt, err := ParseStatement(`update account set a="b" where (x is NULL AND a = "SUCCESS")`)
	if err != nil {
		t.Fatalf("ParseStatement: %v", err)
	}
	_, predicate, _, err := ExtractUpdate(stmt)
	if err != nil {
		t.Fatalf("ExtractUpdate: %v", err)
	}
	if predicate == nil {
		t.Fatal("expected a WHERE predicate")
	}

	got, err := Evaluate(predicate, row)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !got.IsBool {
		t.Fatal("expected a boolean result")
	}
	if got.Bool {
		t.Fatal("expected false: a=\"1\" does not equal \"SUCCESS\"")
	}
}

func TestEvaluateConjunctionShortCircuitsOr(t *testing.T) {
	row := map[string]*string{"id": strp("42")}

	stmt, err := ParseStatement(`select * from account where id = "42" or id = "nope"`)
	if err != nil {
		t.Fatalf("ParseStatement: %v", err)
	}
	where, ok := ExtractSelectWhere(stmt)
	if !ok {
		t.Fatal("expected a WHERE clause")
	}

	got, err := Evaluate(where, row)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !got.IsBool || !got.Bool {
		t.Fatalf("expected true, got %+v", got)
	}
}

func TestEvaluateEqualityAndOrdering(t *testing.T) {
	row := map[string]*string{"balance": strp("7")}

	stmt, err := ParseStatement(`select * from account where balance = "7"`)
	if err != nil {
		t.Fatalf("ParseStatement: %v", err)
	}
	where, ok := ExtractSelectWhere(stmt)
	if !ok {
		t.Fatal("expected a WHERE clause")
	}
	got, err := Evaluate(where, row)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !got.IsBool || !got.Bool {
		t.Fatalf("expected true, got %+v", got)
	}

	stmt2, _ := ParseStatement(`select * from account where balance = "100"`)
	where2, _ := ExtractSelectWhere(stmt2)
	got2, err := Evaluate(where2, row)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got2.Bool {
		t.Fatal("expected false: balance 7 does not equal 100")
	}
}

func TestEvaluateUnsupportedExpressionFailsOpen(t *testing.T) {
	row := map[string]*string{"a": strp("1")}
	stmt, err := ParseStatement(`select * from account where a in ("1", "2")`)
	if err != nil {
		t.Fatalf("ParseStatement: %v", err)
	}
	where, ok := ExtractSelectWhere(stmt)
	if !ok {
		t.Fatal("expected a WHERE clause")
	}
	if _, err := Evaluate(where, row); err == nil {
		t.Fatal("expected an error for an unsupported IN expression")
	}
}

func TestExtractUpdate(t *testing.T) {
	stmt, err := ParseStatement(`UPDATE account SET balance = "100" WHERE id = "42"`)
	if err != nil {
		t.Fatalf("ParseStatement: %v", err)
	}
	table, predicate, assignments, err := ExtractUpdate(stmt)
	if err != nil {
		t.Fatalf("ExtractUpdate: %v", err)
	}
	if table != "account" {
		t.Fatalf("table = %q, want account", table)
	}
	if predicate == nil {
		t.Fatal("expected a WHERE predicate")
	}
	if assignments["balance"] == nil || *assignments["balance"] != "100" {
		t.Fatalf("assignments[balance] = %v, want 100", assignments["balance"])
	}
}

func TestClassifyQuery(t *testing.T) {
	cases := map[string]StatementKind{
		"INSERT INTO t VALUES (1)":   StatementInsert,
		"update t set a=1":           StatementUpdate,
		"  DELETE FROM t WHERE id=1": StatementDelete,
		"SELECT * FROM t":            StatementOther,
	}
	for q, want := range cases {
		if got := ClassifyQuery(q); got != want {
			t.Errorf("ClassifyQuery(%q) = %v, want %v", q, got, want)
		}
	}
}
