package document

import (
	"testing"
	"time"
)

func TestIDRoundTrip(t *testing.T) {
	id := NewID()
	s := id.String()
	if len(s) != 26 {
		t.Fatalf("expected 26-char id, got %d (%q)", len(s), s)
	}
	parsed, err := ParseID(s)
	if err != nil {
		t.Fatalf("ParseID: %v", err)
	}
	if parsed != id {
		t.Fatalf("round trip mismatch: %v != %v", parsed, id)
	}
}

func TestValueCoercion(t *testing.T) {
	v := NewInt(42)
	if v.AsString() != "42" {
		t.Fatalf("AsString: got %q", v.AsString())
	}
	n, ok := v.AsNumber()
	if !ok || n != 42 {
		t.Fatalf("AsNumber: got %v, %v", n, ok)
	}

	text := NewText("3.5")
	n, ok = text.AsNumber()
	if !ok || n != 3.5 {
		t.Fatalf("text AsNumber: got %v, %v", n, ok)
	}

	notNum := NewText("abc")
	if _, ok := notNum.AsNumber(); ok {
		t.Fatalf("expected non-numeric text to fail coercion")
	}
}

func TestDocumentCopyIsDeep(t *testing.T) {
	d := New("login", time.Now(), Fields{"memberCode": NewText("M001")})
	cp := d.Copy()
	cp.Fields["memberCode"] = NewText("changed")
	if d.Fields["memberCode"].Text != "M001" {
		t.Fatalf("copy mutated original document fields")
	}
}

func TestFilterMatch(t *testing.T) {
	d := New("login", time.Date(2025, 6, 14, 10, 0, 0, 0, time.UTC), Fields{
		"memberCode": NewText("M001"),
		"amount":     NewFloat(150.0),
	})

	f := Filter{
		EventType: "login",
		Predicates: []FieldPredicate{
			{Field: "memberCode", Kind: PredEquals, Value: NewText("M001")},
			{Field: "amount", Kind: PredGreaterThan, Value: NewInt(100)},
		},
	}
	if !f.Match(d) {
		t.Fatalf("expected filter to match")
	}

	f.Predicates = append(f.Predicates, FieldPredicate{Field: "amount", Kind: PredLessThan, Value: NewInt(100)})
	if f.Match(d) {
		t.Fatalf("expected filter to reject after contradictory predicate added")
	}
}

func TestFilterMissingFieldNeverMatches(t *testing.T) {
	d := New("login", time.Now(), Fields{})
	f := Filter{Predicates: []FieldPredicate{{Field: "missing", Kind: PredEquals, Value: NewText("x")}}}
	if f.Match(d) {
		t.Fatalf("expected missing field predicate to not match")
	}
}
