package document

import "time"

// PredicateKind is the comparison a FieldPredicate applies.
type PredicateKind uint8

const (
	PredEquals PredicateKind = iota
	PredContains
	PredGreaterThan
	PredLessThan
)

// FieldPredicate matches one named field against a comparison value.
// Numeric predicates coerce integer<->float and reject non-numeric text.
// Equality on a boolean field accepts "true"/"false"/"1"/"0" on either side.
type FieldPredicate struct {
	Field string
	Kind  PredicateKind
	Value Value
}

// Match reports whether the document's field satisfies the predicate.
// A missing field never matches, regardless of predicate kind.
func (p FieldPredicate) Match(d Document) bool {
	actual, ok := d.Fields[p.Field]
	if !ok {
		return false
	}
	switch p.Kind {
	case PredEquals:
		return equalsValue(actual, p.Value)
	case PredContains:
		return containsValue(actual, p.Value)
	case PredGreaterThan, PredLessThan:
		an, aok := actual.AsNumber()
		bn, bok := p.Value.AsNumber()
		if !aok || !bok {
			return false
		}
		if p.Kind == PredGreaterThan {
			return an > bn
		}
		return an < bn
	default:
		return false
	}
}

func equalsValue(a, b Value) bool {
	if a.Kind == KindBool || b.Kind == KindBool {
		return coerceBool(a) == coerceBool(b)
	}
	an, aok := a.AsNumber()
	bn, bok := b.AsNumber()
	if aok && bok {
		return an == bn
	}
	return a.AsString() == b.AsString()
}

func containsValue(a, b Value) bool {
	return indexString(a.AsString(), b.AsString()) >= 0
}

func indexString(haystack, needle string) int {
	if needle == "" {
		return 0
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func coerceBool(v Value) bool {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindText:
		switch v.Text {
		case "true", "1":
			return true
		default:
			return false
		}
	case KindInt:
		return v.Int != 0
	case KindFloat:
		return v.Flt != 0
	default:
		return false
	}
}

// Filter composes the scan predicates documented in §4.3: an optional time
// window, an optional event-type equality, and an ordered list of field
// predicates (all must match).
type Filter struct {
	TimeStart  time.Time
	TimeEnd    time.Time
	EventType  string
	Predicates []FieldPredicate
}

// Match reports whether the document satisfies every configured clause.
func (f Filter) Match(d Document) bool {
	if !f.TimeStart.IsZero() && d.Timestamp.Before(f.TimeStart) {
		return false
	}
	if !f.TimeEnd.IsZero() && d.Timestamp.After(f.TimeEnd) {
		return false
	}
	if f.EventType != "" && d.EventType != f.EventType {
		return false
	}
	for _, p := range f.Predicates {
		if !p.Match(d) {
			return false
		}
	}
	return true
}

// OverlapsRange reports whether the filter's time window intersects
// [start, end], used by the document store to decide which segment readers
// to scan.
func (f Filter) OverlapsRange(start, end time.Time) bool {
	if !f.TimeStart.IsZero() && f.TimeStart.After(end) {
		return false
	}
	if !f.TimeEnd.IsZero() && f.TimeEnd.Before(start) {
		return false
	}
	return true
}
