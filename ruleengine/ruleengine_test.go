package ruleengine

import (
	"testing"

	"github.com/modality-org/modality-core/kvstore"
	"github.com/modality-org/modality-core/pathstore"
)

func newState() *pathstore.Store {
	return pathstore.New(kvstore.NewMemStore().Namespace("rules"), 0)
}

func TestParseReprintReparse(t *testing.T) {
	src := "signed_by(/a.id) & signed_by(/b.id) | modifies(/members)"
	f, err := Parse(src)
	if err != nil {
		t.Fatal(err)
	}
	printed := f.String()
	f2, err := Parse(printed)
	if err != nil {
		t.Fatalf("reparse failed on %q: %v", printed, err)
	}
	if f2.String() != printed {
		t.Fatalf("round trip mismatch: %q vs %q", printed, f2.String())
	}
}

func TestAndBindsTighterThanOr(t *testing.T) {
	ctx := NewEvalContext([]string{"/a.id"}, newState(), nil)
	// /a.id & /b.id is false (b missing), but | with signed_by(/a.id) is true.
	ok, err := Evaluate("signed_by(/a.id) & signed_by(/b.id) | signed_by(/a.id)", ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected true")
	}
}

func TestSignedByN(t *testing.T) {
	ctx := NewEvalContext([]string{"/alice.id", "/carol.id"}, newState(), nil)
	ok, err := Evaluate("signed_by_n(2, [/alice.id, /bob.id, /carol.id])", ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected quorum satisfied")
	}

	ctx2 := NewEvalContext([]string{"/alice.id"}, newState(), nil)
	ok2, err := Evaluate("signed_by_n(2, [/alice.id, /bob.id, /carol.id])", ctx2)
	if err != nil {
		t.Fatal(err)
	}
	if ok2 {
		t.Fatal("expected quorum not satisfied")
	}
}

func TestSignedByNZeroAlwaysTrue(t *testing.T) {
	ctx := NewEvalContext(nil, newState(), nil)
	ok, err := Evaluate("signed_by_n(0, [/alice.id])", ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected signed_by_n(0, ...) to be trivially true")
	}
}

func TestSignedByNRejectsTooLargeN(t *testing.T) {
	if _, err := Parse("signed_by_n(5, [/a.id, /b.id])"); err == nil {
		t.Fatal("expected parse error when n exceeds listed paths")
	}
}

func TestUnknownPredicateFailsAtParseTime(t *testing.T) {
	if _, err := Parse("bogus_pred(/a.id)"); err == nil {
		t.Fatal("expected parse error for unknown predicate")
	}
}

func TestAllSignedVacuousOnEmptyMembership(t *testing.T) {
	ctx := NewEvalContext(nil, newState(), nil)
	ok, err := Evaluate("all_signed(/empty_path)", ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected all_signed on empty membership to be true")
	}
}

// TestAnySignedEmptyMembershipIsVacuouslyTrue pins the resolved Open
// Question (spec.md §9 #1 / SPEC_FULL.md §9): any_signed on empty
// membership returns true, matching observed source behavior.
func TestAnySignedEmptyMembershipIsVacuouslyTrue(t *testing.T) {
	ctx := NewEvalContext(nil, newState(), nil)
	ok, err := Evaluate("any_signed(/empty_path)", ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected any_signed on empty membership to be vacuously true")
	}
}

func TestAllAnySignedAgainstResolvedMembers(t *testing.T) {
	state := newState()
	_ = state.Set("/members/alice.id", pathstore.IDValue("alice"))
	_ = state.Set("/members/bob.id", pathstore.IDValue("bob"))

	allCtx := NewEvalContext([]string{"alice", "bob"}, state, nil)
	ok, err := Evaluate("all_signed(/members)", allCtx)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected all_signed true when both members signed")
	}

	partialCtx := NewEvalContext([]string{"alice"}, state, nil)
	ok2, _ := Evaluate("all_signed(/members)", partialCtx)
	if ok2 {
		t.Fatal("expected all_signed false when only one member signed")
	}
	ok3, _ := Evaluate("any_signed(/members)", partialCtx)
	if !ok3 {
		t.Fatal("expected any_signed true when at least one member signed")
	}
}

func TestModifiesPrefixMatch(t *testing.T) {
	ctx := NewEvalContext(nil, newState(), []string{"/members/alice.id"})
	ok, err := Evaluate("modifies(/members)", ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected modifies(/members) true")
	}

	ctx2 := NewEvalContext(nil, newState(), []string{"/other.balance"})
	ok2, _ := Evaluate("modifies(/members)", ctx2)
	if ok2 {
		t.Fatal("expected modifies(/members) false for unrelated path")
	}
}

func TestModifiesRootTrueIffAnyModified(t *testing.T) {
	ctx := NewEvalContext(nil, newState(), []string{"/x.text"})
	ok, err := Evaluate("modifies(/)", ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected modifies(/) true when something was modified")
	}

	ctx2 := NewEvalContext(nil, newState(), nil)
	ok2, _ := Evaluate("modifies(/)", ctx2)
	if ok2 {
		t.Fatal("expected modifies(/) false when nothing was modified")
	}
}

func TestTextEqualsCorrelation(t *testing.T) {
	res, err := CorrelateTextPredicate("text_equals", []any{"hi"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, imp := range res.Implied {
		names[imp.Name] = true
	}
	for _, want := range []string{"text_length_eq", "text_contains", "text_not_empty", "text_starts_with", "text_ends_with"} {
		if !names[want] {
			t.Fatalf("expected implied predicate %q, got %+v", want, res.Implied)
		}
	}
}

func TestStartsEndsWithCorrelation(t *testing.T) {
	res, err := CorrelateTextPredicate("text_starts_with", []any{"ab"}, []TextPredicateInstance{
		{Name: "text_ends_with", Params: []any{"yz"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Implied) != 1 || res.Implied[0].Name != "text_length_gt" {
		t.Fatalf("expected text_length_gt implied, got %+v", res.Implied)
	}
	if res.Implied[0].Params[0].(int) != 3 {
		t.Fatalf("expected length_gt(3), got %+v", res.Implied[0].Params)
	}
}

func TestLengthEqCorrelation(t *testing.T) {
	res, _ := CorrelateTextPredicate("text_length_eq", []any{0}, nil)
	if res.Implied[0].Name != "text_is_empty" {
		t.Fatalf("expected text_is_empty, got %+v", res.Implied)
	}
	res2, _ := CorrelateTextPredicate("text_length_eq", []any{3}, nil)
	if res2.Implied[0].Name != "text_not_empty" {
		t.Fatalf("expected text_not_empty, got %+v", res2.Implied)
	}
}

func TestEvaluateNeverPanicsOnBadParams(t *testing.T) {
	res, err := EvaluateTextPredicate("text_length_eq", nil, "abc")
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid {
		t.Fatal("expected false, not a panic, when params missing")
	}
}
