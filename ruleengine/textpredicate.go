package ruleengine

import "strings"

// TextEvalResult is the pure evaluation outcome of a text predicate
// (spec.md §4.2: "evaluate(input) → {valid, gas_used, errors?}").
type TextEvalResult struct {
	Valid   bool
	GasUsed int
	Errors  []string
}

// ImpliedPredicate is a predicate the engine has derived as a logical
// consequence of one or more asserted predicates, with a confidence
// (1.0 for the certain derivations this spec requires).
type ImpliedPredicate struct {
	Name       string
	Params     []any
	Confidence float64
}

// TextPredicateInstance names an asserted text predicate and its
// parameters, as attached to a commit (e.g. via a persistent rule) or
// supplied by a caller wanting correlation against a sibling rule.
type TextPredicateInstance struct {
	Name   string
	Params []any
}

// TextCorrelateResult is the pure correlation outcome of a text predicate
// (spec.md §4.2: "correlate(params, other_rules) → {implied[], gas_used}").
type TextCorrelateResult struct {
	Implied []ImpliedPredicate
	GasUsed int
}

// textPredicateSpec bundles the two pure functions every text predicate
// exposes, matching spec.md §9's "registry name → {evaluate_fn,
// correlate_fn}" dynamic-dispatch design (implementers may instead use a
// sealed enum with exhaustive matching; behavior here is identical,
// grounded on original_source/rust/modal-wasm-validation/src/predicates/text.rs's
// per-predicate evaluate/correlate pair).
type textPredicateSpec struct {
	evaluate  func(params []any, input string) TextEvalResult
	correlate func(params []any, other []TextPredicateInstance) TextCorrelateResult
}

// TextPredicates is the registry of every implemented text predicate.
var TextPredicates = map[string]*textPredicateSpec{
	"text_equals":            {evaluate: evalTextEquals, correlate: correlateTextEquals},
	"text_contains":          {evaluate: evalTextContains, correlate: noCorrelation},
	"text_starts_with":       {evaluate: evalTextStartsWith, correlate: correlateStartsEndsWith},
	"text_ends_with":         {evaluate: evalTextEndsWith, correlate: correlateStartsEndsWith},
	"text_length_eq":         {evaluate: evalTextLengthEq, correlate: correlateLengthEq},
	"text_length_gt":         {evaluate: evalTextLengthGt, correlate: noCorrelation},
	"text_length_lt":         {evaluate: evalTextLengthLt, correlate: noCorrelation},
	"text_is_empty":          {evaluate: evalTextIsEmpty, correlate: correlateIsEmpty},
	"text_not_empty":         {evaluate: evalTextNotEmpty, correlate: correlateNotEmpty},
	"text_equals_ignore_case": {evaluate: evalTextEqualsIgnoreCase, correlate: noCorrelation},
}

// EvaluateTextPredicate runs the named predicate's evaluate function.
func EvaluateTextPredicate(name string, params []any, input string) (TextEvalResult, error) {
	spec, ok := TextPredicates[name]
	if !ok {
		return TextEvalResult{}, ErrUnknownPredicate
	}
	return spec.evaluate(params, input), nil
}

// CorrelateTextPredicate runs the named predicate's correlate function
// against the other asserted predicates for the same commit/ruleset. The
// engine surfaces implied predicates to the caller but never enforces
// them automatically (spec.md §4.2).
func CorrelateTextPredicate(name string, params []any, other []TextPredicateInstance) (TextCorrelateResult, error) {
	spec, ok := TextPredicates[name]
	if !ok {
		return TextCorrelateResult{}, ErrUnknownPredicate
	}
	return spec.correlate(params, other), nil
}

func noCorrelation([]any, []TextPredicateInstance) TextCorrelateResult {
	return TextCorrelateResult{GasUsed: 1}
}

func strParam(params []any, i int) string {
	if i >= len(params) {
		return ""
	}
	s, _ := params[i].(string)
	return s
}

func intParam(params []any, i int) int {
	if i >= len(params) {
		return 0
	}
	switch v := params[i].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func evalTextEquals(params []any, input string) TextEvalResult {
	return TextEvalResult{Valid: input == strParam(params, 0), GasUsed: 1 + len(input)}
}

func evalTextContains(params []any, input string) TextEvalResult {
	return TextEvalResult{Valid: strings.Contains(input, strParam(params, 0)), GasUsed: 1 + len(input)}
}

func evalTextStartsWith(params []any, input string) TextEvalResult {
	return TextEvalResult{Valid: strings.HasPrefix(input, strParam(params, 0)), GasUsed: 1 + len(strParam(params, 0))}
}

func evalTextEndsWith(params []any, input string) TextEvalResult {
	return TextEvalResult{Valid: strings.HasSuffix(input, strParam(params, 0)), GasUsed: 1 + len(strParam(params, 0))}
}

func evalTextLengthEq(params []any, input string) TextEvalResult {
	return TextEvalResult{Valid: len(input) == intParam(params, 0), GasUsed: 1}
}

func evalTextLengthGt(params []any, input string) TextEvalResult {
	return TextEvalResult{Valid: len(input) > intParam(params, 0), GasUsed: 1}
}

func evalTextLengthLt(params []any, input string) TextEvalResult {
	return TextEvalResult{Valid: len(input) < intParam(params, 0), GasUsed: 1}
}

func evalTextIsEmpty(_ []any, input string) TextEvalResult {
	return TextEvalResult{Valid: len(input) == 0, GasUsed: 1}
}

func evalTextNotEmpty(_ []any, input string) TextEvalResult {
	return TextEvalResult{Valid: len(input) != 0, GasUsed: 1}
}

func evalTextEqualsIgnoreCase(params []any, input string) TextEvalResult {
	return TextEvalResult{Valid: strings.EqualFold(input, strParam(params, 0)), GasUsed: 1 + len(input)}
}

// correlateTextEquals implements: text_equals(x) ⇒ text_length_eq(|x|),
// text_contains(x), text_not_empty (if x≠""), text_starts_with(x[0..1]),
// text_ends_with(x[-1..]).
func correlateTextEquals(params []any, _ []TextPredicateInstance) TextCorrelateResult {
	x := strParam(params, 0)
	implied := []ImpliedPredicate{
		{Name: "text_length_eq", Params: []any{len(x)}, Confidence: 1.0},
		{Name: "text_contains", Params: []any{x}, Confidence: 1.0},
	}
	if x != "" {
		implied = append(implied,
			ImpliedPredicate{Name: "text_not_empty", Confidence: 1.0},
			ImpliedPredicate{Name: "text_starts_with", Params: []any{x[:1]}, Confidence: 1.0},
			ImpliedPredicate{Name: "text_ends_with", Params: []any{x[len(x)-1:]}, Confidence: 1.0},
		)
	}
	return TextCorrelateResult{Implied: implied, GasUsed: 1 + len(x)}
}

// correlateStartsEndsWith implements: text_starts_with(p) ∧
// text_ends_with(s) ⇒ text_length_gt(|p|+|s|-1) (assuming no overlap).
// Finds the sibling predicate (starts_with looks for ends_with and vice
// versa) among `other`.
func correlateStartsEndsWith(params []any, other []TextPredicateInstance) TextCorrelateResult {
	self := strParam(params, 0)
	for _, o := range other {
		var p, sfx string
		switch o.Name {
		case "text_starts_with":
			p, sfx = strParam(o.Params, 0), self
		case "text_ends_with":
			p, sfx = self, strParam(o.Params, 0)
		default:
			continue
		}
		return TextCorrelateResult{
			Implied: []ImpliedPredicate{
				{Name: "text_length_gt", Params: []any{len(p) + len(sfx) - 1}, Confidence: 1.0},
			},
			GasUsed: 1,
		}
	}
	return TextCorrelateResult{GasUsed: 1}
}

// correlateLengthEq implements: text_length_eq(0) ⇒ text_is_empty;
// text_length_eq(n>0) ⇒ text_not_empty.
func correlateLengthEq(params []any, _ []TextPredicateInstance) TextCorrelateResult {
	n := intParam(params, 0)
	if n == 0 {
		return TextCorrelateResult{Implied: []ImpliedPredicate{{Name: "text_is_empty", Confidence: 1.0}}, GasUsed: 1}
	}
	return TextCorrelateResult{Implied: []ImpliedPredicate{{Name: "text_not_empty", Confidence: 1.0}}, GasUsed: 1}
}

// correlateIsEmpty implements: text_is_empty ⇒ text_length_eq(0).
func correlateIsEmpty([]any, []TextPredicateInstance) TextCorrelateResult {
	return TextCorrelateResult{Implied: []ImpliedPredicate{{Name: "text_length_eq", Params: []any{0}, Confidence: 1.0}}, GasUsed: 1}
}

// correlateNotEmpty implements: text_not_empty ⇒ text_length_gt(0).
func correlateNotEmpty([]any, []TextPredicateInstance) TextCorrelateResult {
	return TextCorrelateResult{Implied: []ImpliedPredicate{{Name: "text_length_gt", Params: []any{0}, Confidence: 1.0}}, GasUsed: 1}
}
