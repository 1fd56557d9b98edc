package ruleengine

import (
	"errors"

	mapset "github.com/deckarep/golang-set"
	"github.com/modality-org/modality-core/pathstore"
)

var (
	ErrInvalidFormula  = errors.New("ruleengine: invalid formula")
	ErrUnknownPredicate = errors.New("ruleengine: unknown predicate")
	ErrParse            = errors.New("ruleengine: parse error")
)

// EvalContext is the evaluation context of spec.md §4.2: present signers,
// a state snapshot for membership resolution, and the set of paths
// touched by the commit body.
type EvalContext struct {
	Signers       mapset.Set // set of string signer identifiers
	State         *pathstore.Store
	ModifiedPaths mapset.Set // set of string paths
}

// NewEvalContext builds an EvalContext from plain slices.
func NewEvalContext(signers []string, state *pathstore.Store, modifiedPaths []string) *EvalContext {
	s := mapset.NewSet()
	for _, x := range signers {
		s.Add(x)
	}
	m := mapset.NewSet()
	for _, x := range modifiedPaths {
		m.Add(x)
	}
	return &EvalContext{Signers: s, State: state, ModifiedPaths: m}
}

func (ctx *EvalContext) resolveMembers(prefix string) []string {
	if ctx.State == nil {
		return nil
	}
	return ctx.State.ResolveMembers(prefix)
}

// Evaluate parses and evaluates formula against ctx in one call.
func Evaluate(formula string, ctx *EvalContext) (bool, error) {
	f, err := Parse(formula)
	if err != nil {
		return false, err
	}
	return f.eval(ctx)
}

// EvalFormula evaluates an already-parsed Formula.
func EvalFormula(f Formula, ctx *EvalContext) (bool, error) {
	return f.eval(ctx)
}
