// Package contract implements the modality-contract runtime of spec.md
// §3.2/§4.3: a governing model of labeled parts/states/transitions, the
// ContractInstance that executes it against a commit's hash chain, and
// the EvolvableContract governance subsystem.
package contract

import (
	"errors"
	"fmt"
)

var (
	ErrNoSuchPart           = errors.New("contract: no such part")
	ErrInvalidTransition    = errors.New("contract: no matching transition for action")
	ErrUnknownPredicate     = errors.New("contract: unknown property predicate")
	ErrContractTerminated   = errors.New("contract: contract is terminated")
	ErrCommitChainMismatch  = errors.New("contract: commit prev hash does not match chain tip")
	ErrRuleRejected         = errors.New("contract: rule evaluation rejected commit")
	ErrInvalidSignature     = errors.New("contract: invalid signature")
	ErrUnknownSigner        = errors.New("contract: signer path does not resolve to a pubkey")
)

// Property is a required property on a Transition: "+name" (required
// present) or "-name" (required absent), per spec.md §4.3. Name is a
// predicate expression: signed_by(<path>), has_balance(<path>),
// has_min_balance(<path>[,amount]), or exists(<path>).
type Property struct {
	Negate     bool
	Predicate string
}

func RequiredPresent(predicate string) Property { return Property{Predicate: predicate} }
func RequiredAbsent(predicate string) Property  { return Property{Negate: true, Predicate: predicate} }

// Transition connects two states within a Part. Self-loops (From == To)
// are permitted (spec.md §4.3).
type Transition struct {
	From     string
	To       string
	Required []Property
}

// Part is one labeled directed graph of states within a governing model.
type Part struct {
	Name        string
	States      []string
	Transitions []Transition
}

// Model is the contract's governing model: a set of labeled Parts.
type Model struct {
	Parts   []*Part
	Version uint64
}

func (m *Model) part(name string) (*Part, bool) {
	for _, p := range m.Parts {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// SignedAction is the set of properties asserted true for this attempted
// transition (derived from a commit's signers plus the path-store state
// at the time of application); the transition selection rule of spec.md
// §4.3 looks for the first (part, transition) whose `from` matches the
// part's current state and whose Required set is satisfied.
type SignedAction struct {
	Part string
}

// SelectTransition finds the first transition in part `partName` whose
// `From` equals currentState and whose Required properties are all
// satisfied against ctx. Returns ErrInvalidTransition (wrapping the
// attempted part/state) if none matches.
func (m *Model) SelectTransition(partName, currentState string, ctx *PropertyContext) (*Transition, error) {
	part, ok := m.part(partName)
	if !ok {
		return nil, ErrNoSuchPart
	}
	for i := range part.Transitions {
		tr := &part.Transitions[i]
		if tr.From != currentState {
			continue
		}
		if satisfiesAll(tr.Required, ctx) {
			return tr, nil
		}
	}
	return nil, fmt.Errorf("%w: part %q from state %q", ErrInvalidTransition, partName, currentState)
}

func satisfiesAll(props []Property, ctx *PropertyContext) bool {
	for _, p := range props {
		ok, err := evaluateProperty(p.Predicate, ctx)
		if err != nil {
			return false
		}
		if ok == p.Negate {
			return false
		}
	}
	return true
}
