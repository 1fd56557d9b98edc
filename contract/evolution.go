package contract

import (
	"errors"
	"fmt"

	"github.com/modality-org/modality-core/common"
	"github.com/modality-org/modality-core/cryptoutil"
)

// ProposalStatus is the lifecycle state of an evolution Proposal.
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "Pending"
	ProposalApproved ProposalStatus = "Approved"
	ProposalRejected ProposalStatus = "Rejected"
	ProposalExecuted ProposalStatus = "Executed"
)

// AmendmentKind tags the variant of an Amendment (spec.md §4.3).
type AmendmentKind string

const (
	AmendAddTransition    AmendmentKind = "AddTransition"
	AmendRemoveTransition AmendmentKind = "RemoveTransition"
	AmendAddPart          AmendmentKind = "AddPart"
	AmendRemovePart       AmendmentKind = "RemovePart"
	AmendModifyTransition AmendmentKind = "ModifyTransition"
	AmendAddConstraint    AmendmentKind = "AddConstraint"
	AmendReplaceModel     AmendmentKind = "ReplaceModel"
)

// Amendment is one governance change to a contract's current_model
// (spec.md §4.3).
type Amendment struct {
	Kind AmendmentKind

	Part       string      // AddTransition, RemoveTransition, AddPart, RemovePart, ModifyTransition
	Transition *Transition // AddTransition
	From, To   string      // RemoveTransition, ModifyTransition
	NewProps   []Property  // ModifyTransition
	Formula    string      // AddConstraint
	NewModel   *Model      // ReplaceModel
}

// Proposal is a pending, approved, rejected, or executed amendment
// (spec.md §4.3).
type Proposal struct {
	ID                string
	Amendment         Amendment
	Proposer          string
	RequiredApprovers int
	Approvals         map[string]bool // governor -> approve(true)/reject(false)
	Status            ProposalStatus
	CreatedAt         int64
}

// EvolutionRecord is an executed amendment's audit entry (spec.md §4.3).
type EvolutionRecord struct {
	Version      uint64
	ProposalID   string
	Amendment    Amendment
	PreviousHash common.Hash
	NewHash      common.Hash
	ExecutedAt   int64
}

var (
	ErrUnknownProposal     = errors.New("contract: unknown proposal id")
	ErrProposalNotPending  = errors.New("contract: proposal is not pending")
	ErrProposalNotApproved = errors.New("contract: proposal is not approved")
	ErrNotAGovernor        = errors.New("contract: signer is not a governor")
	ErrAlreadyVoted        = errors.New("contract: governor already voted on this proposal")
	ErrConstraintViolated  = errors.New("contract: amendment violates an evolution constraint")
)

// EvolvableContract wraps a Model with a governance layer: invariant
// constraint formulas, a proposal queue, an executed-amendment history,
// the governor set, and the approval threshold (spec.md §4.3).
type EvolvableContract struct {
	CurrentModel      *Model
	Constraints       []string // formula strings that must remain invariant across versions
	Governors         map[string]bool
	ApprovalThreshold int

	proposals map[string]*Proposal
	history   []EvolutionRecord
	version   uint64
	nextID    uint64
}

// NewEvolvableContract wraps model under governance by governors, with
// threshold approvals required to execute a proposal.
func NewEvolvableContract(model *Model, governors []string, threshold int) *EvolvableContract {
	g := make(map[string]bool, len(governors))
	for _, name := range governors {
		g[name] = true
	}
	return &EvolvableContract{
		CurrentModel:      model,
		Governors:         g,
		ApprovalThreshold: threshold,
		proposals:         make(map[string]*Proposal),
		version:           1,
	}
}

// Propose creates a pending proposal for amendment, authored by proposer.
func (e *EvolvableContract) Propose(proposer string, amendment Amendment, createdAt int64) (*Proposal, error) {
	e.nextID++
	p := &Proposal{
		ID:                fmt.Sprintf("proposal-%d", e.nextID),
		Amendment:         amendment,
		Proposer:          proposer,
		RequiredApprovers: e.ApprovalThreshold,
		Approvals:         make(map[string]bool),
		Status:            ProposalPending,
		CreatedAt:         createdAt,
	}
	e.proposals[p.ID] = p
	return p, nil
}

// Sign records signer's vote (approve or reject) on proposalID, at most
// once per governor. Once approvals reach the threshold the proposal
// becomes Approved; once rejections exceed |governors|-threshold it
// becomes Rejected (spec.md §4.3).
func (e *EvolvableContract) Sign(proposalID, signer string, approve bool) error {
	if !e.Governors[signer] {
		return ErrNotAGovernor
	}
	p, ok := e.proposals[proposalID]
	if !ok {
		return ErrUnknownProposal
	}
	if p.Status != ProposalPending {
		return ErrProposalNotPending
	}
	if _, voted := p.Approvals[signer]; voted {
		return ErrAlreadyVoted
	}
	p.Approvals[signer] = approve

	approvals, rejections := tally(p.Approvals)
	if approvals >= p.RequiredApprovers {
		p.Status = ProposalApproved
	} else if rejections > len(e.Governors)-p.RequiredApprovers {
		p.Status = ProposalRejected
	}
	return nil
}

func tally(votes map[string]bool) (approvals, rejections int) {
	for _, v := range votes {
		if v {
			approvals++
		} else {
			rejections++
		}
	}
	return
}

// Execute applies proposalID's amendment to CurrentModel, appends an
// EvolutionRecord, and bumps the version. Rejected/pending proposals
// cannot execute (spec.md §4.3).
func (e *EvolvableContract) Execute(proposalID string, executedAt int64) error {
	p, ok := e.proposals[proposalID]
	if !ok {
		return ErrUnknownProposal
	}
	if p.Status != ProposalApproved {
		return ErrProposalNotApproved
	}

	prevHash, err := e.modelHash()
	if err != nil {
		return err
	}

	newModel, err := applyAmendment(e.CurrentModel, p.Amendment)
	if err != nil {
		return err
	}
	if p.Amendment.Kind == AmendAddConstraint {
		e.Constraints = append(e.Constraints, p.Amendment.Formula)
	}

	e.CurrentModel = newModel
	newHash, err := e.modelHash()
	if err != nil {
		return err
	}

	e.version++
	e.history = append(e.history, EvolutionRecord{
		Version:      e.version,
		ProposalID:   p.ID,
		Amendment:    p.Amendment,
		PreviousHash: prevHash,
		NewHash:      newHash,
		ExecutedAt:   executedAt,
	})
	p.Status = ProposalExecuted
	return nil
}

func (e *EvolvableContract) modelHash() (common.Hash, error) {
	raw, err := cryptoutil.Canonical(modelSnapshot(e.CurrentModel))
	if err != nil {
		return common.Hash{}, err
	}
	return cryptoutil.Sum256(raw), nil
}

func modelSnapshot(m *Model) any {
	return m
}

// History returns executed evolution records in order.
func (e *EvolvableContract) History() []EvolutionRecord {
	return append([]EvolutionRecord(nil), e.history...)
}

// Version returns the current model version.
func (e *EvolvableContract) Version() uint64 { return e.version }

func applyAmendment(m *Model, a Amendment) (*Model, error) {
	switch a.Kind {
	case AmendReplaceModel:
		if a.NewModel == nil {
			return nil, fmt.Errorf("contract: ReplaceModel amendment missing new model")
		}
		return a.NewModel, nil
	case AmendAddPart:
		clone := cloneModel(m)
		clone.Parts = append(clone.Parts, &Part{Name: a.Part})
		return clone, nil
	case AmendRemovePart:
		clone := cloneModel(m)
		out := clone.Parts[:0]
		for _, p := range clone.Parts {
			if p.Name != a.Part {
				out = append(out, p)
			}
		}
		clone.Parts = out
		return clone, nil
	case AmendAddTransition:
		clone := cloneModel(m)
		part, ok := clone.part(a.Part)
		if !ok {
			return nil, ErrNoSuchPart
		}
		if a.Transition == nil {
			return nil, fmt.Errorf("contract: AddTransition amendment missing transition")
		}
		part.Transitions = append(part.Transitions, *a.Transition)
		return clone, nil
	case AmendRemoveTransition:
		clone := cloneModel(m)
		part, ok := clone.part(a.Part)
		if !ok {
			return nil, ErrNoSuchPart
		}
		out := part.Transitions[:0]
		for _, tr := range part.Transitions {
			if !(tr.From == a.From && tr.To == a.To) {
				out = append(out, tr)
			}
		}
		part.Transitions = out
		return clone, nil
	case AmendModifyTransition:
		clone := cloneModel(m)
		part, ok := clone.part(a.Part)
		if !ok {
			return nil, ErrNoSuchPart
		}
		for i := range part.Transitions {
			if part.Transitions[i].From == a.From && part.Transitions[i].To == a.To {
				part.Transitions[i].Required = a.NewProps
			}
		}
		return clone, nil
	case AmendAddConstraint:
		// Constraints are tracked on the EvolvableContract, not the Model
		// itself; the model is unchanged.
		return m, nil
	default:
		return nil, fmt.Errorf("contract: unknown amendment kind %q", a.Kind)
	}
}

func cloneModel(m *Model) *Model {
	parts := make([]*Part, len(m.Parts))
	for i, p := range m.Parts {
		states := append([]string(nil), p.States...)
		transitions := append([]Transition(nil), p.Transitions...)
		parts[i] = &Part{Name: p.Name, States: states, Transitions: transitions}
	}
	return &Model{Parts: parts, Version: m.Version}
}
