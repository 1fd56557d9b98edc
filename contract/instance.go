package contract

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	mapset "github.com/deckarep/golang-set"
	"github.com/modality-org/modality-core/common"
	"github.com/modality-org/modality-core/cryptoutil"
	"github.com/modality-org/modality-core/kvstore"
	"github.com/modality-org/modality-core/pathstore"
	"github.com/modality-org/modality-core/ruleengine"
)

// ContractInstance holds everything one deployed contract needs: its
// governing model, party→pubkey map, per-part current state, an
// activation flag, termination reason, commit history, a sequence
// counter, and an embedded path store populated at construction with
// /members/<party>.pubkey (spec.md §4.3).
type ContractInstance struct {
	ID    string
	Model *Model
	Store *pathstore.Store

	partyPubkeys map[string][]byte
	partState    map[string]string
	active       bool
	termination  string

	history []*Commit
	tip     *common.Hash
	seq     uint64

	persistentRules []string // accumulated formula strings (spec.md §3.2)
}

// NewContractInstance constructs a contract instance, seeding
// /members/<party>.pubkey for each party.
func NewContractInstance(id string, model *Model, parties map[string][]byte) (*ContractInstance, error) {
	ns := kvstore.NewMemStore().Namespace("contract:" + id)
	store := pathstore.New(ns, 0)
	ci := &ContractInstance{
		ID:           id,
		Model:        model,
		Store:        store,
		partyPubkeys: parties,
		partState:    make(map[string]string),
		active:       true,
	}
	for name, pub := range parties {
		if err := store.Set("/members/"+name+".pubkey", pathstore.PubkeyValue(pub)); err != nil {
			return nil, err
		}
	}
	for _, p := range model.Parts {
		if len(p.States) > 0 {
			ci.partState[p.Name] = p.States[0]
		}
	}
	return ci, nil
}

// CurrentState returns the current state of the named part.
func (ci *ContractInstance) CurrentState(part string) (string, bool) {
	s, ok := ci.partState[part]
	return s, ok
}

// resolveSignerPubkey resolves a SignatureEntry.Signer (a path, or a raw
// hex/base64-encoded pubkey) to an Ed25519 public key.
func (ci *ContractInstance) resolveSignerPubkey(signer string) ([]byte, bool) {
	if strings.HasPrefix(signer, "/") {
		return ci.Store.GetPubkey(signer)
	}
	if b, err := hex.DecodeString(strings.TrimPrefix(signer, "0x")); err == nil && len(b) == 32 {
		return b, true
	}
	if b, err := base64.StdEncoding.DecodeString(signer); err == nil && len(b) == 32 {
		return b, true
	}
	return nil, false
}

// VerifyCommitSignatures checks every SignatureEntry on c against its
// SignedBytes payload (spec.md §3.2 "Signature Entry").
func (ci *ContractInstance) VerifyCommitSignatures(c *Commit) error {
	payload, err := c.SignedBytes()
	if err != nil {
		return err
	}
	for _, sig := range c.Head.Signatures {
		pub, ok := ci.resolveSignerPubkey(sig.Signer)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownSigner, sig.Signer)
		}
		raw, err := base64.StdEncoding.DecodeString(sig.Sig)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		if !cryptoutil.Verify(pub, payload, raw) {
			return fmt.Errorf("%w: signer %s", ErrInvalidSignature, sig.Signer)
		}
	}
	return nil
}

// RuleRejectionError carries the detail spec.md §7 requires user-visible
// rule failures to surface: the formula text and the set of present
// signers.
type RuleRejectionError struct {
	Formula string
	Signers []string
}

func (e *RuleRejectionError) Error() string {
	return fmt.Sprintf("contract: rule %q rejected commit (signers=%v)", e.Formula, e.Signers)
}
func (e *RuleRejectionError) Unwrap() error { return ErrRuleRejected }

// SubmitCommit verifies, evaluates, and applies c against the contract's
// hash chain (spec.md §3.2 acceptance invariant, §4.3 signature rule).
func (ci *ContractInstance) SubmitCommit(c *Commit) error {
	if !ci.active {
		return ErrContractTerminated
	}
	if (ci.tip == nil) != (c.Head.Prev == nil) {
		return ErrCommitChainMismatch
	}
	if ci.tip != nil && *ci.tip != *c.Head.Prev {
		return ErrCommitChainMismatch
	}
	if err := ci.VerifyCommitSignatures(c); err != nil {
		return err
	}

	signers := c.Signers()
	modified := c.ModifiedPaths()
	ctx := ruleengine.NewEvalContext(signers, ci.Store, modified)

	for _, formula := range ci.persistentRules {
		ok, err := ruleengine.Evaluate(formula, ctx)
		if err != nil {
			return err
		}
		if !ok {
			return &RuleRejectionError{Formula: formula, Signers: signers}
		}
	}
	if c.Head.RuleForThisCommit != nil {
		ok, err := ruleengine.Evaluate(c.Head.RuleForThisCommit.Formula, ctx)
		if err != nil {
			return err
		}
		if !ok {
			return &RuleRejectionError{Formula: c.Head.RuleForThisCommit.Formula, Signers: signers}
		}
	}

	if err := ci.applyBody(c, signers); err != nil {
		return err
	}

	h, err := c.Hash()
	if err != nil {
		return err
	}
	ci.history = append(ci.history, c)
	ci.tip = &h
	ci.seq++
	return nil
}

func (ci *ContractInstance) applyBody(c *Commit, signers []string) error {
	signerSet := mapset.NewSet()
	for _, s := range signers {
		signerSet.Add(s)
	}
	propCtx := &PropertyContext{Signers: signerSet, Store: ci.Store}

	for _, a := range c.Body {
		switch a.Method {
		case ActionPost:
			v, err := pathstore.ValueFromJSON(a.Path, a.Value)
			if err != nil {
				return err
			}
			if err := ci.Store.Set(a.Path, v); err != nil {
				return err
			}
		case ActionDelete:
			if err := ci.Store.Delete(a.Path); err != nil {
				return err
			}
		case ActionRule:
			ci.persistentRules = append(ci.persistentRules, a.Formula)
		case ActionModalityInit:
			// Re-initializes per-part current state to each part's first
			// listed state (template activation), per SPEC_FULL.md §4.3.
			for _, p := range ci.Model.Parts {
				if len(p.States) > 0 {
					ci.partState[p.Name] = p.States[0]
				}
			}
		case ActionModalityAddRule:
			ci.persistentRules = append(ci.persistentRules, a.Formula)
		case ActionModalityDomain:
			cur, ok := ci.partState[a.Part]
			if !ok {
				return ErrNoSuchPart
			}
			tr, err := ci.Model.SelectTransition(a.Part, cur, propCtx)
			if err != nil {
				return err
			}
			ci.partState[a.Part] = tr.To
		case ActionModalityFinalize:
			ci.active = false
			ci.termination = a.Reason
		default:
			return fmt.Errorf("contract: unknown action method %q", a.Method)
		}
	}
	return nil
}

// IsActive reports whether the contract has not been finalized.
func (ci *ContractInstance) IsActive() bool { return ci.active }

// TerminationReason returns the finalize reason, if any.
func (ci *ContractInstance) TerminationReason() string { return ci.termination }

// Seq returns the number of commits applied so far.
func (ci *ContractInstance) Seq() uint64 { return ci.seq }

// History returns the applied commit chain in order.
func (ci *ContractInstance) History() []*Commit { return append([]*Commit(nil), ci.history...) }
