package contract

import (
	"encoding/json"

	"github.com/modality-org/modality-core/common"
	"github.com/modality-org/modality-core/cryptoutil"
)

// Action is one body action of a commit (spec.md §3.2, §6.5). Exactly
// the fields relevant to Method are populated; unused fields are omitted
// from the wire form via `omitempty`.
type Action struct {
	Method  string          `json:"method"`
	Path    string          `json:"path,omitempty"`
	Value   json.RawMessage `json:"value,omitempty"`
	Formula string          `json:"formula,omitempty"`

	// modality-* actions (SPEC_FULL.md §4.3 supplement).
	Part       string `json:"part,omitempty"`
	Transition string `json:"transition,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

const (
	ActionPost             = "post"
	ActionDelete           = "delete"
	ActionRule             = "rule"
	ActionModalityInit     = "modality-init"
	ActionModalityAddRule  = "modality-add-rule"
	ActionModalityDomain   = "modality-domain-action"
	ActionModalityFinalize = "modality-finalize"
)

// RuleForThisCommit is a one-shot formula attached only to the commit
// carrying it (spec.md §3.2: never accumulated).
type RuleForThisCommit struct {
	Formula string `json:"formula"`
}

// SignatureEntry is one signature over the canonicalized commit head
// minus the signatures field (spec.md §3.2, §6.5).
type SignatureEntry struct {
	Signer string `json:"signer"`
	Sig    string `json:"sig"` // base64
}

// Head is a commit's metadata.
type Head struct {
	Prev              *common.Hash       `json:"prev"`
	RuleForThisCommit *RuleForThisCommit `json:"rule_for_this_commit,omitempty"`
	Signatures        []SignatureEntry   `json:"signatures"`
}

// Commit is one signed action bundle extending a contract's hash chain
// (spec.md §3.2, §6.5).
type Commit struct {
	Head Head     `json:"head"`
	Body []Action `json:"body"`
}

// SignedBytes returns the canonicalization of the head with signatures
// removed: the payload every SignatureEntry signs (spec.md §3.2/§6.5).
func (c *Commit) SignedBytes() ([]byte, error) {
	return cryptoutil.CanonicalWithout(c.Head, "signatures")
}

// Hash is the content hash of the whole commit (head + body), used as the
// `prev` pointer for the next commit in the chain.
func (c *Commit) Hash() (common.Hash, error) {
	raw, err := cryptoutil.Canonical(c)
	if err != nil {
		return common.Hash{}, err
	}
	return cryptoutil.Sum256(raw), nil
}

// ModifiedPaths returns the paths touched by this commit's body, used to
// build the EvalContext.ModifiedPaths set (spec.md §4.2). Per
// SPEC_FULL.md §4.2's resolved Open Question #2, `rule` actions are
// visible to `modifies`, the same as `post`/`delete`.
func (c *Commit) ModifiedPaths() []string {
	var out []string
	for _, a := range c.Body {
		switch a.Method {
		case ActionPost, ActionDelete:
			out = append(out, a.Path)
		case ActionRule:
			out = append(out, "/rules")
		}
	}
	return out
}

// Signers returns the signer identifiers present on this commit's
// signatures (spec.md §4.2 EvalContext.signers).
func (c *Commit) Signers() []string {
	out := make([]string, 0, len(c.Head.Signatures))
	for _, s := range c.Head.Signatures {
		out = append(out, s.Signer)
	}
	return out
}
