package contract

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"testing"

	mapset "github.com/deckarep/golang-set"
	"github.com/modality-org/modality-core/cryptoutil"
	"github.com/stretchr/testify/require"
)

func genParty(t *testing.T) (pub []byte, sign func([]byte) string) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return pub, func(msg []byte) string {
		return base64.StdEncoding.EncodeToString(cryptoutil.Sign(priv, msg))
	}
}

func escrowModel() *Model {
	return &Model{
		Version: 1,
		Parts: []*Part{
			{
				Name:   "escrow",
				States: []string{"funded", "released", "refunded"},
				Transitions: []Transition{
					{From: "funded", To: "released", Required: []Property{RequiredPresent("signed_by(/members/buyer.pubkey)")}},
					{From: "funded", To: "refunded", Required: []Property{RequiredPresent("signed_by(/members/seller.pubkey)")}},
				},
			},
		},
	}
}

func TestSelectTransitionRequiresSigner(t *testing.T) {
	m := escrowModel()
	buyerPub, _ := genParty(t)
	sellerPub, _ := genParty(t)
	ci, err := NewContractInstance("escrow-1", m, map[string][]byte{
		"buyer": buyerPub, "seller": sellerPub,
	})
	require.NoError(t, err)
	ci.partState["escrow"] = "funded"

	_, err = m.SelectTransition("escrow", "funded", &PropertyContext{
		Signers: mapset.NewSet(),
		Store:   ci.Store,
	})
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSubmitCommitAppliesPostAndAdvancesTip(t *testing.T) {
	buyerPub, buyerSign := genParty(t)
	sellerPub, _ := genParty(t)

	m := escrowModel()
	ci, err := NewContractInstance("escrow-2", m, map[string][]byte{
		"buyer": buyerPub, "seller": sellerPub,
	})
	require.NoError(t, err)

	c := &Commit{
		Head: Head{Prev: nil},
		Body: []Action{
			{Method: ActionPost, Path: "/ledger/note.text", Value: json.RawMessage(`"funds deposited"`)},
		},
	}
	payload, err := c.SignedBytes()
	require.NoError(t, err)
	c.Head.Signatures = []SignatureEntry{
		{Signer: "/members/buyer.pubkey", Sig: buyerSign(payload)},
	}

	require.NoError(t, ci.SubmitCommit(c))
	require.Equal(t, uint64(1), ci.Seq())

	v, ok := ci.Store.Get("/ledger/note.text")
	require.True(t, ok)
	require.Equal(t, "funds deposited", v.Text)
}

func TestSubmitCommitRejectsChainMismatch(t *testing.T) {
	buyerPub, buyerSign := genParty(t)
	sellerPub, _ := genParty(t)
	m := escrowModel()
	ci, err := NewContractInstance("escrow-3", m, map[string][]byte{
		"buyer": buyerPub, "seller": sellerPub,
	})
	require.NoError(t, err)

	bogusPrev := cryptoutil.Sum256([]byte("not the real prev"))
	c := &Commit{Head: Head{Prev: &bogusPrev}}
	payload, err := c.SignedBytes()
	require.NoError(t, err)
	c.Head.Signatures = []SignatureEntry{{Signer: "/members/buyer.pubkey", Sig: buyerSign(payload)}}

	err = ci.SubmitCommit(c)
	require.ErrorIs(t, err, ErrCommitChainMismatch)
}

func TestSubmitCommitRejectsInvalidSignature(t *testing.T) {
	buyerPub, _ := genParty(t)
	sellerPub, _ := genParty(t)
	m := escrowModel()
	ci, err := NewContractInstance("escrow-4", m, map[string][]byte{
		"buyer": buyerPub, "seller": sellerPub,
	})
	require.NoError(t, err)

	c := &Commit{
		Head: Head{Prev: nil, Signatures: []SignatureEntry{
			{Signer: "/members/buyer.pubkey", Sig: base64.StdEncoding.EncodeToString([]byte("garbage"))},
		}},
	}
	err = ci.SubmitCommit(c)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestSubmitCommitRuleForThisCommitRejection(t *testing.T) {
	buyerPub, buyerSign := genParty(t)
	sellerPub, _ := genParty(t)
	m := escrowModel()
	ci, err := NewContractInstance("escrow-5", m, map[string][]byte{
		"buyer": buyerPub, "seller": sellerPub,
	})
	require.NoError(t, err)

	c := &Commit{
		Head: Head{Prev: nil, RuleForThisCommit: &RuleForThisCommit{
			Formula: "signed_by(/members/seller.pubkey)",
		}},
	}
	payload, err := c.SignedBytes()
	require.NoError(t, err)
	c.Head.Signatures = []SignatureEntry{{Signer: "/members/buyer.pubkey", Sig: buyerSign(payload)}}

	err = ci.SubmitCommit(c)
	var rej *RuleRejectionError
	require.ErrorAs(t, err, &rej)
	require.Equal(t, "signed_by(/members/seller.pubkey)", rej.Formula)
}

func TestSubmitCommitPersistentRuleAccumulates(t *testing.T) {
	buyerPub, buyerSign := genParty(t)
	sellerPub, sellerSign := genParty(t)
	m := escrowModel()
	ci, err := NewContractInstance("escrow-6", m, map[string][]byte{
		"buyer": buyerPub, "seller": sellerPub,
	})
	require.NoError(t, err)

	c1 := &Commit{
		Head: Head{Prev: nil},
		Body: []Action{{Method: ActionRule, Formula: "signed_by(/members/seller.pubkey)"}},
	}
	payload1, err := c1.SignedBytes()
	require.NoError(t, err)
	c1.Head.Signatures = []SignatureEntry{{Signer: "/members/buyer.pubkey", Sig: buyerSign(payload1)}}
	require.NoError(t, ci.SubmitCommit(c1))

	tip := ci.tip
	c2 := &Commit{
		Head: Head{Prev: tip},
		Body: []Action{{Method: ActionPost, Path: "/ledger/x.text", Value: json.RawMessage(`"hi"`)}},
	}
	payload2, err := c2.SignedBytes()
	require.NoError(t, err)
	c2.Head.Signatures = []SignatureEntry{{Signer: "/members/buyer.pubkey", Sig: buyerSign(payload2)}}

	err = ci.SubmitCommit(c2)
	var rej *RuleRejectionError
	require.ErrorAs(t, err, &rej)

	c2.Head.Signatures = append(c2.Head.Signatures, SignatureEntry{
		Signer: "/members/seller.pubkey", Sig: sellerSign(payload2),
	})
	require.NoError(t, ci.SubmitCommit(c2))
}

func TestFinalizeTerminatesContract(t *testing.T) {
	buyerPub, buyerSign := genParty(t)
	sellerPub, _ := genParty(t)
	m := escrowModel()
	ci, err := NewContractInstance("escrow-7", m, map[string][]byte{
		"buyer": buyerPub, "seller": sellerPub,
	})
	require.NoError(t, err)

	c := &Commit{
		Head: Head{Prev: nil},
		Body: []Action{{Method: ActionModalityFinalize, Part: "escrow", Reason: "complete"}},
	}
	payload, err := c.SignedBytes()
	require.NoError(t, err)
	c.Head.Signatures = []SignatureEntry{{Signer: "/members/buyer.pubkey", Sig: buyerSign(payload)}}
	require.NoError(t, ci.SubmitCommit(c))

	require.False(t, ci.IsActive())
	require.Equal(t, "complete", ci.TerminationReason())

	c2 := &Commit{Head: Head{Prev: ci.tip}}
	require.ErrorIs(t, ci.SubmitCommit(c2), ErrContractTerminated)
}

func TestEvolutionProposeSignExecute(t *testing.T) {
	m := escrowModel()
	ec := NewEvolvableContract(m, []string{"gov-a", "gov-b", "gov-c"}, 2)

	p, err := ec.Propose("gov-a", Amendment{
		Kind: AmendAddTransition,
		Part: "escrow",
		Transition: &Transition{
			From: "funded", To: "disputed",
			Required: []Property{RequiredPresent("signed_by(/members/buyer.pubkey)")},
		},
	}, 1000)
	require.NoError(t, err)
	require.Equal(t, ProposalPending, p.Status)

	require.NoError(t, ec.Sign(p.ID, "gov-a", true))
	require.Equal(t, ProposalPending, ec.proposals[p.ID].Status)
	require.NoError(t, ec.Sign(p.ID, "gov-b", true))
	require.Equal(t, ProposalApproved, ec.proposals[p.ID].Status)

	require.NoError(t, ec.Execute(p.ID, 1001))
	require.Equal(t, uint64(2), ec.Version())
	require.Len(t, ec.History(), 1)

	part, ok := ec.CurrentModel.part("escrow")
	require.True(t, ok)
	found := false
	for _, tr := range part.Transitions {
		if tr.From == "funded" && tr.To == "disputed" {
			found = true
		}
	}
	require.True(t, found)
}

func TestEvolutionRejectedProposalCannotExecute(t *testing.T) {
	m := escrowModel()
	ec := NewEvolvableContract(m, []string{"gov-a", "gov-b", "gov-c"}, 2)

	p, err := ec.Propose("gov-a", Amendment{Kind: AmendAddConstraint, Formula: "signed_by(/members/buyer.pubkey)"}, 0)
	require.NoError(t, err)

	require.NoError(t, ec.Sign(p.ID, "gov-a", false))
	require.NoError(t, ec.Sign(p.ID, "gov-b", false))
	require.Equal(t, ProposalRejected, ec.proposals[p.ID].Status)

	err = ec.Execute(p.ID, 1)
	require.ErrorIs(t, err, ErrProposalNotApproved)
}

func TestEvolutionGovernorCannotVoteTwice(t *testing.T) {
	m := escrowModel()
	ec := NewEvolvableContract(m, []string{"gov-a", "gov-b"}, 2)
	p, err := ec.Propose("gov-a", Amendment{Kind: AmendAddConstraint, Formula: "exists(/x)"}, 0)
	require.NoError(t, err)

	require.NoError(t, ec.Sign(p.ID, "gov-a", true))
	require.ErrorIs(t, ec.Sign(p.ID, "gov-a", true), ErrAlreadyVoted)
}

func TestEvolutionNonGovernorCannotSign(t *testing.T) {
	m := escrowModel()
	ec := NewEvolvableContract(m, []string{"gov-a"}, 1)
	p, err := ec.Propose("gov-a", Amendment{Kind: AmendAddConstraint, Formula: "exists(/x)"}, 0)
	require.NoError(t, err)
	require.ErrorIs(t, ec.Sign(p.ID, "outsider", true), ErrNotAGovernor)
}
