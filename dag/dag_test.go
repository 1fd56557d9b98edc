package dag

import (
	"crypto/ed25519"
	"fmt"
	"testing"

	"github.com/modality-org/modality-core/common"
	"github.com/modality-org/modality-core/cryptoutil"
	"github.com/stretchr/testify/require"
)

type testCommittee struct {
	committee *Committee
	ids       []common.PeerID
	privs     map[common.PeerID]ed25519.PrivateKey
}

func newTestCommittee(t *testing.T, n int) *testCommittee {
	t.Helper()
	tc := &testCommittee{privs: make(map[common.PeerID]ed25519.PrivateKey)}
	var members []Validator
	for i := 0; i < n; i++ {
		pub, priv, err := ed25519.GenerateKey(nil)
		require.NoError(t, err)
		id := common.PeerID(fmt.Sprintf("validator-%d", i))
		tc.ids = append(tc.ids, id)
		tc.privs[id] = priv
		members = append(members, Validator{PeerID: id, PubKey: pub, Weight: 1})
	}
	tc.committee = NewCommittee(members)
	return tc
}

func (tc *testCommittee) sign(id common.PeerID, digest common.Hash) []byte {
	return cryptoutil.Sign(tc.privs[id], digest.Bytes())
}

// buildCertificate has every id in signers vote on header and returns the
// resulting certificate, requiring the vote to reach quorum.
func (tc *testCommittee) buildCertificate(t *testing.T, header Header, signers []common.PeerID) *Certificate {
	t.Helper()
	b := NewCertificateBuilder(header, tc.committee)
	digest := header.Digest()
	for _, id := range signers {
		require.NoError(t, b.AddVote(id, tc.sign(id, digest)))
	}
	cert, ok := b.Build()
	require.True(t, ok, "expected quorum to be reached")
	return cert
}

func TestWorkerFormBatchSealsPending(t *testing.T) {
	w := NewWorker(3, 0)
	require.False(t, w.Ready())
	w.AddTransaction(Transaction("tx1"))
	w.AddTransaction(Transaction("tx2"))
	require.False(t, w.Ready())
	w.AddTransaction(Transaction("tx3"))
	require.True(t, w.Ready())

	batch, err := w.FormBatch()
	require.NoError(t, err)
	require.Len(t, batch.Transactions, 3)
	require.False(t, batch.Digest.IsZero())
	require.Equal(t, 0, w.PendingCount())
}

func TestCommitteeQuorumThreshold(t *testing.T) {
	tc := newTestCommittee(t, 4)
	require.Equal(t, uint64(3), tc.committee.QuorumThreshold())
}

func TestCertificateBuilderRequiresQuorum(t *testing.T) {
	tc := newTestCommittee(t, 4)
	header := Header{Round: 0, Author: tc.ids[0], BatchDigest: cryptoutil.Sum256([]byte("batch-a"))}
	digest := header.Digest()

	b := NewCertificateBuilder(header, tc.committee)
	require.NoError(t, b.AddVote(tc.ids[0], tc.sign(tc.ids[0], digest)))
	require.NoError(t, b.AddVote(tc.ids[1], tc.sign(tc.ids[1], digest)))
	_, ok := b.Build()
	require.False(t, ok, "2 of 4 votes should not reach quorum")

	require.NoError(t, b.AddVote(tc.ids[2], tc.sign(tc.ids[2], digest)))
	cert, ok := b.Build()
	require.True(t, ok)
	require.NoError(t, cert.Verify(tc.committee))
}

func TestCertificateVerifyRejectsBadSignature(t *testing.T) {
	tc := newTestCommittee(t, 4)
	header := Header{Round: 0, Author: tc.ids[0], BatchDigest: cryptoutil.Sum256([]byte("batch-a"))}
	cert := tc.buildCertificate(t, header, tc.ids[:3])
	cert.Signatures[tc.ids[0]] = []byte("garbage")
	require.Error(t, cert.Verify(tc.committee))
}

func TestDAGInsertRejectsEquivocation(t *testing.T) {
	tc := newTestCommittee(t, 4)
	d := NewDAG()

	h1 := Header{Round: 0, Author: tc.ids[0], BatchDigest: cryptoutil.Sum256([]byte("batch-a"))}
	c1 := tc.buildCertificate(t, h1, tc.ids[:3])
	require.NoError(t, d.Insert(c1))

	h2 := Header{Round: 0, Author: tc.ids[0], BatchDigest: cryptoutil.Sum256([]byte("batch-b"))}
	c2 := tc.buildCertificate(t, h2, tc.ids[:3])
	require.ErrorIs(t, d.Insert(c2), ErrEquivocation)
}

func TestDAGInsertRejectsMissingParents(t *testing.T) {
	tc := newTestCommittee(t, 4)
	d := NewDAG()
	h := Header{Round: 1, Author: tc.ids[0], Parents: []common.Hash{cryptoutil.Sum256([]byte("nope"))}}
	c := tc.buildCertificate(t, h, tc.ids[:3])
	require.ErrorIs(t, d.Insert(c), ErrMissingParents)
}

func TestDAGHasPathReachability(t *testing.T) {
	tc := newTestCommittee(t, 4)
	d := NewDAG()

	h0 := Header{Round: 0, Author: tc.ids[0], BatchDigest: cryptoutil.Sum256([]byte("b0"))}
	c0 := tc.buildCertificate(t, h0, tc.ids[:3])
	require.NoError(t, d.Insert(c0))

	h1 := Header{Round: 1, Author: tc.ids[1], Parents: []common.Hash{c0.Digest}, BatchDigest: cryptoutil.Sum256([]byte("b1"))}
	c1 := tc.buildCertificate(t, h1, tc.ids[:3])
	require.NoError(t, d.Insert(c1))

	h2 := Header{Round: 2, Author: tc.ids[2], Parents: []common.Hash{c1.Digest}, BatchDigest: cryptoutil.Sum256([]byte("b2"))}
	c2 := tc.buildCertificate(t, h2, tc.ids[:3])
	require.NoError(t, d.Insert(c2))

	require.True(t, d.HasPath(c2.Digest, c1.Digest))
	require.True(t, d.HasPath(c2.Digest, c0.Digest))
	require.True(t, d.HasPath(c1.Digest, c0.Digest))
	require.False(t, d.HasPath(c0.Digest, c1.Digest))
}

func TestPrimaryProposeRequiresQuorumParentsAfterRoundZero(t *testing.T) {
	tc := newTestCommittee(t, 4)
	d := NewDAG()
	p := NewPrimary(tc.ids[0], tc.committee, d)
	p.AdvanceRound() // round becomes 1 with zero round-0 certs recorded as parents

	_, err := p.Propose(cryptoutil.Sum256([]byte("batch")), 100)
	require.ErrorIs(t, err, ErrInsufficientParents)
}

func TestReputationScoreDegradesAndRecovers(t *testing.T) {
	tc := newTestCommittee(t, 2)
	rep := NewReputationManager(tc.committee, DefaultReputationConfig())

	for round := uint64(0); round < 5; round++ {
		rep.RecordPerformance(PerformanceRecord{Validator: tc.ids[0], Round: round, LatencyMs: 5000, Success: true, Timestamp: int64(round)})
		rep.RecordPerformance(PerformanceRecord{Validator: tc.ids[1], Round: round, LatencyMs: 100, Success: true, Timestamp: int64(round)})
	}
	rep.UpdateScores()

	score0 := rep.GetScore(tc.ids[0])
	score1 := rep.GetScore(tc.ids[1])
	require.Less(t, score0, 1.0)
	require.Greater(t, score1, score0)

	for round := uint64(5); round < 60; round++ {
		rep.RecordPerformance(PerformanceRecord{Validator: tc.ids[0], Round: round, LatencyMs: 100, Success: true, Timestamp: int64(round)})
	}
	rep.UpdateScores()
	recovered := rep.GetScore(tc.ids[0])
	require.Greater(t, recovered, score0)
}

func TestSelectLeaderDeterministic(t *testing.T) {
	tc := newTestCommittee(t, 5)
	repA := NewReputationManager(tc.committee, DefaultReputationConfig())
	repB := NewReputationManager(tc.committee, DefaultReputationConfig())

	for round := uint64(0); round < 10; round++ {
		require.Equal(t, repA.SelectLeader(round), repB.SelectLeader(round))
	}
}

// buildRound has every validator propose and sign a quorum certificate
// parented on the full previous round (or no parents at round 0), and
// inserts them all into d.
func buildRound(t *testing.T, tc *testCommittee, d *DAG, round uint64, parents []common.Hash) []*Certificate {
	t.Helper()
	var out []*Certificate
	for i, author := range tc.ids {
		h := Header{
			Round:       round,
			Author:      author,
			Parents:     parents,
			BatchDigest: cryptoutil.Sum256([]byte{byte(round), byte(i)}),
		}
		cert := tc.buildCertificate(t, h, tc.ids[:3])
		require.NoError(t, d.Insert(cert))
		out = append(out, cert)
	}
	return out
}

func digestsOf(certs []*Certificate) []common.Hash {
	out := make([]common.Hash, len(certs))
	for i, c := range certs {
		out[i] = c.Digest
	}
	return out
}

func TestShoalConsensusCommitsAnchors(t *testing.T) {
	tc := newTestCommittee(t, 4)
	d := NewDAG()
	rep := NewReputationManager(tc.committee, DefaultReputationConfig())
	shoal := NewShoalConsensus(tc.committee, d, rep, 2)

	round0 := buildRound(t, tc, d, 0, nil)
	for _, c := range round0 {
		_, err := shoal.ProcessCertificate(c)
		require.NoError(t, err)
	}

	parents := digestsOf(round0)
	var lastCommitted []*Certificate
	for r := uint64(1); r <= 4; r++ {
		round := buildRound(t, tc, d, r, parents)
		for _, c := range round {
			committed, err := shoal.ProcessCertificate(c)
			require.NoError(t, err)
			if len(committed) > 0 {
				lastCommitted = committed
			}
		}
		parents = digestsOf(round)
	}

	require.NotEmpty(t, lastCommitted, "expected at least one anchor commit by round 4")
	require.Greater(t, len(shoal.CommitOrder()), 0)
}

func TestOrderingEngineFlattensInCommitOrder(t *testing.T) {
	oe := NewOrderingEngine()
	b1 := Batch{Digest: cryptoutil.Sum256([]byte("batch1")), Transactions: []Transaction{Transaction("a"), Transaction("b")}}
	b2 := Batch{Digest: cryptoutil.Sum256([]byte("batch2")), Transactions: []Transaction{Transaction("c")}}
	oe.RegisterBatch(b1)
	oe.RegisterBatch(b2)

	committed := []*Certificate{
		{Header: Header{BatchDigest: b1.Digest}},
		{Header: Header{BatchDigest: b2.Digest}},
	}
	txs := oe.OrderCertificates(committed)
	require.Equal(t, []Transaction{Transaction("a"), Transaction("b"), Transaction("c")}, txs)
}

func TestSyncClientFetchesMissingParents(t *testing.T) {
	tc := newTestCommittee(t, 4)
	source := NewDAG()
	dest := NewDAG()

	h0 := Header{Round: 0, Author: tc.ids[0], BatchDigest: cryptoutil.Sum256([]byte("b0"))}
	c0 := tc.buildCertificate(t, h0, tc.ids[:3])
	require.NoError(t, source.Insert(c0))

	h1 := Header{Round: 1, Author: tc.ids[1], Parents: []common.Hash{c0.Digest}, BatchDigest: cryptoutil.Sum256([]byte("b1"))}
	c1 := tc.buildCertificate(t, h1, tc.ids[:3])
	require.NoError(t, source.Insert(c1))

	requestFn := func(req SyncRequest) (SyncResponse, error) {
		return source.HandleSyncRequest(req), nil
	}

	client := NewSyncClient(dest)
	require.False(t, dest.HasCertificate(c0.Digest))
	require.NoError(t, client.SyncMissingParents(c1, requestFn))
	require.True(t, dest.HasCertificate(c0.Digest))

	require.NoError(t, dest.Insert(c1))
	require.True(t, dest.HasPath(c1.Digest, c0.Digest))
}
