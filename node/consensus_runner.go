package node

import (
	"context"
	"time"

	"github.com/modality-org/modality-core/common"
	"github.com/modality-org/modality-core/dag"
)

// DefaultRoundTimeout bounds how long ConsensusRunner waits for acks
// before re-checking whether the round can advance anyway (spec.md
// §4.6.6).
const DefaultRoundTimeout = 2 * time.Second

// DraftMessage is a proposed header for a round, gossiped on
// TopicDraftBlock (the "drafts" of spec.md §4.6.6).
type DraftMessage struct {
	Header dag.Header
}

// AckMessage is a committee member's vote over a draft's digest,
// gossiped on TopicBlockAck.
type AckMessage struct {
	HeaderDigest common.Hash
	Signer       common.PeerID
	Signature    []byte
}

// CertMessage carries an assembled certificate, gossiped on
// TopicCertifiedBlock.
type CertMessage struct {
	Cert *dag.Certificate
}

// ConsensusRunner drives one validator's Shoal round loop (spec.md
// §4.6.6): advance round when a quorum of round certificates is
// present, drain pending drafts/acks/certs, propose its own header,
// collect acks into a certificate, and emit it. Grounded on
// tos-network-gtos/consensus/dpos.DPoS.Seal's stop-channel-plus-timer
// idiom, generalized from a single block seal to a recurring round
// loop, and on original_source/rust/modality-network-consensus/src/runner.rs's
// round-advance/propose/collect/emit cycle.
type ConsensusRunner struct {
	self      common.PeerID
	committee *dag.Committee
	dag       *dag.DAG
	primary   *dag.Primary
	shoal     *dag.ShoalConsensus
	worker    *dag.Worker
	ordering  *dag.OrderingEngine

	signFn func(digest common.Hash) ([]byte, error)

	drafts chan DraftMessage
	acks   chan AckMessage
	certs  chan CertMessage

	roundTimeout time.Duration

	broadcastDraft func(ctx context.Context, h dag.Header) error
	broadcastAck   func(ctx context.Context, a AckMessage) error
	broadcastCert  func(ctx context.Context, c *dag.Certificate) error
	onCommitted    func(round uint64, committed []*dag.Certificate, txs []dag.Transaction)

	builders map[common.Hash]*dag.CertificateBuilder
}

// ConsensusRunnerConfig bundles a ConsensusRunner's collaborators.
type ConsensusRunnerConfig struct {
	Self      common.PeerID
	Committee *dag.Committee
	DAG       *dag.DAG
	Primary   *dag.Primary
	Shoal     *dag.ShoalConsensus
	Worker    *dag.Worker
	Ordering  *dag.OrderingEngine

	SignFn func(digest common.Hash) ([]byte, error)

	BroadcastDraft func(ctx context.Context, h dag.Header) error
	BroadcastAck   func(ctx context.Context, a AckMessage) error
	BroadcastCert  func(ctx context.Context, c *dag.Certificate) error
	OnCommitted    func(round uint64, committed []*dag.Certificate, txs []dag.Transaction)

	RoundTimeout time.Duration
}

// NewConsensusRunner builds a ConsensusRunner from cfg.
func NewConsensusRunner(cfg ConsensusRunnerConfig) *ConsensusRunner {
	timeout := cfg.RoundTimeout
	if timeout <= 0 {
		timeout = DefaultRoundTimeout
	}
	return &ConsensusRunner{
		self:           cfg.Self,
		committee:      cfg.Committee,
		dag:            cfg.DAG,
		primary:        cfg.Primary,
		shoal:          cfg.Shoal,
		worker:         cfg.Worker,
		ordering:       cfg.Ordering,
		signFn:         cfg.SignFn,
		drafts:         make(chan DraftMessage, 64),
		acks:           make(chan AckMessage, 256),
		certs:          make(chan CertMessage, 64),
		roundTimeout:   timeout,
		broadcastDraft: cfg.BroadcastDraft,
		broadcastAck:   cfg.BroadcastAck,
		broadcastCert:  cfg.BroadcastCert,
		onCommitted:    cfg.OnCommitted,
		builders:       make(map[common.Hash]*dag.CertificateBuilder),
	}
}

// HandleDraft enqueues an inbound draft header for the run loop.
func (r *ConsensusRunner) HandleDraft(msg DraftMessage) { r.drafts <- msg }

// HandleAck enqueues an inbound ack for the run loop.
func (r *ConsensusRunner) HandleAck(msg AckMessage) { r.acks <- msg }

// HandleCert enqueues an inbound certificate for the run loop.
func (r *ConsensusRunner) HandleCert(msg CertMessage) { r.certs <- msg }

// Run drains pending round messages and advances rounds until ctx is
// cancelled, at which point it returns nil so the orchestrator's
// errgroup sees a clean shutdown (spec.md §4.6.6's cancellation
// requirement).
func (r *ConsensusRunner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.roundTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-r.drafts:
			r.handleDraft(ctx, msg)
		case msg := <-r.acks:
			r.handleAck(ctx, msg)
		case msg := <-r.certs:
			r.handleCert(msg)
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

// handleDraft votes on a received draft by signing its digest and
// gossiping the ack back out.
func (r *ConsensusRunner) handleDraft(ctx context.Context, msg DraftMessage) {
	if _, ok := r.committee.Get(msg.Header.Author); !ok {
		return
	}
	digest := msg.Header.Digest()
	sig, err := r.signFn(digest)
	if err != nil || r.broadcastAck == nil {
		return
	}
	_ = r.broadcastAck(ctx, AckMessage{HeaderDigest: digest, Signer: r.self, Signature: sig})
}

// handleAck folds an inbound ack into the matching in-flight builder,
// emitting and gossiping the certificate once quorum is reached.
func (r *ConsensusRunner) handleAck(ctx context.Context, msg AckMessage) {
	b, ok := r.builders[msg.HeaderDigest]
	if !ok {
		return
	}
	if err := b.AddVote(msg.Signer, msg.Signature); err != nil {
		return
	}
	cert, ok := b.Build()
	if !ok {
		return
	}
	delete(r.builders, msg.HeaderDigest)
	r.emitCertificate(ctx, cert)
}

// handleCert folds a remotely assembled certificate into the shared
// Shoal consensus instance, invoking onCommitted for anything newly
// ordered.
func (r *ConsensusRunner) handleCert(msg CertMessage) {
	committed, err := r.shoal.ProcessCertificate(msg.Cert)
	if err != nil {
		return
	}
	r.reportCommitted(msg.Cert.Header.Round, committed)
}

// emitCertificate folds a locally assembled certificate into Shoal
// consensus and gossips it to the rest of the committee.
func (r *ConsensusRunner) emitCertificate(ctx context.Context, cert *dag.Certificate) {
	committed, err := r.shoal.ProcessCertificate(cert)
	if err != nil {
		return
	}
	if r.broadcastCert != nil {
		_ = r.broadcastCert(ctx, cert)
	}
	r.reportCommitted(cert.Header.Round, committed)
}

func (r *ConsensusRunner) reportCommitted(round uint64, committed []*dag.Certificate) {
	if len(committed) == 0 || r.onCommitted == nil {
		return
	}
	r.onCommitted(round, committed, r.ordering.OrderCertificates(committed))
}

// tick advances the round if the previous round already holds a
// quorum of certificates, then proposes a new header if there is a
// batch ready to go (spec.md §4.6.6's "advance round when quorum of
// round certs present").
func (r *ConsensusRunner) tick(ctx context.Context) {
	round := r.primary.CurrentRound()
	if uint64(r.dag.RoundSize(round)) >= r.committee.QuorumThreshold() {
		r.primary.AdvanceRound()
	}

	if !r.worker.Ready() {
		return
	}
	batch, err := r.worker.FormBatch()
	if err != nil {
		return
	}
	r.ordering.RegisterBatch(batch)

	header, err := r.primary.Propose(batch.Digest, time.Now().Unix())
	if err != nil {
		return
	}
	digest := header.Digest()
	builder := r.primary.CreateCertificateBuilder(header)
	sig, err := r.signFn(digest)
	if err == nil {
		_ = builder.AddVote(r.self, sig)
	}
	r.builders[digest] = builder

	if r.broadcastDraft != nil {
		_ = r.broadcastDraft(ctx, header)
	}
}
