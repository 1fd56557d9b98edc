package node

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/modality-org/modality-core/common"
	"github.com/modality-org/modality-core/cryptoutil"
	"github.com/modality-org/modality-core/dag"
	"github.com/modality-org/modality-core/internal/glog"
	"github.com/modality-org/modality-core/minerchain"
)

// Config configures a Node's lifecycle (spec.md §4.6.1).
type Config struct {
	Self          common.PeerID
	Keypair       cryptoutil.PrivateKey
	Bootstrappers []common.PeerID

	MinerChain *minerchain.Chain

	HybridConsensus bool
	RunValidator    bool
	Committee       *dag.Committee
	DAG             *dag.DAG
	Reputation      *dag.ReputationManager

	// Epoch, if set, must be the same EpochSignaler the caller passed as
	// MinerChain's ChainObserver (or a composite including it) so that
	// §4.6.5's committee-rebuild actually fires on epoch completion. A
	// Node built without one still signals epoch transitions manually
	// via its own EpochSignaler, just not automatically from the chain.
	Epoch *EpochSignaler

	Gossip   GossipBroadcaster
	ReqRes   ReqResChannel
	Identity PeerIdentityService
}

// Node orchestrates the miner chain and (optionally) the DAG consensus
// engine over a gossip/reqres transport (spec.md §4.6). It owns the
// collaborator interfaces, the peer-ignore table, request correlation,
// and, in validator mode, a ConsensusRunner. Grounded on
// original_source/rust/modal-node/src/node.rs's Node struct (swarm
// handle + datastore + ignored-peer table + response-correlation map +
// mining/sync channels), re-expressed over this module's own
// minerchain/dag packages instead of libp2p/NetworkDatastore.
type Node struct {
	cfg Config

	chain *minerchain.Chain

	ignore     *IgnoreTable
	correlator *RequestCorrelator
	router     *GossipRouter
	epoch      *EpochSignaler
	sync       *SyncCoordinator
	consensus  *ConsensusRunner

	// tipUpdates is the non-blocking "latest tip" channel a mining loop
	// polls alongside the canonical datastore, adopting whichever tip is
	// higher as current_mining_index (spec.md §4.6.2's mining_update_rx).
	tipUpdates chan uint64

	log glog.Logger
}

// New builds a Node from cfg and wires the gossip/reqres route tables.
// It does not start any background loop; call Run for that.
func New(cfg Config) (*Node, error) {
	if cfg.MinerChain == nil {
		return nil, fmt.Errorf("node: MinerChain is required")
	}
	bootstrappers := stripSelf(cfg.Bootstrappers, cfg.Self)

	n := &Node{
		cfg:        cfg,
		chain:      cfg.MinerChain,
		ignore:     NewIgnoreTable(),
		correlator: NewRequestCorrelator(),
		router:     NewGossipRouter(),
		tipUpdates: make(chan uint64, 1),
		log:        glog.Root.With("module", "node", "self", string(cfg.Self)),
	}
	cfg.Bootstrappers = bootstrappers

	if cfg.Epoch != nil {
		n.epoch = cfg.Epoch
	} else {
		n.epoch = NewEpochSignaler(cfg.HybridConsensus, n.rebuildCommittee, n.onCommitteeRebuilt)
	}

	n.sync = NewSyncCoordinator(
		n.chain,
		n.requestCheckpoints,
		n.requestSingleCheckpoint,
		n.requestBlockRange,
		nil,
	)

	if cfg.RunValidator && cfg.HybridConsensus {
		if cfg.Committee == nil || cfg.DAG == nil || cfg.Reputation == nil {
			return nil, fmt.Errorf("node: validator mode requires Committee, DAG, and Reputation")
		}
		primary := dag.NewPrimary(cfg.Self, cfg.Committee, cfg.DAG)
		shoal := dag.NewShoalConsensus(cfg.Committee, cfg.DAG, cfg.Reputation, dag.DefaultAnchorLag)
		worker := dag.NewWorker(dag.DefaultBatchSize, dag.DefaultMaxBatchBytes)
		ordering := dag.NewOrderingEngine()
		n.consensus = NewConsensusRunner(ConsensusRunnerConfig{
			Self:           cfg.Self,
			Committee:      cfg.Committee,
			DAG:            cfg.DAG,
			Primary:        primary,
			Shoal:          shoal,
			Worker:         worker,
			Ordering:       ordering,
			SignFn:         n.signDigest,
			BroadcastDraft: n.broadcastDraft,
			BroadcastAck:   n.broadcastAck,
			BroadcastCert:  n.broadcastCert,
			OnCommitted:    n.onConsensusCommitted,
		})
	}

	n.registerRoutes()
	return n, nil
}

func stripSelf(peers []common.PeerID, self common.PeerID) []common.PeerID {
	out := make([]common.PeerID, 0, len(peers))
	for _, p := range peers {
		if p != self {
			out = append(out, p)
		}
	}
	return out
}

// registerRoutes wires the gossip topics and reqres routes of spec.md
// §4.6.4 onto this Node's handlers.
func (n *Node) registerRoutes() {
	n.router.OnGossip(TopicMinerBlock, n.handleMinerBlockGossip)
	n.router.OnReqRes(RouteMinerBlockRange, n.handleBlockRangeRequest)
	n.router.OnReqRes(RouteMinerBlockFindAncestor, n.handleFindAncestorRequest)

	if n.consensus != nil {
		n.router.OnGossip(TopicDraftBlock, n.handleDraftGossip)
		n.router.OnGossip(TopicBlockAck, n.handleAckGossip)
		n.router.OnGossip(TopicCertifiedBlock, n.handleCertGossip)
	}
}

// Run starts the Node's background tasks — gossip subscriptions,
// dialing bootstrappers, and (in validator mode) the consensus runner
// — and blocks until ctx is cancelled or a task fails (spec.md §4.6.1).
func (n *Node) Run(ctx context.Context) error {
	n.log.Info("starting node", "bootstrappers", len(n.cfg.Bootstrappers), "validator", n.consensus != nil)
	if err := n.dialBootstrappers(ctx); err != nil {
		return err
	}
	if err := n.subscribeTopics(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	if n.consensus != nil {
		g.Go(func() error { return n.consensus.Run(ctx) })
	}
	g.Go(func() error { <-ctx.Done(); return nil })
	err := g.Wait()
	n.log.Info("node stopped", "err", err)
	return err
}

func (n *Node) dialBootstrappers(ctx context.Context) error {
	if n.cfg.Identity == nil {
		return nil
	}
	for _, peer := range n.cfg.Bootstrappers {
		if err := n.cfg.Identity.Dial(ctx, peer); err != nil {
			return fmt.Errorf("node: dialing bootstrapper %s: %w", peer, err)
		}
	}
	return nil
}

func (n *Node) subscribeTopics() error {
	if n.cfg.Gossip == nil {
		return nil
	}
	topics := []string{TopicMinerBlock, TopicDraftBlock, TopicCertifiedBlock, TopicBlockAck, TopicEpochTransition}
	for _, topic := range topics {
		topic := topic
		if err := n.cfg.Gossip.Subscribe(topic, func(from common.PeerID, payload []byte) {
			n.router.DispatchGossip(topic, from, payload)
		}); err != nil {
			return fmt.Errorf("node: subscribing to %s: %w", topic, err)
		}
	}
	if n.cfg.ReqRes != nil {
		for _, route := range []string{RouteMinerBlockRange, RouteMinerBlockFindAncestor, RouteMinerBlockChainInfo, RouteCertificateFetch, RouteCertificateSync} {
			n.cfg.ReqRes.HandleRoute(route, n.router.DispatchReqRes)
		}
	}
	return nil
}

// MiningPaused reports the current state of the shared sync-in-progress
// gate a mining loop should poll (spec.md §4.6.2).
func (n *Node) MiningPaused() bool {
	return n.sync.InProgress()
}

// TipUpdates returns the non-blocking tip-update channel a mining loop
// should select on alongside polling the canonical datastore, adopting
// whichever tip is higher (spec.md §4.6.2).
func (n *Node) TipUpdates() <-chan uint64 {
	return n.tipUpdates
}

func (n *Node) publishTipUpdate(index uint64) {
	select {
	case n.tipUpdates <- index:
	default:
		select {
		case <-n.tipUpdates:
		default:
		}
		n.tipUpdates <- index
	}
}

// IgnorePeer records an offense against peer and reports it (spec.md
// §4.6.3). Callers should skip peer as a sync target while IsIgnored
// returns true.
func (n *Node) IgnorePeer(peer common.PeerID, now int64) int64 {
	until := n.ignore.RecordOffense(peer, now)
	n.log.Warn("ignoring peer", "peer", string(peer), "until", until)
	return until
}

// IsPeerIgnored reports whether peer is still within its backoff window.
func (n *Node) IsPeerIgnored(peer common.PeerID, now int64) bool {
	return n.ignore.IsIgnored(peer, now)
}

// TriggerSync asks the sync coordinator to synchronize against peer,
// skipping peers currently ignored (spec.md §4.6.3's "the orchestrator
// checks this table before initiating a sync").
func (n *Node) TriggerSync(ctx context.Context, peer common.PeerID, now int64) error {
	if n.ignore.IsIgnored(peer, now) {
		return nil
	}
	if err := n.sync.Trigger(ctx, peer); err != nil {
		n.log.Warn("sync failed", "peer", string(peer), "err", err)
		return err
	}
	n.log.Info("sync complete", "peer", string(peer), "height", n.chain.Height())
	n.publishTipUpdate(n.chain.Height())
	return nil
}

func (n *Node) signDigest(digest common.Hash) ([]byte, error) {
	return cryptoutil.Sign(n.cfg.Keypair, digest[:]), nil
}

func (n *Node) rebuildCommittee(noms []minerchain.EpochNomination) *dag.Committee {
	validators := make([]dag.Validator, 0, len(noms))
	for _, nom := range noms {
		v, ok := n.cfg.Committee.Get(nom.NominatedPeerID)
		if !ok {
			continue
		}
		validators = append(validators, v)
	}
	return dag.NewCommittee(validators)
}

func (n *Node) onCommitteeRebuilt(c *dag.Committee) {
	n.log.Info("committee rebuilt", "size", c.Size(), "total_weight", c.TotalWeight())
	n.cfg.Committee = c
}

func (n *Node) onConsensusCommitted(round uint64, committed []*dag.Certificate, txs []dag.Transaction) {
	// Hook point for a datastore/application layer to apply txs; the
	// core orchestrator only needs to have produced the deterministic
	// commit order, per spec.md §4.5.6.
	_ = round
	_ = committed
	_ = txs
}

func (n *Node) handleMinerBlockGossip(from common.PeerID, payload []byte) {
	b, err := minerchain.DecodeBlock(payload)
	if err != nil {
		n.log.Debug("dropping malformed miner block", "from", string(from), "err", err)
		n.IgnorePeer(from, unixNow())
		return
	}
	canonical, err := n.chain.ProcessGossipedBlock(b)
	if err != nil {
		n.log.Debug("rejecting gossiped miner block", "from", string(from), "index", b.Header.Index, "err", err)
		n.IgnorePeer(from, unixNow())
		return
	}
	if canonical {
		n.publishTipUpdate(b.Header.Index)
	}
}

func (n *Node) handleDraftGossip(from common.PeerID, payload []byte) {
	h, err := dag.DecodeHeader(payload)
	if err != nil {
		return
	}
	n.consensus.HandleDraft(DraftMessage{Header: h})
}

func (n *Node) handleAckGossip(from common.PeerID, payload []byte) {
	a, err := dag.DecodeAck(payload)
	if err != nil {
		return
	}
	n.consensus.HandleAck(AckMessage{HeaderDigest: a.HeaderDigest, Signer: from, Signature: a.Signature})
}

func (n *Node) handleCertGossip(from common.PeerID, payload []byte) {
	cert, err := dag.DecodeCertificate(payload)
	if err != nil {
		n.log.Debug("dropping malformed certificate", "from", string(from), "err", err)
		n.IgnorePeer(from, unixNow())
		return
	}
	n.consensus.HandleCert(CertMessage{Cert: cert})
}

func (n *Node) handleBlockRangeRequest(from common.PeerID, payload []byte) ([]byte, error) {
	var req BlockRangeEnvelope
	if err := decodeJSON(payload, &req); err != nil {
		return nil, err
	}
	blocks := make([]*minerchain.Block, 0, req.Limit)
	for i := uint64(0); i < req.Limit; i++ {
		b, ok := n.chain.CanonicalAt(req.From + i)
		if !ok {
			break
		}
		blocks = append(blocks, b)
	}
	return minerchain.EncodeBlocks(blocks)
}

func (n *Node) handleFindAncestorRequest(from common.PeerID, payload []byte) ([]byte, error) {
	var req minerchain.FindAncestorRequest
	if err := decodeJSON(payload, &req); err != nil {
		return nil, err
	}
	if req.Probe != nil {
		b, ok := n.chain.CanonicalAt(req.Probe.Index)
		match := ok && b.Hash == req.Probe.Hash
		return encodeJSON(minerchain.FindAncestorResponse{Match: &match})
	}
	ladder := n.chain.MatchLocalCheckpoints(req.Checkpoints)
	return encodeJSON(minerchain.FindAncestorResponse{Ladder: &ladder})
}

func (n *Node) broadcastDraft(ctx context.Context, h dag.Header) error {
	payload, err := dag.EncodeHeader(h)
	if err != nil {
		return err
	}
	return n.publish(ctx, TopicDraftBlock, payload)
}

func (n *Node) broadcastAck(ctx context.Context, a AckMessage) error {
	payload, err := dag.EncodeAck(dag.Ack{HeaderDigest: a.HeaderDigest, Signature: a.Signature})
	if err != nil {
		return err
	}
	return n.publish(ctx, TopicBlockAck, payload)
}

func (n *Node) broadcastCert(ctx context.Context, c *dag.Certificate) error {
	payload, err := dag.EncodeCertificate(c)
	if err != nil {
		return err
	}
	return n.publish(ctx, TopicCertifiedBlock, payload)
}

func (n *Node) publish(ctx context.Context, topic string, payload []byte) error {
	if n.cfg.Gossip == nil {
		return nil
	}
	return n.cfg.Gossip.Publish(ctx, topic, payload)
}

func (n *Node) requestCheckpoints(ctx context.Context, peer common.PeerID, checkpoints []minerchain.Checkpoint) (minerchain.PeerCheckpointResponse, error) {
	payload, err := encodeJSON(minerchain.FindAncestorRequest{Checkpoints: checkpoints})
	if err != nil {
		return minerchain.PeerCheckpointResponse{}, err
	}
	raw, err := n.request(ctx, peer, RouteMinerBlockFindAncestor, payload)
	if err != nil {
		return minerchain.PeerCheckpointResponse{}, err
	}
	var resp minerchain.FindAncestorResponse
	if err := decodeJSON(raw, &resp); err != nil || resp.Ladder == nil {
		return minerchain.PeerCheckpointResponse{}, err
	}
	return *resp.Ladder, nil
}

func (n *Node) requestSingleCheckpoint(ctx context.Context, peer common.PeerID, index uint64, hash common.Hash) (bool, error) {
	payload, err := encodeJSON(minerchain.FindAncestorRequest{Probe: &minerchain.Checkpoint{Index: index, Hash: hash}})
	if err != nil {
		return false, err
	}
	raw, err := n.request(ctx, peer, RouteMinerBlockFindAncestor, payload)
	if err != nil {
		return false, err
	}
	var resp minerchain.FindAncestorResponse
	if err := decodeJSON(raw, &resp); err != nil || resp.Match == nil {
		return false, err
	}
	return *resp.Match, nil
}

func (n *Node) requestBlockRange(ctx context.Context, peer common.PeerID, from, limit uint64) ([]*minerchain.Block, error) {
	payload, err := MarshalBlockRangeRequest(from, limit)
	if err != nil {
		return nil, err
	}
	raw, err := n.request(ctx, peer, RouteMinerBlockRange, payload)
	if err != nil {
		return nil, err
	}
	return minerchain.DecodeBlocks(raw)
}

// request issues a reqres call to peer. The concrete ReqResChannel
// implementation is expected to correlate its own in-flight requests
// (e.g. via a RequestCorrelator keyed by outbound request id, the shape
// this package's RequestCorrelator provides) behind this blocking call.
func (n *Node) request(ctx context.Context, peer common.PeerID, route string, payload []byte) ([]byte, error) {
	if n.cfg.ReqRes == nil {
		return nil, fmt.Errorf("node: no reqres transport configured")
	}
	return n.cfg.ReqRes.Request(ctx, peer, route, payload)
}

func unixNow() int64 { return time.Now().Unix() }

func encodeJSON(v any) ([]byte, error) { return json.Marshal(v) }

func decodeJSON(payload []byte, v any) error { return json.Unmarshal(payload, v) }
