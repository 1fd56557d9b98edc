package node

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/modality-org/modality-core/common"
)

// Gossip topics (spec.md §4.6.4).
const (
	TopicMinerBlock     = "miner_block"
	TopicDraftBlock     = "draft_block"
	TopicCertifiedBlock = "certified_block"
	TopicBlockAck       = "block_ack"
)

// Reqres routes (spec.md §4.6.4).
const (
	RouteMinerBlockRange        = "/data/miner_block/range"
	RouteMinerBlockFindAncestor = "/data/miner_block/find_ancestor"
	RouteMinerBlockChainInfo    = "/data/miner_block/chain_info"
	RouteCertificateFetch       = "/data/dag/certificate"
	RouteCertificateSync        = "/data/dag/sync"
)

var ErrRequestTimeout = errors.New("node: request/response correlation timed out")

// pendingRequest is a one-shot receiver for a single outstanding
// request, keyed by a uuid the orchestrator generates per call
// (spec.md §4.6.4: "response correlation uses per-request one-shot
// channels keyed by outbound request id").
type pendingRequest struct {
	resp chan []byte
	err  chan error
}

// RequestCorrelator issues request ids and correlates each with a
// one-shot response channel, mirroring the handler/peers dispatch shape
// of tos-network-gtos/tos/bft_bridge.go generalized from a fixed vote/QC
// pair to an arbitrary keyed request.
type RequestCorrelator struct {
	mu      sync.Mutex
	pending map[string]pendingRequest
}

// NewRequestCorrelator builds an empty RequestCorrelator.
func NewRequestCorrelator() *RequestCorrelator {
	return &RequestCorrelator{pending: make(map[string]pendingRequest)}
}

// Send issues a new request id, registers a one-shot receiver for it,
// invokes send with the id, and waits for either a matching Resolve
// call or ctx cancellation.
func (c *RequestCorrelator) Send(ctx context.Context, send func(requestID string) error) ([]byte, error) {
	id := uuid.New().String()
	pr := pendingRequest{resp: make(chan []byte, 1), err: make(chan error, 1)}

	c.mu.Lock()
	c.pending[id] = pr
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := send(id); err != nil {
		return nil, err
	}

	select {
	case resp := <-pr.resp:
		return resp, nil
	case err := <-pr.err:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Resolve delivers payload to the receiver waiting on requestID, if
// any. It is a no-op for an unknown or already-resolved id.
func (c *RequestCorrelator) Resolve(requestID string, payload []byte) {
	c.mu.Lock()
	pr, ok := c.pending[requestID]
	c.mu.Unlock()
	if !ok {
		return
	}
	pr.resp <- payload
}

// Fail delivers err to the receiver waiting on requestID, if any.
func (c *RequestCorrelator) Fail(requestID string, err error) {
	c.mu.Lock()
	pr, ok := c.pending[requestID]
	c.mu.Unlock()
	if !ok {
		return
	}
	pr.err <- err
}

// GossipRouter dispatches inbound gossip payloads by topic and inbound
// reqres payloads by route to registered handlers.
type GossipRouter struct {
	mu             sync.RWMutex
	gossipHandlers map[string]func(from common.PeerID, payload []byte)
	reqresHandlers map[string]func(from common.PeerID, payload []byte) ([]byte, error)
}

// NewGossipRouter builds an empty GossipRouter.
func NewGossipRouter() *GossipRouter {
	return &GossipRouter{
		gossipHandlers: make(map[string]func(from common.PeerID, payload []byte)),
		reqresHandlers: make(map[string]func(from common.PeerID, payload []byte) ([]byte, error)),
	}
}

// OnGossip registers handler for topic.
func (r *GossipRouter) OnGossip(topic string, handler func(from common.PeerID, payload []byte)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gossipHandlers[topic] = handler
}

// OnReqRes registers handler for route.
func (r *GossipRouter) OnReqRes(route string, handler func(from common.PeerID, payload []byte) ([]byte, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqresHandlers[route] = handler
}

// DispatchGossip routes an inbound gossip message to its topic handler,
// if one is registered.
func (r *GossipRouter) DispatchGossip(topic string, from common.PeerID, payload []byte) {
	r.mu.RLock()
	h, ok := r.gossipHandlers[topic]
	r.mu.RUnlock()
	if ok {
		h(from, payload)
	}
}

// DispatchReqRes routes an inbound request to its route handler.
func (r *GossipRouter) DispatchReqRes(route string, from common.PeerID, payload []byte) ([]byte, error) {
	r.mu.RLock()
	h, ok := r.reqresHandlers[route]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.New("node: no handler registered for route " + route)
	}
	return h(from, payload)
}
