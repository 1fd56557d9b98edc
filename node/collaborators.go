// Package node wires the miner chain (minerchain) and DAG consensus
// (dag) packages into a single running orchestrator: lifecycle, sync
// trigger/mining pause, peer-ignore backoff, gossip/reqres routing,
// epoch transition signaling, and the Shoal consensus runner (spec.md
// §4.6). It is written against three external collaborator interfaces
// the core treats as boundaries rather than concrete dependencies
// (spec.md §1): a gossip broadcaster, a correlated request/response
// channel, and a peer identity service.
package node

import (
	"context"

	"github.com/modality-org/modality-core/common"
)

// GossipBroadcaster publishes and receives messages on pub/sub topics.
// The concrete transport (e.g. a libp2p gossipsub mesh) lives outside
// this module.
type GossipBroadcaster interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(topic string, handler func(from common.PeerID, payload []byte)) error
}

// ReqResChannel sends a unicast request to a peer and correlates its
// response, or registers a handler that answers inbound requests on a
// route.
type ReqResChannel interface {
	Request(ctx context.Context, peer common.PeerID, route string, payload []byte) ([]byte, error)
	HandleRoute(route string, handler func(from common.PeerID, payload []byte) ([]byte, error))
}

// PeerIdentityService resolves and dials peers, and reports this node's
// own identity.
type PeerIdentityService interface {
	Self() common.PeerID
	Peers() []common.PeerID
	Dial(ctx context.Context, peer common.PeerID) error
}
