package node

import (
	"context"
	"sync"

	"github.com/modality-org/modality-core/dag"
	"github.com/modality-org/modality-core/minerchain"
)

// EpochTransition is broadcast when a block completes an epoch (spec.md
// §4.6.5): the id of the epoch that just finished and its shuffled
// nomination order, ready for committee reconstruction.
type EpochTransition struct {
	Epoch     uint64
	Nominated []minerchain.EpochNomination
}

// EpochSignaler implements minerchain.ChainObserver's OnEpochComplete
// half by fanning a new EpochTransition out to subscribers, and
// (when hybrid consensus is enabled) rebuilding the DAG committee from
// the completed epoch's shuffled nominations. Grounded on
// tos-network-gtos/consensus/dpos's snapshot-rebuild-at-epoch-boundary
// idiom, generalized from an in-process call to a broadcast fan-out.
type EpochSignaler struct {
	mu          sync.Mutex
	subscribers []func(EpochTransition)

	hybrid           bool
	committeeBuilder func([]minerchain.EpochNomination) *dag.Committee
	onCommittee      func(*dag.Committee)
}

// NewEpochSignaler builds an EpochSignaler. When hybrid is true,
// committeeBuilder and onCommittee must be non-nil: each completed
// epoch's nominations are turned into a dag.Committee and handed to
// onCommittee.
func NewEpochSignaler(hybrid bool, committeeBuilder func([]minerchain.EpochNomination) *dag.Committee, onCommittee func(*dag.Committee)) *EpochSignaler {
	return &EpochSignaler{
		hybrid:           hybrid,
		committeeBuilder: committeeBuilder,
		onCommittee:      onCommittee,
	}
}

// Subscribe registers handler to be called on every epoch transition.
func (s *EpochSignaler) Subscribe(handler func(EpochTransition)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, handler)
}

// OnEpochComplete fans out the transition and, in hybrid mode, rebuilds
// the DAG committee (spec.md §4.6.5). It satisfies one method of
// minerchain.ChainObserver; the other two are no-ops left to the
// orchestrator's own observer composition.
func (s *EpochSignaler) OnEpochComplete(epoch uint64, shuffled []minerchain.EpochNomination) {
	transition := EpochTransition{Epoch: epoch, Nominated: shuffled}

	s.mu.Lock()
	subs := make([]func(EpochTransition), len(s.subscribers))
	copy(subs, s.subscribers)
	s.mu.Unlock()

	for _, sub := range subs {
		sub(transition)
	}

	if s.hybrid && s.committeeBuilder != nil && s.onCommittee != nil {
		s.onCommittee(s.committeeBuilder(shuffled))
	}
}

// BroadcastEpochTransition publishes transition on the epoch gossip
// topic via broadcaster, the wire-level half of Subscribe for remote
// validators.
func BroadcastEpochTransition(ctx context.Context, broadcaster GossipBroadcaster, topic string, transition EpochTransition, marshal func(EpochTransition) ([]byte, error)) error {
	payload, err := marshal(transition)
	if err != nil {
		return err
	}
	return broadcaster.Publish(ctx, topic, payload)
}

// TopicEpochTransition is the gossip topic epoch transitions are
// broadcast on (spec.md §4.6.5).
const TopicEpochTransition = "epoch_transition"
