package minerchain

import "encoding/json"

// DecodeBlock decodes a single gossiped block (spec.md §4.6.4's
// miner_block topic payload).
func DecodeBlock(payload []byte) (*Block, error) {
	var b Block
	if err := json.Unmarshal(payload, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// EncodeBlocks encodes a block range response (spec.md §4.6.4's
// /data/miner_block/range route).
func EncodeBlocks(blocks []*Block) ([]byte, error) {
	return json.Marshal(blocks)
}

// DecodeBlocks decodes a block range response.
func DecodeBlocks(payload []byte) ([]*Block, error) {
	var blocks []*Block
	if err := json.Unmarshal(payload, &blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}

// FindAncestorRequest is the /data/miner_block/find_ancestor wire
// request. It is either the initial checkpoint ladder (spec.md §4.4.6
// step 2) or a single binary-search probe (step 5); exactly one of the
// two fields is set.
type FindAncestorRequest struct {
	Checkpoints []Checkpoint `json:"checkpoints,omitempty"`
	Probe       *Checkpoint  `json:"probe,omitempty"`
}

// FindAncestorResponse is the matching wire response: a full ladder
// match response, or a single probe match bit.
type FindAncestorResponse struct {
	Ladder *PeerCheckpointResponse `json:"ladder,omitempty"`
	Match  *bool                   `json:"match,omitempty"`
}
