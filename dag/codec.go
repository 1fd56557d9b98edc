package dag

import (
	"encoding/json"

	"github.com/modality-org/modality-core/common"
)

// Ack is a committee member's vote over a draft header's digest, the
// wire form of a handleDraft response (spec.md §4.6.6's "acks").
type Ack struct {
	HeaderDigest common.Hash `json:"header_digest"`
	Signature    []byte      `json:"signature"`
}

// EncodeHeader encodes a draft header for gossip.
func EncodeHeader(h Header) ([]byte, error) {
	return json.Marshal(h)
}

// DecodeHeader decodes a gossiped draft header.
func DecodeHeader(payload []byte) (Header, error) {
	var h Header
	if err := json.Unmarshal(payload, &h); err != nil {
		return Header{}, err
	}
	return h, nil
}

// EncodeCertificate encodes a certificate for gossip.
func EncodeCertificate(c *Certificate) ([]byte, error) {
	return json.Marshal(c)
}

// DecodeCertificate decodes a gossiped certificate.
func DecodeCertificate(payload []byte) (*Certificate, error) {
	var c Certificate
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// EncodeAck encodes an ack for gossip.
func EncodeAck(a Ack) ([]byte, error) {
	return json.Marshal(a)
}

// DecodeAck decodes a gossiped ack.
func DecodeAck(payload []byte) (Ack, error) {
	var a Ack
	if err := json.Unmarshal(payload, &a); err != nil {
		return Ack{}, err
	}
	return a, nil
}
