// Package pathstore implements the typed path→value map of spec.md §3.1
// and §4.1: a slash-separated, type-suffixed address space with checked
// balance arithmetic, membership-path resolution, and Ed25519 signature
// verification over path-resolved public keys.
package pathstore

import (
	"errors"
	"strings"
)

// ValueType is the recognized type suffix on the last path segment.
type ValueType string

const (
	TypePubkey  ValueType = "pubkey"
	TypeBalance ValueType = "balance"
	TypeID      ValueType = "id"
	TypeText    ValueType = "text"
	TypeJSON    ValueType = "json"
	TypeRaw     ValueType = "raw"
)

var (
	ErrInvalidPath      = errors.New("pathstore: path has no recognized type suffix")
	ErrTypeMismatch     = errors.New("pathstore: path type is immutable once set")
	ErrUnknownPath      = errors.New("pathstore: no value at path")
	ErrInvalidPublicKey = errors.New("pathstore: pubkey value must be 32 bytes")
	ErrNegativeBalance  = errors.New("pathstore: balance must not go negative")
	ErrBalanceOverflow  = errors.New("pathstore: balance overflow")
	ErrBalanceUnderflow = errors.New("pathstore: balance underflow")
)

// ParsePath splits a path into its directory portion, base name, and
// recognized ValueType, e.g. "/members/alice.pubkey" ->
// ("/members", "alice", TypePubkey).
func ParsePath(path string) (dir, name string, typ ValueType, err error) {
	clean := strings.TrimSuffix(path, "/")
	last := clean
	if idx := strings.LastIndex(clean, "/"); idx >= 0 {
		dir = clean[:idx]
		last = clean[idx+1:]
	}
	dotIdx := strings.LastIndex(last, ".")
	if dotIdx < 0 || dotIdx == len(last)-1 {
		return "", "", "", ErrInvalidPath
	}
	t := ValueType(last[dotIdx+1:])
	switch t {
	case TypePubkey, TypeBalance, TypeID, TypeText, TypeJSON, TypeRaw:
	default:
		return "", "", "", ErrInvalidPath
	}
	return dir, last[:dotIdx], t, nil
}

// NormalizeLeadingSlash strips a single leading "/" for prefix comparisons
// (spec.md §6.1: "Leading / normalized away").
func NormalizeLeadingSlash(p string) string {
	return strings.TrimPrefix(p, "/")
}
