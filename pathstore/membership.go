package pathstore

import (
	"encoding/json"
	"strings"

	mapset "github.com/deckarep/golang-set"
)

// ResolveMembers resolves a path prefix (e.g. "/members") to the list of
// pubkey/id strings it names, per spec.md §4.1: either (a) an array value
// at "<prefix>.json", or (b) a scan of "<prefix>/<name>.id" and
// "<prefix>/<name>.pubkey" keys. Empty membership is a valid, non-error
// result: callers decide vacuous truth per predicate (spec.md §4.2).
func (s *Store) ResolveMembers(prefix string) []string {
	prefix = strings.TrimSuffix(prefix, "/")

	if v, ok := s.Get(prefix + ".json"); ok && v.Type == TypeJSON {
		var arr []string
		if err := json.Unmarshal(v.JSON, &arr); err == nil {
			return arr
		}
	}

	members := mapset.NewSet()
	scanDir := prefix + "/"
	s.ns.Iterate(scanDir, func(key string, raw []byte) bool {
		suffix := key[len(scanDir):]
		if strings.HasSuffix(suffix, ".id") || strings.HasSuffix(suffix, ".pubkey") {
			v, err := decodeValue(raw)
			if err != nil {
				return true
			}
			switch v.Type {
			case TypeID:
				members.Add(v.ID)
			case TypePubkey:
				members.Add(hexEncode(v.Pubkey))
			}
		}
		return true
	})

	out := make([]string, 0, members.Cardinality())
	for _, m := range members.ToSlice() {
		out = append(out, m.(string))
	}
	return out
}

func hexEncode(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexDigits[c>>4]
		out[i*2+1] = hexDigits[c&0xf]
	}
	return "0x" + string(out)
}
