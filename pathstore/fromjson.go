package pathstore

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
)

// ValueFromJSON builds a typed Value for path from a raw JSON payload (as
// carried in a commit's `post` action body, spec.md §6.5), inferring the
// expected type from the path's suffix and decoding raw accordingly:
//   - .pubkey  — a hex or base64 32-byte string
//   - .balance — a JSON number (non-negative integer)
//   - .id      — a JSON string
//   - .text    — a JSON string
//   - .json    — passed through verbatim
//   - .raw     — a hex or base64 string
func ValueFromJSON(path string, raw json.RawMessage) (Value, error) {
	_, _, typ, err := ParsePath(path)
	if err != nil {
		return Value{}, err
	}
	switch typ {
	case TypePubkey:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Value{}, err
		}
		b, err := decodeHexOrBase64(s)
		if err != nil {
			return Value{}, err
		}
		return PubkeyValue(b), nil
	case TypeBalance:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return Value{}, err
		}
		v, err := strconv.ParseUint(n.String(), 10, 64)
		if err != nil {
			return Value{}, err
		}
		return BalanceValue(v), nil
	case TypeID:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Value{}, err
		}
		return IDValue(s), nil
	case TypeText:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Value{}, err
		}
		return TextValue(s), nil
	case TypeJSON:
		return JSONValue(raw), nil
	case TypeRaw:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Value{}, err
		}
		b, err := decodeHexOrBase64(s)
		if err != nil {
			return Value{}, err
		}
		return RawValue(b), nil
	default:
		return Value{}, ErrInvalidPath
	}
}

func decodeHexOrBase64(s string) ([]byte, error) {
	if b, err := hex.DecodeString(strings.TrimPrefix(s, "0x")); err == nil {
		return b, nil
	}
	return base64.StdEncoding.DecodeString(s)
}
