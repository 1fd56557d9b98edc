package pathstore

import "encoding/json"

// Value is a typed value stored at a path. Exactly one of the typed
// fields is meaningful, selected by Type.
type Value struct {
	Type    ValueType       `json:"type"`
	Pubkey  []byte          `json:"pubkey,omitempty"`
	Balance uint64          `json:"balance,omitempty"`
	ID      string          `json:"id,omitempty"`
	Text    string          `json:"text,omitempty"`
	JSON    json.RawMessage `json:"json,omitempty"`
	Raw     []byte          `json:"raw,omitempty"`
}

func PubkeyValue(pub []byte) Value  { return Value{Type: TypePubkey, Pubkey: pub} }
func BalanceValue(n uint64) Value   { return Value{Type: TypeBalance, Balance: n} }
func IDValue(id string) Value       { return Value{Type: TypeID, ID: id} }
func TextValue(s string) Value      { return Value{Type: TypeText, Text: s} }
func RawValue(b []byte) Value       { return Value{Type: TypeRaw, Raw: b} }
func JSONValue(raw json.RawMessage) Value {
	return Value{Type: TypeJSON, JSON: raw}
}

func encodeValue(v Value) ([]byte, error) {
	return json.Marshal(v)
}

func decodeValue(b []byte) (Value, error) {
	var v Value
	if err := json.Unmarshal(b, &v); err != nil {
		return Value{}, err
	}
	return v, nil
}
