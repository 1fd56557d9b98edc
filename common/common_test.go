package common

import "testing"

func TestHashHexRoundTrip(t *testing.T) {
	h := BytesToHash([]byte("hello world hash"))
	s := h.Hex()
	h2 := HexToHash(s)
	if h != h2 {
		t.Fatalf("round trip mismatch: %s != %s", h, h2)
	}
}

func TestXORHashesSelfCancels(t *testing.T) {
	h := BytesToHash([]byte("a"))
	out := XORHashes([]Hash{h, h})
	if !out.IsZero() {
		t.Fatalf("expected zero, got %s", out)
	}
}

func TestSortHashesDeterministic(t *testing.T) {
	a := BytesToHash([]byte("aaa"))
	b := BytesToHash([]byte("zzz"))
	hs := []Hash{b, a}
	SortHashes(hs)
	if hs[0] != a || hs[1] != b {
		t.Fatalf("expected ascending order")
	}
}
