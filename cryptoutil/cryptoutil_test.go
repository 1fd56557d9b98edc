package cryptoutil

import (
	stded25519 "crypto/ed25519"
	"testing"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := stded25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	msg := []byte("commit head bytes")
	sig := Sign(priv, msg)
	if !Verify(pub, msg, sig) {
		t.Fatal("expected signature to verify")
	}
	if Verify(pub, []byte("tampered"), sig) {
		t.Fatal("expected signature over different message to fail")
	}
}

func TestCanonicalKeyOrderingIsDeterministic(t *testing.T) {
	a := map[string]any{"b": 1, "a": 2, "c": []any{3, 2, 1}}
	out1, err := Canonical(a)
	if err != nil {
		t.Fatal(err)
	}
	out2, err := Canonical(map[string]any{"c": []any{3, 2, 1}, "a": 2, "b": 1})
	if err != nil {
		t.Fatal(err)
	}
	if string(out1) != string(out2) {
		t.Fatalf("expected identical canonical bytes, got %q vs %q", out1, out2)
	}
	want := `{"a":2,"b":1,"c":[3,2,1]}`
	if string(out1) != want {
		t.Fatalf("got %q want %q", out1, want)
	}
}

func TestCanonicalWithoutDropsField(t *testing.T) {
	type head struct {
		Prev       string `json:"prev"`
		Signatures []int  `json:"signatures"`
	}
	out, err := CanonicalWithout(head{Prev: "x", Signatures: []int{1, 2}}, "signatures")
	if err != nil {
		t.Fatal(err)
	}
	want := `{"prev":"x"}`
	if string(out) != want {
		t.Fatalf("got %q want %q", out, want)
	}
}
