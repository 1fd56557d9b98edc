package pathstore

import (
	"encoding/json"
	"testing"

	"github.com/modality-org/modality-core/kvstore"
)

func newTestStore() *Store {
	return New(kvstore.NewMemStore().Namespace("test"), 0)
}

func TestParsePath(t *testing.T) {
	dir, name, typ, err := ParsePath("/members/alice.pubkey")
	if err != nil {
		t.Fatal(err)
	}
	if dir != "/members" || name != "alice" || typ != TypePubkey {
		t.Fatalf("got dir=%q name=%q typ=%q", dir, name, typ)
	}
}

func TestParsePathRejectsMissingType(t *testing.T) {
	if _, _, _, err := ParsePath("/members/alice"); err == nil {
		t.Fatal("expected error for path without type suffix")
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	s := newTestStore()
	if err := s.Set("/a.balance", BalanceValue(10)); err != nil {
		t.Fatal(err)
	}
	v, ok := s.Get("/a.balance")
	if !ok || v.Balance != 10 {
		t.Fatalf("got %+v ok=%v", v, ok)
	}
}

func TestTypeImmutable(t *testing.T) {
	s := newTestStore()
	if err := s.Set("/a.balance", BalanceValue(10)); err != nil {
		t.Fatal(err)
	}
	err := s.Set("/a.balance", TextValue("oops"))
	if err == nil {
		t.Fatal("expected type mismatch error")
	}
}

func TestBalanceNeverNegative(t *testing.T) {
	s := newTestStore()
	_, err := s.SubtractBalance("/a.balance", 1)
	if err != ErrBalanceUnderflow {
		t.Fatalf("expected underflow, got %v", err)
	}
}

func TestTransferBalanceConservesTotal(t *testing.T) {
	s := newTestStore()
	_, _ = s.AddBalance("/alice.balance", 100)
	_, _ = s.AddBalance("/bob.balance", 50)
	if err := s.TransferBalance("/alice.balance", "/bob.balance", 30); err != nil {
		t.Fatal(err)
	}
	a, _ := s.GetBalance("/alice.balance")
	b, _ := s.GetBalance("/bob.balance")
	if a != 70 || b != 80 {
		t.Fatalf("a=%d b=%d", a, b)
	}
}

func TestResolveMembersFromJSONArray(t *testing.T) {
	s := newTestStore()
	raw, _ := json.Marshal([]string{"pk1", "pk2"})
	if err := s.Set("/members.json", JSONValue(raw)); err != nil {
		t.Fatal(err)
	}
	members := s.ResolveMembers("/members")
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %v", members)
	}
}

func TestResolveMembersFromScan(t *testing.T) {
	s := newTestStore()
	_ = s.Set("/members/alice.id", IDValue("alice-id"))
	_ = s.Set("/members/bob.id", IDValue("bob-id"))
	members := s.ResolveMembers("/members")
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %v", members)
	}
}

func TestResolveMembersEmptyIsEmptySlice(t *testing.T) {
	s := newTestStore()
	members := s.ResolveMembers("/nobody")
	if len(members) != 0 {
		t.Fatalf("expected empty membership, got %v", members)
	}
}
