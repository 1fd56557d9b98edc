package kvstore

import "testing"

func TestNamespaceIsolation(t *testing.T) {
	s := NewMemStore()
	a := s.Namespace("a")
	b := s.Namespace("b")

	if err := a.Put("k", []byte("va")); err != nil {
		t.Fatal(err)
	}
	if err := b.Put("k", []byte("vb")); err != nil {
		t.Fatal(err)
	}

	va, ok := a.Get("k")
	if !ok || string(va) != "va" {
		t.Fatalf("expected va, got %q ok=%v", va, ok)
	}
	vb, ok := b.Get("k")
	if !ok || string(vb) != "vb" {
		t.Fatalf("expected vb, got %q ok=%v", vb, ok)
	}
}

func TestNamespaceDeleteAndHas(t *testing.T) {
	s := NewMemStore()
	ns := s.Namespace("x")
	_ = ns.Put("k", []byte("v"))
	if !ns.Has("k") {
		t.Fatal("expected key present")
	}
	_ = ns.Delete("k")
	if ns.Has("k") {
		t.Fatal("expected key gone")
	}
}

func TestNamespaceIterate(t *testing.T) {
	s := NewMemStore()
	ns := s.Namespace("idx")
	_ = ns.Put("block/0", []byte("b0"))
	_ = ns.Put("block/1", []byte("b1"))
	_ = ns.Put("other/0", []byte("o0"))

	var got []string
	ns.Iterate("block/", func(key string, value []byte) bool {
		got = append(got, key)
		return true
	})
	if len(got) != 2 {
		t.Fatalf("expected 2 keys, got %v", got)
	}
}
