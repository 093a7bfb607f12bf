package lookupd

import "testing"

func TestRoundRobinSelection_Rotates(t *testing.T) {
	s := RoundRobinSelection{}
	rot := &rotationCounter{}
	candidates := []AddressResult{{Address: "a"}, {Address: "b"}, {Address: "c"}}

	want := []string{"a", "b", "c", "a", "b"}
	for i, w := range want {
		got, err := s.ChooseOne(rot, candidates)
		if err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
		if got.Address != w {
			t.Errorf("call %d: got %q, want %q", i, got.Address, w)
		}
	}
}

func TestRoundRobinSelection_EmptyArray(t *testing.T) {
	s := RoundRobinSelection{}
	_, err := s.ChooseOne(&rotationCounter{}, nil)
	if err != errEmptyArray {
		t.Fatalf("expected errEmptyArray, got %v", err)
	}
}

func TestRoundRobinSelection_DistinctCountersAreIndependent(t *testing.T) {
	s := RoundRobinSelection{}
	rotA := &rotationCounter{}
	rotB := &rotationCounter{}
	candidates := []AddressResult{{Address: "x"}, {Address: "y"}}

	a0, _ := s.ChooseOne(rotA, candidates)
	b0, _ := s.ChooseOne(rotB, candidates)
	if a0.Address != "x" || b0.Address != "x" {
		t.Fatalf("expected both counters to start at index 0, got %q and %q", a0.Address, b0.Address)
	}
}
