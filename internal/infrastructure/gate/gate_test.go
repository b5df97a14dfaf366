package gate

import "testing"

func TestGate_RejectsAfterStartRejecting(t *testing.T) {
	g := New()
	guard, err := g.Admit()
	if err != nil {
		t.Fatalf("Admit before draining: %v", err)
	}
	guard.Release()

	g.StartRejecting()
	if _, err := g.Admit(); err == nil {
		t.Fatal("expected Admit to fail while rejecting")
	}
}

func TestGate_InFlightReturnsToZeroAfterDrain(t *testing.T) {
	g := New()
	guards := make([]*Guard, 0, 5)
	for i := 0; i < 5; i++ {
		guard, err := g.Admit()
		if err != nil {
			t.Fatalf("Admit: %v", err)
		}
		guards = append(guards, guard)
	}
	if g.InFlight() != 5 {
		t.Fatalf("expected in_flight 5, got %d", g.InFlight())
	}

	g.StartRejecting()
	for _, guard := range guards {
		guard.Release()
	}
	if g.InFlight() != 0 {
		t.Fatalf("expected in_flight 0 after drain, got %d", g.InFlight())
	}
}
