package world

import "testing"

func TestNewTopology(t *testing.T) {
	topo := NewTopology(NumLocations)

	if topo.Len() != NumLocations {
		t.Fatalf("expected %d locations, got %d", NumLocations, topo.Len())
	}
	for i, loc := range topo.Locations {
		if loc.Index != i {
			t.Errorf("location %d: expected index %d, got %d", i, i, loc.Index)
		}
		if i > 0 && loc.Distance <= topo.Locations[i-1].Distance {
			t.Errorf("location %d: distance %.1f not greater than previous %.1f", i, loc.Distance, topo.Locations[i-1].Distance)
		}
	}
}

func TestInBounds(t *testing.T) {
	topo := NewTopology(NumLocations)
	tests := []struct {
		idx  int
		want bool
	}{
		{-1, false},
		{0, true},
		{9, true},
		{10, false},
	}
	for _, tt := range tests {
		if got := topo.InBounds(tt.idx); got != tt.want {
			t.Errorf("InBounds(%d) = %v, want %v", tt.idx, got, tt.want)
		}
	}
}

func TestDownstream(t *testing.T) {
	topo := NewTopology(NumLocations)
	if !topo.Downstream(5, 3) {
		t.Error("expected location 5 to be downstream of 3")
	}
	if !topo.Downstream(3, 3) {
		t.Error("expected a location to be downstream of itself")
	}
	if topo.Downstream(1, 3) {
		t.Error("expected location 1 not to be downstream of 3")
	}
}
