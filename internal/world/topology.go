// Package world describes the commuting corridor: a single work area at the end
// of an arterial road, with residential locations strung out along it.
package world

// NumLocations is the number of residential locations along the road.
const NumLocations = 10

// Location is one residential centre on the road.
type Location struct {
	Index    int     `json:"index"`
	Distance float64 `json:"distance"` // Road distance to the work area, in location spacings
}

// Topology is the ordered set of locations, nearest to the work area first.
type Topology struct {
	Locations []Location `json:"locations"`
}

// NewTopology lays out n locations at unit spacing from the work area.
// Location 0 sits at the work area itself.
func NewTopology(n int) *Topology {
	t := &Topology{Locations: make([]Location, n)}
	for i := range t.Locations {
		t.Locations[i] = Location{Index: i, Distance: float64(i)}
	}
	return t
}

// Len returns the number of locations.
func (t *Topology) Len() int {
	return len(t.Locations)
}

// InBounds reports whether idx names a location on this road.
func (t *Topology) InBounds(idx int) bool {
	return idx >= 0 && idx < len(t.Locations)
}

// Downstream reports whether home lies at or beyond the given location,
// i.e. whether a commuter from home must pass through it to reach work.
func (t *Topology) Downstream(home, at int) bool {
	return home >= at
}
