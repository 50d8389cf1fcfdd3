// Package agents provides the commuter data model and population generation.
package agents

// AgentID is a unique identifier for an agent within one population.
type AgentID uint32

// Agent is one commuter. Agents are immutable once spawned; a new population
// is generated on every re-initialization.
type Agent struct {
	ID           AgentID `json:"id"`
	HomeLocation int     `json:"home_location"` // Index into the topology
	PrefersCar   bool    `json:"prefers_car"`   // Baseline preference, car over bike
}

// Population is the ordered set of agents, grouped by home location in
// increasing location order.
type Population []Agent

// CountAt returns the number of agents living at the given location.
func (p Population) CountAt(location int) int {
	n := 0
	for _, a := range p {
		if a.HomeLocation == location {
			n++
		}
	}
	return n
}

// CarPreferring returns the number of agents whose baseline is the car.
func (p Population) CarPreferring() int {
	n := 0
	for _, a := range p {
		if a.PrefersCar {
			n++
		}
	}
	return n
}
