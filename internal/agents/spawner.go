// Agent spawning: creates the commuter population for a topology.
package agents

import (
	"math/rand"
)

// SpawnConfig controls population generation.
type SpawnConfig struct {
	ResidentsPerLocation int     // Agents placed at each location
	CarProbability       float64 // Probability an agent's baseline is the car
}

// Spawner creates agents for the simulation.
type Spawner struct {
	rng *rand.Rand
}

// NewSpawner creates an agent spawner drawing from rng.
func NewSpawner(rng *rand.Rand) *Spawner {
	return &Spawner{rng: rng}
}

// SpawnPopulation creates cfg.ResidentsPerLocation agents for each of the
// given number of locations, in increasing location order, then draws each
// agent's baseline preference.
func (s *Spawner) SpawnPopulation(locations int, cfg SpawnConfig) Population {
	total := locations * cfg.ResidentsPerLocation
	pop := make(Population, 0, total)

	id := AgentID(0)
	for loc := 0; loc < locations; loc++ {
		for j := 0; j < cfg.ResidentsPerLocation; j++ {
			pop = append(pop, Agent{ID: id, HomeLocation: loc})
			id++
		}
	}

	// Preferences are drawn in a second pass so that the random stream
	// consumed depends only on the population size.
	for i := range pop {
		pop[i].PrefersCar = s.rng.Float64() < cfg.CarProbability
	}

	return pop
}
