package environment

// Conditions is an immutable view of the environment for one day.
type Conditions struct {
	Rain              bool `json:"rain"`
	Roadworks         bool `json:"roadworks"`
	RoadworksLocation int  `json:"roadworks_location"`
}

// RoadworksAffect reports whether roadworks lie on the route from home to
// work: they hit their own location and everyone commuting from further out.
func (c Conditions) RoadworksAffect(home int) bool {
	return c.Roadworks && c.RoadworksLocation != NoLocation && home >= c.RoadworksLocation
}

// State holds both environment tracks.
type State struct {
	Weather   Track `json:"weather"`
	Roadworks Track `json:"roadworks"`
}

// NewState creates an environment with both tracks inactive and in manual mode.
func NewState() State {
	return State{
		Weather:   NewTrack(KindWeather),
		Roadworks: NewTrack(KindRoadworks),
	}
}

// Clear deactivates both tracks.
func (s *State) Clear() {
	s.Weather.Clear()
	s.Roadworks.Clear()
}

// Advance moves both tracks on by one day.
func (s *State) Advance(rng Source, weather, roadworks Schedule, locations int) {
	s.Weather.Advance(rng, weather, locations)
	s.Roadworks.Advance(rng, roadworks, locations)
}

// Conditions returns today's conditions.
func (s *State) Conditions() Conditions {
	return Conditions{
		Rain:              s.Weather.Active,
		Roadworks:         s.Roadworks.Active,
		RoadworksLocation: s.Roadworks.Location,
	}
}
