// Package environment models the day-to-day conditions commuters face:
// spells of bad weather and roadworks on the commuting road.
//
// Each condition is a Track, a small duration-bounded state machine. In auto
// mode a track starts spells at random and counts them down; in manual mode
// an operator switches it on and off directly.
package environment

// Kind identifies what a track models.
type Kind uint8

const (
	KindWeather   Kind = 0
	KindRoadworks Kind = 1
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindWeather:
		return "weather"
	case KindRoadworks:
		return "roadworks"
	default:
		return "unknown"
	}
}

// NoLocation marks a track that is not tied to a road location.
const NoLocation = -1

// Source is the randomness a track consumes. *rand.Rand satisfies it.
type Source interface {
	Float64() float64
	Intn(n int) int
}

// Schedule holds the auto-mode parameters for a track.
type Schedule struct {
	StartProbability float64 `json:"start_probability"` // Chance per idle day of a spell starting
	MaxDuration      int     `json:"max_duration"`      // Longest extra days a spell may run
}

// Track is one environmental event stream.
type Track struct {
	Kind          Kind `json:"kind"`
	Active        bool `json:"active"`
	DaysRemaining int  `json:"days_remaining"` // Auto mode only
	Auto          bool `json:"auto"`
	Location      int  `json:"location"` // Roadworks only; NoLocation otherwise
}

// NewTrack creates an inactive track in manual mode.
func NewTrack(kind Kind) Track {
	return Track{Kind: kind, Location: NoLocation}
}

// Clear deactivates the track and drops any remaining spell. The auto flag is
// an operator choice and survives.
func (t *Track) Clear() {
	t.Active = false
	t.DaysRemaining = 0
	t.Location = NoLocation
}

// Advance moves the track on by one day. Manual-mode tracks are left as the
// operator set them. locations is the number of road locations a roadworks
// spell may be placed at.
func (t *Track) Advance(rng Source, s Schedule, locations int) {
	if !t.Auto {
		return
	}

	if t.DaysRemaining > 0 {
		t.DaysRemaining--
		return
	}

	if rng.Float64() < s.StartProbability {
		t.Active = true
		t.DaysRemaining = int(rng.Float64()*float64(s.MaxDuration) + 0.5)
		if t.Kind == KindRoadworks && locations > 0 {
			t.Location = rng.Intn(locations)
		}
		return
	}

	t.Active = false
}

// Set switches the track on or off by hand. For roadworks, location is the
// affected road location; a negative location is drawn at random from rng.
func (t *Track) Set(active bool, location int, rng Source, locations int) {
	t.Active = active
	if !active || t.Kind != KindRoadworks {
		return
	}
	if location < 0 && locations > 0 {
		location = rng.Intn(locations)
	}
	t.Location = location
}
