package assemble

import (
	"math/rand/v2"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-sync/internal/model"
)

// TeamChooser picks a team for a lead whose city matched no team.
type TeamChooser interface {
	Choose(candidates []model.SalesTeam) (model.SalesTeam, bool)
}

// RandomChooser picks uniformly at random.
type RandomChooser struct {
	rng *rand.Rand
}

// NewRandomChooser uses the runtime's global source.
func NewRandomChooser() *RandomChooser {
	return &RandomChooser{}
}

// NewSeededChooser uses a deterministic PCG source.
func NewSeededChooser(seed uint64) *RandomChooser {
	return &RandomChooser{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (c *RandomChooser) Choose(candidates []model.SalesTeam) (model.SalesTeam, bool) {
	if len(candidates) == 0 {
		return model.SalesTeam{}, false
	}
	var i int
	if c.rng != nil {
		i = c.rng.IntN(len(candidates))
	} else {
		i = rand.IntN(len(candidates))
	}
	return candidates[i], true
}

// FirstChooser always picks the first candidate.
type FirstChooser struct{}

func (FirstChooser) Choose(candidates []model.SalesTeam) (model.SalesTeam, bool) {
	if len(candidates) == 0 {
		return model.SalesTeam{}, false
	}
	return candidates[0], true
}

// NoneChooser never assigns a fallback team.
type NoneChooser struct{}

func (NoneChooser) Choose([]model.SalesTeam) (model.SalesTeam, bool) {
	return model.SalesTeam{}, false
}

// ChooserFor maps a configured fallback policy name to a TeamChooser.
func ChooserFor(policy string) (TeamChooser, error) {
	switch policy {
	case "", "random":
		return NewRandomChooser(), nil
	case "first":
		return FirstChooser{}, nil
	case "none":
		return NoneChooser{}, nil
	default:
		return nil, eris.Errorf("assemble: unknown team fallback %q", policy)
	}
}
