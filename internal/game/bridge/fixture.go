package bridge

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// World is the YAML document a FixtureCreator serves.
type World struct {
	InaccessibleLocations []string `yaml:"inaccessible_locations"`
	Villagers             []struct {
		ID    string `yaml:"id"`
		Title string `yaml:"title"`
	} `yaml:"villagers"`
}

// FixtureCreator serves the same world for every game, under a fresh game id.
type FixtureCreator struct {
	world World
}

// NewFixtureCreator wraps an already parsed world.
func NewFixtureCreator(world World) *FixtureCreator {
	return &FixtureCreator{world: world}
}

// LoadFixture reads a world YAML file.
//
// Precondition: path must name a readable YAML file.
// Postcondition: Returns a FixtureCreator or a non-nil error.
func LoadFixture(path string) (*FixtureCreator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading world fixture %q: %w", path, err)
	}
	return ParseFixture(data)
}

// ParseFixture decodes a world YAML document.
func ParseFixture(data []byte) (*FixtureCreator, error) {
	var w World
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("parsing world fixture: %w", err)
	}
	if len(w.Villagers) == 0 {
		return nil, fmt.Errorf("parsing world fixture: no villagers defined")
	}
	return NewFixtureCreator(w), nil
}

// CreateGame returns a copy of the fixture world. Difficulty is ignored.
func (f *FixtureCreator) CreateGame(ctx context.Context, _ string) (Game, error) {
	if err := ctx.Err(); err != nil {
		return Game{}, err
	}
	locs := make([]string, len(f.world.InaccessibleLocations))
	copy(locs, f.world.InaccessibleLocations)

	villagers := make([]Villager, 0, len(f.world.Villagers))
	for i, v := range f.world.Villagers {
		id := v.ID
		if id == "" {
			id = villagerID(i)
		}
		villagers = append(villagers, Villager{ID: id, Title: v.Title})
	}
	return Game{
		ID:                    uuid.NewString(),
		InaccessibleLocations: locs,
		Villagers:             villagers,
	}, nil
}
