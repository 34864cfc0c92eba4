package store

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/streamhub/streamhub/pkg/types"
)

//go:embed seed.yaml
var defaultSeed []byte

// Seed is the initial dataset loaded at process start.
type Seed struct {
	Users   []types.User   `yaml:"users"`
	Streams []types.Stream `yaml:"streams"`
	Follows []SeedFollow   `yaml:"follows"`
}

// SeedFollow is one follow edge in a seed file.
type SeedFollow struct {
	Follower  string `yaml:"follower"`
	Following string `yaml:"following"`
}

// LoadSeed reads a seed file. An empty path returns the built-in demo dataset.
func LoadSeed(path string) (*Seed, error) {
	data := defaultSeed
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("seed: read %q: %w", path, err)
		}
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("seed: parse yaml: %w", err)
	}
	return &seed, nil
}

// Apply creates every user, stream and follow edge in seed. Users are created
// first so streams and edges can reference them. The first failure aborts.
func (s *Store) Apply(seed *Seed) error {
	for _, u := range seed.Users {
		if _, err := s.CreateUser(u); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}
	for _, st := range seed.Streams {
		if _, err := s.CreateStream(st); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}
	for _, f := range seed.Follows {
		if _, err := s.Follow(f.Follower, f.Following); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}
	return nil
}
