package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/onexay/pushwatch/internal/chew"
	"github.com/onexay/pushwatch/internal/types"
)

// Catalogue lists the trees served and the people known to the identity
// directory.
type Catalogue struct {
	Trees  []types.Tree   `yaml:"trees"`
	People []types.Person `yaml:"people"`
}

// LoadTrees reads a YAML catalogue. An empty path yields a catalogue holding
// only the local tree; a file without the local tree gets it appended.
func LoadTrees(path string) (Catalogue, error) {
	var cat Catalogue
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Catalogue{}, fmt.Errorf("read trees config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cat); err != nil {
			return Catalogue{}, fmt.Errorf("parse trees config %s: %w", path, err)
		}
	}

	seen := make(map[string]bool, len(cat.Trees))
	for i, t := range cat.Trees {
		if t.ID == "" || t.Name == "" {
			return Catalogue{}, fmt.Errorf("tree %d: id and name are required", i)
		}
		if seen[t.ID] || seen[t.Name] {
			return Catalogue{}, fmt.Errorf("tree %q declared twice", t.Name)
		}
		seen[t.ID] = true
		seen[t.Name] = true
	}
	if !seen[chew.LocalTreeID] {
		cat.Trees = append(cat.Trees, chew.LocalTree())
	}
	return cat, nil
}

// Tree finds a tree by name or id.
func (c Catalogue) Tree(name string) (types.Tree, bool) {
	for _, t := range c.Trees {
		if t.Name == name || t.ID == name {
			return t, true
		}
	}
	return types.Tree{}, false
}
