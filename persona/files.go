package persona

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/m4xw311/frend/errors"
	"gopkg.in/yaml.v3"
)

// LoadFiles reads agent personas from YAML files matching the doublestar
// patterns, relative to root. A file holds either a single persona mapping
// or a sequence of them. Files are read in pattern order, then path order.
func LoadFiles(root string, patterns []string) ([]Persona, error) {
	fsys := os.DirFS(root)
	seen := make(map[string]bool)
	var out []Persona
	for _, pattern := range patterns {
		if !doublestar.ValidatePattern(pattern) {
			return nil, errors.New("invalid persona file pattern '%s'", pattern)
		}
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "could not expand persona pattern '%s'", pattern)
		}
		sort.Strings(matches)
		for _, m := range matches {
			if seen[m] {
				continue
			}
			seen[m] = true
			ps, err := loadFile(filepath.Join(root, filepath.FromSlash(m)))
			if err != nil {
				return nil, err
			}
			out = append(out, ps...)
		}
	}
	return out, nil
}

func loadFile(path string) ([]Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read persona file %s", path)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, errors.Wrapf(err, "could not parse persona file %s", path)
	}
	if len(node.Content) == 0 {
		return nil, nil
	}

	var ps []Persona
	switch node.Content[0].Kind {
	case yaml.SequenceNode:
		if err := node.Content[0].Decode(&ps); err != nil {
			return nil, errors.Wrapf(err, "could not decode personas in %s", path)
		}
	default:
		var p Persona
		if err := node.Content[0].Decode(&p); err != nil {
			return nil, errors.Wrapf(err, "could not decode persona in %s", path)
		}
		ps = append(ps, p)
	}
	return ps, nil
}

// yamlPersona mirrors Persona with an optional active flag.
type yamlPersona struct {
	Name   string `yaml:"name"`
	Prompt string `yaml:"prompt"`
	Active *bool  `yaml:"active"`
}

// UnmarshalYAML treats an omitted active flag as active, wherever personas
// are read from YAML: persona files and the agents of config files alike.
func (p *Persona) UnmarshalYAML(node *yaml.Node) error {
	var y yamlPersona
	if err := node.Decode(&y); err != nil {
		return err
	}
	active := true
	if y.Active != nil {
		active = *y.Active
	}
	*p = Persona{Name: y.Name, Prompt: y.Prompt, Active: active}
	return nil
}
