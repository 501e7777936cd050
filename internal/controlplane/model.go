// Package controlplane provides read-only query hooks over a project's
// component model: write-scope derivation from declared file paths, and
// blast-radius reporting over the component dependency graph.
package controlplane

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Component is one entry in the component model.
type Component struct {
	// Name identifies the component; it becomes part of derived resource
	// names.
	Name string `yaml:"name"`

	// Paths are the repository path prefixes this component owns.
	Paths []string `yaml:"paths"`

	// DependsOn lists components this one depends on.
	DependsOn []string `yaml:"depends_on,omitempty"`
}

// Model is the loaded component model plus its ownership index.
type Model struct {
	Components []Component `yaml:"components"`

	byName map[string]*Component
	// ownership maps each declared path prefix to its component, used for
	// longest-prefix matching.
	ownership map[string]string
}

// LoadModel reads a component model from a YAML file.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read component model: %w", err)
	}
	var m Model
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse component model: %w", err)
	}
	if err := m.index(); err != nil {
		return nil, err
	}
	return &m, nil
}

// NewModel builds a model from in-memory components, validating names and
// dependency references.
func NewModel(components []Component) (*Model, error) {
	m := &Model{Components: components}
	if err := m.index(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Model) index() error {
	m.byName = make(map[string]*Component, len(m.Components))
	m.ownership = make(map[string]string)
	for i := range m.Components {
		c := &m.Components[i]
		if c.Name == "" {
			return fmt.Errorf("component model: component %d has no name", i)
		}
		if _, dup := m.byName[c.Name]; dup {
			return fmt.Errorf("component model: duplicate component %q", c.Name)
		}
		m.byName[c.Name] = c
		for _, p := range c.Paths {
			m.ownership[normalizePrefix(p)] = c.Name
		}
	}
	for _, c := range m.Components {
		for _, dep := range c.DependsOn {
			if m.byName[dep] == nil {
				return fmt.Errorf("component model: %s depends on unknown component %q", c.Name, dep)
			}
		}
	}
	return nil
}

// Owner returns the component owning a file path by longest declared
// prefix, or "" if no component claims it.
func (m *Model) Owner(file string) string {
	file = strings.TrimPrefix(file, "./")
	best, bestLen := "", -1
	for prefix, name := range m.ownership {
		if strings.HasPrefix(file, prefix) && len(prefix) > bestLen {
			best, bestLen = name, len(prefix)
		}
	}
	return best
}

// Dependents returns the components that transitively depend on any of the
// given components, excluding the inputs themselves. This is the blast
// radius of a change.
func (m *Model) Dependents(names []string) []string {
	reverse := make(map[string][]string)
	for _, c := range m.Components {
		for _, dep := range c.DependsOn {
			reverse[dep] = append(reverse[dep], c.Name)
		}
	}

	seed := make(map[string]bool, len(names))
	for _, n := range names {
		seed[n] = true
	}
	seen := make(map[string]bool)
	queue := append([]string(nil), names...)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		for _, dependent := range reverse[name] {
			if !seen[dependent] {
				seen[dependent] = true
				queue = append(queue, dependent)
			}
		}
	}

	var out []string
	for name := range seen {
		if !seed[name] {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func normalizePrefix(p string) string {
	p = strings.TrimPrefix(p, "./")
	if p != "" && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}
