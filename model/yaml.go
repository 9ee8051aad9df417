package model

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// modelDoc is the on-disk shape of a model file.
type modelDoc struct {
	Interfaces []interfaceDoc `yaml:"interfaces"`
	Entities   []entityDoc    `yaml:"entities"`
}

type interfaceDoc struct {
	Name       string        `yaml:"name"`
	Properties []propertyDoc `yaml:"properties"`
}

type entityDoc struct {
	Name        string          `yaml:"name"`
	Table       string          `yaml:"table,omitempty"`
	Base        string          `yaml:"base,omitempty"`
	PerType     bool            `yaml:"per_type,omitempty"`
	Interfaces  []string        `yaml:"interfaces,omitempty"`
	Properties  []propertyDoc   `yaml:"properties"`
	Navigations []navigationDoc `yaml:"navigations,omitempty"`
}

type propertyDoc struct {
	Name   string `yaml:"name"`
	Column string `yaml:"column,omitempty"`
	Type   string `yaml:"type"`
	Key    bool   `yaml:"key,omitempty"`
}

type navigationDoc struct {
	Name   string            `yaml:"name"`
	Target string            `yaml:"target"`
	Many   bool              `yaml:"many,omitempty"`
	FK     map[string]string `yaml:"fk,omitempty"` // from property -> to property
	FKPair [][]string        `yaml:"fk_pairs,omitempty"`
}

// LoadYAMLFile reads a model definition from a YAML file.
func LoadYAMLFile(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model file: %w", err)
	}
	return LoadYAML(data)
}

// LoadYAML parses a model definition. Interfaces are registered before
// entities, and entities in document order, so base types must precede
// derived ones.
func LoadYAML(data []byte) (*Model, error) {
	var doc modelDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse model: %w", err)
	}

	m := New()
	for _, id := range doc.Interfaces {
		props, err := buildProperties(id.Properties)
		if err != nil {
			return nil, fmt.Errorf("interface %q: %w", id.Name, err)
		}
		if err := m.AddInterface(&Interface{Name: id.Name, Properties: props}); err != nil {
			return nil, err
		}
	}
	for _, ed := range doc.Entities {
		props, err := buildProperties(ed.Properties)
		if err != nil {
			return nil, fmt.Errorf("entity %q: %w", ed.Name, err)
		}
		et := &EntityType{
			Name:       ed.Name,
			Table:      ed.Table,
			Base:       ed.Base,
			Interfaces: ed.Interfaces,
			Properties: props,
		}
		if ed.PerType {
			et.Inheritance = PerType
		}
		for _, nd := range ed.Navigations {
			nav, err := buildNavigation(nd)
			if err != nil {
				return nil, fmt.Errorf("entity %q: %w", ed.Name, err)
			}
			et.Navigations = append(et.Navigations, nav)
		}
		if err := m.AddEntity(et); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func buildProperties(docs []propertyDoc) ([]Property, error) {
	props := make([]Property, 0, len(docs))
	for _, pd := range docs {
		rt, ok := TypeByName(pd.Type)
		if !ok {
			return nil, fmt.Errorf("property %q: unknown type %q", pd.Name, pd.Type)
		}
		props = append(props, Property{Name: pd.Name, Column: pd.Column, Type: rt, Key: pd.Key})
	}
	return props, nil
}

func buildNavigation(nd navigationDoc) (Navigation, error) {
	nav := Navigation{Name: nd.Name, Target: nd.Target, Many: nd.Many}
	switch {
	case len(nd.FKPair) > 0:
		fk := &ForeignKey{}
		for _, pair := range nd.FKPair {
			if len(pair) != 2 {
				return Navigation{}, fmt.Errorf("navigation %q: fk pair needs two properties", nd.Name)
			}
			fk.Pairs = append(fk.Pairs, ColumnPair{From: pair[0], To: pair[1]})
		}
		nav.FK = fk
	case len(nd.FK) == 1:
		for from, to := range nd.FK {
			nav.FK = &ForeignKey{Pairs: []ColumnPair{{From: from, To: to}}}
		}
	case len(nd.FK) > 1:
		// Map order is lost; multi-column keys must use fk_pairs.
		return Navigation{}, fmt.Errorf("navigation %q: multi-column keys need fk_pairs", nd.Name)
	}
	return nav, nil
}
