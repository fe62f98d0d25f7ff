package tenant

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Config is one tenant of the tenant sources
type Config struct {
	Name   string
	Source Source
}

// Source lists projects per connection, in file order
type Source []ConnectionSource

// ConnectionSource lists projects per project type for one connection
type ConnectionSource struct {
	Connection string
	Groups     []ProjectGroup
}

// ProjectGroup is a config-projects or untrusted-projects list
type ProjectGroup struct {
	Type     string
	Projects []Project
}

// Project is one project entry. Entries may be a bare name or a mapping
// whose first key is the project name.
type Project struct {
	Name             string
	Exclude          []string
	ExtraConfigPaths []string
	// MultiProject marks the unsupported {projects: [...]} shape
	MultiProject bool
}

type sourceFileEntry struct {
	Tenant struct {
		Name   string `yaml:"name"`
		Source Source `yaml:"source"`
	} `yaml:"tenant"`
}

// UnmarshalYAML keeps connection and project-type order
func (s *Source) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: tenant source must be a mapping", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		cs := ConnectionSource{Connection: node.Content[i].Value}
		types := node.Content[i+1]
		if types.Kind != yaml.MappingNode {
			return fmt.Errorf("line %d: projects of connection %s must be a mapping", types.Line, cs.Connection)
		}
		for j := 0; j+1 < len(types.Content); j += 2 {
			group := ProjectGroup{Type: types.Content[j].Value}
			if err := types.Content[j+1].Decode(&group.Projects); err != nil {
				return err
			}
			cs.Groups = append(cs.Groups, group)
		}
		*s = append(*s, cs)
	}
	return nil
}

// UnmarshalYAML accepts both project entry shapes
func (p *Project) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		p.Name = node.Value
		return nil
	case yaml.MappingNode:
	default:
		return fmt.Errorf("line %d: invalid project entry", node.Line)
	}
	if len(node.Content) == 0 {
		return fmt.Errorf("line %d: empty project entry", node.Line)
	}

	p.Name = node.Content[0].Value
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i].Value, node.Content[i+1]
		switch key {
		case "projects":
			p.MultiProject = true
		case "exclude":
			if err := decodeStrings(value, &p.Exclude); err != nil {
				return err
			}
		case "extra-config-paths":
			if err := decodeStrings(value, &p.ExtraConfigPaths); err != nil {
				return err
			}
		}
	}

	// {name: {exclude: [...], extra-config-paths: [...]}}
	if opts := node.Content[1]; opts.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(opts.Content); i += 2 {
			key, value := opts.Content[i].Value, opts.Content[i+1]
			switch key {
			case "exclude":
				if err := decodeStrings(value, &p.Exclude); err != nil {
					return err
				}
			case "extra-config-paths":
				if err := decodeStrings(value, &p.ExtraConfigPaths); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// decodeStrings appends a scalar or a sequence of scalars to out
func decodeStrings(node *yaml.Node, out *[]string) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag != "!!null" {
			*out = append(*out, node.Value)
		}
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		*out = append(*out, items...)
		return nil
	}
	return fmt.Errorf("line %d: expected a string or a list of strings", node.Line)
}
