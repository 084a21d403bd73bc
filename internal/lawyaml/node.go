// Package lawyaml converts law trees to and from the upstream YAML schema.
package lawyaml

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Node is one entry of the upstream rules document. The root entry of a group
// carries the color and the prime law synopsis in Pretext; top-level laws use
// Pretext and deeper laws use Text.
type Node struct {
	Name      string `yaml:"name"`
	PlainName string `yaml:"plainName,omitempty"`
	Color     string `yaml:"color,omitempty"`
	Pretext   string `yaml:"pretext,omitempty"`
	Text      string `yaml:"text,omitempty"`
	ID        int64  `yaml:"id,omitempty"`
	Appendix  bool   `yaml:"appendix,omitempty"`
	Children  []Node `yaml:"children,omitempty"`
}

// Body returns the node's description, preferring Text over Pretext.
func (n Node) Body() string {
	if n.Text != "" {
		return n.Text
	}
	return n.Pretext
}

type nodeFields struct {
	Name      string `yaml:"name"`
	PlainName string `yaml:"plainName"`
	Color     string `yaml:"color"`
	Pretext   string `yaml:"pretext"`
	Text      string `yaml:"text"`
	ID        int64  `yaml:"id"`
	Children  []Node `yaml:"children"`
}

// UnmarshalYAML treats appendix as a marker key: present with any value other
// than false, including null, marks the node as an appendix.
func (n *Node) UnmarshalYAML(value *yaml.Node) error {
	var fields nodeFields
	if err := value.Decode(&fields); err != nil {
		return err
	}
	*n = Node{
		Name:      fields.Name,
		PlainName: fields.PlainName,
		Color:     fields.Color,
		Pretext:   fields.Pretext,
		Text:      fields.Text,
		ID:        fields.ID,
		Children:  fields.Children,
	}
	if value.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		if value.Content[i].Value != "appendix" {
			continue
		}
		marker := value.Content[i+1]
		n.Appendix = !(marker.ShortTag() == "!!bool" && strings.EqualFold(marker.Value, "false"))
	}
	return nil
}

var ErrEmptyDocument = errors.New("rules document is empty")

// Decode parses a rules document. A single top-level mapping is accepted as a
// one-element list.
func Decode(data []byte) ([]Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rules yaml: %w", err)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, ErrEmptyDocument
	}

	root := doc.Content[0]
	var nodes []Node
	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&nodes); err != nil {
			return nil, fmt.Errorf("decode rules yaml: %w", err)
		}
	case yaml.MappingNode:
		var node Node
		if err := root.Decode(&node); err != nil {
			return nil, fmt.Errorf("decode rules yaml: %w", err)
		}
		nodes = []Node{node}
	default:
		return nil, fmt.Errorf("decode rules yaml: expected list or mapping at top level")
	}
	if len(nodes) == 0 {
		return nil, ErrEmptyDocument
	}
	if err := validate(nodes, ""); err != nil {
		return nil, err
	}
	return nodes, nil
}

func validate(nodes []Node, path string) error {
	for i, node := range nodes {
		if strings.TrimSpace(node.Name) == "" {
			return fmt.Errorf("rules yaml %s[%d]: missing name", path, i)
		}
		if err := validate(node.Children, path+"/"+node.Name); err != nil {
			return err
		}
	}
	return nil
}

func Encode(nodes []Node) ([]byte, error) {
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(nodes); err != nil {
		return nil, fmt.Errorf("encode rules yaml: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("encode rules yaml: %w", err)
	}
	return buf.Bytes(), nil
}
