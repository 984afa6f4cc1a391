package config

import (
	"bytes"
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where init writes the config and where commands look for it.
const DefaultPath = ".skilltest/config.yaml"

//go:embed default.yaml
var defaultYAML []byte

// DefaultYAML returns the embedded default scenario config. A non-empty
// instructionsDir replaces instructions.dir; comments are preserved.
func DefaultYAML(instructionsDir string) ([]byte, error) {
	if instructionsDir == "" {
		out := make([]byte, len(defaultYAML))
		copy(out, defaultYAML)
		return out, nil
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(defaultYAML, &doc); err != nil {
		return nil, fmt.Errorf("parse default config: %w", err)
	}
	node := lookup(&doc, "instructions", "dir")
	if node == nil {
		return nil, fmt.Errorf("default config has no instructions.dir")
	}
	node.Value = instructionsDir
	node.Style = yaml.DoubleQuotedStyle

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("encode default config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode default config: %w", err)
	}
	return buf.Bytes(), nil
}

func lookup(node *yaml.Node, path ...string) *yaml.Node {
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		node = node.Content[0]
	}
	for _, key := range path {
		if node.Kind != yaml.MappingNode {
			return nil
		}
		var next *yaml.Node
		for i := 0; i+1 < len(node.Content); i += 2 {
			if node.Content[i].Value == key {
				next = node.Content[i+1]
				break
			}
		}
		if next == nil {
			return nil
		}
		node = next
	}
	return node
}
