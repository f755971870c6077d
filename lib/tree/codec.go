// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

package tree

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// ErrStructure is matched by every StructureError.
var ErrStructure = errors.New("invalid config structure")

// StructureError reports a value whose shape is not what the reader
// expected.
type StructureError struct {
	Path   string
	Detail string
}

func (e *StructureError) Error() string {
	if e.Path == "" {
		return "invalid config structure: " + e.Detail
	}
	return fmt.Sprintf("invalid config structure at %q: %s", e.Path, e.Detail)
}

func (e *StructureError) Is(target error) bool { return target == ErrStructure }

// DecodeYAML parses a YAML document into a Map. Key order follows the
// document. An empty document yields an empty Map; a document whose
// root is not a mapping fails with a *StructureError.
func DecodeYAML(data []byte) (*Map, error) {
	var document yaml.Node
	if err := yaml.Unmarshal(data, &document); err != nil {
		return nil, err
	}
	if document.Kind == 0 || len(document.Content) == 0 {
		return New(), nil
	}

	root := document.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, &StructureError{Detail: "document root must be a mapping"}
	}
	value, err := fromNode(root, nil)
	if err != nil {
		return nil, err
	}
	return value.(*Map), nil
}

// DecodeJSONC parses JSON with comments and trailing commas.
func DecodeJSONC(data []byte) (*Map, error) {
	// JSON is a subset of YAML, so the standardized text goes through
	// the same node walk and keeps its key order.
	return DecodeYAML(jsonc.ToJSON(data))
}

func fromNode(node *yaml.Node, path []string) (any, error) {
	switch node.Kind {
	case yaml.AliasNode:
		return fromNode(node.Alias, path)

	case yaml.MappingNode:
		result := New()
		for i := 0; i+1 < len(node.Content); i += 2 {
			keyNode, valueNode := node.Content[i], node.Content[i+1]
			if keyNode.Kind != yaml.ScalarNode {
				return nil, &StructureError{Path: JoinPath(path...), Detail: "mapping keys must be scalars"}
			}
			key := keyNode.Value
			if keyNode.Tag == "!!merge" {
				return nil, &StructureError{Path: JoinPath(path...), Detail: "YAML merge keys are not supported; use inherit"}
			}
			if result.Has(key) {
				return nil, &StructureError{Path: JoinPath(append(path, key)...), Detail: "duplicate key"}
			}
			value, err := fromNode(valueNode, append(path[:len(path):len(path)], key))
			if err != nil {
				return nil, err
			}
			result.Set(key, value)
		}
		return result, nil

	case yaml.SequenceNode:
		items := make([]any, 0, len(node.Content))
		for i, child := range node.Content {
			value, err := fromNode(child, append(path[:len(path):len(path)], fmt.Sprintf("%d", i)))
			if err != nil {
				return nil, err
			}
			items = append(items, value)
		}
		return items, nil

	case yaml.ScalarNode:
		// Dates stay as written; they are paths and words here, not times.
		if node.ShortTag() == "!!timestamp" {
			return node.Value, nil
		}
		var value any
		if err := node.Decode(&value); err != nil {
			return nil, fmt.Errorf("decoding %q: %w", JoinPath(path...), err)
		}
		return value, nil
	}
	return nil, &StructureError{Path: JoinPath(path...), Detail: "unsupported YAML node"}
}

// EncodeYAML renders m as a YAML document, preserving key order.
func EncodeYAML(m *Map) ([]byte, error) {
	node, err := toNode(m)
	if err != nil {
		return nil, err
	}

	var buffer bytes.Buffer
	encoder := yaml.NewEncoder(&buffer)
	encoder.SetIndent(2)
	if err := encoder.Encode(node); err != nil {
		return nil, err
	}
	if err := encoder.Close(); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func toNode(value any) (*yaml.Node, error) {
	switch typed := value.(type) {
	case *Map:
		node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		if typed == nil {
			return node, nil
		}
		for _, key := range typed.keys {
			child, err := toNode(typed.values[key])
			if err != nil {
				return nil, err
			}
			node.Content = append(node.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, child)
		}
		return node, nil

	case []any:
		node := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range typed {
			child, err := toNode(item)
			if err != nil {
				return nil, err
			}
			node.Content = append(node.Content, child)
		}
		return node, nil

	default:
		node := &yaml.Node{}
		if err := node.Encode(typed); err != nil {
			return nil, err
		}
		return node, nil
	}
}
