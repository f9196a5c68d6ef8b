package spec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseJSON decodes a spec from its JSON wire form:
//
//	{ "entity": "study",
//	  "select": { "name": true,
//	              "title": "name",
//	              "experiments": { "spec": {...}, "first": 10, "via": "..." } } }
//
// Select order is preserved; the standard map decode would lose it, so the
// object is walked token by token.
func ParseJSON(data []byte) (*Spec, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	sp, err := parseSpecJSON(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err == nil {
		return nil, fmt.Errorf("trailing content after spec document")
	}
	return sp, nil
}

func parseSpecJSON(dec *json.Decoder) (*Spec, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return nil, fmt.Errorf("spec must be an object: %w", err)
	}

	sp := &Spec{}
	seenSelect := false
	for dec.More() {
		key, err := objectKey(dec)
		if err != nil {
			return nil, err
		}
		switch key {
		case "entity":
			tok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			name, ok := tok.(string)
			if !ok || name == "" {
				return nil, fmt.Errorf("entity must be a non-empty string")
			}
			sp.Entity = name
		case "select":
			if seenSelect {
				return nil, fmt.Errorf("duplicate select on entity %q", sp.Entity)
			}
			seenSelect = true
			fields, err := parseSelectJSON(dec)
			if err != nil {
				return nil, err
			}
			sp.Select = fields
		default:
			return nil, fmt.Errorf("unknown spec key %q", key)
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	if sp.Entity == "" {
		return nil, fmt.Errorf("spec is missing entity")
	}
	return sp, nil
}

func parseSelectJSON(dec *json.Decoder) ([]Field, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return nil, fmt.Errorf("select must be an object: %w", err)
	}

	fields := []Field{}
	seen := make(map[string]struct{})
	for dec.More() {
		key, err := objectKey(dec)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("duplicate select key %q", key)
		}
		seen[key] = struct{}{}

		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch v := tok.(type) {
		case bool:
			if !v {
				return nil, fmt.Errorf("select %q: false is not a valid selection", key)
			}
			fields = append(fields, Field{Name: key, Alias: key, Kind: PlainField})
		case string:
			if v == "" {
				return nil, fmt.Errorf("select %q: rename target must be non-empty", key)
			}
			fields = append(fields, Field{Name: key, Alias: v, Kind: RenamedField})
		case json.Delim:
			if v != '{' {
				return nil, fmt.Errorf("select %q: unexpected %v", key, v)
			}
			rel, err := parseRelationJSON(dec, key)
			if err != nil {
				return nil, err
			}
			fields = append(fields, Field{Name: key, Alias: key, Kind: RelationField, Relation: rel})
		default:
			return nil, fmt.Errorf("select %q: value must be true, a rename string, or a relation object", key)
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	return fields, nil
}

// parseRelationJSON parses a relation select body; the opening brace has
// already been consumed.
func parseRelationJSON(dec *json.Decoder, fieldName string) (*Relation, error) {
	rel := &Relation{}
	for dec.More() {
		key, err := objectKey(dec)
		if err != nil {
			return nil, err
		}
		switch key {
		case "spec":
			sub, err := parseSpecJSON(dec)
			if err != nil {
				return nil, fmt.Errorf("relation %q: %w", fieldName, err)
			}
			rel.Spec = sub
		case "first":
			tok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			num, ok := tok.(json.Number)
			if !ok {
				return nil, fmt.Errorf("relation %q: first must be an integer", fieldName)
			}
			first, err := strconv.ParseInt(num.String(), 10, 64)
			if err != nil || first < 1 || first > math.MaxUint32 {
				return nil, fmt.Errorf("relation %q: first must be a positive integer, got %s", fieldName, num)
			}
			rel.First = int(first)
			rel.HasFirst = true
		case "via":
			tok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			via, ok := tok.(string)
			if !ok || via == "" {
				return nil, fmt.Errorf("relation %q: via must be a non-empty constraint name", fieldName)
			}
			rel.Via = via
		default:
			return nil, fmt.Errorf("relation %q: unknown key %q", fieldName, key)
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	if rel.Spec == nil {
		return nil, fmt.Errorf("relation %q is missing spec", fieldName)
	}
	return rel, nil
}

func expectDelim(dec *json.Decoder, want rune) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	delim, ok := tok.(json.Delim)
	if !ok || rune(delim) != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

func objectKey(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", err
	}
	key, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("expected object key, got %v", tok)
	}
	return key, nil
}

// ParseYAML decodes a spec from YAML. yaml.Node keeps mapping order, which
// the select contract requires.
func ParseYAML(data []byte) (*Spec, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 {
		return nil, fmt.Errorf("spec must be a single YAML document")
	}
	return parseSpecYAML(doc.Content[0])
}

func parseSpecYAML(node *yaml.Node) (*Spec, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("spec must be a mapping (line %d)", node.Line)
	}

	sp := &Spec{}
	for i := 0; i < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		switch key.Value {
		case "entity":
			if value.Kind != yaml.ScalarNode || value.Value == "" {
				return nil, fmt.Errorf("entity must be a non-empty string (line %d)", value.Line)
			}
			sp.Entity = value.Value
		case "select":
			fields, err := parseSelectYAML(value)
			if err != nil {
				return nil, err
			}
			sp.Select = fields
		default:
			return nil, fmt.Errorf("unknown spec key %q (line %d)", key.Value, key.Line)
		}
	}
	if sp.Entity == "" {
		return nil, fmt.Errorf("spec is missing entity (line %d)", node.Line)
	}
	return sp, nil
}

func parseSelectYAML(node *yaml.Node) ([]Field, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("select must be a mapping (line %d)", node.Line)
	}

	fields := []Field{}
	seen := make(map[string]struct{})
	for i := 0; i < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		name := key.Value
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate select key %q (line %d)", name, key.Line)
		}
		seen[name] = struct{}{}

		switch {
		case value.Kind == yaml.ScalarNode && value.Tag == "!!bool":
			var b bool
			if err := value.Decode(&b); err != nil {
				return nil, err
			}
			if !b {
				return nil, fmt.Errorf("select %q: false is not a valid selection (line %d)", name, value.Line)
			}
			fields = append(fields, Field{Name: name, Alias: name, Kind: PlainField})
		case value.Kind == yaml.ScalarNode && value.Tag == "!!str":
			if value.Value == "" {
				return nil, fmt.Errorf("select %q: rename target must be non-empty (line %d)", name, value.Line)
			}
			fields = append(fields, Field{Name: name, Alias: value.Value, Kind: RenamedField})
		case value.Kind == yaml.MappingNode:
			rel, err := parseRelationYAML(value, name)
			if err != nil {
				return nil, err
			}
			fields = append(fields, Field{Name: name, Alias: name, Kind: RelationField, Relation: rel})
		default:
			return nil, fmt.Errorf("select %q: value must be true, a rename string, or a relation mapping (line %d)", name, value.Line)
		}
	}
	return fields, nil
}

func parseRelationYAML(node *yaml.Node, fieldName string) (*Relation, error) {
	rel := &Relation{}
	for i := 0; i < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		switch key.Value {
		case "spec":
			sub, err := parseSpecYAML(value)
			if err != nil {
				return nil, fmt.Errorf("relation %q: %w", fieldName, err)
			}
			rel.Spec = sub
		case "first":
			var first int64
			if err := value.Decode(&first); err != nil || first < 1 || first > math.MaxUint32 {
				return nil, fmt.Errorf("relation %q: first must be a positive integer (line %d)", fieldName, value.Line)
			}
			rel.First = int(first)
			rel.HasFirst = true
		case "via":
			if value.Kind != yaml.ScalarNode || value.Value == "" {
				return nil, fmt.Errorf("relation %q: via must be a non-empty constraint name (line %d)", fieldName, value.Line)
			}
			rel.Via = value.Value
		default:
			return nil, fmt.Errorf("relation %q: unknown key %q (line %d)", fieldName, key.Value, key.Line)
		}
	}
	if rel.Spec == nil {
		return nil, fmt.Errorf("relation %q is missing spec", fieldName)
	}
	return rel, nil
}

// LoadFile reads a spec from disk, choosing the decoder by file extension.
// .yaml and .yml files decode as YAML; everything else as JSON.
func LoadFile(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read spec file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return ParseJSON(data)
	}
}
