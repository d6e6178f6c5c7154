package v1

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// PayloadField describes one expected field of a kind's payload.
type PayloadField struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"` // string | number | bool | object | array
	Required bool   `yaml:"required"`
}

// PayloadSpec is the declared shape of one kind's payload.
// Specs are optional: kinds without a spec accept any payload.
type PayloadSpec struct {
	Kind   Kind           `yaml:"kind"`
	Fields []PayloadField `yaml:"fields"`
}

// PayloadSpecRegistry holds payload specs loaded once at startup from
// *.yaml files in a directory, one spec per file.
type PayloadSpecRegistry struct {
	specs map[Kind]PayloadSpec
}

// LoadPayloadSpecs eagerly loads all payload specs from dir. A missing
// directory is valid (zero specs configured); a malformed spec is a
// configuration error.
func LoadPayloadSpecs(dir string) (*PayloadSpecRegistry, error) {
	reg := &PayloadSpecRegistry{specs: make(map[Kind]PayloadSpec)}

	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return reg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("payload spec dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("payload spec path %q is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading payload spec dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading payload spec %s: %w", path, err)
		}

		var spec PayloadSpec
		if err := yaml.Unmarshal(data, &spec); err != nil {
			return nil, fmt.Errorf("parsing payload spec %s: %w", path, err)
		}
		if spec.Kind == "" {
			continue // empty / comment-only file
		}
		if !spec.Kind.Valid() {
			return nil, fmt.Errorf("payload spec %s: %w: %q", path, ErrUnknownKind, spec.Kind)
		}
		for _, f := range spec.Fields {
			if f.Name == "" {
				return nil, fmt.Errorf("payload spec %s: field with empty name", path)
			}
			switch f.Type {
			case "string", "number", "bool", "object", "array":
			default:
				return nil, fmt.Errorf("payload spec %s: field %q has unsupported type %q", path, f.Name, f.Type)
			}
		}
		if _, exists := reg.specs[spec.Kind]; exists {
			return nil, fmt.Errorf("payload spec %s: duplicate spec for kind %q", path, spec.Kind)
		}
		reg.specs[spec.Kind] = spec
	}
	return reg, nil
}

// Check validates an envelope's payload against the spec for its kind.
// A payload violation is a data error: the caller records and skips the
// event, it never crashes a worker.
func (r *PayloadSpecRegistry) Check(e *Envelope) error {
	spec, ok := r.specs[e.Kind]
	if !ok {
		return nil
	}
	for _, f := range spec.Fields {
		val, present := e.Payload[f.Name]
		if !present {
			if f.Required {
				return fmt.Errorf("payload field %q is required for kind %q", f.Name, e.Kind)
			}
			continue
		}
		if !typeMatches(f.Type, val) {
			return fmt.Errorf("payload field %q for kind %q must be %s", f.Name, e.Kind, f.Type)
		}
	}
	return nil
}

func typeMatches(declared string, val interface{}) bool {
	if val == nil {
		return true
	}
	switch declared {
	case "string":
		_, ok := val.(string)
		return ok
	case "number":
		switch val.(type) {
		case float64, float32, int, int64, int32:
			return true
		}
		return false
	case "bool":
		_, ok := val.(bool)
		return ok
	case "object":
		_, ok := val.(map[string]interface{})
		return ok
	case "array":
		_, ok := val.([]interface{})
		return ok
	}
	return false
}
