// Package schema validates inbound JSON payloads before they are decoded
// into models.
package schema

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Kind names an entity payload schema.
type Kind string

const (
	KindRepository Kind = "repository"
	KindModule     Kind = "module"
	KindTask       Kind = "task"
	KindDeployment Kind = "deployment"
)

// ValidationError lists every schema violation found in a payload.
type ValidationError struct {
	Kind       Kind
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Kind, strings.Join(e.Violations, "; "))
}

// Validator holds compiled schemas for every Kind.
type Validator struct {
	create map[Kind]*gojsonschema.Schema
	patch  map[Kind]*gojsonschema.Schema
}

// New compiles the embedded schemas. Patch schemas are derived from the
// create schemas by dropping the required list.
func New() (*Validator, error) {
	v := &Validator{
		create: make(map[Kind]*gojsonschema.Schema),
		patch:  make(map[Kind]*gojsonschema.Schema),
	}
	for _, k := range []Kind{KindRepository, KindModule, KindTask, KindDeployment} {
		raw, err := schemaFS.ReadFile("schemas/" + string(k) + ".json")
		if err != nil {
			return nil, fmt.Errorf("read %s schema: %w", k, err)
		}

		s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", k, err)
		}
		v.create[k] = s

		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode %s schema: %w", k, err)
		}
		delete(doc, "required")
		doc["minProperties"] = 1
		p, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(doc))
		if err != nil {
			return nil, fmt.Errorf("compile %s patch schema: %w", k, err)
		}
		v.patch[k] = p
	}
	return v, nil
}

// ValidateCreate checks a full creation payload.
func (v *Validator) ValidateCreate(k Kind, body []byte) error {
	return validate(k, v.create[k], body)
}

// ValidatePatch checks a partial update payload: no field is required but
// every present field must be well-formed.
func (v *Validator) ValidatePatch(k Kind, body []byte) error {
	return validate(k, v.patch[k], body)
}

func validate(k Kind, s *gojsonschema.Schema, body []byte) error {
	if s == nil {
		return fmt.Errorf("no schema for %s", k)
	}
	result, err := s.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return &ValidationError{Kind: k, Violations: []string{"malformed JSON"}}
	}
	if result.Valid() {
		return nil
	}
	ve := &ValidationError{Kind: k}
	for _, desc := range result.Errors() {
		ve.Violations = append(ve.Violations, desc.String())
	}
	return ve
}
