package parser

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/me/wfplan/pkg/model"
)

//go:embed schema/workflow.schema.yaml
var workflowSchemaYAML []byte

// SchemaValidator checks workflow documents against the embedded JSON
// schema before they are parsed.
type SchemaValidator struct {
	schema *jsonschema.Schema
	logger *slog.Logger
}

// NewSchemaValidator compiles the embedded workflow schema.
func NewSchemaValidator(logger *slog.Logger) (*SchemaValidator, error) {
	schema, err := compileYAMLSchema("workflow.schema.json", workflowSchemaYAML)
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}
	return &SchemaValidator{schema: schema, logger: logger.With("component", "validator")}, nil
}

// compileYAMLSchema converts a YAML schema to JSON and compiles it.
func compileYAMLSchema(url string, data []byte) (*jsonschema.Schema, error) {
	var schemaData any
	if err := yaml.Unmarshal(data, &schemaData); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	jsonData, err := json.Marshal(schemaData)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return jsonschema.CompileString(url, string(jsonData))
}

// Validate checks a raw YAML document.
func (v *SchemaValidator) Validate(data []byte) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("YAML parse error: %w", err)
	}
	if len(doc.Content) == 0 {
		return model.NewValidationError("workflow schema validation failed",
			model.FieldError{Path: "/", Message: "empty document"})
	}
	return v.ValidateNode(doc.Content[0])
}

// ValidateNode checks an already decoded document root. Violations are
// returned as a ValidationError with one FieldError per failing location.
func (v *SchemaValidator) ValidateNode(root *yaml.Node) error {
	var raw any
	if err := root.Decode(&raw); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	// Round-trip through JSON so numbers and maps take the types the
	// schema library expects.
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	var inst any
	if err := json.Unmarshal(jsonData, &inst); err != nil {
		return fmt.Errorf("unmarshal document: %w", err)
	}

	err = v.schema.Validate(inst)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return fmt.Errorf("schema validation: %w", err)
	}
	details := leafErrors(ve)
	v.logger.Debug("schema validation failed", "violations", len(details))
	return model.NewValidationError("workflow schema validation failed", details...)
}

func leafErrors(ve *jsonschema.ValidationError) []model.FieldError {
	if len(ve.Causes) == 0 {
		path := ve.InstanceLocation
		if path == "" {
			path = "/"
		}
		return []model.FieldError{{Path: path, Message: ve.Message}}
	}
	var out []model.FieldError
	for _, c := range ve.Causes {
		out = append(out, leafErrors(c)...)
	}
	return out
}
