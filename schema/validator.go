// Package schema validates loosely-typed JSON crossing the system boundary:
// the optional metadata part of an upload and outbound event envelopes.
// Internal code only ever sees payloads that passed here.
package schema

import (
	"fmt"
	"strings"

	"driftcanvas/core"

	"github.com/xeipuuv/gojsonschema"
)

// UploadMetadata is the schema name for the multipart metadata blob.
const UploadMetadata = "upload.metadata"

var schemaSources = map[string]string{
	UploadMetadata: `{
		"type": "object",
		"additionalProperties": false,
		"properties": {
			"name":     {"type": "string", "maxLength": 200},
			"width":    {"type": "integer", "minimum": 1},
			"height":   {"type": "integer", "minimum": 1},
			"duration": {"type": "number", "exclusiveMinimum": 0},
			"prompt":   {"type": "string", "maxLength": 2000},
			"model":    {"type": "string", "maxLength": 100},
			"provider": {"type": "string", "maxLength": 100},
			"seed":     {"type": "integer"}
		}
	}`,

	string(core.EventCanvasSaved): `{
		"type": "object",
		"required": ["canvasId", "userId"],
		"properties": {
			"canvasId":  {"type": "string", "minLength": 1},
			"userId":    {"type": "string", "minLength": 1},
			"sizeBytes": {"type": "integer", "minimum": 0}
		}
	}`,

	string(core.EventAssetCreated): `{
		"type": "object",
		"required": ["assetId", "userId", "assetKind"],
		"properties": {
			"assetId":   {"type": "string", "minLength": 1},
			"userId":    {"type": "string", "minLength": 1},
			"assetKind": {"enum": ["image", "video"]},
			"sizeBytes": {"type": "integer", "minimum": 1}
		}
	}`,

	string(core.EventAssetDeleted): `{
		"type": "object",
		"required": ["assetId", "userId"],
		"properties": {
			"assetId":   {"type": "string", "minLength": 1},
			"userId":    {"type": "string", "minLength": 1},
			"sizeBytes": {"type": "integer", "minimum": 0}
		}
	}`,

	string(core.EventGenerationFinished): `{
		"type": "object",
		"required": ["userId", "assetKind"],
		"properties": {
			"userId":    {"type": "string", "minLength": 1},
			"assetKind": {"enum": ["image", "video"]},
			"model":     {"type": "string"},
			"assetId":   {"type": "string"}
		}
	}`,
}

// Validator validates JSON documents against their compiled schemas.
type Validator struct {
	schemas map[string]*gojsonschema.Schema
}

// NewValidator compiles all embedded schemas.
func NewValidator() (*Validator, error) {
	v := &Validator{schemas: make(map[string]*gojsonschema.Schema, len(schemaSources))}
	for name, src := range schemaSources {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
		}
		v.schemas[name] = compiled
	}
	return v, nil
}

// Validate checks a raw JSON document against the named schema and returns a
// joined description of every violation.
func (v *Validator) Validate(name string, document []byte) error {
	compiled, ok := v.schemas[name]
	if !ok {
		return fmt.Errorf("no schema registered for %s", name)
	}
	result, err := compiled.Validate(gojsonschema.NewBytesLoader(document))
	if err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", name, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, re := range result.Errors() {
			msgs = append(msgs, re.String())
		}
		return fmt.Errorf("%s: %s", name, strings.Join(msgs, "; "))
	}
	return nil
}

// ValidateEvent checks an envelope's payload against the schema for its kind.
func (v *Validator) ValidateEvent(event core.Event) error {
	return v.Validate(string(event.Kind), event.Payload)
}
