package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/apierr"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaDocumentMetaSchema constrains the shape of a schema-proposal JSON
// document: a version plus maps of named entity-type and action
// declarations. It catches malformed documents (wrong field types, unknown
// attribute-type strings) before ParseSchemaDocument ever attempts to
// json.Unmarshal into the Go Schema struct.
const schemaDocumentMetaSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["entity_types", "actions"],
	"properties": {
		"version": {"type": "integer", "minimum": 1},
		"release_tag": {"type": "string"},
		"entity_types": {
			"type": "object",
			"additionalProperties": {
				"type": "object",
				"required": ["name", "attributes"],
				"properties": {
					"name": {"type": "string"},
					"attributes": {
						"type": "object",
						"additionalProperties": {
							"type": "string",
							"enum": ["String", "Int", "Bool", "Float", "List", "Map"]
						}
					}
				}
			}
		},
		"actions": {
			"type": "object",
			"additionalProperties": {
				"type": "object",
				"required": ["name"],
				"properties": {
					"name": {"type": "string"},
					"applies_to_principal_type": {"type": "array", "items": {"type": "string"}},
					"applies_to_resource_type": {"type": "array", "items": {"type": "string"}}
				}
			}
		}
	}
}`

var (
	documentSchemaOnce sync.Once
	compiledDocumentSchema *jsonschema.Schema
	documentSchemaErr error
)

func compileDocumentSchema() (*jsonschema.Schema, error) {
	documentSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		const resourceURL = "https://authzd.local/schema-document.schema.json"
		if err := c.AddResource(resourceURL, strings.NewReader(schemaDocumentMetaSchema)); err != nil {
			documentSchemaErr = fmt.Errorf("schema: invalid embedded meta-schema: %w", err)
			return
		}
		compiledDocumentSchema, documentSchemaErr = c.Compile(resourceURL)
	})
	return compiledDocumentSchema, documentSchemaErr
}

// schemaDocument is the wire shape a ProposeSchema JSON payload takes —
// snake_case to match the rest of the admin surface's JSON bodies, distinct
// from Schema's Go-idiomatic field names.
type schemaDocument struct {
	Version     uint64 `json:"version"`
	ReleaseTag  string `json:"release_tag,omitempty"`
	EntityTypes map[string]struct {
		Name       string            `json:"name"`
		Attributes map[string]string `json:"attributes"`
	} `json:"entity_types"`
	Actions map[string]struct {
		Name                   string   `json:"name"`
		AppliesToPrincipalType []string `json:"applies_to_principal_type"`
		AppliesToResourceType  []string `json:"applies_to_resource_type"`
	} `json:"actions"`
}

// ParseSchemaDocument validates raw against the embedded JSON Schema
// meta-document, then converts it into a *Schema ready for Registry.Propose.
// Structural problems (wrong types, an attribute type outside the closed
// enum) surface as apierr.SchemaError with the validator's detail attached,
// before any Go-side compatibility check runs.
func ParseSchemaDocument(raw []byte) (*Schema, error) {
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return nil, apierr.Wrap(apierr.SchemaError, "schema document is not valid JSON", err)
	}
	compiled, err := compileDocumentSchema()
	if err != nil {
		return nil, apierr.Wrap(apierr.SchemaError, "schema meta-schema unavailable", err)
	}
	if err := compiled.Validate(instance); err != nil {
		return nil, apierr.Wrap(apierr.SchemaError, "schema document failed structural validation", err)
	}

	var doc schemaDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, apierr.Wrap(apierr.SchemaError, "schema document decode failed", err)
	}
	if doc.ReleaseTag != "" {
		if _, err := semver.NewVersion(doc.ReleaseTag); err != nil {
			return nil, apierr.Wrap(apierr.SchemaError, fmt.Sprintf("release_tag %q is not valid SemVer", doc.ReleaseTag), err)
		}
	}

	s := &Schema{
		Version:     doc.Version,
		ReleaseTag:  doc.ReleaseTag,
		EntityTypes: make(map[string]EntityTypeDecl, len(doc.EntityTypes)),
		Actions:     make(map[string]ActionDecl, len(doc.Actions)),
	}
	for key, et := range doc.EntityTypes {
		attrs := make(map[string]AttributeType, len(et.Attributes))
		for name, t := range et.Attributes {
			attrs[name] = AttributeType(t)
		}
		s.EntityTypes[key] = EntityTypeDecl{Name: et.Name, Attributes: attrs}
	}
	for key, a := range doc.Actions {
		s.Actions[key] = ActionDecl{
			Name:                   a.Name,
			AppliesToPrincipalType: a.AppliesToPrincipalType,
			AppliesToResourceType:  a.AppliesToResourceType,
		}
	}
	return s, nil
}
