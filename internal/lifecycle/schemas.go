package lifecycle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	stderrors "geneva-listings/internal/common/errors"
	"geneva-listings/internal/domain"
)

// listingSchema describes what an applicant must provide to offer
// housing. Address and coordinates are intentionally optional here:
// they can be filled in during review and are only enforced at publish
// time.
const listingSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["description", "price", "rent_term", "contact"],
	"properties": {
		"description": {"type": "string", "minLength": 10, "maxLength": 4000},
		"address": {"type": "string", "maxLength": 500},
		"latitude": {"type": "number", "minimum": -90, "maximum": 90},
		"longitude": {"type": "number", "minimum": -180, "maximum": 180},
		"price": {"type": "integer", "minimum": 1},
		"rent_term": {"type": "string", "enum": ["long_term", "daily"]},
		"photo_refs": {"type": "array", "maxItems": 5, "items": {"type": "string", "minLength": 1}},
		"contact": {"type": "string", "minLength": 2, "maxLength": 200},
		"author_username": {"type": "string", "maxLength": 200}
	}
}`

// requestSchema is the looser shape for people looking for housing:
// a description of what they need and a way to reach them.
const requestSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["description", "contact"],
	"properties": {
		"description": {"type": "string", "minLength": 10, "maxLength": 4000},
		"price": {"type": "integer", "minimum": 1},
		"rent_term": {"type": "string", "enum": ["long_term", "daily"]},
		"photo_refs": {"type": "array", "maxItems": 5, "items": {"type": "string", "minLength": 1}},
		"contact": {"type": "string", "minLength": 2, "maxLength": 200},
		"author_username": {"type": "string", "maxLength": 200}
	}
}`

// SchemaRegistry compiles and caches the per-kind payload schemas.
type SchemaRegistry struct {
	schemas map[domain.Kind]*gojsonschema.Schema
}

func NewSchemaRegistry() (*SchemaRegistry, error) {
	reg := &SchemaRegistry{schemas: make(map[domain.Kind]*gojsonschema.Schema)}
	for kind, raw := range map[domain.Kind]string{
		domain.KindListing: listingSchema,
		domain.KindRequest: requestSchema,
	} {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to compile %s payload schema: %w", kind, err)
		}
		reg.schemas[kind] = schema
	}
	return reg, nil
}

// MustNewSchemaRegistry panics on a broken built-in schema. The
// schemas are compile-time constants, so a failure here is a
// programming error caught by the test suite.
func MustNewSchemaRegistry() *SchemaRegistry {
	reg, err := NewSchemaRegistry()
	if err != nil {
		panic(err)
	}
	return reg
}

// ValidatePayload checks a payload against the schema for its kind
// and returns a ValidationError listing every violated constraint.
func (r *SchemaRegistry) ValidatePayload(kind domain.Kind, payload domain.Payload) error {
	schema, ok := r.schemas[kind]
	if !ok {
		return stderrors.NewValidationError("no payload schema for kind: " + string(kind))
	}

	doc, err := json.Marshal(payload)
	if err != nil {
		return stderrors.NewValidationError("payload is not serializable: " + err.Error())
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return stderrors.NewValidationError("payload validation failed: " + err.Error())
	}
	if result.Valid() {
		return nil
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		violations = append(violations, desc.String())
	}
	return stderrors.NewValidationError(strings.Join(violations, "; "))
}
