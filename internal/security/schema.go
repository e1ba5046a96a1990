package security

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Schema errors.
var (
	// ErrInputInvalid is returned when an invocation payload does not satisfy
	// the capability's input schema or the payload limits.
	ErrInputInvalid = errors.New("input invalid")

	// ErrSchemaInvalid is returned when an input schema does not compile.
	ErrSchemaInvalid = errors.New("invalid input schema")
)

// InputLimits bounds the raw payload before any schema check runs.
type InputLimits struct {
	MaxBytes int `yaml:"max_bytes"`
	MaxDepth int `yaml:"max_depth"`
}

const (
	inputSchemaURL   = "input-schema.json"
	maxCachedSchemas = 1024
)

// schemaCache holds compiled schemas keyed by their raw text. It is reset
// when full.
var schemaCache = struct {
	sync.Mutex
	m map[string]*jsonschema.Schema
}{m: make(map[string]*jsonschema.Schema)}

// ParseInputSchema compiles raw as a JSON Schema. An empty or null raw
// value is valid and means "accept anything".
func ParseInputSchema(raw json.RawMessage) error {
	_, err := compileInputSchema(raw)
	return err
}

func compileInputSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	key := string(raw)
	schemaCache.Lock()
	s, ok := schemaCache.m[key]
	schemaCache.Unlock()
	if ok {
		return s, nil
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchemaInvalid, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(inputSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchemaInvalid, err)
	}
	s, err = c.Compile(inputSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchemaInvalid, err)
	}

	schemaCache.Lock()
	if len(schemaCache.m) >= maxCachedSchemas {
		clear(schemaCache.m)
	}
	schemaCache.m[key] = s
	schemaCache.Unlock()
	return s, nil
}

// ValidateInput checks input against limits and schema. Size and depth are
// checked first so a hostile payload is rejected before it is decoded.
// An empty payload is validated as {}. Every failure wraps ErrInputInvalid.
func ValidateInput(schema, input json.RawMessage, limits InputLimits) error {
	input = bytes.TrimSpace(input)
	if err := ValidateMessageSize(input, limits.MaxBytes); err != nil {
		return fmt.Errorf("%w: %w", ErrInputInvalid, err)
	}
	if err := ValidateJSONDepth(input, limits.MaxDepth); err != nil {
		return fmt.Errorf("%w: %w", ErrInputInvalid, err)
	}

	s, err := compileInputSchema(schema)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInputInvalid, err)
	}
	if s == nil {
		return nil
	}

	if len(input) == 0 {
		input = []byte("{}")
	}
	value, err := jsonschema.UnmarshalJSON(bytes.NewReader(input))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInputInvalid, err)
	}
	if err := s.Validate(value); err != nil {
		return fmt.Errorf("%w: %w", ErrInputInvalid, err)
	}
	return nil
}
