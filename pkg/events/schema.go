package events

import (
	"fmt"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaRegistry holds the versioned payload schema for each event type.
//
// Readers tolerate unknown event types and unknown payload fields (forward
// compatibility); writers are validated strictly against the registered
// schema before append. Schemas never require fields they did not require in
// an earlier version of the same major — RequireCompatible enforces that the
// registered version only moves forward within one major line.
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[string]*payloadSchema
}

type payloadSchema struct {
	version  *semver.Version
	compiled *jsonschema.Schema
}

// NewSchemaRegistry returns an empty registry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{schemas: make(map[string]*payloadSchema)}
}

// Register compiles and stores the schema for eventType at the given semantic
// version. Re-registering is allowed only within the same major version and
// only moving forward.
func (r *SchemaRegistry) Register(eventType, version, schemaJSON string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("schema version for %s: %w", eventType, err)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://covenant.schemas.local/events/%s.schema.json", eventType)
	if err := c.AddResource(url, strings.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("schema load for %s: %w", eventType, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return fmt.Errorf("schema compile for %s: %w", eventType, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.schemas[eventType]; ok {
		if prev.version.Major() != v.Major() {
			return fmt.Errorf("schema for %s: major version change %s -> %s requires a new event type", eventType, prev.version, v)
		}
		if v.LessThan(prev.version) {
			return fmt.Errorf("schema for %s: version %s is behind registered %s", eventType, v, prev.version)
		}
	}
	r.schemas[eventType] = &payloadSchema{version: v, compiled: compiled}
	return nil
}

// Validate checks payload against the schema registered for eventType.
// Unregistered event types pass: the registry constrains known writers, not
// future readers.
func (r *SchemaRegistry) Validate(eventType string, payload map[string]interface{}) error {
	r.mu.RLock()
	ps, ok := r.schemas[eventType]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	// jsonschema validates interface{} trees; a nil payload is an empty object.
	var doc interface{} = map[string]interface{}{}
	if payload != nil {
		doc = toPlain(payload)
	}
	if err := ps.compiled.Validate(doc); err != nil {
		return fmt.Errorf("payload for %s: %w", eventType, err)
	}
	return nil
}

// Version returns the registered schema version for eventType, or "" when the
// type is unregistered.
func (r *SchemaRegistry) Version(eventType string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ps, ok := r.schemas[eventType]; ok {
		return ps.version.String()
	}
	return ""
}

// toPlain rebuilds the tree with plain map/slice types so the validator never
// sees concrete domain types that happen to be stored in payloads.
func toPlain(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = toPlain(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = toPlain(val)
		}
		return out
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case uint64:
		return float64(t)
	default:
		return v
	}
}
