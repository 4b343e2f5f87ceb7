package intents

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Category groups intents by the kind of state they touch.
type Category string

const (
	CategoryEntity    Category = "Entity"
	CategoryAgreement Category = "Agreement"
	CategoryAsset     Category = "Asset"
	CategoryWorkflow  Category = "Workflow"
	CategoryQuery     Category = "Query"
	CategoryMeta      Category = "Meta"
)

// Handler executes one intent. The dispatcher has already validated the
// payload and authorized the actor; the handler appends events through
// hc and returns the outcome plus any result data.
type Handler func(ctx context.Context, hc *Context) (Outcome, map[string]interface{}, error)

// Definition declares one intent.
type Definition struct {
	Name                string
	Category            Category
	PayloadSchema       string // JSON Schema for the payload; "" accepts any
	RequiredPermissions []string
	Handler             Handler
	Description         string
	Examples            []map[string]interface{}
	// Next names intents a client typically invokes after this one; the
	// dispatcher turns them into affordances on success.
	Next []string

	compiled *jsonschema.Schema
}

// ValidatePayload checks payload against the definition's schema.
func (d *Definition) ValidatePayload(payload map[string]interface{}) error {
	if d.compiled == nil {
		return nil
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return d.compiled.Validate(toPlain(payload))
}

// Registry holds the registered intent definitions.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewRegistry returns an empty intent registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register compiles the payload schema and stores d. Duplicate names are
// rejected.
func (r *Registry) Register(d *Definition) error {
	if d.Name == "" {
		return fmt.Errorf("intent definition requires a name")
	}
	if d.Handler == nil {
		return fmt.Errorf("intent %s: handler required", d.Name)
	}
	if d.PayloadSchema != "" {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		url := fmt.Sprintf("https://covenant.schemas.local/intents/%s.schema.json", strings.ReplaceAll(d.Name, ":", "."))
		if err := c.AddResource(url, strings.NewReader(d.PayloadSchema)); err != nil {
			return fmt.Errorf("intent %s schema: %w", d.Name, err)
		}
		compiled, err := c.Compile(url)
		if err != nil {
			return fmt.Errorf("intent %s schema: %w", d.Name, err)
		}
		d.compiled = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[d.Name]; exists {
		return fmt.Errorf("intent %s already registered", d.Name)
	}
	r.defs[d.Name] = d
	return nil
}

// Resolve returns the definition for name, or nil.
func (r *Registry) Resolve(name string) *Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defs[name]
}

// Names returns the registered intent names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// toPlain normalizes Go numeric types into the JSON value space the schema
// validator expects.
func toPlain(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = toPlain(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = toPlain(e)
		}
		return out
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}
