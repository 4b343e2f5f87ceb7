package intents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopHandler(ctx context.Context, hc *Context) (Outcome, map[string]interface{}, error) {
	return OutcomeNothing, nil, nil
}

func TestRegistryRegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Definition{Name: "a:b", Category: CategoryMeta, Handler: noopHandler}))

	assert.NotNil(t, r.Resolve("a:b"))
	assert.Nil(t, r.Resolve("a:c"))

	err := r.Register(&Definition{Name: "a:b", Category: CategoryMeta, Handler: noopHandler})
	assert.Error(t, err)
}

func TestRegistryRejectsNamelessAndHandlerless(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register(&Definition{Handler: noopHandler}))
	assert.Error(t, r.Register(&Definition{Name: "a:b"}))
}

func TestRegistryCompilesPayloadSchema(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Definition{
		Name:     "typed",
		Category: CategoryMeta,
		Handler:  noopHandler,
		PayloadSchema: `{
			"type": "object",
			"required": ["n"],
			"properties": {"n": {"type": "number", "minimum": 1}}
		}`,
	}))

	def := r.Resolve("typed")
	assert.NoError(t, def.ValidatePayload(map[string]interface{}{"n": 2}))
	assert.NoError(t, def.ValidatePayload(map[string]interface{}{"n": 2, "extra": true}))
	assert.Error(t, def.ValidatePayload(map[string]interface{}{"n": 0}))
	assert.Error(t, def.ValidatePayload(map[string]interface{}{}))

	err := r.Register(&Definition{Name: "broken", Handler: noopHandler, PayloadSchema: `{"type": 12}`})
	assert.Error(t, err)
}

func TestRegistryNamesSorted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterBuiltinIntents(r))
	names := r.Names()
	assert.Contains(t, names, "register")
	assert.Contains(t, names, "realm:create")
	assert.Contains(t, names, "container:transfer")
	for i := 1; i < len(names); i++ {
		assert.Less(t, names[i-1], names[i])
	}
}
