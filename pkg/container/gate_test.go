package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateAllow(t *testing.T) {
	g, err := NewGateEvaluator()
	require.NoError(t, err)

	input := GateInput{
		Actor:     map[string]interface{}{"type": "Entity", "entityId": "alice"},
		Item:      map[string]interface{}{"itemId": "gold"},
		Quantity:  42,
		Container: map[string]interface{}{"id": "c-1", "realmId": "r-1", "type": "wallet"},
	}

	tests := []struct {
		name    string
		expr    string
		allowed bool
		wantErr bool
	}{
		{"quantity bound passes", `quantity < 100.0`, true, false},
		{"quantity bound fails", `quantity > 100.0`, false, false},
		{"actor identity", `actor.entityId == "alice"`, true, false},
		{"actor type check", `actor.type == "System"`, false, false},
		{"item reference", `item.itemId == "gold" && quantity >= 1.0`, true, false},
		{"container realm", `container.realmId == "r-1"`, true, false},
		{"compile error denies", `quantity <<>> 1`, false, true},
		{"non-bool result denies", `quantity + 1.0`, false, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			allowed, err := g.Allow(tc.expr, input)
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tc.allowed, allowed)
		})
	}
}

func TestGateProgramCache(t *testing.T) {
	g, err := NewGateEvaluator()
	require.NoError(t, err)

	input := GateInput{Quantity: 1}
	for i := 0; i < 3; i++ {
		allowed, err := g.Allow(`quantity > 0.0`, input)
		require.NoError(t, err)
		assert.True(t, allowed)
	}
}

func TestGateMissingFieldDenies(t *testing.T) {
	g, err := NewGateEvaluator()
	require.NoError(t, err)

	// actor map is empty; field access errors at eval time and denies.
	allowed, err := g.Allow(`actor.entityId == "alice"`, GateInput{})
	require.Error(t, err)
	assert.False(t, allowed)
}
