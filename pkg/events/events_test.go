package events

import (
	"testing"
)

func TestActorValidate(t *testing.T) {
	cases := []struct {
		name  string
		actor Actor
		ok    bool
	}{
		{"entity", EntityActor("e-1"), true},
		{"system", SystemActor("sys-1"), true},
		{"anonymous", AnonymousActor("public endpoint"), true},
		{"entity missing id", Actor{Type: ActorEntity}, false},
		{"system missing id", Actor{Type: ActorSystem}, false},
		{"anonymous missing reason", Actor{Type: ActorAnonymous}, false},
		{"unknown", Actor{Type: "Robot"}, false},
	}
	for _, tc := range cases {
		err := tc.actor.Validate()
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestCandidateValidate(t *testing.T) {
	good := Candidate{
		AggregateType:    AggregateParty,
		AggregateID:      "p-1",
		AggregateVersion: 1,
		Type:             TypeEntityCreated,
		Timestamp:        1700000000000,
		Actor:            SystemActor("bootstrap"),
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid candidate rejected: %v", err)
	}

	bad := good
	bad.AggregateVersion = 0
	if err := bad.Validate(); err == nil {
		t.Fatal("version 0 accepted")
	}

	bad = good
	bad.AggregateType = "Spaceship"
	if err := bad.Validate(); err == nil {
		t.Fatal("unknown aggregate type accepted")
	}

	bad = good
	bad.Actor = Actor{}
	if err := bad.Validate(); err == nil {
		t.Fatal("missing actor accepted")
	}
}

func TestSchemaRegistryValidate(t *testing.T) {
	r := NewSchemaRegistry()
	schema := `{
		"type": "object",
		"required": ["name"],
		"properties": {"name": {"type": "string"}}
	}`
	if err := r.Register(TypeEntityCreated, "1.0.0", schema); err != nil {
		t.Fatal(err)
	}

	if err := r.Validate(TypeEntityCreated, map[string]interface{}{"name": "Acme"}); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}
	if err := r.Validate(TypeEntityCreated, map[string]interface{}{"n": 1}); err == nil {
		t.Fatal("payload missing required field accepted")
	}
	// Unknown fields pass: forward compatibility.
	if err := r.Validate(TypeEntityCreated, map[string]interface{}{"name": "Acme", "extra": true}); err != nil {
		t.Fatalf("unknown field rejected: %v", err)
	}
	// Unregistered types pass.
	if err := r.Validate("SomethingNew", map[string]interface{}{}); err != nil {
		t.Fatalf("unregistered type rejected: %v", err)
	}
}

func TestBuiltinSchemas(t *testing.T) {
	r, err := BuiltinSchemas()
	if err != nil {
		t.Fatal(err)
	}
	if got := r.Version(TypeEntityCreated); got != "1.0.0" {
		t.Fatalf("EntityCreated version = %s, want 1.0.0", got)
	}

	if err := r.Validate(TypeEntityCreated, map[string]interface{}{"name": "Acme"}); err != nil {
		t.Fatalf("conforming payload rejected: %v", err)
	}
	if err := r.Validate(TypeEntityCreated, map[string]interface{}{"entityType": "Person"}); err == nil {
		t.Fatal("payload without name accepted")
	}
	if err := r.Validate(TypeApiKeyCreated, map[string]interface{}{"keyHash": "sha256:ab", "entityId": "e-1"}); err != nil {
		t.Fatalf("api key payload rejected: %v", err)
	}
	if err := r.Validate(TypeAgreementProposed, map[string]interface{}{
		"agreementType": "service",
		"parties":       []interface{}{map[string]interface{}{"entityId": "e-1"}},
	}); err == nil {
		t.Fatal("party without role accepted")
	}
	// Lifecycle events carry no required fields; nil payload passes.
	if err := r.Validate(TypeAgreementActivated, nil); err != nil {
		t.Fatalf("nil lifecycle payload rejected: %v", err)
	}
}

func TestSchemaRegistryVersioning(t *testing.T) {
	r := NewSchemaRegistry()
	schema := `{"type": "object"}`
	if err := r.Register(TypeAssetRegistered, "1.0.0", schema); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(TypeAssetRegistered, "1.1.0", schema); err != nil {
		t.Fatalf("forward minor bump rejected: %v", err)
	}
	if err := r.Register(TypeAssetRegistered, "1.0.0", schema); err == nil {
		t.Fatal("backward version accepted")
	}
	if err := r.Register(TypeAssetRegistered, "2.0.0", schema); err == nil {
		t.Fatal("major version change accepted on same event type")
	}
	if got := r.Version(TypeAssetRegistered); got != "1.1.0" {
		t.Fatalf("version = %s, want 1.1.0", got)
	}
}

func TestPayloadHashDeterministic(t *testing.T) {
	e1 := &Event{Payload: map[string]interface{}{"a": 1, "b": "x"}}
	e2 := &Event{Payload: map[string]interface{}{"b": "x", "a": 1}}
	h1, err := e1.PayloadHash()
	if err != nil {
		t.Fatal(err)
	}
	h2, err := e2.PayloadHash()
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatalf("hash differs for structurally equal payloads")
	}
}
