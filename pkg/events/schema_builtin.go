package events

// Writer-side payload schemas for the core event types. Schemas constrain
// what handlers append, not what readers accept: required fields are the
// ones every writer sets, extra fields stay open for forward compatibility.
var builtinSchemas = []struct {
	eventType string
	version   string
	schema    string
}{
	{TypeEntityCreated, "1.0.0", `{
		"type": "object",
		"required": ["name"],
		"properties": {
			"name": {"type": "string", "minLength": 1},
			"entityType": {"type": "string"},
			"realmId": {"type": "string"},
			"identifiers": {"type": "object"},
			"contacts": {"type": "object"}
		}
	}`},
	{TypeEntityUpdated, "1.0.0", `{"type": "object"}`},
	{TypeAgreementProposed, "1.0.0", `{
		"type": "object",
		"required": ["agreementType", "parties"],
		"properties": {
			"agreementType": {"type": "string", "minLength": 1},
			"proposedBy": {"type": "string"},
			"realmId": {"type": "string"},
			"terms": {"type": "object"},
			"effectiveFrom": {"type": "number"},
			"effectiveUntil": {"type": "number"},
			"parties": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"required": ["entityId", "role"],
					"properties": {
						"entityId": {"type": "string", "minLength": 1},
						"role": {"type": "string", "minLength": 1}
					}
				}
			}
		}
	}`},
	{TypePartyConsented, "1.0.0", `{
		"type": "object",
		"required": ["entityId"],
		"properties": {
			"entityId": {"type": "string", "minLength": 1},
			"method": {"type": "string"}
		}
	}`},
	{TypePartyRejected, "1.0.0", `{
		"type": "object",
		"required": ["entityId"],
		"properties": {"entityId": {"type": "string", "minLength": 1}}
	}`},
	{TypeAgreementActivated, "1.0.0", `{"type": "object"}`},
	{TypeAgreementTerminated, "1.0.0", `{"type": "object"}`},
	{TypeAgreementDisputed, "1.0.0", `{"type": "object"}`},
	{TypeAgreementResolved, "1.0.0", `{
		"type": "object",
		"properties": {"outcome": {"type": "string"}}
	}`},
	{TypeAssetRegistered, "1.0.0", `{
		"type": "object",
		"required": ["assetType", "ownerId"],
		"properties": {
			"assetType": {"type": "string", "minLength": 1},
			"ownerId": {"type": "string", "minLength": 1},
			"quantity": {"type": "number"},
			"properties": {"type": "object"},
			"establishedBy": {"type": "string"}
		}
	}`},
	{TypeContainerCreated, "1.0.0", `{
		"type": "object",
		"required": ["name", "containerType"],
		"properties": {
			"name": {"type": "string", "minLength": 1},
			"containerType": {"type": "string", "minLength": 1},
			"physics": {"type": ["object", "null"]},
			"ownerId": {"type": "string"},
			"realmId": {"type": "string"},
			"governanceAgreementId": {"type": "string"},
			"parentContainerId": {"type": "string"}
		}
	}`},
	{TypeApiKeyCreated, "1.0.0", `{
		"type": "object",
		"required": ["keyHash", "entityId"],
		"properties": {
			"keyHash": {"type": "string", "minLength": 1},
			"entityId": {"type": "string", "minLength": 1},
			"realmId": {"type": "string"},
			"scopes": {"type": "array", "items": {"type": "string"}},
			"expiresAt": {"type": "number"},
			"establishedBy": {"type": "string"}
		}
	}`},
	{TypeApiKeyRevoked, "1.0.0", `{"type": "object"}`},
}

// RegisterBuiltinSchemas loads the core payload schemas into r.
func RegisterBuiltinSchemas(r *SchemaRegistry) error {
	for _, s := range builtinSchemas {
		if err := r.Register(s.eventType, s.version, s.schema); err != nil {
			return err
		}
	}
	return nil
}

// BuiltinSchemas returns a registry preloaded with the core schemas.
func BuiltinSchemas() (*SchemaRegistry, error) {
	r := NewSchemaRegistry()
	if err := RegisterBuiltinSchemas(r); err != nil {
		return nil, err
	}
	return r, nil
}
