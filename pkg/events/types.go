package events

// Event type tags. The tag is the only dispatch key for rehydration and
// projections; payload schemas are registered per tag in the schema registry.
const (
	// Party lifecycle
	TypeEntityCreated = "EntityCreated"
	TypeEntityUpdated = "EntityUpdated"

	// Agreement lifecycle
	TypeAgreementProposed   = "AgreementProposed"
	TypePartyConsented      = "PartyConsented"
	TypePartyRejected       = "PartyRejected"
	TypeAgreementActivated  = "AgreementActivated"
	TypeAgreementTerminated = "AgreementTerminated"
	TypeAgreementDisputed   = "AgreementDisputed"
	TypeAgreementResolved   = "AgreementResolved"

	// Asset lifecycle
	TypeAssetRegistered  = "AssetRegistered"
	TypeAssetTransferred = "AssetTransferred"
	TypeAssetRetired     = "AssetRetired"

	// Container lifecycle and movement
	TypeContainerCreated       = "ContainerCreated"
	TypeContainerItemDeposited = "ContainerItemDeposited"
	TypeContainerItemWithdrawn = "ContainerItemWithdrawn"
	TypeDepositAttempted       = "DepositAttempted"
	TypeTransferFailed         = "TransferFailed"

	// Credentials
	TypeApiKeyCreated = "ApiKeyCreated"
	TypeApiKeyRevoked = "ApiKeyRevoked"

	// Authorization audit trail
	TypeAuthorizationGranted = "AuthorizationGranted"
	TypeAuthorizationDenied  = "AuthorizationDenied"

	// Workflow execution
	TypeWorkflowTransitioned = "WorkflowTransitioned"

	// Dispatch outcomes that are themselves facts
	TypeIntentFailed = "IntentFailed"
)
