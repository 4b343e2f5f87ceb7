package intents

// Outcome tags what a dispatched intent did.
type Outcome string

const (
	OutcomeCreated      Outcome = "Created"
	OutcomeUpdated      Outcome = "Updated"
	OutcomeTransitioned Outcome = "Transitioned"
	OutcomeTransferred  Outcome = "Transferred"
	OutcomeConsented    Outcome = "Consented"
	OutcomeFulfilled    Outcome = "Fulfilled"
	OutcomeQueried      Outcome = "Queried"
	OutcomeNothing      Outcome = "Nothing"
)

// Machine error codes carried on Result.Errors.
const (
	CodeIntentNotFound      = "INTENT_NOT_FOUND"
	CodeValidationFailed    = "VALIDATION_FAILED"
	CodeForbidden           = "FORBIDDEN"
	CodeConcurrencyConflict = "CONCURRENCY_CONFLICT"
	CodeNotFound            = "NOT_FOUND"
	CodeAlreadyExists       = "ALREADY_EXISTS"
	CodePhysicsViolation    = "PHYSICS_VIOLATION"
	CodeLifecycleInvalid    = "AGREEMENT_LIFECYCLE_INVALID"
	CodeTimeout             = "TIMEOUT"
	CodeStorageError        = "STORAGE_ERROR"
)

// IntentError is one structured failure on a result.
type IntentError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// EventRef references a persisted event from a result.
type EventRef struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Sequence uint64 `json:"sequence"`
}

// Affordance hints at a next intent the client may try. Hints only: the
// dispatcher re-authorizes every call.
type Affordance struct {
	Intent      string   `json:"intent"`
	Description string   `json:"description"`
	Required    []string `json:"required,omitempty"`
}

// Meta carries processing metadata on every result.
type Meta struct {
	ProcessedAt    int64  `json:"processedAt"`
	ProcessingTime int64  `json:"processingTime"` // ms
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// Result is the uniform response shape for success and failure alike.
type Result struct {
	Success     bool                   `json:"success"`
	Outcome     Outcome                `json:"outcome"`
	Events      []EventRef             `json:"events"`
	Affordances []Affordance           `json:"affordances"`
	Errors      []IntentError          `json:"errors,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
	Meta        Meta                   `json:"meta"`
}

// HasError reports whether the result carries code.
func (r *Result) HasError(code string) bool {
	for _, e := range r.Errors {
		if e.Code == code {
			return true
		}
	}
	return false
}

func failure(code, message string) *Result {
	return &Result{
		Success:     false,
		Outcome:     OutcomeNothing,
		Events:      []EventRef{},
		Affordances: []Affordance{},
		Errors:      []IntentError{{Code: code, Message: message}},
	}
}
