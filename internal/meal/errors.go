package meal

import "errors"

var (
	// ErrExtraction means the model output could not be turned into a draft.
	ErrExtraction = errors.New("extraction error")
	// ErrValidation means a draft violates a record invariant.
	ErrValidation = errors.New("validation error")
	// ErrNotFound means the referenced record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrExternalService covers reasoning, retrieval and storage faults.
	ErrExternalService = errors.New("external service error")
	// ErrEstimationExhausted means the calorie estimator gave up.
	ErrEstimationExhausted = errors.New("calorie estimation exhausted")
	// ErrInvalidInput means a caller passed malformed arguments.
	ErrInvalidInput = errors.New("invalid input")
)

// Kind values reported to routers and users.
const (
	KindExtraction          = "extraction"
	KindValidation          = "validation"
	KindNotFound            = "not_found"
	KindExternalService     = "external_service"
	KindEstimationExhausted = "estimation_exhausted"
	KindInvalidInput        = "invalid_input"
	KindInternal            = "internal"
)

// KindOf maps err onto a stable kind string. A nil error has no kind.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrExtraction):
		return KindExtraction
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrEstimationExhausted):
		return KindEstimationExhausted
	case errors.Is(err, ErrExternalService):
		return KindExternalService
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	default:
		return KindInternal
	}
}
