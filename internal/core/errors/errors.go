package errors

const (
	HttpInternalError          = "internal_error"
	HttpInvalidJsonError       = "invalid_json"
	HttpInvalidEnvelopeError   = "invalid_envelope"
	HttpPayloadValidationError = "payload_validation_failed"
	HttpDuplicateEventError    = "duplicate_event"
	HttpPublishUnavailable     = "publish_unavailable"
	HttpJobNotFoundError       = "job_not_found"
	HttpJobConflictError       = "job_conflict"
	HttpAlertNotFoundError     = "alert_not_found"
	HttpAlertConflictError     = "alert_already_acknowledged"
)

// ErrorResponse is the error response body for API errors.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
