package ingestion

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	httperr "github.com/bursarynetwork007/auxeira-backend-sub004/internal/core/errors"

	v1 "github.com/bursarynetwork007/auxeira-backend-sub004/internal/api/v1"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/broker"
	"github.com/gin-gonic/gin"
)

const (
	msgReadBodyFailed = "Failed to read request body"
	msgInvalidJSON    = "Invalid JSON body"
	msgDuplicateEvent = "Event already published"
	msgPublishDown    = "Publisher unavailable, retry with the same event_id"
)

// ingestionError carries the structured HTTP error shape from a helper back to the orchestrator.
// Helpers return this instead of writing to gin.Context directly, keeping them decoupled from HTTP.
type ingestionError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *ingestionError) Error() string {
	return e.message
}

// eventRequest is the HTTP body for one event. event_id is optional: a
// client that supplies its own can safely retry publishes; omitted, one is
// generated and the request is not retry-safe.
type eventRequest struct {
	EventID    string                 `json:"event_id"`
	SubjectID  string                 `json:"subject_id"`
	Kind       v1.Kind                `json:"kind"`
	OccurredAt time.Time              `json:"occurred_at"`
	Payload    map[string]interface{} `json:"payload"`
	Metadata   v1.Metadata            `json:"metadata"`
}

type batchRequest struct {
	Events []eventRequest `json:"events"`
}

// IngestHandler handles HTTP POST requests for single-event publishing.
func (s *Service) IngestHandler(c *gin.Context) {
	var req eventRequest
	bodySize, ierr := s.bindBody(c, &req)
	if ierr != nil {
		writeError(c, ierr)
		return
	}

	env, ierr := s.buildEnvelope(&req)
	if ierr != nil {
		writeError(c, ierr)
		return
	}

	slog.Info("Received Event",
		"event_id", env.EventID,
		"subject_id", env.SubjectID,
		"kind", env.Kind,
		"payload_size", bodySize)

	ack, err := s.publisher.Publish(c.Request.Context(), env)
	if ierr := classifyPublishError(err, env); ierr != nil {
		writeError(c, ierr)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":   "accepted",
		"event_id": ack.EventID,
		"topic":    ack.Topic,
		"offset":   ack.Offset,
	})
}

// IngestBatchHandler validates the whole batch up front, so a malformed
// event fails the request before anything is published. Duplicates inside
// the batch are acked as duplicates, not errors.
func (s *Service) IngestBatchHandler(c *gin.Context) {
	var req batchRequest
	if _, ierr := s.bindBody(c, &req); ierr != nil {
		writeError(c, ierr)
		return
	}
	if len(req.Events) == 0 {
		writeError(c, &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    "events must not be empty",
		})
		return
	}

	envs := make([]*v1.Envelope, 0, len(req.Events))
	for i := range req.Events {
		env, ierr := s.buildEnvelope(&req.Events[i])
		if ierr != nil {
			ierr.details = map[string]interface{}{"index": i}
			writeError(c, ierr)
			return
		}
		envs = append(envs, env)
	}

	acks, err := s.publisher.PublishBatch(c.Request.Context(), envs)
	if err != nil {
		slog.Error("Batch publish aborted", "published", len(acks), "total", len(envs), "error", err)
		status, errType := http.StatusInternalServerError, httperr.HttpInternalError
		if errors.Is(err, broker.ErrPublishUnavailable) {
			status, errType = http.StatusServiceUnavailable, httperr.HttpPublishUnavailable
		}
		writeError(c, &ingestionError{
			statusCode: status,
			errorType:  errType,
			message:    err.Error(),
			details:    map[string]interface{}{"published": len(acks), "total": len(envs)},
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "acks": acks})
}

// bindBody reads the size-limited request body and unmarshals it into dst.
// Returns the raw payload size for structured logging upstream.
func (s *Service) bindBody(c *gin.Context, dst interface{}) (int, *ingestionError) {
	// Enforce maximum body size to prevent OOM attacks
	maxBytes := int64(s.maxBodySizeBytes)
	limitedBody := io.LimitReader(c.Request.Body, maxBytes+1) // +1 to detect oversized requests

	bodyBytes, err := io.ReadAll(limitedBody)
	if err != nil {
		slog.Error("Failed to read request body", "error", err)
		return 0, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgReadBodyFailed,
		}
	}

	if int64(len(bodyBytes)) > maxBytes {
		slog.Warn("Request body exceeds maximum size", "size", len(bodyBytes), "max", maxBytes)
		return len(bodyBytes), &ingestionError{
			statusCode: http.StatusRequestEntityTooLarge,
			errorType:  httperr.HttpInvalidJsonError,
			message:    "Request body exceeds maximum allowed size",
			details: map[string]interface{}{
				"max_size_mb": maxBytes / (1024 * 1024),
			},
		}
	}

	c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))
	if err := c.ShouldBindJSON(dst); err != nil {
		slog.Warn("Invalid JSON body received", "error", err, "payload_size", len(bodyBytes))
		return len(bodyBytes), &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgInvalidJSON,
		}
	}
	return len(bodyBytes), nil
}

// buildEnvelope turns a request into a validated envelope and runs the
// kind's payload spec check.
func (s *Service) buildEnvelope(req *eventRequest) (*v1.Envelope, *ingestionError) {
	var env *v1.Envelope
	if req.EventID == "" {
		built, err := v1.NewEnvelope(req.SubjectID, req.Kind, req.Payload, req.Metadata)
		if err != nil {
			return nil, invalidEnvelope(err)
		}
		env = built
	} else {
		env = &v1.Envelope{
			EventID:    req.EventID,
			SubjectID:  req.SubjectID,
			Kind:       req.Kind,
			OccurredAt: req.OccurredAt,
			Payload:    req.Payload,
			Metadata:   req.Metadata,
		}
		if err := env.Validate(); err != nil {
			return nil, invalidEnvelope(err)
		}
	}

	if !req.OccurredAt.IsZero() {
		env.OccurredAt = req.OccurredAt.UTC()
	}

	if err := s.specs.Check(env); err != nil {
		slog.Warn("Payload spec check failed", "event_id", env.EventID, "kind", env.Kind, "error", err)
		return nil, &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpPayloadValidationError,
			message:    err.Error(),
			details:    map[string]interface{}{"kind": env.Kind},
		}
	}
	return env, nil
}

func invalidEnvelope(err error) *ingestionError {
	return &ingestionError{
		statusCode: http.StatusBadRequest,
		errorType:  httperr.HttpInvalidEnvelopeError,
		message:    err.Error(),
	}
}

func classifyPublishError(err error, env *v1.Envelope) *ingestionError {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, broker.ErrDuplicate):
		slog.Info("Duplicate event rejected", "event_id", env.EventID, "subject_id", env.SubjectID)
		return &ingestionError{
			statusCode: http.StatusConflict,
			errorType:  httperr.HttpDuplicateEventError,
			message:    msgDuplicateEvent,
		}
	case errors.Is(err, broker.ErrPublishUnavailable):
		slog.Error("Publish unavailable after retries", "event_id", env.EventID, "error", err)
		return &ingestionError{
			statusCode: http.StatusServiceUnavailable,
			errorType:  httperr.HttpPublishUnavailable,
			message:    msgPublishDown,
		}
	default:
		slog.Error("Failed to publish event", "error", err, "event_id", env.EventID)
		return &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    err.Error(),
		}
	}
}

// writeError serializes an ingestionError as the JSON HTTP response.
func writeError(c *gin.Context, err *ingestionError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}
