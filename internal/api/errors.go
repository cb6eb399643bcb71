package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labscreen/screenresults/internal/api/middleware"
	"github.com/labscreen/screenresults/internal/apperrors"
	"github.com/labscreen/screenresults/internal/storage"
)

// ProblemDetail represents an RFC 7807 Problem Details structure.
// See https://tools.ietf.org/html/rfc7807 for specification.
type ProblemDetail struct {
	Type          string `json:"type"`
	Title         string `json:"title"`
	Status        int    `json:"status"`
	Detail        string `json:"detail,omitempty"`
	Instance      string `json:"instance,omitempty"`
	Key           string `json:"key,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// NewProblemDetail creates a new RFC 7807 Problem Detail.
func NewProblemDetail(status int, title, detail string) *ProblemDetail {
	return &ProblemDetail{
		Type:   middleware.ProblemType(status),
		Title:  title,
		Status: status,
		Detail: detail,
	}
}

// WithKey names the request parameter the problem is about.
func (p *ProblemDetail) WithKey(key string) *ProblemDetail {
	p.Key = key

	return p
}

// WriteErrorResponse writes an RFC 7807 compliant error response.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger, problem *ProblemDetail) {
	correlationID := middleware.GetCorrelationID(r.Context())

	if problem.CorrelationID == "" {
		problem.CorrelationID = correlationID
	}

	if problem.Instance == "" {
		problem.Instance = r.URL.Path
	}

	w.Header().Set("Content-Type", contentTypeProblemJSON)
	w.WriteHeader(problem.Status)

	if err := json.NewEncoder(w).Encode(problem); err != nil {
		logger.Error("Failed to encode error response",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.Any("encode_error", err),
			slog.Int("status", problem.Status),
		)
	}
}

// problemFor maps a service error onto a response. Server side failures get a generic
// detail; the cause is logged, not returned.
func problemFor(err error) *ProblemDetail {
	var invalid *apperrors.InvalidRequestError

	switch {
	case errors.As(err, &invalid):
		return BadRequest(invalid.Reason).WithKey(invalid.Key)
	case errors.Is(err, apperrors.ErrInvalidRequest):
		return BadRequest(err.Error())
	case errors.Is(err, storage.ErrDatasetNotFound):
		return NotFound(err.Error())
	case errors.Is(err, apperrors.ErrSchemaInconsistency):
		return InternalServerError("The field schema of this dataset is inconsistent")
	case errors.Is(err, context.DeadlineExceeded):
		return NewProblemDetail(http.StatusGatewayTimeout, "Gateway Timeout", "The query did not finish in time")
	case apperrors.IsRetryable(err):
		return NewProblemDetail(http.StatusServiceUnavailable, "Service Unavailable",
			"The store is busy, please retry")
	default:
		return InternalServerError("An unexpected error occurred while processing the request")
	}
}

// InternalServerError creates a 500 Internal Server Error problem.
func InternalServerError(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusInternalServerError, "Internal Server Error", detail)
}

// BadRequest creates a 400 Bad Request problem.
func BadRequest(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusBadRequest, "Bad Request", detail)
}

// NotFound creates a 404 Not Found problem.
func NotFound(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusNotFound, "Not Found", detail)
}
