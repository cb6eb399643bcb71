package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labscreen/screenresults/internal/api/middleware"
	"github.com/labscreen/screenresults/internal/apperrors"
	"github.com/labscreen/screenresults/internal/planner"
	"github.com/labscreen/screenresults/internal/schema"
	"github.com/labscreen/screenresults/internal/screenresult"
)

const requestedByHeader = "X-Requested-By"

type (
	// RowsResponse is one page of rows. Fields lists the displayed columns in order; each row
	// maps field keys to values.
	RowsResponse struct {
		DatasetID   int64              `json:"datasetId"`
		Fingerprint string             `json:"fingerprint"`
		Total       int64              `json:"total"`
		Limit       int                `json:"limit"`
		Offset      int                `json:"offset"`
		Fields      []schema.FieldSpec `json:"fields"`
		Rows        []map[string]any   `json:"rows"`
	}

	// SchemaResponse lists the fields of a dataset.
	SchemaResponse struct {
		DatasetID  int64              `json:"datasetId"`
		FacilityID string             `json:"facilityId"`
		Title      string             `json:"title"`
		Fields     []schema.FieldSpec `json:"fields"`
	}

	// MutualPositivesResponse lists the data columns of other datasets sharing positives.
	MutualPositivesResponse struct {
		DatasetID int64              `json:"datasetId"`
		Fields    []schema.FieldSpec `json:"fields"`
	}

	// EvictionResponse reports what a cache clear removed.
	EvictionResponse struct {
		DatasetID      int64 `json:"datasetId,omitempty"`
		EvictedQueries int64 `json:"evictedQueries"`
		EvictedRows    int64 `json:"evictedRows"`
	}

	// CacheStatsResponse summarizes the cache.
	CacheStatsResponse struct {
		Queries int64      `json:"queries"`
		Rows    int64      `json:"rows"`
		Oldest  *time.Time `json:"oldest,omitempty"`
	}
)

// handleRows handles GET /api/v1/screenresults/{id}.
//
// Query parameters: <key>[__<op>]=value filters (prefix "-" to negate), order_by, limit,
// offset, includes, show_mutual_positives and format (json only).
func (s *Server) handleRows(w http.ResponseWriter, r *http.Request) {
	datasetID, ok := s.datasetID(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()

	if format := query.Get(planner.ParamFormat); format != "" && !strings.EqualFold(format, "json") {
		WriteErrorResponse(w, r, s.logger,
			BadRequest("Only the json format is supported").WithKey(planner.ParamFormat))

		return
	}

	page, err := s.service.Rows(r.Context(), screenresult.Request{
		DatasetID:   datasetID,
		Values:      query,
		RequestedBy: requestedBy(r),
	})
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	rows := make([]map[string]any, len(page.Rows))
	for i, row := range page.Rows {
		rows[i] = row.Values
	}

	s.writeJSON(w, r, http.StatusOK, RowsResponse{
		DatasetID:   page.DatasetID,
		Fingerprint: string(page.Fingerprint),
		Total:       page.Total,
		Limit:       page.Limit,
		Offset:      page.Offset,
		Fields:      page.Fields,
		Rows:        rows,
	})
}

// handleSchema handles GET /api/v1/screenresults/{id}/schema.
func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	datasetID, ok := s.datasetID(w, r)
	if !ok {
		return
	}

	withMutual := false

	if raw := r.URL.Query().Get(planner.ParamShowMutualPositives); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			WriteErrorResponse(w, r, s.logger,
				BadRequest("Must be a boolean").WithKey(planner.ParamShowMutualPositives))

			return
		}

		withMutual = v
	}

	sch, err := s.service.Schema(r.Context(), datasetID, withMutual)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, SchemaResponse{
		DatasetID:  sch.Dataset.ID,
		FacilityID: sch.Dataset.FacilityID,
		Title:      sch.Dataset.Title,
		Fields:     sch.Fields,
	})
}

// handleMutualPositives handles GET /api/v1/screenresults/{id}/mutualpositives.
func (s *Server) handleMutualPositives(w http.ResponseWriter, r *http.Request) {
	datasetID, ok := s.datasetID(w, r)
	if !ok {
		return
	}

	fields, err := s.service.MutualPositives(r.Context(), datasetID)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, MutualPositivesResponse{DatasetID: datasetID, Fields: fields})
}

// handleClearDatasetCache handles POST /api/v1/screenresults/{id}/clear_cache.
func (s *Server) handleClearDatasetCache(w http.ResponseWriter, r *http.Request) {
	datasetID, ok := s.datasetID(w, r)
	if !ok {
		return
	}

	res, err := s.service.ClearDataset(r.Context(), datasetID)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.logger.Info("Dataset cache cleared",
		slog.Int64("dataset_id", datasetID),
		slog.Int64("queries", res.Queries),
		slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
	)

	s.writeJSON(w, r, http.StatusOK, EvictionResponse{
		DatasetID:      datasetID,
		EvictedQueries: res.Queries,
		EvictedRows:    res.Rows,
	})
}

// handleClearCache handles POST /api/v1/cache/clear.
func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.ClearCache(r.Context())
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.logger.Info("Cache cleared",
		slog.Int64("queries", res.Queries),
		slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
	)

	s.writeJSON(w, r, http.StatusOK, EvictionResponse{EvictedQueries: res.Queries, EvictedRows: res.Rows})
}

// handleCacheStats handles GET /api/v1/cache.
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, CacheStatsResponse{
		Queries: stats.Queries,
		Rows:    stats.Rows,
		Oldest:  stats.Oldest,
	})
}

func (s *Server) datasetID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		WriteErrorResponse(w, r, s.logger, BadRequest("Dataset id must be a positive integer").WithKey("id"))

		return 0, false
	}

	return id, true
}

// writeError logs server side failures and writes the mapped problem.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	problem := problemFor(err)

	if problem.Status >= http.StatusInternalServerError {
		attrs := []any{
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		}

		var schemaErr *apperrors.SchemaError
		if errors.As(err, &schemaErr) {
			attrs = append(attrs,
				slog.String("field", schemaErr.FieldKey),
				slog.Int64("attribute_id", schemaErr.AttributeID))
		}

		s.logger.ErrorContext(r.Context(), "Request failed", attrs...)
	}

	WriteErrorResponse(w, r, s.logger, problem)
}

func requestedBy(r *http.Request) string {
	if user := strings.TrimSpace(r.Header.Get(requestedByHeader)); user != "" {
		return user
	}

	return middleware.ClientKey(r, false)
}
