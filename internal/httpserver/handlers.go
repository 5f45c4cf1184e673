package httpserver

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/foodnet-go/internal/errors"
	"github.com/tphakala/foodnet-go/internal/logger"
	"github.com/tphakala/foodnet-go/internal/retrain"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// HandleError logs err and writes a JSON error response.
func HandleError(c echo.Context, err error, message string, code int) error {
	resp := ErrorResponse{
		Error:         message,
		Message:       message,
		Code:          code,
		CorrelationID: correlationID(),
	}
	if err != nil {
		resp.Error = err.Error()
	}

	log := GetLogger().WithContext(c.Request().Context())
	fields := []logger.Field{
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("path", c.Path()),
		logger.Int("code", code),
		logger.String("ip", c.RealIP()),
	}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	if code >= http.StatusInternalServerError {
		log.Error(message, fields...)
	} else {
		log.Debug(message, fields...)
	}

	return c.JSON(code, resp)
}

func correlationID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// healthCheck handles GET /healthz
func (s *Server) healthCheck(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	status, code := "healthy", http.StatusOK
	dbStatus := "ok"
	if err := s.deps.Store.Ping(ctx); err != nil {
		status, code = "unhealthy", http.StatusServiceUnavailable
		dbStatus = err.Error()
	}

	uptime := time.Since(s.startTime)
	return c.JSON(code, map[string]any{
		"status":         status,
		"database":       dbStatus,
		"version":        s.deps.BuildInfo.GetVersion(),
		"build_date":     s.deps.BuildInfo.GetBuildDate(),
		"uptime":         uptime.Round(time.Second).String(),
		"uptime_seconds": uptime.Seconds(),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

// listRecords handles GET /api/v1/records?offset=&limit=
func (s *Server) listRecords(c echo.Context) error {
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		return HandleError(c, err, "offset must be a non-negative integer", http.StatusBadRequest)
	}
	limit, err := queryInt(c, "limit", defaultPageSize)
	if err != nil || limit <= 0 || limit > maxPageSize {
		return HandleError(c, err, "limit must be between 1 and 1000", http.StatusBadRequest)
	}

	ctx := c.Request().Context()
	records, err := s.deps.Store.List(ctx, offset, limit)
	if err != nil {
		return HandleError(c, err, "Failed to list records", http.StatusInternalServerError)
	}
	total, err := s.deps.Store.Count(ctx)
	if err != nil {
		return HandleError(c, err, "Failed to count records", http.StatusInternalServerError)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"records": records,
		"offset":  offset,
		"limit":   limit,
		"total":   total,
	})
}

// getRecord handles GET /api/v1/records/:id
func (s *Server) getRecord(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return HandleError(c, err, "Invalid record id", http.StatusBadRequest)
	}

	record, err := s.deps.Store.Get(c.Request().Context(), id)
	switch {
	case errors.IsNotFound(err):
		return HandleError(c, err, "Record not found", http.StatusNotFound)
	case err != nil:
		return HandleError(c, err, "Failed to get record", http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, record)
}

// listCategories handles GET /api/v1/categories
func (s *Server) listCategories(c echo.Context) error {
	cats, err := s.deps.Store.Categories(c.Request().Context())
	if err != nil {
		return HandleError(c, err, "Failed to list categories", http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, cats)
}

// exportDataset handles GET /api/v1/dataset.csv
func (s *Server) exportDataset(c echo.Context) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/csv; charset=utf-8")
	res.Header().Set(echo.HeaderContentDisposition, `attachment; filename="data_info.csv"`)
	res.WriteHeader(http.StatusOK)

	if err := s.deps.Store.ExportCSV(c.Request().Context(), res); err != nil {
		// headers are gone, only log
		GetLogger().Error("dataset export failed mid-stream", logger.Error(err))
		return nil
	}
	return nil
}

// listRetrainJobs handles GET /api/v1/retrain/jobs
func (s *Server) listRetrainJobs(c echo.Context) error {
	if s.deps.Retrain == nil {
		return c.JSON(http.StatusOK, map[string]any{
			"enabled": false,
			"jobs":    []retrain.Job{},
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"enabled": true,
		"jobs":    s.deps.Retrain.Jobs(),
		"stats":   s.deps.Retrain.Stats(),
	})
}

// requestRetrain handles POST /api/v1/retrain
func (s *Server) requestRetrain(c echo.Context) error {
	if s.deps.Retrain == nil {
		return HandleError(c, nil, "Retraining is not enabled", http.StatusNotFound)
	}

	reason := "manual request from " + c.RealIP()
	if !s.deps.Retrain.Request(reason) {
		return HandleError(c, nil, "Retrain request was not accepted", http.StatusServiceUnavailable)
	}
	return c.JSON(http.StatusAccepted, map[string]any{
		"status": "queued",
		"stats":  s.deps.Retrain.Stats(),
	})
}

func queryInt(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
