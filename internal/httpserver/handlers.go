package httpserver

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tinytelemetry/vigil/internal/apperr"
	"github.com/tinytelemetry/vigil/internal/model"
)

func (s *Server) handleHealth(c *gin.Context) {
	report := s.api.Health(c.Request.Context())

	code := http.StatusOK
	if report.Status != model.HealthPass {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status": report.Status,
		"uptime": time.Since(s.startTime).String(),
		"checks": report.Checks,
	})
}

func (s *Server) handleTopAlertProducers(c *gin.Context) {
	limit := s.api.DefaultLimit()
	if raw := strings.TrimSpace(c.PostForm("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(c, apperr.Validation("limit must be an integer, got %q", raw))
			return
		}
		limit = n
	}
	since, until, err := timeWindow(c.PostForm("start_time"), c.PostForm("end_time"))
	if err != nil {
		writeError(c, err)
		return
	}

	producers, err := s.api.TopAlertProducers(c.Request.Context(), limit, since, until)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, producers)
}

func (s *Server) handleSubmitCheckResult(c *gin.Context) {
	raw := strings.TrimSpace(c.PostForm("status_code"))
	code, err := strconv.Atoi(raw)
	if err != nil {
		writeError(c, apperr.Validation("status_code must be an integer, got %q", raw))
		return
	}

	result := model.CheckResult{
		Host:       strings.TrimSpace(c.PostForm("host_name")),
		Service:    strings.TrimSpace(c.PostForm("service_description")),
		StatusCode: code,
		Output:     c.PostForm("plugin_output"),
		PerfData:   c.PostForm("performance_data"),
	}
	if err := s.api.SubmitCheckResult(c.Request.Context(), result); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": "ok", "host_name": result.Host, "service_description": result.Service})
}

func (s *Server) handleStateHistory(c *gin.Context) {
	since, until, err := timeWindow(c.Query("start_time"), c.Query("end_time"))
	if err != nil {
		writeError(c, err)
		return
	}
	events, err := s.api.StateHistory(c.Request.Context(), c.Query("host_name"), since, until)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

func (s *Server) handleQuery(c *gin.Context) {
	table := c.Query("table")
	if table == "" {
		writeError(c, apperr.Validation("table is required"))
		return
	}
	rows, err := s.api.Query(c.Request.Context(), model.NewQuery(table, c.QueryArray("filter")...))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rows": rows, "row_count": len(rows)})
}

func (s *Server) handleGraphs(c *gin.Context) {
	var units []model.GraphUnit
	for _, raw := range c.QueryArray("unit") {
		u, err := parseUnit(raw)
		if err != nil {
			writeError(c, err)
			return
		}
		units = append(units, u)
	}
	fetch := c.Query("fetch") == "1" || c.Query("fetch") == "true"

	result, err := s.api.Graphs(c.Request.Context(),
		c.Query("host_name"), c.Query("service_description"), c.QueryArray("metric"), units, fetch)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// parseUnit reads "label,id,from".
func parseUnit(raw string) (model.GraphUnit, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 3 {
		return model.GraphUnit{}, apperr.Validation("unit %q must be label,id,from", raw)
	}
	u := model.GraphUnit{
		Label: strings.TrimSpace(parts[0]),
		ID:    strings.TrimSpace(parts[1]),
		From:  strings.TrimSpace(parts[2]),
	}
	if u.From == "" {
		return model.GraphUnit{}, apperr.Validation("unit %q has no from", raw)
	}
	return u, nil
}

func timeWindow(start, end string) (time.Time, time.Time, error) {
	since, err := parseTime("start_time", start)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	until, err := parseTime("end_time", end)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return since, until, nil
}

// parseTime accepts unix seconds or RFC 3339. Empty means unset.
func parseTime(field, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(n, 0), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Time{}, apperr.Validation("%s must be unix seconds or RFC 3339, got %q", field, raw)
}

func statusFor(code string) int {
	switch code {
	case apperr.CodeValidation:
		return http.StatusBadRequest
	case apperr.CodeConfig:
		return http.StatusInternalServerError
	case apperr.CodeConnection:
		return http.StatusServiceUnavailable
	case apperr.CodeProtocol:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	var e *apperr.Error
	if !errors.As(err, &e) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	body := gin.H{"error": err.Error(), "code": e.Code}
	if e.Reason != apperr.ReasonNone {
		body["reason"] = e.Reason
	}
	if e.Suggestion != "" {
		body["suggestion"] = e.Suggestion
	}
	c.JSON(statusFor(e.Code), body)
}
