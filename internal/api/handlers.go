// Package api contains the HTTP handlers for the discovery flow service
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"discovery-flow/backend/pkg/models"
)

// HandleHealth returns basic health status (always returns 200 OK)
func (s *Server) HandleHealth(c echo.Context) error {
	status := models.HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Service:   "discovery-flow",
		Version:   "1.0.0",
	}
	return c.JSON(http.StatusOK, status)
}

// problem writes an RFC 7807 Problem Details JSON error response
func problem(c echo.Context, status int, title, detail string) error {
	p := models.ProblemDetails{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Request().URL.Path,
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	return c.JSON(status, p)
}
