package handlers

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/grigta/hotspot/pkg/logger"
	"github.com/grigta/hotspot/pkg/middleware"
	"github.com/grigta/hotspot/services/access-service/internal/models"
)

type GrantIssuer interface {
	Grant(ctx context.Context, req models.GrantRequest) (*models.Grant, bool, error)
	Get(ctx context.Context, sessionID string) (*models.Grant, error)
}

type HTTPHandler struct {
	grants GrantIssuer
	auth   *middleware.AuthMiddleware
	checks map[string]func(context.Context) error
	log    logger.Logger
}

func NewHTTPHandler(grants GrantIssuer, auth *middleware.AuthMiddleware, log logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		grants: grants,
		auth:   auth,
		checks: make(map[string]func(context.Context) error),
		log:    log,
	}
}

func (h *HTTPHandler) AddHealthCheck(name string, check func(context.Context) error) {
	h.checks[name] = check
}

func (h *HTTPHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	api.Use(h.auth.Authenticate(), h.auth.RequireRole(middleware.RoleAccessGranter))
	{
		api.POST("/grants", h.CreateGrant)
		api.GET("/grants/:session_id", h.GetGrant)
	}

	router.GET("/health", h.HealthCheck)
}

func (h *HTTPHandler) CreateGrant(c *gin.Context) {
	var req models.GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.GrantResponse{Error: "invalid request body"})
		return
	}

	grant, idempotent, err := h.grants.Grant(c.Request.Context(), req)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.log.Error("Grant failed",
				logger.Field{Key: "session_id", Value: req.SessionID},
				logger.Field{Key: "service", Value: c.GetString(middleware.ServiceKey)},
				logger.Err(err),
			)
		}
		c.JSON(status, models.GrantResponse{Error: err.Error()})
		return
	}

	message := "access granted"
	if idempotent {
		message = "access already granted"
	}
	c.JSON(http.StatusOK, models.GrantResponse{
		Success:       true,
		Message:       message,
		ExpiresAt:     grant.ExpiresAt,
		Idempotent:    idempotent,
		ControllerRef: grant.ControllerRef,
	})
}

func (h *HTTPHandler) GetGrant(c *gin.Context) {
	grant, err := h.grants.Get(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.log.Error("Failed to get grant", logger.Err(err))
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, grant)
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	var failing []string
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.log.Warn("Health check failed", logger.Field{Key: "dependency", Value: name}, logger.Err(err))
			failing = append(failing, name)
		}
	}

	if len(failing) > 0 {
		sort.Strings(failing)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"service": "access-service",
			"failing": failing,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "access-service",
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidRequest), errors.Is(err, models.ErrPlaceholderDenied):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrGrantNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrIdentityMismatch), errors.Is(err, models.ErrGrantInProgress):
		return http.StatusConflict
	case errors.Is(err, models.ErrControllerFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
