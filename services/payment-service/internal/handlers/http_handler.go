package handlers

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/grigta/hotspot/services/payment-service/internal/catalog"
	"github.com/grigta/hotspot/services/payment-service/internal/models"
)

const (
	defaultStatisticsWindow = 24 * time.Hour
	healthCheckTimeout      = 2 * time.Second
)

type PurchaseOrchestrator interface {
	SubmitPurchase(ctx context.Context, clientKey string, req models.PurchaseRequest, identity *models.NetworkIdentity) (<-chan models.StatusReport, error)
	Close(ctx context.Context, clientKey, sessionID string) (bool, error)
}

type SessionReader interface {
	Get(ctx context.Context, sessionID string) (*models.PaymentSession, error)
}

type StatisticsProvider interface {
	Compute(ctx context.Context, since time.Time) (*models.Statistics, error)
}

type PackageCatalog interface {
	List() []models.Package
	Get(id string) (models.Package, error)
}

type HealthChecker interface {
	Ping(ctx context.Context) error
}

type HTTPHandler struct {
	orchestrator PurchaseOrchestrator
	sessions     SessionReader
	statistics   StatisticsProvider
	packages     PackageCatalog
	checks       map[string]HealthChecker
	logger       *logrus.Logger
}

func NewHTTPHandler(
	orchestrator PurchaseOrchestrator,
	sessions SessionReader,
	statistics StatisticsProvider,
	packages PackageCatalog,
	logger *logrus.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		orchestrator: orchestrator,
		sessions:     sessions,
		statistics:   statistics,
		packages:     packages,
		checks:       make(map[string]HealthChecker),
		logger:       logger,
	}
}

// AddHealthCheck makes /health report name and fail while it is down.
func (h *HTTPHandler) AddHealthCheck(name string, checker HealthChecker) {
	h.checks[name] = checker
}

// SetupRoutes registers the portal API. purchaseLimit, when set, guards only
// the purchase endpoint.
func (h *HTTPHandler) SetupRoutes(router *gin.Engine, purchaseLimit gin.HandlerFunc) {
	api := router.Group("/api/v1")
	{
		if purchaseLimit != nil {
			api.POST("/purchase", purchaseLimit, h.Purchase)
		} else {
			api.POST("/purchase", h.Purchase)
		}
		api.GET("/packages", h.ListPackages)
		api.GET("/sessions/:id", h.GetSession)
		api.POST("/sessions/close", h.CloseSession)
		api.GET("/statistics", h.GetStatistics)
	}

	router.GET("/health", h.HealthCheck)
}

type purchaseRequest struct {
	Phone         string `json:"phone"`
	PackageID     string `json:"package_id"`
	Amount        int64  `json:"amount"`
	DurationHours int    `json:"duration_hours"`
	IP            string `json:"ip"`
	MAC           string `json:"mac"`
	// ReplacesSessionID is the session_id of the device's live session when
	// a different payer takes over.
	ReplacesSessionID string `json:"replaces_session_id"`
}

func (r purchaseRequest) networkIdentity() *models.NetworkIdentity {
	if r.IP == "" && r.MAC == "" {
		return nil
	}
	return &models.NetworkIdentity{Address: r.IP, HardwareAddress: r.MAC}
}

// clientKey ties a browser to its live session: the canonical hardware address
// when the captive portal supplied one, otherwise the remote address. An
// unparsable address is passed through and rejected by validation.
func clientKey(c *gin.Context, mac string) string {
	mac = strings.TrimSpace(mac)
	if mac == "" {
		return c.ClientIP()
	}
	if hw, err := net.ParseMAC(mac); err == nil {
		return models.CanonicalMAC(hw)
	}
	return mac
}

// Purchase starts a session and streams its status reports as server-sent
// events until the session ends. A payer who disconnects does not cancel the
// session; the grant still happens if the payment is confirmed.
func (h *HTTPHandler) Purchase(c *gin.Context) {
	var body purchaseRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "kind": models.ErrorKindValidation})
		return
	}

	req := models.PurchaseRequest{
		ClientIdentity:       body.Phone,
		Amount:               body.Amount,
		PackageDurationHours: body.DurationHours,
	}
	if body.PackageID != "" {
		pkg, err := h.packages.Get(body.PackageID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown package", "kind": models.ErrorKindValidation})
			return
		}
		req = pkg.PurchaseRequest(body.Phone)
	}
	req.ReplacesSessionID = body.ReplacesSessionID

	key := clientKey(c, body.MAC)
	reports, err := h.orchestrator.SubmitPurchase(c.Request.Context(), key, req, body.networkIdentity())
	if err != nil {
		h.writeSubmitError(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		select {
		case report, ok := <-reports:
			if !ok {
				return false
			}
			c.SSEvent("status", report)
			return true
		case <-c.Request.Context().Done():
			h.logger.WithField("client_key", key).Debug("Status stream closed by client")
			return false
		}
	})
}

func (h *HTTPHandler) writeSubmitError(c *gin.Context, err error) {
	var fe *models.FlowError
	switch {
	case errors.As(err, &fe) && fe.Kind == models.ErrorKindValidation:
		c.JSON(http.StatusBadRequest, gin.H{"error": fe.Reason, "kind": fe.Kind})
	case errors.Is(err, models.ErrSessionInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "A payment is already in progress on this device"})
	case errors.Is(err, models.ErrShuttingDown):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service is restarting, please try again"})
	default:
		h.logger.WithError(err).Error("Failed to start purchase")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start purchase"})
	}
}

func (h *HTTPHandler) ListPackages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"packages": h.packages.List()})
}

func (h *HTTPHandler) GetSession(c *gin.Context) {
	session, err := h.sessions.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, models.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to get session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get session"})
		return
	}

	c.JSON(http.StatusOK, session)
}

// CloseSession stops the caller's live session. The session_id from the first
// status event is required, so knowing a device address is not enough to
// cancel someone else's payment check.
func (h *HTTPHandler) CloseSession(c *gin.Context) {
	var body struct {
		SessionID string `json:"session_id" binding:"required"`
		MAC       string `json:"mac"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return
	}

	closed, err := h.orchestrator.Close(c.Request.Context(), clientKey(c, body.MAC), body.SessionID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to close session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to close session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "closed": closed})
}

func (h *HTTPHandler) GetStatistics(c *gin.Context) {
	since := time.Now().Add(-defaultStatisticsWindow)
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be an RFC3339 timestamp"})
			return
		}
		since = parsed
	}

	stats, err := h.statistics.Compute(c.Request.Context(), since)
	if err != nil {
		h.logger.WithError(err).Error("Failed to compute statistics")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute statistics"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	status, code := "healthy", http.StatusOK
	checks := make(map[string]string, len(h.checks))
	for name, checker := range h.checks {
		if err := checker.Ping(ctx); err != nil {
			checks[name] = err.Error()
			status, code = "unhealthy", http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	c.JSON(code, gin.H{
		"status":  status,
		"service": "payment-service",
		"checks":  checks,
	})
}

var _ PackageCatalog = (*catalog.Catalog)(nil)
