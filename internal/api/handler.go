package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"blindbox-service/internal/auth"
	"blindbox-service/internal/models"
	"blindbox-service/internal/service"
	"blindbox-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// UserAPI is satisfied by *service.UserService.
type UserAPI interface {
	Register(ctx context.Context, username, password string) (*models.User, error)
	Login(ctx context.Context, username, password string) (*service.LoginResult, error)
	Logout(ctx context.Context, claims *auth.Claims) error
	Profile(ctx context.Context, userID int64) (*models.User, error)
	Recharge(ctx context.Context, userID, amount int64) (int64, error)
}

// BoxAPI is satisfied by *service.BoxService.
type BoxAPI interface {
	CreateBox(ctx context.Context, ownerID int64, in service.CreateBoxInput) (*models.Box, error)
	GetBox(ctx context.Context, boxID int64) (*models.Box, error)
	ListBoxes(ctx context.Context, filter models.BoxFilter) ([]models.Box, error)
	DeleteBox(ctx context.Context, boxID, actorID int64, actorRole string) error
}

// PurchaseAPI is satisfied by *service.PurchaseService.
type PurchaseAPI interface {
	PurchaseOnce(ctx context.Context, boxID, buyerID int64, key string) (*service.PurchaseResult, bool, error)
}

// OrderAPI is satisfied by *service.OrderService.
type OrderAPI interface {
	ListPurchases(ctx context.Context, buyerID int64, page models.Page) ([]models.Order, error)
	ListSales(ctx context.Context, sellerID int64, page models.Page) ([]models.Order, error)
	ListAll(ctx context.Context, page models.Page) ([]models.Order, error)
}

// RevocationChecker is satisfied by *redisclient.Client.
type RevocationChecker interface {
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// Pinger is a dependency checked by /ready.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	users     UserAPI
	boxes     BoxAPI
	purchases PurchaseAPI
	orders    OrderAPI
	revoked   RevocationChecker
	jwtSecret string
	checks    map[string]Pinger
	logger    *zap.Logger
}

// Deps groups what the handlers call into.
type Deps struct {
	Users     UserAPI
	Boxes     BoxAPI
	Purchases PurchaseAPI
	Orders    OrderAPI
	Revoked   RevocationChecker
	JWTSecret string
	// Checks are pinged by /ready, keyed by name
	Checks map[string]Pinger
}

// NewHandler creates a new HTTP handler
func NewHandler(d Deps) *Handler {
	return &Handler{
		users:     d.Users,
		boxes:     d.Boxes,
		purchases: d.Purchases,
		orders:    d.Orders,
		revoked:   d.Revoked,
		jwtSecret: d.JWTSecret,
		checks:    d.Checks,
		logger:    util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/auth/register", h.register)
		v1.POST("/auth/login", h.login)

		v1.GET("/boxes", h.listBoxes)
		v1.GET("/boxes/:id", h.getBox)
	}

	authed := v1.Group("")
	authed.Use(h.requireAuth())
	{
		authed.POST("/auth/logout", h.logout)

		authed.GET("/users/me", h.profile)
		authed.POST("/users/me/recharge", h.recharge)

		authed.POST("/boxes", h.createBox)
		authed.DELETE("/boxes/:id", h.deleteBox)
		authed.POST("/boxes/:id/purchase", h.purchaseBox)

		authed.GET("/orders/purchases", h.listPurchases)
		authed.GET("/orders/sales", h.listSales)
	}

	admin := authed.Group("/admin")
	admin.Use(requireRole(models.RoleAdmin))
	{
		admin.GET("/orders", h.listAllOrders)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only when every dependency answers a ping.
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}
	return id, true
}

func parsePage(c *gin.Context) models.Page {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	return models.Page{Limit: limit, Offset: offset}
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrBoxNotFound), errors.Is(err, service.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInsufficientFunds), errors.Is(err, service.ErrOutOfStock),
		errors.Is(err, service.ErrInvalidBox), errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrUsernameTaken), errors.Is(err, service.ErrDuplicateRequest):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err with its mapped status. Unexpected errors are
// logged and replaced by fallback.
func (h *Handler) respondError(c *gin.Context, err error, fallback string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		util.LoggerFromContext(c.Request.Context()).Error(fallback,
			zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"error": fallback})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
