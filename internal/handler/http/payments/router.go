package payments

import (
	"context"
	"net/http"
	"time"

	"coursepay/internal/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HealthChecker reports database health as a flat map with a "status" key.
type HealthChecker interface {
	Health(ctx context.Context) map[string]string
}

type RouterConfig struct {
	CORSOrigins []string
	Tokens      TokenValidator
	Health      HealthChecker
}

func NewRouter(cfg RouterConfig, s service.OrderService, l *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(l.With(zap.String("component", "HTTPAccess"))))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", func(c *gin.Context) {
		stats := cfg.Health.Health(c.Request.Context())
		status := http.StatusOK
		if stats["status"] != "up" {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, stats)
	})

	RegisterRoutes(router, cfg.Tokens, s, l)
	return router
}

func RegisterRoutes(r gin.IRouter, tokens TokenValidator, s service.OrderService, l *zap.Logger) {
	handler := NewPaymentHandler(s, l.With(zap.String("component", "PaymentHTTPHandler")))

	group := r.Group("/payments")
	group.Use(RequireAuth(tokens, l.With(zap.String("component", "Auth"))))
	{
		group.POST("/create-order", handler.CreateOrder)
		group.POST("/verify-payment", handler.VerifyPayment)
	}
}
