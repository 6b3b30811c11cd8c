package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wenwu/saas-platform/storefront-service/internal/config"
)

// 内部开通接口限流: 每个调用方每分钟最多 10 次
const (
	provisionRateLimit  = 10
	provisionRateWindow = time.Minute
)

type Server struct {
	router  *gin.Engine
	handler *Handler
	cfg     *config.Config
	srv     *http.Server

	provisionLimiter *RateLimiter
}

func NewServer(cfg *config.Config, payments PaymentAPI, provisioning ProvisioningAPI, logger *slog.Logger) *Server {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger(logger.With("component", "access")))
	router.Use(MetricsMiddleware())

	s := &Server{
		router:           router,
		handler:          NewHandler(payments, provisioning, logger),
		cfg:              cfg,
		provisionLimiter: NewRateLimiter(provisionRateLimit, provisionRateWindow),
	}
	s.srv = &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "storefront-service",
		})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public API - called by the storefront frontend
	public := s.router.Group("/api")
	{
		public.POST("/create-payment", s.handler.CreatePayment)
		public.GET("/check-payment", s.handler.CheckPayment)
		public.GET("/receipt/:trxId", s.handler.GetReceipt)
		public.GET("/payment-providers", s.handler.ListPaymentProviders)
	}

	// Internal API - called by the order pipeline after payment
	internal := s.router.Group("/api/internal")
	internal.Use(InternalAuthMiddleware(s.cfg.InternalSecret))
	internal.Use(RateLimitMiddleware(s.provisionLimiter))
	{
		internal.POST("/panel/create", s.handler.CreatePanel)
	}

	// Admin API - requires JWT
	admin := s.router.Group("/api/admin")
	admin.Use(JWTAuthMiddleware(s.cfg.JWT.SecretKey))
	{
		admin.GET("/transactions", s.handler.ListTransactions)
		admin.GET("/accounts", s.handler.ListAccounts)
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until Shutdown is called.
func (s *Server) Run() error {
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
