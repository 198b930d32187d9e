package handlers

import (
	"github.com/Brownie44l1/teachable-api/internal/middleware"
	"github.com/Brownie44l1/teachable-api/internal/upload"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type RouterOptions struct {
	UploadField   string
	MaxUploadSize int64
	Registry      *prometheus.Registry
	Logger        *zap.Logger
}

// NewRouter wires the middleware chain and the routes.
func NewRouter(h *Handler, opts RouterOptions) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(opts.Logger))
	r.Use(middleware.CORS())
	r.Use(middleware.Metrics(opts.Registry))

	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.POST("/predict", upload.Receive(opts.UploadField, opts.MaxUploadSize), h.Predict)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})))

	return r
}
