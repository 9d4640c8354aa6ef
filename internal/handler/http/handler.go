package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/aniladanir/wa-inbox/docs"
	"github.com/aniladanir/wa-inbox/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/cors"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "requestId"
	signatureHeader = "X-Hub-Signature-256"
)

// Options carries the secrets and origins the transport checks requests against
type Options struct {
	// VerifyToken must match hub.verify_token during the subscription handshake
	VerifyToken string
	// AppSecret enables X-Hub-Signature-256 validation of webhook deliveries when set
	AppSecret      string
	AllowedOrigins []string
}

type Handler struct {
	messenger   service.Messenger
	verifyToken string
	appSecret   string
	logger      *slog.Logger
	server      *http.Server
}

// @title WhatsApp Inbox API
// @version 1.0
// @description Webhook receiver and conversation API for simulated WhatsApp Business payloads
// @host localhost:5000
// @BasePath /
func NewHttpHandler(addr string, svc service.Messenger, ws http.Handler, opts Options, logger *slog.Logger) *Handler {
	h := &Handler{
		messenger:   svc,
		verifyToken: opts.VerifyToken,
		appSecret:   opts.AppSecret,
		logger:      logger,
	}

	// create router
	router := gin.New()
	router.Use(gin.Recovery(), h.requestLogger())

	// register routes
	router.GET("/", h.health)
	router.GET("/health", h.health)
	router.GET("/webhook", h.verifyWebhook)
	router.POST("/webhook", h.receiveWebhook)

	api := router.Group("/api")
	api.GET("/conversations", h.listConversations)
	api.GET("/conversations/:wa_id/messages", h.listMessages)
	api.POST("/messages", h.sendMessage)
	api.PUT("/messages/:msg_id/status", h.updateStatus)
	api.POST("/demo/status-progression", h.simulateStatusProgression)

	if ws != nil {
		router.GET("/ws", gin.WrapH(ws))
	}
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	c := cors.New(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", requestIDHeader, signatureHeader},
		ExposedHeaders:   []string{requestIDHeader},
		AllowCredentials: true,
	})

	// create http server
	h.server = &http.Server{
		Addr:              addr,
		Handler:           c.Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return h
}

func (h *Handler) Run() error {
	return h.server.ListenAndServe()
}

func (h *Handler) Shutdown(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

// requestLogger tags every request with an id and logs it once the response is written
func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Set(requestIDKey, reqID)
		c.Header(requestIDHeader, reqID)

		start := time.Now()
		c.Next()

		h.logger.Info("request handled",
			"requestId", reqID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
		)
	}
}

func (h *Handler) requestLog(c *gin.Context) *slog.Logger {
	return h.logger.With(slog.String("requestId", c.GetString(requestIDKey)))
}

// Health godoc
// @Summary Liveness probe
// @Tags Health
// @Produce json
// @Success 200 {object} map[string]bool
// @Router / [get]
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
