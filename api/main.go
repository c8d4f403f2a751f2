package main

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"translation-service/pkg/cancelbus"
	"translation-service/pkg/config"
	"translation-service/pkg/dispatch"
	"translation-service/pkg/job"
	"translation-service/pkg/mq"
	"translation-service/pkg/observability"
	"translation-service/pkg/statusstore"
)

func main() {
	logger := observability.NewLogger()
	slog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		return
	}

	store := statusstore.New(cfg.StoreURL, cfg.StoreKey, logger)

	mqClient, err := mq.New(cfg.AMQPURL)
	if err != nil {
		slog.Error("failed to connect to rabbitmq", "error", err)
		return
	}
	defer mqClient.Close()

	tiers := make([]job.Tier, 0, len(cfg.Tiers))
	for _, t := range cfg.Tiers {
		tiers = append(tiers, job.Tier(t.Name))
	}
	if err := mqClient.SetupTopology(tiers); err != nil {
		slog.Error("failed to setup rabbitmq topology", "error", err)
		return
	}

	rdb, err := cancelbus.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		slog.Error("failed to connect to redis", "error", err)
		return
	}
	defer rdb.Close()

	dispatcher := dispatch.New(store, mqClient, cancelbus.New(rdb, logger), "", logger)

	observability.StartMetricsServer(cfg.MetricsAddr)

	s := &server{dispatcher: dispatcher, store: store, mq: mqClient, logger: logger}

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.health)

	authed := router.Group("/", internalAuth(cfg.InternalToken, logger))
	authed.POST("/translate", s.submit)
	authed.GET("/translate/status/:job_id", s.status)
	authed.POST("/translate/cancel/:job_id", s.cancel)

	slog.Info("API server starting", "addr", cfg.APIAddr)
	if err := router.Run(cfg.APIAddr); err != nil {
		slog.Error("api server failed", "error", err)
	}
}

// internalAuth checks the shared service token. When no token is configured
// the check is skipped; that is for development only.
func internalAuth(token string, logger *slog.Logger) gin.HandlerFunc {
	if token == "" {
		logger.Warn("INTERNAL_API_KEY not configured, authentication disabled")
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		if c.GetHeader("X-Internal-Token") != token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid internal token"})
			return
		}
		c.Next()
	}
}

type server struct {
	dispatcher *dispatch.Dispatcher
	store      *statusstore.Client
	mq         *mq.Client
	logger     *slog.Logger
}

func (s *server) submit(c *gin.Context) {
	var sub job.Submission
	if err := c.ShouldBindJSON(&sub); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}

	receipt, err := s.dispatcher.Submit(c.Request.Context(), sub)
	if err != nil {
		s.logger.Error("submission failed", "job_id", sub.JobID, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	if !receipt.Existing {
		observability.JobsSubmitted.WithLabelValues(string(sub.Tier), string(sub.Mode)).Inc()
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"job_id":  receipt.JobID,
		"status":  receipt.Status,
		"message": receipt.Message,
	})
}

func (s *server) status(c *gin.Context) {
	jobID := c.Param("job_id")
	rec, err := s.store.Get(c.Request.Context(), jobID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "record store unavailable"})
		return
	}
	if rec == nil {
		c.JSON(http.StatusOK, gin.H{"job_id": jobID, "status": "not_found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id":             rec.JobID,
		"status":             rec.Status,
		"translation_mode":   rec.Mode,
		"progress_percent":   rec.ProgressPercent,
		"progress_current":   rec.ProgressCurrent,
		"progress_total":     rec.ProgressTotal,
		"translated_pdf_url": rec.ArtifactURL,
		"error_message":      rec.ErrorMessage,
		"retry_count":        rec.RetryCount,
		"started_at":         rec.StartedAt,
		"completed_at":       rec.CompletedAt,
	})
}

func (s *server) cancel(c *gin.Context) {
	jobID := c.Param("job_id")
	err := s.dispatcher.Cancel(c.Request.Context(), jobID)
	switch {
	case errors.Is(err, dispatch.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "translation record not found"})
	case errors.Is(err, dispatch.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"success": false, "message": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "cancellation failed"})
	default:
		observability.CancelsRequested.Inc()
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "translation job cancelled"})
	}
}

func (s *server) health(c *gin.Context) {
	brokerOK := s.mq.Ping()
	status := "ok"
	if !brokerOK {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  status,
		"service": "translation-service",
		"broker":  gin.H{"healthy": brokerOK},
	})
}
