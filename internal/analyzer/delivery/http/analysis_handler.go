package http

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"astock-insight/internal/analyzer/config"
	"astock-insight/internal/analyzer/dto"
	"astock-insight/internal/analyzer/repository"
	"astock-insight/pkg/common"
	"astock-insight/pkg/logger"
)

// AnalysisHandler exposes the trigger API: runs are enqueued onto the Redis
// stream and executed by the consumer, never inline in the request.
type AnalysisHandler struct {
	cfg         *config.Config
	redisClient *redis.Client
	history     repository.AnalysisHistoryRepository
	logger      *logger.Logger
}

// NewAnalysisHandler creates a new AnalysisHandler.
func NewAnalysisHandler(cfg *config.Config, redisClient *redis.Client, history repository.AnalysisHistoryRepository, log *logger.Logger) *AnalysisHandler {
	return &AnalysisHandler{cfg: cfg, redisClient: redisClient, history: history, logger: log}
}

// RegisterRoutes registers the analysis routes to the Echo group.
func (h *AnalysisHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/analyze", h.EnqueueAnalysis)
	g.GET("/analysis/:code/latest", h.GetLatestAnalysis)
	g.GET("/analysis/query/:query_id", h.GetAnalysisByQueryID)
}

// EnqueueAnalysis accepts a run request and queues it for the stream consumer.
func (h *AnalysisHandler) EnqueueAnalysis(c echo.Context) error {
	var req dto.RunRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid request payload"})
	}
	if req.QueryID == "" {
		req.QueryID = uuid.New().String()
	}
	if req.QuerySource == "" {
		req.QuerySource = "api"
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
	}
	if err := h.redisClient.XAdd(c.Request().Context(), &redis.XAddArgs{
		Stream: common.RedisStreamStockAnalysis,
		Values: map[string]interface{}{"payload": string(payload)},
		MaxLen: h.cfg.Redis.StreamMaxLen,
	}).Err(); err != nil {
		h.logger.Error("Failed to enqueue analysis request", logger.ErrorField(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Failed to enqueue analysis request"})
	}

	h.logger.Info("Analysis request enqueued",
		logger.StringField("query_id", req.QueryID),
		logger.IntField("codes", len(req.Codes)),
	)
	return c.JSON(http.StatusAccepted, echo.Map{
		"query_id": req.QueryID,
		"status":   "queued",
	})
}

// GetLatestAnalysis returns the most recent persisted verdict for one stock.
func (h *AnalysisHandler) GetLatestAnalysis(c echo.Context) error {
	code := c.Param("code")
	row, err := h.history.FindLatestByCode(c.Request().Context(), code)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
	}
	if row == nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "no analysis found for " + code})
	}
	return c.JSON(http.StatusOK, row)
}

// GetAnalysisByQueryID returns every verdict persisted under one batch query id.
func (h *AnalysisHandler) GetAnalysisByQueryID(c echo.Context) error {
	queryID := c.Param("query_id")
	rows, err := h.history.FindByQueryID(c.Request().Context(), queryID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, rows)
}

// RegisterHealth registers the liveness endpoint on the root echo instance.
func (h *AnalysisHandler) RegisterHealth(e *echo.Echo) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})
}
