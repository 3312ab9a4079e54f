package consumer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"astock-insight/internal/analyzer/config"
	"astock-insight/internal/analyzer/dto"
	"astock-insight/internal/analyzer/service"
	"astock-insight/pkg/common"
	"astock-insight/pkg/logger"
	"astock-insight/pkg/utils"
)

// RedisConsumer reads on-demand analysis requests from a Redis stream and
// hands them to the pipeline.
type RedisConsumer struct {
	cfg         *config.Config
	redisClient *redis.Client
	pipeline    *service.Pipeline
	logger      *logger.Logger
	stopChan    chan struct{}
	wg          sync.WaitGroup
}

// NewRedisConsumer creates a new RedisConsumer.
func NewRedisConsumer(cfg *config.Config, redisClient *redis.Client, pipeline *service.Pipeline, log *logger.Logger) *RedisConsumer {
	return &RedisConsumer{
		cfg:         cfg,
		redisClient: redisClient,
		pipeline:    pipeline,
		logger:      log,
		stopChan:    make(chan struct{}),
	}
}

// Start begins the consumer's request processing loop.
func (c *RedisConsumer) Start(ctx context.Context) {
	c.logger.Info("Redis consumer started")
	c.registerStreamHandler(ctx, c.processAnalysisRequest, common.RedisStreamStockAnalysis, c.cfg.Analyzer.StreamTimeout)
}

func (c *RedisConsumer) registerStreamHandler(ctx context.Context, fn func(ctx context.Context), streamName string, timeout time.Duration) {
	c.logger.Info("Registering stream handler", logger.Field("stream", streamName))
	c.wg.Add(1)
	utils.GoSafe(func() {
		defer c.wg.Done()
		for {
			select {
			case <-ctx.Done():
				c.logger.Info("Redis consumer stopping due to context cancellation")
				return
			case <-c.stopChan:
				c.logger.Info("Redis consumer stopping")
				return
			default:
				ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
				fn(ctxTimeout)
				cancel()
			}
		}
	})
}

func (c *RedisConsumer) processAnalysisRequest(ctx context.Context) {
	streams, err := c.redisClient.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    common.RedisStreamGroup,
		Consumer: common.RedisStreamConsumer,
		Streams:  []string{common.RedisStreamStockAnalysis, ">"},
		Count:    1,
		Block:    2 * time.Second, // short block so shutdown stays responsive
		NoAck:    true,
	}).Result()
	if err != nil {
		// Context cancellation and empty reads are expected during shutdown
		// and idle periods.
		if err == context.Canceled || err == context.DeadlineExceeded || err == redis.Nil {
			return
		}
		c.logger.Error("Failed to read from stream", logger.ErrorField(err))
		return
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return
	}

	message := streams[0].Messages[0]
	payload, ok := message.Values["payload"].(string)
	if !ok {
		c.logger.Error("field 'payload' not found or not a string in stream message", logger.Field("message_id", message.ID))
		return
	}

	var req dto.RunRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		c.logger.Error("Failed to unmarshal analysis request", logger.ErrorField(err), logger.Field("message_id", message.ID))
		// Acknowledge so a malformed message is never redelivered.
		if err := c.redisClient.XAck(ctx, common.RedisStreamStockAnalysis, common.RedisStreamGroup, message.ID).Err(); err != nil {
			c.logger.Error("Failed to acknowledge malformed message", logger.ErrorField(err), logger.Field("message_id", message.ID))
		}
		return
	}
	if req.QueryID == "" {
		req.QueryID = uuid.New().String()
	}
	if req.QuerySource == "" {
		req.QuerySource = "stream"
	}

	c.logger.Info("Processing analysis request",
		logger.StringField("message_id", message.ID),
		logger.StringField("query_id", req.QueryID),
		logger.IntField("codes", len(req.Codes)),
	)

	outcome, err := c.pipeline.Run(ctx, req)
	if err != nil {
		c.logger.Error("Analysis request failed",
			logger.StringField("query_id", req.QueryID),
			logger.ErrorField(err),
		)
		return
	}
	c.logger.Info("Analysis request finished",
		logger.StringField("query_id", req.QueryID),
		logger.IntField("success", outcome.SuccessCount),
		logger.IntField("failure", outcome.FailureCount),
	)
}

// Stop gracefully shuts down the consumer.
func (c *RedisConsumer) Stop() {
	close(c.stopChan)
	c.wg.Wait()
	c.logger.Info("Redis consumer stopped")
}
