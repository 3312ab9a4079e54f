package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"astock-insight/internal/analyzer/config"
	"astock-insight/internal/analyzer/dto"
	"astock-insight/pkg/logger"
	"astock-insight/pkg/utils"

	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// geminiAIRepository is an implementation of AIRepository backed by the
// Google Gemini API.
type geminiAIRepository struct {
	cfg            config.Gemini
	logger         *logger.Logger
	requestLimiter *rate.Limiter
	genAiClient    *genai.Client
}

// NewGeminiAIRepository creates a new instance of geminiAIRepository. The
// request limiter spreads calls across the minute so a batch of workers
// cannot burst past the API quota.
func NewGeminiAIRepository(cfg config.Gemini, log *logger.Logger, genAiClient *genai.Client) AIRepository {
	secondsPerRequest := time.Minute / time.Duration(cfg.MaxRequestPerMinute)
	return &geminiAIRepository{
		cfg:            cfg,
		logger:         log,
		requestLimiter: rate.NewLimiter(rate.Every(secondsPerRequest), 1),
		genAiClient:    genAiClient,
	}
}

// geminiVerdict is the JSON document the model is instructed to return.
type geminiVerdict struct {
	OperationAdvice string   `json:"operation_advice"`
	SentimentScore  int      `json:"sentiment_score"`
	TrendPrediction string   `json:"trend_prediction"`
	Summary         string   `json:"summary"`
	KeyReasons      []string `json:"key_reasons"`
}

func (r *geminiAIRepository) Analyze(ctx context.Context, enriched *dto.EnhancedContext, intelText string, reportType dto.ReportType) (*dto.AnalysisResult, error) {
	if enriched == nil {
		return nil, fmt.Errorf("analysis context is nil")
	}

	if err := r.requestLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("failed to wait for request limit: %w", err)
	}

	prompt := BuildStockAnalysisPrompt(enriched, intelText, reportType)
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	genCfg := &genai.GenerateContentConfig{
		Temperature: utils.ToPointer(float32(r.cfg.Temperature)),
	}

	resp, err := r.genAiClient.Models.GenerateContent(ctx, r.cfg.Model, contents, genCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to call Gemini API: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("invalid response from Gemini API: no content found")
	}

	verdict, err := parseVerdict(text)
	if err != nil {
		r.logger.Error("Failed to parse Gemini verdict",
			logger.StringField("code", enriched.Code),
			logger.ErrorField(err),
		)
		return nil, err
	}

	result := &dto.AnalysisResult{
		Code:            enriched.Code,
		Name:            enriched.StockName,
		OperationAdvice: verdict.OperationAdvice,
		SentimentScore:  verdict.SentimentScore,
		TrendPrediction: verdict.TrendPrediction,
		Summary:         verdict.Summary,
		KeyReasons:      verdict.KeyReasons,
		AnalyzedAt:      utils.TimeNowCST(),
	}
	if enriched.Realtime != nil {
		result.CurrentPrice = enriched.Realtime.Price
		result.ChangePct = enriched.Realtime.ChangePct
	} else if enriched.Today != nil {
		result.CurrentPrice = enriched.Today.Close
		result.ChangePct = enriched.Today.ChangePct
	}
	return result, nil
}

// parseVerdict strips an optional markdown code fence and decodes the verdict
// JSON.
func parseVerdict(text string) (*geminiVerdict, error) {
	jsonString := strings.TrimSpace(text)
	jsonString = strings.TrimPrefix(jsonString, "```json")
	jsonString = strings.TrimPrefix(jsonString, "```")
	jsonString = strings.TrimSuffix(jsonString, "```")
	jsonString = strings.TrimSpace(jsonString)

	var verdict geminiVerdict
	if err := json.Unmarshal([]byte(jsonString), &verdict); err != nil {
		return nil, fmt.Errorf("failed to unmarshal verdict from Gemini response: %w", err)
	}
	return &verdict, nil
}
