package intel

import (
	"context"
	"encoding/json"
	"strings"

	"astock-insight/internal/analyzer/dto"
	"astock-insight/internal/analyzer/repository"
	"astock-insight/internal/entity"
	"astock-insight/pkg/logger"

	"gorm.io/datatypes"
)

// Context builders contributed by the three structured intel sources. Each
// returns a rendered block or an empty string; failures never propagate.
type (
	FinanceContextBuilder interface {
		BuildFinanceContext(ctx context.Context, code, name string) string
	}
	SentimentContextBuilder interface {
		BuildSentimentContext(ctx context.Context, code, name string) string
	}
	NewsContextBuilder interface {
		BuildNewsContext(ctx context.Context, code, name, scene string) string
	}
)

// IntelAggregator composes the finance, sentiment and news blocks into one
// intel context per stock, with a bounded web-search fallback when all three
// came back empty.
type IntelAggregator struct {
	logger      *logger.Logger
	finance     FinanceContextBuilder
	sentiment   SentimentContextBuilder
	news        NewsContextBuilder
	search      repository.SearchRepository
	newsIntel   repository.NewsIntelRepository
	maxSearches int
}

func NewIntelAggregator(
	log *logger.Logger,
	finance FinanceContextBuilder,
	sentiment SentimentContextBuilder,
	news NewsContextBuilder,
	search repository.SearchRepository,
	newsIntel repository.NewsIntelRepository,
	maxSearches int,
) *IntelAggregator {
	if maxSearches <= 0 {
		maxSearches = 5
	}
	return &IntelAggregator{
		logger:      log,
		finance:     finance,
		sentiment:   sentiment,
		news:        news,
		search:      search,
		newsIntel:   newsIntel,
		maxSearches: maxSearches,
	}
}

// BuildIntelContext returns the combined intel text for one stock, or an
// empty string when no source produced anything. An empty return is the "no
// intelligence" marker, not an error: analysis proceeds without enrichment.
func (a *IntelAggregator) BuildIntelContext(ctx context.Context, code, name, queryID, querySource string) string {
	var blocks []string

	if a.finance != nil {
		if text := a.finance.BuildFinanceContext(ctx, code, name); text != "" {
			blocks = append(blocks, text)
		}
	}
	if a.sentiment != nil {
		if text := a.sentiment.BuildSentimentContext(ctx, code, name); text != "" {
			blocks = append(blocks, text)
		}
	}
	if a.news != nil {
		if text := a.news.BuildNewsContext(ctx, code, name, SceneStock); text != "" {
			blocks = append(blocks, text)
		}
	}

	if len(blocks) == 0 {
		if text := a.searchFallback(ctx, code, name, queryID, querySource); text != "" {
			blocks = append(blocks, text)
		}
	}

	if len(blocks) == 0 {
		a.logger.Info("No intel available", logger.StringField("code", code))
		return ""
	}
	return strings.Join(blocks, "\n\n---\n\n")
}

// searchFallback runs the bounded comprehensive search and persists each
// successful dimension for audit. Persistence failures only log.
func (a *IntelAggregator) searchFallback(ctx context.Context, code, name, queryID, querySource string) string {
	if a.search == nil || !a.search.IsAvailable() {
		return ""
	}

	a.logger.Info("Structured intel empty, falling back to web search", logger.StringField("code", code))

	results, err := a.search.SearchComprehensiveIntel(ctx, code, name, a.maxSearches)
	if err != nil {
		srcErr := &dto.IntelSourceError{Source: "web_search", Err: err}
		a.logger.Warn("Intel source failed", logger.StringField("code", code), logger.ErrorField(srcErr))
		return ""
	}
	if len(results) == 0 {
		return ""
	}

	a.persistSearchAudit(ctx, code, name, queryID, querySource, results)
	return a.search.FormatIntelReport(results, name)
}

func (a *IntelAggregator) persistSearchAudit(ctx context.Context, code, name, queryID, querySource string, results map[string]*dto.SearchResponse) {
	if a.newsIntel == nil {
		return
	}

	for dimension, response := range results {
		if response == nil || !response.Success || len(response.Results) == 0 {
			continue
		}

		payload, err := json.Marshal(response)
		if err != nil {
			a.logger.Warn("Search audit marshal failed", logger.StringField("dimension", dimension), logger.ErrorField(err))
			continue
		}

		record := &entity.NewsIntel{
			Code:        code,
			Name:        name,
			Dimension:   dimension,
			Query:       response.Query,
			Response:    datatypes.JSON(payload),
			QueryID:     queryID,
			QuerySource: querySource,
		}
		if err := a.newsIntel.Save(ctx, record); err != nil {
			a.logger.Warn("Search audit save failed",
				logger.StringField("code", code),
				logger.StringField("dimension", dimension),
				logger.ErrorField(err),
			)
		}
	}
}
