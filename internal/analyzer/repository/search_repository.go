package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"astock-insight/internal/analyzer/config"
	"astock-insight/internal/analyzer/dto"
	"astock-insight/pkg/logger"
)

// intelDimensions are the comprehensive-search angles, queried in this order
// until the per-run search budget runs out.
var intelDimensions = []struct {
	name  string
	query string
}{
	{"company_news", "%s %s 最新公告 消息"},
	{"financial_report", "%s 业绩 财报 净利润"},
	{"industry_trend", "%s 所属行业 动态 政策"},
	{"market_sentiment", "%s 股吧 看多 看空 讨论"},
	{"risk_events", "%s 风险 减持 诉讼 处罚"},
}

type searchRepository struct {
	cfg        config.Search
	log        *logger.Logger
	httpClient *http.Client
}

// NewSearchRepository creates the generic web-search fallback client.
func NewSearchRepository(cfg config.Search, log *logger.Logger) SearchRepository {
	return &searchRepository{
		cfg:        cfg,
		log:        log,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (r *searchRepository) IsAvailable() bool {
	return r.cfg.APIKey != "" && r.cfg.BaseURL != ""
}

// SearchComprehensiveIntel runs up to maxSearches dimension queries. A failed
// dimension is recorded with its error and never stops the remaining ones.
func (r *searchRepository) SearchComprehensiveIntel(ctx context.Context, code, name string, maxSearches int) (map[string]*dto.SearchResponse, error) {
	if !r.IsAvailable() {
		return nil, fmt.Errorf("search service not configured")
	}
	if maxSearches <= 0 || maxSearches > len(intelDimensions) {
		maxSearches = len(intelDimensions)
	}

	results := make(map[string]*dto.SearchResponse, maxSearches)
	for _, dim := range intelDimensions[:maxSearches] {
		query := buildDimensionQuery(dim.query, code, name)
		response, err := r.search(ctx, query)
		if err != nil {
			r.log.Warn("Intel search dimension failed",
				logger.StringField("dimension", dim.name),
				logger.StringField("query", query),
				logger.ErrorField(err),
			)
			results[dim.name] = &dto.SearchResponse{Query: query, Error: err.Error()}
			continue
		}
		response.Query = query
		results[dim.name] = response
	}
	return results, nil
}

func buildDimensionQuery(tpl, code, name string) string {
	n := strings.Count(tpl, "%s")
	if n >= 2 {
		return fmt.Sprintf(tpl, name, code)
	}
	return fmt.Sprintf(tpl, name)
}

func (r *searchRepository) search(ctx context.Context, query string) (*dto.SearchResponse, error) {
	payload, err := json.Marshal(map[string]any{
		"query":   query,
		"count":   8,
		"summary": true,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(r.cfg.BaseURL, "/")+"/v1/web-search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call search API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search API returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}

	var decoded struct {
		Code int `json:"code"`
		Data struct {
			WebPages struct {
				Value []struct {
					Name     string `json:"name"`
					URL      string `json:"url"`
					Snippet  string `json:"snippet"`
					SiteName string `json:"siteName"`
				} `json:"value"`
			} `json:"webPages"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}
	if decoded.Code != 200 {
		return nil, fmt.Errorf("search API returned code %d", decoded.Code)
	}

	out := &dto.SearchResponse{Success: true}
	for _, v := range decoded.Data.WebPages.Value {
		out.Results = append(out.Results, dto.SearchResult{
			Title:   v.Name,
			URL:     v.URL,
			Snippet: v.Snippet,
			Site:    v.SiteName,
		})
	}
	return out, nil
}

// FormatIntelReport renders the dimension results as one fallback intel
// block, dimensions in query order, up to three hits each.
func (r *searchRepository) FormatIntelReport(results map[string]*dto.SearchResponse, name string) string {
	dimensionTitles := map[string]string{
		"company_news":     "公司动态",
		"financial_report": "财务业绩",
		"industry_trend":   "行业动态",
		"market_sentiment": "市场情绪",
		"risk_events":      "风险事件",
	}

	lines := []string{fmt.Sprintf("### 🔎 泛搜索情报（%s）", name)}
	hit := false
	for _, dim := range intelDimensions {
		response, ok := results[dim.name]
		if !ok || response == nil || !response.Success || len(response.Results) == 0 {
			continue
		}
		hit = true

		lines = append(lines, fmt.Sprintf("\n#### %s", dimensionTitles[dim.name]))
		for i, item := range response.Results {
			if i >= 3 {
				break
			}
			lines = append(lines, fmt.Sprintf("%d. %s", i+1, item.Title))
			if item.Snippet != "" {
				lines = append(lines, fmt.Sprintf("   - %s", item.Snippet))
			}
			if item.URL != "" {
				lines = append(lines, fmt.Sprintf("   - 来源: %s", item.URL))
			}
		}
	}

	if !hit {
		return ""
	}
	return strings.Join(lines, "\n")
}
