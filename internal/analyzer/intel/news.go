package intel

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"astock-insight/internal/analyzer/config"
	"astock-insight/internal/analyzer/dto"
	"astock-insight/internal/analyzer/routehealth"
	"astock-insight/pkg/logger"
	"astock-insight/pkg/utils"

	"github.com/mmcdole/gofeed"
)

// Scene selects which route template set a news fetch uses.
const (
	SceneStock  = "stock"
	SceneMarket = "market"
)

// NewsService pulls feed items from the configured route templates, then
// dedupes, relevance-filters, scores and truncates them into a news context
// block. Every route is guarded by the shared route-health tracker.
type NewsService struct {
	cfg    config.News
	logger *logger.Logger
	client *http.Client
	parser *gofeed.Parser
	health *routehealth.Tracker
	reader *ArticleReader

	now       func() time.Time
	sleep     func(time.Duration)
	randFloat func() float64
}

// NewNewsService creates a news service. The tracker is owned by the caller so
// that route state survives across runs of the same service instance.
func NewNewsService(cfg config.News, log *logger.Logger, health *routehealth.Tracker, reader *ArticleReader) *NewsService {
	return &NewsService{
		cfg:       cfg,
		logger:    log,
		client:    &http.Client{Timeout: 12 * time.Second},
		parser:    gofeed.NewParser(),
		health:    health,
		reader:    reader,
		now:       time.Now,
		sleep:     time.Sleep,
		randFloat: rand.Float64,
	}
}

// BuildNewsContext fetches and ranks news for one stock (or the whole market)
// and renders the stable news section. The section header is always present so
// downstream consumers see the block even when no items were found.
func (s *NewsService) BuildNewsContext(ctx context.Context, code, name, scene string) string {
	if !s.cfg.Enabled {
		return ""
	}

	items := s.fetchNewsItems(ctx, code, name, scene)
	if len(items) == 0 {
		return "### 📰 最新新闻 / 行业分析\n- 未抓取到有效新闻条目"
	}

	lines := []string{"### 📰 最新新闻 / 行业分析"}
	for idx, item := range items {
		lines = append(lines, fmt.Sprintf("%d. %s", idx+1, item.Title))
		if item.HasPublished() {
			lines = append(lines, fmt.Sprintf("   - 时间: %s", item.Published.Format(time.RFC3339)))
		}
		if item.Link != "" {
			lines = append(lines, fmt.Sprintf("   - 链接: %s", item.Link))
		}
		if item.Summary != "" {
			lines = append(lines, fmt.Sprintf("   - 摘要: %s", item.Summary))
		}
	}
	return strings.Join(lines, "\n")
}

func (s *NewsService) fetchNewsItems(ctx context.Context, code, name, scene string) []dto.NewsItem {
	routes := s.resolveRouteTemplates(scene)
	if len(routes) == 0 {
		return nil
	}

	vars := buildRouteVars(code, name)
	var all []dto.NewsItem
	hitCount, skipCount := 0, 0

	for _, routeTpl := range routes {
		if s.health.ShouldSkip(routeTpl) {
			skipCount++
			s.logger.Info("Route cooling down, skipped", logger.StringField("route", routeTpl))
			continue
		}

		items, err := s.fetchRoute(ctx, routeTpl, vars)
		if err != nil || len(items) == 0 {
			s.health.RecordFailure(routeTpl)
			if err != nil {
				s.logger.Info("Route fetch failed", logger.StringField("route", routeTpl), logger.ErrorField(err))
			}
			continue
		}

		s.health.RecordSuccess(routeTpl)
		hitCount++
		all = append(all, items...)
	}

	s.logger.Info("News routes fetched",
		logger.StringField("code", code),
		logger.StringField("scene", scene),
		logger.IntField("routes", len(routes)),
		logger.IntField("hits", hitCount),
		logger.IntField("skipped", skipCount),
		logger.IntField("raw_items", len(all)),
	)

	if len(all) == 0 {
		return nil
	}

	ranked := s.rankAndFilterItems(all, code, name, scene)
	if len(ranked) > s.cfg.MaxItems {
		ranked = ranked[:s.cfg.MaxItems]
	}
	s.backfillSummaries(ctx, ranked)
	return ranked
}

func (s *NewsService) resolveRouteTemplates(scene string) []string {
	var routes []string
	if strings.EqualFold(scene, SceneMarket) {
		routes = s.cfg.MarketRouteTemplates
	} else {
		routes = s.cfg.StockRouteTemplates
	}
	if len(routes) == 0 {
		routes = s.cfg.RouteTemplates
	}

	out := routes[:0:0]
	for _, r := range routes {
		if r != "" {
			out = append(out, r)
		}
	}
	return out
}

func buildRouteVars(code, name string) map[string]string {
	code = strings.TrimSpace(code)
	return map[string]string{
		"code":  code,
		"name":  url.QueryEscape(strings.TrimSpace(name)),
		"xq_id": toExchangeSymbol(code),
	}
}

// toExchangeSymbol converts a bare 6-digit code to the SH600519/SZ002182 form
// some feed routes expect.
func toExchangeSymbol(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return ""
	}
	if strings.HasPrefix(code, "SH") || strings.HasPrefix(code, "SZ") || strings.HasPrefix(code, "BJ") {
		return code
	}
	if len(code) != 6 || !isDigits(code) {
		return code
	}
	if code[0] == '6' || code[0] == '9' {
		return "SH" + code
	}
	return "SZ" + code
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func formatRoute(routeTpl string, vars map[string]string) string {
	route := routeTpl
	for key, value := range vars {
		route = strings.ReplaceAll(route, "{"+key+"}", value)
	}
	return route
}

func (s *NewsService) fetchRoute(ctx context.Context, routeTpl string, vars map[string]string) ([]dto.NewsItem, error) {
	route := formatRoute(routeTpl, vars)
	if !strings.HasPrefix(route, "/") {
		route = "/" + route
	}
	feedURL := strings.TrimRight(s.cfg.BaseURL, "/") + route

	body, err := s.requestWithRetry(ctx, feedURL)
	if err != nil {
		return nil, err
	}

	feed, err := s.parser.ParseString(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}
	return normalizeFeedItems(feed.Items), nil
}

// requestWithRetry performs up to three attempts with a lightly jittered
// backoff so a batch of workers does not hammer a flaky route in lockstep.
func (s *NewsService) requestWithRetry(ctx context.Context, feedURL string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			backoff := 400*time.Millisecond +
				time.Duration(s.randFloat()*800)*time.Millisecond +
				time.Duration(attempt)*200*time.Millisecond
			s.sleep(backoff)
		}

		body, err := s.fetchURL(ctx, feedURL)
		if err == nil {
			return body, nil
		}
		lastErr = err
	}
	return "", lastErr
}

func (s *NewsService) fetchURL(ctx context.Context, feedURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("feed returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read feed body: %w", err)
	}
	return string(body), nil
}

// normalizeFeedItems reduces gofeed's view of both syndication shapes
// (RSS channel/item and Atom entry/updated) to the internal item type.
func normalizeFeedItems(items []*gofeed.Item) []dto.NewsItem {
	out := make([]dto.NewsItem, 0, len(items))
	for _, item := range items {
		if item == nil || strings.TrimSpace(item.Title) == "" {
			continue
		}

		var published time.Time
		if item.PublishedParsed != nil {
			published = *item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			published = *item.UpdatedParsed
		}

		summary := item.Description
		if summary == "" {
			summary = item.Content
		}

		out = append(out, dto.NewsItem{
			Title:     strings.TrimSpace(item.Title),
			Link:      strings.TrimSpace(item.Link),
			Published: published,
			Summary:   cleanSummary(summary),
		})
	}
	return out
}

var htmlTagRE = regexp.MustCompile(`<[^>]+>`)

// cleanSummary strips markup and collapses whitespace. Feed bodies are
// arbitrary bytes; invalid UTF-8 and NUL would be rejected by the database.
func cleanSummary(text string) string {
	text = utils.CleanToValidUTF8(text)
	text = htmlTagRE.ReplaceAllString(text, "")
	return strings.TrimSpace(whitespaceRE.ReplaceAllString(text, " "))
}

// removeAllWhitespace drops every whitespace rune, used for dedup keys.
func removeAllWhitespace(s string) string {
	return whitespaceRE.ReplaceAllString(s, "")
}

func (s *NewsService) rankAndFilterItems(items []dto.NewsItem, code, name, scene string) []dto.NewsItem {
	deduped := dedupeItems(items)
	if len(deduped) == 0 {
		return nil
	}

	target := deduped
	var keywords []string
	if !strings.EqualFold(scene, SceneMarket) {
		keywords = buildStockKeywords(code, name)
		related := make([]dto.NewsItem, 0, len(deduped))
		for _, item := range deduped {
			if isStockRelated(item, keywords) {
				related = append(related, item)
			}
		}
		// A lower-relevance context still beats an empty one.
		if len(related) > 0 {
			target = related
		}

		s.logger.Info("News relevance filter",
			logger.StringField("code", code),
			logger.IntField("deduped", len(deduped)),
			logger.IntField("related", len(related)),
			logger.IntField("ranked", len(target)),
		)
	}

	type scoredItem struct {
		score float64
		item  dto.NewsItem
	}
	scored := make([]scoredItem, 0, len(target))
	for _, item := range target {
		scored = append(scored, scoredItem{
			score: s.scoreItem(item, code, name, keywords, scene),
			item:  item,
		})
	}

	// Stable sort keeps the original order for equal scores.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	out := make([]dto.NewsItem, len(scored))
	for i, sc := range scored {
		out[i] = sc.item
	}
	return out
}

// dedupeItems collapses items sharing a (normalized title, normalized link)
// identity key; the first occurrence wins and order is otherwise preserved.
func dedupeItems(items []dto.NewsItem) []dto.NewsItem {
	seen := make(map[string]struct{}, len(items))
	out := make([]dto.NewsItem, 0, len(items))
	for _, item := range items {
		titleKey := removeAllWhitespace(strings.ToLower(item.Title))
		linkKey := strings.ToLower(strings.TrimSpace(item.Link))
		key := titleKey + "|" + linkKey
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out
}

func buildStockKeywords(code, name string) []string {
	code = strings.TrimSpace(code)
	name = strings.TrimSpace(name)

	var keywords []string
	for _, k := range []string{name, code} {
		if k != "" {
			keywords = append(keywords, strings.ToLower(k))
		}
	}
	if len(code) == 6 && isDigits(code) {
		if code[0] == '6' || code[0] == '9' {
			keywords = append(keywords, "sh"+code)
		} else {
			keywords = append(keywords, "sz"+code)
		}
	}

	// Drop duplicates while keeping order.
	seen := make(map[string]struct{}, len(keywords))
	out := keywords[:0]
	for _, k := range keywords {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func isStockRelated(item dto.NewsItem, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	text := strings.ToLower(item.Title + " " + item.Summary)
	for _, k := range keywords {
		if k != "" && strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func (s *NewsService) scoreItem(item dto.NewsItem, code, name string, keywords []string, scene string) float64 {
	text := strings.ToLower(item.Title + " " + item.Summary)
	titleText := strings.ToLower(item.Title)
	score := 0.0

	if !strings.EqualFold(scene, SceneMarket) {
		for _, kw := range keywords {
			if kw == "" {
				continue
			}
			if strings.Contains(text, kw) {
				score += 2.0
			}
			if strings.Contains(titleText, kw) {
				score += 1.5
			}
		}

		if c := strings.ToLower(strings.TrimSpace(code)); c != "" && strings.Contains(text, c) {
			score += 2.5
		}
		if n := strings.ToLower(strings.TrimSpace(name)); n != "" && strings.Contains(titleText, n) {
			score += 2.0
		}
	}

	score += sourceWeight(item.Link)
	score += s.recencyWeight(item.Published)
	return score
}

var (
	tierOneSources = []string{"cls.cn", "wallstreetcn.com", "sina.com.cn"}
	tierTwoSources = []string{"xueqiu.com", "eastmoney.com", "cnstock.com"}
)

// sourceWeight gives faster, more authoritative outlets a slight edge.
func sourceWeight(link string) float64 {
	if link == "" {
		return 0.0
	}
	parsed, err := url.Parse(link)
	if err != nil {
		return 0.0
	}
	host := strings.ToLower(parsed.Hostname())
	for _, domain := range tierOneSources {
		if strings.Contains(host, domain) {
			return 1.2
		}
	}
	for _, domain := range tierTwoSources {
		if strings.Contains(host, domain) {
			return 0.8
		}
	}
	return 0.3
}

func (s *NewsService) recencyWeight(published time.Time) float64 {
	if published.IsZero() {
		return 0.0
	}
	age := s.now().Sub(published)
	if age < 0 {
		age = 0
	}
	switch {
	case age <= 24*time.Hour:
		return 1.2
	case age <= 72*time.Hour:
		return 0.8
	case age <= 168*time.Hour:
		return 0.4
	default:
		return 0.1
	}
}

// backfillSummaries replaces too-short summaries with full-text extractions.
// Best effort: a failed extraction leaves the short summary in place.
func (s *NewsService) backfillSummaries(ctx context.Context, items []dto.NewsItem) {
	if !s.cfg.ReaderEnabled || s.reader == nil {
		return
	}
	for i := range items {
		if utf8.RuneCountInString(items[i].Summary) >= s.cfg.ReaderMinSnippetLen {
			continue
		}
		if items[i].Link == "" {
			continue
		}
		if text := s.reader.Extract(ctx, items[i].Link); text != "" {
			items[i].Summary = text
		}
	}
}
