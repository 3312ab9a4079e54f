package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"astock-insight/internal/analyzer/config"
	"astock-insight/pkg/logger"
)

// hostResolver is the DNS pre-flight contract; *net.Resolver satisfies it.
type hostResolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

type sentimentResult struct {
	sampleCount   int
	highlights    []string
	kolHighlights []string
	errMessage    string
}

// SentimentService pulls community discussion for a stock from a Xueqiu-style
// search endpoint and renders it as a context block. It deliberately does no
// lexicon scoring: the model judges tone from the raw samples.
type SentimentService struct {
	cfg      config.Sentiment
	logger   *logger.Logger
	client   *http.Client
	resolver hostResolver
	kolUsers []string
}

func NewSentimentService(cfg config.Sentiment, log *logger.Logger) *SentimentService {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://xueqiu.com"
	}
	kols := make([]string, 0, len(cfg.KolUsers))
	for _, u := range cfg.KolUsers {
		if u = strings.ToLower(strings.TrimSpace(u)); u != "" {
			kols = append(kols, u)
		}
	}
	return &SentimentService{
		cfg:      cfg,
		logger:   log,
		client:   &http.Client{Timeout: 10 * time.Second},
		resolver: net.DefaultResolver,
		kolUsers: kols,
	}
}

// BuildSentimentContext renders the community-sentiment block. Fetch failures
// produce an explicit failure block rather than an empty string so the final
// context records that sentiment was attempted.
func (s *SentimentService) BuildSentimentContext(ctx context.Context, code, name string) string {
	if !s.cfg.Enabled {
		return ""
	}

	result := s.fetchSentiment(ctx, code, name)
	if result.errMessage != "" {
		return "### 💬 社区舆情（雪球）\n" +
			fmt.Sprintf("- 抓取失败: %s\n", result.errMessage) +
			"- 说明: 可配置 Cookie 后重试。"
	}

	lines := []string{
		"### 💬 社区舆情（雪球）",
		"- 说明: 本阶段不做词典情绪打分，由 LLM 结合全文上下文判断偏多/中性/偏空",
		fmt.Sprintf("- 样本量: %d", result.sampleCount),
	}

	if len(result.highlights) > 0 {
		lines = append(lines, "- 代表观点:")
		for idx, text := range capStrings(result.highlights, 5) {
			lines = append(lines, fmt.Sprintf("  %d. %s", idx+1, text))
		}
	} else {
		lines = append(lines, "- 未抓取到有效讨论文本")
	}

	if len(s.kolUsers) > 0 {
		lines = append(lines, fmt.Sprintf("- 大V关注名单: %s", strings.Join(s.kolUsers, ", ")))
		if len(result.kolHighlights) > 0 {
			lines = append(lines, "- 大V观点命中:")
			for idx, item := range capStrings(result.kolHighlights, 5) {
				lines = append(lines, fmt.Sprintf("  %d. %s", idx+1, item))
			}
		} else {
			lines = append(lines, "- 大V观点命中: 暂无")
		}
	}

	return strings.Join(lines, "\n")
}

func (s *SentimentService) fetchSentiment(ctx context.Context, code, name string) sentimentResult {
	host := s.baseHost()

	// DNS pre-flight so a broken container resolver surfaces as a clear
	// message instead of a generic transport error.
	if _, err := s.resolver.LookupHost(ctx, host); err != nil {
		msg := fmt.Sprintf("DNS解析失败（%s）: %v，请检查容器 DNS / 代理配置", host, err)
		s.logger.Warn("Sentiment DNS pre-flight failed", logger.StringField("host", host), logger.ErrorField(err))
		return sentimentResult{errMessage: msg}
	}

	// Warm-up request lets the upstream set its baseline cookies.
	s.warmUp(ctx)

	query := strings.TrimSpace(name + " " + code)
	searchURL := fmt.Sprintf("%s/query/v1/search/status.json?sortId=1&q=%s&count=%s&page=1",
		strings.TrimRight(s.cfg.BaseURL, "/"),
		url.QueryEscape(query),
		strconv.Itoa(s.cfg.MaxPosts),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return sentimentResult{errMessage: err.Error()}
	}
	s.applyHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		msg := fmt.Sprintf("网络请求失败: %v", err)
		s.logger.Warn("Sentiment fetch failed", logger.ErrorField(err))
		return sentimentResult{errMessage: msg}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return sentimentResult{errMessage: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return sentimentResult{errMessage: fmt.Sprintf("读取响应失败: %v", err)}
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return sentimentResult{errMessage: fmt.Sprintf("响应解析失败: %v", err)}
	}

	rawList, ok := payload["list"].([]any)
	if !ok || len(rawList) == 0 {
		rawList, _ = payload["statuses"].([]any)
	}

	type post struct {
		text   string
		author string
	}
	var posts []post
	for _, raw := range rawList {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if text := extractPostText(item); text != "" {
			posts = append(posts, post{text: text, author: extractPostAuthor(item)})
		}
	}
	if len(posts) == 0 {
		return sentimentResult{}
	}

	result := sentimentResult{sampleCount: len(posts)}
	for _, p := range posts {
		if len(result.highlights) < 5 {
			result.highlights = append(result.highlights, p.text)
		}
	}

	if len(s.kolUsers) > 0 {
		kolSet := make(map[string]struct{}, len(s.kolUsers))
		for _, u := range s.kolUsers {
			kolSet[u] = struct{}{}
		}
		for _, p := range posts {
			if p.author == "" {
				continue
			}
			if _, hit := kolSet[strings.ToLower(p.author)]; hit {
				result.kolHighlights = append(result.kolHighlights,
					fmt.Sprintf("@%s: %s", p.author, truncateRunes(p.text, 120)))
			}
		}
	}

	s.logger.Info("Sentiment fetched",
		logger.StringField("code", code),
		logger.IntField("samples", result.sampleCount),
		logger.IntField("kol_hits", len(result.kolHighlights)),
	)
	return result
}

func (s *SentimentService) baseHost() string {
	if parsed, err := url.Parse(s.cfg.BaseURL); err == nil && parsed.Hostname() != "" {
		return parsed.Hostname()
	}
	return "xueqiu.com"
}

func (s *SentimentService) warmUp(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL, nil)
	if err != nil {
		return
	}
	s.applyHeaders(req)
	if resp, err := s.client.Do(req); err == nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}

func (s *SentimentService) applyHeaders(req *http.Request) {
	userAgent := s.cfg.UserAgent
	if userAgent == "" {
		userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 Chrome/121.0 Safari/537.36"
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", strings.TrimRight(s.cfg.BaseURL, "/")+"/")
	req.Header.Set("Accept", "application/json, text/plain, */*")
	if s.cfg.Cookie != "" {
		req.Header.Set("Cookie", s.cfg.Cookie)
	}
}

// extractPostText picks the first populated content field and strips markup.
func extractPostText(item map[string]any) string {
	var text string
	for _, key := range []string{"text", "description", "title"} {
		if v, ok := item[key].(string); ok && v != "" {
			text = v
			break
		}
	}
	return cleanSummary(text)
}

// extractPostAuthor prefers the nested user object, then flat fallbacks.
func extractPostAuthor(item map[string]any) string {
	if user, ok := item["user"].(map[string]any); ok {
		for _, key := range []string{"screen_name", "name", "nickname"} {
			if v, ok := user[key].(string); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
	}
	for _, key := range []string{"screen_name", "user_name", "username", "author"} {
		if v, ok := item[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func capStrings(items []string, limit int) []string {
	if len(items) > limit {
		return items[:limit]
	}
	return items
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
