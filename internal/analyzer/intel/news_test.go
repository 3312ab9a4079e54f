package intel

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"astock-insight/internal/analyzer/config"
	"astock-insight/internal/analyzer/dto"
	"astock-insight/internal/analyzer/routehealth"
	"astock-insight/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNewsService(cfg config.News) *NewsService {
	if cfg.MaxItems == 0 {
		cfg.MaxItems = 8
	}
	cfg.Enabled = true
	svc := NewNewsService(cfg, logger.NewNop(), routehealth.NewTracker(3, 15*time.Minute), nil)
	svc.sleep = func(time.Duration) {}
	svc.randFloat = func() float64 { return 0 }
	return svc
}

func TestDedupeItems_CaseAndWhitespaceInsensitive(t *testing.T) {
	now := time.Now()
	items := []dto.NewsItem{
		{Title: "A 公司 利好", Link: "https://cls.cn/x", Published: now},
		{Title: "a 公司 利好", Link: "HTTPS://CLS.CN/X", Published: now.Add(-time.Hour)},
	}

	deduped := dedupeItems(items)
	require.Len(t, deduped, 1)
	// First occurrence wins.
	assert.Equal(t, "A 公司 利好", deduped[0].Title)
	assert.Equal(t, now, deduped[0].Published)
}

func TestDedupeItems_PreservesOrder(t *testing.T) {
	items := []dto.NewsItem{
		{Title: "one", Link: "https://a/1"},
		{Title: "two", Link: "https://a/2"},
		{Title: "one", Link: "https://a/1"},
		{Title: "three", Link: "https://a/3"},
	}

	deduped := dedupeItems(items)
	require.Len(t, deduped, 3)
	assert.Equal(t, "one", deduped[0].Title)
	assert.Equal(t, "two", deduped[1].Title)
	assert.Equal(t, "three", deduped[2].Title)
}

func TestBuildStockKeywords(t *testing.T) {
	keywords := buildStockKeywords("600519", "贵州茅台")
	assert.Equal(t, []string{"贵州茅台", "600519", "sh600519"}, keywords)

	keywords = buildStockKeywords("002182", "云海金属")
	assert.Contains(t, keywords, "sz002182")
}

func TestScoreItem_TitleHitBeatsSummaryHit(t *testing.T) {
	svc := newTestNewsService(config.News{})
	now := time.Now()
	svc.now = func() time.Time { return now }

	keywords := buildStockKeywords("600519", "贵州茅台")

	summaryOnly := dto.NewsItem{
		Title:     "白酒板块走强",
		Summary:   "贵州茅台领涨",
		Link:      "https://cls.cn/a",
		Published: now.Add(-time.Hour),
	}
	inTitle := dto.NewsItem{
		Title:     "贵州茅台公布分红方案",
		Summary:   "无",
		Link:      "https://cls.cn/b",
		Published: now.Add(-time.Hour),
	}

	scoreSummary := svc.scoreItem(summaryOnly, "600519", "贵州茅台", keywords, SceneStock)
	scoreTitle := svc.scoreItem(inTitle, "600519", "贵州茅台", keywords, SceneStock)

	// Same source tier and recency bucket, so the title bonus must decide.
	assert.Less(t, scoreSummary, scoreTitle)
	// Summary-only hit: +2.0 keyword, plus 1.2 source and 1.2 recency.
	assert.InDelta(t, 2.0+1.2+1.2, scoreSummary, 1e-9)
	// Title hit adds +1.5 on top, plus the name-in-title +2.0.
	assert.InDelta(t, 2.0+1.5+2.0+1.2+1.2, scoreTitle, 1e-9)
}

func TestScoreItem_RawCodeBonus(t *testing.T) {
	svc := newTestNewsService(config.News{})
	now := time.Now()
	svc.now = func() time.Time { return now }

	keywords := buildStockKeywords("600519", "贵州茅台")
	item := dto.NewsItem{
		Title:     "600519 成交额创新高",
		Summary:   "",
		Published: now,
	}

	score := svc.scoreItem(item, "600519", "贵州茅台", keywords, SceneStock)
	// Keyword 600519: +2.0 anywhere, +1.5 in title, +2.5 raw code bonus,
	// no link (0.0 source), fresh (+1.2).
	assert.InDelta(t, 2.0+1.5+2.5+0.0+1.2, score, 1e-9)
}

func TestSourceWeight_Tiers(t *testing.T) {
	assert.InDelta(t, 1.2, sourceWeight("https://www.cls.cn/detail/1"), 1e-9)
	assert.InDelta(t, 0.8, sourceWeight("https://xueqiu.com/S/SH600519"), 1e-9)
	assert.InDelta(t, 0.3, sourceWeight("https://example.com/post"), 1e-9)
	assert.InDelta(t, 0.0, sourceWeight(""), 1e-9)
}

func TestRecencyWeight_Buckets(t *testing.T) {
	svc := newTestNewsService(config.News{})
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	assert.InDelta(t, 1.2, svc.recencyWeight(now.Add(-3*time.Hour)), 1e-9)
	assert.InDelta(t, 0.8, svc.recencyWeight(now.Add(-48*time.Hour)), 1e-9)
	assert.InDelta(t, 0.4, svc.recencyWeight(now.Add(-100*time.Hour)), 1e-9)
	assert.InDelta(t, 0.1, svc.recencyWeight(now.Add(-200*time.Hour)), 1e-9)
	assert.InDelta(t, 0.0, svc.recencyWeight(time.Time{}), 1e-9)
}

func TestRankAndFilterItems_FallsBackWhenNothingRelevant(t *testing.T) {
	svc := newTestNewsService(config.News{})
	items := []dto.NewsItem{
		{Title: "宏观：PMI 数据公布", Link: "https://example.com/1"},
		{Title: "行业：新能源装机量上行", Link: "https://example.com/2"},
	}

	ranked := svc.rankAndFilterItems(items, "600519", "贵州茅台", SceneStock)
	// No item mentions the stock, but an unrelated context beats none.
	assert.Len(t, ranked, 2)
}

func TestRankAndFilterItems_StableForEqualScores(t *testing.T) {
	svc := newTestNewsService(config.News{})
	now := time.Now()
	svc.now = func() time.Time { return now }

	items := []dto.NewsItem{
		{Title: "贵州茅台 第一条", Link: "https://example.com/1", Published: now},
		{Title: "贵州茅台 第二条", Link: "https://example.com/2", Published: now},
		{Title: "贵州茅台 第三条", Link: "https://example.com/3", Published: now},
	}

	first := svc.rankAndFilterItems(items, "600519", "贵州茅台", SceneStock)
	second := svc.rankAndFilterItems(items, "600519", "贵州茅台", SceneStock)
	assert.Equal(t, first, second)
	assert.Equal(t, "贵州茅台 第一条", first[0].Title)
	assert.Equal(t, "贵州茅台 第三条", first[2].Title)
}

func TestToExchangeSymbol(t *testing.T) {
	assert.Equal(t, "SH600519", toExchangeSymbol("600519"))
	assert.Equal(t, "SZ002182", toExchangeSymbol("002182"))
	assert.Equal(t, "SH900902", toExchangeSymbol("900902"))
	assert.Equal(t, "SH600519", toExchangeSymbol("sh600519"))
	assert.Equal(t, "", toExchangeSymbol(""))
}

func TestFormatRoute(t *testing.T) {
	vars := buildRouteVars("600519", "贵州茅台")
	route := formatRoute("/stocks/{xq_id}/news?q={code}", vars)
	assert.Equal(t, "/stocks/SH600519/news?q=600519", route)

	// Unknown placeholders are left untouched rather than erroring.
	assert.Equal(t, "/x/{unknown}", formatRoute("/x/{unknown}", vars))
}

func TestCleanSummary(t *testing.T) {
	assert.Equal(t, "茅台 发布 公告", cleanSummary("<p>茅台</p>\n  发布\t<b>公告</b>"))
	// NUL bytes and broken encodings from feeds must not reach the database.
	assert.Equal(t, "茅台公告", cleanSummary("茅台\x00公\xff\xfe告"))
}

const rssFixture = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>t</title>
<item><title>贵州茅台发布年报</title><link>https://cls.cn/a</link><pubDate>Mon, 02 Jun 2025 08:00:00 GMT</pubDate><description><![CDATA[<p>净利润增长</p>]]></description></item>
<item><title>白酒板块震荡</title><link>https://example.com/b</link><pubDate>Mon, 02 Jun 2025 07:00:00 GMT</pubDate><description>盘面观察</description></item>
</channel></rss>`

const atomFixture = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom"><title>t</title>
<entry><title>贵州茅台股东大会</title><link href="https://example.com/c"/><updated>2025-06-02T09:00:00Z</updated><summary>会议纪要</summary></entry>
</feed>`

func TestFetchNewsItems_ParsesBothFeedShapes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rss/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssFixture)
	})
	mux.HandleFunc("/atom/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, atomFixture)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	svc := newTestNewsService(config.News{
		BaseURL:             server.URL,
		StockRouteTemplates: []string{"/rss/{code}", "/atom/{code}"},
	})
	svc.now = func() time.Time { return time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC) }

	items := svc.fetchNewsItems(context.Background(), "600519", "贵州茅台", SceneStock)
	require.Len(t, items, 2)

	// The unrelated item is filtered; both kept items mention the stock.
	titles := []string{items[0].Title, items[1].Title}
	assert.Contains(t, titles, "贵州茅台发布年报")
	assert.Contains(t, titles, "贵州茅台股东大会")
	for _, item := range items {
		if item.Title == "贵州茅台发布年报" {
			assert.Equal(t, "净利润增长", item.Summary)
			assert.True(t, item.HasPublished())
		}
	}
}

func TestFetchNewsItems_CircuitBreakerSkipsFailingRoute(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	svc := newTestNewsService(config.News{
		BaseURL:             server.URL,
		StockRouteTemplates: []string{"/broken/{code}"},
		FailThreshold:       3,
	})

	// Three failed fetches (each with 3 HTTP attempts) open the breaker.
	for i := 0; i < 3; i++ {
		svc.fetchNewsItems(context.Background(), "600519", "贵州茅台", SceneStock)
	}
	require.EqualValues(t, 9, atomic.LoadInt32(&calls))

	// Open breaker: no further I/O.
	svc.fetchNewsItems(context.Background(), "600519", "贵州茅台", SceneStock)
	assert.EqualValues(t, 9, atomic.LoadInt32(&calls))
}

func TestBuildNewsContext_EmptyStillRendersSection(t *testing.T) {
	svc := newTestNewsService(config.News{})
	out := svc.BuildNewsContext(context.Background(), "600519", "贵州茅台", SceneStock)
	assert.Contains(t, out, "### 📰 最新新闻")
	assert.Contains(t, out, "未抓取到有效新闻条目")
}

func TestBuildNewsContext_TruncatesToMaxItems(t *testing.T) {
	var feed string
	feed = `<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel><title>t</title>`
	for i := 0; i < 10; i++ {
		feed += fmt.Sprintf(`<item><title>贵州茅台 新闻 %d</title><link>https://cls.cn/%d</link></item>`, i, i)
	}
	feed += `</channel></rss>`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feed)
	}))
	defer server.Close()

	svc := newTestNewsService(config.News{
		BaseURL:             server.URL,
		StockRouteTemplates: []string{"/feed"},
		MaxItems:            4,
	})

	items := svc.fetchNewsItems(context.Background(), "600519", "贵州茅台", SceneStock)
	assert.Len(t, items, 4)
}
