package intel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"astock-insight/internal/analyzer/config"
	"astock-insight/pkg/logger"

	"github.com/stretchr/testify/assert"
)

type fakeResolver struct {
	err error
}

func (f *fakeResolver) LookupHost(context.Context, string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []string{"127.0.0.1"}, nil
}

func newTestSentimentService(baseURL string, kols []string) *SentimentService {
	svc := NewSentimentService(config.Sentiment{
		Enabled:  true,
		BaseURL:  baseURL,
		MaxPosts: 20,
		KolUsers: kols,
	}, logger.NewNop())
	svc.resolver = &fakeResolver{}
	return svc
}

func TestBuildSentimentContext_DNSFailureProducesDistinctError(t *testing.T) {
	svc := newTestSentimentService("https://xueqiu.example", nil)
	svc.resolver = &fakeResolver{err: errors.New("no such host")}

	out := svc.BuildSentimentContext(context.Background(), "600519", "贵州茅台")
	assert.Contains(t, out, "抓取失败")
	assert.Contains(t, out, "DNS解析失败（xueqiu.example）")
	assert.Contains(t, out, "可配置 Cookie 后重试")
}

func TestBuildSentimentContext_RendersSamplesAndKolHits(t *testing.T) {
	payload := `{"list": [
		{"text": "<p>茅台批价回升，渠道反馈积极</p>", "user": {"screen_name": "白酒一哥"}},
		{"description": "估值处于三年低位", "screen_name": "价值守望"},
		{"title": "三季报前瞻", "author": "匿名"},
		{"text": "", "user": {"name": "空贴"}}
	]}`

	mux := http.NewServeMux()
	mux.HandleFunc("/query/v1/search/status.json", func(w http.ResponseWriter, r *http.Request) {
		// Query combines name and code.
		assert.Equal(t, "贵州茅台 600519", r.URL.Query().Get("q"))
		assert.Equal(t, "20", r.URL.Query().Get("count"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, payload)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {})
	server := httptest.NewServer(mux)
	defer server.Close()

	svc := newTestSentimentService(server.URL, []string{"白酒一哥", "不在场的大V"})

	out := svc.BuildSentimentContext(context.Background(), "600519", "贵州茅台")
	assert.Contains(t, out, "- 样本量: 3")
	assert.Contains(t, out, "1. 茅台批价回升，渠道反馈积极")
	assert.Contains(t, out, "2. 估值处于三年低位")
	assert.Contains(t, out, "- 大V关注名单: 白酒一哥, 不在场的大v")
	assert.Contains(t, out, "@白酒一哥: 茅台批价回升，渠道反馈积极")
}

func TestBuildSentimentContext_WarmUpFailureIsIgnored(t *testing.T) {
	var warmUpSeen bool
	mux := http.NewServeMux()
	mux.HandleFunc("/query/v1/search/status.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"statuses": [{"text": "讨论内容"}]}`)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		warmUpSeen = true
		w.WriteHeader(http.StatusForbidden)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	svc := newTestSentimentService(server.URL, nil)

	out := svc.BuildSentimentContext(context.Background(), "600519", "贵州茅台")
	assert.True(t, warmUpSeen)
	assert.Contains(t, out, "- 样本量: 1")
	assert.Contains(t, out, "讨论内容")
}

func TestBuildSentimentContext_HTTPErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "search") {
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer server.Close()

	svc := newTestSentimentService(server.URL, nil)
	out := svc.BuildSentimentContext(context.Background(), "600519", "贵州茅台")
	assert.Contains(t, out, "抓取失败: HTTP 400")
}

func TestBuildSentimentContext_EmptyListStillRendersBlock(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"list": []}`)
	}))
	defer server.Close()

	svc := newTestSentimentService(server.URL, nil)
	out := svc.BuildSentimentContext(context.Background(), "600519", "贵州茅台")
	assert.Contains(t, out, "- 样本量: 0")
	assert.Contains(t, out, "未抓取到有效讨论文本")
}

func TestExtractPostText_FieldPriority(t *testing.T) {
	item := map[string]any{"text": "正文", "description": "描述", "title": "标题"}
	assert.Equal(t, "正文", extractPostText(item))

	delete(item, "text")
	assert.Equal(t, "描述", extractPostText(item))

	delete(item, "description")
	assert.Equal(t, "标题", extractPostText(item))

	assert.Equal(t, "", extractPostText(map[string]any{}))
}

func TestExtractPostAuthor_Priority(t *testing.T) {
	item := map[string]any{
		"user":        map[string]any{"name": "内层名"},
		"screen_name": "外层名",
	}
	// Nested user object wins over flat fields.
	assert.Equal(t, "内层名", extractPostAuthor(item))

	flat := map[string]any{"user_name": "用户名", "author": "作者"}
	assert.Equal(t, "用户名", extractPostAuthor(flat))

	assert.Equal(t, "", extractPostAuthor(map[string]any{}))
}

func TestTruncateRunes(t *testing.T) {
	long := strings.Repeat("多", 130)
	assert.Equal(t, 120, len([]rune(truncateRunes(long, 120))))
	assert.Equal(t, "短文本", truncateRunes("短文本", 120))
}
