package intel

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"astock-insight/pkg/logger"

	"github.com/PuerkitoBio/goquery"
	"github.com/mauidude/go-readability"
)

const readerMaxSnippetLen = 1200

var whitespaceRE = regexp.MustCompile(`\s+`)

// ArticleReader fetches an article page and extracts its readable text,
// used to backfill feed items whose summaries are too short to be useful.
type ArticleReader struct {
	client *http.Client
	logger *logger.Logger
}

// NewArticleReader creates a reader with a short fixed timeout.
func NewArticleReader(log *logger.Logger) *ArticleReader {
	return &ArticleReader{
		client: &http.Client{Timeout: 12 * time.Second},
		logger: log,
	}
}

// Extract downloads the page at url and returns its main text, collapsed to a
// single line and capped. Returns an empty string on any failure; callers
// treat backfill as best effort.
func (r *ArticleReader) Extract(ctx context.Context, url string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Debug("Failed to fetch article", logger.ErrorField(err), logger.StringField("url", url))
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		r.logger.Debug("Article fetch returned non-OK status", logger.IntField("status", resp.StatusCode), logger.StringField("url", url))
		return ""
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ""
	}

	text, err := extractReadableText(body)
	if err != nil {
		r.logger.Debug("Failed to extract article text", logger.ErrorField(err), logger.StringField("url", url))
		return ""
	}

	runes := []rune(text)
	if len(runes) > readerMaxSnippetLen {
		text = string(runes[:readerMaxSnippetLen])
	}
	return text
}

func extractReadableText(htmlBody []byte) (string, error) {
	doc, err := readability.NewDocument(string(htmlBody))
	if err != nil {
		return "", fmt.Errorf("failed to parse document: %w", err)
	}

	content := doc.Content()
	docHTML, err := goquery.NewDocumentFromReader(bytes.NewReader([]byte(content)))
	if err != nil {
		return "", fmt.Errorf("failed to parse extracted content: %w", err)
	}

	text := strings.TrimSpace(docHTML.Text())
	return whitespaceRE.ReplaceAllString(text, " "), nil
}
