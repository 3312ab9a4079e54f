package notify

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"astock-insight/pkg/logger"
)

// wecomMarkdownLimit is the platform cap on one markdown message.
const wecomMarkdownLimit = 4096

type webhookSender struct {
	log        *logger.Logger
	httpClient *http.Client
}

func newWebhookSender(log *logger.Logger) *webhookSender {
	return &webhookSender{
		log:        log,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// sendWecom posts a markdown message to a wecom group-robot webhook,
// truncating to the platform cap.
func (w *webhookSender) sendWecom(url, text string) bool {
	if len(text) > wecomMarkdownLimit {
		text = truncateBytesUTF8(text, wecomMarkdownLimit-3) + "..."
	}
	payload := map[string]any{
		"msgtype":  "markdown",
		"markdown": map[string]string{"content": text},
	}
	return w.post("wecom", url, payload)
}

// sendFeishu posts a text message to a feishu custom-bot webhook.
func (w *webhookSender) sendFeishu(url, text string) bool {
	payload := map[string]any{
		"msg_type": "text",
		"content":  map[string]string{"text": text},
	}
	return w.post("feishu", url, payload)
}

// sendCustom posts the raw report to a user-supplied webhook.
func (w *webhookSender) sendCustom(url, text string) bool {
	payload := map[string]any{"content": text}
	return w.post("custom", url, payload)
}

func (w *webhookSender) post(channel, url string, payload any) bool {
	body, err := json.Marshal(payload)
	if err != nil {
		w.log.Warn("Webhook payload marshal failed", logger.StringField("channel", channel), logger.ErrorField(err))
		return false
	}

	resp, err := w.httpClient.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		w.log.Warn("Webhook delivery failed", logger.StringField("channel", channel), logger.ErrorField(err))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		w.log.Warn("Webhook returned non-OK status",
			logger.StringField("channel", channel),
			logger.IntField("status", resp.StatusCode),
		)
		return false
	}

	var result struct {
		ErrCode *int `json:"errcode"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && result.ErrCode != nil && *result.ErrCode != 0 {
		w.log.Warn("Webhook rejected message",
			logger.StringField("channel", channel),
			logger.IntField("errcode", *result.ErrCode),
		)
		return false
	}
	return true
}

// truncateBytesUTF8 cuts at a byte budget without splitting a rune.
func truncateBytesUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	b := []byte(s)[:limit]
	for len(b) > 0 && b[len(b)-1]&0xC0 == 0x80 {
		b = b[:len(b)-1]
	}
	return string(b)
}
