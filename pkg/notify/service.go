package notify

import (
	"fmt"
	"os"
	"path/filepath"

	"astock-insight/internal/analyzer/dto"
	"astock-insight/pkg/logger"
	"astock-insight/pkg/telegram"
	"astock-insight/pkg/utils"
)

// service is the multi-channel Notifier implementation.
type service struct {
	cfg      Config
	log      *logger.Logger
	telegram telegram.Notifier
	webhooks *webhookSender
	source   *dto.SourceMessage
}

// NewService builds the notifier from the configured channels. A missing or
// failing telegram token just disables that channel.
func NewService(cfg Config, log *logger.Logger) Notifier {
	s := &service{
		cfg:      cfg,
		log:      log,
		webhooks: newWebhookSender(log),
	}

	if cfg.TelegramBotToken != "" {
		tg, err := telegram.NewClient(cfg.TelegramBotToken, cfg.TelegramChatID)
		if err != nil {
			log.Warn("Telegram channel disabled", logger.ErrorField(err))
		} else {
			s.telegram = tg
		}
	}
	return s
}

func (s *service) IsAvailable() bool {
	return len(s.AvailableChannels()) > 0
}

func (s *service) AvailableChannels() []Channel {
	var channels []Channel
	if s.telegram != nil {
		channels = append(channels, ChannelTelegram)
	}
	if s.cfg.WecomWebhookURL != "" {
		channels = append(channels, ChannelWecom)
	}
	if s.cfg.FeishuWebhookURL != "" {
		channels = append(channels, ChannelFeishu)
	}
	if s.cfg.CustomWebhookURL != "" {
		channels = append(channels, ChannelCustom)
	}
	return channels
}

// ForRequest returns a copy bound to the originating chat message.
func (s *service) ForRequest(source *dto.SourceMessage) Notifier {
	clone := *s
	clone.source = source
	return &clone
}

// Send broadcasts to every configured channel. The wecom channel gets the
// text as-is here; callers needing the shortened dashboard use
// GenerateWecomDashboard + SendToWecom directly.
func (s *service) Send(text string) bool {
	success := false
	for _, channel := range s.AvailableChannels() {
		switch channel {
		case ChannelTelegram:
			success = s.SendToTelegram(text) || success
		case ChannelWecom:
			success = s.SendToWecom(text) || success
		case ChannelFeishu:
			success = s.SendToFeishu(text) || success
		case ChannelCustom:
			success = s.SendToCustom(text) || success
		}
	}
	return success
}

func (s *service) SendToContext(text string) bool {
	if s.source == nil || s.telegram == nil {
		return false
	}
	if s.source.ChatID == 0 {
		return false
	}
	if err := s.telegram.SendMessageChat(text, s.source.ChatID); err != nil {
		s.log.Warn("Context reply failed",
			logger.StringField("platform", s.source.Platform),
			logger.ErrorField(err),
		)
		return false
	}
	return true
}

func (s *service) SendToTelegram(text string) bool {
	if s.telegram == nil {
		return false
	}
	if err := s.telegram.SendMessage(text); err != nil {
		s.log.Warn("Telegram delivery failed", logger.ErrorField(err))
		return false
	}
	return true
}

func (s *service) SendToWecom(text string) bool {
	if s.cfg.WecomWebhookURL == "" {
		return false
	}
	return s.webhooks.sendWecom(s.cfg.WecomWebhookURL, text)
}

func (s *service) SendToFeishu(text string) bool {
	if s.cfg.FeishuWebhookURL == "" {
		return false
	}
	return s.webhooks.sendFeishu(s.cfg.FeishuWebhookURL, text)
}

func (s *service) SendToCustom(text string) bool {
	if s.cfg.CustomWebhookURL == "" {
		return false
	}
	return s.webhooks.sendCustom(s.cfg.CustomWebhookURL, text)
}

// SaveReportToFile persists the report under the configured report dir and
// returns its path.
func (s *service) SaveReportToFile(report string) (string, error) {
	dir := s.cfg.ReportDir
	if dir == "" {
		dir = "reports"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report dir: %w", err)
	}

	filename := fmt.Sprintf("stock_report_%s.md", utils.TimeNowCST().Format("20060102_150405"))
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, []byte(report), 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}
