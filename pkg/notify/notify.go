package notify

import (
	"astock-insight/internal/analyzer/dto"
)

// Channel identifies one delivery target.
type Channel string

const (
	ChannelTelegram Channel = "telegram"
	ChannelWecom    Channel = "wecom"
	ChannelFeishu   Channel = "feishu"
	ChannelCustom   Channel = "custom"
)

// Config holds the per-channel delivery settings.
type Config struct {
	TelegramBotToken string
	TelegramChatID   int64
	WecomWebhookURL  string
	FeishuWebhookURL string
	CustomWebhookURL string
	ReportDir        string
}

// Notifier is the multi-channel notification contract. Send methods report
// delivery as a bool: a failed channel logs and returns false, it never
// raises, so one broken webhook cannot fail a run.
type Notifier interface {
	IsAvailable() bool
	AvailableChannels() []Channel

	// Send broadcasts to every configured channel; true when any succeeded.
	Send(text string) bool
	// SendToContext replies into the originating conversation when the
	// notifier carries one (see ForRequest); false otherwise.
	SendToContext(text string) bool
	SendToTelegram(text string) bool
	SendToWecom(text string) bool
	SendToFeishu(text string) bool
	SendToCustom(text string) bool

	GenerateDashboardReport(results []*dto.AnalysisResult) string
	GenerateSingleStockReport(result *dto.AnalysisResult) string
	GenerateWecomDashboard(results []*dto.AnalysisResult) string
	SaveReportToFile(report string) (string, error)

	// ForRequest returns a notifier bound to the run's originating chat
	// message, enabling SendToContext replies. The receiver is unchanged.
	ForRequest(source *dto.SourceMessage) Notifier
}
