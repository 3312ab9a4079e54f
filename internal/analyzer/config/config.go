package config

import (
	"time"

	"astock-insight/pkg/config"
)

// Analyzer holds the orchestration settings for a batch run.
type Analyzer struct {
	StockList           []string      `mapstructure:"stock_list"`
	MaxWorkers          int           `mapstructure:"max_workers"`
	AnalysisInterval    time.Duration `mapstructure:"analysis_interval"`
	HistoryDays         int           `mapstructure:"history_days"`
	ReportType          string        `mapstructure:"report_type"`
	SingleStockNotify   bool          `mapstructure:"single_stock_notify"`
	SaveContextSnapshot bool          `mapstructure:"save_context_snapshot"`
	ProgressNotify      bool          `mapstructure:"progress_notify"`
	CronSchedule        string        `mapstructure:"cron_schedule"`
	StreamTimeout       time.Duration `mapstructure:"stream_timeout"`
}

// MarketData holds settings for the realtime/history data source.
type MarketData struct {
	BaseURL         string        `mapstructure:"base_url"`
	EnableRealtime  bool          `mapstructure:"enable_realtime"`
	EnableChip      bool          `mapstructure:"enable_chip"`
	PrefetchTTL     time.Duration `mapstructure:"prefetch_ttl"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ChipFailLimit   int           `mapstructure:"chip_fail_limit"`
	ChipCooldown    time.Duration `mapstructure:"chip_cooldown"`
	UserAgent       string        `mapstructure:"user_agent"`
	PrefetchMinimum int           `mapstructure:"prefetch_minimum"`
}

// News holds feed-ranking engine settings.
type News struct {
	Enabled              bool          `mapstructure:"enabled"`
	BaseURL              string        `mapstructure:"base_url"`
	RouteTemplates       []string      `mapstructure:"route_templates"`
	StockRouteTemplates  []string      `mapstructure:"stock_route_templates"`
	MarketRouteTemplates []string      `mapstructure:"market_route_templates"`
	MaxItems             int           `mapstructure:"max_items"`
	FailThreshold        int           `mapstructure:"fail_threshold"`
	Cooldown             time.Duration `mapstructure:"cooldown"`
	ReaderEnabled        bool          `mapstructure:"reader_enabled"`
	ReaderMinSnippetLen  int           `mapstructure:"reader_min_snippet_len"`
}

// Finance holds structured financial-disclosure lookup settings.
type Finance struct {
	Enabled     bool   `mapstructure:"enabled"`
	BaseURL     string `mapstructure:"base_url"`
	MaxQuarters int    `mapstructure:"max_quarters"`
}

// Sentiment holds community-sentiment fetcher settings.
type Sentiment struct {
	Enabled   bool     `mapstructure:"enabled"`
	BaseURL   string   `mapstructure:"base_url"`
	Cookie    string   `mapstructure:"cookie"`
	UserAgent string   `mapstructure:"user_agent"`
	MaxPosts  int      `mapstructure:"max_posts"`
	KolUsers  []string `mapstructure:"kol_users"`
}

// Search holds the generic web-search fallback settings.
type Search struct {
	APIKey      string `mapstructure:"api_key"`
	BaseURL     string `mapstructure:"base_url"`
	MaxSearches int    `mapstructure:"max_searches"`
}

// Gemini holds the configuration for the Gemini API.
type Gemini struct {
	APIKey              string  `mapstructure:"api_key"`
	Model               string  `mapstructure:"model"`
	MaxRequestPerMinute int     `mapstructure:"max_request_per_minute"`
	Temperature         float64 `mapstructure:"temperature"`
}

// Notify holds the per-channel notification settings.
type Notify struct {
	TelegramBotToken string `mapstructure:"telegram_bot_token"`
	TelegramChatID   int64  `mapstructure:"telegram_chat_id"`
	WecomWebhookURL  string `mapstructure:"wecom_webhook_url"`
	FeishuWebhookURL string `mapstructure:"feishu_webhook_url"`
	CustomWebhookURL string `mapstructure:"custom_webhook_url"`
	ReportDir        string `mapstructure:"report_dir"`
}

// Config holds the full configuration for the analyzer service.
type Config struct {
	App        config.App      `mapstructure:"app"`
	Logger     config.Logger   `mapstructure:"logger"`
	Database   config.Database `mapstructure:"database"`
	Redis      config.Redis    `mapstructure:"redis"`
	API        config.API      `mapstructure:"api"`
	Analyzer   Analyzer        `mapstructure:"analyzer"`
	MarketData MarketData      `mapstructure:"market_data"`
	News       News            `mapstructure:"news"`
	Finance    Finance         `mapstructure:"finance"`
	Sentiment  Sentiment       `mapstructure:"sentiment"`
	Search     Search          `mapstructure:"search"`
	Gemini     Gemini          `mapstructure:"gemini"`
	Notify     Notify          `mapstructure:"notify"`
}

// Load loads the analyzer configuration from the given path.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := config.Load(path, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Analyzer.MaxWorkers <= 0 {
		// Kept low on purpose: upstream sources throttle aggressive scraping.
		c.Analyzer.MaxWorkers = 3
	}
	if c.Analyzer.HistoryDays <= 0 {
		c.Analyzer.HistoryDays = 30
	}
	if c.Analyzer.StreamTimeout <= 0 {
		c.Analyzer.StreamTimeout = 30 * time.Minute
	}
	if c.MarketData.PrefetchTTL <= 0 {
		c.MarketData.PrefetchTTL = 5 * time.Minute
	}
	if c.MarketData.RequestTimeout <= 0 {
		c.MarketData.RequestTimeout = 10 * time.Second
	}
	if c.MarketData.ChipFailLimit <= 0 {
		c.MarketData.ChipFailLimit = 3
	}
	if c.MarketData.ChipCooldown <= 0 {
		c.MarketData.ChipCooldown = 15 * time.Minute
	}
	if c.MarketData.PrefetchMinimum <= 0 {
		c.MarketData.PrefetchMinimum = 5
	}
	if c.News.MaxItems <= 0 {
		c.News.MaxItems = 8
	}
	if c.News.FailThreshold <= 0 {
		c.News.FailThreshold = 3
	}
	if c.News.Cooldown <= 0 {
		c.News.Cooldown = 15 * time.Minute
	}
	if c.News.ReaderMinSnippetLen < 20 {
		c.News.ReaderMinSnippetLen = 80
	}
	if c.Finance.MaxQuarters <= 0 {
		c.Finance.MaxQuarters = 6
	}
	if c.Sentiment.MaxPosts < 5 {
		c.Sentiment.MaxPosts = 20
	}
	if c.Search.MaxSearches <= 0 {
		c.Search.MaxSearches = 5
	}
	if c.Gemini.MaxRequestPerMinute <= 0 {
		c.Gemini.MaxRequestPerMinute = 10
	}
	if c.Gemini.Temperature <= 0 {
		c.Gemini.Temperature = 0.4
	}
	if c.Notify.ReportDir == "" {
		c.Notify.ReportDir = "reports"
	}
}
