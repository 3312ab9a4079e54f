package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"astock-insight/internal/analyzer/config"
	"astock-insight/internal/analyzer/delivery/consumer"
	delivery "astock-insight/internal/analyzer/delivery/http"
	"astock-insight/internal/analyzer/dto"
	"astock-insight/internal/analyzer/intel"
	"astock-insight/internal/analyzer/repository"
	"astock-insight/internal/analyzer/routehealth"
	"astock-insight/internal/analyzer/service"
	"astock-insight/pkg/common"
	"astock-insight/pkg/logger"
	"astock-insight/pkg/notify"
	"astock-insight/pkg/postgres"
	"astock-insight/pkg/redis"
	"astock-insight/pkg/utils"
)

var (
	configPath string
	runCodes   []string
	runDry     bool
	runForce   bool
	runSilent  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Starts the analyzer service",
	Run:   runServe,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Runs one watchlist analysis batch and exits",
	Run:   runOnce,
}

// buildPipeline wires the full dependency graph shared by serve and run.
func buildPipeline(cfg *config.Config, appLogger *logger.Logger, db *postgres.DB) (*service.Pipeline, error) {
	genAiClient, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.Gemini.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Gemini client: %w", err)
	}
	aiRepo := repository.NewGeminiAIRepository(cfg.Gemini, appLogger, genAiClient)

	marketDataRepo := repository.NewMarketDataRepository(cfg.MarketData, appLogger)
	financeDataRepo := repository.NewFinanceDataRepository(cfg.Finance, appLogger)
	searchRepo := repository.NewSearchRepository(cfg.Search, appLogger)
	dailyPriceRepo := repository.NewDailyPriceRepository(db.DB)
	historyRepo := repository.NewAnalysisHistoryRepository(db.DB)
	newsIntelRepo := repository.NewNewsIntelRepository(db.DB)

	newsHealth := routehealth.NewTracker(cfg.News.FailThreshold, cfg.News.Cooldown)
	var reader *intel.ArticleReader
	if cfg.News.ReaderEnabled {
		reader = intel.NewArticleReader(appLogger)
	}
	newsSvc := intel.NewNewsService(cfg.News, appLogger, newsHealth, reader)
	financeSvc := intel.NewFinanceIntelService(cfg.Finance, appLogger, financeDataRepo)
	sentimentSvc := intel.NewSentimentService(cfg.Sentiment, appLogger)
	aggregator := intel.NewIntelAggregator(appLogger, financeSvc, sentimentSvc, newsSvc, searchRepo, newsIntelRepo, cfg.Search.MaxSearches)

	notifier := notify.NewService(notify.Config{
		TelegramBotToken: cfg.Notify.TelegramBotToken,
		TelegramChatID:   cfg.Notify.TelegramChatID,
		WecomWebhookURL:  cfg.Notify.WecomWebhookURL,
		FeishuWebhookURL: cfg.Notify.FeishuWebhookURL,
		CustomWebhookURL: cfg.Notify.CustomWebhookURL,
		ReportDir:        cfg.Notify.ReportDir,
	}, appLogger)

	trendAnalyzer := service.NewTrendAnalyzer(appLogger)
	return service.NewPipeline(cfg, appLogger, marketDataRepo, dailyPriceRepo, historyRepo, aiRepo, aggregator, trendAnalyzer, notifier), nil
}

func openDatabase(cfg *config.Config) (*postgres.DB, error) {
	return postgres.NewDB(postgres.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		DBName:          cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		TimeZone:        cfg.Database.TimeZone,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
}

func runServe(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger, err := logger.New(cfg.Logger.Level, cfg.Logger.Encoding)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()

	appLogger.Info("Starting Analyzer Service", zap.String("name", cfg.App.Name))

	db, err := openDatabase(cfg)
	if err != nil {
		appLogger.Fatal("Failed to initialize database", zap.Error(err))
	}
	if sqlDB, err := db.DB.DB(); err == nil {
		defer sqlDB.Close()
	}

	redisClient, err := redis.NewClient(redis.Config{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		appLogger.Fatal("Failed to initialize Redis", zap.Error(err))
	}
	defer redisClient.Close()

	// MKSTREAM creates the stream if it doesn't exist
	if err := redisClient.XGroupCreateMkStream(context.Background(), common.RedisStreamStockAnalysis, common.RedisStreamGroup, "0").Err(); err != nil {
		if err.Error() != "BUSYGROUP Consumer Group name already exists" {
			appLogger.Fatal("Failed to create consumer group", logger.ErrorField(err))
		}
	}

	pipeline, err := buildPipeline(cfg, appLogger, db)
	if err != nil {
		appLogger.Fatal("Failed to build analysis pipeline", zap.Error(err))
	}

	redisConsumer := consumer.NewRedisConsumer(cfg, redisClient.Client, pipeline, appLogger)
	redisConsumer.Start(ctx)

	var cronRunner *cron.Cron
	if cfg.Analyzer.CronSchedule != "" {
		cronRunner = cron.New()
		_, err := cronRunner.AddFunc(cfg.Analyzer.CronSchedule, func() {
			utils.GoSafe(func() {
				req := dto.RunRequest{
					QueryID:          uuid.New().String(),
					QuerySource:      "cron",
					SendNotification: true,
				}
				if _, err := pipeline.Run(ctx, req); err != nil {
					appLogger.Error("Scheduled analysis run failed", logger.ErrorField(err))
				}
			})
		})
		if err != nil {
			appLogger.Fatal("Invalid cron schedule", zap.Error(err))
		}
		cronRunner.Start()
		appLogger.Info("Cron schedule registered", logger.StringField("schedule", cfg.Analyzer.CronSchedule))
	}

	e := echo.New()
	e.HideBanner = true

	historyRepo := repository.NewAnalysisHistoryRepository(db.DB)
	analysisHandler := delivery.NewAnalysisHandler(cfg, redisClient.Client, historyRepo, appLogger)
	analysisHandler.RegisterHealth(e)
	apiV1 := e.Group("/api/v1")
	analysisHandler.RegisterRoutes(apiV1)

	go func() {
		addr := cfg.API.Address()
		appLogger.Info("HTTP server starting", logger.Field("address", addr))
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			appLogger.Error("HTTP server failed to start", logger.ErrorField(err))
		}
	}()

	appLogger.Info("Analyzer service started. Waiting for requests...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down analyzer service...")
	cancel()
	if cronRunner != nil {
		cronRunner.Stop()
	}
	redisConsumer.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", logger.ErrorField(err))
	}
	appLogger.Info("Analyzer service stopped.")
}

func runOnce(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger, err := logger.New(cfg.Logger.Level, cfg.Logger.Encoding)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()

	db, err := openDatabase(cfg)
	if err != nil {
		appLogger.Fatal("Failed to initialize database", zap.Error(err))
	}
	if sqlDB, err := db.DB.DB(); err == nil {
		defer sqlDB.Close()
	}

	pipeline, err := buildPipeline(cfg, appLogger, db)
	if err != nil {
		appLogger.Fatal("Failed to build analysis pipeline", zap.Error(err))
	}

	req := dto.RunRequest{
		Codes:            runCodes,
		QueryID:          uuid.New().String(),
		QuerySource:      "cli",
		DryRun:           runDry,
		ForceRefresh:     runForce,
		SendNotification: !runSilent,
	}
	outcome, err := pipeline.Run(ctx, req)
	if err != nil {
		appLogger.Fatal("Analysis run failed", zap.Error(err))
	}
	appLogger.Info("Analysis run finished",
		logger.IntField("success", outcome.SuccessCount),
		logger.IntField("failure", outcome.FailureCount),
		logger.DurationField("elapsed", outcome.Elapsed),
	)
}

func main() {
	rootCmd := &cobra.Command{Use: "analyzer-service"}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config-analyzer.yaml", "Path to the configuration file")
	runCmd.Flags().StringSliceVar(&runCodes, "codes", nil, "Stock codes to analyze (default: configured watchlist)")
	runCmd.Flags().BoolVar(&runDry, "dry-run", false, "Fetch and store data without analyzing")
	runCmd.Flags().BoolVar(&runForce, "force-refresh", false, "Refetch daily data even when today's bars exist")
	runCmd.Flags().BoolVar(&runSilent, "no-notify", false, "Skip all notifications")

	rootCmd.AddCommand(serveCmd, runCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing analyzer-service CLI: %s\n", err)
		os.Exit(1)
	}
}
