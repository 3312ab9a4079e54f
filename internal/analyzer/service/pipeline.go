package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"gorm.io/datatypes"

	"astock-insight/internal/analyzer/config"
	"astock-insight/internal/analyzer/dto"
	"astock-insight/internal/analyzer/repository"
	"astock-insight/internal/entity"
	"astock-insight/pkg/logger"
	"astock-insight/pkg/notify"
	"astock-insight/pkg/utils"
)

// IntelBuilder assembles the multi-source intelligence text for one stock.
// Empty string means no intel was available; the analysis still proceeds.
type IntelBuilder interface {
	BuildIntelContext(ctx context.Context, code, name, queryID, querySource string) string
}

// Pipeline orchestrates one watchlist analysis run: refresh daily data,
// enrich with realtime/chip/trend overlays, aggregate intel, call the
// generative model, persist the verdict and deliver notifications. Symbols
// are processed by a bounded worker pool; one failing symbol never aborts
// the others.
type Pipeline struct {
	cfg        *config.Config
	logger     *logger.Logger
	marketData repository.MarketDataRepository
	dailyPrice repository.DailyPriceRepository
	history    repository.AnalysisHistoryRepository
	ai         repository.AIRepository
	intel      IntelBuilder
	trend      *TrendAnalyzer
	notifier   notify.Notifier

	// pacer spaces outbound work across all workers instead of sleeping
	// between completions, so the request rate stays bounded even when
	// tasks finish in bursts.
	pacer *rate.Limiter

	now   func() time.Time
	newID func() string
}

// NewPipeline wires the orchestrator. All repositories are required; notifier
// may be a no-channel instance, in which case every push degrades to a log line.
func NewPipeline(
	cfg *config.Config,
	log *logger.Logger,
	marketData repository.MarketDataRepository,
	dailyPrice repository.DailyPriceRepository,
	history repository.AnalysisHistoryRepository,
	ai repository.AIRepository,
	intel IntelBuilder,
	trend *TrendAnalyzer,
	notifier notify.Notifier,
) *Pipeline {
	var pacer *rate.Limiter
	if cfg.Analyzer.AnalysisInterval > 0 {
		pacer = rate.NewLimiter(rate.Every(cfg.Analyzer.AnalysisInterval), 1)
	}
	return &Pipeline{
		cfg:        cfg,
		logger:     log,
		marketData: marketData,
		dailyPrice: dailyPrice,
		history:    history,
		ai:         ai,
		intel:      intel,
		trend:      trend,
		notifier:   notifier,
		pacer:      pacer,
		now:        utils.TimeNowCST,
		newID:      func() string { return uuid.New().String() },
	}
}

type taskResult struct {
	code   string
	result *dto.AnalysisResult
	err    error
}

// Run executes one batch analysis. Counts in the returned outcome always sum
// to the number of input symbols. The returned error is reserved for
// conditions that prevent the run from starting at all.
func (p *Pipeline) Run(ctx context.Context, req dto.RunRequest) (*dto.RunOutcome, error) {
	start := time.Now()

	codes := req.Codes
	if len(codes) == 0 {
		codes = p.cfg.Analyzer.StockList
	}
	if len(codes) == 0 {
		return nil, dto.ErrEmptyWatchlist
	}
	normalized := make([]string, 0, len(codes))
	for _, c := range codes {
		normalized = append(normalized, utils.NormalizeStockCode(c))
	}
	codes = normalized

	reportType := req.ReportType
	if reportType == "" {
		reportType = dto.ParseReportType(p.cfg.Analyzer.ReportType)
	}
	singleNotify := p.cfg.Analyzer.SingleStockNotify && req.SendNotification && !req.DryRun

	notifier := p.notifier
	if req.Source != nil {
		notifier = notifier.ForRequest(req.Source)
	}

	mode := "完整分析"
	if req.DryRun {
		mode = "仅获取数据"
	}
	p.logger.Info("Starting watchlist analysis",
		logger.IntField("stocks", len(codes)),
		logger.IntField("max_workers", p.cfg.Analyzer.MaxWorkers),
		logger.StringField("mode", mode),
		logger.StringField("query_id", req.QueryID),
	)

	// Batch prefetch pays off only past a handful of symbols, below that the
	// per-stock quote endpoint is cheaper than the full-market snapshot.
	if len(codes) >= p.cfg.MarketData.PrefetchMinimum {
		if n := p.marketData.PrefetchRealtimeQuotes(ctx, codes); n > 0 {
			p.logger.Info("Prefetched realtime quotes for batch",
				logger.IntField("cached", n),
				logger.IntField("stocks", len(codes)),
			)
		}
	}

	p.notifyProgress(notifier, req.Source,
		fmt.Sprintf("🚀 分析任务启动：共 %d 只股票（模式：%s）", len(codes), mode))

	semaphore := make(chan struct{}, p.cfg.Analyzer.MaxWorkers)
	resultCh := make(chan taskResult, len(codes))
	var wg sync.WaitGroup
	for _, code := range codes {
		wg.Add(1)
		code := code
		utils.GoSafe(func() {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			if p.pacer != nil {
				if err := p.pacer.Wait(ctx); err != nil {
					resultCh <- taskResult{code: code, err: err}
					return
				}
			}
			if !utils.ShouldContinue(ctx, p.logger) {
				resultCh <- taskResult{code: code, err: ctx.Err()}
				return
			}
			result, err := p.processStock(ctx, code, req, notifier, singleNotify, reportType)
			resultCh <- taskResult{code: code, result: result, err: err}
		})
	}
	utils.GoSafe(func() {
		wg.Wait()
		close(resultCh)
	})

	results := make([]*dto.AnalysisResult, 0, len(codes))
	done := 0
	for tr := range resultCh {
		done++
		switch {
		case tr.err != nil:
			p.logger.Error("Stock task failed",
				logger.StringField("code", tr.code),
				logger.ErrorField(tr.err),
			)
			p.notifyProgress(notifier, req.Source,
				fmt.Sprintf("❌ [%d/%d] %s 执行失败：%s", done, len(codes), tr.code, truncateRunes(tr.err.Error(), 80)))
		case tr.result != nil:
			results = append(results, tr.result)
			p.notifyProgress(notifier, req.Source,
				fmt.Sprintf("✅ [%d/%d] %s(%s) 完成：%s，评分 %d",
					done, len(codes), tr.result.Name, tr.code, tr.result.OperationAdvice, tr.result.SentimentScore))
		case !req.DryRun:
			p.notifyProgress(notifier, req.Source,
				fmt.Sprintf("⚠️ [%d/%d] %s 未产出有效分析结果", done, len(codes), tr.code))
		}
	}

	successCount := len(results)
	if req.DryRun {
		// Data refresh is the whole job here, so success means the local
		// store holds a bar for today.
		successCount = 0
		today := utils.TruncateToDate(p.now())
		for _, code := range codes {
			if ok, err := p.dailyPrice.HasTodayData(ctx, code, today); err == nil && ok {
				successCount++
			}
		}
	}
	outcome := &dto.RunOutcome{
		Results:      results,
		SuccessCount: successCount,
		FailureCount: len(codes) - successCount,
		Elapsed:      time.Since(start),
	}

	p.logger.Info("Watchlist analysis finished",
		logger.IntField("success", outcome.SuccessCount),
		logger.IntField("failure", outcome.FailureCount),
		logger.DurationField("elapsed", outcome.Elapsed),
	)
	p.notifyProgress(notifier, req.Source,
		fmt.Sprintf("🏁 分析结束：成功 %d，失败 %d，耗时 %.1f 秒",
			outcome.SuccessCount, outcome.FailureCount, outcome.Elapsed.Seconds()))

	if len(results) > 0 && req.SendNotification && !req.DryRun {
		// Single-stock mode already pushed each verdict; the aggregate
		// report is only written to disk to avoid duplicate deliveries.
		p.sendNotifications(notifier, results, singleNotify)
	}
	return outcome, nil
}

// processStock runs the full per-symbol flow. Data-refresh failures are
// logged and analysis proceeds on whatever local history exists; only a
// failed generative call surfaces as an error.
func (p *Pipeline) processStock(
	ctx context.Context,
	code string,
	req dto.RunRequest,
	notifier notify.Notifier,
	singleNotify bool,
	reportType dto.ReportType,
) (*dto.AnalysisResult, error) {
	p.logger.InfoContext(ctx, "Processing stock", logger.StringField("code", code))

	if err := p.refreshDailyData(ctx, code, req.ForceRefresh); err != nil {
		p.logger.Warn("Daily data refresh failed, analyzing with existing data",
			logger.StringField("code", code),
			logger.ErrorField(err),
		)
	}

	if req.DryRun {
		return nil, nil
	}

	result, err := p.analyzeStock(ctx, code, req, reportType)
	if err != nil {
		return nil, err
	}

	if singleNotify && notifier.IsAvailable() {
		var content string
		if reportType == dto.ReportTypeFull {
			content = notifier.GenerateDashboardReport([]*dto.AnalysisResult{result})
		} else {
			content = notifier.GenerateSingleStockReport(result)
		}
		if !notifier.Send(content) {
			p.logger.Warn("Single-stock push failed", logger.StringField("code", code))
		}
	}
	return result, nil
}

// refreshDailyData is the idempotent-resume step: when today's bar already
// exists locally the network fetch is skipped entirely unless forced.
func (p *Pipeline) refreshDailyData(ctx context.Context, code string, force bool) error {
	today := utils.TruncateToDate(p.now())
	if !force {
		exists, err := p.dailyPrice.HasTodayData(ctx, code, today)
		if err != nil {
			return fmt.Errorf("failed to check today data: %w", err)
		}
		if exists {
			p.logger.Info("Today's data already present, skipping fetch",
				logger.StringField("code", code))
			return nil
		}
	}

	rows, source, err := p.marketData.GetDailyData(ctx, code, p.cfg.Analyzer.HistoryDays)
	if err != nil {
		return &dto.DataFetchError{Code: code, Err: err}
	}
	if len(rows) == 0 {
		return &dto.DataFetchError{Code: code, Err: fmt.Errorf("upstream returned no rows")}
	}
	saved, err := p.dailyPrice.SaveDailyData(ctx, rows, code, source)
	if err != nil {
		return fmt.Errorf("failed to save daily data: %w", err)
	}
	p.logger.Info("Daily data saved",
		logger.StringField("code", code),
		logger.StringField("source", source),
		logger.IntField("rows", saved),
	)
	return nil
}

func (p *Pipeline) analyzeStock(ctx context.Context, code string, req dto.RunRequest, reportType dto.ReportType) (*dto.AnalysisResult, error) {
	var stockName string

	// Realtime quote doubles as the name source; everything in the
	// enrichment phase is best effort.
	var realtime *dto.RealtimeQuote
	if quote, err := p.marketData.GetRealtimeQuote(ctx, code); err != nil {
		p.logger.Warn("Realtime quote unavailable",
			logger.StringField("code", code),
			logger.ErrorField(err),
		)
	} else if quote != nil {
		realtime = quote
		if quote.Name != "" {
			stockName = quote.Name
		}
	}
	if stockName == "" {
		stockName = "股票" + code
	}

	var chip *dto.ChipDistribution
	if c, err := p.marketData.GetChipDistribution(ctx, code); err != nil {
		p.logger.Warn("Chip distribution unavailable",
			logger.StringField("code", code),
			logger.ErrorField(err),
		)
	} else {
		chip = c
	}

	analysisCtx, err := p.dailyPrice.GetAnalysisContext(ctx, code, p.cfg.Analyzer.HistoryDays)
	if err != nil {
		p.logger.Warn("Failed to load analysis context",
			logger.StringField("code", code),
			logger.ErrorField(err),
		)
		analysisCtx = nil
	}

	var trendResult *dto.TrendAnalysis
	if analysisCtx != nil && len(analysisCtx.Rows) > 0 {
		if tr, err := p.trend.Analyze(analysisCtx.Rows, code); err != nil {
			p.logger.Debug("Trend analysis skipped",
				logger.StringField("code", code),
				logger.ErrorField(err),
			)
		} else {
			trendResult = tr
		}
	}

	intelText := p.intel.BuildIntelContext(ctx, code, stockName, req.QueryID, req.QuerySource)

	if analysisCtx == nil {
		p.logger.Warn("No local history, analyzing on intel and realtime data only",
			logger.StringField("code", code))
		analysisCtx = &dto.AnalysisContext{
			Code:        code,
			Date:        p.now().Format("2006-01-02"),
			DataMissing: true,
		}
	}
	analysisCtx.StockName = stockName

	enriched := &dto.EnhancedContext{
		AnalysisContext: *analysisCtx,
		Realtime:        realtime,
		Chip:            chip,
		Trend:           trendResult,
	}

	result, err := p.ai.Analyze(ctx, enriched, intelText, reportType)
	if err != nil {
		return nil, &dto.AnalysisError{Code: code, Err: err}
	}

	if realtime != nil {
		result.CurrentPrice = realtime.Price
		result.ChangePct = realtime.ChangePct
	}

	p.saveHistory(ctx, code, req, reportType, result, enriched, intelText, realtime, chip)

	p.logger.Info("Analysis complete",
		logger.StringField("code", code),
		logger.StringField("advice", result.OperationAdvice),
		logger.IntField("score", result.SentimentScore),
		logger.Float64Field("price", result.CurrentPrice),
	)
	return result, nil
}

// saveHistory persists the verdict under an id unique to this stock and run,
// never the batch-level query id, so every detail lookup resolves to its own
// record. Persistence failures degrade to a warning.
func (p *Pipeline) saveHistory(
	ctx context.Context,
	code string,
	req dto.RunRequest,
	reportType dto.ReportType,
	result *dto.AnalysisResult,
	enriched *dto.EnhancedContext,
	intelText string,
	realtime *dto.RealtimeQuote,
	chip *dto.ChipDistribution,
) {
	historyID := p.newID()
	result.HistoryID = historyID

	row := &entity.AnalysisHistory{
		ID:              historyID,
		Code:            code,
		Name:            result.Name,
		QueryID:         req.QueryID,
		QuerySource:     req.QuerySource,
		ReportType:      string(reportType),
		OperationAdvice: result.OperationAdvice,
		SentimentScore:  result.SentimentScore,
		TrendPrediction: result.TrendPrediction,
		Summary:         result.Summary,
		KeyReasons:      result.KeyReasons,
		CurrentPrice:    result.CurrentPrice,
		ChangePct:       result.ChangePct,
		IntelText:       intelText,
	}
	if p.cfg.Analyzer.SaveContextSnapshot {
		snapshot := dto.ContextSnapshot{
			EnhancedContext: enriched,
			IntelText:       intelText,
			RealtimeRaw:     realtime,
			ChipRaw:         chip,
		}
		if raw, err := json.Marshal(snapshot); err == nil {
			row.ContextSnapshot = datatypes.JSON(raw)
		}
	}
	if err := p.history.Save(ctx, row); err != nil {
		p.logger.Warn("Failed to save analysis history",
			logger.StringField("code", code),
			logger.ErrorField(err),
		)
	}
}

// sendNotifications writes the dashboard report to disk and, unless skipPush
// is set, delivers it: the originating chat first, then a shortened variant
// to WeCom and the full report to every other channel. Any single successful
// channel counts the delivery as done.
func (p *Pipeline) sendNotifications(notifier notify.Notifier, results []*dto.AnalysisResult, skipPush bool) {
	report := notifier.GenerateDashboardReport(results)

	if path, err := notifier.SaveReportToFile(report); err != nil {
		p.logger.Error("Failed to save dashboard report", logger.ErrorField(err))
	} else {
		p.logger.Info("Dashboard report saved", logger.StringField("path", path))
	}

	if skipPush {
		p.logger.Info("Single-stock push mode, skipping aggregate push")
		return
	}
	if !notifier.IsAvailable() {
		p.logger.Info("No notification channel configured, skipping push")
		return
	}

	contextSuccess := notifier.SendToContext(report)

	var channelSuccess bool
	for _, channel := range notifier.AvailableChannels() {
		switch channel {
		case notify.ChannelWecom:
			// WeCom caps markdown payloads, so it gets the condensed board.
			channelSuccess = notifier.SendToWecom(notifier.GenerateWecomDashboard(results)) || channelSuccess
		case notify.ChannelTelegram:
			channelSuccess = notifier.SendToTelegram(report) || channelSuccess
		case notify.ChannelFeishu:
			channelSuccess = notifier.SendToFeishu(report) || channelSuccess
		case notify.ChannelCustom:
			channelSuccess = notifier.SendToCustom(report) || channelSuccess
		}
	}

	if contextSuccess || channelSuccess {
		p.logger.Info("Dashboard report delivered")
	} else {
		p.logger.Warn("Dashboard report delivery failed on every channel")
	}
}

// notifyProgress pushes a progress line, preferring the originating chat and
// broadcasting only when the run has no source conversation. Always best
// effort.
func (p *Pipeline) notifyProgress(notifier notify.Notifier, source *dto.SourceMessage, message string) {
	if !p.cfg.Analyzer.ProgressNotify {
		return
	}
	content := "### ⏳ 分析进度\n" + message
	if source != nil {
		notifier.SendToContext(content)
		return
	}
	notifier.Send(content)
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
