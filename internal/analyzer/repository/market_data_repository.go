package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"astock-insight/internal/analyzer/config"
	"astock-insight/internal/analyzer/dto"
	"astock-insight/internal/analyzer/routehealth"
	"astock-insight/internal/entity"
	"astock-insight/pkg/logger"
	"astock-insight/pkg/utils"

	"github.com/patrickmn/go-cache"
)

const marketDataSource = "eastmoney"

type marketDataRepository struct {
	cfg        config.MarketData
	log        *logger.Logger
	httpClient *http.Client
	quoteCache *cache.Cache
	chipHealth *routehealth.Tracker
}

// NewMarketDataRepository creates the HTTP market-data source. Prefetched
// quotes live in a short-lived in-process cache shared by all workers; the
// chip endpoint runs behind its own circuit breaker because it degrades
// independently of the quote endpoints.
func NewMarketDataRepository(cfg config.MarketData, log *logger.Logger) MarketDataRepository {
	return &marketDataRepository{
		cfg:        cfg,
		log:        log,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		quoteCache: cache.New(cfg.PrefetchTTL, 2*cfg.PrefetchTTL),
		chipHealth: routehealth.NewTracker(cfg.ChipFailLimit, cfg.ChipCooldown),
	}
}

// secID maps a 6-digit code to the upstream market-prefixed identifier.
func secID(code string) string {
	code = utils.NormalizeStockCode(code)
	if strings.HasPrefix(code, "6") || strings.HasPrefix(code, "9") {
		return "1." + code
	}
	return "0." + code
}

func (r *marketDataRepository) GetDailyData(ctx context.Context, code string, days int) ([]entity.DailyPrice, string, error) {
	if days <= 0 {
		days = 30
	}

	url := fmt.Sprintf("%s/api/qt/stock/kline/get?secid=%s&klt=101&fqt=1&lmt=%d&end=20500101"+
		"&fields1=f1,f2,f3&fields2=f51,f52,f53,f54,f55,f56,f57,f59",
		strings.TrimRight(r.cfg.BaseURL, "/"), secID(code), days)

	body, err := r.sendRequest(ctx, url)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch daily data: %w", err)
	}

	var payload struct {
		Data struct {
			Klines []string `json:"klines"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, "", fmt.Errorf("failed to parse daily data: %w", err)
	}
	if len(payload.Data.Klines) == 0 {
		return nil, "", nil
	}

	normCode := utils.NormalizeStockCode(code)
	rows := make([]entity.DailyPrice, 0, len(payload.Data.Klines))
	for _, line := range payload.Data.Klines {
		row, ok := parseKline(normCode, line)
		if !ok {
			continue
		}
		rows = append(rows, row)
	}

	r.log.DebugContext(ctx, "Daily data fetched",
		logger.StringField("code", normCode),
		logger.IntField("rows", len(rows)),
	)
	return rows, marketDataSource, nil
}

// parseKline decodes one "date,open,close,high,low,volume,amount,changePct"
// line. Malformed lines are skipped, not fatal.
func parseKline(code, line string) (entity.DailyPrice, bool) {
	parts := strings.Split(line, ",")
	if len(parts) < 8 {
		return entity.DailyPrice{}, false
	}

	tradeDate, err := time.ParseInLocation("2006-01-02", parts[0], utils.GetCSTLocation())
	if err != nil {
		return entity.DailyPrice{}, false
	}

	nums := make([]float64, 7)
	for i := 0; i < 7; i++ {
		v, err := strconv.ParseFloat(parts[i+1], 64)
		if err != nil {
			return entity.DailyPrice{}, false
		}
		nums[i] = v
	}

	return entity.DailyPrice{
		Code:      code,
		TradeDate: tradeDate,
		Open:      nums[0],
		Close:     nums[1],
		High:      nums[2],
		Low:       nums[3],
		Volume:    nums[4],
		Amount:    nums[5],
		ChangePct: nums[6],
		Source:    marketDataSource,
	}, true
}

func (r *marketDataRepository) GetRealtimeQuote(ctx context.Context, code string) (*dto.RealtimeQuote, error) {
	if !r.cfg.EnableRealtime {
		return nil, nil
	}

	normCode := utils.NormalizeStockCode(code)
	if cached, found := r.quoteCache.Get(normCode); found {
		quote := cached.(dto.RealtimeQuote)
		return &quote, nil
	}

	url := fmt.Sprintf("%s/api/qt/stock/get?secid=%s"+
		"&fields=f43,f50,f57,f58,f116,f117,f162,f167,f168,f170,f26",
		strings.TrimRight(r.cfg.BaseURL, "/"), secID(code))

	body, err := r.sendRequest(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch realtime quote: %w", err)
	}

	var payload struct {
		Data *struct {
			Price        float64 `json:"f43"`
			VolumeRatio  float64 `json:"f50"`
			Code         string  `json:"f57"`
			Name         string  `json:"f58"`
			TotalMV      float64 `json:"f116"`
			CircMV       float64 `json:"f117"`
			PERatio      float64 `json:"f162"`
			PBRatio      float64 `json:"f167"`
			TurnoverRate float64 `json:"f168"`
			ChangePct    float64 `json:"f170"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse realtime quote: %w", err)
	}
	if payload.Data == nil {
		return nil, nil
	}

	// The upstream scales prices and ratios by 100.
	quote := dto.RealtimeQuote{
		Code:         normCode,
		Name:         payload.Data.Name,
		Price:        payload.Data.Price / 100,
		ChangePct:    payload.Data.ChangePct / 100,
		VolumeRatio:  payload.Data.VolumeRatio / 100,
		TurnoverRate: payload.Data.TurnoverRate / 100,
		PERatio:      payload.Data.PERatio / 100,
		PBRatio:      payload.Data.PBRatio / 100,
		TotalMV:      payload.Data.TotalMV,
		CircMV:       payload.Data.CircMV,
		Source:       marketDataSource,
	}
	r.quoteCache.SetDefault(normCode, quote)
	return &quote, nil
}

const chipRoute = "/api/qt/stock/cyq/get"

func (r *marketDataRepository) GetChipDistribution(ctx context.Context, code string) (*dto.ChipDistribution, error) {
	if !r.cfg.EnableChip {
		return nil, nil
	}
	if r.chipHealth.ShouldSkip(chipRoute) {
		r.log.DebugContext(ctx, "Chip endpoint cooling down, skipped", logger.StringField("code", code))
		return nil, nil
	}

	url := fmt.Sprintf("%s%s?secid=%s&fields=f1,f2,f3,f4,f5",
		strings.TrimRight(r.cfg.BaseURL, "/"), chipRoute, secID(code))

	body, err := r.sendRequest(ctx, url)
	if err != nil {
		r.chipHealth.RecordFailure(chipRoute)
		return nil, fmt.Errorf("failed to fetch chip distribution: %w", err)
	}

	var payload struct {
		Data *struct {
			ProfitRatio     float64 `json:"f1"`
			AvgCost         float64 `json:"f2"`
			Concentration90 float64 `json:"f3"`
			Concentration70 float64 `json:"f4"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		r.chipHealth.RecordFailure(chipRoute)
		return nil, fmt.Errorf("failed to parse chip distribution: %w", err)
	}
	if payload.Data == nil {
		r.chipHealth.RecordFailure(chipRoute)
		return nil, nil
	}

	r.chipHealth.RecordSuccess(chipRoute)
	return &dto.ChipDistribution{
		Code:            utils.NormalizeStockCode(code),
		ProfitRatio:     payload.Data.ProfitRatio,
		AvgCost:         payload.Data.AvgCost,
		Concentration90: payload.Data.Concentration90,
		Concentration70: payload.Data.Concentration70,
	}, nil
}

// PrefetchRealtimeQuotes warms the quote cache with one batched request so a
// large run issues a single upstream call instead of one per worker. Returns
// the number of quotes cached; failures only log.
func (r *marketDataRepository) PrefetchRealtimeQuotes(ctx context.Context, codes []string) int {
	if !r.cfg.EnableRealtime || len(codes) == 0 {
		return 0
	}

	secIDs := make([]string, 0, len(codes))
	for _, code := range codes {
		secIDs = append(secIDs, secID(code))
	}

	url := fmt.Sprintf("%s/api/qt/ulist.np/get?secids=%s"+
		"&fields=f2,f3,f8,f9,f10,f12,f14,f20,f21,f23",
		strings.TrimRight(r.cfg.BaseURL, "/"), strings.Join(secIDs, ","))

	body, err := r.sendRequest(ctx, url)
	if err != nil {
		r.log.Warn("Quote prefetch failed", logger.IntField("codes", len(codes)), logger.ErrorField(err))
		return 0
	}

	var payload struct {
		Data struct {
			Diff []struct {
				Price        float64 `json:"f2"`
				ChangePct    float64 `json:"f3"`
				TurnoverRate float64 `json:"f8"`
				PERatio      float64 `json:"f9"`
				VolumeRatio  float64 `json:"f10"`
				Code         string  `json:"f12"`
				Name         string  `json:"f14"`
				TotalMV      float64 `json:"f20"`
				CircMV       float64 `json:"f21"`
				PBRatio      float64 `json:"f23"`
			} `json:"diff"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		r.log.Warn("Quote prefetch parse failed", logger.ErrorField(err))
		return 0
	}

	count := 0
	for _, row := range payload.Data.Diff {
		if row.Code == "" {
			continue
		}
		// Same scaled-integer convention as the single-quote endpoint.
		quote := dto.RealtimeQuote{
			Code:         utils.NormalizeStockCode(row.Code),
			Name:         row.Name,
			Price:        row.Price / 100,
			ChangePct:    row.ChangePct / 100,
			VolumeRatio:  row.VolumeRatio / 100,
			TurnoverRate: row.TurnoverRate / 100,
			PERatio:      row.PERatio / 100,
			PBRatio:      row.PBRatio / 100,
			TotalMV:      row.TotalMV,
			CircMV:       row.CircMV,
			Source:       marketDataSource,
		}
		r.quoteCache.SetDefault(quote.Code, quote)
		count++
	}

	r.log.Info("Realtime quotes prefetched",
		logger.IntField("requested", len(codes)),
		logger.IntField("cached", count),
	)
	return count
}

func (r *marketDataRepository) sendRequest(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if r.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", r.cfg.UserAgent)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream returned HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
