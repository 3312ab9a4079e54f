package service

import (
	"fmt"

	"astock-insight/internal/analyzer/dto"
	"astock-insight/internal/entity"
	"astock-insight/pkg/logger"
)

// Trend status labels.
const (
	TrendBullish = "多头排列"
	TrendBearish = "空头排列"
	TrendRanging = "震荡整理"
)

// Buy signal labels.
const (
	SignalWatch = "积极关注"
	SignalHold  = "观望"
	SignalAvoid = "回避"
)

// TrendAnalyzer derives a moving-average trend readout from daily bars.
type TrendAnalyzer struct {
	logger *logger.Logger
}

func NewTrendAnalyzer(log *logger.Logger) *TrendAnalyzer {
	return &TrendAnalyzer{logger: log}
}

// Analyze computes MA alignment, bias and volume state over chronologically
// ordered bars. Requires at least 20 bars for the MA20 baseline.
func (a *TrendAnalyzer) Analyze(rows []entity.DailyPrice, code string) (*dto.TrendAnalysis, error) {
	if len(rows) < 20 {
		return nil, fmt.Errorf("insufficient history for trend analysis: %d rows", len(rows))
	}

	ma5 := movingAverage(rows, 5)
	ma10 := movingAverage(rows, 10)
	ma20 := movingAverage(rows, 20)

	last := rows[len(rows)-1]
	price := last.Close

	trend := &dto.TrendAnalysis{
		MA5:      ma5,
		MA10:     ma10,
		MA20:     ma20,
		BiasMA5:  bias(price, ma5),
		BiasMA10: bias(price, ma10),
	}

	switch {
	case ma5 > ma10 && ma10 > ma20 && price > ma5:
		trend.TrendStatus = TrendBullish
		trend.MAAlignment = true
	case ma5 < ma10 && ma10 < ma20 && price < ma5:
		trend.TrendStatus = TrendBearish
	default:
		trend.TrendStatus = TrendRanging
	}

	trend.VolumeStatus = volumeStatus(rows)

	score := 0
	var reasons, risks []string

	if trend.MAAlignment {
		score += 30
		reasons = append(reasons, "均线多头排列，趋势向上")
	}
	if price > ma20 {
		score += 15
		reasons = append(reasons, "股价站上20日均线")
	}
	if trend.VolumeStatus == VolumeExpanding && last.ChangePct > 0 {
		score += 20
		reasons = append(reasons, "放量上攻，量价配合")
	}
	if trend.BiasMA5 >= -3 && trend.BiasMA5 <= 5 {
		score += 15
		reasons = append(reasons, "5日乖离率处于健康区间")
	}
	if last.ChangePct > 0 {
		score += 20
		reasons = append(reasons, "短线动能为正")
	}

	if trend.BiasMA5 > 10 {
		risks = append(risks, "短线乖离过大，谨防回调")
	}
	if trend.VolumeStatus == VolumeShrinking && price < ma5 {
		risks = append(risks, "缩量回落，下方承接不足")
	}
	if trend.TrendStatus == TrendBearish {
		risks = append(risks, "均线空头排列，趋势偏弱")
	}

	trend.SignalScore = score
	trend.SignalReasons = reasons
	trend.RiskFactors = risks

	switch {
	case score >= 70:
		trend.BuySignal = SignalWatch
	case score >= 40:
		trend.BuySignal = SignalHold
	default:
		trend.BuySignal = SignalAvoid
	}

	a.logger.Debug("Trend analyzed",
		logger.StringField("code", code),
		logger.StringField("trend", trend.TrendStatus),
		logger.StringField("signal", trend.BuySignal),
		logger.IntField("score", score),
	)
	return trend, nil
}

// Volume status labels.
const (
	VolumeExpanding = "放量"
	VolumeShrinking = "缩量"
	VolumeSteady    = "量能平稳"
)

// volumeStatus compares the last 5 days' average volume against the prior 5.
func volumeStatus(rows []entity.DailyPrice) string {
	if len(rows) < 10 {
		return VolumeSteady
	}

	recent := avgVolume(rows[len(rows)-5:])
	prior := avgVolume(rows[len(rows)-10 : len(rows)-5])
	if prior == 0 {
		return VolumeSteady
	}

	ratio := recent / prior
	switch {
	case ratio >= 1.5:
		return VolumeExpanding
	case ratio <= 0.7:
		return VolumeShrinking
	default:
		return VolumeSteady
	}
}

func movingAverage(rows []entity.DailyPrice, n int) float64 {
	sum := 0.0
	for _, row := range rows[len(rows)-n:] {
		sum += row.Close
	}
	return sum / float64(n)
}

func avgVolume(rows []entity.DailyPrice) float64 {
	sum := 0.0
	for _, row := range rows {
		sum += row.Volume
	}
	return sum / float64(len(rows))
}

func bias(price, ma float64) float64 {
	if ma == 0 {
		return 0
	}
	return (price - ma) / ma * 100
}
