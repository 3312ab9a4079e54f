package dto

// RealtimeQuote is a realtime market snapshot for one stock. Fields missing
// from a given upstream source stay at their zero value.
type RealtimeQuote struct {
	Code         string  `json:"code"`
	Name         string  `json:"name"`
	Price        float64 `json:"price"`
	ChangePct    float64 `json:"change_pct"`
	VolumeRatio  float64 `json:"volume_ratio"`
	TurnoverRate float64 `json:"turnover_rate"`
	PERatio      float64 `json:"pe_ratio"`
	PBRatio      float64 `json:"pb_ratio"`
	TotalMV      float64 `json:"total_mv"`
	CircMV       float64 `json:"circ_mv"`
	Change60D    float64 `json:"change_60d"`
	Source       string  `json:"source"`
}

// ChipDistribution summarizes the ownership-cost histogram of one stock.
type ChipDistribution struct {
	Code            string  `json:"code"`
	ProfitRatio     float64 `json:"profit_ratio"`
	AvgCost         float64 `json:"avg_cost"`
	Concentration90 float64 `json:"concentration_90"`
	Concentration70 float64 `json:"concentration_70"`
}

// ChipStatus describes the holder profit situation relative to price.
func (c *ChipDistribution) ChipStatus(currentPrice float64) string {
	switch {
	case c.ProfitRatio >= 0.9:
		return "高位获利，警惕抛压"
	case c.ProfitRatio >= 0.6:
		return "多数获利，持股意愿较强"
	case c.ProfitRatio >= 0.3:
		return "获利盘与套牢盘交织"
	case currentPrice > 0 && currentPrice < c.AvgCost:
		return "股价低于平均成本，套牢盘较重"
	default:
		return "大面积套牢，反弹有解套抛压"
	}
}
