package common

const (
	RedisStreamStockAnalysis = "stock.analysis.request"

	RedisStreamGroup    = "analyzer-group"
	RedisStreamConsumer = "analyzer-consumer"
)
