package types

type ExchangeName string

const (
	ExchangeDummy = ExchangeName("dummy") // in-memory exchange, tests only
	ExchangeBns   = ExchangeName("bns")   // binance spot
)
