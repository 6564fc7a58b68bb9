package bns

type bnsConfig struct {
	ApiUrl     string
	WsUrl      string
	DepthLimit int
}

type bnsMarketFilter struct {
	symbol      string
	baseAsset   string
	quoteAsset  string
	trading     bool
	tickSize    string
	minNotional string
	lotMinQty   string
	lotMaxQty   string
	lotStepSize string
}

// ╔══════════════╗
//     Ws Event
// ╚══════════════╝

// partial book depth stream payload (<symbol>@depth<levels>@100ms)
type wsPartialDepthEvent struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// trade stream payload (<symbol>@trade)
type wsTradeEvent struct {
	Event     string `json:"e"`
	Time      int64  `json:"E"`
	Symbol    string `json:"s"`
	TradeID   int64  `json:"t"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"`
}
