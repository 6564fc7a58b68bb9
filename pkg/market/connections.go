package market

import (
	"sort"
	"strings"
)

// Connections indexes which quote assets each traded asset can be sold into.
// It is built once from the exchange market list and read-only afterwards.
type Connections struct {
	TradeAssets map[string][]string `json:"tradeCoins"` // base -> quotes
	BaseAssets  []string            `json:"baseCoins"`  // every quote asset seen
}

// NewConnections builds the index from tradable markets. Quotes per asset are
// sorted so bridge discovery is deterministic.
func NewConnections(markets []*Market) *Connections {
	trade := make(map[string][]string)
	quotes := make(map[string]struct{})
	for _, m := range markets {
		if m == nil || !m.Trading || m.BaseAsset == "" || m.QuoteAsset == "" {
			continue
		}
		base := strings.ToUpper(m.BaseAsset)
		quote := strings.ToUpper(m.QuoteAsset)
		trade[base] = append(trade[base], quote)
		quotes[quote] = struct{}{}
	}
	for base := range trade {
		sort.Strings(trade[base])
	}
	baseAssets := make([]string, 0, len(quotes))
	for q := range quotes {
		baseAssets = append(baseAssets, q)
	}
	sort.Strings(baseAssets)
	return &Connections{TradeAssets: trade, BaseAssets: baseAssets}
}

// Bridges returns the quote assets both sell and buy trade against, in the given
// preference order first and then alphabetically. Preferred entries without a
// shared market are dropped.
func (c *Connections) Bridges(sell, buy string, preferred ...string) []string {
	sell, buy = strings.ToUpper(sell), strings.ToUpper(buy)
	buyQuotes := make(map[string]struct{})
	for _, q := range c.TradeAssets[buy] {
		buyQuotes[q] = struct{}{}
	}
	shared := make(map[string]struct{})
	for _, q := range c.TradeAssets[sell] {
		if _, ok := buyQuotes[q]; ok && q != sell && q != buy {
			shared[q] = struct{}{}
		}
	}

	out := make([]string, 0, len(shared))
	for _, p := range preferred {
		p = strings.ToUpper(p)
		if _, ok := shared[p]; ok {
			out = append(out, p)
			delete(shared, p)
		}
	}
	rest := make([]string, 0, len(shared))
	for q := range shared {
		rest = append(rest, q)
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// Quotes returns the quote assets an asset trades against.
func (c *Connections) Quotes(asset string) []string {
	return c.TradeAssets[strings.ToUpper(asset)]
}
