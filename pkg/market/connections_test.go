package market

import (
	"reflect"
	"testing"

	"smartroute/pkg/types"
)

func testMarkets() []*Market {
	return []*Market{
		New(types.ExchangeDummy, "ETHBTC", "ETH", "BTC"),
		New(types.ExchangeDummy, "ETHUSDT", "ETH", "USDT"),
		New(types.ExchangeDummy, "ETHBNB", "ETH", "BNB"),
		New(types.ExchangeDummy, "ADABTC", "ADA", "BTC"),
		New(types.ExchangeDummy, "ADAUSDT", "ADA", "USDT"),
		New(types.ExchangeDummy, "ADAETH", "ADA", "ETH"),
		New(types.ExchangeDummy, "BTCUSDT", "BTC", "USDT"),
	}
}

func TestConnectionsBridges(t *testing.T) {
	c := NewConnections(testMarkets())

	tests := []struct {
		name      string
		sell, buy string
		preferred []string
		want      []string
	}{
		{"alphabetical", "ETH", "ADA", nil, []string{"BTC", "USDT"}},
		{"preferred first", "eth", "ada", []string{"USDT", "BNB"}, []string{"USDT", "BTC"}},
		{"single shared quote", "BTC", "ADA", nil, []string{"USDT"}},
		{"unknown asset", "XRP", "ADA", nil, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Bridges(tt.sell, tt.buy, tt.preferred...)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Bridges(%v, %v) = %v, want %v", tt.sell, tt.buy, got, tt.want)
			}
		})
	}
}

func TestConnectionsSkipsHaltedMarkets(t *testing.T) {
	markets := testMarkets()
	markets[0].Trading = false // ETHBTC
	c := NewConnections(markets)

	if got := c.Quotes("ETH"); !reflect.DeepEqual(got, []string{"BNB", "USDT"}) {
		t.Errorf("Quotes(ETH) = %v", got)
	}
	if got := c.BaseAssets; !reflect.DeepEqual(got, []string{"BNB", "BTC", "ETH", "USDT"}) {
		t.Errorf("BaseAssets = %v", got)
	}
}
