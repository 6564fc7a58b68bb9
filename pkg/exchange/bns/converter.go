package bns

import (
	"fmt"

	"smartroute/pkg/types"

	"github.com/adshao/go-binance/v2"
)

func convertOrderSide(side types.OrderSide) (binance.SideType, error) {
	switch side {
	case types.OrderSideBuy:
		return binance.SideTypeBuy, nil
	case types.OrderSideSell:
		return binance.SideTypeSell, nil
	default:
		return "", fmt.Errorf("unknown order side: %s", side)
	}
}
