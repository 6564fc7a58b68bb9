package core

import (
	"errors"
	"strings"

	"smartroute/pkg/exchange"
	"smartroute/pkg/market"
	"smartroute/pkg/route"
	"smartroute/pkg/session"
	"smartroute/pkg/trade"
	"smartroute/pkg/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

var schemas = map[string]func() (interface{}, error){
	"bestRoute":    utils.GenerateSchema[route.BestRoute],
	"tradeRequest": utils.GenerateSchema[trade.Request],
	"tradeReport":  utils.GenerateSchema[trade.Report],
	"event":        utils.GenerateSchema[session.Event],
	"connections":  utils.GenerateSchema[market.Connections],
}

func SetupFiberApp(u *Universe) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "smartroute",
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return ok(c, fiber.Map{"exchanges": u.ExchangeIds(), "routing": u.routingId})
	})

	app.Get("/markets/:exchange", func(c *fiber.Ctx) error {
		id := c.Params("exchange")
		exch, found := u.Exchanges[id]
		if !found {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "error": "unknown exchange " + id})
		}
		if exch == u.RoutingExchange() && u.Connections() != nil {
			return ok(c, u.Connections())
		}
		return ok(c, market.NewConnections(exch.Markets()))
	})

	// last prices of the sell, buy and bridge markets of one route
	app.Get("/coins/prices", func(c *fiber.Ctx) error {
		sell, buy, bridge := upperQuery(c, "sell"), upperQuery(c, "buy"), upperQuery(c, "bridge")
		if sell == "" || buy == "" || bridge == "" {
			return fail(c, fiber.StatusBadRequest, errors.New("sell, buy and bridge are required"))
		}
		symbols := []string{market.Symbol(sell, bridge), market.Symbol(buy, bridge)}
		if fiat := u.Router().FiatAsset(); bridge != fiat {
			symbols = append(symbols, market.Symbol(bridge, fiat))
		}
		prices, err := u.RoutingExchange().FetchPrices(c.Context(), symbols...)
		if err != nil {
			return failFor(c, err)
		}
		return ok(c, prices)
	})

	app.Get("/coins/minsteps", func(c *fiber.Ctx) error {
		sellMarket, buyMarket := upperQuery(c, "sellMarket"), upperQuery(c, "buyMarket")
		if sellMarket == "" || buyMarket == "" {
			return fail(c, fiber.StatusBadRequest, errors.New("sellMarket and buyMarket are required"))
		}
		steps, err := u.RoutingExchange().FetchMinSteps(c.Context(), sellMarket, buyMarket)
		if err != nil {
			return failFor(c, err)
		}
		return ok(c, fiber.Map{sellMarket: steps.A, buyMarket: steps.B})
	})

	app.Get("/balance/:coin", func(c *fiber.Ctx) error {
		coin := strings.ToUpper(c.Params("coin"))
		balance, err := u.RoutingExchange().FetchBalance(c.Context(), coin)
		if err != nil {
			return failFor(c, err)
		}
		return ok(c, fiber.Map{"asset": coin, "free": balance})
	})

	app.Get("/routes/best", func(c *fiber.Ctx) error {
		size, err := decimal.NewFromString(c.Query("size"))
		if err != nil {
			return fail(c, fiber.StatusBadRequest, errors.New("size must be a decimal number"))
		}
		q := route.Query{SellAsset: c.Query("sell"), BuyAsset: c.Query("buy"), Size: size}
		if bridges := c.Query("bridges"); bridges != "" {
			q.Bridges = strings.Split(bridges, ",")
		}
		best, err := u.Router().BestRoute(c.Context(), q)
		if err != nil {
			return failFor(c, err)
		}
		return ok(c, best)
	})

	app.Post("/trade", func(c *fiber.Ctx) error {
		var req trade.Request
		if err := c.BodyParser(&req); err != nil {
			return fail(c, fiber.StatusBadRequest, err)
		}
		report, err := u.Executor().Execute(c.Context(), req)
		if errors.Is(err, trade.ErrPartialExecution) {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"success": false, "error": err.Error(), "data": report})
		}
		if err != nil {
			return failFor(c, err)
		}
		return ok(c, report)
	})

	app.Get("/schema/:name", func(c *fiber.Ctx) error {
		gen, found := schemas[c.Params("name")]
		if !found {
			return fail(c, fiber.StatusNotFound, errors.New("unknown schema "+c.Params("name")))
		}
		schema, err := gen()
		if err != nil {
			return fail(c, fiber.StatusInternalServerError, err)
		}
		return c.JSON(schema)
	})

	return app
}

func ShutdownFiberApp(app *fiber.App) {
	_ = app.Shutdown()
}

func upperQuery(c *fiber.Ctx, key string) string {
	return strings.ToUpper(strings.TrimSpace(c.Query(key)))
}

func ok(c *fiber.Ctx, data interface{}) error {
	return c.JSON(fiber.Map{"success": true, "data": data})
}

func fail(c *fiber.Ctx, status int, err error) error {
	return c.Status(status).JSON(fiber.Map{"success": false, "error": err.Error()})
}

func failFor(c *fiber.Ctx, err error) error {
	return fail(c, statusOf(err), err)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, route.ErrInvalidQuery), errors.Is(err, trade.ErrInvalidRequest):
		return fiber.StatusBadRequest
	case errors.Is(err, route.ErrNoRoute), errors.Is(err, exchange.ErrUnknownMarket):
		return fiber.StatusNotFound
	default:
		return fiber.StatusInternalServerError
	}
}
