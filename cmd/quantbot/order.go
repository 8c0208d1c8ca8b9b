package main

import (
	"context"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/skalibog/quantbot/internal/exchange"
	"github.com/skalibog/quantbot/internal/ui"
	"github.com/skalibog/quantbot/pkg/logger"
	"github.com/skalibog/quantbot/pkg/models"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	orderSide   string
	orderQty    string
	orderPrice  string
	orderSymbol string
)

var orderCmd = &cobra.Command{
	Use:   "order",
	Short: "Разместить ордер вручную",
	Long: `Размещает MARKET ордер, а при заданной цене LIMIT GTC.

Примеры:
  quantbot order --side BUY --qty 0.001
  quantbot order --side SELL --qty 0.001 --price 65000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := buildOrderRequest()
		if err != nil {
			return err
		}

		client, err := exchange.NewBinanceClient(cfg.Binance)
		if err != nil {
			return fmt.Errorf("ошибка инициализации клиента биржи: %w", err)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Binance.Timeout()*2)
		defer cancel()

		res, err := client.PlaceOrder(ctx, cfg.Binance.Credentials(), req)
		if err != nil {
			logger.Error("Ордер не размещен", zap.String("symbol", req.Symbol),
				zap.String("side", string(req.Side)), zap.String("quantity", req.Quantity.String()), zap.Error(err))
			return err
		}
		logger.Info("Ордер размещен", zap.String("symbol", req.Symbol), zap.String("side", string(req.Side)),
			zap.String("order_id", res.OrderID), zap.String("status", res.RawStatus))
		ui.NewConsole(os.Stdout).Order(req, res)
		return nil
	},
}

func init() {
	orderCmd.Flags().StringVar(&orderSide, "side", "", "BUY или SELL")
	orderCmd.Flags().StringVar(&orderQty, "qty", "", "количество базового актива")
	orderCmd.Flags().StringVar(&orderPrice, "price", "", "цена; без цены ордер рыночный")
	orderCmd.Flags().StringVar(&orderSymbol, "symbol", "", "символ, по умолчанию trading.symbol")
	_ = orderCmd.MarkFlagRequired("side")
	_ = orderCmd.MarkFlagRequired("qty")
}

func buildOrderRequest() (models.OrderRequest, error) {
	symbol := orderSymbol
	if symbol == "" {
		symbol = cfg.Trading.Symbol
	}

	side := models.Side(orderSide)
	if side != models.Buy && side != models.Sell {
		return models.OrderRequest{}, fmt.Errorf("неизвестная сторона %q: ожидается BUY или SELL", orderSide)
	}

	qty, err := decimal.NewFromString(orderQty)
	if err != nil {
		return models.OrderRequest{}, fmt.Errorf("некорректное количество %q: %w", orderQty, err)
	}

	req := models.OrderRequest{Symbol: symbol, Side: side, Quantity: qty}
	if orderPrice != "" {
		price, err := decimal.NewFromString(orderPrice)
		if err != nil {
			return models.OrderRequest{}, fmt.Errorf("некорректная цена %q: %w", orderPrice, err)
		}
		req.Price = &price
	}
	return req, nil
}
