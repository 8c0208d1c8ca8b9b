package main

import (
	"context"
	"fmt"
	"os"

	"github.com/skalibog/quantbot/internal/exchange"
	"github.com/skalibog/quantbot/internal/ui"
	"github.com/spf13/cobra"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Показать балансы спотового аккаунта",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := exchange.NewBinanceClient(cfg.Binance)
		if err != nil {
			return fmt.Errorf("ошибка инициализации клиента биржи: %w", err)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Binance.Timeout()*2)
		defer cancel()

		acc, err := client.Account(ctx, cfg.Binance.Credentials())
		if err != nil {
			return err
		}
		ui.NewConsole(os.Stdout).Account(acc)
		return nil
	},
}
