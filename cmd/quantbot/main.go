package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/skalibog/quantbot/internal/config"
	"github.com/skalibog/quantbot/pkg/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	// loadedPath файл, из которого фактически загружена конфигурация; пустой для значений по умолчанию
	loadedPath string
	cfg        *config.Config
)

// rootCmd базовая команда quantbot
var rootCmd = &cobra.Command{
	Use:   "quantbot",
	Short: "Автономный агент торговых сигналов для спотового Binance",
	Long: `quantbot по таймеру получает свечи, считает RSI, волатильность и всплески объема,
принимает решение LONG/SHORT/HOLD, сохраняет его и в боевом режиме отправляет рыночный ордер.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		// Файл по умолчанию необязателен
		if !cmd.Flags().Changed("config") {
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				path = ""
			}
		}

		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		if err := logger.Configure(loaded.Log.Options()); err != nil {
			return fmt.Errorf("ошибка настройки логгера: %w", err)
		}
		cfg, loadedPath = loaded, path
		logger.Info("Конфигурация загружена", zap.String("path", path),
			zap.String("symbol", cfg.Trading.Symbol), zap.String("interval", cfg.Trading.Interval))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "путь к файлу конфигурации")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(accountCmd)
	rootCmd.AddCommand(orderCmd)
}

func main() {
	logger.Init()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		logger.Sync()
		os.Exit(1)
	}
}
