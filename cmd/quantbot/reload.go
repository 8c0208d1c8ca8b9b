package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/skalibog/quantbot/internal/agent"
	"github.com/skalibog/quantbot/internal/config"
	"github.com/skalibog/quantbot/pkg/logger"
	"go.uber.org/zap"
)

// watchReload перечитывает настройки сигнала по SIGHUP. Новые настройки действуют со следующего тика.
func watchReload(ctx context.Context, path string, handle *agent.ConfigHandle) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if err := reloadSignalConfig(path, handle); err != nil {
					logger.Error("Не удалось перечитать конфигурацию", zap.String("path", path), zap.Error(err))
				}
			}
		}
	}()

	return func() {
		signal.Stop(hup)
		cancel()
		<-done
	}
}

// reloadSignalConfig загружает файл заново и подменяет настройки сигнала.
// При ошибке текущие настройки остаются.
func reloadSignalConfig(path string, handle *agent.ConfigHandle) error {
	loaded, err := config.Load(path)
	if err != nil {
		return err
	}
	handle.Store(loaded.Signal)
	logger.Info("Настройки сигнала обновлены", zap.String("path", path),
		zap.Bool("invert_logic", loaded.Signal.InvertLogic), zap.Float64("risk_tolerance", loaded.Signal.RiskTolerance))
	return nil
}
