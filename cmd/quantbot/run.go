package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skalibog/quantbot/internal/agent"
	"github.com/skalibog/quantbot/internal/analysis/orderbook"
	"github.com/skalibog/quantbot/internal/exchange"
	"github.com/skalibog/quantbot/internal/metrics"
	"github.com/skalibog/quantbot/internal/storage"
	"github.com/skalibog/quantbot/internal/ui"
	"github.com/skalibog/quantbot/pkg/logger"
	"github.com/skalibog/quantbot/pkg/models"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	runLive      bool
	runNoStreams bool
)

// imbalanceThreshold порог дисбаланса стакана в сводке, проценты
const imbalanceThreshold = 10

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Запустить автономный цикл до SIGINT/SIGTERM",
	RunE:  runAgent,
}

func init() {
	runCmd.Flags().BoolVar(&runLive, "live", false, "отправлять ордера по решениям (перекрывает trading.live)")
	runCmd.Flags().BoolVar(&runNoStreams, "no-streams", false, "не подписываться на тикер и стакан")
}

func runAgent(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("live") {
		cfg.Trading.Live = runLive
	}
	if cfg.Trading.Live && cfg.Binance.Credentials().Empty() {
		return exchange.ErrMissingCredentials
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	console := ui.NewConsole(os.Stdout)
	console.Title(fmt.Sprintf("quantbot %s %s", cfg.Trading.Symbol, cfg.Trading.Interval))

	client, err := exchange.NewBinanceClient(cfg.Binance)
	if err != nil {
		return fmt.Errorf("ошибка инициализации клиента биржи: %w", err)
	}
	if err := client.SyncTime(ctx); err != nil {
		logger.Warn("Не удалось синхронизировать время с биржей", zap.Error(err))
	}

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("ошибка инициализации хранилища: %w", err)
	}
	defer store.Close()

	unsubscribe := store.Subscribe(func(d models.Decision) {
		logger.Debug("Решение записано", zap.String("id", d.ID), zap.String("decision", string(d.Decision)))
	})
	defer unsubscribe()

	rec := metrics.New()
	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr, rec)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	ticker := &exchange.TickerCache{}
	depth := &exchange.DepthCache{}
	if !runNoStreams {
		closeStreams := subscribeStreams(ctx, client, ticker, depth)
		defer closeStreams()
	}

	signalCfg := agent.NewConfigHandle(cfg.Signal)
	stopReload := watchReload(ctx, loadedPath, signalCfg)
	defer stopReload()

	binanceCfg := cfg.Binance
	loop, err := agent.NewLoop(cfg.Trading, cfg.Agent, agent.Deps{
		Market:  client,
		Orders:  client,
		Store:   store,
		Config:  signalCfg,
		Metrics: rec,
		Price:   ticker.Price,
		// Ключи читаются на каждый вызов и нигде не сохраняются
		Credentials: binanceCfg.Credentials,
	})
	if err != nil {
		return err
	}

	analyzer := orderbook.NewAnalyzer(imbalanceThreshold)
	loop.OnTick(func(r agent.TickReport) {
		console.Tick(r)
		if snap, ok := depth.Latest(); ok {
			console.Depth(cfg.Trading.Symbol, analyzer.Summarize(snap))
		}
	})

	loop.Start(ctx)
	<-ctx.Done()

	logger.Info("Завершение работы...")
	loop.Stop()
	loop.Wait()

	stats := loop.Stats()
	logger.Info("Итоги работы",
		zap.Int64("ticks", stats.Ticks), zap.Int64("skipped", stats.Skipped), zap.Int64("failed", stats.Failed),
		zap.Int64("decisions", stats.Decisions), zap.Int64("orders", stats.Orders),
		zap.Int64("order_failures", stats.OrderFailures))
	return nil
}

func subscribeStreams(ctx context.Context, client *exchange.BinanceClient, ticker *exchange.TickerCache, depth *exchange.DepthCache) func() {
	var subs []*exchange.Subscription

	if sub, err := client.SubscribeTicker(ctx, cfg.Trading.Symbol, ticker.Update); err != nil {
		logger.Warn("Подписка на тикер не удалась", zap.Error(err))
	} else {
		subs = append(subs, sub)
	}
	if sub, err := client.SubscribeDepth(ctx, cfg.Trading.Symbol, depth.Update); err != nil {
		logger.Warn("Подписка на стакан не удалась", zap.Error(err))
	} else {
		subs = append(subs, sub)
	}

	return func() {
		for _, s := range subs {
			_ = s.Close()
		}
	}
}

func serveMetrics(addr string, rec *metrics.Recorder) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", rec.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("Метрики доступны", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Сервер метрик остановлен", zap.Error(err))
		}
	}()
	return srv
}
