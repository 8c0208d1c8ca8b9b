package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/skalibog/quantbot/internal/analysis/signal"
	"github.com/skalibog/quantbot/internal/config"
	"github.com/skalibog/quantbot/internal/metrics"
	"github.com/skalibog/quantbot/internal/storage"
	"github.com/skalibog/quantbot/pkg/logger"
	"github.com/skalibog/quantbot/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var testCreds = models.Credentials{APIKey: "key-value", APISecret: "secret-value"}

func series(n int) []models.Candle {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Candle, n)
	for i := range out {
		price := 100 + float64(i)
		out[i] = models.Candle{
			Symbol:    "BTCUSDT",
			Interval:  "1m",
			OpenTime:  base.Add(time.Duration(i) * time.Minute),
			Open:      price - 0.5,
			High:      price + 1,
			Low:       price - 1,
			Close:     price,
			Volume:    1000,
			CloseTime: base.Add(time.Duration(i+1)*time.Minute - time.Millisecond),
		}
	}
	return out
}

func decisionOf(action models.Action) models.Decision {
	return models.Decision{
		Symbol:     "BTCUSDT",
		Timestamp:  time.Date(2026, 1, 1, 0, 20, 0, 0, time.UTC),
		Input:      models.InputPattern{RSI: 55, Volatility: 1, Price: 119},
		Decision:   action,
		Score:      25,
		Strategy:   signal.StrategyStandard,
		Confidence: 0.5,
	}
}

type harness struct {
	loop   *Loop
	clock  *fakeClock
	market *fakeMarket
	engine *fakeEngine
	store  *storage.MemoryStore
	orders *fakeOrders
}

type option func(*config.TradingConfig, *Deps)

func live() option {
	return func(tc *config.TradingConfig, d *Deps) {
		tc.Live = true
		d.Credentials = func() models.Credentials { return testCreds }
	}
}

func realEngine() option {
	return func(_ *config.TradingConfig, d *Deps) { d.Engine = nil }
}

func newHarness(t *testing.T, action models.Action, opts ...option) *harness {
	t.Helper()
	h := &harness{
		clock:  newFakeClock(),
		market: &fakeMarket{fetch: func(context.Context, int) ([]models.Candle, error) { return series(20), nil }},
		engine: &fakeEngine{evaluate: func([]models.Candle, models.SignalConfig) (models.Decision, error) {
			return decisionOf(action), nil
		}},
		store:  storage.NewMemoryStore(),
		orders: &fakeOrders{},
	}
	trading := config.TradingConfig{
		Symbol:        "BTCUSDT",
		Interval:      "1m",
		CandleLimit:   50,
		OrderQuantity: "0.001",
		StrategyLabel: "AUTONOMOUS",
	}
	deps := Deps{
		Market:  h.market,
		Orders:  h.orders,
		Engine:  h.engine,
		Store:   h.store,
		Config:  NewConfigHandle(models.DefaultSignalConfig()),
		Metrics: metrics.New(),
		Clock:   h.clock,
	}
	for _, o := range opts {
		o(&trading, &deps)
	}

	loop, err := NewLoop(trading, config.AgentConfig{IntervalSeconds: 10, TickTimeoutSeconds: 5, HistoryLimit: 10}, deps)
	require.NoError(t, err)
	h.loop = loop
	t.Cleanup(func() {
		loop.Stop()
		loop.Wait()
	})
	return h
}

func observeLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	t.Cleanup(logger.Replace(zap.New(core)))
	return logs
}

func TestStartRunsFirstTickAndIgnoresSecondStart(t *testing.T) {
	h := newHarness(t, models.Hold)
	ctx := context.Background()

	h.loop.Start(ctx)
	assert.Equal(t, 1, h.market.Calls(), "первый тик выполняется сразу")
	assert.True(t, h.loop.Running())

	h.loop.Start(ctx)
	assert.Equal(t, 1, h.market.Calls(), "повторный Start ничего не делает")
	<-h.clock.created
	assert.Len(t, h.clock.created, 0, "создан один тикер")

	h.loop.Stop()
	assert.False(t, h.loop.Running())
	assert.True(t, h.clock.tickers[0].stopped.Load())

	h.loop.Start(ctx)
	assert.Equal(t, 2, h.market.Calls(), "после Stop цикл можно взвести снова")
}

func TestTickerFiresTicks(t *testing.T) {
	h := newHarness(t, models.Hold)
	h.loop.Start(context.Background())
	<-h.clock.created

	h.clock.Fire()
	require.Eventually(t, func() bool { return h.market.Calls() == 2 }, 2*time.Second, 5*time.Millisecond)
	h.clock.Fire()
	require.Eventually(t, func() bool { return h.market.Calls() == 3 }, 2*time.Second, 5*time.Millisecond)

	h.loop.Stop()
	h.loop.Wait()
	assert.Equal(t, int64(3), h.loop.Stats().Ticks)
}

func TestOverlappingTickSkipped(t *testing.T) {
	logs := observeLogs(t)
	h := newHarness(t, models.Hold)

	// Первый тик Start проходит сразу, второй (первый по таймеру) зависает на бирже
	entered, release := make(chan struct{}), make(chan struct{})
	h.market.fetch = func(_ context.Context, call int) ([]models.Candle, error) {
		if call == 2 {
			close(entered)
			<-release
		}
		return series(20), nil
	}

	h.loop.Start(context.Background())
	<-h.clock.created

	h.clock.Fire()
	<-entered

	h.clock.Fire()
	require.Eventually(t, func() bool { return h.loop.Stats().Skipped == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, h.market.Calls(), "пропущенный тик не ходит на биржу")
	assert.Equal(t, 1, logs.FilterMessage("Тик пропущен: предыдущий еще выполняется").Len())

	close(release)
	require.Eventually(t, func() bool { return !h.loop.busy.Load() }, 2*time.Second, 5*time.Millisecond)

	h.clock.Fire()
	require.Eventually(t, func() bool { return h.market.Calls() == 3 }, 2*time.Second, 5*time.Millisecond)
	h.loop.Stop()
	h.loop.Wait()
	assert.Equal(t, int64(1), h.loop.Stats().Skipped, "флаг занятости снят")
}

func TestConfigChangeAppliesOnNextTick(t *testing.T) {
	h := newHarness(t, models.Hold)
	h.loop.Start(context.Background())
	<-h.clock.created

	h.loop.Config().Update(func(c *models.SignalConfig) {
		c.InvertLogic = true
		c.RiskTolerance = 90
	})
	h.clock.Fire()
	require.Eventually(t, func() bool { return len(h.engine.Configs()) == 2 }, 2*time.Second, 5*time.Millisecond)

	cfgs := h.engine.Configs()
	assert.False(t, cfgs[0].InvertLogic)
	assert.Equal(t, 50.0, cfgs[0].RiskTolerance)
	assert.True(t, cfgs[1].InvertLogic)
	assert.Equal(t, 90.0, cfgs[1].RiskTolerance)
}

func TestInsufficientDataSkipsWithoutInsert(t *testing.T) {
	for _, n := range []int{0, 5} {
		t.Run(fmt.Sprintf("%d свечей", n), func(t *testing.T) {
			logs := observeLogs(t)
			h := newHarness(t, models.Long, realEngine())
			h.market.fetch = func(context.Context, int) ([]models.Candle, error) { return series(n), nil }

			var report TickReport
			h.loop.OnTick(func(r TickReport) { report = r })
			h.loop.tick(context.Background())

			assert.Zero(t, h.store.Len())
			assert.Equal(t, metrics.TickInsufficient, report.Result)
			assert.ErrorIs(t, report.Err, signal.ErrInsufficientData)
			assert.Equal(t, 1, logs.FilterMessage("Тик пропущен: недостаточно данных").Len())
			assert.Zero(t, h.loop.Stats().Failed)
		})
	}
}

func TestMarketErrorDoesNotStopLoop(t *testing.T) {
	logs := observeLogs(t)
	h := newHarness(t, models.Long)
	h.market.fetch = func(_ context.Context, call int) ([]models.Candle, error) {
		if call == 1 {
			return nil, errors.New("ошибка рыночных данных: 502")
		}
		return series(20), nil
	}

	h.loop.Start(context.Background())
	<-h.clock.created
	assert.True(t, h.loop.Running())
	assert.Zero(t, h.store.Len())

	h.clock.Fire()
	require.Eventually(t, func() bool { return h.store.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	h.loop.Stop()
	h.loop.Wait()

	stats := h.loop.Stats()
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Decisions)

	skip := logs.FilterMessage("Тик пропущен: ошибка получения свечей").All()
	require.Len(t, skip, 1)
	assert.Equal(t, "BTCUSDT", skip[0].ContextMap()["symbol"])
}

func TestActionableDecisionPersistedWithID(t *testing.T) {
	h := newHarness(t, models.Short)
	var reports []TickReport
	h.loop.OnTick(func(r TickReport) { reports = append(reports, r) })

	h.loop.tick(context.Background())
	h.loop.tick(context.Background())

	recent, err := h.store.QueryRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	for _, d := range recent {
		_, err := uuid.Parse(d.ID)
		assert.NoError(t, err)
		assert.Equal(t, models.Short, d.Decision)
	}
	assert.NotEqual(t, recent[0].ID, recent[1].ID)

	require.Len(t, reports, 2)
	assert.Equal(t, metrics.TickOK, reports[0].Result)
	assert.Equal(t, 20, reports[0].Candles)
	assert.InDelta(t, 109.5, reports[0].SMA, 1e-9)
}

func TestDecisionStampedWithTickTime(t *testing.T) {
	h := newHarness(t, models.Long)
	start := h.clock.Now()

	h.loop.Start(context.Background())
	<-h.clock.created
	h.clock.Fire()
	require.Eventually(t, func() bool { return h.store.Len() == 2 }, 2*time.Second, 5*time.Millisecond)

	// Движок вернул одно и то же время свечи, в хранилище время каждого тика
	recent, err := h.store.QueryRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, start.Add(10*time.Second), recent[0].Timestamp)
	assert.Equal(t, start, recent[1].Timestamp)
}

func TestHoldIsNotPersisted(t *testing.T) {
	h := newHarness(t, models.Hold, live())
	h.loop.tick(context.Background())

	assert.Zero(t, h.store.Len())
	assert.Empty(t, h.orders.Requests())
	assert.Zero(t, h.loop.Stats().Decisions)
}

func TestPaperModePlacesNoOrders(t *testing.T) {
	h := newHarness(t, models.Long)
	h.loop.tick(context.Background())

	assert.Equal(t, 1, h.store.Len())
	assert.Empty(t, h.orders.Requests())
}

func TestLiveModePlacesOrder(t *testing.T) {
	logs := observeLogs(t)

	tests := []struct {
		action models.Action
		side   models.Side
	}{
		{models.Long, models.Buy},
		{models.Short, models.Sell},
	}
	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			h := newHarness(t, tt.action, live())
			h.loop.tick(context.Background())

			reqs := h.orders.Requests()
			require.Len(t, reqs, 1)
			assert.Equal(t, tt.side, reqs[0].Side)
			assert.Equal(t, "BTCUSDT", reqs[0].Symbol)
			assert.True(t, decimal.RequireFromString("0.001").Equal(reqs[0].Quantity))
			assert.Nil(t, reqs[0].Price, "исполняется рыночным ордером")
			assert.Equal(t, testCreds, h.orders.creds[0])
			assert.Equal(t, int64(1), h.loop.Stats().Orders)
		})
	}

	placed := logs.FilterMessage("Ордер размещен").All()
	require.Len(t, placed, 2)
	assert.Equal(t, "1001", placed[0].ContextMap()["order_id"])

	for _, entry := range logs.All() {
		for k, v := range entry.ContextMap() {
			assert.NotContains(t, fmt.Sprint(v), "secret-value", "секрет в поле %s", k)
		}
		assert.NotContains(t, entry.Message, "secret-value")
	}
}

func TestLiveOrderFailureLoggedOnce(t *testing.T) {
	logs := observeLogs(t)
	h := newHarness(t, models.Long, live())
	h.orders.err = errors.New("ордер BUY BTCUSDT отклонен: code=-2010")

	h.loop.tick(context.Background())

	failed := logs.FilterMessage("Ордер не размещен").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "LONG", failed[0].ContextMap()["decision"])
	assert.True(t, strings.Contains(fmt.Sprint(failed[0].ContextMap()["error"]), "-2010"))
	assert.Equal(t, int64(1), h.loop.Stats().OrderFailures)
	assert.Equal(t, 1, h.store.Len(), "решение сохранено до попытки ордера")
	assert.Len(t, h.orders.Requests(), 1, "отклоненный ордер не повторяется")
}

func TestPanicInTickIsRecovered(t *testing.T) {
	h := newHarness(t, models.Long)
	calls := 0
	h.engine.evaluate = func([]models.Candle, models.SignalConfig) (models.Decision, error) {
		calls++
		if calls == 1 {
			panic("сломанный индикатор")
		}
		return decisionOf(models.Long), nil
	}

	var report TickReport
	h.loop.OnTick(func(r TickReport) { report = r })

	assert.NotPanics(t, func() { h.loop.tick(context.Background()) })
	assert.Equal(t, metrics.TickPanic, report.Result)
	assert.Equal(t, int64(1), h.loop.Stats().Failed)

	h.loop.tick(context.Background())
	assert.Equal(t, 1, h.store.Len(), "следующий тик работает")
}

func TestTickTimeoutFailsTick(t *testing.T) {
	h := newHarness(t, models.Long)
	h.loop.tickTimeout = 20 * time.Millisecond
	h.market.fetch = func(ctx context.Context, _ int) ([]models.Candle, error) {
		<-ctx.Done()
		return nil, fmt.Errorf("ошибка получения свечей: %w", ctx.Err())
	}

	var report TickReport
	h.loop.OnTick(func(r TickReport) { report = r })

	start := time.Now()
	h.loop.tick(context.Background())
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, metrics.TickTimeout, report.Result)
	assert.Equal(t, int64(1), h.loop.Stats().Failed)
	assert.False(t, h.loop.busy.Load())
}

func TestStoreErrorSkipsOrder(t *testing.T) {
	h := newHarness(t, models.Long, live())
	ctx, cancel := context.WithCancel(context.Background())
	// Хранилище в памяти отвергает запись с отмененным контекстом
	h.market.fetch = func(context.Context, int) ([]models.Candle, error) {
		cancel()
		return series(20), nil
	}

	var report TickReport
	h.loop.OnTick(func(r TickReport) { report = r })
	h.loop.tick(ctx)

	assert.Equal(t, metrics.TickStoreError, report.Result)
	assert.Empty(t, h.orders.Requests())
}

func TestAccuracyUsesLivePrice(t *testing.T) {
	logs := observeLogs(t)
	h := newHarness(t, models.Long)
	h.loop.price = func() float64 { return 130 }

	past := decisionOf(models.Long)
	past.ID = "past-long"
	past.Input.Price = 120
	require.NoError(t, h.store.Insert(context.Background(), past))
	pastShort := decisionOf(models.Short)
	pastShort.ID = "past-short"
	pastShort.Input.Price = 120
	require.NoError(t, h.store.Insert(context.Background(), pastShort))

	h.loop.tick(context.Background())

	entries := logs.FilterMessage("Точность последних решений").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.EqualValues(t, 1, fields["hits"])
	assert.EqualValues(t, 2, fields["total"])
	assert.Equal(t, 0.5, fields["accuracy"])
	assert.Equal(t, 130.0, fields["price"])
}

func TestContextCancelDisarms(t *testing.T) {
	h := newHarness(t, models.Hold)
	ctx, cancel := context.WithCancel(context.Background())

	h.loop.Start(ctx)
	<-h.clock.created
	cancel()

	require.Eventually(t, func() bool { return !h.loop.Running() }, 2*time.Second, 5*time.Millisecond)
	h.loop.Stop()
}

func TestNewLoopValidation(t *testing.T) {
	base := config.TradingConfig{Symbol: "BTCUSDT", Interval: "1m", OrderQuantity: "0.001"}
	agentCfg := config.AgentConfig{IntervalSeconds: 10}
	deps := Deps{Market: &fakeMarket{}, Store: storage.NewMemoryStore(), Orders: &fakeOrders{}}

	_, err := NewLoop(base, agentCfg, deps)
	assert.NoError(t, err)

	_, err = NewLoop(base, config.AgentConfig{}, deps)
	assert.Error(t, err, "нулевой интервал")

	bad := base
	bad.Live, bad.OrderQuantity = true, "zero"
	_, err = NewLoop(bad, agentCfg, deps)
	assert.Error(t, err)

	noOrders := deps
	noOrders.Orders = nil
	liveCfg := base
	liveCfg.Live = true
	_, err = NewLoop(liveCfg, agentCfg, noOrders)
	assert.Error(t, err)

	_, err = NewLoop(config.TradingConfig{Interval: "1m"}, agentCfg, deps)
	assert.Error(t, err, "нет символа")
}

func TestConfigHandle(t *testing.T) {
	h := NewConfigHandle(models.DefaultSignalConfig())
	snapshot := h.Load()

	h.Store(models.SignalConfig{LearningRate: 1, RiskTolerance: 10})
	assert.Equal(t, 0.5, snapshot.LearningRate, "ранее прочитанная копия не меняется")
	assert.Equal(t, 1.0, h.Load().LearningRate)

	got := h.Update(func(c *models.SignalConfig) { c.UseRSI = true })
	assert.True(t, got.UseRSI)
	assert.Equal(t, 10.0, h.Load().RiskTolerance)

	var empty ConfigHandle
	assert.Equal(t, models.DefaultSignalConfig(), empty.Load())
}
