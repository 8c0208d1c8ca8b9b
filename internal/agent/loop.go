package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/skalibog/quantbot/internal/analysis/signal"
	"github.com/skalibog/quantbot/internal/analysis/technical"
	"github.com/skalibog/quantbot/internal/config"
	"github.com/skalibog/quantbot/internal/metrics"
	"github.com/skalibog/quantbot/internal/storage"
	"github.com/skalibog/quantbot/pkg/logger"
	"github.com/skalibog/quantbot/pkg/models"
	"go.uber.org/zap"
)

// smaPeriod период скользящей средней в отчете тика
const smaPeriod = 20

// MarketData источник свечей. Возвращает только закрытые свечи по возрастанию времени.
type MarketData interface {
	FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error)
}

// OrderPlacer исполнитель ордеров
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, creds models.Credentials, req models.OrderRequest) (models.OrderResult, error)
}

// CredentialSource выдает ключи на время одного вызова
type CredentialSource func() models.Credentials

// PriceSource последняя известная цена; 0 если неизвестна
type PriceSource func() float64

// Deps зависимости цикла
type Deps struct {
	Market      MarketData
	Orders      OrderPlacer
	Engine      signal.Evaluator
	Store       storage.DecisionStore
	Config      *ConfigHandle
	Credentials CredentialSource
	Price       PriceSource
	Metrics     *metrics.Recorder
	Clock       Clock
}

// TickReport итог одного тика для отображения
type TickReport struct {
	Time     time.Time
	Symbol   string
	Candles  int
	SMA      float64
	Decision models.Decision
	Result   string
	Err      error
}

// Stats счетчики цикла
type Stats struct {
	Ticks         int64
	Skipped       int64
	Failed        int64
	Decisions     int64
	Orders        int64
	OrderFailures int64
}

// Loop автономный цикл: по таймеру получает свечи, оценивает их и реагирует на решение.
// Тики никогда не выполняются одновременно.
type Loop struct {
	symbol       string
	interval     string
	candleLimit  int
	every        time.Duration
	tickTimeout  time.Duration
	historyLimit int
	live         bool
	quantity     decimal.Decimal
	label        string

	market  MarketData
	orders  OrderPlacer
	engine  signal.Evaluator
	store   storage.DecisionStore
	config  *ConfigHandle
	creds   CredentialSource
	price   PriceSource
	metrics *metrics.Recorder
	clock   Clock
	window  *models.Window

	mu       sync.Mutex
	running  bool
	stop     chan struct{}
	done     chan struct{}
	inflight sync.WaitGroup
	onTick   func(TickReport)

	busy          atomic.Bool
	ticks         atomic.Int64
	skipped       atomic.Int64
	failed        atomic.Int64
	decisions     atomic.Int64
	ordersPlaced  atomic.Int64
	orderFailures atomic.Int64
}

// NewLoop создает цикл по настройкам торговли и агента
func NewLoop(trading config.TradingConfig, agentCfg config.AgentConfig, deps Deps) (*Loop, error) {
	if deps.Market == nil || deps.Store == nil {
		return nil, errors.New("цикл: не заданы источник данных или хранилище")
	}
	if trading.Symbol == "" || trading.Interval == "" {
		return nil, errors.New("цикл: не заданы символ или интервал свечей")
	}
	every := agentCfg.Interval()
	if every <= 0 {
		return nil, fmt.Errorf("цикл: интервал должен быть положительным, получено %v", every)
	}

	var qty decimal.Decimal
	if trading.Live {
		if deps.Orders == nil {
			return nil, errors.New("цикл: боевой режим без исполнителя ордеров")
		}
		var err error
		if qty, err = decimal.NewFromString(trading.OrderQuantity); err != nil || !qty.IsPositive() {
			return nil, fmt.Errorf("цикл: некорректное количество ордера %q", trading.OrderQuantity)
		}
	}

	l := &Loop{
		symbol:       trading.Symbol,
		interval:     trading.Interval,
		candleLimit:  trading.CandleLimit,
		every:        every,
		tickTimeout:  agentCfg.TickTimeout(),
		historyLimit: agentCfg.HistoryLimit,
		live:         trading.Live,
		quantity:     qty,
		label:        trading.StrategyLabel,

		market:  deps.Market,
		orders:  deps.Orders,
		engine:  deps.Engine,
		store:   deps.Store,
		config:  deps.Config,
		creds:   deps.Credentials,
		price:   deps.Price,
		metrics: deps.Metrics,
		clock:   deps.Clock,
	}
	if l.candleLimit <= 0 {
		l.candleLimit = signal.MinSamples
	}
	if l.tickTimeout <= 0 || l.tickTimeout > every {
		l.tickTimeout = every
	}
	if l.engine == nil {
		l.engine = signal.NewEngine()
	}
	if l.config == nil {
		l.config = NewConfigHandle(models.DefaultSignalConfig())
	}
	if l.creds == nil {
		l.creds = func() models.Credentials { return models.Credentials{} }
	}
	if l.metrics == nil {
		l.metrics = metrics.New()
	}
	if l.clock == nil {
		l.clock = RealClock{}
	}
	l.window = models.NewWindow(l.candleLimit)
	return l, nil
}

// OnTick задает наблюдателя за тиками. Вызывается из горутины тика.
func (l *Loop) OnTick(fn func(TickReport)) {
	l.mu.Lock()
	l.onTick = fn
	l.mu.Unlock()
}

// Config хранитель настроек сигнала, общий с оператором
func (l *Loop) Config() *ConfigHandle { return l.config }

// Candles последнее полученное окно свечей
func (l *Loop) Candles() []models.Candle { return l.window.Snapshot() }

// Running сообщает, взведен ли цикл
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Start взводит цикл: первый тик выполняется сразу, остальные по таймеру.
// Повторный вызов на работающем цикле ничего не делает.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	stop, done := make(chan struct{}), make(chan struct{})
	l.stop, l.done = stop, done
	l.mu.Unlock()

	logger.Info("Автономный цикл запущен",
		zap.String("symbol", l.symbol), zap.Duration("interval", l.every), zap.Bool("live", l.live))

	l.tick(ctx)
	go l.run(ctx, stop, done)
}

// Stop снимает цикл. Уже выполняющийся тик дорабатывает до конца.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	stop, done := l.stop, l.done
	l.running, l.stop = false, nil
	close(stop)
	l.mu.Unlock()

	<-done
	logger.Info("Автономный цикл остановлен", zap.String("symbol", l.symbol))
}

// Wait ждет остановки последнего запуска и завершения тиков, запущенных таймером
func (l *Loop) Wait() {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	if done != nil {
		<-done
	}
	l.inflight.Wait()
}

func (l *Loop) run(ctx context.Context, stop, done chan struct{}) {
	defer close(done)

	t := l.clock.NewTicker(l.every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			l.mu.Lock()
			if l.stop == stop {
				l.running, l.stop = false, nil
			}
			l.mu.Unlock()
			return
		case <-stop:
			return
		case <-t.C():
			l.inflight.Add(1)
			go func() {
				defer l.inflight.Done()
				l.tick(ctx)
			}()
		}
	}
}

// Stats возвращает текущие счетчики
func (l *Loop) Stats() Stats {
	return Stats{
		Ticks:         l.ticks.Load(),
		Skipped:       l.skipped.Load(),
		Failed:        l.failed.Load(),
		Decisions:     l.decisions.Load(),
		Orders:        l.ordersPlaced.Load(),
		OrderFailures: l.orderFailures.Load(),
	}
}

// tick один проход цикла. Ошибки не выходят за пределы тика.
func (l *Loop) tick(parent context.Context) {
	if !l.busy.CompareAndSwap(false, true) {
		l.skipped.Add(1)
		l.metrics.Tick(metrics.TickSkippedBusy, 0)
		logger.Info("Тик пропущен: предыдущий еще выполняется", zap.String("symbol", l.symbol))
		return
	}
	defer l.busy.Store(false)

	l.ticks.Add(1)
	started := l.clock.Now()
	report := TickReport{Time: started, Symbol: l.symbol}

	defer func() {
		if r := recover(); r != nil {
			report.Result = metrics.TickPanic
			report.Err = fmt.Errorf("паника в тике: %v", r)
			logger.Error("Тик завершился паникой", zap.String("symbol", l.symbol), zap.Any("panic", r))
		}
		switch report.Result {
		case metrics.TickMarketError, metrics.TickStoreError, metrics.TickTimeout, metrics.TickPanic:
			l.failed.Add(1)
		}
		l.metrics.Tick(report.Result, l.clock.Now().Sub(started).Seconds())
		l.notify(report)
	}()

	ctx, cancel := context.WithTimeout(parent, l.tickTimeout)
	defer cancel()

	l.runTick(ctx, &report)
}

func (l *Loop) runTick(ctx context.Context, report *TickReport) {
	cfg := l.config.Load()

	candles, err := l.market.FetchCandles(ctx, l.symbol, l.interval, l.candleLimit)
	if err != nil {
		report.Result, report.Err = metrics.TickMarketError, err
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			report.Result = metrics.TickTimeout
		}
		logger.Warn("Тик пропущен: ошибка получения свечей",
			zap.String("symbol", l.symbol), zap.String("result", report.Result), zap.Error(err))
		return
	}
	l.window.Replace(candles)
	candles = l.window.Snapshot()
	report.Candles = len(candles)
	report.SMA = technical.SMA(models.Closes(candles), smaPeriod)

	decision, err := l.engine.Evaluate(candles, cfg)
	if err != nil {
		report.Result, report.Err = metrics.TickInsufficient, err
		logger.Info("Тик пропущен: недостаточно данных",
			zap.String("symbol", l.symbol), zap.Int("candles", len(candles)), zap.Error(err))
		return
	}
	l.metrics.Decision(decision)

	if !decision.Actionable() {
		report.Result, report.Decision = metrics.TickHold, decision
		logger.Debug("Решение HOLD", zap.String("symbol", l.symbol),
			zap.Float64("score", decision.Score), zap.Float64("rsi", decision.Input.RSI))
		return
	}

	// Время решения это время тика: по одной свече может быть несколько решений
	decision.ID = uuid.NewString()
	decision.Timestamp = l.clock.Now().UTC()
	report.Decision = decision
	if err := l.store.Insert(ctx, decision); err != nil {
		report.Result, report.Err = metrics.TickStoreError, err
		logger.Warn("Тик пропущен: не удалось сохранить решение",
			zap.String("symbol", l.symbol), zap.String("decision", string(decision.Decision)), zap.Error(err))
		return
	}
	l.decisions.Add(1)
	report.Result = metrics.TickOK

	logger.Info("Новое решение",
		zap.String("symbol", decision.Symbol),
		zap.String("decision", string(decision.Decision)),
		zap.Float64("score", decision.Score),
		zap.Float64("confidence", decision.Confidence),
		zap.String("strategy", decision.Strategy),
		zap.String("label", l.label),
		zap.String("id", decision.ID))

	l.logAccuracy(ctx, decision)

	if l.live {
		l.execute(ctx, decision)
	}
}

// logAccuracy логирует долю угаданных направлений среди прошлых решений
func (l *Loop) logAccuracy(ctx context.Context, latest models.Decision) {
	if l.historyLimit <= 0 {
		return
	}
	recent, err := l.store.QueryRecent(ctx, l.historyLimit)
	if err != nil {
		logger.Warn("Не удалось получить историю решений", zap.Error(err))
		return
	}

	past := recent[:0:0]
	for _, d := range recent {
		if d.ID != latest.ID {
			past = append(past, d)
		}
	}

	current := latest.Input.Price
	if l.price != nil {
		if p := l.price(); p > 0 {
			current = p
		}
	}
	hits, total, ratio := signal.Accuracy(past, current)
	logger.Info("Точность последних решений",
		zap.String("symbol", l.symbol), zap.Int("hits", hits), zap.Int("total", total),
		zap.Float64("accuracy", ratio), zap.Float64("price", current))
}

// execute размещает рыночный ордер по решению. Ровно одна строка лога на попытку.
func (l *Loop) execute(ctx context.Context, d models.Decision) {
	side, ok := models.SideFor(d.Decision)
	if !ok {
		return
	}
	req := models.OrderRequest{Symbol: l.symbol, Side: side, Quantity: l.quantity}

	res, err := l.orders.PlaceOrder(ctx, l.creds(), req)
	l.metrics.Order(err == nil)
	if err != nil {
		l.orderFailures.Add(1)
		logger.Error("Ордер не размещен",
			zap.String("symbol", l.symbol), zap.String("decision", string(d.Decision)),
			zap.String("side", string(side)), zap.String("quantity", l.quantity.String()), zap.Error(err))
		return
	}
	l.ordersPlaced.Add(1)
	logger.Info("Ордер размещен",
		zap.String("symbol", l.symbol), zap.String("decision", string(d.Decision)),
		zap.String("side", string(side)), zap.String("quantity", l.quantity.String()),
		zap.String("order_id", res.OrderID), zap.String("price", res.ExecutedPrice.String()),
		zap.String("status", res.RawStatus))
}

func (l *Loop) notify(r TickReport) {
	l.mu.Lock()
	fn := l.onTick
	l.mu.Unlock()
	if fn != nil {
		fn(r)
	}
}
