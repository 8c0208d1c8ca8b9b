package agent

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skalibog/quantbot/pkg/models"
)

// fakeClock ручные часы: тикер срабатывает только по Fire
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
	created chan struct{}
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), created: make(chan struct{}, 8)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTicker(time.Duration) Ticker {
	t := &fakeTicker{c: make(chan time.Time, 1)}
	c.mu.Lock()
	c.tickers = append(c.tickers, t)
	c.mu.Unlock()
	c.created <- struct{}{}
	return t
}

// Fire посылает срабатывание последнему созданному тикеру
func (c *fakeClock) Fire() {
	c.mu.Lock()
	c.now = c.now.Add(10 * time.Second)
	t := c.tickers[len(c.tickers)-1]
	now := c.now
	c.mu.Unlock()
	t.c <- now
}

type fakeTicker struct {
	c       chan time.Time
	stopped atomic.Bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.c }
func (t *fakeTicker) Stop()               { t.stopped.Store(true) }

// fakeMarket отдает свечи из функции
type fakeMarket struct {
	mu    sync.Mutex
	calls int
	fetch func(ctx context.Context, call int) ([]models.Candle, error)
}

func (m *fakeMarket) FetchCandles(ctx context.Context, _, _ string, _ int) ([]models.Candle, error) {
	m.mu.Lock()
	m.calls++
	n := m.calls
	m.mu.Unlock()
	return m.fetch(ctx, n)
}

func (m *fakeMarket) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// fakeEngine возвращает заданное решение и запоминает настройки каждого вызова
type fakeEngine struct {
	mu       sync.Mutex
	configs  []models.SignalConfig
	evaluate func(candles []models.Candle, cfg models.SignalConfig) (models.Decision, error)
}

func (e *fakeEngine) Evaluate(candles []models.Candle, cfg models.SignalConfig) (models.Decision, error) {
	e.mu.Lock()
	e.configs = append(e.configs, cfg)
	e.mu.Unlock()
	return e.evaluate(candles, cfg)
}

func (e *fakeEngine) Configs() []models.SignalConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.SignalConfig(nil), e.configs...)
}

// fakeOrders запоминает ордера
type fakeOrders struct {
	mu    sync.Mutex
	reqs  []models.OrderRequest
	creds []models.Credentials
	err   error
}

func (o *fakeOrders) PlaceOrder(_ context.Context, creds models.Credentials, req models.OrderRequest) (models.OrderResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reqs = append(o.reqs, req)
	o.creds = append(o.creds, creds)
	if o.err != nil {
		return models.OrderResult{}, o.err
	}
	return models.OrderResult{OrderID: "1001", RawStatus: "FILLED"}, nil
}

func (o *fakeOrders) Requests() []models.OrderRequest {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]models.OrderRequest(nil), o.reqs...)
}
