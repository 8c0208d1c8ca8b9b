package exchange

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/gorilla/websocket"
	"github.com/skalibog/quantbot/internal/config"
	"github.com/skalibog/quantbot/pkg/logger"
	"github.com/skalibog/quantbot/pkg/models"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	mainnetREST = "https://api.binance.com"
	testnetREST = "https://testnet.binance.vision"
	mainnetWS   = "wss://stream.binance.com:9443/ws"
	testnetWS   = "wss://testnet.binance.vision/ws"
)

// BinanceClient клиент для взаимодействия со спотовым Binance.
// Ключи не хранятся: каждый приватный вызов получает их аргументом.
type BinanceClient struct {
	baseURL    string
	wsURL      string
	recvWindow int64

	httpClient *http.Client
	market     *binance.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	dialer     *websocket.Dialer

	// offset поправка к локальным часам по времени сервера, мс
	offset atomic.Int64
	now    func() time.Time

	reconnectMax time.Duration
}

// NewBinanceClient создает новый клиент Binance
func NewBinanceClient(cfg config.BinanceConfig) (*BinanceClient, error) {
	base, ws := mainnetREST, mainnetWS
	if cfg.Testnet {
		base, ws = testnetREST, testnetWS
	}
	if cfg.BaseURL != "" {
		base = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.WSURL != "" {
		ws = strings.TrimRight(cfg.WSURL, "/")
	}

	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	recvWindow := cfg.RecvWindow
	if recvWindow <= 0 {
		recvWindow = 5000
	}

	httpClient := &http.Client{Timeout: timeout}

	// Публичные свечи идут через go-binance, ключи ему не нужны
	market := binance.NewClient("", "")
	market.BaseURL = base
	market.HTTPClient = httpClient

	c := &BinanceClient{
		baseURL:    base,
		wsURL:      ws,
		recvWindow: recvWindow,
		httpClient: httpClient,
		market:     market,
		limiter:    rate.NewLimiter(rate.Limit(rps), rps),
		breaker:    newBreaker("binance-klines"),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: timeout,
		},
		now:          time.Now,
		reconnectMax: time.Minute,
	}
	return c, nil
}

// newBreaker размыкается после серии подряд неудачных запросов свечей
func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Смена состояния предохранителя",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
}

// FetchCandles получает до limit последних закрытых свечей. Биржа всегда отдает
// формирующуюся свечу последней, поэтому запрашивается на одну больше, а свечи,
// не закрытые по времени сервера, отбрасываются.
// При любой ошибке возвращает пустой ряд и *MarketDataError: такой тик нужно
// пропустить, а не считать нулевыми данными.
func (c *BinanceClient) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	fail := func(err error) ([]models.Candle, error) {
		return nil, &MarketDataError{Op: "klines", Symbol: symbol, Err: err}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fail(err)
	}

	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.market.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			Limit(limit + 1).
			Do(ctx)
	})
	if err != nil {
		return fail(fmt.Errorf("ошибка получения свечей: %w", err))
	}

	klines, _ := res.([]*binance.Kline)
	now := c.timestamp()
	candles := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		if k.CloseTime >= now {
			continue
		}
		candle, err := toCandle(symbol, interval, k)
		if err != nil {
			return fail(err)
		}
		candles = append(candles, candle)
	}
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

// toCandle разбирает строковые поля свечи Binance
func toCandle(symbol, interval string, k *binance.Kline) (models.Candle, error) {
	var (
		vals [5]float64
		err  error
	)
	for i, raw := range []string{k.Open, k.High, k.Low, k.Close, k.Volume} {
		if vals[i], err = strconv.ParseFloat(raw, 64); err != nil {
			return models.Candle{}, fmt.Errorf("ошибка парсинга свечи %d: %w", k.OpenTime, err)
		}
	}
	return models.Candle{
		Symbol:    symbol,
		Interval:  interval,
		OpenTime:  time.UnixMilli(k.OpenTime).UTC(),
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
		CloseTime: time.UnixMilli(k.CloseTime).UTC(),
	}, nil
}

// SyncTime обновляет поправку часов по времени сервера
func (c *BinanceClient) SyncTime(ctx context.Context) error {
	before := c.now()
	serverTime, err := c.market.NewServerTimeService().Do(ctx)
	if err != nil {
		return fmt.Errorf("ошибка получения времени сервера: %w", err)
	}
	after := c.now()

	// Задержку сети считаем симметричной
	local := before.Add(after.Sub(before) / 2).UnixMilli()
	c.offset.Store(serverTime - local)

	logger.Debug("Синхронизация времени", zap.Int64("offset_ms", c.offset.Load()))
	return nil
}

// timestamp текущее время в мс с поправкой на сервер
func (c *BinanceClient) timestamp() int64 {
	return c.now().UnixMilli() + c.offset.Load()
}
