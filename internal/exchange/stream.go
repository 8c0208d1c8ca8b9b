package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/skalibog/quantbot/pkg/logger"
	"github.com/skalibog/quantbot/pkg/models"
	"go.uber.org/zap"
)

const (
	// DepthLevels сколько уровней стакана хранится на каждой стороне
	DepthLevels = 10

	readTimeout = 5 * time.Minute
)

// Subscription долгоживущая подписка на поток биржи. После обрыва переподключается,
// пока не вызван Close или не отменен контекст.
type Subscription struct {
	stream string
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu   sync.Mutex
	conn *websocket.Conn
}

// Stream имя потока, например btcusdt@ticker
func (s *Subscription) Stream() string { return s.stream }

// Done закрывается, когда подписка полностью остановлена
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close останавливает подписку и освобождает соединение. Повторные вызовы безопасны.
// После возврата обработчик больше не вызывается, поэтому Close нельзя звать из самого обработчика.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.mu.Lock()
		if s.conn != nil {
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = s.conn.Close()
		}
		s.mu.Unlock()
	})
	<-s.done
	return nil
}

// swap устанавливает текущее соединение; после Close новое соединение сразу закрывается
func (s *Subscription) swap(ctx context.Context, conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		_ = conn.Close()
		return false
	}
	s.conn = conn
	return true
}

// SubscribeTicker подписывается на 24-часовой тикер. onUpdate вызывается на каждое сообщение.
func (c *BinanceClient) SubscribeTicker(ctx context.Context, symbol string, onUpdate func(models.TickerSnapshot)) (*Subscription, error) {
	stream := strings.ToLower(symbol) + "@ticker"
	return c.subscribe(ctx, stream, func(msg []byte) error {
		snap, err := parseTicker(msg)
		if err != nil {
			return err
		}
		onUpdate(snap)
		return nil
	})
}

// SubscribeDepth подписывается на частичный стакан (10 уровней, 100 мс).
// Порядок биржи сохраняется: обе стороны начинаются с ближайшего к середине уровня.
func (c *BinanceClient) SubscribeDepth(ctx context.Context, symbol string, onUpdate func(models.DepthSnapshot)) (*Subscription, error) {
	stream := strings.ToLower(symbol) + "@depth10@100ms"
	upper := strings.ToUpper(symbol)
	return c.subscribe(ctx, stream, func(msg []byte) error {
		snap, err := parseDepth(msg, DepthLevels)
		if err != nil {
			return err
		}
		snap.Symbol = upper
		onUpdate(snap)
		return nil
	})
}

func (c *BinanceClient) subscribe(ctx context.Context, stream string, handle func([]byte) error) (*Subscription, error) {
	conn, err := c.dial(ctx, stream)
	if err != nil {
		return nil, &MarketDataError{Op: "subscribe", Symbol: stream, Err: err}
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		stream: stream,
		cancel: cancel,
		done:   make(chan struct{}),
		conn:   conn,
	}

	// Отмена внешнего контекста закрывает соединение, чтобы прервать чтение
	go func() {
		<-sctx.Done()
		s.mu.Lock()
		if s.conn != nil {
			_ = s.conn.Close()
		}
		s.mu.Unlock()
	}()

	go c.run(sctx, s, conn, handle)
	return s, nil
}

func (c *BinanceClient) dial(ctx context.Context, stream string) (*websocket.Conn, error) {
	u := fmt.Sprintf("%s/%s", c.wsURL, stream)
	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к %s: %w", u, err)
	}
	return conn, nil
}

// run читает поток и переподключается с экспоненциальной задержкой
func (c *BinanceClient) run(ctx context.Context, s *Subscription, conn *websocket.Conn, handle func([]byte) error) {
	defer close(s.done)

	for {
		err := readLoop(ctx, conn, handle)
		if ctx.Err() != nil {
			return
		}
		logger.Warn("Обрыв потока, переподключение", zap.String("stream", s.stream), zap.Error(err))

		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 500 * time.Millisecond
		b.MaxInterval = c.reconnectMax
		b.MaxElapsedTime = 0

		var next *websocket.Conn
		err = backoff.RetryNotify(func() error {
			var dialErr error
			next, dialErr = c.dial(ctx, s.stream)
			return dialErr
		}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
			logger.Warn("Повторное подключение не удалось", zap.String("stream", s.stream),
				zap.Duration("retry_in", wait), zap.Error(err))
		})
		if err != nil || !s.swap(ctx, next) {
			return
		}
		conn = next
		logger.Info("Поток восстановлен", zap.String("stream", s.stream))
	}
}

func readLoop(ctx context.Context, conn *websocket.Conn, handle func([]byte) error) error {
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := handle(msg); err != nil {
			logger.Debug("Ошибка разбора сообщения потока", zap.Error(err))
		}
	}
}

// parseTicker разбирает событие 24hrTicker. Ключи сравниваются точно: c и C, p и P различаются.
func parseTicker(msg []byte) (models.TickerSnapshot, error) {
	var raw map[string]any
	if err := json.Unmarshal(msg, &raw); err != nil {
		return models.TickerSnapshot{}, err
	}
	if _, ok := raw["c"]; !ok {
		return models.TickerSnapshot{}, fmt.Errorf("нет поля c в сообщении тикера")
	}
	symbol, _ := raw["s"].(string)
	return models.TickerSnapshot{
		Symbol:    symbol,
		Price:     toFloat(raw["c"]),
		Change24h: toFloat(raw["P"]),
		High24h:   toFloat(raw["h"]),
		Low24h:    toFloat(raw["l"]),
		Volume:    toFloat(raw["v"]),
		Received:  time.Now(),
	}, nil
}

// parseDepth разбирает частичный стакан, ограничивая каждую сторону levels уровнями
func parseDepth(msg []byte, levels int) (models.DepthSnapshot, error) {
	var raw struct {
		Bids [][]any `json:"bids"`
		Asks [][]any `json:"asks"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return models.DepthSnapshot{}, err
	}
	if raw.Bids == nil && raw.Asks == nil {
		return models.DepthSnapshot{}, fmt.Errorf("в сообщении нет стакана")
	}
	return models.DepthSnapshot{
		Bids:     toLevels(raw.Bids, levels),
		Asks:     toLevels(raw.Asks, levels),
		Received: time.Now(),
	}, nil
}

func toLevels(raw [][]any, limit int) []models.Level {
	out := make([]models.Level, 0, min(len(raw), limit))
	for _, l := range raw {
		if len(out) == limit {
			break
		}
		if len(l) < 2 {
			continue
		}
		out = append(out, models.Level{Price: toFloat(l[0]), Size: toFloat(l[1])})
	}
	return out
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case float64:
		return t
	case json.Number:
		f, _ := t.Float64()
		return f
	default:
		return 0
	}
}
