package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/skalibog/quantbot/internal/config"
	"github.com/skalibog/quantbot/pkg/logger"
	"github.com/skalibog/quantbot/pkg/models"
	"go.uber.org/zap"
)

// DecisionStore хранилище принятых решений. Только добавление, без изменений.
type DecisionStore interface {
	// Insert сохраняет решение и уведомляет подписчиков
	Insert(ctx context.Context, d models.Decision) error
	// QueryRecent возвращает до limit последних решений, новые первыми
	QueryRecent(ctx context.Context, limit int) ([]models.Decision, error)
	// Subscribe регистрирует обработчик новых решений; cancel снимает подписку
	Subscribe(fn func(models.Decision)) (cancel func())
	Close() error
}

// New создает хранилище по storage.type. При заданном redis_addr
// каждое сохраненное решение дополнительно публикуется в Redis.
func New(ctx context.Context, cfg config.StorageConfig) (DecisionStore, error) {
	var (
		store DecisionStore
		err   error
	)
	switch cfg.Type {
	case "", "memory":
		store = NewMemoryStore()
	case "influxdb":
		store, err = NewInfluxDBStorage(ctx, cfg)
	case "postgres":
		store, err = NewPostgresStorage(ctx, cfg)
	default:
		return nil, fmt.Errorf("неизвестный тип хранилища: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	if cfg.RedisAddr != "" {
		notifier, err := NewRedisNotifier(ctx, cfg)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		store = WithNotifier(store, notifier)
	}

	logger.Info("Хранилище решений готово", zap.String("type", cfg.Type), zap.Bool("redis", cfg.RedisAddr != ""))
	return store, nil
}

// hub рассылка новых решений подписчикам внутри процесса
type hub struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(models.Decision)
}

func (h *hub) Subscribe(fn func(models.Decision)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs == nil {
		h.subs = make(map[int]func(models.Decision))
	}
	id := h.next
	h.next++
	h.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

// publish вызывает обработчики вне блокировки, чтобы они могли отписаться
func (h *hub) publish(d models.Decision) {
	h.mu.RLock()
	fns := make([]func(models.Decision), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(d)
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 0
	}
	return limit
}
