package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/skalibog/quantbot/internal/config"
	"github.com/skalibog/quantbot/pkg/logger"
	"github.com/skalibog/quantbot/pkg/models"
	"go.uber.org/zap"
)

// RedisNotifier публикует решения в канал Redis для внешних подписчиков
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

// NewRedisNotifier подключается к storage.redis_addr
func NewRedisNotifier(ctx context.Context, cfg config.StorageConfig) (*RedisNotifier, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ошибка подключения к Redis: %w", err)
	}
	return newRedisNotifier(client, cfg.RedisChannel), nil
}

func newRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	if channel == "" {
		channel = "quantbot:decisions"
	}
	return &RedisNotifier{client: client, channel: channel}
}

// Publish отправляет решение в канал в виде JSON
func (n *RedisNotifier) Publish(ctx context.Context, d models.Decision) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("ошибка сериализации решения: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, string(payload)).Err(); err != nil {
		return fmt.Errorf("ошибка публикации в %s: %w", n.channel, err)
	}
	return nil
}

func (n *RedisNotifier) Close() error {
	return n.client.Close()
}

// notifyingStore дополняет хранилище публикацией в Redis
type notifyingStore struct {
	DecisionStore
	notifier *RedisNotifier
}

// WithNotifier публикует каждое успешно сохраненное решение.
// Сбой публикации только логируется: запись уже состоялась.
func WithNotifier(store DecisionStore, notifier *RedisNotifier) DecisionStore {
	return &notifyingStore{DecisionStore: store, notifier: notifier}
}

func (s *notifyingStore) Insert(ctx context.Context, d models.Decision) error {
	if err := s.DecisionStore.Insert(ctx, d); err != nil {
		return err
	}
	if err := s.notifier.Publish(ctx, d); err != nil {
		logger.Warn("Не удалось опубликовать решение", zap.String("id", d.ID), zap.Error(err))
	}
	return nil
}

func (s *notifyingStore) Close() error {
	err := s.DecisionStore.Close()
	if nerr := s.notifier.Close(); err == nil {
		err = nerr
	}
	return err
}
