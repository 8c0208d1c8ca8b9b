package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/skalibog/quantbot/pkg/logger"
	"github.com/skalibog/quantbot/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNotifierPublishesInsertedDecision(t *testing.T) {
	client, mock := redismock.NewClientMock()
	d := testDecision(1)
	payload, err := json.Marshal(d)
	require.NoError(t, err)

	mock.ExpectPublish("quantbot:decisions", string(payload)).SetVal(1)

	mem := NewMemoryStore()
	store := WithNotifier(mem, newRedisNotifier(client, ""))
	require.NoError(t, store.Insert(context.Background(), d))

	assert.Equal(t, 1, mem.Len())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotifierFailureKeepsInsert(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	defer logger.Replace(zap.New(core))()

	client, mock := redismock.NewClientMock()
	d := testDecision(1)
	payload, _ := json.Marshal(d)
	mock.ExpectPublish("custom", string(payload)).SetErr(errors.New("connection refused"))

	mem := NewMemoryStore()
	store := WithNotifier(mem, newRedisNotifier(client, "custom"))
	require.NoError(t, store.Insert(context.Background(), d))

	assert.Equal(t, 1, mem.Len())
	require.Equal(t, 1, logs.FilterMessage("Не удалось опубликовать решение").Len())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotifierSkipsFailedInsert(t *testing.T) {
	client, mock := redismock.NewClientMock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := WithNotifier(NewMemoryStore(), newRedisNotifier(client, ""))
	assert.Error(t, store.Insert(ctx, testDecision(1)))
	assert.NoError(t, mock.ExpectationsWereMet(), "публикации не было")
}

func TestNotifierSubscribePassesThrough(t *testing.T) {
	client, mock := redismock.NewClientMock()
	d := testDecision(1)
	payload, _ := json.Marshal(d)
	mock.ExpectPublish("quantbot:decisions", string(payload)).SetVal(0)

	store := WithNotifier(NewMemoryStore(), newRedisNotifier(client, ""))
	var got []string
	cancel := store.Subscribe(func(d models.Decision) { got = append(got, d.ID) })
	defer cancel()

	require.NoError(t, store.Insert(context.Background(), d))
	assert.Equal(t, []string{"d-1"}, got)
}
