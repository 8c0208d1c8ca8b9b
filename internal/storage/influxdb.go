// internal/storage/influxdb.go
package storage

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/skalibog/quantbot/internal/config"
	"github.com/skalibog/quantbot/pkg/models"
)

const decisionsMeasurement = "decisions"

// InfluxDBStorage реализует DecisionStore с использованием InfluxDB
type InfluxDBStorage struct {
	hub

	client   influxdb2.Client
	queryAPI api.QueryAPI
	writeAPI api.WriteAPIBlocking
	bucket   string
}

// NewInfluxDBStorage создает новое хранилище InfluxDB
func NewInfluxDBStorage(ctx context.Context, cfg config.StorageConfig) (*InfluxDBStorage, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Проверка соединения
	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ошибка соединения с InfluxDB: %w", err)
	}
	if health == nil || health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("InfluxDB не в состоянии 'pass': %+v", health)
	}

	return &InfluxDBStorage{
		client:   client,
		queryAPI: client.QueryAPI(cfg.Organization),
		writeAPI: client.WriteAPIBlocking(cfg.Organization, cfg.Bucket),
		bucket:   cfg.Bucket,
	}, nil
}

// Close закрывает соединение с базой данных
func (s *InfluxDBStorage) Close() error {
	s.client.Close()
	return nil
}

// Insert записывает решение синхронно: ошибка записи возвращается вызывающему
func (s *InfluxDBStorage) Insert(ctx context.Context, d models.Decision) error {
	if err := s.writeAPI.WritePoint(ctx, decisionPoint(d)); err != nil {
		return fmt.Errorf("ошибка записи решения: %w", err)
	}
	s.publish(d)
	return nil
}

func decisionPoint(d models.Decision) *write.Point {
	return influxdb2.NewPoint(
		decisionsMeasurement,
		// id в тегах: точки с одинаковым временем не затирают друг друга
		map[string]string{
			"symbol":   d.Symbol,
			"decision": string(d.Decision),
			"strategy": d.Strategy,
			"id":       d.ID,
		},
		map[string]interface{}{
			"score":      d.Score,
			"confidence": d.Confidence,
			"rsi":        d.Input.RSI,
			"volatility": d.Input.Volatility,
			"whale":      d.Input.WhaleDetected,
			"price":      d.Input.Price,
		},
		d.Timestamp,
	)
}

// QueryRecent получает последние решения, новые первыми
func (s *InfluxDBStorage) QueryRecent(ctx context.Context, limit int) ([]models.Decision, error) {
	limit = clampLimit(limit)
	if limit == 0 {
		return nil, nil
	}

	// Формируем Flux-запрос
	query := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: -30d)
			|> filter(fn: (r) => r._measurement == "%s")
			|> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
			|> group()
			|> sort(columns: ["_time"], desc: true)
			|> limit(n: %d)
	`, s.bucket, decisionsMeasurement, limit)

	result, err := s.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса решений: %w", err)
	}
	defer result.Close()

	var decisions []models.Decision
	for result.Next() {
		record := result.Record()

		id, _ := record.ValueByKey("id").(string)
		symbol, _ := record.ValueByKey("symbol").(string)
		action, _ := record.ValueByKey("decision").(string)
		strategy, _ := record.ValueByKey("strategy").(string)
		score, _ := record.ValueByKey("score").(float64)
		confidence, _ := record.ValueByKey("confidence").(float64)
		rsi, _ := record.ValueByKey("rsi").(float64)
		volatility, _ := record.ValueByKey("volatility").(float64)
		whale, _ := record.ValueByKey("whale").(bool)
		price, _ := record.ValueByKey("price").(float64)

		decisions = append(decisions, models.Decision{
			ID:        id,
			Symbol:    symbol,
			Timestamp: record.Time(),
			Input: models.InputPattern{
				RSI:           rsi,
				Volatility:    volatility,
				WhaleDetected: whale,
				Price:         price,
			},
			Decision:   models.Action(action),
			Score:      score,
			Strategy:   strategy,
			Confidence: confidence,
		})
	}

	// Проверяем на ошибки при обработке результатов
	if result.Err() != nil {
		return nil, fmt.Errorf("ошибка при обработке результатов: %w", result.Err())
	}
	return decisions, nil
}
