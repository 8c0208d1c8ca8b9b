package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/skalibog/quantbot/internal/config"
	"github.com/skalibog/quantbot/pkg/models"
)

// migrations выполняются по порядку при каждом подключении
var migrations = []string{`
CREATE TABLE IF NOT EXISTS decisions (
	seq        BIGSERIAL,
	id         TEXT PRIMARY KEY,
	symbol     TEXT NOT NULL,
	ts         TIMESTAMPTZ NOT NULL,
	decision   TEXT NOT NULL,
	score      DOUBLE PRECISION NOT NULL,
	strategy   TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	rsi        DOUBLE PRECISION NOT NULL,
	volatility DOUBLE PRECISION NOT NULL,
	whale      BOOLEAN NOT NULL,
	price      DOUBLE PRECISION NOT NULL
)`,
	`ALTER TABLE decisions ADD COLUMN IF NOT EXISTS seq BIGSERIAL`,
}

const insertDecision = `INSERT INTO decisions
	(id, symbol, ts, decision, score, strategy, confidence, rsi, volatility, whale, price)
	VALUES (:id, :symbol, :ts, :decision, :score, :strategy, :confidence, :rsi, :volatility, :whale, :price)`

const selectRecent = `SELECT id, symbol, ts, decision, score, strategy, confidence, rsi, volatility, whale, price
	FROM decisions ORDER BY ts DESC, seq DESC LIMIT $1`

// decisionRow строка таблицы decisions
type decisionRow struct {
	ID         string    `db:"id"`
	Symbol     string    `db:"symbol"`
	Timestamp  time.Time `db:"ts"`
	Decision   string    `db:"decision"`
	Score      float64   `db:"score"`
	Strategy   string    `db:"strategy"`
	Confidence float64   `db:"confidence"`
	RSI        float64   `db:"rsi"`
	Volatility float64   `db:"volatility"`
	Whale      bool      `db:"whale"`
	Price      float64   `db:"price"`
}

func toRow(d models.Decision) decisionRow {
	return decisionRow{
		ID:         d.ID,
		Symbol:     d.Symbol,
		Timestamp:  d.Timestamp.UTC(),
		Decision:   string(d.Decision),
		Score:      d.Score,
		Strategy:   d.Strategy,
		Confidence: d.Confidence,
		RSI:        d.Input.RSI,
		Volatility: d.Input.Volatility,
		Whale:      d.Input.WhaleDetected,
		Price:      d.Input.Price,
	}
}

func (r decisionRow) decision() models.Decision {
	return models.Decision{
		ID:        r.ID,
		Symbol:    r.Symbol,
		Timestamp: r.Timestamp.UTC(),
		Input: models.InputPattern{
			RSI:           r.RSI,
			Volatility:    r.Volatility,
			WhaleDetected: r.Whale,
			Price:         r.Price,
		},
		Decision:   models.Action(r.Decision),
		Score:      r.Score,
		Strategy:   r.Strategy,
		Confidence: r.Confidence,
	}
}

// PostgresStorage реализует DecisionStore поверх PostgreSQL
type PostgresStorage struct {
	hub
	db *sqlx.DB
}

// NewPostgresStorage подключается по storage.dsn и создает таблицу при необходимости
func NewPostgresStorage(ctx context.Context, cfg config.StorageConfig) (*PostgresStorage, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к PostgreSQL: %w", err)
	}
	s, err := newPostgresStorage(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func newPostgresStorage(ctx context.Context, db *sqlx.DB) (*PostgresStorage, error) {
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return nil, fmt.Errorf("ошибка миграции таблицы decisions: %w", err)
		}
	}
	return &PostgresStorage{db: db}, nil
}

func (s *PostgresStorage) Insert(ctx context.Context, d models.Decision) error {
	if _, err := s.db.NamedExecContext(ctx, insertDecision, toRow(d)); err != nil {
		return fmt.Errorf("ошибка записи решения: %w", err)
	}
	s.publish(d)
	return nil
}

func (s *PostgresStorage) QueryRecent(ctx context.Context, limit int) ([]models.Decision, error) {
	limit = clampLimit(limit)
	if limit == 0 {
		return nil, nil
	}

	var rows []decisionRow
	if err := s.db.SelectContext(ctx, &rows, selectRecent, limit); err != nil {
		return nil, fmt.Errorf("ошибка запроса решений: %w", err)
	}
	out := make([]models.Decision, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.decision())
	}
	return out, nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
