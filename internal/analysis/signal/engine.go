// Package signal сводит технические индикаторы в единый счет и дискретное решение.
package signal

import (
	"errors"
	"fmt"
	"math"

	"github.com/skalibog/quantbot/internal/analysis/technical"
	"github.com/skalibog/quantbot/pkg/models"
)

const (
	// MinSamples минимальное число закрытых свечей для оценки
	MinSamples = 20

	// VolatilityWindow число последних цен закрытия для волатильности
	VolatilityWindow = 10

	// StrategyStandard метка обычного режима
	StrategyStandard = "STANDARD_NEURAL_V2"

	// StrategyQuantum метка контрарного режима
	StrategyQuantum = "QUANTUM_HEURISTIC"

	rsiOversold   = 30
	rsiOverbought = 70
	rsiBandWeight = 40
	whaleWeight   = 25
	shieldRatio   = 0.005
	shieldDamping = 0.6
	confidenceCap = 0.99
)

// ErrInsufficientData окно свечей короче MinSamples
var ErrInsufficientData = errors.New("недостаточно данных для оценки")

// Evaluator интерфейс сигнального движка для цикла
type Evaluator interface {
	Evaluate(candles []models.Candle, cfg models.SignalConfig) (models.Decision, error)
}

// Engine сигнальный движок без состояния
type Engine struct{}

// NewEngine создает сигнальный движок
func NewEngine() *Engine {
	return &Engine{}
}

// Evaluate реализует Evaluator
func (e *Engine) Evaluate(candles []models.Candle, cfg models.SignalConfig) (models.Decision, error) {
	return Evaluate(candles, cfg)
}

// Evaluate оценивает окно свечей (по возрастанию времени) и возвращает решение.
// Функция чистая: одинаковые входы дают одинаковый результат, ID решения не заполняется.
func Evaluate(candles []models.Candle, cfg models.SignalConfig) (models.Decision, error) {
	if len(candles) < MinSamples {
		return models.Decision{}, fmt.Errorf("%w: %d свечей (требуется %d)", ErrInsufficientData, len(candles), MinSamples)
	}

	closes := models.Closes(candles)
	volumes := models.Volumes(candles)
	latest := candles[len(candles)-1]
	price := latest.Close

	rsi := technical.RSI(closes, technical.RSIPeriod)
	volatility := technical.Volatility(closes[len(closes)-VolatilityWindow:])
	isWhale := technical.WhaleActivity(volumes)

	score := 0.0

	if cfg.UseRSI {
		switch {
		case rsi < rsiOversold:
			score += rsiBandWeight * cfg.LearningRate
		case rsi > rsiOverbought:
			score -= rsiBandWeight * cfg.LearningRate
		default:
			// Нейтральная зона: знак тянет к лонгу ниже 50 и к шорту выше
			score += (50 - rsi) * 0.5 * cfg.LearningRate
		}
	}

	if cfg.UseWhaleTracking && isWhale {
		if latest.Bullish() {
			score += whaleWeight
		} else {
			score -= whaleWeight
		}
	}

	if cfg.UseVolatilityShield && volatility > price*shieldRatio {
		score *= shieldDamping
	}

	if cfg.InvertLogic {
		score = -score
	}

	threshold := Threshold(cfg.RiskTolerance)

	action := models.Hold
	switch {
	case score > threshold:
		action = models.Long
	case score < -threshold:
		action = models.Short
	}

	strategy := StrategyStandard
	if cfg.InvertLogic {
		strategy = StrategyQuantum
	}

	ts := latest.CloseTime
	if ts.IsZero() {
		ts = latest.OpenTime
	}

	return models.Decision{
		Symbol:    latest.Symbol,
		Timestamp: ts,
		Input: models.InputPattern{
			RSI:           rsi,
			Volatility:    volatility,
			WhaleDetected: isWhale,
			Price:         price,
		},
		Decision:   action,
		Score:      score,
		Strategy:   strategy,
		Confidence: math.Min(math.Abs(score)/50, confidenceCap),
	}, nil
}

// Threshold порог счета для решения: чем выше терпимость к риску, тем он ниже
func Threshold(riskTolerance float64) float64 {
	return (100 - riskTolerance) / 3
}
