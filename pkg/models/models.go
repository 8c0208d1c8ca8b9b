package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle представляет закрытую свечу
type Candle struct {
	Symbol    string
	Interval  string
	OpenTime  time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime time.Time
}

// Bullish сообщает, закрылась ли свеча выше открытия
func (c Candle) Bullish() bool {
	return c.Close > c.Open
}

// Closes возвращает цены закрытия в порядке свечей
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Volumes возвращает объемы в порядке свечей
func Volumes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}

// TickerSnapshot последнее известное состояние 24-часового тикера
type TickerSnapshot struct {
	Symbol    string
	Price     float64
	Change24h float64
	High24h   float64
	Low24h    float64
	Volume    float64
	Received  time.Time
}

// Level представляет уровень стакана
type Level struct {
	Price float64
	Size  float64
}

// DepthSnapshot представляет стакан заявок, обе стороны от ближайшего к середине уровня
type DepthSnapshot struct {
	Symbol   string
	Bids     []Level
	Asks     []Level
	Received time.Time
}

// AskLadder возвращает аски в обратном порядке (дальний уровень сверху), как их рисует стакан
func (d DepthSnapshot) AskLadder() []Level {
	out := make([]Level, len(d.Asks))
	for i, a := range d.Asks {
		out[len(d.Asks)-1-i] = a
	}
	return out
}

// SignalConfig изменяемая оператором конфигурация сигнального движка.
// Reserved-флаги хранятся, но пока не влияют на счет.
type SignalConfig struct {
	LearningRate  float64 `yaml:"learning_rate" json:"learningRate"`
	RiskTolerance float64 `yaml:"risk_tolerance" json:"riskTolerance"`

	UseRSI                bool `yaml:"use_rsi" json:"useRsi"`
	UseWhaleTracking      bool `yaml:"use_whale_tracking" json:"useWhaleTracking"`
	UsePatternRecognition bool `yaml:"use_pattern_recognition" json:"usePatternRecognition"`
	UseVolatilityShield   bool `yaml:"use_volatility_shield" json:"useVolatilityShield"`
	UseNewsIntegration    bool `yaml:"use_news_integration" json:"useNewsIntegration"`
	UseArbitrageScanner   bool `yaml:"use_arbitrage_scanner" json:"useArbitrageScanner"`
	UseDarkPoolDetection  bool `yaml:"use_dark_pool_detection" json:"useDarkPoolDetection"`
	InvertLogic           bool `yaml:"invert_logic" json:"invertLogic"`
}

// DefaultSignalConfig конфигурация, с которой агент стартует
func DefaultSignalConfig() SignalConfig {
	return SignalConfig{
		LearningRate:        0.5,
		RiskTolerance:       50,
		UseRSI:              true,
		UseWhaleTracking:    true,
		UseVolatilityShield: true,
	}
}

// Action дискретное решение движка
type Action string

const (
	Long  Action = "LONG"
	Short Action = "SHORT"
	Hold  Action = "HOLD"
)

// InputPattern значения индикаторов, на которых принято решение
type InputPattern struct {
	RSI           float64 `json:"rsi"`
	Volatility    float64 `json:"volatility"`
	WhaleDetected bool    `json:"whaleDetected"`
	Price         float64 `json:"price"`
}

// Decision результат одной оценки рынка. После создания не меняется.
type Decision struct {
	ID         string       `json:"id"`
	Symbol     string       `json:"symbol"`
	Timestamp  time.Time    `json:"timestamp"`
	Input      InputPattern `json:"inputPattern"`
	Decision   Action       `json:"decision"`
	Score      float64      `json:"score"`
	Strategy   string       `json:"strategyLabel"`
	Confidence float64      `json:"confidence"`
}

// Actionable сообщает, нужно ли сохранять и исполнять решение
func (d Decision) Actionable() bool {
	return d.Decision == Long || d.Decision == Short
}

// Credentials ключи биржи. Живут только на время подписанного вызова.
type Credentials struct {
	APIKey    string
	APISecret string
}

// Empty сообщает, что хотя бы один из ключей не задан
func (c Credentials) Empty() bool {
	return c.APIKey == "" || c.APISecret == ""
}

// String не раскрывает секреты в логах и fmt
func (c Credentials) String() string {
	if c.Empty() {
		return "credentials(empty)"
	}
	return "credentials(***)"
}

// Side сторона ордера
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// SideFor переводит решение в сторону ордера
func SideFor(a Action) (Side, bool) {
	switch a {
	case Long:
		return Buy, true
	case Short:
		return Sell, true
	default:
		return "", false
	}
}

// OrderRequest запрос на размещение ордера. Price == nil означает рыночный ордер.
type OrderRequest struct {
	Symbol   string
	Side     Side
	Quantity decimal.Decimal
	Price    *decimal.Decimal
}

// OrderResult ответ биржи на размещенный ордер
type OrderResult struct {
	OrderID       string
	ClientOrderID string
	ExecutedPrice decimal.Decimal
	RawStatus     string
}

// Balance баланс одного актива
type Balance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// Account сведения о спотовом аккаунте
type Account struct {
	CanTrade   bool      `json:"canTrade"`
	UpdateTime int64     `json:"updateTime"`
	Balances   []Balance `json:"balances"`
}
