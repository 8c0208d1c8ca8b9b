package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/skalibog/quantbot/pkg/logger"
	"github.com/skalibog/quantbot/pkg/models"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// Config представляет полную конфигурацию приложения
type Config struct {
	Binance BinanceConfig       `yaml:"binance"`
	Trading TradingConfig       `yaml:"trading"`
	Signal  models.SignalConfig `yaml:"signal"`
	Agent   AgentConfig         `yaml:"agent"`
	Storage StorageConfig       `yaml:"storage"`
	Log     LogConfig           `yaml:"log"`
	Metrics MetricsConfig       `yaml:"metrics"`
}

// BinanceConfig содержит настройки подключения к Binance
type BinanceConfig struct {
	APIKey            string `yaml:"api_key"`
	APISecret         string `yaml:"api_secret"`
	Testnet           bool   `yaml:"testnet"`
	BaseURL           string `yaml:"base_url"`
	WSURL             string `yaml:"ws_url"`
	RecvWindow        int64  `yaml:"recv_window"`
	TimeoutSeconds    int    `yaml:"timeout_seconds"`
	RequestsPerSecond int    `yaml:"requests_per_second"`
}

// Credentials возвращает ключи для подписанных вызовов
func (c BinanceConfig) Credentials() models.Credentials {
	return models.Credentials{APIKey: c.APIKey, APISecret: c.APISecret}
}

// Timeout таймаут одного сетевого вызова
func (c BinanceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// TradingConfig содержит настройки торговли
type TradingConfig struct {
	Symbol        string  `yaml:"symbol"`
	Interval      string  `yaml:"interval"`
	CandleLimit   int     `yaml:"candle_limit"`
	Live          bool    `yaml:"live"`
	OrderQuantity string  `yaml:"order_quantity"`
	Leverage      float64 `yaml:"leverage"`
	StrategyLabel string  `yaml:"strategy_label"`
}

// AgentConfig настройки автономного цикла
type AgentConfig struct {
	IntervalSeconds    int `yaml:"interval_seconds"`
	TickTimeoutSeconds int `yaml:"tick_timeout_seconds"`
	HistoryLimit       int `yaml:"history_limit"`
}

// Interval период между тиками
func (c AgentConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// TickTimeout предельная длительность одного тика
func (c AgentConfig) TickTimeout() time.Duration {
	return time.Duration(c.TickTimeoutSeconds) * time.Second
}

// StorageConfig настройки хранения решений
type StorageConfig struct {
	Type         string `yaml:"type"` // memory, influxdb, postgres
	URL          string `yaml:"url"`
	Token        string `yaml:"token"`
	Organization string `yaml:"organization"`
	Bucket       string `yaml:"bucket"`
	DSN          string `yaml:"dsn"`
	RedisAddr    string `yaml:"redis_addr"`
	RedisChannel string `yaml:"redis_channel"`
}

// LogConfig настройки логирования
type LogConfig struct {
	Level    string `yaml:"level"`
	File     string `yaml:"file"`
	JSONFile string `yaml:"json_file"`
	Console  bool   `yaml:"console"`
}

// Options переводит настройки в параметры логгера
func (c LogConfig) Options() logger.Options {
	return logger.Options{Level: c.Level, File: c.File, JSONFile: c.JSONFile, Console: c.Console}
}

// MetricsConfig настройки экспорта метрик
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default возвращает конфигурацию со значениями по умолчанию
func Default() *Config {
	lo := logger.DefaultOptions()
	return &Config{
		Binance: BinanceConfig{
			RecvWindow:        5000,
			TimeoutSeconds:    10,
			RequestsPerSecond: 5,
		},
		Trading: TradingConfig{
			Symbol:        "BTCUSDT",
			Interval:      "1m",
			CandleLimit:   50,
			OrderQuantity: "0.001",
			Leverage:      1,
			StrategyLabel: "AUTONOMOUS",
		},
		Signal: models.DefaultSignalConfig(),
		Agent: AgentConfig{
			IntervalSeconds:    10,
			TickTimeoutSeconds: 8,
			HistoryLimit:       50,
		},
		Storage: StorageConfig{
			Type:         "memory",
			RedisChannel: "quantbot:decisions",
		},
		Log: LogConfig{Level: lo.Level, File: lo.File, JSONFile: lo.JSONFile, Console: lo.Console},
	}
}

// Load загружает конфигурацию из файла поверх значений по умолчанию.
// Пустой путь означает только значения по умолчанию и окружение.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("ошибка разбора файла конфигурации: %w", err)
		}
	}

	// .env не обязателен
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("Не удалось прочитать .env", zap.Error(err))
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Debug("Загружена конфигурация", zap.String("path", path), zap.String("symbol", cfg.Trading.Symbol),
		zap.String("storage", cfg.Storage.Type), zap.Bool("live", cfg.Trading.Live))
	return cfg, nil
}

// applyEnv переопределяет ключи и адреса из переменных окружения
func applyEnv(cfg *Config) {
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		cfg.Binance.APIKey = v
	}
	if v := os.Getenv("BINANCE_API_SECRET"); v != "" {
		cfg.Binance.APISecret = v
	}
	if v := os.Getenv("QUANTBOT_SYMBOL"); v != "" {
		cfg.Trading.Symbol = v
	}
	if v := os.Getenv("INFLUXDB_TOKEN"); v != "" {
		cfg.Storage.Token = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DSN = v
	}
}

// Validate проверяет форму конфигурации. Наличие ключей проверяется перед приватными вызовами.
func (c *Config) Validate() error {
	switch {
	case c.Trading.Symbol == "":
		return errors.New("конфигурация: не задан trading.symbol")
	case c.Trading.Interval == "":
		return errors.New("конфигурация: не задан trading.interval")
	case c.Agent.IntervalSeconds <= 0:
		return fmt.Errorf("конфигурация: agent.interval_seconds должен быть положительным, получено %d", c.Agent.IntervalSeconds)
	case c.Agent.TickTimeoutSeconds <= 0:
		return fmt.Errorf("конфигурация: agent.tick_timeout_seconds должен быть положительным, получено %d", c.Agent.TickTimeoutSeconds)
	case c.Binance.TimeoutSeconds <= 0:
		return fmt.Errorf("конфигурация: binance.timeout_seconds должен быть положительным, получено %d", c.Binance.TimeoutSeconds)
	}
	switch c.Storage.Type {
	case "memory", "influxdb", "postgres":
	default:
		return fmt.Errorf("конфигурация: неизвестный storage.type %q", c.Storage.Type)
	}
	return nil
}
