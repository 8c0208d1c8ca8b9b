package agent

import (
	"sync/atomic"
	"time"

	"github.com/skalibog/quantbot/pkg/models"
)

// ConfigHandle держит текущие настройки сигнала. Настройки подменяются целиком,
// поэтому тик всегда видит согласованную конфигурацию.
type ConfigHandle struct {
	p atomic.Pointer[models.SignalConfig]
}

// NewConfigHandle создает хранитель с начальными настройками
func NewConfigHandle(cfg models.SignalConfig) *ConfigHandle {
	h := &ConfigHandle{}
	h.Store(cfg)
	return h
}

// Load возвращает копию текущих настроек
func (h *ConfigHandle) Load() models.SignalConfig {
	if cfg := h.p.Load(); cfg != nil {
		return *cfg
	}
	return models.DefaultSignalConfig()
}

// Store заменяет настройки; применяются со следующего тика
func (h *ConfigHandle) Store(cfg models.SignalConfig) {
	h.p.Store(&cfg)
}

// Update атомарно применяет изменение к текущим настройкам
func (h *ConfigHandle) Update(fn func(*models.SignalConfig)) models.SignalConfig {
	for {
		old := h.p.Load()
		next := models.DefaultSignalConfig()
		if old != nil {
			next = *old
		}
		fn(&next)
		if h.p.CompareAndSwap(old, &next) {
			return next
		}
	}
}

// Clock источник времени и тикеров
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker периодический сигнал
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock системные часы
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }
