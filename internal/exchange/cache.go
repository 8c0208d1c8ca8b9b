package exchange

import (
	"sync"

	"github.com/skalibog/quantbot/pkg/models"
)

// TickerCache хранит последнее полученное состояние тикера.
// Чтение дает последнее известное значение, возможно устаревшее на одно сообщение.
type TickerCache struct {
	mu   sync.RWMutex
	snap models.TickerSnapshot
	ok   bool
}

// Update подходит как onUpdate для SubscribeTicker
func (c *TickerCache) Update(s models.TickerSnapshot) {
	c.mu.Lock()
	c.snap, c.ok = s, true
	c.mu.Unlock()
}

// Latest возвращает последнее значение и признак его наличия
func (c *TickerCache) Latest() (models.TickerSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap, c.ok
}

// Price последняя цена или 0, если сообщений еще не было
func (c *TickerCache) Price() float64 {
	s, _ := c.Latest()
	return s.Price
}

// DepthCache хранит последний снимок стакана
type DepthCache struct {
	mu   sync.RWMutex
	snap models.DepthSnapshot
	ok   bool
}

// Update подходит как onUpdate для SubscribeDepth. Снимок заменяется целиком.
func (c *DepthCache) Update(s models.DepthSnapshot) {
	c.mu.Lock()
	c.snap, c.ok = s, true
	c.mu.Unlock()
}

// Latest возвращает последний снимок и признак его наличия
func (c *DepthCache) Latest() (models.DepthSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap, c.ok
}
