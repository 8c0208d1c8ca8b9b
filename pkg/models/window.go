package models

import "sync"

// Window скользящее окно свечей фиксированной длины: новая свеча вытесняет самую старую.
// Безопасно для одновременного использования.
type Window struct {
	mu      sync.RWMutex
	size    int
	candles []Candle
}

// NewWindow создает окно на size свечей
func NewWindow(size int) *Window {
	if size < 1 {
		size = 1
	}
	return &Window{size: size, candles: make([]Candle, 0, size)}
}

// Push добавляет свечу. Свеча с тем же временем открытия, что и последняя, заменяет ее.
func (w *Window) Push(c Candle) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if n := len(w.candles); n > 0 && w.candles[n-1].OpenTime.Equal(c.OpenTime) {
		w.candles[n-1] = c
		return
	}
	if len(w.candles) == w.size {
		copy(w.candles, w.candles[1:])
		w.candles = w.candles[:w.size-1]
	}
	w.candles = append(w.candles, c)
}

// Replace заменяет содержимое окна, оставляя не более size последних свечей
func (w *Window) Replace(candles []Candle) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(candles) > w.size {
		candles = candles[len(candles)-w.size:]
	}
	w.candles = append(w.candles[:0], candles...)
}

// Snapshot возвращает копию окна по возрастанию времени
func (w *Window) Snapshot() []Candle {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]Candle, len(w.candles))
	copy(out, w.candles)
	return out
}

// Len текущее число свечей
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.candles)
}
