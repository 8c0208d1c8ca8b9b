package storage

import (
	"context"
	"sync"

	"github.com/skalibog/quantbot/pkg/models"
)

// MemoryStore хранит решения в памяти процесса
type MemoryStore struct {
	hub

	mu        sync.RWMutex
	decisions []models.Decision
}

// NewMemoryStore создает пустое хранилище
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Insert(ctx context.Context, d models.Decision) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.decisions = append(s.decisions, d)
	s.mu.Unlock()

	s.publish(d)
	return nil
}

func (s *MemoryStore) QueryRecent(ctx context.Context, limit int) ([]models.Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := min(clampLimit(limit), len(s.decisions))
	out := make([]models.Decision, 0, n)
	for i := len(s.decisions) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.decisions[i])
	}
	return out, nil
}

// Len количество сохраненных решений
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.decisions)
}

func (s *MemoryStore) Close() error { return nil }
