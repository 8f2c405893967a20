package services

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"kbar-telegram/models"
)

// Settler performs the payment of an order. Any error counts as a failed payment.
type Settler interface {
	Settle(ctx context.Context, order models.Order) (bool, error)
}

// SimulatedSettler waits Latency and succeeds with probability SuccessRate.
type SimulatedSettler struct {
	Latency     time.Duration
	SuccessRate float64

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewSimulatedSettler(latency time.Duration, successRate float64, src rand.Source) *SimulatedSettler {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &SimulatedSettler{Latency: latency, SuccessRate: successRate, rnd: rand.New(src)}
}

func (s *SimulatedSettler) Settle(ctx context.Context, _ models.Order) (bool, error) {
	if s.Latency > 0 {
		t := time.NewTimer(s.Latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-t.C:
		}
	}
	s.mu.Lock()
	v := s.rnd.Float64()
	s.mu.Unlock()
	return v < s.SuccessRate, nil
}

// SettlerFunc adapts a function to Settler.
type SettlerFunc func(ctx context.Context, order models.Order) (bool, error)

func (f SettlerFunc) Settle(ctx context.Context, order models.Order) (bool, error) {
	return f(ctx, order)
}
