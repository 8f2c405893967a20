package services

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"kbar-telegram/models"
)

func TestSimulatedSettler(t *testing.T) {
	tests := []struct {
		rate float64
		want bool
	}{
		{1, true},
		{0, false},
	}
	for _, tt := range tests {
		s := NewSimulatedSettler(0, tt.rate, rand.NewSource(1))
		for i := 0; i < 20; i++ {
			got, err := s.Settle(context.Background(), models.Order{})
			if err != nil || got != tt.want {
				t.Fatalf("Settle(rate %v) = %v, %v; want %v", tt.rate, got, err, tt.want)
			}
		}
	}
}

func TestSimulatedSettlerRate(t *testing.T) {
	s := NewSimulatedSettler(0, 0.8, rand.NewSource(42))
	ok := 0
	const n = 2000
	for i := 0; i < n; i++ {
		if got, _ := s.Settle(context.Background(), models.Order{}); got {
			ok++
		}
	}
	if ratio := float64(ok) / n; ratio < 0.75 || ratio > 0.85 {
		t.Errorf("success ratio = %.3f, want about 0.8", ratio)
	}
}

func TestSimulatedSettlerCancelled(t *testing.T) {
	s := NewSimulatedSettler(time.Minute, 1, rand.NewSource(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if ok, err := s.Settle(ctx, models.Order{}); ok || err == nil {
		t.Errorf("Settle on cancelled ctx = %v, %v; want false and an error", ok, err)
	}
}
