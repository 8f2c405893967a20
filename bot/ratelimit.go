package bot

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// chatLimiter paces message edits per chat so Telegram does not throttle the bot.
type chatLimiter struct {
	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newChatLimiter(perSecond float64, burst int) *chatLimiter {
	if burst < 1 {
		burst = 1
	}
	return &chatLimiter{
		limiters: make(map[int64]*rate.Limiter),
		rate:     rate.Limit(perSecond),
		burst:    burst,
	}
}

func (l *chatLimiter) get(chatID int64) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[chatID]
	if !ok {
		lim = rate.NewLimiter(l.rate, l.burst)
		l.limiters[chatID] = lim
	}
	return lim
}

// Allow reports whether an edit may go out now; used for skippable updates.
func (l *chatLimiter) Allow(chatID int64) bool {
	return l.get(chatID).Allow()
}

// Wait blocks until an edit may go out.
func (l *chatLimiter) Wait(ctx context.Context, chatID int64) error {
	return l.get(chatID).Wait(ctx)
}
