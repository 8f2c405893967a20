package bot

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

// refresher re-renders per-user dashboards after store changes. Marks made
// while a pass is running are picked up by the next pass.
type refresher struct {
	render func(ctx context.Context, userID int64)

	mu     sync.Mutex
	dirty  map[int64]struct{}
	signal chan struct{}
}

func newRefresher(render func(ctx context.Context, userID int64)) *refresher {
	return &refresher{
		render: render,
		dirty:  make(map[int64]struct{}),
		signal: make(chan struct{}, 1),
	}
}

// Mark schedules a refresh for userID. It never blocks.
func (r *refresher) Mark(userID int64) {
	r.mu.Lock()
	r.dirty[userID] = struct{}{}
	r.mu.Unlock()
	select {
	case r.signal <- struct{}{}:
	default:
	}
}

// Run renders dirty dashboards until ctx is done.
func (r *refresher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.signal:
			r.flush(ctx)
		}
	}
}

func (r *refresher) flush(ctx context.Context) {
	r.mu.Lock()
	batch := r.dirty
	r.dirty = make(map[int64]struct{})
	r.mu.Unlock()
	for userID := range batch {
		if ctx.Err() != nil {
			return
		}
		r.safeRender(ctx, userID)
	}
}

func (r *refresher) safeRender(ctx context.Context, userID int64) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("dashboard render user=%d panic: %v", userID, rec)
		}
	}()
	r.render(ctx, userID)
}
