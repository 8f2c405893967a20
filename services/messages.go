package services

import (
	"sync"
	"time"

	"kbar-telegram/models"
)

const noticeWindow = 30 * time.Second

// NoticeLog remembers the status notices sent per order so the same notice
// is not sent twice within 30 seconds (e.g. after a resume replays a transition).
type NoticeLog struct {
	clock Clock

	mu   sync.Mutex
	sent map[noticeKey]time.Time
}

type noticeKey struct {
	orderID string
	status  models.OrderStatus
}

func NewNoticeLog(clock Clock) *NoticeLog {
	if clock == nil {
		clock = RealClock()
	}
	return &NoticeLog{clock: clock, sent: make(map[noticeKey]time.Time)}
}

// ShouldSend records the notice and reports whether it was not sent within the window.
func (n *NoticeLog) ShouldSend(orderID string, status models.OrderStatus) bool {
	now := n.clock.Now()
	n.mu.Lock()
	defer n.mu.Unlock()
	for k, at := range n.sent {
		if now.Sub(at) >= noticeWindow {
			delete(n.sent, k)
		}
	}
	k := noticeKey{orderID, status}
	if _, ok := n.sent[k]; ok {
		return false
	}
	n.sent[k] = now
	return true
}
