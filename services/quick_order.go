package services

import (
	"context"
	"errors"
	"sync"

	"kbar-telegram/models"

	"github.com/shopspring/decimal"
)

// QuickOrderSession is an in-memory draft built from the quick-order tiles.
// Every item appears at most once; adding an item already present is ignored.
type QuickOrderSession struct {
	mu    sync.Mutex
	items []models.CartItem
}

// AddDistinctItem adds qty of item unless it is already in the draft.
// The quick-order tiles add one at a time. qty < 1 adds nothing.
func (s *QuickOrderSession) AddDistinctItem(item models.MenuItem, qty int) bool {
	if qty < 1 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.items {
		if it.ID == item.ID {
			return false
		}
	}
	s.items = append(s.items, models.CartItem{
		ID:       item.ID,
		Name:     item.Name,
		Price:    item.Price,
		Quantity: qty,
		Emoji:    item.EmojiFor(),
	})
	return true
}

// UpdateQuantity sets a line quantity; values below 1 are ignored.
func (s *QuickOrderSession) UpdateQuantity(itemID string, qty int) bool {
	if qty < 1 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == itemID {
			s.items[i].Quantity = qty
			return true
		}
	}
	return false
}

func (s *QuickOrderSession) RemoveItem(itemID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == itemID {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return true
		}
	}
	return false
}

func (s *QuickOrderSession) Clear() {
	s.mu.Lock()
	s.items = nil
	s.mu.Unlock()
}

// Items returns a copy of the draft lines.
func (s *QuickOrderSession) Items() []models.CartItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.CartItem(nil), s.items...)
}

func (s *QuickOrderSession) Total() decimal.Decimal {
	return Cart{Items: s.Items()}.Total()
}

func (s *QuickOrderSession) ItemCount() int {
	return Cart{Items: s.Items()}.ItemCount()
}

// Finalize submits the draft as a quick order. The draft is cleared only
// when the order was created.
func (s *QuickOrderSession) Finalize(ctx context.Context, m *OrderMachine, userID int64) (models.Order, error) {
	items := s.Items()
	if len(items) == 0 {
		return models.Order{}, ErrEmptyDraft
	}
	o, err := m.Create(ctx, userID, models.SnapshotItems(items), models.OriginQuick)
	if err != nil {
		if errors.Is(err, ErrEmptyCart) {
			return models.Order{}, ErrEmptyDraft
		}
		return models.Order{}, err
	}
	s.Clear()
	return o, nil
}

// QuickSessions holds one draft per user.
type QuickSessions struct {
	mu       sync.Mutex
	sessions map[int64]*QuickOrderSession
}

func NewQuickSessions() *QuickSessions {
	return &QuickSessions{sessions: make(map[int64]*QuickOrderSession)}
}

// For returns the user's draft, creating it on first use.
func (q *QuickSessions) For(userID int64) *QuickOrderSession {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.sessions[userID]
	if !ok {
		s = &QuickOrderSession{}
		q.sessions[userID] = s
	}
	return s
}

// Discard forgets the user's draft.
func (q *QuickSessions) Discard(userID int64) {
	q.mu.Lock()
	delete(q.sessions, userID)
	q.mu.Unlock()
}
