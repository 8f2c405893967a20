package services

import (
	"context"

	"kbar-telegram/models"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// Cart is a snapshot of a user's cart. Lines are unique by item id.
type Cart struct {
	Items []models.CartItem
}

func (c Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, it := range c.Items {
		total = total.Add(it.LineTotal())
	}
	return total
}

func (c Cart) ItemCount() int {
	n := 0
	for _, it := range c.Items {
		n += it.Quantity
	}
	return n
}

func (c Cart) IsEmpty() bool { return len(c.Items) == 0 }

// CartService owns the cart record. Every mutation persists first and only
// then notifies the user's subscribers; a failed write changes nothing.
type CartService struct {
	store   *Store
	hub     *Hub
	locks   *UserLocks
	metrics *Metrics
}

func NewCartService(store *Store, hub *Hub, locks *UserLocks, metrics *Metrics) *CartService {
	if locks == nil {
		locks = &UserLocks{}
	}
	return &CartService{store: store, hub: hub, locks: locks, metrics: metrics}
}

func (s *CartService) Get(ctx context.Context, userID int64) (Cart, error) {
	items, err := s.store.Cart(ctx, userID)
	if err != nil {
		s.metrics.storageError()
		return Cart{}, err
	}
	return Cart{Items: items}, nil
}

// Add merges qty of item into the cart. qty < 1 is rejected with ErrInvalidQuantity
// before the store is touched.
func (s *CartService) Add(ctx context.Context, userID int64, item models.MenuItem, qty int) (Cart, error) {
	if qty < 1 {
		return Cart{}, ErrInvalidQuantity
	}
	return s.mutate(ctx, userID, func(items []models.CartItem) ([]models.CartItem, bool) {
		for i := range items {
			if items[i].ID == item.ID {
				items[i].Quantity += qty
				return items, true
			}
		}
		return append(items, models.CartItem{
			ID:       item.ID,
			Name:     item.Name,
			Price:    item.Price,
			Quantity: qty,
			Emoji:    item.EmojiFor(),
		}), true
	})
}

// UpdateQuantity sets the line quantity. Values below 1 and unknown ids are no-ops.
func (s *CartService) UpdateQuantity(ctx context.Context, userID int64, itemID string, qty int) (Cart, error) {
	if qty < 1 {
		return s.Get(ctx, userID)
	}
	return s.mutate(ctx, userID, func(items []models.CartItem) ([]models.CartItem, bool) {
		for i := range items {
			if items[i].ID == itemID {
				if items[i].Quantity == qty {
					return items, false
				}
				items[i].Quantity = qty
				return items, true
			}
		}
		return items, false
	})
}

func (s *CartService) Remove(ctx context.Context, userID int64, itemID string) (Cart, error) {
	return s.mutate(ctx, userID, func(items []models.CartItem) ([]models.CartItem, bool) {
		for i := range items {
			if items[i].ID == itemID {
				return append(items[:i], items[i+1:]...), true
			}
		}
		return items, false
	})
}

// Clear deletes the cart record.
func (s *CartService) Clear(ctx context.Context, userID int64) error {
	unlock := s.locks.Lock(userID)
	err := s.store.DeleteCart(ctx, userID)
	unlock()
	if err != nil {
		s.metrics.storageError()
		log.Errorf("CartService.Clear user=%d: %v", userID, err)
		return err
	}
	s.hub.Publish(userID)
	return nil
}

// mutate applies fn to a copy of the stored lines. fn reports whether anything changed.
func (s *CartService) mutate(ctx context.Context, userID int64, fn func([]models.CartItem) ([]models.CartItem, bool)) (Cart, error) {
	unlock := s.locks.Lock(userID)
	items, err := s.store.Cart(ctx, userID)
	if err != nil {
		unlock()
		s.metrics.storageError()
		return Cart{}, err
	}
	next, changed := fn(append([]models.CartItem(nil), items...))
	if !changed {
		unlock()
		return Cart{Items: items}, nil
	}
	if err := s.store.SaveCart(ctx, userID, next); err != nil {
		unlock()
		s.metrics.storageError()
		log.Errorf("CartService save user=%d: %v", userID, err)
		return Cart{Items: items}, err
	}
	unlock()
	s.hub.Publish(userID)
	return Cart{Items: next}, nil
}
