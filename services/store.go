package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"kbar-telegram/models"

	log "github.com/sirupsen/logrus"
)

// Store maps the three per-user records onto a KV.
// Absent records read back as an empty cart, no orders and zero points.
type Store struct {
	kv KV
}

func NewStore(kv KV) *Store {
	return &Store{kv: kv}
}

func cartKey(userID int64) string    { return fmt.Sprintf("user:%d:cart", userID) }
func ordersKey(userID int64) string  { return fmt.Sprintf("user:%d:orders", userID) }
func loyaltyKey(userID int64) string { return fmt.Sprintf("user:%d:loyaltyPoints", userID) }

func (s *Store) Cart(ctx context.Context, userID int64) ([]models.CartItem, error) {
	var items []models.CartItem
	if err := s.getJSON(ctx, cartKey(userID), &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) SaveCart(ctx context.Context, userID int64, items []models.CartItem) error {
	if items == nil {
		items = []models.CartItem{}
	}
	return s.setJSON(ctx, cartKey(userID), items)
}

func (s *Store) DeleteCart(ctx context.Context, userID int64) error {
	if err := s.kv.Remove(ctx, cartKey(userID)); err != nil {
		return storageErr("delete cart", err)
	}
	return nil
}

func (s *Store) Orders(ctx context.Context, userID int64) ([]models.Order, error) {
	var orders []models.Order
	if err := s.getJSON(ctx, ordersKey(userID), &orders); err != nil {
		return nil, err
	}
	// The total is derived from the items; a drifted record is corrected on read.
	for i := range orders {
		if !orders[i].TotalMatches() {
			log.Warnf("Store.Orders user=%d order=%s: stored total %s does not match items, recomputing",
				userID, orders[i].OrderNumber, orders[i].Total.StringFixed(2))
			orders[i].Recompute()
		}
	}
	return orders, nil
}

func (s *Store) SaveOrders(ctx context.Context, userID int64, orders []models.Order) error {
	if orders == nil {
		orders = []models.Order{}
	}
	return s.setJSON(ctx, ordersKey(userID), orders)
}

// LoyaltyPoints is stored as a decimal integer string.
func (s *Store) LoyaltyPoints(ctx context.Context, userID int64) (int64, error) {
	raw, ok, err := s.kv.Get(ctx, loyaltyKey(userID))
	if err != nil {
		return 0, storageErr("load loyalty points", err)
	}
	if !ok || len(raw) == 0 {
		return 0, nil
	}
	var str string
	if json.Unmarshal(raw, &str) != nil {
		str = string(raw)
	}
	n, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return 0, storageErr("decode loyalty points", err)
	}
	if n < 0 {
		n = 0
	}
	return n, nil
}

func (s *Store) SaveLoyaltyPoints(ctx context.Context, userID int64, points int64) error {
	if err := s.kv.Set(ctx, loyaltyKey(userID), []byte(strconv.FormatInt(points, 10))); err != nil {
		return storageErr("save loyalty points", err)
	}
	return nil
}

// UserIDs lists users that have an orders record. It needs a KV that
// implements KeyLister; other backends return nil.
func (s *Store) UserIDs(ctx context.Context) ([]int64, error) {
	lister, ok := s.kv.(KeyLister)
	if !ok {
		return nil, nil
	}
	keys, err := lister.Keys(ctx, "user:")
	if err != nil {
		return nil, storageErr("list keys", err)
	}
	var ids []int64
	for _, k := range keys {
		rest, found := strings.CutSuffix(strings.TrimPrefix(k, "user:"), ":orders")
		if !found {
			continue
		}
		if id, err := strconv.ParseInt(rest, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *Store) getJSON(ctx context.Context, key string, v any) error {
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return storageErr("load "+key, err)
	}
	if !ok || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return storageErr("decode "+key, err)
	}
	return nil
}

func (s *Store) setJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.kv.Set(ctx, key, raw); err != nil {
		return storageErr("save "+key, err)
	}
	return nil
}
