package services

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Card kinds: the customer's order card and the kitchen card in the staff chat.
const (
	CardCustomer = "customer"
	CardKitchen  = "kitchen"
)

// CardPointers remembers which Telegram message shows an order, so a status
// change edits that message instead of sending a new one.
type CardPointers interface {
	Get(ctx context.Context, orderID, kind string) (chatID int64, messageID int, ok bool, err error)
	Upsert(ctx context.Context, orderID, kind string, chatID int64, messageID int) error
}

// PGCardPointers keeps pointers in the order_cards table.
type PGCardPointers struct {
	Pool *pgxpool.Pool
}

func (p *PGCardPointers) Get(ctx context.Context, orderID, kind string) (int64, int, bool, error) {
	var chatID int64
	var messageID int
	err := p.Pool.QueryRow(ctx, `
		SELECT chat_id, message_id FROM order_cards WHERE order_id = $1 AND kind = $2
		ORDER BY updated_at DESC LIMIT 1`,
		orderID, kind,
	).Scan(&chatID, &messageID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, false, nil
		}
		return 0, 0, false, err
	}
	return chatID, messageID, true, nil
}

// Upsert inserts or updates the message pointer for (order_id, chat_id).
func (p *PGCardPointers) Upsert(ctx context.Context, orderID, kind string, chatID int64, messageID int) error {
	_, err := p.Pool.Exec(ctx, `
		INSERT INTO order_cards (order_id, chat_id, message_id, kind, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (order_id, chat_id) DO UPDATE SET message_id = EXCLUDED.message_id, kind = EXCLUDED.kind, updated_at = now()`,
		orderID, chatID, messageID, kind,
	)
	return err
}

// MemoryCardPointers is used with the redis and memory store backends.
type MemoryCardPointers struct {
	mu sync.Mutex
	m  map[[2]string]cardPointer
}

type cardPointer struct {
	chatID    int64
	messageID int
}

func NewMemoryCardPointers() *MemoryCardPointers {
	return &MemoryCardPointers{m: make(map[[2]string]cardPointer)}
}

func (p *MemoryCardPointers) Get(_ context.Context, orderID, kind string) (int64, int, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.m[[2]string{orderID, kind}]
	return c.chatID, c.messageID, ok, nil
}

func (p *MemoryCardPointers) Upsert(_ context.Context, orderID, kind string, chatID int64, messageID int) error {
	p.mu.Lock()
	p.m[[2]string{orderID, kind}] = cardPointer{chatID: chatID, messageID: messageID}
	p.mu.Unlock()
	return nil
}
