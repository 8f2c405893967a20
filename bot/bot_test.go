package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"kbar-telegram/models"
	"kbar-telegram/services"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// fakeAPI records everything the bot sends. editErr, when set, fails the next edit.
type fakeAPI struct {
	mu      sync.Mutex
	nextID  int
	sent    []tgbotapi.MessageConfig
	edits   []tgbotapi.EditMessageTextConfig
	answers []string
	editErr error
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch m := c.(type) {
	case tgbotapi.MessageConfig:
		f.nextID++
		f.sent = append(f.sent, m)
		return tgbotapi.Message{MessageID: f.nextID, Chat: &tgbotapi.Chat{ID: m.ChatID}}, nil
	case tgbotapi.EditMessageTextConfig:
		if err := f.editErr; err != nil {
			f.editErr = nil
			return tgbotapi.Message{}, err
		}
		f.edits = append(f.edits, m)
		return tgbotapi.Message{MessageID: m.MessageID}, nil
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cb, ok := c.(tgbotapi.CallbackConfig); ok {
		f.answers = append(f.answers, cb.Text)
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.Text)
	}
	return out
}

func (f *fakeAPI) sentTo(chatID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.sent {
		if m.ChatID == chatID {
			n++
		}
	}
	return n
}

const (
	testUser  int64 = 42
	testStaff int64 = 7
	staffChat int64 = -100
)

type botRig struct {
	api     *fakeAPI
	bot     *Bot
	machine *services.OrderMachine
	carts   *services.CartService
	cards   *services.MemoryCardPointers
	clock   *services.FakeClock
	staff   *services.StaffAuth
}

func newBotRig(t *testing.T, settle func(context.Context, models.Order) (bool, error)) *botRig {
	t.Helper()
	if settle == nil {
		settle = func(context.Context, models.Order) (bool, error) { return true, nil }
	}
	clock := services.NewFakeClock(time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC))
	store := services.NewStore(services.NewMemoryKV())
	hub := services.NewHub()
	locks := &services.UserLocks{}
	machine := services.NewOrderMachine(services.MachineConfig{
		Store:   store,
		Clock:   clock,
		Settler: services.SettlerFunc(settle),
		Hub:     hub,
		Locks:   locks,
	})
	hash, err := services.HashPassword("bar-staff")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	r := &botRig{
		api:     &fakeAPI{},
		machine: machine,
		carts:   services.NewCartService(store, hub, locks, nil),
		cards:   services.NewMemoryCardPointers(),
		clock:   clock,
		staff:   services.NewStaffAuth(hash, clock),
	}
	r.bot = newBot(r.api, staffChat, 100, Deps{
		Carts:   r.carts,
		Machine: machine,
		Hub:     hub,
		Quick:   services.NewQuickSessions(),
		Nav:     services.NewNavParams(),
		Staff:   r.staff,
		Cards:   r.cards,
		Notices: services.NewNoticeLog(clock),
	})
	return r
}

func (r *botRig) tap(t *testing.T, from int64, data string) {
	t.Helper()
	r.bot.handleCallback(context.Background(), &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: from},
		Message: &tgbotapi.Message{MessageID: 1, Chat: &tgbotapi.Chat{ID: from}},
		Data:    data,
	})
	r.bot.wg.Wait()
}

func TestParseCallback(t *testing.T) {
	tests := []struct {
		data   string
		action string
		args   []string
	}{
		{"home", "home", nil},
		{"cat:Cocktails", "cat", []string{"Cocktails"}},
		{"item:3:2", "item", []string{"3", "2"}},
		{"kready:42:abc", "kready", []string{"42", "abc"}},
	}
	for _, tt := range tests {
		action, args := parseCallback(tt.data)
		if action != tt.action || strings.Join(args, ",") != strings.Join(tt.args, ",") {
			t.Errorf("parseCallback(%q) = %q %v, want %q %v", tt.data, action, args, tt.action, tt.args)
		}
	}
}

func TestCardMarkup(t *testing.T) {
	if kb := cardMarkup(services.OrderCardContent{Text: "x"}); kb != nil {
		t.Errorf("cardMarkup(no buttons) = %v, want nil", kb)
	}
	kb := cardMarkup(services.OrderCardContent{Buttons: [][]services.OrderCardButton{
		{{Text: "Pay", CallbackData: "pay:1"}, {Text: "Site", URL: "https://example.com"}},
	}})
	if kb == nil || len(kb.InlineKeyboard) != 1 || len(kb.InlineKeyboard[0]) != 2 {
		t.Fatalf("cardMarkup = %v, want one row of two", kb)
	}
	if got := kb.InlineKeyboard[0][0].CallbackData; got == nil || *got != "pay:1" {
		t.Errorf("callback button data = %v, want pay:1", got)
	}
	if got := kb.InlineKeyboard[0][1].URL; got == nil || *got != "https://example.com" {
		t.Errorf("url button = %v, want https://example.com", got)
	}
}

func TestUserMessage(t *testing.T) {
	outstanding := &services.OutstandingOrderError{Order: models.Order{OrderNumber: "ORD-ABC1234"}}
	tests := []struct {
		err  error
		want string
	}{
		{outstanding, "You have an unpaid order (#ORD-ABC1234). Please complete payment before creating a new order."},
		{fmt.Errorf("save: %w", services.ErrStorage), "⚠️ Could not save your changes. Please try again."},
		{&services.TransitionError{}, "This order can no longer be changed."},
		{services.ErrEmptyCart, "Your cart is empty."},
		{services.ErrNotAuthorized, "Staff only. Use /login <password>."},
		{errors.New("boom"), "Something went wrong. Please try again."},
	}
	for _, tt := range tests {
		if got := userMessage(tt.err); got != tt.want {
			t.Errorf("userMessage(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestUpsertOrderCard(t *testing.T) {
	r := newBotRig(t, nil)
	ctx := context.Background()
	card := services.OrderCardContent{Text: "card"}

	r.bot.UpsertOrderCard(ctx, services.CardCustomer, "o1", testUser, card)
	chatID, msgID, ok, _ := r.cards.Get(ctx, "o1", services.CardCustomer)
	if !ok || chatID != testUser || msgID != 1 {
		t.Fatalf("pointer after first upsert = %d/%d/%v, want %d/1/true", chatID, msgID, ok, testUser)
	}

	r.bot.UpsertOrderCard(ctx, services.CardCustomer, "o1", testUser, card)
	if len(r.api.sent) != 1 || len(r.api.edits) != 1 {
		t.Errorf("second upsert: sent=%d edits=%d, want 1/1", len(r.api.sent), len(r.api.edits))
	}

	r.api.editErr = errors.New("Bad Request: message to edit not found")
	r.bot.UpsertOrderCard(ctx, services.CardCustomer, "o1", testUser, card)
	_, msgID, _, _ = r.cards.Get(ctx, "o1", services.CardCustomer)
	if len(r.api.sent) != 2 || msgID != 2 {
		t.Errorf("after deleted message: sent=%d pointer=%d, want 2/2", len(r.api.sent), msgID)
	}

	r.api.editErr = errors.New("Bad Request: message is not modified")
	r.bot.UpsertOrderCard(ctx, services.CardCustomer, "o1", testUser, card)
	if len(r.api.sent) != 2 {
		t.Errorf("not modified sent a new message: sent=%d, want 2", len(r.api.sent))
	}
}

func TestCheckoutAndPay(t *testing.T) {
	r := newBotRig(t, nil)
	ctx := context.Background()

	r.tap(t, testUser, "add:1:2")
	cart, _ := r.carts.Get(ctx, testUser)
	if cart.ItemCount() != 2 {
		t.Fatalf("cart items = %d, want 2", cart.ItemCount())
	}

	r.tap(t, testUser, "checkout")
	orders, _ := r.machine.Orders(ctx, testUser)
	if len(orders) != 1 || orders[0].Status != models.StatusPendingPayment {
		t.Fatalf("orders after checkout = %+v, want one pending", orders)
	}
	id := orders[0].ID
	if _, _, ok, _ := r.cards.Get(ctx, id, services.CardCustomer); !ok {
		t.Fatal("no customer card after checkout")
	}

	r.tap(t, testUser, "pay:"+id)
	o, _ := r.machine.Order(ctx, testUser, id)
	if o.Status != models.StatusPreparing {
		t.Fatalf("status after pay = %s, want %s", o.Status, models.StatusPreparing)
	}
	if r.api.sentTo(staffChat) != 1 {
		t.Errorf("kitchen cards = %d, want 1", r.api.sentTo(staffChat))
	}
}

func TestSecondCheckoutShowsOutstanding(t *testing.T) {
	r := newBotRig(t, nil)
	r.tap(t, testUser, "buy:2:1")
	r.tap(t, testUser, "buy:3:1")

	found := false
	for _, text := range r.api.sentTexts() {
		if strings.HasPrefix(text, "You have an unpaid order") {
			found = true
		}
	}
	if !found {
		t.Errorf("sent %q, want an unpaid order warning", r.api.sentTexts())
	}
	orders, _ := r.machine.Orders(context.Background(), testUser)
	if len(orders) != 1 {
		t.Errorf("orders = %d, want 1", len(orders))
	}
}

func TestKitchenRequiresStaff(t *testing.T) {
	r := newBotRig(t, nil)
	ctx := context.Background()
	r.tap(t, testUser, "buy:1:1")
	orders, _ := r.machine.Orders(ctx, testUser)
	id := orders[0].ID
	r.tap(t, testUser, "pay:"+id)

	ready := fmt.Sprintf("%s:%d:%s", services.ActionReady, testUser, id)
	r.tap(t, testStaff, ready)
	if o, _ := r.machine.Order(ctx, testUser, id); o.Status != models.StatusPreparing {
		t.Fatalf("status after unauthorised tap = %s, want %s", o.Status, models.StatusPreparing)
	}

	if ok, _ := r.staff.Login(testStaff, "bar-staff"); !ok {
		t.Fatal("Login with the right password failed")
	}
	r.tap(t, testStaff, ready)
	r.tap(t, testStaff, fmt.Sprintf("%s:%d:%s", services.ActionComplete, testUser, id))
	if o, _ := r.machine.Order(ctx, testUser, id); o.Status != models.StatusCompleted {
		t.Errorf("status = %s, want %s", o.Status, models.StatusCompleted)
	}
}

func TestQuickOrderSubmit(t *testing.T) {
	r := newBotRig(t, nil)
	r.tap(t, testUser, "qadd:quick-1")
	r.tap(t, testUser, "qadd:quick-1")
	r.tap(t, testUser, "qqty:quick-1:3")
	r.tap(t, testUser, "qsubmit")

	orders, _ := r.machine.Orders(context.Background(), testUser)
	if len(orders) != 1 || orders[0].Type != models.OriginQuick {
		t.Fatalf("orders = %+v, want one quick order", orders)
	}
	if got := orders[0].Items[0].Quantity; got != 3 {
		t.Errorf("quantity = %d, want 3", got)
	}
	if n := r.bot.d.Quick.For(testUser).ItemCount(); n != 0 {
		t.Errorf("draft after submit has %d items, want 0", n)
	}
}

func TestRefresherRendersEveryMarkedUser(t *testing.T) {
	var mu sync.Mutex
	rendered := map[int64]int{}
	done := make(chan struct{}, 16)
	r := newRefresher(func(_ context.Context, userID int64) {
		mu.Lock()
		rendered[userID]++
		mu.Unlock()
		done <- struct{}{}
	})
	r.Mark(1)
	r.Mark(2)
	r.Mark(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("refresher did not render")
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if rendered[1] != 1 || rendered[2] != 1 {
		t.Errorf("renders = %v, want one per user", rendered)
	}
}

func TestRefresherSurvivesPanic(t *testing.T) {
	done := make(chan int64, 2)
	r := newRefresher(func(_ context.Context, userID int64) {
		if userID == 1 {
			panic("render failed")
		}
		done <- userID
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)
	r.Mark(1)
	r.Mark(2)
	select {
	case got := <-done:
		if got != 2 {
			t.Errorf("rendered %d, want 2", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("refresher stopped after a panic")
	}
}

func TestAddRejectsZeroQuantity(t *testing.T) {
	r := newBotRig(t, nil)
	r.tap(t, testUser, "add:1:0")
	cart, _ := r.carts.Get(context.Background(), testUser)
	if !cart.IsEmpty() {
		t.Errorf("cart after add:1:0 = %+v, want empty", cart.Items)
	}
	texts := r.api.sentTexts()
	if len(texts) != 1 || texts[0] != "Quantity must be at least 1." {
		t.Errorf("sent %q, want the quantity message", texts)
	}
}
