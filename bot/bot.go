package bot

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	"kbar-telegram/config"
	"kbar-telegram/models"
	"kbar-telegram/services"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"
)

// telegramAPI is the part of *tgbotapi.BotAPI the bot sends through.
type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Deps are the services behind the bot.
type Deps struct {
	Carts   *services.CartService
	Machine *services.OrderMachine
	Hub     *services.Hub
	Quick   *services.QuickSessions
	Nav     *services.NavParams
	Staff   *services.StaffAuth
	Cards   services.CardPointers
	Notices *services.NoticeLog
}

type dashboardMsg struct {
	chatID    int64
	messageID int
}

type Bot struct {
	api         telegramAPI
	updatesAPI  *tgbotapi.BotAPI
	staffChatID int64
	d           Deps

	limiter   *chatLimiter
	refresher *refresher

	mu         sync.Mutex
	dashboards map[int64]dashboardMsg // per user
	unsubs     map[int64]func()

	orderLocks sync.Map // map[orderID]*sync.Mutex, serialises edits of one order's cards
	wg         sync.WaitGroup
}

func New(cfg *config.Config, d Deps) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return nil, err
	}
	b := newBot(api, cfg.Telegram.StaffChatID, cfg.Telegram.EditsPerSecond, d)
	b.updatesAPI = api
	return b, nil
}

func newBot(api telegramAPI, staffChatID int64, editsPerSecond float64, d Deps) *Bot {
	if editsPerSecond <= 0 {
		editsPerSecond = 1
	}
	b := &Bot{
		api:         api,
		staffChatID: staffChatID,
		d:           d,
		limiter:     newChatLimiter(editsPerSecond, 3),
		dashboards:  make(map[int64]dashboardMsg),
		unsubs:      make(map[int64]func()),
	}
	b.refresher = newRefresher(b.renderDashboard)
	d.Machine.OnTransition(b.onTransition)
	d.Machine.OnTick(b.onTick)
	return b
}

func (b *Bot) setBotCommands() error {
	cfg := tgbotapi.NewSetMyCommands(
		tgbotapi.BotCommand{Command: "start", Description: "Home"},
		tgbotapi.BotCommand{Command: "menu", Description: "Browse the menu"},
		tgbotapi.BotCommand{Command: "quick", Description: "Quick order"},
		tgbotapi.BotCommand{Command: "cart", Description: "Your cart"},
		tgbotapi.BotCommand{Command: "orders", Description: "Your orders"},
		tgbotapi.BotCommand{Command: "loyalty", Description: "Points and tier"},
		tgbotapi.BotCommand{Command: "search", Description: "Search the menu"},
		tgbotapi.BotCommand{Command: "clear_history", Description: "Remove finished orders"},
	)
	_, err := b.api.Request(cfg)
	return err
}

// Start polls updates until ctx is done.
func (b *Bot) Start(ctx context.Context) {
	if err := b.setBotCommands(); err != nil {
		log.Printf("setBotCommands: %v", err)
	}
	go b.refresher.Run(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.updatesAPI.GetUpdatesChan(u)
	for {
		select {
		case <-ctx.Done():
			b.updatesAPI.StopReceivingUpdates()
			b.Close()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.handleUpdate(ctx, update)
		}
	}
}

// Close drops dashboard subscriptions and waits for in-flight payments.
func (b *Bot) Close() {
	b.mu.Lock()
	for id, unsub := range b.unsubs {
		unsub()
		delete(b.unsubs, id)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		b.handleCallback(ctx, update.CallbackQuery)
		return
	}
	if update.Message == nil || update.Message.From == nil {
		return
	}
	msg := update.Message
	chatID := msg.Chat.ID
	userID := msg.From.ID

	switch msg.Command() {
	case "start":
		b.handleStart(ctx, chatID, userID)
	case "menu":
		b.showScreen(chatID, 0, categoriesScreen(b.cart(ctx, userID)))
	case "cart":
		b.showScreen(chatID, 0, cartScreen(b.cart(ctx, userID)))
	case "quick":
		b.showScreen(chatID, 0, quickScreen(b.d.Quick.For(userID).Items()))
	case "orders":
		b.showOrders(ctx, chatID, userID, 0)
	case "loyalty":
		b.showLoyalty(ctx, chatID, userID, 0)
	case "clear_history":
		b.clearHistory(ctx, chatID, userID, 0)
	case "search":
		q := strings.TrimSpace(msg.CommandArguments())
		b.showScreen(chatID, 0, searchScreen(q, models.SearchMenu(q)))
	case "login":
		b.handleLogin(chatID, userID, strings.TrimSpace(msg.CommandArguments()))
	case "logout":
		b.d.Staff.Logout(userID)
		b.send(chatID, "Logged out.")
	}
}

func (b *Bot) handleStart(ctx context.Context, chatID, userID int64) {
	b.send(chatID, "Welcome to KBar 🍸\nOrder drinks and snacks, pay in the chat and collect at the bar.")
	content, err := b.dashboardContent(ctx, userID)
	if err != nil {
		b.reportError(chatID, err)
		return
	}
	msg := tgbotapi.NewMessage(chatID, content.Text)
	if kb := cardMarkup(content); kb != nil {
		msg.ReplyMarkup = *kb
	}
	sent, err := b.api.Send(msg)
	if err != nil {
		log.Printf("handleStart send dashboard user=%d: %v", userID, err)
		return
	}
	b.mu.Lock()
	b.dashboards[userID] = dashboardMsg{chatID: chatID, messageID: sent.MessageID}
	if _, ok := b.unsubs[userID]; !ok {
		b.unsubs[userID] = b.d.Hub.Subscribe(userID, func() { b.refresher.Mark(userID) })
	}
	b.mu.Unlock()
}

func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.Message == nil || cq.From == nil {
		return
	}
	chatID := cq.Message.Chat.ID
	msgID := cq.Message.MessageID
	userID := cq.From.ID
	action, args := parseCallback(cq.Data)
	toast := ""
	defer func() {
		if _, err := b.api.Request(tgbotapi.NewCallback(cq.ID, toast)); err != nil {
			log.Debugf("answer callback: %v", err)
		}
	}()

	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}
	argInt := func(i int) int {
		n, _ := strconv.Atoi(arg(i))
		return n
	}

	switch action {
	case "noop":
	case "home":
		content, err := b.dashboardContent(ctx, userID)
		if err != nil {
			b.reportError(chatID, err)
			return
		}
		b.showScreen(chatID, msgID, content)
	case "menu":
		b.showScreen(chatID, msgID, categoriesScreen(b.cart(ctx, userID)))
	case "cat":
		b.showScreen(chatID, msgID, categoryScreen(arg(0), models.MenuByCategory(arg(0))))
	case "item":
		item, ok := models.FindMenuItem(arg(0))
		if !ok {
			toast = "This item is no longer on the menu."
			return
		}
		b.showScreen(chatID, msgID, itemScreen(item, argInt(1)))
	case "add":
		item, ok := models.FindMenuItem(arg(0))
		if !ok {
			toast = "This item is no longer on the menu."
			return
		}
		qty := argInt(1)
		if _, err := b.d.Carts.Add(ctx, userID, item, qty); err != nil {
			b.reportError(chatID, err)
			return
		}
		toast = "Added " + strconv.Itoa(qty) + " × " + item.Name + " to your cart"
	case "buy":
		item, ok := models.FindMenuItem(arg(0))
		if !ok {
			toast = "This item is no longer on the menu."
			return
		}
		o, err := b.d.Machine.CreateDirect(ctx, userID, item, argInt(1))
		if err != nil {
			b.reportError(chatID, err)
			return
		}
		b.afterOrderCreated(ctx, chatID, userID, o)
	case "cart":
		b.showScreen(chatID, msgID, cartScreen(b.cart(ctx, userID)))
	case "cqty":
		cart, err := b.d.Carts.UpdateQuantity(ctx, userID, arg(0), argInt(1))
		if err != nil {
			b.reportError(chatID, err)
			return
		}
		b.showScreen(chatID, msgID, cartScreen(cart))
	case "crm":
		cart, err := b.d.Carts.Remove(ctx, userID, arg(0))
		if err != nil {
			b.reportError(chatID, err)
			return
		}
		b.showScreen(chatID, msgID, cartScreen(cart))
	case "cclear":
		if err := b.d.Carts.Clear(ctx, userID); err != nil {
			b.reportError(chatID, err)
			return
		}
		b.showScreen(chatID, msgID, cartScreen(services.Cart{}))
	case "checkout":
		o, err := b.d.Machine.CreateFromCart(ctx, userID)
		if err != nil {
			b.reportError(chatID, err)
			return
		}
		b.afterOrderCreated(ctx, chatID, userID, o)
	case "quick":
		b.showScreen(chatID, msgID, quickScreen(b.d.Quick.For(userID).Items()))
	case "qadd":
		item, ok := models.FindMenuItem(arg(0))
		if !ok {
			toast = "This item is no longer available."
			return
		}
		s := b.d.Quick.For(userID)
		if !s.AddDistinctItem(item, 1) {
			toast = item.Name + " is already in your order"
			return
		}
		b.showScreen(chatID, msgID, quickScreen(s.Items()))
	case "qqty":
		s := b.d.Quick.For(userID)
		s.UpdateQuantity(arg(0), argInt(1))
		b.showScreen(chatID, msgID, quickScreen(s.Items()))
	case "qrm":
		s := b.d.Quick.For(userID)
		s.RemoveItem(arg(0))
		b.showScreen(chatID, msgID, quickScreen(s.Items()))
	case "qclear":
		b.d.Quick.Discard(userID)
		b.showScreen(chatID, msgID, quickScreen(nil))
	case "qsubmit":
		o, err := b.d.Quick.For(userID).Finalize(ctx, b.d.Machine, userID)
		if err != nil {
			b.reportError(chatID, err)
			return
		}
		b.d.Quick.Discard(userID)
		b.afterOrderCreated(ctx, chatID, userID, o)
	case "orders":
		b.showOrders(ctx, chatID, userID, msgID)
	case "hclear":
		b.clearHistory(ctx, chatID, userID, msgID)
	case "loyalty":
		b.showLoyalty(ctx, chatID, userID, msgID)
	case services.ActionView:
		o, err := b.d.Machine.Order(ctx, userID, arg(0))
		if err != nil {
			b.reportError(chatID, err)
			return
		}
		b.refreshCustomerCard(ctx, userID, o.ID)
	case services.ActionPay:
		toast = "Processing payment…"
		orderID := arg(0)
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			if _, err := b.d.Machine.Pay(context.WithoutCancel(ctx), userID, orderID); err != nil {
				b.reportError(chatID, err)
			}
		}()
	case services.ActionCancel:
		if _, err := b.d.Machine.Cancel(ctx, userID, arg(0)); err != nil {
			b.reportError(chatID, err)
			return
		}
		toast = "Order cancelled"
	case services.ActionRetry:
		if _, err := b.d.Machine.Retry(ctx, userID, arg(0)); err != nil {
			b.reportError(chatID, err)
			return
		}
		toast = "Order is waiting for payment again"
	case services.ActionReady, services.ActionComplete:
		toast = b.handleKitchen(ctx, cq.From.ID, action, arg(0), arg(1))
	default:
		log.Debugf("unknown callback %q from user=%d", cq.Data, userID)
	}
}

// afterOrderCreated opens the orders screen with the new order's payment card.
func (b *Bot) afterOrderCreated(ctx context.Context, chatID, userID int64, o models.Order) {
	b.d.Nav.Set(userID, "orders", map[string]string{"orderId": o.ID, "showPayment": "1"})
	b.showOrders(ctx, chatID, userID, 0)
}

func (b *Bot) showOrders(ctx context.Context, chatID, userID int64, editMsgID int) {
	orders, err := b.d.Machine.Orders(ctx, userID)
	if err != nil {
		b.reportError(chatID, err)
		return
	}
	b.showScreen(chatID, editMsgID, ordersScreen(orders))
	if params, ok := b.d.Nav.Consume(userID, "orders"); ok && params["showPayment"] == "1" {
		b.refreshCustomerCard(ctx, userID, params["orderId"])
	}
}

func (b *Bot) showLoyalty(ctx context.Context, chatID, userID int64, editMsgID int) {
	points, err := b.d.Machine.Loyalty(ctx, userID)
	if err != nil {
		b.reportError(chatID, err)
		return
	}
	content := services.BuildLoyaltyCard(points)
	content.Buttons = [][]services.OrderCardButton{{{Text: "⬅️ Back", CallbackData: "home"}}}
	b.showScreen(chatID, editMsgID, content)
}

func (b *Bot) clearHistory(ctx context.Context, chatID, userID int64, editMsgID int) {
	n, err := b.d.Machine.ClearHistory(ctx, userID)
	if err != nil {
		b.reportError(chatID, err)
		return
	}
	if n == 0 {
		b.send(chatID, "Nothing to clear.")
	} else {
		b.send(chatID, "Removed "+strconv.Itoa(n)+" finished order(s). Your points are kept.")
	}
	if editMsgID != 0 {
		b.showOrders(ctx, chatID, userID, editMsgID)
	}
}

func (b *Bot) cart(ctx context.Context, userID int64) services.Cart {
	cart, err := b.d.Carts.Get(ctx, userID)
	if err != nil {
		log.Printf("cart user=%d: %v", userID, err)
	}
	return cart
}

// ---- transitions & countdown ----

func (b *Bot) onTransition(userID int64, o models.Order, from models.OrderStatus) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx := context.Background()
		b.refreshCustomerCard(ctx, userID, o.ID)
		if msg := services.CustomerMessageForOrderStatus(&o); msg != "" && b.d.Notices.ShouldSend(o.ID, o.Status) {
			b.send(userID, msg)
		}
		switch o.Status {
		case models.StatusPreparing, models.StatusReady, models.StatusCompleted:
			b.refreshKitchenCard(ctx, userID, o.ID)
		}
	}()
}

// countdownEditEvery spaces countdown edits; the last ten seconds are shown one by one.
const countdownEditEvery = 15

func (b *Bot) onTick(userID int64, orderID string, remaining int) {
	if remaining%countdownEditEvery != 0 && remaining > 10 {
		return
	}
	ctx := context.Background()
	chatID, messageID, ok, err := b.d.Cards.Get(ctx, orderID, services.CardCustomer)
	if err != nil || !ok || !b.limiter.Allow(chatID) {
		return
	}
	o, err := b.d.Machine.Order(ctx, userID, orderID)
	if err != nil || o.Status != models.StatusPendingPayment {
		return
	}
	content := services.BuildCustomerCard(o, remaining)
	if err := b.edit(chatID, messageID, content); err != nil && !isNotModified(err) {
		log.Debugf("countdown edit order=%s: %v", o.OrderNumber, err)
	}
}

// lockOrder locks by orderID and returns an unlock function.
func (b *Bot) lockOrder(orderID string) func() {
	v, _ := b.orderLocks.LoadOrStore(orderID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// refreshCustomerCard renders the stored state of the order into the user's card.
func (b *Bot) refreshCustomerCard(ctx context.Context, userID int64, orderID string) {
	unlock := b.lockOrder(orderID)
	defer unlock()
	o, err := b.d.Machine.Order(ctx, userID, orderID)
	if err != nil {
		if !errors.Is(err, services.ErrOrderNotFound) {
			log.Printf("refreshCustomerCard user=%d order=%s: %v", userID, orderID, err)
		}
		return
	}
	content := services.BuildCustomerCard(o, b.d.Machine.Remaining(o, b.now()))
	b.UpsertOrderCard(ctx, services.CardCustomer, o.ID, userID, content)
}

func (b *Bot) refreshKitchenCard(ctx context.Context, userID int64, orderID string) {
	if b.staffChatID == 0 {
		return
	}
	unlock := b.lockOrder(services.CardKitchen + ":" + orderID)
	defer unlock()
	o, err := b.d.Machine.Order(ctx, userID, orderID)
	if err != nil {
		return
	}
	b.UpsertOrderCard(ctx, services.CardKitchen, o.ID, b.staffChatID, services.BuildKitchenCard(o, userID))
}

func (b *Bot) handleLogin(chatID, userID int64, password string) {
	if password == "" {
		b.send(chatID, "Usage: /login <password>")
		return
	}
	ok, wait := b.d.Staff.Login(userID, password)
	switch {
	case ok:
		b.send(chatID, "✅ Logged in as staff. Kitchen cards will accept your taps.")
	case wait > 0:
		b.send(chatID, "Too many attempts. Try again in "+strconv.Itoa(wait)+"s.")
	default:
		b.send(chatID, "Wrong password.")
	}
}

func (b *Bot) handleKitchen(ctx context.Context, staffID int64, action, userArg, orderID string) string {
	if err := b.d.Staff.Authorize(staffID); err != nil {
		return userMessage(err)
	}
	userID, err := strconv.ParseInt(userArg, 10, 64)
	if err != nil {
		return "Bad order reference"
	}
	if action == services.ActionReady {
		_, err = b.d.Machine.MarkReady(ctx, userID, orderID)
	} else {
		_, err = b.d.Machine.MarkCompleted(ctx, userID, orderID)
	}
	if err != nil {
		log.Printf("kitchen %s user=%d order=%s: %v", action, userID, orderID, err)
		return userMessage(err)
	}
	return "Updated"
}

// ---- dashboard ----

func (b *Bot) dashboardContent(ctx context.Context, userID int64) (services.OrderCardContent, error) {
	cart, err := b.d.Carts.Get(ctx, userID)
	if err != nil {
		return services.OrderCardContent{}, err
	}
	unpaid, err := b.d.Machine.UnpaidCount(ctx, userID)
	if err != nil {
		return services.OrderCardContent{}, err
	}
	points, err := b.d.Machine.Loyalty(ctx, userID)
	if err != nil {
		return services.OrderCardContent{}, err
	}
	return services.BuildDashboard(cart.ItemCount(), unpaid, points), nil
}

func (b *Bot) renderDashboard(ctx context.Context, userID int64) {
	b.mu.Lock()
	dm, ok := b.dashboards[userID]
	b.mu.Unlock()
	if !ok {
		return
	}
	content, err := b.dashboardContent(ctx, userID)
	if err != nil {
		log.Printf("renderDashboard user=%d: %v", userID, err)
		return
	}
	if err := b.limiter.Wait(ctx, dm.chatID); err != nil {
		return
	}
	if err := b.edit(dm.chatID, dm.messageID, content); err != nil && !isNotModified(err) {
		log.Printf("renderDashboard edit user=%d: %v", userID, err)
	}
}
