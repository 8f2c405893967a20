package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"kbar-telegram/models"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultPaymentTimeout = 300 * time.Second
	tickInterval          = time.Second

	outcomeRetryBase = time.Second
	outcomeRetryMax  = 30 * time.Second
)

type MachineConfig struct {
	Store   *Store
	Clock   Clock
	Settler Settler
	Hub     *Hub
	Locks   *UserLocks
	Metrics *Metrics

	PaymentTimeout time.Duration
	PurgeFailed    bool // ClearHistory also drops payment_failed orders
}

// TickFunc receives the seconds left on a running payment countdown.
type TickFunc func(userID int64, orderID string, remaining int)

// TransitionFunc is called after an order changed status and the change was stored.
type TransitionFunc func(userID int64, order models.Order, from models.OrderStatus)

// OrderMachine owns the orders and loyalty records of every user. All
// mutations of one user run under that user's lock; each transition re-reads
// the stored order and refuses when its precondition no longer holds.
type OrderMachine struct {
	store       *Store
	clock       Clock
	settler     Settler
	hub         *Hub
	locks       *UserLocks
	metrics     *Metrics
	timeout     time.Duration
	purgeFailed bool

	mu          sync.Mutex
	timers      map[string]*paymentTimer // by order id
	retries     map[string]Timer         // pending outcome writes, by order id
	outstanding map[int64]string         // user -> outstanding order id ("" = none)
	onTick      []TickFunc
	onChange    []TransitionFunc
}

type paymentTimer struct {
	userID   int64
	orderID  string
	deadline time.Time
	timer    Timer
}

func NewOrderMachine(cfg MachineConfig) *OrderMachine {
	if cfg.Clock == nil {
		cfg.Clock = RealClock()
	}
	if cfg.Locks == nil {
		cfg.Locks = &UserLocks{}
	}
	if cfg.PaymentTimeout <= 0 {
		cfg.PaymentTimeout = DefaultPaymentTimeout
	}
	if cfg.Settler == nil {
		cfg.Settler = NewSimulatedSettler(2*time.Second, 0.8, nil)
	}
	return &OrderMachine{
		store:       cfg.Store,
		clock:       cfg.Clock,
		settler:     cfg.Settler,
		hub:         cfg.Hub,
		locks:       cfg.Locks,
		metrics:     cfg.Metrics,
		timeout:     cfg.PaymentTimeout,
		purgeFailed: cfg.PurgeFailed,
		timers:      make(map[string]*paymentTimer),
		retries:     make(map[string]Timer),
		outstanding: make(map[int64]string),
	}
}

// OnTick registers a countdown listener, called once per second per running countdown.
func (m *OrderMachine) OnTick(fn TickFunc) {
	m.mu.Lock()
	m.onTick = append(m.onTick, fn)
	m.mu.Unlock()
}

// OnTransition registers a status-change listener.
func (m *OrderMachine) OnTransition(fn TransitionFunc) {
	m.mu.Lock()
	m.onChange = append(m.onChange, fn)
	m.mu.Unlock()
}

func (m *OrderMachine) PaymentTimeout() time.Duration { return m.timeout }

// Now reads the machine's clock.
func (m *OrderMachine) Now() time.Time { return m.clock.Now() }

// Remaining is the whole seconds left on the order's payment countdown, rounded up.
func (m *OrderMachine) Remaining(o models.Order, now time.Time) int {
	if o.Status != models.StatusPendingPayment {
		return 0
	}
	left := o.CountdownStart().Add(m.timeout).Sub(now)
	if left <= 0 {
		return 0
	}
	return int((left + time.Second - 1) / time.Second)
}

// ---- reads ----

func (m *OrderMachine) Orders(ctx context.Context, userID int64) ([]models.Order, error) {
	orders, err := m.store.Orders(ctx, userID)
	if err != nil {
		m.metrics.storageError()
		return nil, err
	}
	return orders, nil
}

func (m *OrderMachine) Order(ctx context.Context, userID int64, orderID string) (models.Order, error) {
	orders, err := m.Orders(ctx, userID)
	if err != nil {
		return models.Order{}, err
	}
	i := findOrder(orders, orderID)
	if i < 0 {
		return models.Order{}, ErrOrderNotFound
	}
	return orders[i], nil
}

func (m *OrderMachine) Loyalty(ctx context.Context, userID int64) (int64, error) {
	points, err := m.store.LoyaltyPoints(ctx, userID)
	if err != nil {
		m.metrics.storageError()
	}
	return points, err
}

// UnpaidCount counts pending_payment, payment_processing and payment_failed orders.
func (m *OrderMachine) UnpaidCount(ctx context.Context, userID int64) (int, error) {
	orders, err := m.Orders(ctx, userID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, o := range orders {
		if o.Status.IsUnpaid() {
			n++
		}
	}
	return n, nil
}

// Outstanding returns the user's pending_payment or payment_processing order, if any.
func (m *OrderMachine) Outstanding(ctx context.Context, userID int64) (models.Order, bool, error) {
	m.mu.Lock()
	id, known := m.outstanding[userID]
	m.mu.Unlock()
	if known && id == "" {
		return models.Order{}, false, nil
	}
	orders, err := m.Orders(ctx, userID)
	if err != nil {
		return models.Order{}, false, err
	}
	m.reindex(userID, orders)
	o, ok := outstandingIn(orders)
	return o, ok, nil
}

// ---- creation ----

// CreateFromCart turns the cart into a pending_payment order and deletes the cart.
func (m *OrderMachine) CreateFromCart(ctx context.Context, userID int64) (models.Order, error) {
	unlock := m.locks.Lock(userID)
	cart, err := m.store.Cart(ctx, userID)
	if err != nil {
		unlock()
		m.metrics.storageError()
		return models.Order{}, err
	}
	if len(cart) == 0 {
		unlock()
		return models.Order{}, ErrEmptyCart
	}
	o, err := m.createLocked(ctx, userID, models.SnapshotItems(cart), models.OriginCart)
	unlock()
	if err != nil {
		return models.Order{}, err
	}
	m.afterCreate(userID, o)
	return o, nil
}

// CreateDirect orders qty of one menu item without going through the cart.
func (m *OrderMachine) CreateDirect(ctx context.Context, userID int64, item models.MenuItem, qty int) (models.Order, error) {
	if qty < 1 {
		return models.Order{}, ErrInvalidQuantity
	}
	items := []models.OrderItem{{
		ID:       item.ID,
		Name:     item.Name,
		Price:    item.Price,
		Quantity: qty,
		Emoji:    item.EmojiFor(),
	}}
	return m.Create(ctx, userID, items, models.OriginMenu)
}

// Create stores a pending_payment order built from items.
func (m *OrderMachine) Create(ctx context.Context, userID int64, items []models.OrderItem, origin models.Origin) (models.Order, error) {
	if len(items) == 0 {
		return models.Order{}, ErrEmptyCart
	}
	for _, it := range items {
		if it.Quantity < 1 {
			return models.Order{}, ErrInvalidQuantity
		}
	}
	unlock := m.locks.Lock(userID)
	o, err := m.createLocked(ctx, userID, items, origin)
	unlock()
	if err != nil {
		return models.Order{}, err
	}
	m.afterCreate(userID, o)
	return o, nil
}

func (m *OrderMachine) createLocked(ctx context.Context, userID int64, items []models.OrderItem, origin models.Origin) (models.Order, error) {
	orders, err := m.store.Orders(ctx, userID)
	if err != nil {
		m.metrics.storageError()
		return models.Order{}, err
	}
	m.reindex(userID, orders)
	if blocking, ok := outstandingIn(orders); ok {
		return models.Order{}, &OutstandingOrderError{Order: blocking}
	}

	o := NewOrder(items, origin, m.clock.Now())
	next := append([]models.Order{o}, orders...)
	if err := m.store.SaveOrders(ctx, userID, next); err != nil {
		m.metrics.storageError()
		log.Errorf("OrderMachine.Create user=%d: %v", userID, err)
		return models.Order{}, err
	}
	m.reindex(userID, next)
	if origin == models.OriginCart {
		if err := m.store.DeleteCart(ctx, userID); err != nil {
			m.metrics.storageError()
			log.Errorf("OrderMachine.Create delete cart user=%d order=%s: %v", userID, o.OrderNumber, err)
		}
	}
	m.arm(userID, o)
	m.metrics.orderCreated(origin)
	return o, nil
}

func (m *OrderMachine) afterCreate(userID int64, o models.Order) {
	log.WithFields(log.Fields{"user": userID, "order": o.OrderNumber, "origin": o.Type, "total": o.Total.StringFixed(2)}).
		Info("order created")
	m.hub.Publish(userID)
	m.notify(userID, o, "")
}

// ---- customer transitions ----

// Pay settles a pending_payment order. It blocks for the settlement latency
// and returns the order in its final state, preparing or payment_failed.
func (m *OrderMachine) Pay(ctx context.Context, userID int64, orderID string) (models.Order, error) {
	o, from, err := m.transition(ctx, userID, orderID, models.StatusPaymentProcessing, nil)
	if err != nil {
		return models.Order{}, err
	}
	m.disarm(orderID)
	m.changed(userID, o, from)

	ok, err := m.settler.Settle(ctx, o)
	if err != nil {
		log.Warnf("OrderMachine.Pay settle user=%d order=%s: %v", userID, o.OrderNumber, err)
		ok = false
	}
	res, err := m.finishPayment(context.WithoutCancel(ctx), userID, orderID, ok)
	if errors.Is(err, ErrStorage) {
		m.retryOutcome(userID, orderID, ok, 0)
	}
	return res, err
}

// retryOutcome re-applies a settlement outcome whose write failed, backing off
// up to outcomeRetryMax, until it is stored or the order left payment_processing.
func (m *OrderMachine) retryOutcome(userID int64, orderID string, success bool, attempt int) {
	delay := outcomeRetryBase << attempt
	if attempt > 5 || delay > outcomeRetryMax {
		delay = outcomeRetryMax
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.retries[orderID]; ok {
		old.Stop()
	}
	var t Timer
	t = m.clock.AfterFunc(delay, func() {
		m.mu.Lock()
		if m.retries[orderID] == t {
			delete(m.retries, orderID)
		}
		m.mu.Unlock()
		_, err := m.finishPayment(context.Background(), userID, orderID, success)
		if errors.Is(err, ErrStorage) {
			log.WithError(err).WithFields(log.Fields{"user": userID, "order": orderID, "attempt": attempt + 1}).
				Error("payment outcome still not stored, retrying")
			m.retryOutcome(userID, orderID, success, attempt+1)
		}
	})
	m.retries[orderID] = t
}

// Recovering reports whether a failed payment outcome write is waiting to be retried.
func (m *OrderMachine) Recovering(orderID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.retries[orderID]
	return ok
}

// finishPayment applies exactly one settlement outcome to a payment_processing order.
func (m *OrderMachine) finishPayment(ctx context.Context, userID int64, orderID string, success bool) (models.Order, error) {
	unlock := m.locks.Lock(userID)
	orders, err := m.store.Orders(ctx, userID)
	if err != nil {
		unlock()
		m.metrics.storageError()
		return models.Order{}, err
	}
	i := findOrder(orders, orderID)
	if i < 0 {
		unlock()
		return models.Order{}, ErrOrderNotFound
	}
	if orders[i].Status != models.StatusPaymentProcessing {
		unlock()
		return orders[i], nil
	}

	next := append([]models.Order(nil), orders...)
	o := &next[i]
	var award, prevPoints int64
	if success {
		o.Status = models.StatusPreparing
		if !o.LoyaltyAwarded {
			award = PointsFor(o.Total)
			o.LoyaltyAwarded = true
		}
	} else {
		o.Status = models.StatusPaymentFailed
	}

	if award > 0 {
		prevPoints, err = m.store.LoyaltyPoints(ctx, userID)
		if err == nil {
			err = m.store.SaveLoyaltyPoints(ctx, userID, prevPoints+award)
		}
		if err != nil {
			unlock()
			m.metrics.storageError()
			log.Errorf("OrderMachine.Pay award user=%d order=%s: %v", userID, o.OrderNumber, err)
			return orders[i], err
		}
	}
	if err := m.store.SaveOrders(ctx, userID, next); err != nil {
		if award > 0 {
			if rbErr := m.store.SaveLoyaltyPoints(ctx, userID, prevPoints); rbErr != nil {
				log.Errorf("OrderMachine.Pay rollback points user=%d: %v", userID, rbErr)
			}
		}
		unlock()
		m.metrics.storageError()
		log.Errorf("OrderMachine.Pay save user=%d order=%s: %v", userID, o.OrderNumber, err)
		return orders[i], err
	}
	m.reindex(userID, next)
	result := *o
	unlock()

	m.metrics.payment(success)
	if award > 0 {
		m.metrics.awarded(award)
	}
	m.changed(userID, result, models.StatusPaymentProcessing)
	return result, nil
}

// Cancel moves a pending_payment or payment_failed order to cancelled.
func (m *OrderMachine) Cancel(ctx context.Context, userID int64, orderID string) (models.Order, error) {
	o, from, err := m.transition(ctx, userID, orderID, models.StatusCancelled, nil)
	if err != nil {
		return models.Order{}, err
	}
	m.disarm(orderID)
	m.metrics.cancelled()
	m.changed(userID, o, from)
	return o, nil
}

// Retry puts a payment_failed or cancelled order back to pending_payment with
// a fresh countdown. It is refused while another order is outstanding.
func (m *OrderMachine) Retry(ctx context.Context, userID int64, orderID string) (models.Order, error) {
	o, from, err := m.transition(ctx, userID, orderID, models.StatusPendingPayment, func(orders []models.Order, o *models.Order) error {
		if blocking, ok := outstandingIn(orders); ok && blocking.ID != o.ID {
			return &OutstandingOrderError{Order: blocking}
		}
		now := m.clock.Now()
		o.PaymentStartedAt = &now
		return nil
	})
	if err != nil {
		return models.Order{}, err
	}
	m.changed(userID, o, from)
	return o, nil
}

// ---- kitchen transitions ----

func (m *OrderMachine) MarkReady(ctx context.Context, userID int64, orderID string) (models.Order, error) {
	o, from, err := m.transition(ctx, userID, orderID, models.StatusReady, nil)
	if err != nil {
		return models.Order{}, err
	}
	m.changed(userID, o, from)
	return o, nil
}

func (m *OrderMachine) MarkCompleted(ctx context.Context, userID int64, orderID string) (models.Order, error) {
	o, from, err := m.transition(ctx, userID, orderID, models.StatusCompleted, nil)
	if err != nil {
		return models.Order{}, err
	}
	m.changed(userID, o, from)
	return o, nil
}

// ---- timeout ----

// Expire cancels a pending_payment order whose countdown has run out.
// It reports false when there was nothing to do.
func (m *OrderMachine) Expire(ctx context.Context, userID int64, orderID string) (bool, error) {
	unlock := m.locks.Lock(userID)
	orders, err := m.store.Orders(ctx, userID)
	if err != nil {
		unlock()
		m.metrics.storageError()
		return false, err
	}
	i := findOrder(orders, orderID)
	if i < 0 || orders[i].Status != models.StatusPendingPayment {
		unlock()
		m.disarm(orderID)
		return false, nil
	}
	if m.clock.Now().Before(orders[i].CountdownStart().Add(m.timeout)) {
		unlock()
		return false, nil
	}
	next := append([]models.Order(nil), orders...)
	next[i].Status = models.StatusCancelled
	if err := m.store.SaveOrders(ctx, userID, next); err != nil {
		unlock()
		m.metrics.storageError()
		return false, err
	}
	m.reindex(userID, next)
	o := next[i]
	unlock()

	m.disarm(orderID)
	m.metrics.timeout()
	log.WithFields(log.Fields{"user": userID, "order": o.OrderNumber}).Info("payment countdown expired")
	m.changed(userID, o, models.StatusPendingPayment)
	return true, nil
}

// Resume re-arms countdowns of stored pending_payment orders, expiring the
// overdue ones. Settlements interrupted by a restart are marked payment_failed.
func (m *OrderMachine) Resume(ctx context.Context, userID int64) error {
	unlock := m.locks.Lock(userID)
	orders, err := m.store.Orders(ctx, userID)
	if err != nil {
		unlock()
		m.metrics.storageError()
		return err
	}
	now := m.clock.Now()
	next := append([]models.Order(nil), orders...)
	var changed []models.Order
	var overdue []string
	for i := range next {
		switch next[i].Status {
		case models.StatusPaymentProcessing:
			next[i].Status = models.StatusPaymentFailed
			changed = append(changed, next[i])
		case models.StatusPendingPayment:
			if !now.Before(next[i].CountdownStart().Add(m.timeout)) {
				overdue = append(overdue, next[i].ID)
			}
		}
	}
	if len(changed) > 0 {
		if err := m.store.SaveOrders(ctx, userID, next); err != nil {
			unlock()
			m.metrics.storageError()
			return err
		}
	}
	m.reindex(userID, next)
	for _, o := range next {
		if o.Status == models.StatusPendingPayment {
			m.arm(userID, o)
		}
	}
	unlock()

	for _, o := range changed {
		m.changed(userID, o, models.StatusPaymentProcessing)
	}
	for _, id := range overdue {
		if _, err := m.Expire(ctx, userID, id); err != nil {
			log.Errorf("OrderMachine.Resume expire user=%d order=%s: %v", userID, id, err)
		}
	}
	return nil
}

// ResumeAll resumes every user the store can enumerate.
func (m *OrderMachine) ResumeAll(ctx context.Context) error {
	ids, err := m.store.UserIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := m.Resume(ctx, id); err != nil {
			log.Errorf("OrderMachine.ResumeAll user=%d: %v", id, err)
		}
	}
	return nil
}

// ---- history ----

// ClearHistory drops completed and cancelled orders (and payment_failed ones
// when configured). Loyalty points are not touched.
func (m *OrderMachine) ClearHistory(ctx context.Context, userID int64) (int, error) {
	unlock := m.locks.Lock(userID)
	orders, err := m.store.Orders(ctx, userID)
	if err != nil {
		unlock()
		m.metrics.storageError()
		return 0, err
	}
	kept := make([]models.Order, 0, len(orders))
	for _, o := range orders {
		if o.Status.IsTerminal() || (m.purgeFailed && o.Status == models.StatusPaymentFailed) {
			continue
		}
		kept = append(kept, o)
	}
	removed := len(orders) - len(kept)
	if removed == 0 {
		unlock()
		return 0, nil
	}
	if err := m.store.SaveOrders(ctx, userID, kept); err != nil {
		unlock()
		m.metrics.storageError()
		return 0, err
	}
	m.reindex(userID, kept)
	unlock()
	m.hub.Publish(userID)
	return removed, nil
}

// ---- internals ----

// transition moves orderID to status `to` if allowedTransitions permits it from
// its stored status. check may veto or amend the order before it is saved.
func (m *OrderMachine) transition(ctx context.Context, userID int64, orderID string, to models.OrderStatus,
	check func(orders []models.Order, o *models.Order) error) (models.Order, models.OrderStatus, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	orders, err := m.store.Orders(ctx, userID)
	if err != nil {
		m.metrics.storageError()
		return models.Order{}, "", err
	}
	i := findOrder(orders, orderID)
	if i < 0 {
		return models.Order{}, "", ErrOrderNotFound
	}
	from := orders[i].Status
	if !ValidStatusTransition(from, to) {
		return models.Order{}, "", &TransitionError{OrderID: orders[i].OrderNumber, From: from, To: to}
	}
	next := append([]models.Order(nil), orders...)
	next[i].Status = to
	if check != nil {
		if err := check(orders, &next[i]); err != nil {
			return models.Order{}, "", err
		}
	}
	if err := m.store.SaveOrders(ctx, userID, next); err != nil {
		m.metrics.storageError()
		log.Errorf("OrderMachine transition user=%d order=%s %s->%s: %v", userID, orderID, from, to, err)
		return models.Order{}, "", err
	}
	m.reindex(userID, next)
	if to == models.StatusPendingPayment {
		m.arm(userID, next[i])
	}
	return next[i], from, nil
}

func (m *OrderMachine) changed(userID int64, o models.Order, from models.OrderStatus) {
	log.WithFields(log.Fields{"user": userID, "order": o.OrderNumber, "from": from, "to": o.Status}).
		Info("order transition")
	m.hub.Publish(userID)
	m.notify(userID, o, from)
}

func (m *OrderMachine) notify(userID int64, o models.Order, from models.OrderStatus) {
	m.mu.Lock()
	fns := append([]TransitionFunc(nil), m.onChange...)
	m.mu.Unlock()
	for _, fn := range fns {
		fn(userID, o, from)
	}
}

func (m *OrderMachine) reindex(userID int64, orders []models.Order) {
	id := ""
	if o, ok := outstandingIn(orders); ok {
		id = o.ID
	}
	m.mu.Lock()
	m.outstanding[userID] = id
	m.mu.Unlock()
}

// arm starts (or restarts) the countdown of a pending_payment order.
func (m *OrderMachine) arm(userID int64, o models.Order) {
	deadline := o.CountdownStart().Add(m.timeout)
	pt := &paymentTimer{userID: userID, orderID: o.ID, deadline: deadline}
	m.mu.Lock()
	if old, ok := m.timers[o.ID]; ok {
		old.timer.Stop()
	} else {
		m.metrics.timerArmed(1)
	}
	m.timers[o.ID] = pt
	pt.timer = m.clock.AfterFunc(nextTick(deadline.Sub(m.clock.Now())), func() { m.tick(pt) })
	m.mu.Unlock()
}

func (m *OrderMachine) disarm(orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pt, ok := m.timers[orderID]; ok {
		pt.timer.Stop()
		delete(m.timers, orderID)
		m.metrics.timerArmed(-1)
	}
}

// Armed reports whether a countdown is running for the order.
func (m *OrderMachine) Armed(orderID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.timers[orderID]
	return ok
}

func (m *OrderMachine) tick(pt *paymentTimer) {
	m.mu.Lock()
	if m.timers[pt.orderID] != pt {
		m.mu.Unlock()
		return
	}
	left := pt.deadline.Sub(m.clock.Now())
	if left > 0 {
		pt.timer = m.clock.AfterFunc(nextTick(left), func() { m.tick(pt) })
	}
	fns := append([]TickFunc(nil), m.onTick...)
	m.mu.Unlock()

	if left > 0 {
		remaining := int((left + time.Second - 1) / time.Second)
		for _, fn := range fns {
			fn(pt.userID, pt.orderID, remaining)
		}
		return
	}
	if _, err := m.Expire(context.Background(), pt.userID, pt.orderID); err != nil {
		log.Errorf("OrderMachine expire user=%d order=%s: %v", pt.userID, pt.orderID, err)
		if errors.Is(err, ErrStorage) {
			m.mu.Lock()
			if m.timers[pt.orderID] == pt {
				pt.timer = m.clock.AfterFunc(tickInterval, func() { m.tick(pt) })
			}
			m.mu.Unlock()
		}
	}
}

func nextTick(left time.Duration) time.Duration {
	if left <= 0 {
		return 0
	}
	if left < tickInterval {
		return left
	}
	return tickInterval
}

func findOrder(orders []models.Order, id string) int {
	for i := range orders {
		if orders[i].ID == id {
			return i
		}
	}
	return -1
}

func outstandingIn(orders []models.Order) (models.Order, bool) {
	for _, o := range orders {
		if o.Status.IsOutstanding() {
			return o, true
		}
	}
	return models.Order{}, false
}
