package services

import "sync"

// NavParams carries one-shot parameters to the next screen a user opens,
// e.g. the order to pay when the orders screen is shown. A value is
// delivered to at most one Consume.
type NavParams struct {
	mu     sync.Mutex
	params map[navKey]map[string]string
}

type navKey struct {
	userID int64
	route  string
}

func NewNavParams() *NavParams {
	return &NavParams{params: make(map[navKey]map[string]string)}
}

// Set replaces any pending params for (userID, route).
func (n *NavParams) Set(userID int64, route string, params map[string]string) {
	cp := make(map[string]string, len(params))
	for k, v := range params {
		cp[k] = v
	}
	n.mu.Lock()
	n.params[navKey{userID, route}] = cp
	n.mu.Unlock()
}

// Consume returns and deletes the pending params.
func (n *NavParams) Consume(userID int64, route string) (map[string]string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	k := navKey{userID, route}
	p, ok := n.params[k]
	if ok {
		delete(n.params, k)
	}
	return p, ok
}
