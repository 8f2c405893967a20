package services

import (
	"math"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const ThrottleCooldownCapSeconds = 30

// StaffAuth is the kitchen login: one shared password checked against a
// bcrypt hash. Failed attempts put the user on an exponential cooldown.
type StaffAuth struct {
	hash  []byte
	clock Clock

	mu       sync.Mutex
	loggedIn map[int64]bool
	throttle map[int64]*loginThrottle
}

type loginThrottle struct {
	failCount     int
	cooldownUntil time.Time
}

func NewStaffAuth(passwordHash string, clock Clock) *StaffAuth {
	if clock == nil {
		clock = RealClock()
	}
	return &StaffAuth{
		hash:     []byte(passwordHash),
		clock:    clock,
		loggedIn: make(map[int64]bool),
		throttle: make(map[int64]*loginThrottle),
	}
}

// HashPassword returns the bcrypt hash to put in STAFF_PASSWORD_HASH.
func HashPassword(plain string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	return string(h), err
}

// Login checks the password. wait is the cooldown left, in seconds, when the
// attempt was refused without checking.
func (a *StaffAuth) Login(userID int64, password string) (ok bool, wait int) {
	if wait := a.WaitSeconds(userID); wait > 0 {
		return false, wait
	}
	if len(a.hash) == 0 || bcrypt.CompareHashAndPassword(a.hash, []byte(password)) != nil {
		a.recordFailed(userID)
		return false, 0
	}
	a.mu.Lock()
	a.loggedIn[userID] = true
	delete(a.throttle, userID)
	a.mu.Unlock()
	return true, 0
}

func (a *StaffAuth) Logout(userID int64) {
	a.mu.Lock()
	delete(a.loggedIn, userID)
	a.mu.Unlock()
}

func (a *StaffAuth) IsStaff(userID int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loggedIn[userID]
}

// Authorize returns ErrNotAuthorized unless userID is logged in.
func (a *StaffAuth) Authorize(userID int64) error {
	if !a.IsStaff(userID) {
		return ErrNotAuthorized
	}
	return nil
}

// WaitSeconds returns how many seconds the user must wait before trying again (0 if no cooldown).
func (a *StaffAuth) WaitSeconds(userID int64) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.throttle[userID]
	if !ok {
		return 0
	}
	left := t.cooldownUntil.Sub(a.clock.Now())
	if left <= 0 {
		return 0
	}
	return int(left.Seconds()) + 1
}

func (a *StaffAuth) recordFailed(userID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.throttle[userID]
	if !ok {
		t = &loginThrottle{}
		a.throttle[userID] = t
	}
	t.failCount++
	t.cooldownUntil = a.clock.Now().Add(time.Duration(CooldownSecondsForFailCount(t.failCount)) * time.Second)
}

// CooldownSecondsForFailCount returns min(30, 2^failCount).
func CooldownSecondsForFailCount(failCount int) int {
	s := int(math.Pow(2, float64(failCount)))
	if s > ThrottleCooldownCapSeconds {
		return ThrottleCooldownCapSeconds
	}
	return s
}
