package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"stonkbot/internal/game"
)

// MemoryStore keeps all state in process. Mutations serialize per account and
// per instrument; the map lock is only held for lookups.
type MemoryStore struct {
	mu          sync.RWMutex
	accounts    map[string]game.Account
	instruments map[string]int64
	history     map[string]map[string]int64
	holdings    map[string]map[string]int64

	accountLocks    sync.Map
	instrumentLocks sync.Map
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:    make(map[string]game.Account),
		instruments: make(map[string]int64),
		history:     make(map[string]map[string]int64),
		holdings:    make(map[string]map[string]int64),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) lockAccount(userID string) func() {
	v, _ := s.accountLocks.LoadOrStore(userID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *MemoryStore) lockInstrument(name string) func() {
	v, _ := s.instrumentLocks.LoadOrStore(name, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *MemoryStore) account(userID string, startingWallet int64) (game.Account, bool) {
	s.mu.RLock()
	a, ok := s.accounts[userID]
	s.mu.RUnlock()
	if !ok {
		return game.Account{UserID: userID, Wallet: startingWallet}, false
	}
	return cloneAccount(a), true
}

func (s *MemoryStore) putAccount(a game.Account) {
	s.mu.Lock()
	s.accounts[a.UserID] = cloneAccount(a)
	s.mu.Unlock()
}

func (s *MemoryStore) GetOrCreateAccount(ctx context.Context, userID string, startingWallet int64) (game.Account, error) {
	if err := ctx.Err(); err != nil {
		return game.Account{}, err
	}
	unlock := s.lockAccount(userID)
	defer unlock()
	a, ok := s.account(userID, startingWallet)
	if !ok {
		s.putAccount(a)
	}
	return a, nil
}

func (s *MemoryStore) UpdateAccount(ctx context.Context, userID string, startingWallet int64, fn func(*game.Account) error) (game.Account, error) {
	if err := ctx.Err(); err != nil {
		return game.Account{}, err
	}
	unlock := s.lockAccount(userID)
	defer unlock()
	a, _ := s.account(userID, startingWallet)
	if err := fn(&a); err != nil {
		return game.Account{}, err
	}
	a.UserID = userID
	if err := checkAccount(a); err != nil {
		return game.Account{}, err
	}
	s.putAccount(a)
	return cloneAccount(a), nil
}

func (s *MemoryStore) TopWealth(ctx context.Context, limit int) ([]game.WealthRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	rows := make([]game.WealthRow, 0, len(s.accounts))
	for _, a := range s.accounts {
		rows = append(rows, game.WealthRow{UserID: a.UserID, Wealth: a.Wealth()})
	}
	s.mu.RUnlock()
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Wealth != rows[j].Wealth {
			return rows[i].Wealth > rows[j].Wealth
		}
		return rows[i].UserID < rows[j].UserID
	})
	if limit >= 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (s *MemoryStore) ListInstruments(ctx context.Context) ([]game.Instrument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]game.Instrument, 0, len(s.instruments))
	for name, price := range s.instruments {
		out = append(out, game.Instrument{Name: name, Price: price})
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) InsertInstrument(ctx context.Context, in game.Instrument) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if in.Price < 1 {
		return false, fmt.Errorf("instrument %s: price must be >= 1", in.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instruments[in.Name]; ok {
		return false, nil
	}
	s.instruments[in.Name] = in.Price
	return true, nil
}

func (s *MemoryStore) EvolveInstrument(ctx context.Context, name, day string, step func(int64) int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	unlock := s.lockInstrument(name)
	defer unlock()

	s.mu.RLock()
	current, ok := s.instruments[name]
	s.mu.RUnlock()
	if !ok {
		return 0, game.ErrInstrumentNotFound
	}
	next := step(current)
	if next < 1 {
		return 0, fmt.Errorf("instrument %s: price must be >= 1", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.instruments[name] = next
	days, ok := s.history[name]
	if !ok {
		days = make(map[string]int64)
		s.history[name] = days
	}
	days[day] = next
	return next, nil
}

func (s *MemoryStore) History(ctx context.Context, name string) ([]game.PriceSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	days := s.history[name]
	out := make([]game.PriceSample, 0, len(days))
	for day, price := range days {
		out = append(out, game.PriceSample{Instrument: name, Date: day, Price: price})
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (s *MemoryStore) Trade(ctx context.Context, userID, instrument string, startingWallet int64, fn func(*game.Position) error) (game.Position, error) {
	if err := ctx.Err(); err != nil {
		return game.Position{}, err
	}
	unlock := s.lockAccount(userID)
	defer unlock()

	s.mu.RLock()
	price, ok := s.instruments[instrument]
	qty := s.holdings[userID][instrument]
	s.mu.RUnlock()
	if !ok {
		return game.Position{}, game.ErrInstrumentNotFound
	}
	a, _ := s.account(userID, startingWallet)
	pos := game.Position{Account: a, Quantity: qty, Price: price}
	if err := fn(&pos); err != nil {
		return game.Position{}, err
	}
	pos.Account.UserID = userID
	if err := checkAccount(pos.Account); err != nil {
		return game.Position{}, err
	}
	if pos.Quantity < 0 {
		return game.Position{}, fmt.Errorf("holding %s/%s: quantity must be >= 0", userID, instrument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[userID] = cloneAccount(pos.Account)
	held, ok := s.holdings[userID]
	if !ok {
		held = make(map[string]int64)
		s.holdings[userID] = held
	}
	if pos.Quantity == 0 {
		delete(held, instrument)
	} else {
		held[instrument] = pos.Quantity
	}
	return pos, nil
}

func (s *MemoryStore) Holdings(ctx context.Context, userID string) ([]game.Holding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]game.Holding, 0, len(s.holdings[userID]))
	for name, qty := range s.holdings[userID] {
		price := s.instruments[name]
		v, err := game.HoldingValue(qty, price)
		if err != nil {
			s.mu.RUnlock()
			return nil, fmt.Errorf("value %s: %w", name, err)
		}
		out = append(out, game.Holding{Instrument: name, Quantity: qty, Price: price, MarketValue: v})
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out, nil
}

func cloneAccount(a game.Account) game.Account {
	a.LastInterestAt = cloneTime(a.LastInterestAt)
	a.LastActionAt = cloneTime(a.LastActionAt)
	return a
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func checkAccount(a game.Account) error {
	if a.Wallet < 0 || a.Bank < 0 {
		return fmt.Errorf("account %s: wallet and bank must be >= 0", a.UserID)
	}
	return nil
}
