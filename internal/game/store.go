package game

import "context"

// AccountStore owns account records. UpdateAccount must run fn against the
// latest committed state of a single account and persist the result
// atomically; when fn returns an error nothing is written. Accounts that do
// not exist yet are created with the given starting wallet.
type AccountStore interface {
	GetOrCreateAccount(ctx context.Context, userID string, startingWallet int64) (Account, error)
	UpdateAccount(ctx context.Context, userID string, startingWallet int64, fn func(*Account) error) (Account, error)
	// TopWealth orders by wallet+bank descending, then user id ascending.
	TopWealth(ctx context.Context, limit int) ([]WealthRow, error)
}

// MarketStore owns instruments and their daily price history.
type MarketStore interface {
	// ListInstruments returns instruments ordered by name.
	ListInstruments(ctx context.Context) ([]Instrument, error)
	// InsertInstrument adds an instrument; it reports false when the name is taken.
	InsertInstrument(ctx context.Context, in Instrument) (bool, error)
	// EvolveInstrument replaces the current price with step(current) and
	// upserts the (name, day) history sample in one atomic unit.
	EvolveInstrument(ctx context.Context, name, day string, step func(current int64) int64) (int64, error)
	// History returns samples ordered by day ascending.
	History(ctx context.Context, name string) ([]PriceSample, error)
}

// HoldingStore owns per-user instrument quantities. Trade runs fn against the
// account, the user's holding and the instrument price, and persists account
// and holding atomically. It returns ErrInstrumentNotFound for unknown names.
type HoldingStore interface {
	Trade(ctx context.Context, userID, instrument string, startingWallet int64, fn func(*Position) error) (Position, error)
	Holdings(ctx context.Context, userID string) ([]Holding, error)
}

type Store interface {
	AccountStore
	MarketStore
	HoldingStore
	Close() error
}
