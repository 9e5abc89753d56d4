package game

import (
	"context"
	"log/slog"
	mathrand "math/rand"
	"strings"
	"sync"
	"time"
)

type LedgerPolicy struct {
	StartingWallet   int64
	InterestAPR      float64
	InterestCooldown time.Duration
	WorkCooldown     time.Duration
	WageMin          int64
	WageMax          int64
}

func DefaultLedgerPolicy() LedgerPolicy {
	return LedgerPolicy{
		StartingWallet:   DefaultStartingWallet,
		InterestAPR:      DefaultInterestAPR,
		InterestCooldown: DefaultInterestCooldown,
		WorkCooldown:     DefaultWorkCooldown,
		WageMin:          DefaultWageMin,
		WageMax:          DefaultWageMax,
	}
}

// Ledger applies wallet/bank transfers, interest and wages to accounts.
type Ledger struct {
	store  AccountStore
	policy LedgerPolicy
	log    *slog.Logger
	mu     sync.Mutex
	rand   *mathrand.Rand
}

// NewLedger builds a ledger. A nil src seeds from the clock.
func NewLedger(store AccountStore, policy LedgerPolicy, src mathrand.Source, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	if src == nil {
		src = mathrand.NewSource(time.Now().UnixNano())
	}
	if policy.InterestCooldown < MinInterestCooldown {
		policy.InterestCooldown = MinInterestCooldown
	}
	if policy.InterestAPR < 0 {
		policy.InterestAPR = 0
	}
	if policy.WageMax < policy.WageMin {
		policy.WageMax = policy.WageMin
	}
	return &Ledger{
		store:  store,
		policy: policy,
		log:    logger,
		rand:   mathrand.New(src),
	}
}

func (l *Ledger) Policy() LedgerPolicy {
	return l.policy
}

func (l *Ledger) GetOrCreate(ctx context.Context, userID string) (Account, error) {
	userID, err := cleanUserID(userID)
	if err != nil {
		return Account{}, err
	}
	return l.store.GetOrCreateAccount(ctx, userID, l.policy.StartingWallet)
}

// Deposit moves amount from wallet to bank.
func (l *Ledger) Deposit(ctx context.Context, userID string, amount int64) (Account, error) {
	return l.transfer(ctx, userID, amount, func(a *Account) error {
		if amount > a.Wallet {
			return ErrInsufficientFunds
		}
		a.Wallet -= amount
		a.Bank += amount
		return nil
	})
}

// Withdraw moves amount from bank to wallet.
func (l *Ledger) Withdraw(ctx context.Context, userID string, amount int64) (Account, error) {
	return l.transfer(ctx, userID, amount, func(a *Account) error {
		if amount > a.Bank {
			return ErrInsufficientFunds
		}
		a.Bank -= amount
		a.Wallet += amount
		return nil
	})
}

func (l *Ledger) transfer(ctx context.Context, userID string, amount int64, move func(*Account) error) (Account, error) {
	userID, err := cleanUserID(userID)
	if err != nil {
		return Account{}, err
	}
	if amount <= 0 {
		return Account{}, ErrInvalidAmount
	}
	return l.store.UpdateAccount(ctx, userID, l.policy.StartingWallet, move)
}

// AccrueInterest compounds the bank balance daily for every whole day since the
// last accrual. A first accrual counts as one cooldown period elapsed.
func (l *Ledger) AccrueInterest(ctx context.Context, userID string, now time.Time) (InterestResult, error) {
	userID, err := cleanUserID(userID)
	if err != nil {
		return InterestResult{}, err
	}
	var out InterestResult
	acct, err := l.store.UpdateAccount(ctx, userID, l.policy.StartingWallet, func(a *Account) error {
		cooldown := l.policy.InterestCooldown
		if !Allowed(a.LastInterestAt, cooldown, now) {
			return cooldownErr("interest", a.LastInterestAt, cooldown)
		}
		elapsed := cooldown
		if a.LastInterestAt != nil {
			elapsed = now.Sub(*a.LastInterestAt)
		}
		days := int64(elapsed / interestDay)
		if days < 1 {
			return cooldownErr("interest", a.LastInterestAt, cooldown)
		}
		next, err := compoundDaily(a.Bank, l.policy.InterestAPR, days)
		if err != nil {
			return err
		}
		out.Days = days
		out.Earned = next - a.Bank
		a.Bank = next
		at := stamp(now)
		a.LastInterestAt = &at
		return nil
	})
	if err != nil {
		return InterestResult{}, err
	}
	out.Account = acct
	l.log.Debug("interest accrued", "user_id", userID, "days", out.Days, "earned", out.Earned)
	return out, nil
}

// Work pays a random wage into the wallet, at most once per work cooldown.
func (l *Ledger) Work(ctx context.Context, userID string, now time.Time) (WorkResult, error) {
	userID, err := cleanUserID(userID)
	if err != nil {
		return WorkResult{}, err
	}
	var wage int64
	acct, err := l.store.UpdateAccount(ctx, userID, l.policy.StartingWallet, func(a *Account) error {
		if !Allowed(a.LastActionAt, l.policy.WorkCooldown, now) {
			return cooldownErr("work", a.LastActionAt, l.policy.WorkCooldown)
		}
		wage = l.nextWage()
		next, err := addChecked(a.Wallet, wage)
		if err != nil {
			return err
		}
		a.Wallet = next
		at := stamp(now)
		a.LastActionAt = &at
		return nil
	})
	if err != nil {
		return WorkResult{}, err
	}
	return WorkResult{Account: acct, Wage: wage}, nil
}

func (l *Ledger) nextWage() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	span := l.policy.WageMax - l.policy.WageMin + 1
	return l.policy.WageMin + l.rand.Int63n(span)
}

func cleanUserID(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", ErrInvalidUser
	}
	return userID, nil
}

// stamp rounds now up to the millisecond, the coarsest precision any store
// keeps, so reloading a stamp never shortens a cooldown.
func stamp(now time.Time) time.Time {
	at := now.UTC()
	if t := at.Truncate(time.Millisecond); !t.Equal(at) {
		at = t.Add(time.Millisecond)
	}
	return at
}
