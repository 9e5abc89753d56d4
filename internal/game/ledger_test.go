package game_test

import (
	"context"
	"errors"
	mathrand "math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"stonkbot/internal/db"
	"stonkbot/internal/game"
)

func newLedger(t *testing.T) (*game.Ledger, *db.MemoryStore) {
	t.Helper()
	store := db.NewMemoryStore()
	return game.NewLedger(store, game.DefaultLedgerPolicy(), mathrand.NewSource(1), nil), store
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	ledger, _ := newLedger(t)
	ctx := context.Background()
	a, err := ledger.GetOrCreate(ctx, "alice")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if a.Wallet != 1000 || a.Bank != 0 {
		t.Fatalf("unexpected defaults: %+v", a)
	}
	if _, err := ledger.Deposit(ctx, "alice", 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	b, err := ledger.GetOrCreate(ctx, "alice")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if b.Wallet != 900 || b.Bank != 100 {
		t.Fatalf("second lookup reset the account: %+v", b)
	}
	if _, err := ledger.GetOrCreate(ctx, "  "); err == nil {
		t.Fatalf("expected blank user id to fail")
	}
}

func TestDepositWithdrawRoundTrip(t *testing.T) {
	ledger, _ := newLedger(t)
	ctx := context.Background()
	before, err := ledger.GetOrCreate(ctx, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	mid, err := ledger.Deposit(ctx, "alice", 400)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if mid.Wallet != 600 || mid.Bank != 400 || mid.Wealth() != before.Wealth() {
		t.Fatalf("deposit changed total or moved wrong amount: %+v", mid)
	}
	after, err := ledger.Withdraw(ctx, "alice", 400)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if after.Wallet != before.Wallet || after.Bank != before.Bank {
		t.Fatalf("round trip mismatch: before=%+v after=%+v", before, after)
	}
}

func TestTransferValidation(t *testing.T) {
	ledger, _ := newLedger(t)
	ctx := context.Background()

	for _, amount := range []int64{0, -5} {
		if _, err := ledger.Deposit(ctx, "alice", amount); !errors.Is(err, game.ErrInvalidAmount) {
			t.Fatalf("deposit(%d): expected ErrInvalidAmount, got %v", amount, err)
		}
		if _, err := ledger.Withdraw(ctx, "alice", amount); !errors.Is(err, game.ErrInvalidAmount) {
			t.Fatalf("withdraw(%d): expected ErrInvalidAmount, got %v", amount, err)
		}
	}
	if _, err := ledger.Deposit(ctx, "alice", 1001); !errors.Is(err, game.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if _, err := ledger.Withdraw(ctx, "alice", 1); !errors.Is(err, game.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	a, err := ledger.GetOrCreate(ctx, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if a.Wallet != 1000 || a.Bank != 0 {
		t.Fatalf("failed transfers changed state: %+v", a)
	}

	if _, err := ledger.Deposit(ctx, "alice", 1000); err != nil {
		t.Fatalf("deposit whole wallet: %v", err)
	}
	if _, err := ledger.Withdraw(ctx, "alice", 1000); err != nil {
		t.Fatalf("withdraw whole bank: %v", err)
	}
}

func TestConcurrentTransfersKeepBalancesNonNegative(t *testing.T) {
	ledger, _ := newLedger(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = ledger.Deposit(ctx, "alice", 30)
		}()
		go func() {
			defer wg.Done()
			_, _ = ledger.Withdraw(ctx, "alice", 20)
		}()
	}
	wg.Wait()
	a, err := ledger.GetOrCreate(ctx, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if a.Wallet < 0 || a.Bank < 0 {
		t.Fatalf("negative balance: %+v", a)
	}
	if a.Wealth() != 1000 {
		t.Fatalf("transfers changed total wealth: %+v", a)
	}
}

func TestAccrueInterest(t *testing.T) {
	ledger, _ := newLedger(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

	if _, err := ledger.Deposit(ctx, "alice", 1000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	first, err := ledger.AccrueInterest(ctx, "alice", now)
	if err != nil {
		t.Fatalf("first accrual: %v", err)
	}
	if first.Days != 1 || first.Account.Bank != 1000 {
		t.Fatalf("first accrual = %+v, want one day and bank 1000", first)
	}
	if first.Account.LastInterestAt == nil || !first.Account.LastInterestAt.Equal(now) {
		t.Fatalf("last interest not recorded: %+v", first.Account)
	}

	_, err = ledger.AccrueInterest(ctx, "alice", now.Add(time.Hour))
	if !errors.Is(err, game.ErrCooldownActive) {
		t.Fatalf("expected ErrCooldownActive, got %v", err)
	}
	var cd *game.CooldownError
	if !errors.As(err, &cd) || !cd.RetryAt.Equal(now.Add(24*time.Hour)) {
		t.Fatalf("expected retry hint at +24h, got %v", err)
	}

	if _, err := ledger.AccrueInterest(ctx, "alice", now.Add(24*time.Hour)); !errors.Is(err, game.ErrCooldownActive) {
		t.Fatalf("exactly one cooldown elapsed should still be gated, got %v", err)
	}

	later, err := ledger.AccrueInterest(ctx, "alice", now.Add(30*24*time.Hour))
	if err != nil {
		t.Fatalf("later accrual: %v", err)
	}
	if later.Days != 30 {
		t.Fatalf("days = %d, want 30", later.Days)
	}
	if later.Account.Bank < first.Account.Bank {
		t.Fatalf("interest decreased bank: %d -> %d", first.Account.Bank, later.Account.Bank)
	}
	if later.Account.Bank != 1004 {
		t.Fatalf("bank = %d, want 1004", later.Account.Bank)
	}
}

func TestAccrueInterestOnLargeBalance(t *testing.T) {
	store := db.NewMemoryStore()
	policy := game.DefaultLedgerPolicy()
	policy.StartingWallet = 1_000_000
	ledger := game.NewLedger(store, policy, mathrand.NewSource(1), nil)
	ctx := context.Background()
	if _, err := ledger.Deposit(ctx, "whale", 1_000_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	out, err := ledger.AccrueInterest(ctx, "whale", time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if out.Account.Bank != 1_000_136 || out.Earned != 136 {
		t.Fatalf("unexpected accrual: %+v", out)
	}
}

func TestWorkIsGated(t *testing.T) {
	ledger, _ := newLedger(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	policy := ledger.Policy()

	first, err := ledger.Work(ctx, "alice", now)
	if err != nil {
		t.Fatalf("work: %v", err)
	}
	if first.Wage < policy.WageMin || first.Wage > policy.WageMax {
		t.Fatalf("wage %d outside [%d, %d]", first.Wage, policy.WageMin, policy.WageMax)
	}
	if first.Account.Wallet != 1000+first.Wage || first.Account.Bank != 0 {
		t.Fatalf("wage not credited to wallet: %+v", first)
	}

	if _, err := ledger.Work(ctx, "alice", now.Add(policy.WorkCooldown)); !errors.Is(err, game.ErrCooldownActive) {
		t.Fatalf("expected ErrCooldownActive, got %v", err)
	}
	if _, err := ledger.Work(ctx, "alice", now.Add(policy.WorkCooldown+time.Second)); err != nil {
		t.Fatalf("work after cooldown: %v", err)
	}

	// The work gate does not touch the interest gate.
	if _, err := ledger.AccrueInterest(ctx, "alice", now); err != nil {
		t.Fatalf("interest after work: %v", err)
	}
}

func TestShortInterestCooldownIsClamped(t *testing.T) {
	policy := game.DefaultLedgerPolicy()
	policy.InterestCooldown = time.Hour
	ledger := game.NewLedger(db.NewMemoryStore(), policy, mathrand.NewSource(1), nil)
	if got := ledger.Policy().InterestCooldown; got != game.MinInterestCooldown {
		t.Fatalf("interest cooldown = %s, want %s", got, game.MinInterestCooldown)
	}

	ctx := context.Background()
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	first, err := ledger.AccrueInterest(ctx, "alice", now)
	if err != nil {
		t.Fatalf("first interest: %v", err)
	}
	if first.Days != 1 || first.Account.LastInterestAt == nil {
		t.Fatalf("unexpected first accrual: %+v", first)
	}
	_, err = ledger.AccrueInterest(ctx, "alice", now.Add(2*time.Hour))
	var cd *game.CooldownError
	if !errors.As(err, &cd) {
		t.Fatalf("expected *CooldownError, got %v", err)
	}
	if !cd.RetryAt.Equal(now.Add(24 * time.Hour)) {
		t.Fatalf("retry at = %s", cd.RetryAt)
	}
}

func TestWorkGateHoldsAcrossStorePrecision(t *testing.T) {
	sqlite, err := db.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "stonkbot.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqlite.Close() })

	stores := map[string]game.AccountStore{
		"memory": db.NewMemoryStore(),
		"sqlite": sqlite,
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ledger := game.NewLedger(store, game.DefaultLedgerPolicy(), mathrand.NewSource(1), nil)
			ctx := context.Background()
			now := time.Date(2026, 5, 1, 0, 0, 0, 900_000, time.UTC)
			if _, err := ledger.Work(ctx, "alice", now); err != nil {
				t.Fatalf("work: %v", err)
			}
			cooldown := ledger.Policy().WorkCooldown
			if _, err := ledger.Work(ctx, "alice", now.Add(cooldown)); !errors.Is(err, game.ErrCooldownActive) {
				t.Fatalf("expected ErrCooldownActive at exactly the cooldown, got %v", err)
			}
			if _, err := ledger.Work(ctx, "alice", now.Add(cooldown+time.Millisecond)); err != nil {
				t.Fatalf("work after cooldown: %v", err)
			}
		})
	}
}
