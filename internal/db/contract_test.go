package db

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"stonkbot/internal/game"
)

func runStoreContract(t *testing.T, open func(t *testing.T) game.Store) {
	t.Run("GetOrCreateDefaults", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		a, err := s.GetOrCreateAccount(ctx, "u1", 1000)
		if err != nil {
			t.Fatalf("get or create: %v", err)
		}
		if a.UserID != "u1" || a.Wallet != 1000 || a.Bank != 0 || a.LastInterestAt != nil || a.LastActionAt != nil {
			t.Fatalf("unexpected defaults: %+v", a)
		}
		if _, err := s.UpdateAccount(ctx, "u1", 1000, func(a *game.Account) error {
			a.Wallet = 400
			a.Bank = 600
			return nil
		}); err != nil {
			t.Fatalf("update: %v", err)
		}
		again, err := s.GetOrCreateAccount(ctx, "u1", 1000)
		if err != nil {
			t.Fatalf("get or create again: %v", err)
		}
		if again.Wallet != 400 || again.Bank != 600 {
			t.Fatalf("expected existing record, got %+v", again)
		}
	})

	t.Run("TimestampsKeepMilliseconds", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		at := time.Date(2026, 5, 1, 0, 0, 0, 123_000_000, time.UTC)
		if _, err := s.UpdateAccount(ctx, "u1", 1000, func(a *game.Account) error {
			a.LastActionAt = &at
			return nil
		}); err != nil {
			t.Fatalf("update: %v", err)
		}
		a, err := s.GetOrCreateAccount(ctx, "u1", 1000)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if a.LastActionAt == nil || !a.LastActionAt.Equal(at) {
			t.Fatalf("last action = %v, want %v", a.LastActionAt, at)
		}
	})

	t.Run("UpdatePersistsTimestamps", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		if _, err := s.UpdateAccount(ctx, "u1", 1000, func(a *game.Account) error {
			a.LastInterestAt = &at
			a.LastActionAt = &at
			return nil
		}); err != nil {
			t.Fatalf("update: %v", err)
		}
		a, err := s.GetOrCreateAccount(ctx, "u1", 1000)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if a.LastInterestAt == nil || !a.LastInterestAt.Equal(at) {
			t.Fatalf("last interest = %v, want %v", a.LastInterestAt, at)
		}
		if a.LastActionAt == nil || !a.LastActionAt.Equal(at) {
			t.Fatalf("last action = %v, want %v", a.LastActionAt, at)
		}
	})

	t.Run("FailedUpdateWritesNothing", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		boom := errors.New("boom")
		_, err := s.UpdateAccount(ctx, "ghost", 1000, func(a *game.Account) error {
			a.Wallet = 5
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		rows, err := s.TopWealth(ctx, 10)
		if err != nil {
			t.Fatalf("top wealth: %v", err)
		}
		if len(rows) != 0 {
			t.Fatalf("expected no accounts after failed update, got %+v", rows)
		}

		if _, err := s.GetOrCreateAccount(ctx, "u1", 1000); err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := s.UpdateAccount(ctx, "u1", 1000, func(a *game.Account) error {
			a.Wallet = -1
			return nil
		}); err == nil {
			t.Fatalf("expected negative wallet to be rejected")
		}
		a, err := s.GetOrCreateAccount(ctx, "u1", 1000)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if a.Wallet != 1000 {
			t.Fatalf("wallet changed after rejected write: %d", a.Wallet)
		}
	})

	t.Run("ConcurrentUpdatesSerialize", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		const workers = 20
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.UpdateAccount(ctx, "hot", 1000, func(a *game.Account) error {
					a.Wallet--
					a.Bank++
					return nil
				})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("concurrent update: %v", err)
			}
		}
		a, err := s.GetOrCreateAccount(ctx, "hot", 1000)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if a.Wallet != 1000-workers || a.Bank != workers {
			t.Fatalf("lost update: %+v", a)
		}
	})

	t.Run("TopWealthOrdering", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		for id, wealth := range map[string]int64{"A": 500, "B": 1500, "C": 1500, "D": 200} {
			w := wealth
			if _, err := s.UpdateAccount(ctx, id, 0, func(a *game.Account) error {
				a.Wallet = w / 2
				a.Bank = w - w/2
				return nil
			}); err != nil {
				t.Fatalf("seed %s: %v", id, err)
			}
		}
		rows, err := s.TopWealth(ctx, 3)
		if err != nil {
			t.Fatalf("top wealth: %v", err)
		}
		want := []string{"B", "C", "A"}
		if len(rows) != len(want) {
			t.Fatalf("got %d rows, want %d", len(rows), len(want))
		}
		for i, id := range want {
			if rows[i].UserID != id {
				t.Fatalf("row %d = %s, want %s (%+v)", i, rows[i].UserID, id, rows)
			}
		}
		if rows[0].Wealth != 1500 || rows[2].Wealth != 500 {
			t.Fatalf("unexpected wealth values: %+v", rows)
		}
	})

	t.Run("InstrumentsAndHistory", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		for _, in := range []game.Instrument{{Name: "ZED", Price: 10}, {Name: "ACME", Price: 50}} {
			ok, err := s.InsertInstrument(ctx, in)
			if err != nil || !ok {
				t.Fatalf("insert %s: ok=%v err=%v", in.Name, ok, err)
			}
		}
		ok, err := s.InsertInstrument(ctx, game.Instrument{Name: "ACME", Price: 99})
		if err != nil {
			t.Fatalf("duplicate insert: %v", err)
		}
		if ok {
			t.Fatalf("expected duplicate insert to report false")
		}

		list, err := s.ListInstruments(ctx)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(list) != 2 || list[0].Name != "ACME" || list[0].Price != 50 || list[1].Name != "ZED" {
			t.Fatalf("unexpected instruments: %+v", list)
		}

		hist, err := s.History(ctx, "ACME")
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(hist) != 0 {
			t.Fatalf("expected empty history, got %+v", hist)
		}

		plus := func(d int64) func(int64) int64 { return func(p int64) int64 { return p + d } }
		if _, err := s.EvolveInstrument(ctx, "ACME", "2026-03-02", plus(5)); err != nil {
			t.Fatalf("evolve: %v", err)
		}
		if _, err := s.EvolveInstrument(ctx, "ACME", "2026-03-01", plus(1)); err != nil {
			t.Fatalf("evolve: %v", err)
		}
		price, err := s.EvolveInstrument(ctx, "ACME", "2026-03-02", plus(2))
		if err != nil {
			t.Fatalf("evolve: %v", err)
		}
		if price != 58 {
			t.Fatalf("price = %d, want 58", price)
		}
		hist, err = s.History(ctx, "ACME")
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(hist) != 2 {
			t.Fatalf("expected one sample per day, got %+v", hist)
		}
		if hist[0].Date != "2026-03-01" || hist[0].Price != 56 || hist[1].Date != "2026-03-02" || hist[1].Price != 58 {
			t.Fatalf("unexpected history: %+v", hist)
		}

		if _, err := s.EvolveInstrument(ctx, "NOPE", "2026-03-02", plus(1)); !errors.Is(err, game.ErrInstrumentNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})

	t.Run("HoldingValueOverflow", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		if _, err := s.InsertInstrument(ctx, game.Instrument{Name: "ACME", Price: 40}); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if _, err := s.Trade(ctx, "u1", "ACME", 1000, func(p *game.Position) error {
			p.Quantity = math.MaxInt64 / 2
			return nil
		}); err != nil {
			t.Fatalf("trade: %v", err)
		}
		if _, err := s.Holdings(ctx, "u1"); !errors.Is(err, game.ErrBalanceOverflow) {
			t.Fatalf("expected ErrBalanceOverflow, got %v", err)
		}
	})

	t.Run("TradeAndHoldings", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		if _, err := s.InsertInstrument(ctx, game.Instrument{Name: "ACME", Price: 40}); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if _, err := s.Trade(ctx, "u1", "NOPE", 1000, func(p *game.Position) error { return nil }); !errors.Is(err, game.ErrInstrumentNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}

		pos, err := s.Trade(ctx, "u1", "ACME", 1000, func(p *game.Position) error {
			p.Account.Wallet -= 3 * p.Price
			p.Quantity += 3
			return nil
		})
		if err != nil {
			t.Fatalf("buy: %v", err)
		}
		if pos.Account.Wallet != 880 || pos.Quantity != 3 || pos.Price != 40 {
			t.Fatalf("unexpected position: %+v", pos)
		}
		held, err := s.Holdings(ctx, "u1")
		if err != nil {
			t.Fatalf("holdings: %v", err)
		}
		if len(held) != 1 || held[0].Quantity != 3 || held[0].MarketValue != 120 {
			t.Fatalf("unexpected holdings: %+v", held)
		}

		if _, err := s.Trade(ctx, "u1", "ACME", 1000, func(p *game.Position) error {
			p.Account.Wallet += p.Quantity * p.Price
			p.Quantity = 0
			return nil
		}); err != nil {
			t.Fatalf("sell: %v", err)
		}
		held, err = s.Holdings(ctx, "u1")
		if err != nil {
			t.Fatalf("holdings: %v", err)
		}
		if len(held) != 0 {
			t.Fatalf("expected empty holdings, got %+v", held)
		}
		a, err := s.GetOrCreateAccount(ctx, "u1", 1000)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if a.Wallet != 1000 {
			t.Fatalf("wallet = %d, want 1000", a.Wallet)
		}
	})
}

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) game.Store {
		return NewMemoryStore()
	})
}

func TestSQLiteStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) game.Store {
		s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "stonkbot.db"))
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestPostgresStoreContract(t *testing.T) {
	url := os.Getenv("STONKBOT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("STONKBOT_TEST_DATABASE_URL not set")
	}
	runStoreContract(t, func(t *testing.T) game.Store {
		ctx := context.Background()
		s, err := OpenPostgres(ctx, url)
		if err != nil {
			t.Fatalf("open postgres: %v", err)
		}
		if _, err := s.pool.Exec(ctx, `TRUNCATE holdings, price_history, instruments, accounts`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
