package game_test

import (
	"context"
	"errors"
	mathrand "math/rand"
	"testing"
	"time"

	"stonkbot/internal/db"
	"stonkbot/internal/game"
)

// fixedSource makes every Int63n draw return the same offset into the range.
type fixedSource struct{ v int64 }

func (s fixedSource) Int63() int64 { return s.v }
func (s fixedSource) Seed(int64)   {}

func newMarket(t *testing.T, store game.MarketStore, src mathrand.Source) *game.Market {
	t.Helper()
	m, err := game.NewMarket(store, game.DefaultMarketPolicy(), src, nil)
	if err != nil {
		t.Fatalf("new market: %v", err)
	}
	return m
}

func TestMarketPolicyValidate(t *testing.T) {
	if err := (game.MarketPolicy{PerturbMin: 5, PerturbMax: -5, PriceFloor: 1}).Validate(); err == nil {
		t.Fatalf("expected empty range to fail")
	}
	if err := (game.MarketPolicy{PerturbMin: -1, PerturbMax: 1, PriceFloor: 0}).Validate(); err == nil {
		t.Fatalf("expected zero floor to fail")
	}
	if _, err := game.NewMarket(db.NewMemoryStore(), game.MarketPolicy{PerturbMin: 1, PerturbMax: 0, PriceFloor: 1}, nil, nil); err == nil {
		t.Fatalf("expected NewMarket to reject invalid policy")
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	store := db.NewMemoryStore()
	m := newMarket(t, store, mathrand.NewSource(1))
	ctx := context.Background()

	added, err := m.Seed(ctx, []game.Instrument{{Name: "ACME", Price: 50}, {Name: "ZED", Price: 0}})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if added != 2 {
		t.Fatalf("added = %d, want 2", added)
	}
	added, err = m.Seed(ctx, []game.Instrument{{Name: "ACME", Price: 999}})
	if err != nil {
		t.Fatalf("reseed: %v", err)
	}
	if added != 0 {
		t.Fatalf("reseed added %d", added)
	}
	prices, err := m.CurrentPrices(ctx)
	if err != nil {
		t.Fatalf("prices: %v", err)
	}
	if len(prices) != 2 || prices[0].Price != 50 || prices[1].Price != 1 {
		t.Fatalf("unexpected prices: %+v", prices)
	}
	if _, err := m.Seed(ctx, []game.Instrument{{Name: "bad name", Price: 5}}); !errors.Is(err, game.ErrInvalidInstrument) {
		t.Fatalf("expected invalid instrument, got %v", err)
	}
}

func TestEvolveNeverDropsBelowFloor(t *testing.T) {
	store := db.NewMemoryStore()
	// Int63n(21) on a source that always returns 0 yields 0, i.e. PerturbMin.
	m := newMarket(t, store, fixedSource{v: 0})
	ctx := context.Background()
	if _, err := m.Seed(ctx, []game.Instrument{{Name: "ACME", Price: 25}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	day := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	want := []int64{15, 5, 1, 1, 1}
	for i, w := range want {
		if err := m.Evolve(ctx, day.AddDate(0, 0, i)); err != nil {
			t.Fatalf("evolve %d: %v", i, err)
		}
		prices, err := m.CurrentPrices(ctx)
		if err != nil {
			t.Fatalf("prices: %v", err)
		}
		if prices[0].Price != w {
			t.Fatalf("step %d price = %d, want %d", i, prices[0].Price, w)
		}
	}
	hist, err := m.HistoryOf(ctx, "ACME")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != len(want) {
		t.Fatalf("history len = %d, want %d", len(hist), len(want))
	}
	for i, s := range hist {
		if s.Price < 1 {
			t.Fatalf("sample %d below floor: %+v", i, s)
		}
		if i > 0 && hist[i-1].Date >= s.Date {
			t.Fatalf("history not ascending: %+v", hist)
		}
	}
}

func TestEvolveStaysInRange(t *testing.T) {
	store := db.NewMemoryStore()
	m := newMarket(t, store, mathrand.NewSource(42))
	ctx := context.Background()
	if _, err := m.Seed(ctx, []game.Instrument{{Name: "ACME", Price: 500}, {Name: "ZED", Price: 500}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	prev := map[string]int64{"ACME": 500, "ZED": 500}
	for i := 0; i < 100; i++ {
		if err := m.Evolve(ctx, now.AddDate(0, 0, i)); err != nil {
			t.Fatalf("evolve: %v", err)
		}
		prices, err := m.CurrentPrices(ctx)
		if err != nil {
			t.Fatalf("prices: %v", err)
		}
		for _, p := range prices {
			d := p.Price - prev[p.Name]
			if d < -10 || d > 10 {
				t.Fatalf("%s moved %d in one step", p.Name, d)
			}
			prev[p.Name] = p.Price
		}
	}
}

func TestEvolveSameDayOverwrites(t *testing.T) {
	store := db.NewMemoryStore()
	m := newMarket(t, store, mathrand.NewSource(7))
	ctx := context.Background()
	if _, err := m.Seed(ctx, []game.Instrument{{Name: "ACME", Price: 100}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	morning := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	if err := m.Evolve(ctx, morning); err != nil {
		t.Fatalf("evolve: %v", err)
	}
	if err := m.Evolve(ctx, morning.Add(10*time.Hour)); err != nil {
		t.Fatalf("evolve: %v", err)
	}
	hist, err := m.HistoryOf(ctx, "ACME")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 1 {
		t.Fatalf("expected a single sample for the day, got %+v", hist)
	}
	prices, err := m.CurrentPrices(ctx)
	if err != nil {
		t.Fatalf("prices: %v", err)
	}
	if hist[0].Price != prices[0].Price || hist[0].Date != "2026-05-01" {
		t.Fatalf("sample %+v does not match current price %+v", hist[0], prices[0])
	}
}

func TestHistoryOfUnknownIsEmpty(t *testing.T) {
	store := db.NewMemoryStore()
	m := newMarket(t, store, mathrand.NewSource(1))
	ctx := context.Background()
	if _, err := m.Seed(ctx, []game.Instrument{{Name: "ACME", Price: 100}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	for _, name := range []string{"ACME", "NOPE", ""} {
		hist, err := m.HistoryOf(ctx, name)
		if err != nil {
			t.Fatalf("%q: %v", name, err)
		}
		if hist == nil || len(hist) != 0 {
			t.Fatalf("%q: expected empty non-nil history, got %#v", name, hist)
		}
	}
}

// flakyStore fails evolution for one instrument.
type flakyStore struct {
	*db.MemoryStore
	fail string
}

func (s flakyStore) EvolveInstrument(ctx context.Context, name, day string, step func(int64) int64) (int64, error) {
	if name == s.fail {
		return 0, errors.New("disk on fire")
	}
	return s.MemoryStore.EvolveInstrument(ctx, name, day, step)
}

func TestEvolveIsolatesInstrumentFailures(t *testing.T) {
	store := flakyStore{MemoryStore: db.NewMemoryStore(), fail: "BAD"}
	m := newMarket(t, store, mathrand.NewSource(3))
	ctx := context.Background()
	if _, err := m.Seed(ctx, []game.Instrument{{Name: "ACME", Price: 100}, {Name: "BAD", Price: 100}, {Name: "ZED", Price: 100}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	err := m.Evolve(ctx, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	if err == nil {
		t.Fatalf("expected joined error for BAD")
	}
	for _, name := range []string{"ACME", "ZED"} {
		hist, err := m.HistoryOf(ctx, name)
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(hist) != 1 {
			t.Fatalf("%s was not evolved after BAD failed", name)
		}
	}
}
