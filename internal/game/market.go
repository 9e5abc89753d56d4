package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	mathrand "math/rand"
	"strings"
	"sync"
	"time"
)

// MarketPolicy holds the evolution constants. Perturbations are drawn
// uniformly from [PerturbMin, PerturbMax]; prices never fall below PriceFloor.
type MarketPolicy struct {
	PerturbMin int64
	PerturbMax int64
	PriceFloor int64
}

func DefaultMarketPolicy() MarketPolicy {
	return MarketPolicy{
		PerturbMin: DefaultPerturbMin,
		PerturbMax: DefaultPerturbMax,
		PriceFloor: DefaultPriceFloor,
	}
}

func (p MarketPolicy) Validate() error {
	if p.PerturbMin > p.PerturbMax {
		return fmt.Errorf("perturbation range [%d, %d] is empty", p.PerturbMin, p.PerturbMax)
	}
	if p.PriceFloor < 1 {
		return fmt.Errorf("price floor must be >= 1")
	}
	return nil
}

// DefaultInstruments is the administrative seed set.
var DefaultInstruments = []Instrument{
	{Name: "COBOLT", Price: 130},
	{Name: "NIMBUS", Price: 95},
	{Name: "RUSTIC", Price: 115},
	{Name: "PYLONS", Price: 80},
	{Name: "JAVOLT", Price: 105},
	{Name: "SWIFTR", Price: 150},
	{Name: "NODEON", Price: 120},
	{Name: "ELIXIR", Price: 125},
}

type Market struct {
	store  MarketStore
	policy MarketPolicy
	log    *slog.Logger

	evolveMu sync.Mutex
	mu       sync.Mutex
	rand     *mathrand.Rand
}

// NewMarket builds a market. A nil src seeds from the clock.
func NewMarket(store MarketStore, policy MarketPolicy, src mathrand.Source, logger *slog.Logger) (*Market, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if src == nil {
		src = mathrand.NewSource(time.Now().UnixNano())
	}
	return &Market{
		store:  store,
		policy: policy,
		log:    logger,
		rand:   mathrand.New(src),
	}, nil
}

// Seed inserts instruments that do not exist yet and reports how many were added.
func (m *Market) Seed(ctx context.Context, instruments []Instrument) (int, error) {
	added := 0
	for _, in := range instruments {
		in.Name = strings.TrimSpace(in.Name)
		if err := ValidateInstrument(in.Name); err != nil {
			return added, fmt.Errorf("seed %q: %w", in.Name, err)
		}
		if in.Price < m.policy.PriceFloor {
			in.Price = m.policy.PriceFloor
		}
		ok, err := m.store.InsertInstrument(ctx, in)
		if err != nil {
			return added, fmt.Errorf("seed %q: %w", in.Name, err)
		}
		if ok {
			added++
		}
	}
	return added, nil
}

// Evolve perturbs every instrument once and records the day's sample. A
// failure on one instrument does not stop the others; all failures are
// returned joined.
func (m *Market) Evolve(ctx context.Context, now time.Time) error {
	m.evolveMu.Lock()
	defer m.evolveMu.Unlock()

	instruments, err := m.store.ListInstruments(ctx)
	if err != nil {
		return fmt.Errorf("list instruments: %w", err)
	}
	day := DayOf(now)
	var errs []error
	for _, in := range instruments {
		price, err := m.store.EvolveInstrument(ctx, in.Name, day, m.step)
		if err != nil {
			m.log.Error("instrument evolution failed", "instrument", in.Name, "err", err)
			errs = append(errs, fmt.Errorf("evolve %s: %w", in.Name, err))
			continue
		}
		m.log.Debug("instrument evolved", "instrument", in.Name, "day", day, "price", price)
	}
	return errors.Join(errs...)
}

func (m *Market) step(current int64) int64 {
	next := current + m.perturbation()
	if next < m.policy.PriceFloor {
		return m.policy.PriceFloor
	}
	return next
}

func (m *Market) perturbation() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	span := m.policy.PerturbMax - m.policy.PerturbMin + 1
	return m.policy.PerturbMin + m.rand.Int63n(span)
}

func (m *Market) CurrentPrices(ctx context.Context) ([]Instrument, error) {
	out, err := m.store.ListInstruments(ctx)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []Instrument{}
	}
	return out, nil
}

// HistoryOf returns the day-ascending samples for name; empty when the
// instrument is unknown or has never evolved.
func (m *Market) HistoryOf(ctx context.Context, name string) ([]PriceSample, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return []PriceSample{}, nil
	}
	out, err := m.store.History(ctx, name)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []PriceSample{}
	}
	return out, nil
}
