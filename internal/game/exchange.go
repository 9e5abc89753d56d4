package game

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Exchange trades instruments against the house at the current price.
type Exchange struct {
	store          HoldingStore
	startingWallet int64
	log            *slog.Logger
}

func NewExchange(store HoldingStore, startingWallet int64, logger *slog.Logger) *Exchange {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exchange{store: store, startingWallet: startingWallet, log: logger}
}

func (e *Exchange) Buy(ctx context.Context, userID, instrument string, qty int64) (TradeResult, error) {
	return e.trade(ctx, SideBuy, userID, instrument, qty, func(p *Position) (int64, error) {
		cost, err := mulChecked(p.Price, qty)
		if err != nil {
			return 0, err
		}
		if cost > p.Account.Wallet {
			return 0, ErrInsufficientFunds
		}
		holding, err := addChecked(p.Quantity, qty)
		if err != nil {
			return 0, err
		}
		p.Account.Wallet -= cost
		p.Quantity = holding
		return cost, nil
	})
}

func (e *Exchange) Sell(ctx context.Context, userID, instrument string, qty int64) (TradeResult, error) {
	return e.trade(ctx, SideSell, userID, instrument, qty, func(p *Position) (int64, error) {
		if qty > p.Quantity {
			return 0, ErrInsufficientShares
		}
		proceeds, err := mulChecked(p.Price, qty)
		if err != nil {
			return 0, err
		}
		wallet, err := addChecked(p.Account.Wallet, proceeds)
		if err != nil {
			return 0, err
		}
		p.Account.Wallet = wallet
		p.Quantity -= qty
		return proceeds, nil
	})
}

func (e *Exchange) trade(ctx context.Context, side, userID, instrument string, qty int64, apply func(*Position) (int64, error)) (TradeResult, error) {
	userID, err := cleanUserID(userID)
	if err != nil {
		return TradeResult{}, err
	}
	instrument = strings.TrimSpace(instrument)
	if err := ValidateInstrument(instrument); err != nil {
		return TradeResult{}, err
	}
	if qty <= 0 {
		return TradeResult{}, ErrInvalidAmount
	}
	var notional int64
	pos, err := e.store.Trade(ctx, userID, instrument, e.startingWallet, func(p *Position) error {
		n, err := apply(p)
		if err != nil {
			return err
		}
		notional = n
		return nil
	})
	if err != nil {
		return TradeResult{}, err
	}
	out := TradeResult{
		TradeID:    uuid.NewString(),
		Side:       side,
		Instrument: instrument,
		Quantity:   qty,
		Price:      pos.Price,
		Notional:   notional,
		Holding:    pos.Quantity,
		Account:    pos.Account,
	}
	e.log.Info("trade filled", "trade_id", out.TradeID, "side", side, "user_id", userID, "instrument", instrument, "quantity", qty, "price", pos.Price)
	return out, nil
}

func (e *Exchange) Portfolio(ctx context.Context, userID string) ([]Holding, error) {
	userID, err := cleanUserID(userID)
	if err != nil {
		return nil, err
	}
	out, err := e.store.Holdings(ctx, userID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []Holding{}
	}
	return out, nil
}
