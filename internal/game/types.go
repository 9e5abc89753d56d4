package game

import "time"

type Account struct {
	UserID         string     `json:"user_id"`
	Wallet         int64      `json:"wallet"`
	Bank           int64      `json:"bank"`
	LastInterestAt *time.Time `json:"last_interest_at,omitempty"`
	LastActionAt   *time.Time `json:"last_action_at,omitempty"`
}

func (a Account) Wealth() int64 {
	return a.Wallet + a.Bank
}

type Instrument struct {
	Name  string `json:"name"`
	Price int64  `json:"price"`
}

type PriceSample struct {
	Instrument string `json:"instrument"`
	Date       string `json:"date"`
	Price      int64  `json:"price"`
}

// Position is the state a trade reads and mutates atomically.
type Position struct {
	Account  Account
	Quantity int64
	Price    int64
}

type Holding struct {
	Instrument  string `json:"instrument"`
	Quantity    int64  `json:"quantity"`
	Price       int64  `json:"price"`
	MarketValue int64  `json:"market_value"`
}

type TradeResult struct {
	TradeID    string  `json:"trade_id"`
	Side       string  `json:"side"`
	Instrument string  `json:"instrument"`
	Quantity   int64   `json:"quantity"`
	Price      int64   `json:"price"`
	Notional   int64   `json:"notional"`
	Holding    int64   `json:"holding"`
	Account    Account `json:"account"`
}

type InterestResult struct {
	Account Account `json:"account"`
	Days    int64   `json:"days"`
	Earned  int64   `json:"earned"`
}

type WorkResult struct {
	Account Account `json:"account"`
	Wage    int64   `json:"wage"`
}

type WealthRow struct {
	Rank   int64  `json:"rank"`
	UserID string `json:"user_id"`
	Wealth int64  `json:"wealth"`
}

// SeriesPoint is a (label, value) pair handed to presentation layers.
type SeriesPoint struct {
	Label string `json:"label"`
	Value int64  `json:"value"`
}

func HistorySeries(samples []PriceSample) []SeriesPoint {
	out := make([]SeriesPoint, 0, len(samples))
	for _, s := range samples {
		out = append(out, SeriesPoint{Label: s.Date, Value: s.Price})
	}
	return out
}

func WealthSeries(rows []WealthRow) []SeriesPoint {
	out := make([]SeriesPoint, 0, len(rows))
	for _, r := range rows {
		out = append(out, SeriesPoint{Label: r.UserID, Value: r.Wealth})
	}
	return out
}
