package game

import "context"

// Query is the read-only surface used by presentation layers.
type Query struct {
	accounts AccountStore
	market   *Market
}

func NewQuery(accounts AccountStore, market *Market) *Query {
	return &Query{accounts: accounts, market: market}
}

// TopWealth ranks accounts by wallet+bank, ties broken by user id ascending.
func (q *Query) TopWealth(ctx context.Context, limit int) ([]WealthRow, error) {
	if limit <= 0 {
		return []WealthRow{}, nil
	}
	if limit > MaxLeaderboardLimit {
		limit = MaxLeaderboardLimit
	}
	rows, err := q.accounts.TopWealth(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]WealthRow, 0, len(rows))
	for i, r := range rows {
		r.Rank = int64(i + 1)
		out = append(out, r)
	}
	return out, nil
}

func (q *Query) TrendOf(ctx context.Context, instrument string) ([]PriceSample, error) {
	return q.market.HistoryOf(ctx, instrument)
}
