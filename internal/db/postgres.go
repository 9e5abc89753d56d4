package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"stonkbot/internal/game"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to databaseURL and applies pending migrations.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 10 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := migratePostgres(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// inTx runs fn in a read-committed transaction, retrying serialization
// failures and deadlocks with a short backoff.
func (s *PostgresStore) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	const maxAttempts = 5
	retryDelay := 50 * time.Millisecond
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = func() error {
			tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
			if err != nil {
				return err
			}
			defer tx.Rollback(ctx)
			if err := fn(tx); err != nil {
				return err
			}
			return tx.Commit(ctx)
		}()
		if !isRetryable(err) {
			return err
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		retryDelay *= 2
	}
	return err
}

func (s *PostgresStore) GetOrCreateAccount(ctx context.Context, userID string, startingWallet int64) (game.Account, error) {
	var out game.Account
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		a, err := lockAccountTx(ctx, tx, userID, startingWallet)
		if err != nil {
			return err
		}
		out = a
		return nil
	})
	return out, err
}

func (s *PostgresStore) UpdateAccount(ctx context.Context, userID string, startingWallet int64, fn func(*game.Account) error) (game.Account, error) {
	var out game.Account
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		a, err := lockAccountTx(ctx, tx, userID, startingWallet)
		if err != nil {
			return err
		}
		if err := fn(&a); err != nil {
			return err
		}
		a.UserID = userID
		if err := saveAccountTx(ctx, tx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	return out, err
}

func lockAccountTx(ctx context.Context, tx pgx.Tx, userID string, startingWallet int64) (game.Account, error) {
	if _, err := tx.Exec(ctx, `
		INSERT INTO accounts (user_id, wallet, bank)
		VALUES ($1, $2, 0)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, startingWallet); err != nil {
		return game.Account{}, fmt.Errorf("ensure account: %w", err)
	}
	a := game.Account{UserID: userID}
	if err := tx.QueryRow(ctx, `
		SELECT wallet, bank, last_interest_at, last_action_at
		FROM accounts
		WHERE user_id = $1
		FOR UPDATE
	`, userID).Scan(&a.Wallet, &a.Bank, &a.LastInterestAt, &a.LastActionAt); err != nil {
		return game.Account{}, fmt.Errorf("load account: %w", err)
	}
	return a, nil
}

func saveAccountTx(ctx context.Context, tx pgx.Tx, a game.Account) error {
	if err := checkAccount(a); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE accounts
		SET wallet = $2,
		    bank = $3,
		    last_interest_at = $4,
		    last_action_at = $5,
		    updated_at = now()
		WHERE user_id = $1
	`, a.UserID, a.Wallet, a.Bank, a.LastInterestAt, a.LastActionAt); err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}

func (s *PostgresStore) TopWealth(ctx context.Context, limit int) ([]game.WealthRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, wallet + bank AS wealth
		FROM accounts
		ORDER BY wealth DESC, user_id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []game.WealthRow{}
	for rows.Next() {
		var r game.WealthRow
		if err := rows.Scan(&r.UserID, &r.Wealth); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListInstruments(ctx context.Context) ([]game.Instrument, error) {
	rows, err := s.pool.Query(ctx, `SELECT name, price FROM instruments ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []game.Instrument{}
	for rows.Next() {
		var in game.Instrument
		if err := rows.Scan(&in.Name, &in.Price); err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertInstrument(ctx context.Context, in game.Instrument) (bool, error) {
	cmd, err := s.pool.Exec(ctx, `
		INSERT INTO instruments (name, price)
		VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING
	`, in.Name, in.Price)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (s *PostgresStore) EvolveInstrument(ctx context.Context, name, day string, step func(int64) int64) (int64, error) {
	var next int64
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var current int64
		if err := tx.QueryRow(ctx, `
			SELECT price FROM instruments WHERE name = $1 FOR UPDATE
		`, name).Scan(&current); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return game.ErrInstrumentNotFound
			}
			return err
		}
		next = step(current)
		if _, err := tx.Exec(ctx, `
			UPDATE instruments SET price = $2, updated_at = now() WHERE name = $1
		`, name, next); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO price_history (instrument, day, price)
			VALUES ($1, $2, $3)
			ON CONFLICT (instrument, day) DO UPDATE SET price = EXCLUDED.price
		`, name, day, next)
		return err
	})
	return next, err
}

func (s *PostgresStore) History(ctx context.Context, name string) ([]game.PriceSample, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT day, price
		FROM price_history
		WHERE instrument = $1
		ORDER BY day ASC
	`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []game.PriceSample{}
	for rows.Next() {
		p := game.PriceSample{Instrument: name}
		if err := rows.Scan(&p.Date, &p.Price); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Trade(ctx context.Context, userID, instrument string, startingWallet int64, fn func(*game.Position) error) (game.Position, error) {
	var out game.Position
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		a, err := lockAccountTx(ctx, tx, userID, startingWallet)
		if err != nil {
			return err
		}
		pos := game.Position{Account: a}
		if err := tx.QueryRow(ctx, `
			SELECT price FROM instruments WHERE name = $1 FOR SHARE
		`, instrument).Scan(&pos.Price); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return game.ErrInstrumentNotFound
			}
			return err
		}
		err = tx.QueryRow(ctx, `
			SELECT quantity FROM holdings
			WHERE user_id = $1 AND instrument = $2
			FOR UPDATE
		`, userID, instrument).Scan(&pos.Quantity)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		if err := fn(&pos); err != nil {
			return err
		}
		pos.Account.UserID = userID
		if pos.Quantity < 0 {
			return fmt.Errorf("holding %s/%s: quantity must be >= 0", userID, instrument)
		}
		if err := saveAccountTx(ctx, tx, pos.Account); err != nil {
			return err
		}
		if pos.Quantity == 0 {
			_, err = tx.Exec(ctx, `DELETE FROM holdings WHERE user_id = $1 AND instrument = $2`, userID, instrument)
		} else {
			_, err = tx.Exec(ctx, `
				INSERT INTO holdings (user_id, instrument, quantity)
				VALUES ($1, $2, $3)
				ON CONFLICT (user_id, instrument) DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = now()
			`, userID, instrument, pos.Quantity)
		}
		if err != nil {
			return err
		}
		out = pos
		return nil
	})
	return out, err
}

func (s *PostgresStore) Holdings(ctx context.Context, userID string) ([]game.Holding, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT h.instrument, h.quantity, i.price
		FROM holdings h
		JOIN instruments i ON i.name = h.instrument
		WHERE h.user_id = $1
		ORDER BY h.instrument
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []game.Holding{}
	for rows.Next() {
		var h game.Holding
		if err := rows.Scan(&h.Instrument, &h.Quantity, &h.Price); err != nil {
			return nil, err
		}
		v, err := game.HoldingValue(h.Quantity, h.Price)
		if err != nil {
			return nil, fmt.Errorf("value %s: %w", h.Instrument, err)
		}
		h.MarketValue = v
		out = append(out, h)
	}
	return out, rows.Err()
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// serialization_failure, deadlock_detected
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
