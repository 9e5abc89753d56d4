package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"stonkbot/internal/game"
)

// SQLiteStore persists everything in one SQLite file. Transactions begin
// IMMEDIATE so read-modify-write cycles never interleave.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := migrateSQLite(ctx, sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLiteStore{db: sqlDB}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetOrCreateAccount(ctx context.Context, userID string, startingWallet int64) (game.Account, error) {
	var out game.Account
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		a, err := loadAccountSQLite(ctx, tx, userID, startingWallet)
		if err != nil {
			return err
		}
		out = a
		return nil
	})
	return out, err
}

func (s *SQLiteStore) UpdateAccount(ctx context.Context, userID string, startingWallet int64, fn func(*game.Account) error) (game.Account, error) {
	var out game.Account
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		a, err := loadAccountSQLite(ctx, tx, userID, startingWallet)
		if err != nil {
			return err
		}
		if err := fn(&a); err != nil {
			return err
		}
		a.UserID = userID
		if err := saveAccountSQLite(ctx, tx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	return out, err
}

func loadAccountSQLite(ctx context.Context, tx *sql.Tx, userID string, startingWallet int64) (game.Account, error) {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO accounts (user_id, wallet, bank) VALUES (?, ?, 0)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, startingWallet); err != nil {
		return game.Account{}, fmt.Errorf("ensure account: %w", err)
	}
	a := game.Account{UserID: userID}
	var interestAt, actionAt sql.NullInt64
	if err := tx.QueryRowContext(ctx, `
		SELECT wallet, bank, last_interest_at, last_action_at
		FROM accounts WHERE user_id = ?
	`, userID).Scan(&a.Wallet, &a.Bank, &interestAt, &actionAt); err != nil {
		return game.Account{}, fmt.Errorf("load account: %w", err)
	}
	a.LastInterestAt = fromMillis(interestAt)
	a.LastActionAt = fromMillis(actionAt)
	return a, nil
}

func saveAccountSQLite(ctx context.Context, tx *sql.Tx, a game.Account) error {
	if err := checkAccount(a); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET wallet = ?, bank = ?, last_interest_at = ?, last_action_at = ?
		WHERE user_id = ?
	`, a.Wallet, a.Bank, toMillis(a.LastInterestAt), toMillis(a.LastActionAt), a.UserID); err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}

func (s *SQLiteStore) TopWealth(ctx context.Context, limit int) ([]game.WealthRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, wallet + bank AS wealth
		FROM accounts
		ORDER BY wealth DESC, user_id ASC
		LIMIT ?
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

func (s *SQLiteStore) ListInstruments(ctx context.Context) ([]game.Instrument, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, price FROM instruments ORDER BY name`)
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

func (s *SQLiteStore) InsertInstrument(ctx context.Context, in game.Instrument) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO instruments (name, price) VALUES (?, ?)
		ON CONFLICT (name) DO NOTHING
	`, in.Name, in.Price)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteStore) EvolveInstrument(ctx context.Context, name, day string, step func(int64) int64) (int64, error) {
	var next int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var current int64
		if err := tx.QueryRowContext(ctx, `SELECT price FROM instruments WHERE name = ?`, name).Scan(&current); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return game.ErrInstrumentNotFound
			}
			return err
		}
		next = step(current)
		if _, err := tx.ExecContext(ctx, `UPDATE instruments SET price = ? WHERE name = ?`, next, name); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO price_history (instrument, day, price) VALUES (?, ?, ?)
			ON CONFLICT (instrument, day) DO UPDATE SET price = excluded.price
		`, name, day, next)
		return err
	})
	return next, err
}

func (s *SQLiteStore) History(ctx context.Context, name string) ([]game.PriceSample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT day, price FROM price_history
		WHERE instrument = ?
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

func (s *SQLiteStore) Trade(ctx context.Context, userID, instrument string, startingWallet int64, fn func(*game.Position) error) (game.Position, error) {
	var out game.Position
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var price int64
		if err := tx.QueryRowContext(ctx, `SELECT price FROM instruments WHERE name = ?`, instrument).Scan(&price); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return game.ErrInstrumentNotFound
			}
			return err
		}
		a, err := loadAccountSQLite(ctx, tx, userID, startingWallet)
		if err != nil {
			return err
		}
		pos := game.Position{Account: a, Price: price}
		err = tx.QueryRowContext(ctx, `
			SELECT quantity FROM holdings WHERE user_id = ? AND instrument = ?
		`, userID, instrument).Scan(&pos.Quantity)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		if err := fn(&pos); err != nil {
			return err
		}
		pos.Account.UserID = userID
		if pos.Quantity < 0 {
			return fmt.Errorf("holding %s/%s: quantity must be >= 0", userID, instrument)
		}
		if err := saveAccountSQLite(ctx, tx, pos.Account); err != nil {
			return err
		}
		if pos.Quantity == 0 {
			_, err = tx.ExecContext(ctx, `DELETE FROM holdings WHERE user_id = ? AND instrument = ?`, userID, instrument)
		} else {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO holdings (user_id, instrument, quantity) VALUES (?, ?, ?)
				ON CONFLICT (user_id, instrument) DO UPDATE SET quantity = excluded.quantity
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

func (s *SQLiteStore) Holdings(ctx context.Context, userID string) ([]game.Holding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT h.instrument, h.quantity, i.price
		FROM holdings h
		JOIN instruments i ON i.name = h.instrument
		WHERE h.user_id = ?
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

func toMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UTC().UnixMilli(), Valid: true}
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
