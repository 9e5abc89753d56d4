package game

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
)

const (
	DefaultStartingWallet = int64(1000)

	DefaultInterestAPR      = 0.05
	DefaultInterestCooldown = 24 * time.Hour
	// MinInterestCooldown is one interest day; shorter gates could never accrue.
	MinInterestCooldown = interestDay
	DefaultWorkCooldown     = time.Hour
	DefaultWageMin          = int64(50)
	DefaultWageMax          = int64(250)

	DefaultPerturbMin = int64(-10)
	DefaultPerturbMax = int64(10)
	DefaultPriceFloor = int64(1)

	DefaultLeaderboardLimit = 10
	MaxLeaderboardLimit     = 100

	// DayLayout keys price history samples; lexical order matches date order.
	DayLayout = "2006-01-02"

	interestDay = 24 * time.Hour
)

var (
	ErrInvalidUser        = errors.New("user id is required")
	ErrInvalidAmount      = errors.New("amount must be > 0")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrCooldownActive     = errors.New("cooldown active")
	ErrInstrumentNotFound = errors.New("instrument not found")
	ErrInvalidInstrument  = errors.New("instrument name must be 1-32 letters, digits, '-' or '_'")
	ErrBalanceOverflow    = errors.New("balance overflow")
)

// CooldownError reports a gated action attempted before it became eligible.
type CooldownError struct {
	Action  string
	RetryAt time.Time
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s: %s available after %s", ErrCooldownActive, e.Action, e.RetryAt.UTC().Format(time.RFC3339))
}

func (e *CooldownError) Unwrap() error {
	return ErrCooldownActive
}

var instrumentRE = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)

func ValidateInstrument(name string) error {
	if !instrumentRE.MatchString(strings.TrimSpace(name)) {
		return ErrInvalidInstrument
	}
	return nil
}

// DayOf returns the history key for t.
func DayOf(t time.Time) string {
	return t.UTC().Format(DayLayout)
}

func compoundDaily(balance int64, apr float64, days int64) (int64, error) {
	if balance <= 0 || days <= 0 || apr <= 0 {
		return balance, nil
	}
	v := math.Floor(float64(balance) * math.Pow(1+apr/365, float64(days)))
	if v >= math.MaxInt64 || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, ErrBalanceOverflow
	}
	if int64(v) < balance {
		return balance, nil
	}
	return int64(v), nil
}

func mulChecked(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	if a < 0 || b < 0 || a > math.MaxInt64/b {
		return 0, ErrBalanceOverflow
	}
	return a * b, nil
}

// HoldingValue is qty shares at price, failing with ErrBalanceOverflow
// instead of wrapping.
func HoldingValue(qty, price int64) (int64, error) {
	return mulChecked(qty, price)
}

func addChecked(a, b int64) (int64, error) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, ErrBalanceOverflow
	}
	return a + b, nil
}
