package game

import "time"

// Allowed reports whether a gated action may run at now. An action that has
// never run is always allowed; otherwise strictly more than cooldown must
// have elapsed since last.
func Allowed(last *time.Time, cooldown time.Duration, now time.Time) bool {
	if last == nil {
		return true
	}
	return now.Sub(*last) > cooldown
}

func cooldownErr(action string, last *time.Time, cooldown time.Duration) error {
	var retryAt time.Time
	if last != nil {
		retryAt = last.Add(cooldown)
	}
	return &CooldownError{Action: action, RetryAt: retryAt}
}
