package domain

import "fmt"

// RateLimitSnapshot is the call budget reported by the chat service. Each
// query supersedes the previous snapshot wholesale; the last value is kept
// when a query fails.
type RateLimitSnapshot struct {
	Limit        int
	Remaining    int
	ResetSeconds int
	CurrentUsage int
}

func (s RateLimitSnapshot) Exhausted() bool {
	return s.Remaining <= 0
}

// Points is the account's point balance.
type Points struct {
	Total     float64
	Inference float64
	Referral  float64
}

// Identity is the cached result of the identity-fetch call.
type Identity struct {
	UserID       string
	AuthProvider string
}

// FormatSeconds renders a second count as "3m 20s" for status lines.
func FormatSeconds(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
}
