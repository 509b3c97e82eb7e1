package reconnect

import "time"

// BackoffConfig is the fixed exponential schedule spec §4.6 requires: no
// jitter, a hard cap, and a maximum attempt count after which the account
// gives up and is reported Failed.
type BackoffConfig struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

// DefaultBackoffConfig is 2s, doubling, capped at 30s, five attempts —
// spec §4.6's worked schedule (2s, 4s, 8s, 16s, 30s).
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{Base: 2 * time.Second, Cap: 30 * time.Second, MaxAttempts: 5}
}

// delay returns the wait before attempt n (1-indexed), grounded on the
// exponential-capped shape of calculateDelay in the teacher's retry.go,
// narrowed to a fixed multiplier of 2 and no jitter term.
func (c BackoffConfig) delay(attempt int) time.Duration {
	d := c.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.Cap {
			return c.Cap
		}
	}
	if d > c.Cap {
		return c.Cap
	}
	return d
}

// exhausted reports whether attempt has used up the configured retries.
func (c BackoffConfig) exhausted(attempt int) bool {
	return attempt >= c.MaxAttempts
}
