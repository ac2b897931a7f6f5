package ingest

import "time"

// RetryPolicy bounds the fixed-delay retries applied to generic transport
// errors. Rate-limit waits are server-directed and sit outside this budget.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetryPolicy matches the upstream's tolerances: five attempts one
// second apart before a run is declared dead.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, Delay: time.Second}
}
