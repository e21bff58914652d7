package queue

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy decides how a failed job is retried.
type Policy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, Initial: time.Second, Max: 10 * time.Second}
}

// Delay is the wait before attempt+1 after attempt failed: Initial doubled
// per prior attempt, capped at Max.
func (p Policy) Delay(attempt int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.Initial,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         p.Max,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Exhausted reports whether attempt was the last one allowed.
func (p Policy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}

// IsPermanent reports whether err was marked with backoff.Permanent and must
// not be retried.
func IsPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}
