package retry

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const DefaultMaxRetries = 5

// DefaultBackoff is indexed by retry count: the first retry waits 1s, the
// second 5s, and every retry past the end of the table reuses its last
// entry.
var DefaultBackoff = []time.Duration{
	1 * time.Second,
	5 * time.Second,
	15 * time.Second,
	60 * time.Second,
	300 * time.Second,
}

type Policy struct {
	Backoff    []time.Duration
	MaxRetries int
}

func DefaultPolicy() Policy {
	return Policy{
		Backoff:    append([]time.Duration(nil), DefaultBackoff...),
		MaxRetries: DefaultMaxRetries,
	}
}

func (p Policy) Validate() error {
	if len(p.Backoff) == 0 {
		return errors.New("backoff table must not be empty")
	}
	for i, d := range p.Backoff {
		if d < 0 {
			return fmt.Errorf("backoff entry %d is negative", i)
		}
	}
	if p.MaxRetries < 1 {
		return errors.New("max retries must be at least 1")
	}
	return nil
}

// Delay returns how long to wait before the attempt following the
// retryCount-th failure.
func (p Policy) Delay(retryCount int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	i := retryCount - 1
	if i < 0 {
		i = 0
	}
	if i >= len(p.Backoff) {
		i = len(p.Backoff) - 1
	}
	return p.Backoff[i]
}

// Exhausted reports whether an operation with retryCount failures has used
// its whole budget.
func (p Policy) Exhausted(retryCount int) bool {
	return retryCount >= p.MaxRetries
}

// ParseBackoff reads a comma separated list of durations, e.g.
// "1s,5s,15s,60s,300s".
func ParseBackoff(s string) ([]time.Duration, error) {
	var out []time.Duration
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := time.ParseDuration(part)
		if err != nil {
			return nil, fmt.Errorf("invalid backoff entry %q: %w", part, err)
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, errors.New("backoff schedule is empty")
	}
	return out, nil
}
