// Package mirror runs a request against a list of equivalent endpoints,
// rotating through them within a round and backing off between rounds.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds how hard a request is retried.
type Policy struct {
	Rounds          int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy is three rounds starting at half a second between rounds.
func DefaultPolicy(rounds int) Policy {
	return Policy{Rounds: rounds, InitialInterval: 500 * time.Millisecond, MaxInterval: 4 * time.Second}
}

// StatusError reports a non-2xx response from an endpoint.
type StatusError struct {
	Endpoint string
	Code     int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d", e.Endpoint, e.Code)
}

// Retryable reports whether another endpoint or round might succeed.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Do calls fn with each endpoint until one returns nil. If every endpoint in
// a round fails it waits with exponential backoff and starts another round,
// for at most p.Rounds rounds. A non-retryable StatusError from every
// endpoint in a round stops early. onRound, if set, is called before every
// round after the first.
func Do(ctx context.Context, endpoints []string, p Policy, onRound func(round int), fn func(ctx context.Context, endpoint string) error) error {
	if len(endpoints) == 0 {
		return errors.New("no endpoints configured")
	}
	rounds := p.Rounds
	if rounds < 1 {
		rounds = 1
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(rounds-1)), ctx)

	round := 0
	op := func() error {
		round++
		if round > 1 && onRound != nil {
			onRound(round)
		}
		var errs []error
		permanent := true
		for _, ep := range endpoints {
			err := fn(ctx, ep)
			if err == nil {
				return nil
			}
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			errs = append(errs, err)
			var se *StatusError
			if !errors.As(err, &se) || se.Retryable() {
				permanent = false
			}
		}
		err := errors.Join(errs...)
		if permanent {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, b)
}
