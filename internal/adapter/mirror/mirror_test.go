package mirror

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(rounds int) Policy {
	return Policy{Rounds: rounds, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestDo_RotatesToNextEndpoint(t *testing.T) {
	var calls []string
	err := Do(context.Background(), []string{"a", "b", "c"}, fastPolicy(3), nil, func(_ context.Context, ep string) error {
		calls = append(calls, ep)
		if ep == "b" {
			return nil
		}
		return errors.New("down")
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, calls)
}

func TestDo_RetriesRoundsThenGivesUp(t *testing.T) {
	var rounds []int
	calls := 0
	err := Do(context.Background(), []string{"a", "b"}, fastPolicy(3), func(r int) { rounds = append(rounds, r) },
		func(_ context.Context, ep string) error {
			calls++
			return &StatusError{Endpoint: ep, Code: http.StatusGatewayTimeout}
		})
	require.Error(t, err)
	assert.Equal(t, 6, calls, "two endpoints for three rounds")
	assert.Equal(t, []int{2, 3}, rounds)
	assert.Contains(t, err.Error(), "status 504")
}

func TestDo_SucceedsOnLaterRound(t *testing.T) {
	calls := 0
	err := Do(context.Background(), []string{"a"}, fastPolicy(3), nil, func(context.Context, string) error {
		calls++
		if calls < 2 {
			return errors.New("flaky")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_PermanentStopsAfterOneRound(t *testing.T) {
	calls := 0
	err := Do(context.Background(), []string{"a", "b"}, fastPolicy(5), nil, func(_ context.Context, ep string) error {
		calls++
		return &StatusError{Endpoint: ep, Code: http.StatusBadRequest}
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, []string{"a", "b"}, fastPolicy(5), nil, func(context.Context, string) error {
		calls++
		cancel()
		return errors.New("down")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_NoEndpoints(t *testing.T) {
	err := Do(context.Background(), nil, fastPolicy(1), nil, func(context.Context, string) error { return nil })
	require.Error(t, err)
}

func TestStatusError_Retryable(t *testing.T) {
	assert.True(t, (&StatusError{Code: 429}).Retryable())
	assert.True(t, (&StatusError{Code: 503}).Retryable())
	assert.False(t, (&StatusError{Code: 404}).Retryable())
}
