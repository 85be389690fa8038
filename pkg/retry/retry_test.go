package retry

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodewarden/nodewarden/pkg/errors"
)

func fastPolicy(retries int) *Policy {
	p := NewPolicy(retries, time.Millisecond)
	p.MaxDelay = 2 * time.Millisecond
	p.RandomizeFactor = 0
	return p
}

func TestExecute_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Execute(context.Background(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestExecute_AtMostRetriesPlusOneCalls(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Execute(context.Background(), func() error {
		calls++
		return errors.New(errors.ErrorTypeTimeout, "still down")
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls, "retries=3 means at most 4 invocations")
	assert.False(t, DefaultShouldRetry(err), "exhausted result is terminal")
}

func TestExecute_NonRetryableCalledOnce(t *testing.T) {
	calls := 0
	fatal := errors.New(errors.ErrorTypeValidation, "bad request")

	err := fastPolicy(5).Execute(context.Background(), func() error {
		calls++
		return fatal
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestExecute_RecoversMidway(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Execute(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New(errors.ErrorTypeConnection, "reset")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestExecute_ContextCancelStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	p := NewPolicy(5, time.Hour) // a sleep we must never finish
	p.RandomizeFactor = 0

	done := make(chan error, 1)
	go func() {
		done <- p.Execute(ctx, func() error {
			return errors.New(errors.ErrorTypeTimeout, "slow upstream")
		})
	}()

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
	case <-time.After(5 * time.Second):
		t.Fatal("Execute did not observe context cancellation")
	}
}

func TestDelay_ExponentialAndCapped(t *testing.T) {
	p := &Policy{
		Retries:      5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}

	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	assert.Equal(t, 400*time.Millisecond, p.Delay(3))
	assert.Equal(t, 800*time.Millisecond, p.Delay(4))
	assert.Equal(t, time.Second, p.Delay(5), "capped at MaxDelay")
}

func TestDelay_JitterStaysInBand(t *testing.T) {
	p := &Policy{
		InitialDelay:    100 * time.Millisecond,
		MaxDelay:        time.Second,
		Multiplier:      2.0,
		RandomizeFactor: 0.5,
	}

	for i := 0; i < 100; i++ {
		d := p.Delay(1)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestDefaultShouldRetry_Classification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout type", errors.New(errors.ErrorTypeTimeout, "t"), true},
		{"connection type", errors.New(errors.ErrorTypeConnection, "c"), true},
		{"rate limit default fatal", errors.New(errors.ErrorTypeRateLimit, "r"), false},
		{"rate limit opted in", errors.New(errors.ErrorTypeRateLimit, "r").AsRetryable(), true},
		{"validation", errors.New(errors.ErrorTypeValidation, "v"), false},
		{"config", errors.New(errors.ErrorTypeConfig, "missing key"), false},
		{"http 500", errors.FromHTTPStatus(500, "server err"), true},
		{"http 503", errors.FromHTTPStatus(503, "unavailable"), true},
		{"http 400", errors.FromHTTPStatus(400, "bad req"), false},
		{"http 401", errors.FromHTTPStatus(401, "denied"), false},
		{"http 429", errors.FromHTTPStatus(429, "slow down"), false},
		{"explicit override beats type", errors.New(errors.ErrorTypeAPI, "flagged").AsRetryable(), true},
		{"plain reset", stderrors.New("read tcp: connection reset by peer"), true},
		{"plain no such host", stderrors.New("dial tcp: lookup api.x: no such host"), true},
		{"plain unrelated", stderrors.New("invalid payload"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultShouldRetry(tt.err))
		})
	}
}

func TestExecuteWithCondition_OverridesClassifier(t *testing.T) {
	calls := 0
	sentinel := stderrors.New("flaky but worth retrying")

	err := fastPolicy(2).ExecuteWithCondition(context.Background(), func() error {
		calls++
		if calls < 2 {
			return sentinel
		}
		return nil
	}, func(err error) bool { return stderrors.Is(err, sentinel) })

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestExecute_OnRetryHook(t *testing.T) {
	var attempts []int
	p := fastPolicy(2)
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
	}

	_ = p.Execute(context.Background(), func() error {
		return errors.New(errors.ErrorTypeTimeout, "down")
	})

	assert.Equal(t, []int{1, 2}, attempts)
}
