package upstream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        4 * time.Millisecond,
		BackoffMultiplier: 2,
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", config.MaxAttempts)
	}
	if config.InitialBackoff != 500*time.Millisecond {
		t.Errorf("InitialBackoff = %v, want 500ms", config.InitialBackoff)
	}
	if config.MaxBackoff != 5*time.Second {
		t.Errorf("MaxBackoff = %v, want 5s", config.MaxBackoff)
	}
	if config.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2.0", config.BackoffMultiplier)
	}
}

func TestRetryWithBackoff(t *testing.T) {
	serverErr := &UpstreamError{StatusCode: 500, ErrorClass: ErrorClassServer}
	clientErr := &UpstreamError{StatusCode: 404, ErrorClass: ErrorClassClient}

	tests := []struct {
		name          string
		failures      []error
		maxAttempts   int
		wantCalls     int
		wantErr       bool
		wantExhausted bool
	}{
		{
			name:        "success on first attempt",
			maxAttempts: 3,
			wantCalls:   1,
		},
		{
			name:        "success after server error",
			failures:    []error{serverErr},
			maxAttempts: 3,
			wantCalls:   2,
		},
		{
			name:          "server errors exhaust attempts",
			failures:      []error{serverErr, serverErr, serverErr},
			maxAttempts:   3,
			wantCalls:     3,
			wantErr:       true,
			wantExhausted: true,
		},
		{
			name:        "client error is not retried",
			failures:    []error{clientErr},
			maxAttempts: 3,
			wantCalls:   1,
			wantErr:     true,
		},
		{
			name:        "unclassified error is not retried",
			failures:    []error{ErrInvalidJSON},
			maxAttempts: 3,
			wantCalls:   1,
			wantErr:     true,
		},
		{
			name:          "zero attempts still calls once",
			failures:      []error{serverErr},
			maxAttempts:   0,
			wantCalls:     1,
			wantErr:       true,
			wantExhausted: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := retryWithBackoff(context.Background(), fastRetry(tt.maxAttempts), zerolog.Nop(), func() error {
				calls++
				if calls <= len(tt.failures) {
					return tt.failures[calls-1]
				}
				return nil
			})

			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if errors.Is(err, ErrRetryExhausted) != tt.wantExhausted {
				t.Errorf("errors.Is(ErrRetryExhausted) = %v, want %v", !tt.wantExhausted, tt.wantExhausted)
			}
		})
	}
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := RetryConfig{MaxAttempts: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour, BackoffMultiplier: 1}

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- retryWithBackoff(ctx, config, zerolog.Nop(), func() error {
			calls++
			return &UpstreamError{ErrorClass: ErrorClassNetwork}
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, ErrContextCancelled) {
			t.Errorf("err = %v, want ErrContextCancelled", err)
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not stop after cancellation")
	}
}
