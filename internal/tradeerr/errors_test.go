package tradeerr

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type fakeAPIError struct{ retry bool }

func (e fakeAPIError) Error() string     { return "api error" }
func (e fakeAPIError) IsRetryable() bool { return e.retry }

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"validation", Validationf("ratio %v out of range", 1.5), Validation},
		{"wrapped validation", fmt.Errorf("open BTC: %w", Validationf("no market")), Validation},
		{"retryable", Retryablef("unfilled within %s", "12s"), Retryable},
		{"interrupted", Interruptedf("stopped"), Interrupted},
		{"context canceled", fmt.Errorf("poll: %w", context.Canceled), Interrupted},
		{"deadline", context.DeadlineExceeded, Retryable},
		{"api retryable", fakeAPIError{retry: true}, Retryable},
		{"api fatal", fakeAPIError{retry: false}, Unexpected},
		{"plain", errors.New("boom"), Unexpected},
		{"explicit wins", Wrap(Validation, "submit", "BTCUSDT", fakeAPIError{retry: true}), Validation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Fatalf("KindOf=%v, expected %v", got, tt.want)
			}
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := Wrap(Retryable, "place maker order", "ETHUSDT", errors.New("book empty"))
	if got := err.Error(); got != "place maker order ETHUSDT: book empty" {
		t.Fatalf("Error()=%q", got)
	}
	if Wrap(Retryable, "op", "", nil) != nil {
		t.Fatal("Wrap(nil) should be nil")
	}
}
