package httpadapter

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/tiger/speakloop/internal/runtime/provider/contracts"
)

func TestNormalizeStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		expected  contracts.OutcomeClass
		retryable bool
	}{
		{name: "success", status: http.StatusOK, expected: contracts.OutcomeSuccess, retryable: false},
		{name: "upgrade", status: http.StatusSwitchingProtocols, expected: contracts.OutcomeSuccess, retryable: false},
		{name: "timeout", status: http.StatusRequestTimeout, expected: contracts.OutcomeTimeout, retryable: true},
		{name: "overload", status: http.StatusTooManyRequests, expected: contracts.OutcomeOverload, retryable: true},
		{name: "blocked", status: http.StatusUnauthorized, expected: contracts.OutcomeBlocked, retryable: false},
		{name: "bad request", status: http.StatusBadRequest, expected: contracts.OutcomeBlocked, retryable: false},
		{name: "infra", status: http.StatusBadGateway, expected: contracts.OutcomeInfrastructureFailure, retryable: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			outcome := NormalizeStatus(tc.status, "")
			if outcome.Class != tc.expected || outcome.Retryable != tc.retryable {
				t.Fatalf("expected %s/%v, got %+v", tc.expected, tc.retryable, outcome)
			}
		})
	}
}

func TestNormalizeStatusRetryAfter(t *testing.T) {
	t.Parallel()

	if got := NormalizeStatus(http.StatusTooManyRequests, "3").BackoffMS; got != 3000 {
		t.Fatalf("expected 3000ms backoff, got %d", got)
	}
	if got := NormalizeStatus(http.StatusTooManyRequests, "soon").BackoffMS; got != 500 {
		t.Fatalf("expected default backoff, got %d", got)
	}
}

func TestNormalizeNetworkError(t *testing.T) {
	t.Parallel()

	if got := NormalizeNetworkError(context.Canceled).Class; got != contracts.OutcomeCancelled {
		t.Fatalf("expected cancelled, got %s", got)
	}
	if got := NormalizeNetworkError(context.DeadlineExceeded).Class; got != contracts.OutcomeTimeout {
		t.Fatalf("expected timeout, got %s", got)
	}
	if got := NormalizeNetworkError(errors.New("reset")).Reason; got != "provider_transport_error" {
		t.Fatalf("expected transport error, got %s", got)
	}
}

func TestWithQuerySkipsEmptyValues(t *testing.T) {
	t.Parallel()

	raw, err := WithQuery("wss://api.example.com/v1/listen?model=old", map[string]string{"model": "nova-2", "language": "", "encoding": "linear16"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	q := u.Query()
	if q.Get("model") != "nova-2" || q.Get("encoding") != "linear16" || q.Has("language") {
		t.Fatalf("unexpected query: %s", u.RawQuery)
	}
}
