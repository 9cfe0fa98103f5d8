package circuitbreaker

import (
	"errors"
	"testing"

	"github.com/sony/gobreaker/v2"

	"github.com/fd1az/pricestream/internal/apperror"
)

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	cfg := DefaultConfig("test")
	var transitions []gobreaker.State
	cfg.OnStateChange = func(_ string, _, to gobreaker.State) {
		transitions = append(transitions, to)
	}
	cb := New[int](cfg)

	boom := errors.New("rpc down")
	for i := 0; i < int(cfg.MinRequests); i++ {
		if _, err := cb.Execute(func() (int, error) { return 0, boom }); !errors.Is(err, boom) {
			t.Fatalf("call %d: expected underlying error, got %v", i, err)
		}
	}

	if cb.State() != gobreaker.StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}
	if len(transitions) != 1 || transitions[0] != gobreaker.StateOpen {
		t.Fatalf("transitions = %v", transitions)
	}

	_, err := cb.Execute(func() (int, error) { return 1, nil })
	if apperror.GetCode(err) != apperror.CodeCircuitOpen {
		t.Fatalf("expected CIRCUIT_OPEN, got %v", err)
	}
}

func TestCircuitBreaker_PassesResults(t *testing.T) {
	cb := New[string](DefaultConfig("ok"))

	got, err := cb.Execute(func() (string, error) { return "pong", nil })
	if err != nil || got != "pong" {
		t.Fatalf("got %q, %v", got, err)
	}
	if cb.Name() != "ok" {
		t.Fatalf("name = %q", cb.Name())
	}
}
