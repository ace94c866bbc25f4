package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vnmchuo/labflow/internal/llmerr"
	"github.com/vnmchuo/labflow/internal/provider"
)

// link is one client in the chain together with its optional breaker.
type link struct {
	client  provider.Client
	breaker *gobreaker.CircuitBreaker // nil when breakers are disabled
}

func newLink(client provider.Client, name string, threshold int, openFor time.Duration) *link {
	l := &link{client: client}
	if threshold <= 0 {
		return l
	}
	l.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold)
		},
	})
	return l
}

// open reports whether the breaker currently rejects calls.
func (l *link) open() bool {
	return l.breaker != nil && l.breaker.State() == gobreaker.StateOpen
}

func (l *link) chat(ctx context.Context, messages []provider.Message) (*provider.Response, error) {
	if l.breaker == nil {
		return l.client.Chat(ctx, messages)
	}
	result, err := l.breaker.Execute(func() (interface{}, error) {
		return l.client.Chat(ctx, messages)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, circuitOpen(l.client.Kind())
	}
	if err != nil {
		return nil, err
	}
	return result.(*provider.Response), nil
}

func circuitOpen(kind provider.Kind) error {
	return llmerr.Transient(llmerr.CodeCircuitOpen,
		fmt.Sprintf("circuit breaker is open for provider: %s", kind)).WithProvider(string(kind))
}
