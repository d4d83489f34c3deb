// Periscope - Remote Media Session Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/periscope

package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/periscope/internal/logging"
	"github.com/tomtom215/periscope/internal/models"
)

var _ Client = (*BreakerClient)(nil)

// BreakerClient wraps a Client with the circuit breaker pattern so a
// down or slow server sheds load instead of accumulating hung requests.
// A rejected call surfaces as ErrUnavailable, which the coordinator
// already treats as a transient poll failure.
//
// The breaker uses real time for its interval and timeout calculations;
// tests exercise the wrapped client directly.
type BreakerClient struct {
	client Client
	cb     *gobreaker.CircuitBreaker[any]
}

// NewBreakerClient wraps client with a circuit breaker:
//   - max 3 concurrent requests in half-open state
//   - 1 minute measurement window
//   - 2 minute timeout before attempting recovery
//   - opens after 60% failure rate with minimum 10 requests
func NewBreakerClient(client Client) *BreakerClient {
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "media-server-api",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			if failureRatio >= 0.6 {
				logging.Warn().
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", failureRatio*100).
					Msg("opening media server circuit")
				return true
			}
			return false
		},

		// Credential failures are not availability failures; tripping the
		// breaker on them would mask AuthenticationRejected from callers.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrAuthRejected)
		},

		OnStateChange: func(_ string, from, to gobreaker.State) {
			logging.Info().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("media server circuit state transition")
		},
	})

	return &BreakerClient{client: client, cb: cb}
}

// execute wraps one API call with circuit breaker protection.
func (b *BreakerClient) execute(fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open: %v", ErrUnavailable, err)
		}
		return nil, err
	}
	return result, nil
}

// Ping implements Client.
func (b *BreakerClient) Ping(ctx context.Context) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.client.Ping(ctx)
	})
	return err
}

// ListSessions implements Client.
func (b *BreakerClient) ListSessions(ctx context.Context) ([]models.ServerSession, error) {
	result, err := b.execute(func() (any, error) {
		return b.client.ListSessions(ctx)
	})
	if err != nil {
		return nil, err
	}
	sessions, _ := result.([]models.ServerSession)
	return sessions, nil
}

// GetLibraryItems implements Client.
func (b *BreakerClient) GetLibraryItems(ctx context.Context, containerID, cursor string) (*models.LibraryPage, error) {
	result, err := b.execute(func() (any, error) {
		return b.client.GetLibraryItems(ctx, containerID, cursor)
	})
	if err != nil {
		return nil, err
	}
	page, _ := result.(*models.LibraryPage)
	return page, nil
}

// SendCommand implements Client.
func (b *BreakerClient) SendCommand(ctx context.Context, sessionToken, command string, args map[string]string) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.client.SendCommand(ctx, sessionToken, command, args)
	})
	return err
}

// WebSocketURL implements Client. URL construction is local and never
// trips the breaker.
func (b *BreakerClient) WebSocketURL() (string, error) {
	return b.client.WebSocketURL()
}
