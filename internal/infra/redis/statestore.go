package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const oauthStatePrefix = "oauth_state"

// StateStore keeps the invitation token behind a Google OAuth state value
// between the redirect and the callback. States are single use.
type StateStore struct {
	client *Client
	ttl    time.Duration
}

// NewStateStore creates a state store whose entries live for ttl.
func NewStateStore(client *Client, ttl time.Duration) (*StateStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if ttl <= 0 {
		return nil, errors.New("TTL must be positive")
	}
	return &StateStore{client: client, ttl: ttl}, nil
}

func stateKey(state string) string {
	return fmt.Sprintf("%s:%s", oauthStatePrefix, state)
}

// Save stores value under state. An existing state is never overwritten.
func (s *StateStore) Save(ctx context.Context, state, value string) error {
	if state == "" {
		return errors.New("state is required")
	}

	done := Timed("state_save")
	ok, err := s.client.client.SetNX(ctx, stateKey(state), value, s.ttl).Result()
	done(err)
	if err != nil {
		return fmt.Errorf("save oauth state: %w", err)
	}
	if !ok {
		return errors.New("oauth state already exists")
	}
	return nil
}

// Consume returns and deletes the value stored under state.
// Returns ErrStateNotFound for unknown, expired or replayed states.
func (s *StateStore) Consume(ctx context.Context, state string) (string, error) {
	if state == "" {
		return "", ErrStateNotFound
	}

	done := Timed("state_consume")
	value, err := s.client.client.GetDel(ctx, stateKey(state)).Result()
	if errors.Is(err, redis.Nil) {
		done(nil)
		return "", ErrStateNotFound
	}
	done(err)
	if err != nil {
		return "", fmt.Errorf("consume oauth state: %w", err)
	}
	return value, nil
}
