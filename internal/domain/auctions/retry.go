package auctions

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// RetryPolicy bounds how transient store failures are retried
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy retries three times starting at 50ms
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:      3,
	InitialInterval: 50 * time.Millisecond,
	MaxInterval:     time.Second,
}

// RetryingStore retries operations that failed with ErrStoreUnavailable.
// Business outcomes such as ErrConflict or ErrNotFound are returned at once.
// A write that failed with ErrCommitUncertain is never re-run: the store is
// read back instead and the write counts as done when its effect is visible.
type RetryingStore struct {
	inner  Store
	policy RetryPolicy
	logger *slog.Logger
}

var _ Store = (*RetryingStore)(nil)

// NewRetryingStore wraps a store with bounded exponential backoff
func NewRetryingStore(inner Store, policy RetryPolicy, logger *slog.Logger) *RetryingStore {
	return &RetryingStore{inner: inner, policy: policy, logger: logger}
}

func (s *RetryingStore) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if s.policy.InitialInterval > 0 {
		b.InitialInterval = s.policy.InitialInterval
	}
	if s.policy.MaxInterval > 0 {
		b.MaxInterval = s.policy.MaxInterval
	}
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, s.policy.MaxRetries), ctx)
}

func (s *RetryingStore) do(ctx context.Context, op string, fn func() error) error {
	return backoff.RetryNotify(func() error {
		err := fn()
		if err != nil && !errors.Is(err, ErrStoreUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}, s.newBackOff(ctx), func(err error, wait time.Duration) {
		s.logger.Warn("Retrying auction store operation", "op", op, "wait", wait, "error", err)
	})
}

func (s *RetryingStore) Create(ctx context.Context, auction *Auction) error {
	err := s.do(ctx, "create", func() error {
		return s.inner.Create(ctx, auction)
	})
	if errors.Is(err, ErrCommitUncertain) {
		// ids are generated by the caller, so finding the row means our insert landed
		if _, getErr := s.Get(ctx, auction.ID); getErr == nil {
			s.logger.Warn("Uncertain create resolved as applied", "auction_id", auction.ID)
			return nil
		}
	}
	return err
}

func (s *RetryingStore) Get(ctx context.Context, id uuid.UUID) (*Auction, error) {
	var out *Auction
	err := s.do(ctx, "get", func() error {
		var err error
		out, err = s.inner.Get(ctx, id)
		return err
	})
	return out, err
}

func (s *RetryingStore) ConditionalUpdate(ctx context.Context, id uuid.UUID, update Update) (*Auction, error) {
	var out *Auction
	err := s.do(ctx, "conditional_update", func() error {
		var err error
		out, err = s.inner.ConditionalUpdate(ctx, id, update)
		return err
	})
	if errors.Is(err, ErrCommitUncertain) && update.Landed != nil {
		fresh, getErr := s.Get(ctx, id)
		if getErr == nil && update.Landed(fresh) {
			s.logger.Warn("Uncertain update resolved as applied", "auction_id", id, "version", fresh.Version)
			return fresh, nil
		}
	}
	return out, err
}

func (s *RetryingStore) Find(ctx context.Context, filter Filter) ([]*Auction, error) {
	var out []*Auction
	err := s.do(ctx, "find", func() error {
		var err error
		out, err = s.inner.Find(ctx, filter)
		return err
	})
	return out, err
}

func (s *RetryingStore) Count(ctx context.Context, filter Filter) (int, error) {
	var out int
	err := s.do(ctx, "count", func() error {
		var err error
		out, err = s.inner.Count(ctx, filter)
		return err
	})
	return out, err
}

func (s *RetryingStore) Delete(ctx context.Context, id uuid.UUID, expect Precondition) error {
	err := s.do(ctx, "delete", func() error {
		return s.inner.Delete(ctx, id, expect)
	})
	if errors.Is(err, ErrCommitUncertain) {
		if _, getErr := s.Get(ctx, id); errors.Is(getErr, ErrNotFound) {
			s.logger.Warn("Uncertain delete resolved as applied", "auction_id", id)
			return nil
		}
	}
	return err
}
