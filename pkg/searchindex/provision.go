package searchindex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eunmann/aadhaar-index/internal/logctx"
)

// ProvisionOptions controls how long EnsureIndex waits for a fresh index.
type ProvisionOptions struct {
	// ReadyTimeout bounds the wait after creation. Default: 30s.
	ReadyTimeout time.Duration
	// ReadyPollInterval is the delay between readiness checks. Default: 500ms.
	ReadyPollInterval time.Duration
}

// DefaultProvisionOptions returns the default readiness wait settings.
func DefaultProvisionOptions() ProvisionOptions {
	return ProvisionOptions{
		ReadyTimeout:      30 * time.Second,
		ReadyPollInterval: 500 * time.Millisecond,
	}
}

func (o *ProvisionOptions) applyDefaults() {
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = DefaultProvisionOptions().ReadyTimeout
	}
	if o.ReadyPollInterval <= 0 {
		o.ReadyPollInterval = DefaultProvisionOptions().ReadyPollInterval
	}
}

// EnsureIndex creates the named index with mapping m unless it already
// exists, then waits until the new index accepts writes. It reports whether
// the index was created. An existing index is left untouched.
func EnsureIndex(ctx context.Context, b Backend, name string, m Mapping, opts ProvisionOptions) (created bool, err error) {
	opts.applyDefaults()
	log := logctx.FromContext(ctx)

	exists, err := b.Exists(ctx, name)
	if err != nil {
		return false, fmt.Errorf("check index %q: %w", name, err)
	}
	if exists {
		log.Debug().Str("index", name).Msg("index exists")
		return false, nil
	}

	start := time.Now()
	if err := b.Create(ctx, name, m); err != nil {
		return false, fmt.Errorf("create index %q: %w", name, err)
	}
	log.Info().
		Str("index", name).
		Str("type", m.TypeTag).
		Int("fields", len(m.Fields)).
		Msg("index created")

	if err := WaitReady(ctx, b, name, opts); err != nil {
		return true, err
	}
	log.Info().
		Str("index", name).
		Dur("elapsed", time.Since(start)).
		Msg("index ready")
	return true, nil
}

// WaitReady polls b.Ready until it succeeds, the context ends, or the
// timeout elapses.
func WaitReady(ctx context.Context, b Backend, name string, opts ProvisionOptions) error {
	opts.applyDefaults()

	ctx, cancel := context.WithTimeout(ctx, opts.ReadyTimeout)
	defer cancel()

	ticker := time.NewTicker(opts.ReadyPollInterval)
	defer ticker.Stop()

	attempts := 0
	for {
		attempts++
		err := b.Ready(ctx, name)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNotReady) && ctx.Err() == nil {
			log := logctx.FromContext(ctx)
			log.Debug().
				Err(err).
				Str("index", name).
				Int("attempt", attempts).
				Msg("readiness check failed")
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for index %q after %d checks: %w", name, attempts, errors.Join(ctx.Err(), err))
		case <-ticker.C:
		}
	}
}
