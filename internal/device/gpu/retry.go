// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

package gpu

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// initial and max delay between Init attempts
var (
	retryInitialInterval = 500 * time.Millisecond
	retryMaxInterval     = 5 * time.Second
)

// InitWithRetry calls b.Init up to attempts times with exponential backoff.
// Errors wrapping ErrUnavailable are not retried.
func InitWithRetry(ctx context.Context, b Backend, attempts int) error {
	if attempts < 1 {
		attempts = 1
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = retryInitialInterval
	eb.MaxInterval = retryMaxInterval
	eb.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)

	tries := 0
	op := func() error {
		tries++
		err := b.Init()
		if errors.Is(err, ErrUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := backoff.Retry(op, policy); err != nil {
		return fmt.Errorf("failed to initialize gpu backend %s after %d attempt(s): %w", b.Name(), tries, err)
	}
	return nil
}
