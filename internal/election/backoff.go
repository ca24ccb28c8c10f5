package election

import (
	rand "math/rand/v2"
	"sync"
	"time"
)

const (
	// maxRetryDelay caps the exponential part of the retry delay.
	maxRetryDelay = 30 * time.Second

	// retryJitterRatio is the fraction of the delay used as symmetric jitter.
	retryJitterRatio = 0.25
)

// retryDelay computes the delay before retry number attempt (1-based):
//
//	delay = clamp(base * 2^(attempt-1), 0, maxRetryDelay) ± 25% uniform jitter
//
// The result is never negative. With a nil rng the package-level PRNG is used.
func retryDelay(attempt int, base time.Duration, rng *rand.Rand) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		return 0
	}

	delay := base
	for i := 1; i < attempt && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}

	maxJitter := int64(float64(delay) * retryJitterRatio)
	if maxJitter > 0 {
		var jitter int64
		if rng != nil {
			jitter = rng.Int64N(2*maxJitter+1) - maxJitter
		} else {
			jitter = rand.Int64N(2*maxJitter+1) - maxJitter //nolint:gosec // non-crypto backoff jitter
		}
		delay += time.Duration(jitter)
	}

	if delay < 0 {
		return 0
	}

	return delay
}

// newRetryRNG returns a deterministic RNG only when a non-zero seed is provided.
// When seed == 0 it returns nil so callers can use the package-level PRNG instead.
//
//nolint:gosec
func newRetryRNG(seed int64) *rand.Rand {
	if seed == 0 {
		return nil
	}
	s1 := uint64(seed)
	s2 := s1 ^ 0x9e3779b97f4a7c15

	return rand.New(rand.NewPCG(s1, s2))
}

// backoff serializes access to a seeded RNG, which is not safe for concurrent use.
type backoff struct {
	base time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

func newBackoff(base time.Duration, seed int64) *backoff {
	return &backoff{base: base, rng: newRetryRNG(seed)}
}

func (b *backoff) delay(attempt int) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	return retryDelay(attempt, b.base, b.rng)
}
