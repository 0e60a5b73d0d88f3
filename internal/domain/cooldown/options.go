package cooldown

import (
	"time"

	"github.com/okian/posebridge/internal/domain/model"
)

// Option applies a configuration option to the filter.
type Option func(*inMemoryFilter)

// WithCooldowns overrides cooldowns for the given classes. Classes not
// listed keep their defaults.
func WithCooldowns(cooldowns map[model.PoseClass]time.Duration) Option {
	return func(f *inMemoryFilter) {
		for class, d := range cooldowns {
			if d >= 0 {
				f.cooldowns[class] = d
			}
		}
	}
}

// WithDefaultCooldown sets the cooldown for classes without an entry.
func WithDefaultCooldown(d time.Duration) Option {
	return func(f *inMemoryFilter) {
		if d >= 0 {
			f.defaultCooldown = d
		}
	}
}

// WithCleanupInterval sets how often stale persons are evicted.
func WithCleanupInterval(d time.Duration) Option {
	return func(f *inMemoryFilter) {
		if d > 0 {
			f.cleanupInterval = d
		}
	}
}

// WithMaxAge sets how long a person may go unseen before eviction.
func WithMaxAge(d time.Duration) Option {
	return func(f *inMemoryFilter) {
		if d > 0 {
			f.maxAge = d
		}
	}
}
