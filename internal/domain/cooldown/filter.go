// Package cooldown decides whether a person's pose detection is new enough to report.
package cooldown

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/okian/posebridge/internal/domain/model"
)

// Default timings.
const (
	DefaultCooldown        = 60 * time.Second
	DefaultCleanupInterval = 300 * time.Second
	DefaultMaxAge          = 600 * time.Second
)

// DefaultCooldowns returns the per-class cooldowns used when none are configured.
func DefaultCooldowns() map[model.PoseClass]time.Duration {
	return map[model.PoseClass]time.Duration{
		model.SittingDown: 30 * time.Second,
		model.GettingUp:   30 * time.Second,
		model.Sitting:     120 * time.Second,
		model.Standing:    120 * time.Second,
		model.Walking:     60 * time.Second,
		model.Jumping:     45 * time.Second,
	}
}

// Filter tracks the last accepted time per (person, pose class).
type Filter interface {
	// ShouldSend reports whether the detection should be forwarded and, if so,
	// records now as the pair's last accepted time. A rejection never mutates state.
	ShouldSend(ctx context.Context, personID uint32, class model.PoseClass, now time.Time) bool

	// Cooldown returns the effective cooldown for class.
	Cooldown(class model.PoseClass) time.Duration
	SetCooldown(class model.PoseClass, d time.Duration)
	SetDefaultCooldown(d time.Duration)

	// MaybeCleanup evicts stale persons at most once per cleanup interval and
	// returns how many were evicted.
	MaybeCleanup(now time.Time) int

	Stats() Stats
}

// Stats is a point-in-time view of the filter.
type Stats struct {
	TrackedPersons  int
	ClassEntries    int
	LastCleanup     time.Time
	Evicted         int64
	DefaultCooldown time.Duration
	Cooldowns       map[string]time.Duration
}

// inMemoryFilter holds person -> class -> last accepted time.
// Only the monitor goroutine mutates it; the mutex lets the status endpoint read stats.
type inMemoryFilter struct {
	mu              sync.Mutex
	last            map[uint32]map[model.PoseClass]time.Time
	cooldowns       map[model.PoseClass]time.Duration
	defaultCooldown time.Duration
	cleanupInterval time.Duration
	maxAge          time.Duration
	lastCleanup     time.Time
	evicted         int64
}

// NewInMemoryFilter creates a filter with the default cooldowns adjusted by opts.
func NewInMemoryFilter(opts ...Option) Filter {
	f := &inMemoryFilter{
		last:            make(map[uint32]map[model.PoseClass]time.Time),
		cooldowns:       DefaultCooldowns(),
		defaultCooldown: DefaultCooldown,
		cleanupInterval: DefaultCleanupInterval,
		maxAge:          DefaultMaxAge,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

func (f *inMemoryFilter) ShouldSend(_ context.Context, personID uint32, class model.PoseClass, now time.Time) bool {
	f.MaybeCleanup(now)

	f.mu.Lock()
	defer f.mu.Unlock()

	classes, ok := f.last[personID]
	if !ok {
		classes = make(map[model.PoseClass]time.Time, 1)
		f.last[personID] = classes
	}

	if prev, seen := classes[class]; seen && now.Sub(prev) < f.cooldownLocked(class) {
		return false
	}

	classes[class] = now
	return true
}

func (f *inMemoryFilter) Cooldown(class model.PoseClass) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cooldownLocked(class)
}

func (f *inMemoryFilter) cooldownLocked(class model.PoseClass) time.Duration {
	if d, ok := f.cooldowns[class]; ok {
		return d
	}
	return f.defaultCooldown
}

func (f *inMemoryFilter) SetCooldown(class model.PoseClass, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cooldowns[class] = d
}

func (f *inMemoryFilter) SetDefaultCooldown(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defaultCooldown = d
}

func (f *inMemoryFilter) MaybeCleanup(now time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.lastCleanup.IsZero() {
		f.lastCleanup = now
		return 0
	}
	if now.Sub(f.lastCleanup) <= f.cleanupInterval {
		return 0
	}

	evicted := 0
	for personID, classes := range f.last {
		var newest time.Time
		for _, ts := range classes {
			if ts.After(newest) {
				newest = ts
			}
		}
		if now.Sub(newest) > f.maxAge {
			delete(f.last, personID)
			evicted++
		}
	}

	f.lastCleanup = now
	f.evicted += int64(evicted)
	return evicted
}

func (f *inMemoryFilter) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries := 0
	for _, classes := range f.last {
		entries += len(classes)
	}

	cooldowns := make(map[string]time.Duration, len(f.cooldowns))
	for class, d := range f.cooldowns {
		cooldowns[classKey(class)] = d
	}

	return Stats{
		TrackedPersons:  len(f.last),
		ClassEntries:    entries,
		LastCleanup:     f.lastCleanup,
		Evicted:         f.evicted,
		DefaultCooldown: f.defaultCooldown,
		Cooldowns:       cooldowns,
	}
}

func classKey(class model.PoseClass) string {
	if class.Known() {
		return class.String()
	}
	return "class_" + strconv.FormatUint(uint64(class), 10)
}
