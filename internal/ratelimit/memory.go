package ratelimit

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MemoryLimiter is a process-local fixed-window limiter. Counters for
// windows older than retainWindows minutes are pruned by a background
// goroutine so the map stays bounded over the process lifetime.
type MemoryLimiter struct {
	mu          sync.Mutex
	counts      map[string]int
	now         func() time.Time
	stopCleanup chan struct{}
	cleanupOnce sync.Once
}

const retainWindows = 3

// NewMemoryLimiter creates an in-memory limiter with a background pruning
// routine. Call Close on shutdown or in tests.
func NewMemoryLimiter() *MemoryLimiter {
	l := &MemoryLimiter{
		counts:      make(map[string]int),
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}

	go l.cleanupLoop()

	return l
}

func (l *MemoryLimiter) Allow(_ context.Context, accountID string, limitPerMin int) (Decision, error) {
	idx, remainingInWindow := window(l.now())
	key := windowKey(accountID, idx)

	l.mu.Lock()
	defer l.mu.Unlock()

	used := l.counts[key]
	if used >= limitPerMin {
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: remainingInWindow,
		}, nil
	}

	l.counts[key] = used + 1

	return Decision{
		Allowed:   true,
		Remaining: limitPerMin - used - 1,
	}, nil
}

// cleanupLoop periodically removes counters from windows old enough that
// they can no longer be consulted.
func (l *MemoryLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.prune()
		case <-l.stopCleanup:
			return
		}
	}
}

func (l *MemoryLimiter) prune() {
	idx, _ := window(l.now())
	cutoff := idx - retainWindows

	l.mu.Lock()
	defer l.mu.Unlock()

	for key := range l.counts {
		sep := strings.LastIndexByte(key, ':')
		if sep < 0 {
			delete(l.counts, key)
			continue
		}
		keyIdx, err := strconv.ParseInt(key[sep+1:], 10, 64)
		if err != nil || keyIdx < cutoff {
			delete(l.counts, key)
		}
	}
}

// Close stops the pruning goroutine.
func (l *MemoryLimiter) Close() error {
	l.cleanupOnce.Do(func() {
		close(l.stopCleanup)
	})
	return nil
}

// Len returns the number of live window counters. Useful for tests.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.counts)
}
