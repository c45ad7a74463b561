package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"finlux/internal/backend"
	"finlux/internal/cache"
	"finlux/internal/core"
	"finlux/internal/log"
)

const (
	DefaultTimeout        = 10 * time.Second
	DefaultIdempotencyTTL = 10 * time.Minute
	idempotencyCacheSize  = 1024
)

// Publisher receives an event for every committed mutation.
type Publisher interface {
	PublishChange(ctx context.Context, ev core.ChangeEvent) error
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.clock = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

// WithTimeout bounds every adapter call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

func WithLogger(l *log.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithIdempotencyCache replaces the store of remembered mutation results.
func WithIdempotencyCache(c *cache.LRUCache[core.Transaction]) Option {
	return func(e *Engine) { e.idem = c }
}

// WithSession tags published events with the persistence mode and user.
func WithSession(mode backend.Mode, userID string) Option {
	return func(e *Engine) {
		e.mode = mode
		e.userID = userID
	}
}

func defaultIDGenerator() string {
	return uuid.NewString()
}

// NewIdempotencyCache returns a cache sized for interactive use.
func NewIdempotencyCache(ttl time.Duration) *cache.LRUCache[core.Transaction] {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return cache.NewLRUCache[core.Transaction](idempotencyCacheSize, ttl)
}
