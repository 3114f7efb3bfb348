package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/embedgate/pkg/utils"
)

// Backend names reported by Stats.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// State is the tier a TieredCache is currently serving from.
type State int

const (
	// StatePrimary reads and writes the shared store.
	StatePrimary State = iota
	// StateDegraded serves from the local store and probes the shared store periodically.
	StateDegraded
)

func (s State) String() string {
	if s == StateDegraded {
		return "degraded"
	}
	return "primary"
}

// Config holds TieredCache settings.
type Config struct {
	Namespace       string
	TTL             time.Duration
	MaxLocalEntries int
	// Timeout bounds each shared store call independently of the caller's context.
	Timeout time.Duration
	// ProbeInterval is how often a degraded cache retries the shared store.
	ProbeInterval time.Duration
}

// Stats describes the cache for operators.
type Stats struct {
	Backend   string `json:"backend"`
	State     string `json:"state"`
	Size      int    `json:"size"`
	LocalSize int    `json:"local_size"`
	Available bool   `json:"available"`
}

// Option configures a TieredCache.
type Option func(*TieredCache)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *TieredCache) {
		c.logger = utils.OrNop(l)
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *TieredCache) {
		c.now = now
	}
}

// TieredCache reads and writes a shared store and falls back to a LocalStore
// when the shared store errors. With a nil shared store it is local only.
type TieredCache struct {
	cfg    Config
	shared SharedStore
	local  *LocalStore
	logger *zap.Logger
	now    func() time.Time

	mu        sync.Mutex
	state     State
	nextProbe time.Time
}

// New creates a cache over shared (which may be nil).
func New(shared SharedStore, cfg Config, opts ...Option) *TieredCache {
	if cfg.Namespace == "" {
		cfg.Namespace = "emb"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 250 * time.Millisecond
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 30 * time.Second
	}
	c := &TieredCache{
		cfg:    cfg,
		shared: shared,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.local = NewLocalStore(cfg.MaxLocalEntries, c.now)
	return c
}

// TTL returns the expiry applied to every entry.
func (c *TieredCache) TTL() time.Duration {
	return c.cfg.TTL
}

// State returns the current tier.
func (c *TieredCache) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Key returns the namespaced store key for a fingerprint.
func (c *TieredCache) Key(fingerprint string) string {
	return c.cfg.Namespace + ":" + fingerprint
}

// Get returns a copy of the entry for fingerprint. Shared store errors are
// absorbed: the cache degrades and the local store answers.
func (c *TieredCache) Get(ctx context.Context, fingerprint string) (Entry, bool) {
	key := c.Key(fingerprint)
	if c.useShared(ctx) {
		data, err := c.sharedGet(ctx, key)
		switch {
		case err == nil:
			var e Entry
			if err := json.Unmarshal(data, &e); err != nil {
				c.logger.Debug("discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
				return Entry{}, false
			}
			return e, true
		case errors.Is(err, ErrMiss):
		default:
			c.degrade(err)
		}
	}
	return c.local.Get(key)
}

// Put stores e under fingerprint with the configured TTL. If the shared write
// fails, the entry goes to the local store with an absolute expiry.
func (c *TieredCache) Put(ctx context.Context, fingerprint string, e Entry) {
	key := c.Key(fingerprint)
	e.Fingerprint = fingerprint
	e.ExpiresAt = c.now().Add(c.cfg.TTL)

	if c.useShared(ctx) {
		data, err := json.Marshal(e)
		if err != nil {
			c.logger.Error("failed to encode cache entry", zap.String("key", key), zap.Error(err))
			return
		}
		err = c.sharedSet(ctx, key, data)
		if err == nil {
			return
		}
		c.degrade(err)
	}
	c.local.Set(key, e)
}

// InvalidateAll clears the local store and deletes this namespace's keys from
// the shared store. It returns the number of entries removed.
func (c *TieredCache) InvalidateAll(ctx context.Context) int {
	removed := c.local.Clear()
	if c.shared == nil {
		return removed
	}
	ctx, cancel := c.storeContext(ctx, 10*c.cfg.Timeout)
	defer cancel()
	n, err := c.shared.DeletePrefix(ctx, c.cfg.Namespace+":")
	removed += n
	if err != nil {
		c.degrade(err)
	}
	return removed
}

// Stats reports the serving backend, its size and whether the shared store is reachable.
func (c *TieredCache) Stats(ctx context.Context) Stats {
	localSize := c.local.Len()
	if c.shared == nil {
		return Stats{Backend: BackendMemory, State: StatePrimary.String(), Size: localSize, LocalSize: localSize, Available: true}
	}
	if c.useShared(ctx) {
		ctx, cancel := c.storeContext(ctx, 10*c.cfg.Timeout)
		defer cancel()
		n, err := c.shared.CountPrefix(ctx, c.cfg.Namespace+":")
		if err == nil {
			return Stats{Backend: BackendRedis, State: StatePrimary.String(), Size: n, LocalSize: localSize, Available: true}
		}
		c.degrade(err)
	}
	return Stats{Backend: BackendMemory, State: StateDegraded.String(), Size: localSize, LocalSize: localSize, Available: false}
}

// Close releases the shared store.
func (c *TieredCache) Close() error {
	if c.shared == nil {
		return nil
	}
	return c.shared.Close()
}

// storeContext bounds a shared store call by timeout alone. A caller that
// goes away must not make a healthy store look unreachable.
func (c *TieredCache) storeContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

func (c *TieredCache) sharedGet(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := c.storeContext(ctx, c.cfg.Timeout)
	defer cancel()
	return c.shared.Get(ctx, key)
}

func (c *TieredCache) sharedSet(ctx context.Context, key string, data []byte) error {
	ctx, cancel := c.storeContext(ctx, c.cfg.Timeout)
	defer cancel()
	return c.shared.Set(ctx, key, data, c.cfg.TTL)
}

// useShared reports whether this call should go to the shared store. In the
// degraded state exactly one caller per probe interval pings the store and,
// if it answers, moves the cache back to primary.
func (c *TieredCache) useShared(ctx context.Context) bool {
	if c.shared == nil {
		return false
	}
	c.mu.Lock()
	if c.state == StatePrimary {
		c.mu.Unlock()
		return true
	}
	now := c.now()
	if now.Before(c.nextProbe) {
		c.mu.Unlock()
		return false
	}
	c.nextProbe = now.Add(c.cfg.ProbeInterval)
	c.mu.Unlock()

	pingCtx, cancel := c.storeContext(ctx, c.cfg.Timeout)
	defer cancel()
	if err := c.shared.Ping(pingCtx); err != nil {
		c.logger.Debug("shared cache still unavailable", zap.Error(err))
		return false
	}

	c.mu.Lock()
	c.state = StatePrimary
	c.mu.Unlock()
	c.logger.Debug("shared cache recovered")
	return true
}

func (c *TieredCache) degrade(err error) {
	c.mu.Lock()
	if c.state == StateDegraded {
		c.mu.Unlock()
		return
	}
	c.state = StateDegraded
	c.nextProbe = c.now().Add(c.cfg.ProbeInterval)
	c.mu.Unlock()

	c.logger.Warn("shared cache unavailable, serving from local store",
		zap.NamedError("reason", ErrDegraded),
		zap.Error(err),
		zap.Duration("probe_interval", c.cfg.ProbeInterval))
}
