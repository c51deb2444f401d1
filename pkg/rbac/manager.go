package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/rentshelf/pkg/audit"
	"github.com/platinummonkey/rentshelf/pkg/observability"
)

// Config holds RBAC configuration
type Config struct {
	// CacheTTL is how long resolved permission actions are cached; 0 disables caching
	CacheTTL time.Duration

	// CacheSize bounds the in-process cache
	CacheSize int

	// SeedFile is an optional YAML permission seed; empty uses DefaultPermissionSeed
	SeedFile string
}

// DefaultConfig returns default RBAC configuration
func DefaultConfig() Config {
	return Config{
		CacheTTL:  30 * time.Second,
		CacheSize: 10000,
	}
}

// Manager wires the store, resolver cache, engine and handlers together
type Manager struct {
	store    *Store
	resolver *CachedResolver
	engine   *Engine
	handlers *Handlers
	config   Config
}

// NewManager creates a new RBAC manager. redisClient, metrics and recorder may be nil.
func NewManager(db *sql.DB, redisClient *redis.Client, metrics *observability.Metrics, recorder *audit.Recorder, logger *observability.Logger, config Config) *Manager {
	store := NewStore(db)
	if config.CacheSize <= 0 {
		config.CacheSize = DefaultConfig().CacheSize
	}

	var resolver ActionResolver = store
	var cached *CachedResolver
	if config.CacheTTL > 0 {
		var remote *RedisActionCache
		if redisClient != nil {
			remote = NewRedisActionCache(redisClient, config.CacheTTL)
		}
		cached = NewCachedResolver(store, config.CacheSize, config.CacheTTL, remote, metrics, logger)
		resolver = cached
	}

	engine := NewEngine(resolver, metrics, recorder)

	var invalidator Invalidator
	if cached != nil {
		invalidator = cached
	}

	return &Manager{
		store:    store,
		resolver: cached,
		engine:   engine,
		handlers: NewHandlers(store, engine, invalidator, recorder),
		config:   config,
	}
}

// Initialize seeds the permission reference data
func (m *Manager) Initialize(ctx context.Context) (int, error) {
	seed, err := LoadPermissionSeed(m.config.SeedFile)
	if err != nil {
		return 0, err
	}

	n, err := m.store.SeedPermissions(ctx, seed)
	if err != nil {
		return 0, fmt.Errorf("failed to seed permissions: %w", err)
	}
	return n, nil
}

// RegisterRoutes registers RBAC routes with a router
func (m *Manager) RegisterRoutes(router *mux.Router) {
	m.handlers.RegisterRoutes(router)
}

// Store returns the RBAC store
func (m *Manager) Store() *Store {
	return m.store
}

// Engine returns the access decision engine
func (m *Manager) Engine() *Engine {
	return m.engine
}

// Invalidator returns the cache invalidator, or nil when caching is disabled
func (m *Manager) Invalidator() Invalidator {
	if m.resolver == nil {
		return nil
	}
	return m.resolver
}
