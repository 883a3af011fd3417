// Package reporedis provides a Redis read-through cache over any
// repokit.Repository.
package reporedis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-redis/redis/v8"
	"github.com/lemmego/repokit"
	"github.com/vmihailenco/msgpack/v5"
)

// =====================================
// Client
// =====================================

// NewClient opens a Redis connection from the given configuration and
// verifies it with a ping.
func NewClient(ctx context.Context, config repokit.Config) (*redis.Client, error) {
	host := config.Host
	if host == "" {
		host = "localhost"
	}
	port := config.Port
	if port == 0 {
		port = 6379
	}
	opts := &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: config.Password,
	}
	if db, ok := config.Options["redis_db"].(int); ok {
		opts.DB = db
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, repokit.NewErrorWithCause(repokit.ErrorTypeConnection, "failed to ping Redis", err)
	}
	return client, nil
}

// =====================================
// Cached Repository
// =====================================

// CachedRepository serves repeated declarative reads from Redis and
// delegates everything else to the wrapped repository. Entries are
// msgpack-encoded and keyed under a per-entity generation counter; writes
// bump the counter, so stale entries are abandoned rather than scanned for.
// Redis failures degrade to the inner repository, never to a caller error.
//
// Reads carrying typed specifications bypass the cache: plain predicates
// have no canonical cache key.
type CachedRepository[T any] struct {
	inner  repokit.Repository[T]
	client redis.Cmdable
	ttl    time.Duration
	prefix string
	name   string
	logger repokit.Logger
}

// CacheOption configures a CachedRepository
type CacheOption[T any] func(*CachedRepository[T])

// WithTTL sets the entry lifetime (default one minute)
func WithTTL[T any](ttl time.Duration) CacheOption[T] {
	return func(c *CachedRepository[T]) { c.ttl = ttl }
}

// WithKeyPrefix sets the key namespace (default "repokit")
func WithKeyPrefix[T any](prefix string) CacheOption[T] {
	return func(c *CachedRepository[T]) { c.prefix = prefix }
}

// WithLogger supplies the logging sink
func WithLogger[T any](logger repokit.Logger) CacheOption[T] {
	return func(c *CachedRepository[T]) { c.logger = logger }
}

// NewCachedRepository wraps inner with a Redis read-through cache
func NewCachedRepository[T any](inner repokit.Repository[T], client redis.Cmdable, opts ...CacheOption[T]) (*CachedRepository[T], error) {
	info, err := repokit.GetEntityInfo[T]()
	if err != nil {
		return nil, err
	}
	c := &CachedRepository[T]{
		inner:  inner,
		client: client,
		ttl:    time.Minute,
		prefix: "repokit",
		name:   info.Name,
		logger: repokit.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// =====================================
// Keys
// =====================================

func (c *CachedRepository[T]) generationKey() string {
	return c.prefix + ":" + c.name + ":gen"
}

// generation reads the per-entity write counter; a missing counter is
// generation zero.
func (c *CachedRepository[T]) generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, c.generationKey()).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return gen, err
}

// bumpGeneration invalidates every cached read for this entity type
func (c *CachedRepository[T]) bumpGeneration(ctx context.Context) {
	if err := c.client.Incr(ctx, c.generationKey()).Err(); err != nil {
		c.logger.Warn("failed to bump cache generation", map[string]interface{}{
			"entity": c.name,
			"error":  err.Error(),
		})
	}
}

func (c *CachedRepository[T]) key(ctx context.Context, op string, model *repokit.FilterModel, extra ...string) (string, error) {
	gen, err := c.generation(ctx)
	if err != nil {
		return "", err
	}
	digest := xxhash.New()
	_, _ = digest.WriteString(op)
	if model != nil {
		data, err := repokit.MarshalFilterModel(model)
		if err != nil {
			return "", err
		}
		_, _ = digest.WriteString(data)
	}
	for _, part := range extra {
		_, _ = digest.WriteString("\x00")
		_, _ = digest.WriteString(part)
	}
	return c.prefix + ":" + c.name + ":" + strconv.FormatInt(gen, 10) + ":" +
		strconv.FormatUint(digest.Sum64(), 16), nil
}

func criteriaExtras[T any](criteria *repokit.FindCriteria[T]) []string {
	extra := make([]string, 0, 4)
	if criteria.Skip != nil {
		extra = append(extra, "s"+strconv.Itoa(*criteria.Skip))
	}
	if criteria.Take != nil {
		extra = append(extra, "t"+strconv.Itoa(*criteria.Take))
	}
	if criteria.DistinctField != "" {
		extra = append(extra, "d"+criteria.DistinctField)
	}
	for _, o := range criteria.Orderings {
		extra = append(extra, "o"+o.Field+string(o.Direction))
	}
	return extra
}

// =====================================
// Cache Plumbing
// =====================================

func (c *CachedRepository[T]) lookup(ctx context.Context, key string, dest interface{}) bool {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("cache lookup failed", map[string]interface{}{
				"entity": c.name,
				"error":  err.Error(),
			})
		}
		return false
	}
	if err := msgpack.Unmarshal(data, dest); err != nil {
		c.logger.Warn("cache entry corrupt", map[string]interface{}{
			"entity": c.name,
			"error":  err.Error(),
		})
		return false
	}
	return true
}

func (c *CachedRepository[T]) store(ctx context.Context, key string, value interface{}) {
	data, err := msgpack.Marshal(value)
	if err != nil {
		c.logger.Warn("cache encode failed", map[string]interface{}{
			"entity": c.name,
			"error":  err.Error(),
		})
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("cache store failed", map[string]interface{}{
			"entity": c.name,
			"error":  err.Error(),
		})
	}
}

// =====================================
// Reads
// =====================================

// FindAll serves declarative queries from the cache when possible
func (c *CachedRepository[T]) FindAll(ctx context.Context, opts ...repokit.FindOption[T]) ([]*T, error) {
	criteria := repokit.ApplyFindOptions(opts)
	if len(criteria.Specifications) > 0 {
		return c.inner.FindAll(ctx, opts...)
	}
	key, err := c.key(ctx, "findall", criteria.Model, criteriaExtras(criteria)...)
	if err != nil {
		return c.inner.FindAll(ctx, opts...)
	}
	var cached []*T
	if c.lookup(ctx, key, &cached) {
		return cached, nil
	}
	items, err := c.inner.FindAll(ctx, opts...)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, items)
	return items, nil
}

// FindAllPaged serves pages from the cache when possible
func (c *CachedRepository[T]) FindAllPaged(ctx context.Context, model *repokit.FilterModel) (*repokit.Page[T], error) {
	key, err := c.key(ctx, "findallpaged", model)
	if err != nil {
		return c.inner.FindAllPaged(ctx, model)
	}
	var cached repokit.Page[T]
	if c.lookup(ctx, key, &cached) {
		return &cached, nil
	}
	page, err := c.inner.FindAllPaged(ctx, model)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, page)
	return page, nil
}

// FindOne serves single-entity lookups from the cache when possible
func (c *CachedRepository[T]) FindOne(ctx context.Context, opts ...repokit.FindOption[T]) (*T, error) {
	criteria := repokit.ApplyFindOptions(opts)
	if len(criteria.Specifications) > 0 {
		return c.inner.FindOne(ctx, opts...)
	}
	key, err := c.key(ctx, "findone", criteria.Model, criteriaExtras(criteria)...)
	if err != nil {
		return c.inner.FindOne(ctx, opts...)
	}
	var cached T
	if c.lookup(ctx, key, &cached) {
		return &cached, nil
	}
	entity, err := c.inner.FindOne(ctx, opts...)
	if err != nil || entity == nil {
		return entity, err
	}
	c.store(ctx, key, entity)
	return entity, nil
}

// FindOneByID serves id lookups from the cache when possible
func (c *CachedRepository[T]) FindOneByID(ctx context.Context, id interface{}) (*T, error) {
	key, err := c.key(ctx, "findonebyid", nil, fmt.Sprintf("%v", id))
	if err != nil {
		return c.inner.FindOneByID(ctx, id)
	}
	var cached T
	if c.lookup(ctx, key, &cached) {
		return &cached, nil
	}
	entity, err := c.inner.FindOneByID(ctx, id)
	if err != nil || entity == nil {
		return entity, err
	}
	c.store(ctx, key, entity)
	return entity, nil
}

// Count serves counts from the cache when possible
func (c *CachedRepository[T]) Count(ctx context.Context, opts ...repokit.FindOption[T]) (int64, error) {
	criteria := repokit.ApplyFindOptions(opts)
	if len(criteria.Specifications) > 0 {
		return c.inner.Count(ctx, opts...)
	}
	key, err := c.key(ctx, "count", criteria.Model, criteriaExtras(criteria)...)
	if err != nil {
		return c.inner.Count(ctx, opts...)
	}
	var cached int64
	if c.lookup(ctx, key, &cached) {
		return cached, nil
	}
	count, err := c.inner.Count(ctx, opts...)
	if err != nil {
		return 0, err
	}
	c.store(ctx, key, count)
	return count, nil
}

// Exists always consults the wrapped repository
func (c *CachedRepository[T]) Exists(ctx context.Context, id interface{}) (bool, error) {
	return c.inner.Exists(ctx, id)
}

// =====================================
// Writes
// =====================================

// Upsert delegates and invalidates cached reads on success
func (c *CachedRepository[T]) Upsert(ctx context.Context, entity *T) (*T, repokit.RepositoryAction, error) {
	persisted, action, err := c.inner.Upsert(ctx, entity)
	if err == nil {
		c.bumpGeneration(ctx)
	}
	return persisted, action, err
}

// Insert delegates and invalidates cached reads on success
func (c *CachedRepository[T]) Insert(ctx context.Context, entity *T) (*T, error) {
	persisted, err := c.inner.Insert(ctx, entity)
	if err == nil {
		c.bumpGeneration(ctx)
	}
	return persisted, err
}

// Update delegates and invalidates cached reads on success
func (c *CachedRepository[T]) Update(ctx context.Context, entity *T) (*T, error) {
	persisted, err := c.inner.Update(ctx, entity)
	if err == nil {
		c.bumpGeneration(ctx)
	}
	return persisted, err
}

// Delete delegates and invalidates cached reads when a row was removed
func (c *CachedRepository[T]) Delete(ctx context.Context, entity *T) (repokit.RepositoryAction, error) {
	action, err := c.inner.Delete(ctx, entity)
	if err == nil && action == repokit.ActionDeleted {
		c.bumpGeneration(ctx)
	}
	return action, err
}

// DeleteByID delegates and invalidates cached reads when a row was removed
func (c *CachedRepository[T]) DeleteByID(ctx context.Context, id interface{}) (repokit.RepositoryAction, error) {
	action, err := c.inner.DeleteByID(ctx, id)
	if err == nil && action == repokit.ActionDeleted {
		c.bumpGeneration(ctx)
	}
	return action, err
}
