package repokit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sony/gobreaker"
)

// =====================================
// Repository Behaviors
// =====================================
//
// Behaviors decorate a Repository with cross-cutting concerns: logging,
// timeouts, retries, circuit breaking and caching. They compose in any
// order; each one delegates to the inner repository and adds exactly one
// concern. Timeouts, retries and breakers belong here, outside the engine,
// which enforces none of them internally.

// LoggingBehavior logs every operation with its duration and outcome
type LoggingBehavior[T any] struct {
	inner  Repository[T]
	logger Logger
	name   string
}

// NewLoggingBehavior decorates inner with operation logging
func NewLoggingBehavior[T any](inner Repository[T], logger Logger) *LoggingBehavior[T] {
	info, _ := GetEntityInfo[T]()
	name := ""
	if info != nil {
		name = info.Name
	}
	return &LoggingBehavior[T]{inner: inner, logger: logger, name: name}
}

func (b *LoggingBehavior[T]) log(op string, start time.Time, err error) {
	fields := map[string]interface{}{
		"entity":   b.name,
		"duration": time.Since(start).String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		b.logger.Warn("repository "+op+" failed", fields)
		return
	}
	b.logger.Debug("repository "+op, fields)
}

func (b *LoggingBehavior[T]) FindAll(ctx context.Context, opts ...FindOption[T]) ([]*T, error) {
	start := time.Now()
	items, err := b.inner.FindAll(ctx, opts...)
	b.log("findall", start, err)
	return items, err
}

func (b *LoggingBehavior[T]) FindAllPaged(ctx context.Context, model *FilterModel) (*Page[T], error) {
	start := time.Now()
	page, err := b.inner.FindAllPaged(ctx, model)
	b.log("findallpaged", start, err)
	return page, err
}

func (b *LoggingBehavior[T]) FindOne(ctx context.Context, opts ...FindOption[T]) (*T, error) {
	start := time.Now()
	entity, err := b.inner.FindOne(ctx, opts...)
	b.log("findone", start, err)
	return entity, err
}

func (b *LoggingBehavior[T]) FindOneByID(ctx context.Context, id interface{}) (*T, error) {
	start := time.Now()
	entity, err := b.inner.FindOneByID(ctx, id)
	b.log("findonebyid", start, err)
	return entity, err
}

func (b *LoggingBehavior[T]) Count(ctx context.Context, opts ...FindOption[T]) (int64, error) {
	start := time.Now()
	count, err := b.inner.Count(ctx, opts...)
	b.log("count", start, err)
	return count, err
}

func (b *LoggingBehavior[T]) Exists(ctx context.Context, id interface{}) (bool, error) {
	start := time.Now()
	exists, err := b.inner.Exists(ctx, id)
	b.log("exists", start, err)
	return exists, err
}

func (b *LoggingBehavior[T]) Upsert(ctx context.Context, entity *T) (*T, RepositoryAction, error) {
	start := time.Now()
	persisted, action, err := b.inner.Upsert(ctx, entity)
	b.log("upsert", start, err)
	return persisted, action, err
}

func (b *LoggingBehavior[T]) Insert(ctx context.Context, entity *T) (*T, error) {
	start := time.Now()
	persisted, err := b.inner.Insert(ctx, entity)
	b.log("insert", start, err)
	return persisted, err
}

func (b *LoggingBehavior[T]) Update(ctx context.Context, entity *T) (*T, error) {
	start := time.Now()
	persisted, err := b.inner.Update(ctx, entity)
	b.log("update", start, err)
	return persisted, err
}

func (b *LoggingBehavior[T]) Delete(ctx context.Context, entity *T) (RepositoryAction, error) {
	start := time.Now()
	action, err := b.inner.Delete(ctx, entity)
	b.log("delete", start, err)
	return action, err
}

func (b *LoggingBehavior[T]) DeleteByID(ctx context.Context, id interface{}) (RepositoryAction, error) {
	start := time.Now()
	action, err := b.inner.DeleteByID(ctx, id)
	b.log("deletebyid", start, err)
	return action, err
}

// TimeoutBehavior bounds every operation with a deadline
type TimeoutBehavior[T any] struct {
	inner   Repository[T]
	timeout time.Duration
}

// NewTimeoutBehavior decorates inner so each call runs under its own
// context deadline.
func NewTimeoutBehavior[T any](inner Repository[T], timeout time.Duration) *TimeoutBehavior[T] {
	return &TimeoutBehavior[T]{inner: inner, timeout: timeout}
}

func (b *TimeoutBehavior[T]) FindAll(ctx context.Context, opts ...FindOption[T]) ([]*T, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.inner.FindAll(ctx, opts...)
}

func (b *TimeoutBehavior[T]) FindAllPaged(ctx context.Context, model *FilterModel) (*Page[T], error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.inner.FindAllPaged(ctx, model)
}

func (b *TimeoutBehavior[T]) FindOne(ctx context.Context, opts ...FindOption[T]) (*T, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.inner.FindOne(ctx, opts...)
}

func (b *TimeoutBehavior[T]) FindOneByID(ctx context.Context, id interface{}) (*T, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.inner.FindOneByID(ctx, id)
}

func (b *TimeoutBehavior[T]) Count(ctx context.Context, opts ...FindOption[T]) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.inner.Count(ctx, opts...)
}

func (b *TimeoutBehavior[T]) Exists(ctx context.Context, id interface{}) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.inner.Exists(ctx, id)
}

func (b *TimeoutBehavior[T]) Upsert(ctx context.Context, entity *T) (*T, RepositoryAction, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.inner.Upsert(ctx, entity)
}

func (b *TimeoutBehavior[T]) Insert(ctx context.Context, entity *T) (*T, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.inner.Insert(ctx, entity)
}

func (b *TimeoutBehavior[T]) Update(ctx context.Context, entity *T) (*T, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.inner.Update(ctx, entity)
}

func (b *TimeoutBehavior[T]) Delete(ctx context.Context, entity *T) (RepositoryAction, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.inner.Delete(ctx, entity)
}

func (b *TimeoutBehavior[T]) DeleteByID(ctx context.Context, id interface{}) (RepositoryAction, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.inner.DeleteByID(ctx, id)
}

// RetryBehavior retries operations that fail with transient error types
// (connection, timeout, database). Concurrency conflicts, validation and
// filter errors are permanent and surface immediately.
type RetryBehavior[T any] struct {
	inner      Repository[T]
	maxRetries uint64
	interval   time.Duration
}

// NewRetryBehavior decorates inner with exponential-backoff retries
func NewRetryBehavior[T any](inner Repository[T], maxRetries int, initialInterval time.Duration) *RetryBehavior[T] {
	return &RetryBehavior[T]{
		inner:      inner,
		maxRetries: uint64(maxRetries),
		interval:   initialInterval,
	}
}

func retryable(err error) bool {
	return IsErrorType(err, ErrorTypeConnection) ||
		IsErrorType(err, ErrorTypeTimeout) ||
		IsErrorType(err, ErrorTypeDatabase)
}

func (b *RetryBehavior[T]) run(ctx context.Context, fn func() error) error {
	operation := func() error {
		err := fn()
		if err == nil || retryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = b.interval
	return backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, b.maxRetries), ctx))
}

func (b *RetryBehavior[T]) FindAll(ctx context.Context, opts ...FindOption[T]) ([]*T, error) {
	var items []*T
	err := b.run(ctx, func() (e error) {
		items, e = b.inner.FindAll(ctx, opts...)
		return
	})
	return items, err
}

func (b *RetryBehavior[T]) FindAllPaged(ctx context.Context, model *FilterModel) (*Page[T], error) {
	var page *Page[T]
	err := b.run(ctx, func() (e error) {
		page, e = b.inner.FindAllPaged(ctx, model)
		return
	})
	return page, err
}

func (b *RetryBehavior[T]) FindOne(ctx context.Context, opts ...FindOption[T]) (*T, error) {
	var entity *T
	err := b.run(ctx, func() (e error) {
		entity, e = b.inner.FindOne(ctx, opts...)
		return
	})
	return entity, err
}

func (b *RetryBehavior[T]) FindOneByID(ctx context.Context, id interface{}) (*T, error) {
	var entity *T
	err := b.run(ctx, func() (e error) {
		entity, e = b.inner.FindOneByID(ctx, id)
		return
	})
	return entity, err
}

func (b *RetryBehavior[T]) Count(ctx context.Context, opts ...FindOption[T]) (int64, error) {
	var count int64
	err := b.run(ctx, func() (e error) {
		count, e = b.inner.Count(ctx, opts...)
		return
	})
	return count, err
}

func (b *RetryBehavior[T]) Exists(ctx context.Context, id interface{}) (bool, error) {
	var exists bool
	err := b.run(ctx, func() (e error) {
		exists, e = b.inner.Exists(ctx, id)
		return
	})
	return exists, err
}

func (b *RetryBehavior[T]) Upsert(ctx context.Context, entity *T) (*T, RepositoryAction, error) {
	var persisted *T
	action := ActionNone
	err := b.run(ctx, func() (e error) {
		persisted, action, e = b.inner.Upsert(ctx, entity)
		return
	})
	return persisted, action, err
}

func (b *RetryBehavior[T]) Insert(ctx context.Context, entity *T) (*T, error) {
	var persisted *T
	err := b.run(ctx, func() (e error) {
		persisted, e = b.inner.Insert(ctx, entity)
		return
	})
	return persisted, err
}

func (b *RetryBehavior[T]) Update(ctx context.Context, entity *T) (*T, error) {
	var persisted *T
	err := b.run(ctx, func() (e error) {
		persisted, e = b.inner.Update(ctx, entity)
		return
	})
	return persisted, err
}

func (b *RetryBehavior[T]) Delete(ctx context.Context, entity *T) (RepositoryAction, error) {
	action := ActionNone
	err := b.run(ctx, func() (e error) {
		action, e = b.inner.Delete(ctx, entity)
		return
	})
	return action, err
}

func (b *RetryBehavior[T]) DeleteByID(ctx context.Context, id interface{}) (RepositoryAction, error) {
	action := ActionNone
	err := b.run(ctx, func() (e error) {
		action, e = b.inner.DeleteByID(ctx, id)
		return
	})
	return action, err
}

// BreakerBehavior short-circuits calls while the wrapped repository keeps
// failing, using a shared circuit breaker across all operations.
type BreakerBehavior[T any] struct {
	inner   Repository[T]
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerBehavior decorates inner with a circuit breaker
func NewBreakerBehavior[T any](inner Repository[T], settings gobreaker.Settings) *BreakerBehavior[T] {
	return &BreakerBehavior[T]{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func (b *BreakerBehavior[T]) run(fn func() (interface{}, error)) (interface{}, error) {
	return b.breaker.Execute(fn)
}

func (b *BreakerBehavior[T]) FindAll(ctx context.Context, opts ...FindOption[T]) ([]*T, error) {
	result, err := b.run(func() (interface{}, error) { return b.inner.FindAll(ctx, opts...) })
	if err != nil {
		return nil, err
	}
	return result.([]*T), nil
}

func (b *BreakerBehavior[T]) FindAllPaged(ctx context.Context, model *FilterModel) (*Page[T], error) {
	result, err := b.run(func() (interface{}, error) { return b.inner.FindAllPaged(ctx, model) })
	if err != nil {
		return nil, err
	}
	return result.(*Page[T]), nil
}

func (b *BreakerBehavior[T]) FindOne(ctx context.Context, opts ...FindOption[T]) (*T, error) {
	result, err := b.run(func() (interface{}, error) { return b.inner.FindOne(ctx, opts...) })
	if err != nil {
		return nil, err
	}
	return result.(*T), nil
}

func (b *BreakerBehavior[T]) FindOneByID(ctx context.Context, id interface{}) (*T, error) {
	result, err := b.run(func() (interface{}, error) { return b.inner.FindOneByID(ctx, id) })
	if err != nil {
		return nil, err
	}
	return result.(*T), nil
}

func (b *BreakerBehavior[T]) Count(ctx context.Context, opts ...FindOption[T]) (int64, error) {
	result, err := b.run(func() (interface{}, error) { return b.inner.Count(ctx, opts...) })
	if err != nil {
		return 0, err
	}
	return result.(int64), nil
}

func (b *BreakerBehavior[T]) Exists(ctx context.Context, id interface{}) (bool, error) {
	result, err := b.run(func() (interface{}, error) { return b.inner.Exists(ctx, id) })
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

func (b *BreakerBehavior[T]) Upsert(ctx context.Context, entity *T) (*T, RepositoryAction, error) {
	var action RepositoryAction
	result, err := b.run(func() (interface{}, error) {
		persisted, a, e := b.inner.Upsert(ctx, entity)
		action = a
		return persisted, e
	})
	if err != nil {
		return nil, ActionNone, err
	}
	return result.(*T), action, nil
}

func (b *BreakerBehavior[T]) Insert(ctx context.Context, entity *T) (*T, error) {
	result, err := b.run(func() (interface{}, error) { return b.inner.Insert(ctx, entity) })
	if err != nil {
		return nil, err
	}
	return result.(*T), nil
}

func (b *BreakerBehavior[T]) Update(ctx context.Context, entity *T) (*T, error) {
	result, err := b.run(func() (interface{}, error) { return b.inner.Update(ctx, entity) })
	if err != nil {
		return nil, err
	}
	return result.(*T), nil
}

func (b *BreakerBehavior[T]) Delete(ctx context.Context, entity *T) (RepositoryAction, error) {
	result, err := b.run(func() (interface{}, error) { return b.inner.Delete(ctx, entity) })
	if err != nil {
		return ActionNone, err
	}
	return result.(RepositoryAction), nil
}

func (b *BreakerBehavior[T]) DeleteByID(ctx context.Context, id interface{}) (RepositoryAction, error) {
	result, err := b.run(func() (interface{}, error) { return b.inner.DeleteByID(ctx, id) })
	if err != nil {
		return ActionNone, err
	}
	return result.(RepositoryAction), nil
}

// CacheBehavior serves repeated reads from an in-process LRU cache. Only
// declarative queries are cacheable: a read carrying typed specifications
// (plain functions, no canonical form) bypasses the cache. Any write purges
// the whole cache; correctness over cleverness.
type CacheBehavior[T any] struct {
	inner Repository[T]
	cache *lru.Cache[uint64, interface{}]
}

// NewCacheBehavior decorates inner with an LRU cache of size entries
func NewCacheBehavior[T any](inner Repository[T], size int) (*CacheBehavior[T], error) {
	cache, err := lru.New[uint64, interface{}](size)
	if err != nil {
		return nil, NewErrorWithCause(ErrorTypeInternal, "failed to create cache", err)
	}
	return &CacheBehavior[T]{inner: inner, cache: cache}, nil
}

// CacheKey hashes an operation name plus the canonical JSON of a filter
// model into a cache key.
func CacheKey(op string, model *FilterModel, extra ...string) (uint64, error) {
	digest := xxhash.New()
	_, _ = digest.WriteString(op)
	if model != nil {
		data, err := MarshalFilterModel(model)
		if err != nil {
			return 0, err
		}
		_, _ = digest.WriteString(data)
	}
	for _, part := range extra {
		_, _ = digest.WriteString("\x00")
		_, _ = digest.WriteString(part)
	}
	return digest.Sum64(), nil
}

func cacheableCriteria[T any](opts []FindOption[T]) (*FindCriteria[T], bool) {
	criteria := ApplyFindOptions(opts)
	if len(criteria.Specifications) > 0 {
		return criteria, false
	}
	return criteria, true
}

func criteriaKey[T any](op string, criteria *FindCriteria[T]) (uint64, error) {
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
	return CacheKey(op, criteria.Model, extra...)
}

func (b *CacheBehavior[T]) FindAll(ctx context.Context, opts ...FindOption[T]) ([]*T, error) {
	criteria, cacheable := cacheableCriteria(opts)
	if !cacheable {
		return b.inner.FindAll(ctx, opts...)
	}
	key, err := criteriaKey("findall", criteria)
	if err != nil {
		return nil, err
	}
	if cached, ok := b.cache.Get(key); ok {
		return cached.([]*T), nil
	}
	items, err := b.inner.FindAll(ctx, opts...)
	if err != nil {
		return nil, err
	}
	b.cache.Add(key, items)
	return items, nil
}

func (b *CacheBehavior[T]) FindAllPaged(ctx context.Context, model *FilterModel) (*Page[T], error) {
	key, err := CacheKey("findallpaged", model)
	if err != nil {
		return nil, err
	}
	if cached, ok := b.cache.Get(key); ok {
		return cached.(*Page[T]), nil
	}
	page, err := b.inner.FindAllPaged(ctx, model)
	if err != nil {
		return nil, err
	}
	b.cache.Add(key, page)
	return page, nil
}

func (b *CacheBehavior[T]) FindOne(ctx context.Context, opts ...FindOption[T]) (*T, error) {
	criteria, cacheable := cacheableCriteria(opts)
	if !cacheable {
		return b.inner.FindOne(ctx, opts...)
	}
	key, err := criteriaKey("findone", criteria)
	if err != nil {
		return nil, err
	}
	if cached, ok := b.cache.Get(key); ok {
		return cached.(*T), nil
	}
	entity, err := b.inner.FindOne(ctx, opts...)
	if err != nil || entity == nil {
		return entity, err
	}
	b.cache.Add(key, entity)
	return entity, nil
}

func (b *CacheBehavior[T]) FindOneByID(ctx context.Context, id interface{}) (*T, error) {
	key, err := CacheKey("findonebyid", nil, fmt.Sprintf("%v", id))
	if err != nil {
		return nil, err
	}
	if cached, ok := b.cache.Get(key); ok {
		return cached.(*T), nil
	}
	entity, err := b.inner.FindOneByID(ctx, id)
	if err != nil || entity == nil {
		return entity, err
	}
	b.cache.Add(key, entity)
	return entity, nil
}

func (b *CacheBehavior[T]) Count(ctx context.Context, opts ...FindOption[T]) (int64, error) {
	criteria, cacheable := cacheableCriteria(opts)
	if !cacheable {
		return b.inner.Count(ctx, opts...)
	}
	key, err := criteriaKey("count", criteria)
	if err != nil {
		return 0, err
	}
	if cached, ok := b.cache.Get(key); ok {
		return cached.(int64), nil
	}
	count, err := b.inner.Count(ctx, opts...)
	if err != nil {
		return 0, err
	}
	b.cache.Add(key, count)
	return count, nil
}

func (b *CacheBehavior[T]) Exists(ctx context.Context, id interface{}) (bool, error) {
	return b.inner.Exists(ctx, id)
}

func (b *CacheBehavior[T]) Upsert(ctx context.Context, entity *T) (*T, RepositoryAction, error) {
	persisted, action, err := b.inner.Upsert(ctx, entity)
	if err == nil {
		b.cache.Purge()
	}
	return persisted, action, err
}

func (b *CacheBehavior[T]) Insert(ctx context.Context, entity *T) (*T, error) {
	persisted, err := b.inner.Insert(ctx, entity)
	if err == nil {
		b.cache.Purge()
	}
	return persisted, err
}

func (b *CacheBehavior[T]) Update(ctx context.Context, entity *T) (*T, error) {
	persisted, err := b.inner.Update(ctx, entity)
	if err == nil {
		b.cache.Purge()
	}
	return persisted, err
}

func (b *CacheBehavior[T]) Delete(ctx context.Context, entity *T) (RepositoryAction, error) {
	action, err := b.inner.Delete(ctx, entity)
	if err == nil && action == ActionDeleted {
		b.cache.Purge()
	}
	return action, err
}

func (b *CacheBehavior[T]) DeleteByID(ctx context.Context, id interface{}) (RepositoryAction, error) {
	action, err := b.inner.DeleteByID(ctx, id)
	if err == nil && action == ActionDeleted {
		b.cache.Purge()
	}
	return action, err
}
