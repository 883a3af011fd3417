package reporedis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemmego/repokit"
)

type cacheItem struct {
	ID   int
	Name string
	Age  int
}

// countingRepository counts reads hitting the wrapped repository so tests
// can tell cache hits from misses.
type countingRepository struct {
	repokit.Repository[cacheItem]
	mu    sync.Mutex
	reads int
}

func (c *countingRepository) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

func (c *countingRepository) bump() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
}

func (c *countingRepository) FindAll(ctx context.Context, opts ...repokit.FindOption[cacheItem]) ([]*cacheItem, error) {
	c.bump()
	return c.Repository.FindAll(ctx, opts...)
}

func (c *countingRepository) FindAllPaged(ctx context.Context, model *repokit.FilterModel) (*repokit.Page[cacheItem], error) {
	c.bump()
	return c.Repository.FindAllPaged(ctx, model)
}

func (c *countingRepository) FindOne(ctx context.Context, opts ...repokit.FindOption[cacheItem]) (*cacheItem, error) {
	c.bump()
	return c.Repository.FindOne(ctx, opts...)
}

func (c *countingRepository) FindOneByID(ctx context.Context, id interface{}) (*cacheItem, error) {
	c.bump()
	return c.Repository.FindOneByID(ctx, id)
}

func (c *countingRepository) Count(ctx context.Context, opts ...repokit.FindOption[cacheItem]) (int64, error) {
	c.bump()
	return c.Repository.Count(ctx, opts...)
}

func newTestCache(t *testing.T, items ...*cacheItem) (*CachedRepository[cacheItem], *countingRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	memory, err := repokit.NewMemoryRepository(
		repokit.WithMemoryContext(repokit.NewMemoryContext(items...)),
	)
	require.NoError(t, err)
	inner := &countingRepository{Repository: memory}

	cached, err := NewCachedRepository[cacheItem](inner, client)
	require.NoError(t, err)
	return cached, inner, mr
}

func TestCachedFindAllServesRepeatedReads(t *testing.T) {
	repo, inner, _ := newTestCache(t,
		&cacheItem{ID: 1, Name: "John", Age: 30},
		&cacheItem{ID: 2, Name: "Jane", Age: 28},
	)
	ctx := context.Background()
	model := repokit.NewFilterBuilder().Where("Age", repokit.OpGreaterThan, 20).Build()

	first, err := repo.FindAll(ctx, repokit.WithFilter[cacheItem](model))
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := repo.FindAll(ctx, repokit.WithFilter[cacheItem](model))
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, first[0].Name, second[0].Name)

	assert.Equal(t, 1, inner.count(), "second read should come from the cache")
}

func TestCachedWritesInvalidateReads(t *testing.T) {
	repo, inner, _ := newTestCache(t, &cacheItem{ID: 1, Name: "John"})
	ctx := context.Background()

	items, err := repo.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)

	_, _, err = repo.Upsert(ctx, &cacheItem{Name: "Jane"})
	require.NoError(t, err)

	items, err = repo.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 2, "read after write must see the new entity")
	assert.Equal(t, 2, inner.count())
}

func TestCachedNoopDeleteKeepsEntries(t *testing.T) {
	repo, inner, _ := newTestCache(t, &cacheItem{ID: 1, Name: "John"})
	ctx := context.Background()

	_, err := repo.FindAll(ctx)
	require.NoError(t, err)

	action, err := repo.DeleteByID(ctx, 99)
	require.NoError(t, err)
	require.Equal(t, repokit.ActionNone, action)

	_, err = repo.FindAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.count(), "a no-op delete must not invalidate the cache")
}

func TestCachedTypedSpecificationsBypass(t *testing.T) {
	repo, inner, _ := newTestCache(t, &cacheItem{ID: 1, Age: 30})
	ctx := context.Background()
	adult := repokit.NewSpecification(func(i *cacheItem) bool { return i.Age >= 18 })

	for i := 0; i < 3; i++ {
		items, err := repo.FindAll(ctx, repokit.WithSpecification(adult))
		require.NoError(t, err)
		require.Len(t, items, 1)
	}
	assert.Equal(t, 3, inner.count(), "specification reads have no canonical key")
}

func TestCachedFindOneByID(t *testing.T) {
	repo, inner, _ := newTestCache(t, &cacheItem{ID: 1, Name: "John"})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		found, err := repo.FindOneByID(ctx, 1)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, "John", found.Name)
	}
	assert.Equal(t, 1, inner.count())
}

func TestCachedCount(t *testing.T) {
	repo, inner, _ := newTestCache(t,
		&cacheItem{ID: 1, Age: 30},
		&cacheItem{ID: 2, Age: 17},
	)
	ctx := context.Background()
	model := repokit.NewFilterBuilder().Where("Age", repokit.OpGreaterThanOrEqual, 18).Build()

	for i := 0; i < 2; i++ {
		count, err := repo.Count(ctx, repokit.WithFilter[cacheItem](model))
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	}
	assert.Equal(t, 1, inner.count())
}

func TestCachedFindAllPaged(t *testing.T) {
	items := make([]*cacheItem, 0, 10)
	for i := 1; i <= 10; i++ {
		items = append(items, &cacheItem{ID: i, Age: 20 + i})
	}
	repo, inner, _ := newTestCache(t, items...)
	ctx := context.Background()

	model := repokit.NewFilterBuilder().OrderBy("ID", repokit.OrderAsc).Page(2).PageSize(3).Build()
	for i := 0; i < 2; i++ {
		page, err := repo.FindAllPaged(ctx, model)
		require.NoError(t, err)
		require.Len(t, page.Items, 3)
		assert.Equal(t, 4, page.Items[0].ID)
		assert.Equal(t, int64(10), page.TotalCount)
	}
	assert.Equal(t, 1, inner.count())
}

func TestCachedCorruptEntryFallsThrough(t *testing.T) {
	repo, inner, mr := newTestCache(t, &cacheItem{ID: 1, Name: "John"})
	ctx := context.Background()

	items, err := repo.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)

	// Garble every cached entry; the generation counter stays intact
	for _, key := range mr.Keys() {
		if key == "repokit:cacheItem:gen" {
			continue
		}
		require.NoError(t, mr.Set(key, "not msgpack"))
	}

	items, err = repo.FindAll(ctx)
	require.NoError(t, err, "a corrupt entry must degrade to the inner repository")
	require.Len(t, items, 1)
	assert.Equal(t, "John", items[0].Name)
	assert.Equal(t, 2, inner.count())
}

func TestCachedRedisOutageDegrades(t *testing.T) {
	repo, inner, mr := newTestCache(t, &cacheItem{ID: 1, Name: "John"})
	ctx := context.Background()

	mr.SetError("connection refused")

	items, err := repo.FindAll(ctx)
	require.NoError(t, err, "Redis failures must not surface to callers")
	require.Len(t, items, 1)
	assert.Equal(t, 1, inner.count())

	// Writes still reach the inner repository
	_, _, err = repo.Upsert(ctx, &cacheItem{Name: "Jane"})
	require.NoError(t, err)

	mr.SetError("")
	items, err = repo.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestCachedTTLExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	memory, err := repokit.NewMemoryRepository(
		repokit.WithMemoryContext(repokit.NewMemoryContext(&cacheItem{ID: 1})),
	)
	require.NoError(t, err)
	inner := &countingRepository{Repository: memory}

	repo, err := NewCachedRepository[cacheItem](inner, client, WithTTL[cacheItem](time.Minute))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = repo.FindAll(ctx)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = repo.FindAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.count(), "expired entries must miss")
}
