// Package repomongo provides a MongoDB-backed repokit.Repository
package repomongo

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lemmego/repokit"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// =====================================
// Client
// =====================================

// Client owns the MongoDB connection repositories are created from
type Client struct {
	client   *mongo.Client
	database *mongo.Database
	config   repokit.Config
}

// Connect opens a MongoDB connection from the given configuration and
// verifies it with a ping.
func Connect(ctx context.Context, config repokit.Config) (*Client, error) {
	clientOpts := options.Client().ApplyURI(buildConnectionURI(config))

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, repokit.NewErrorWithCause(repokit.ErrorTypeConnection, "failed to connect to MongoDB", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, repokit.NewErrorWithCause(repokit.ErrorTypeConnection, "failed to ping MongoDB", err)
	}

	return &Client{
		client:   client,
		database: client.Database(config.Database),
		config:   config,
	}, nil
}

// buildConnectionURI builds a MongoDB connection URI from the configuration
func buildConnectionURI(config repokit.Config) string {
	if config.ConnectionURL != "" {
		return config.ConnectionURL
	}

	uri := "mongodb://"
	if config.Username != "" {
		uri += config.Username
		if config.Password != "" {
			uri += ":" + config.Password
		}
		uri += "@"
	}

	host := config.Host
	if host == "" {
		host = "localhost"
	}
	port := config.Port
	if port == 0 {
		port = 27017
	}
	uri += fmt.Sprintf("%s:%d", host, port)

	if config.Database != "" {
		uri += "/" + config.Database
	}
	return uri
}

// Database exposes the underlying database handle
func (c *Client) Database() *mongo.Database {
	return c.database
}

// Health checks the connection
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.client.Ping(ctx, readpref.Primary())
}

// Close disconnects from MongoDB
func (c *Client) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.client.Disconnect(ctx)
}

// =====================================
// Repository
// =====================================

// Repository implements repokit.Repository over a MongoDB collection.
// Filter models translate to native filter documents so matching, ordering
// and paging run server-side; typed specifications (plain Go predicates)
// are evaluated after fetching, with paging deferred until they have run.
type Repository[T any] struct {
	collection *mongo.Collection
	info       *repokit.EntityInfo
	idgen      repokit.IDGenerator
	logger     repokit.Logger
}

// Option configures a Repository
type Option[T any] func(*Repository[T])

// WithCollectionName overrides the derived collection name
func WithCollectionName[T any](name string) Option[T] {
	return func(r *Repository[T]) {
		r.collection = r.collection.Database().Collection(name)
	}
}

// WithIDGenerator overrides the id strategy chosen from the id field's type
func WithIDGenerator[T any](generator repokit.IDGenerator) Option[T] {
	return func(r *Repository[T]) { r.idgen = generator }
}

// WithLogger supplies the logging sink
func WithLogger[T any](logger repokit.Logger) Option[T] {
	return func(r *Repository[T]) { r.logger = logger }
}

// NewRepository creates a repository for entity type T. The collection name
// comes from the entity's CollectionName method when present, otherwise the
// pluralized lowercase type name.
func NewRepository[T any](client *Client, opts ...Option[T]) (*Repository[T], error) {
	info, err := repokit.GetEntityInfo[T]()
	if err != nil {
		return nil, err
	}
	if info.IDField == nil {
		return nil, repokit.NewError(repokit.ErrorTypeInvalidID, "entity "+info.Name+" has no ID field")
	}

	r := &Repository[T]{
		collection: client.database.Collection(collectionName[T](info)),
		info:       info,
		logger:     repokit.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.idgen == nil {
		r.idgen, err = repokit.DefaultIDGenerator(info.IDField.Type)
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}

func collectionName[T any](info *repokit.EntityInfo) string {
	var entity T
	if named, ok := any(&entity).(interface{ CollectionName() string }); ok {
		return named.CollectionName()
	}
	name := strings.ToLower(info.Name)
	if !strings.HasSuffix(name, "s") {
		name += "s"
	}
	return name
}

// =====================================
// Reads
// =====================================

func (r *Repository[T]) find(ctx context.Context, criteria *repokit.FindCriteria[T], forcePaging bool) ([]*T, error) {
	filter, err := buildModelFilter(r.info.Type, criteria.Model)
	if err != nil {
		return nil, err
	}

	orderings := criteria.Orderings
	if len(orderings) == 0 && criteria.Model != nil {
		orderings = criteria.Model.Orderings
	}

	// Typed specifications run client-side, so paging must wait for them
	deferPaging := len(criteria.Specifications) > 0
	skip, take := resolvePaging(criteria, forcePaging)
	var serverSkip, serverTake *int
	if !deferPaging {
		serverSkip, serverTake = skip, take
	}

	findOpts, err := buildFindOptions(r.info.Type, orderings, serverSkip, serverTake)
	if err != nil {
		return nil, err
	}

	cursor, err := r.collection.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, convertMongoError(err)
	}
	defer cursor.Close(ctx)

	var entities []*T
	if err := cursor.All(ctx, &entities); err != nil {
		return nil, convertMongoError(err)
	}

	if deferPaging {
		matched := entities[:0]
		for _, entity := range entities {
			keep := true
			for _, spec := range criteria.Specifications {
				if !spec.IsSatisfiedBy(entity) {
					keep = false
					break
				}
			}
			if keep {
				matched = append(matched, entity)
			}
		}
		entities = applyLocalPaging(matched, skip, take)
	}

	if criteria.DistinctField != "" {
		entities, err = r.collapseDistinct(entities, criteria.DistinctField)
		if err != nil {
			return nil, err
		}
	}
	return entities, nil
}

func resolvePaging[T any](criteria *repokit.FindCriteria[T], forcePaging bool) (*int, *int) {
	var skip, take *int
	if criteria.Model != nil && forcePaging {
		s, t := criteria.Model.Skip(), criteria.Model.Take()
		skip, take = &s, &t
	}
	if criteria.Skip != nil {
		skip = criteria.Skip
	}
	if criteria.Take != nil {
		take = criteria.Take
	}
	return skip, take
}

func applyLocalPaging[T any](entities []*T, skip, take *int) []*T {
	if skip != nil && *skip > 0 {
		if *skip >= len(entities) {
			return nil
		}
		entities = entities[*skip:]
	}
	if take != nil && *take >= 0 && *take < len(entities) {
		entities = entities[:*take]
	}
	return entities
}

func (r *Repository[T]) collapseDistinct(entities []*T, field string) ([]*T, error) {
	accessor, err := repokit.CompileAccessor(r.info.Type, field)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(entities))
	collapsed := entities[:0]
	for _, entity := range entities {
		value, _ := accessor.Get(valueOf(entity))
		key := fmt.Sprintf("%v", value)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		collapsed = append(collapsed, entity)
	}
	return collapsed, nil
}

// FindAll retrieves entities matching the given options
func (r *Repository[T]) FindAll(ctx context.Context, opts ...repokit.FindOption[T]) ([]*T, error) {
	return r.find(ctx, repokit.ApplyFindOptions(opts), true)
}

// FindAllPaged runs the model's pipeline and returns one page plus totals
func (r *Repository[T]) FindAllPaged(ctx context.Context, model *repokit.FilterModel) (*repokit.Page[T], error) {
	if model == nil {
		model = repokit.NewFilterModel()
	}
	model.Normalize()

	filter, err := buildModelFilter(r.info.Type, model)
	if err != nil {
		return nil, err
	}
	total, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, convertMongoError(err)
	}

	criteria := &repokit.FindCriteria[T]{Model: model}
	items, err := r.find(ctx, criteria, true)
	if err != nil {
		return nil, err
	}
	return &repokit.Page[T]{
		Items:      items,
		TotalCount: total,
		Page:       model.Page,
		PageSize:   model.Take(),
	}, nil
}

// FindOne returns the first match, or nil when nothing matches
func (r *Repository[T]) FindOne(ctx context.Context, opts ...repokit.FindOption[T]) (*T, error) {
	criteria := repokit.ApplyFindOptions(opts)
	one := 1
	criteria.Take = &one
	criteria.Skip = nil
	items, err := r.find(ctx, criteria, true)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return items[0], nil
}

// FindOneByID returns the entity with the given id, or nil if absent
func (r *Repository[T]) FindOneByID(ctx context.Context, id interface{}) (*T, error) {
	result := r.collection.FindOne(ctx, bson.M{"_id": id})
	var entity T
	if err := result.Decode(&entity); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, convertMongoError(err)
	}
	return &entity, nil
}

// Count returns the number of matching entities
func (r *Repository[T]) Count(ctx context.Context, opts ...repokit.FindOption[T]) (int64, error) {
	criteria := repokit.ApplyFindOptions(opts)
	if len(criteria.Specifications) > 0 {
		criteria.Skip = nil
		criteria.Take = nil
		items, err := r.find(ctx, criteria, false)
		if err != nil {
			return 0, err
		}
		return int64(len(items)), nil
	}
	filter, err := buildModelFilter(r.info.Type, criteria.Model)
	if err != nil {
		return 0, err
	}
	count, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return 0, convertMongoError(err)
	}
	return count, nil
}

// Exists reports whether an entity with the given id exists
func (r *Repository[T]) Exists(ctx context.Context, id interface{}) (bool, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return false, convertMongoError(err)
	}
	return count > 0, nil
}

// =====================================
// Writes
// =====================================

// Upsert inserts the entity when its id is the "new" sentinel or unknown,
// otherwise replaces it under an optimistic concurrency check: the replace
// filter carries the incoming token, so a stale update matches nothing and
// surfaces as a ConcurrencyError.
func (r *Repository[T]) Upsert(ctx context.Context, entity *T) (*T, repokit.RepositoryAction, error) {
	if entity == nil {
		return nil, repokit.ActionNone, repokit.NewError(repokit.ErrorTypeValidation, "cannot upsert a nil entity")
	}

	id, err := repokit.EntityID(r.info, valueOf(entity))
	if err != nil {
		return nil, repokit.ActionNone, err
	}
	isNew, err := r.idgen.IsNew(id)
	if err != nil {
		return nil, repokit.ActionNone, err
	}
	if isNew {
		id, err = r.idgen.Next()
		if err != nil {
			return nil, repokit.ActionNone, err
		}
		if err := repokit.SetEntityID(r.info, valueOf(entity), id); err != nil {
			return nil, repokit.ActionNone, err
		}
		id, _ = repokit.EntityID(r.info, valueOf(entity))
		return r.insertNew(ctx, entity, id)
	}

	aware, concurrent := any(entity).(repokit.ConcurrencyAware)
	if !concurrent {
		return r.replaceOrInsert(ctx, entity, id)
	}

	incoming := aware.ConcurrencyToken()
	if err := repokit.RunBeforeWrite(ctx, any(entity), false); err != nil {
		return nil, repokit.ActionNone, err
	}
	aware.SetConcurrencyToken(uuid.NewString())

	filter := bson.M{"_id": id}
	if incoming != "" {
		filter[r.versionFieldName()] = incoming
	}
	result, err := r.collection.ReplaceOne(ctx, filter, entity)
	if err != nil {
		aware.SetConcurrencyToken(incoming)
		return nil, repokit.ActionNone, convertMongoError(err)
	}
	if result.MatchedCount > 0 {
		if err := repokit.RunAfterWrite(ctx, any(entity), false); err != nil {
			return entity, repokit.ActionUpdated, err
		}
		r.logWrite(id, repokit.ActionUpdated)
		return entity, repokit.ActionUpdated, nil
	}

	// Nothing matched: either the document is absent (caller-assigned id,
	// insert it) or the stored token diverged (conflict).
	stored := r.collection.FindOne(ctx, bson.M{"_id": id})
	var current T
	decodeErr := stored.Decode(&current)
	if decodeErr == mongo.ErrNoDocuments {
		aware.SetConcurrencyToken(incoming)
		return r.insertNew(ctx, entity, id)
	}
	aware.SetConcurrencyToken(incoming)
	if decodeErr != nil {
		return nil, repokit.ActionNone, convertMongoError(decodeErr)
	}
	actual := ""
	if storedAware, ok := any(&current).(repokit.ConcurrencyAware); ok {
		actual = storedAware.ConcurrencyToken()
	}
	return nil, repokit.ActionNone, repokit.ConcurrencyError{
		EntityID: id,
		Expected: incoming,
		Actual:   actual,
	}
}

func (r *Repository[T]) insertNew(ctx context.Context, entity *T, id interface{}) (*T, repokit.RepositoryAction, error) {
	if err := repokit.RunBeforeWrite(ctx, any(entity), true); err != nil {
		return nil, repokit.ActionNone, err
	}
	if aware, ok := any(entity).(repokit.ConcurrencyAware); ok {
		aware.SetConcurrencyToken(uuid.NewString())
	}
	if _, err := r.collection.InsertOne(ctx, entity); err != nil {
		return nil, repokit.ActionNone, convertMongoError(err)
	}
	if err := repokit.RunAfterWrite(ctx, any(entity), true); err != nil {
		return entity, repokit.ActionInserted, err
	}
	r.logWrite(id, repokit.ActionInserted)
	return entity, repokit.ActionInserted, nil
}

func (r *Repository[T]) replaceOrInsert(ctx context.Context, entity *T, id interface{}) (*T, repokit.RepositoryAction, error) {
	if err := repokit.RunBeforeWrite(ctx, any(entity), false); err != nil {
		return nil, repokit.ActionNone, err
	}
	result, err := r.collection.ReplaceOne(ctx, bson.M{"_id": id}, entity, options.Replace().SetUpsert(true))
	if err != nil {
		return nil, repokit.ActionNone, convertMongoError(err)
	}
	action := repokit.ActionUpdated
	if result.UpsertedCount > 0 {
		action = repokit.ActionInserted
	}
	if err := repokit.RunAfterWrite(ctx, any(entity), action == repokit.ActionInserted); err != nil {
		return entity, action, err
	}
	r.logWrite(id, action)
	return entity, action, nil
}

func (r *Repository[T]) versionFieldName() string {
	if r.info.VersionField != nil {
		field, _ := r.info.Type.FieldByName(r.info.VersionField.Name)
		return bsonFieldName(field)
	}
	return "version"
}

// Insert persists the entity through the same concurrency-checked path as
// Upsert.
func (r *Repository[T]) Insert(ctx context.Context, entity *T) (*T, error) {
	persisted, _, err := r.Upsert(ctx, entity)
	return persisted, err
}

// Update persists the entity through the same concurrency-checked path as
// Upsert.
func (r *Repository[T]) Update(ctx context.Context, entity *T) (*T, error) {
	persisted, _, err := r.Upsert(ctx, entity)
	return persisted, err
}

// Delete removes the given entity by its id, running its delete hooks
func (r *Repository[T]) Delete(ctx context.Context, entity *T) (repokit.RepositoryAction, error) {
	if entity == nil {
		return repokit.ActionNone, nil
	}
	id, err := repokit.EntityID(r.info, valueOf(entity))
	if err != nil {
		return repokit.ActionNone, err
	}
	if h, ok := any(entity).(repokit.BeforeDeleteHook); ok {
		if err := h.BeforeDelete(ctx); err != nil {
			return repokit.ActionNone, err
		}
	}
	action, err := r.DeleteByID(ctx, id)
	if err != nil || action != repokit.ActionDeleted {
		return action, err
	}
	if h, ok := any(entity).(repokit.AfterDeleteHook); ok {
		if err := h.AfterDelete(ctx); err != nil {
			return action, err
		}
	}
	return action, nil
}

// DeleteByID removes the entity with the given id; a missing id is a no-op
// returning ActionNone, never an error.
func (r *Repository[T]) DeleteByID(ctx context.Context, id interface{}) (repokit.RepositoryAction, error) {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return repokit.ActionNone, convertMongoError(err)
	}
	if result.DeletedCount == 0 {
		return repokit.ActionNone, nil
	}
	r.logger.Debug("entity deleted", map[string]interface{}{
		"entity": r.info.Name,
		"id":     id,
	})
	return repokit.ActionDeleted, nil
}

func (r *Repository[T]) logWrite(id interface{}, action repokit.RepositoryAction) {
	r.logger.Debug("entity upserted", map[string]interface{}{
		"entity": r.info.Name,
		"id":     id,
		"action": action,
	})
}

func valueOf[T any](entity *T) reflect.Value {
	return reflect.ValueOf(entity)
}
