package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dscp-io/connector/pkg/errs"
)

// Identified is implemented by every entity stored through Repository.
type Identified interface {
	GetID() string
}

// Repository is the generic get_all/get_by_id/create/update/delete trait
// from §4.4, serializing entities as JSON the way
// pkg/persistence/serialization.go serializes every stored type.
type Repository[T Identified] struct {
	store      Store
	collection string
}

// New constructs a Repository for collection backed by store.
func New[T Identified](store Store, collection string) *Repository[T] {
	return &Repository[T]{store: store, collection: collection}
}

// GetByID returns the entity with id, or (nil, false, nil) if absent.
func (r *Repository[T]) GetByID(ctx context.Context, id string) (*T, bool, error) {
	raw, ok, err := r.store.Get(ctx, r.collection, id)
	if err != nil {
		return nil, false, errs.Wrap(errs.Database, err, "get %s/%s", r.collection, id)
	}
	if !ok {
		return nil, false, nil
	}
	var entity T
	if err := json.Unmarshal(raw, &entity); err != nil {
		return nil, false, errs.Wrap(errs.Parse, err, "unmarshal %s/%s", r.collection, id)
	}
	return &entity, true, nil
}

// Create persists a new entity. It is not itself uniqueness-checking;
// callers that need "create if absent" semantics should hold the
// session lock and check GetByID first, matching the orchestrator's
// transactional responsibility in §2.
func (r *Repository[T]) Create(ctx context.Context, entity *T) error {
	return r.put(ctx, entity)
}

// Update overwrites the persisted entity.
func (r *Repository[T]) Update(ctx context.Context, entity *T) error {
	return r.put(ctx, entity)
}

func (r *Repository[T]) put(ctx context.Context, entity *T) error {
	id := (any(entity).(Identified)).GetID()
	if id == "" {
		return errs.New(errs.BadFormatEmitted, "cannot persist %s with empty id", r.collection)
	}
	raw, err := json.Marshal(entity)
	if err != nil {
		return errs.Wrap(errs.Parse, err, "marshal %s/%s", r.collection, id)
	}
	if err := r.store.Put(ctx, r.collection, id, raw); err != nil {
		return errs.Wrap(errs.Database, err, "put %s/%s", r.collection, id)
	}
	return nil
}

// Delete removes the entity by id. Idempotent.
func (r *Repository[T]) Delete(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, r.collection, id); err != nil {
		return errs.Wrap(errs.Database, err, "delete %s/%s", r.collection, id)
	}
	return nil
}

// GetAll returns every entity in the collection.
func (r *Repository[T]) GetAll(ctx context.Context) ([]*T, error) {
	return r.listByPrefix(ctx, "")
}

// GetByPrefix returns every entity whose key has the given prefix — used
// for composite-key lookups such as "all messages for session X" where
// message ids are stored as "<sessionId>:<messageId>".
func (r *Repository[T]) GetByPrefix(ctx context.Context, prefix string) ([]*T, error) {
	return r.listByPrefix(ctx, prefix)
}

func (r *Repository[T]) listByPrefix(ctx context.Context, prefix string) ([]*T, error) {
	raws, err := r.store.List(ctx, r.collection, prefix)
	if err != nil {
		return nil, errs.Wrap(errs.Database, err, "list %s", r.collection)
	}
	out := make([]*T, 0, len(raws))
	for _, raw := range raws {
		var entity T
		if err := json.Unmarshal(raw, &entity); err != nil {
			return nil, errs.Wrap(errs.Parse, err, "unmarshal %s entry", r.collection)
		}
		out = append(out, &entity)
	}
	return out, nil
}

// Lock acquires the session-scoped lock for key via the underlying store.
func (r *Repository[T]) Lock(ctx context.Context, key string) (func(), error) {
	unlock, err := r.store.Lock(ctx, fmt.Sprintf("%s:%s", r.collection, key))
	if err != nil {
		return nil, errs.Wrap(errs.Database, err, "lock %s/%s", r.collection, key)
	}
	return unlock, nil
}
