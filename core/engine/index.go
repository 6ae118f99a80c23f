package engine

import (
	"context"
	"errors"

	"github.com/asaidimu/go-sarufi/core/schema"
)

// IndexManager orchestrates index creation and deletion: eligibility
// validation against the current attribute set, metadata writes, cache
// invalidation and physical migration jobs.
type IndexManager struct {
	engine *Engine
}

// systemAttributes are the implicit fields every collection carries. They are
// always available and indexable.
var systemAttributes = []*schema.Attribute{
	{Key: "$id", Type: schema.TypeString, Status: schema.StatusAvailable},
	{Key: "$createdAt", Type: schema.TypeDatetime, Status: schema.StatusAvailable},
	{Key: "$updatedAt", Type: schema.TypeDatetime, Status: schema.StatusAvailable},
}

// Create validates the index against the collection's effective attribute
// catalogue, writes the metadata document in pending state, purges caches and
// enqueues a CREATE_INDEX job.
func (m *IndexManager) Create(ctx context.Context, project Project, collectionID string, def *schema.Index) (*schema.Index, error) {
	index, err := m.create(ctx, project, collectionID, def)
	m.engine.hub.emit(eventOutcome(IndexCreateSuccess, IndexCreateFailed, err), project, collectionID, def.Key, err)
	return index, err
}

func (m *IndexManager) create(ctx context.Context, project Project, collectionID string, def *schema.Index) (*schema.Index, error) {
	collection, err := m.engine.fetchCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}

	limits := m.engine.store.Limits()

	count, err := m.engine.store.Count(ctx, NamespaceIndexes, []Filter{
		{Field: "collectionInternalId", Value: collection.InternalID},
	})
	if err != nil {
		return nil, WrapError(ErrInternal, err, "failed to count indexes of %q", collectionID)
	}
	if limits.MaxIndexesPerCollection > 0 && count >= limits.MaxIndexesPerCollection {
		return nil, NewError(ErrIndexLimit, "collection %q already has %d indexes", collectionID, count)
	}

	if len(def.Attributes) == 0 {
		return nil, NewError(ErrIndexInvalid, "index %q references no attributes", def.Key)
	}
	if limits.MaxIndexAttributes > 0 && len(def.Attributes) > limits.MaxIndexAttributes {
		return nil, NewError(ErrIndexInvalid, "index %q references %d attributes, limit is %d", def.Key, len(def.Attributes), limits.MaxIndexAttributes)
	}

	// Effective catalogue: declared attributes plus implicit system fields.
	catalogue := make(map[string]*schema.Attribute, len(collection.Attributes)+len(systemAttributes))
	for _, attr := range collection.Attributes {
		catalogue[attr.Key] = attr
	}
	for _, attr := range systemAttributes {
		catalogue[attr.Key] = attr
	}

	if def.Orders == nil {
		def.Orders = make([]string, len(def.Attributes))
	}
	if len(def.Orders) != len(def.Attributes) {
		return nil, NewError(ErrIndexInvalid, "index %q has %d orders for %d attributes", def.Key, len(def.Orders), len(def.Attributes))
	}

	keyWidth := int64(0)
	for i, name := range def.Attributes {
		attr, ok := catalogue[name]
		if !ok {
			return nil, NewError(ErrAttributeUnknown, "index %q references unknown attribute %q", def.Key, name)
		}
		if attr.Type == schema.TypeRelationship {
			return nil, NewError(ErrAttributeTypeInvalid, "index %q references relationship attribute %q", def.Key, name)
		}
		if attr.Status != schema.StatusAvailable {
			return nil, NewError(ErrAttributeNotAvailable, "index %q references attribute %q in state %s", def.Key, name, attr.Status)
		}
		// Ordering an array column is meaningless at the index level; force
		// the no-order sentinel (see schema.Index).
		if attr.Array {
			def.Orders[i] = ""
		}
		keyWidth += attr.Size
	}
	if limits.MaxIndexKeyLength > 0 && keyWidth > int64(limits.MaxIndexKeyLength) {
		return nil, NewError(ErrIndexInvalid, "index %q key width %d exceeds limit %d", def.Key, keyWidth, limits.MaxIndexKeyLength)
	}

	if def.Type == "" {
		def.Type = schema.IndexKey
	}
	def.ID = schema.MemberID(collection.InternalID, def.Key)
	def.CollectionInternalID = collection.InternalID
	def.CollectionID = collection.ID
	def.Status = schema.StatusPending

	doc, err := indexToDocument(def)
	if err != nil {
		return nil, WrapError(ErrInternal, err, "failed to encode index %q", def.Key)
	}
	if err := m.engine.store.CreateDocument(ctx, NamespaceIndexes, def.ID, doc); err != nil {
		if errors.Is(err, ErrStoreDuplicate) {
			return nil, NewError(ErrIndexAlreadyExists, "index %q already exists on collection %q", def.Key, collectionID)
		}
		return nil, WrapError(ErrInternal, err, "failed to write index %q", def.Key)
	}

	if err := m.engine.purgeCollectionCaches(ctx, collection.ID); err != nil {
		return nil, err
	}

	job := newJob(JobCreateIndex, project, collection)
	job.Index = def
	if err := m.engine.enqueue(ctx, job); err != nil {
		return nil, err
	}
	return def, nil
}

// Get returns a single index by key.
func (m *IndexManager) Get(ctx context.Context, collectionID, key string) (*schema.Index, error) {
	collection, err := m.engine.fetchCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	index := collection.IndexByKey(key)
	if index == nil {
		return nil, NewError(ErrIndexNotFound, "index %q not found on collection %q", key, collectionID)
	}
	return index, nil
}

// List returns all indexes of a collection.
func (m *IndexManager) List(ctx context.Context, collectionID string) ([]*schema.Index, error) {
	collection, err := m.engine.fetchCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	return collection.Indexes, nil
}

// Delete marks the index deleting, purges caches and enqueues a DELETE_INDEX
// job. The physical index survives until the worker finishes.
func (m *IndexManager) Delete(ctx context.Context, project Project, collectionID, key string) error {
	err := m.delete(ctx, project, collectionID, key)
	m.engine.hub.emit(eventOutcome(IndexDeleteSuccess, IndexDeleteFailed, err), project, collectionID, key, err)
	return err
}

func (m *IndexManager) delete(ctx context.Context, project Project, collectionID, key string) error {
	collection, err := m.engine.fetchCollection(ctx, collectionID)
	if err != nil {
		return err
	}
	index := collection.IndexByKey(key)
	if index == nil {
		return NewError(ErrIndexNotFound, "index %q not found on collection %q", key, collectionID)
	}

	if index.Status != schema.StatusDeleting {
		index.Status = schema.StatusDeleting
		doc, err := indexToDocument(index)
		if err != nil {
			return WrapError(ErrInternal, err, "failed to encode index %q", key)
		}
		if err := m.engine.store.UpdateDocument(ctx, NamespaceIndexes, index.ID, doc); err != nil {
			return WrapError(ErrInternal, err, "failed to mark index %q deleting", key)
		}
	}

	if err := m.engine.purgeCollectionCaches(ctx, collection.ID); err != nil {
		return err
	}

	job := newJob(JobDeleteIndex, project, collection)
	job.Index = index
	return m.engine.enqueue(ctx, job)
}
