package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/asaidimu/go-sarufi/core/schema"
	"go.uber.org/zap"
)

// Options configure an Engine. Zero-value fields fall back to defaults.
type Options struct {
	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
}

// Engine wires the managers to a MetadataStore and a SchemaChangeQueue. All
// dependencies are injected through the constructor; the engine holds no
// ambient state.
type Engine struct {
	store  MetadataStore
	queue  SchemaChangeQueue
	logger *zap.Logger
	hub    *eventHub

	collections *CollectionManager
	attributes  *AttributeManager
	indexes     *IndexManager
}

// New creates an Engine around the given store and queue.
func New(store MetadataStore, queue SchemaChangeQueue, opts *Options) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("engine requires a metadata store")
	}
	if queue == nil {
		return nil, fmt.Errorf("engine requires a schema change queue")
	}

	logger := zap.NewNop()
	if opts != nil && opts.Logger != nil {
		logger = opts.Logger
	}

	hub, err := newEventHub()
	if err != nil {
		return nil, fmt.Errorf("could not initialize event bus: %w", err)
	}

	e := &Engine{store: store, queue: queue, logger: logger, hub: hub}
	e.collections = &CollectionManager{engine: e}
	e.attributes = &AttributeManager{engine: e}
	e.indexes = &IndexManager{engine: e}
	return e, nil
}

// Collections returns the manager for collection-level operations.
func (e *Engine) Collections() *CollectionManager { return e.collections }

// Attributes returns the manager for attribute-level operations.
func (e *Engine) Attributes() *AttributeManager { return e.attributes }

// Indexes returns the manager for index-level operations.
func (e *Engine) Indexes() *IndexManager { return e.indexes }

// Subscribe registers a callback for a schema event type and returns the
// subscription id.
func (e *Engine) Subscribe(eventType SchemaEventType, callback EventCallback, label, description *string) string {
	return e.hub.subscribe(eventType, callback, label, description)
}

// Unsubscribe removes a subscription by id.
func (e *Engine) Unsubscribe(id string) { e.hub.unsubscribe(id) }

// Subscriptions lists the active subscriptions.
func (e *Engine) Subscriptions() []SubscriptionInfo { return e.hub.list() }

// fetchCollection loads a collection document and hydrates its attributes
// and indexes from their namespaces.
func (e *Engine) fetchCollection(ctx context.Context, collectionID string) (*schema.Collection, error) {
	doc, err := e.store.GetDocument(ctx, NamespaceCollections, collectionID)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			return nil, NewError(ErrCollectionNotFound, "collection %q not found", collectionID)
		}
		return nil, WrapError(ErrInternal, err, "failed to load collection %q", collectionID)
	}

	collection, err := documentToCollection(doc)
	if err != nil {
		return nil, WrapError(ErrInternal, err, "failed to decode collection %q", collectionID)
	}
	if collection.ID == "" {
		return nil, NewError(ErrCollectionNotFound, "collection %q not found", collectionID)
	}

	filters := []Filter{{Field: "collectionInternalId", Value: collection.InternalID}}

	attrDocs, err := e.store.Find(ctx, NamespaceAttributes, filters, 0)
	if err != nil {
		return nil, WrapError(ErrInternal, err, "failed to load attributes of %q", collectionID)
	}
	for _, d := range attrDocs {
		attr, err := documentToAttribute(d)
		if err != nil {
			return nil, WrapError(ErrInternal, err, "failed to decode attribute of %q", collectionID)
		}
		collection.Attributes = append(collection.Attributes, attr)
	}

	indexDocs, err := e.store.Find(ctx, NamespaceIndexes, filters, 0)
	if err != nil {
		return nil, WrapError(ErrInternal, err, "failed to load indexes of %q", collectionID)
	}
	for _, d := range indexDocs {
		index, err := documentToIndex(d)
		if err != nil {
			return nil, WrapError(ErrInternal, err, "failed to decode index of %q", collectionID)
		}
		collection.Indexes = append(collection.Indexes, index)
	}

	return collection, nil
}

// purgeCollectionCaches invalidates both cache namespaces for a collection:
// the document cache entry and the compiled-collection cache. Callers must do
// this after every metadata write and before enqueueing.
func (e *Engine) purgeCollectionCaches(ctx context.Context, collectionID string) error {
	if err := e.store.PurgeCachedDocument(ctx, NamespaceCollections, collectionID); err != nil {
		return WrapError(ErrInternal, err, "failed to purge document cache for %q", collectionID)
	}
	if err := e.store.PurgeCachedCollection(ctx, collectionID); err != nil {
		return WrapError(ErrInternal, err, "failed to purge compiled cache for %q", collectionID)
	}
	return nil
}

// enqueue submits a job, logging the payload identifiers. Enqueue failures
// after a metadata commit leave the document in pending/deleting until the
// reconciliation sweep picks it up; see ReconcileStale.
func (e *Engine) enqueue(ctx context.Context, job *Job) error {
	if err := e.queue.Enqueue(ctx, job); err != nil {
		e.logger.Error("failed to enqueue schema change job",
			zap.String("job", string(job.Name)),
			zap.String("collection", job.Collection.ID),
			zap.Error(err))
		return WrapError(ErrInternal, err, "failed to enqueue %s job", job.Name)
	}
	e.logger.Debug("enqueued schema change job",
		zap.String("job", string(job.Name)),
		zap.String("collection", job.Collection.ID))
	return nil
}
