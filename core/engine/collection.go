package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/asaidimu/go-sarufi/core/schema"
	"github.com/google/uuid"
)

// CollectionManager is the top-level CRUD surface for collections. Attribute
// and index fan-out on delete is the worker's responsibility; the manager
// emits a single DELETE_COLLECTION job carrying the full snapshot.
type CollectionManager struct {
	engine *Engine
}

// CollectionCreate is the input for Create. An empty ID requests a generated
// one.
type CollectionCreate struct {
	ID               string
	Name             string
	Permissions      []string
	DocumentSecurity bool
	Enabled          bool
}

// CollectionUpdate carries the caller's requested changes; nil fields are
// left unchanged.
type CollectionUpdate struct {
	Name             *string
	Permissions      []string
	DocumentSecurity *bool
	Enabled          *bool
}

// Create normalizes permissions, reserves an internal sequence and writes the
// collection document.
func (m *CollectionManager) Create(ctx context.Context, project Project, input CollectionCreate) (*schema.Collection, error) {
	collection, err := m.create(ctx, input)
	name := input.ID
	if collection != nil {
		name = collection.ID
	}
	m.engine.hub.emit(eventOutcome(CollectionCreateSuccess, CollectionCreateFailed, err), project, name, "", err)
	return collection, err
}

func (m *CollectionManager) create(ctx context.Context, input CollectionCreate) (*schema.Collection, error) {
	if input.Name == "" {
		return nil, NewError(ErrAttributeValueInvalid, "collection name must not be empty")
	}

	permissions, err := AggregatePermissions(input.Permissions, CollectionActions())
	if err != nil {
		return nil, err
	}

	id := input.ID
	if id == "" {
		id = uuid.New().String()
	}

	sequence, err := m.engine.store.NextSequence(ctx)
	if err != nil {
		return nil, WrapError(ErrInternal, err, "failed to reserve collection sequence")
	}

	now := time.Now().UTC()
	collection := &schema.Collection{
		ID:               id,
		InternalID:       sequence,
		Name:             input.Name,
		Permissions:      permissions,
		DocumentSecurity: input.DocumentSecurity,
		Enabled:          input.Enabled,
		SearchText:       searchText(id, input.Name),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	doc, err := collectionToDocument(collection)
	if err != nil {
		return nil, WrapError(ErrInternal, err, "failed to encode collection %q", id)
	}
	if err := m.engine.store.CreateDocument(ctx, NamespaceCollections, id, doc); err != nil {
		if errors.Is(err, ErrStoreDuplicate) {
			return nil, NewError(ErrCollectionAlreadyExists, "collection %q already exists", id)
		}
		if errors.Is(err, ErrStoreLimitExceeded) {
			return nil, WrapError(ErrCollectionLimit, err, "collection limit reached")
		}
		return nil, WrapError(ErrInternal, err, "failed to write collection %q", id)
	}

	return collection, nil
}

// Get returns a collection hydrated with its attributes and indexes.
func (m *CollectionManager) Get(ctx context.Context, collectionID string) (*schema.Collection, error) {
	return m.engine.fetchCollection(ctx, collectionID)
}

// List returns all collections, unhydrated.
func (m *CollectionManager) List(ctx context.Context) ([]*schema.Collection, error) {
	docs, err := m.engine.store.Find(ctx, NamespaceCollections, nil, 0)
	if err != nil {
		return nil, WrapError(ErrInternal, err, "failed to list collections")
	}
	collections := make([]*schema.Collection, 0, len(docs))
	for _, doc := range docs {
		collection, err := documentToCollection(doc)
		if err != nil {
			return nil, WrapError(ErrInternal, err, "failed to decode collection document")
		}
		collections = append(collections, collection)
	}
	return collections, nil
}

// Update rewrites the mutable collection fields and purges caches.
func (m *CollectionManager) Update(ctx context.Context, project Project, collectionID string, update CollectionUpdate) (*schema.Collection, error) {
	collection, err := m.updateCollection(ctx, collectionID, update)
	m.engine.hub.emit(eventOutcome(CollectionUpdateSuccess, CollectionUpdateFailed, err), project, collectionID, "", err)
	return collection, err
}

func (m *CollectionManager) updateCollection(ctx context.Context, collectionID string, update CollectionUpdate) (*schema.Collection, error) {
	collection, err := m.engine.fetchCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}

	if update.Name != nil {
		collection.Name = *update.Name
	}
	if update.Permissions != nil {
		permissions, err := AggregatePermissions(update.Permissions, CollectionActions())
		if err != nil {
			return nil, err
		}
		collection.Permissions = permissions
	}
	if update.DocumentSecurity != nil {
		collection.DocumentSecurity = *update.DocumentSecurity
	}
	if update.Enabled != nil {
		collection.Enabled = *update.Enabled
	}
	collection.SearchText = searchText(collection.ID, collection.Name)
	collection.UpdatedAt = time.Now().UTC()

	doc, err := collectionToDocument(collection)
	if err != nil {
		return nil, WrapError(ErrInternal, err, "failed to encode collection %q", collectionID)
	}
	if err := m.engine.store.UpdateDocument(ctx, NamespaceCollections, collectionID, doc); err != nil {
		return nil, WrapError(ErrInternal, err, "failed to update collection %q", collectionID)
	}

	if err := m.engine.purgeCollectionCaches(ctx, collectionID); err != nil {
		return nil, err
	}
	return collection, nil
}

// Delete removes the collection document immediately and enqueues a single
// DELETE_COLLECTION job carrying the hydrated snapshot. Physical teardown of
// the collection and its children happens out-of-band.
func (m *CollectionManager) Delete(ctx context.Context, project Project, collectionID string) error {
	err := m.deleteCollection(ctx, project, collectionID)
	m.engine.hub.emit(eventOutcome(CollectionDeleteSuccess, CollectionDeleteFailed, err), project, collectionID, "", err)
	return err
}

func (m *CollectionManager) deleteCollection(ctx context.Context, project Project, collectionID string) error {
	collection, err := m.engine.fetchCollection(ctx, collectionID)
	if err != nil {
		return err
	}

	if err := m.engine.store.DeleteDocument(ctx, NamespaceCollections, collectionID); err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			return NewError(ErrCollectionNotFound, "collection %q not found", collectionID)
		}
		return WrapError(ErrInternal, err, "failed to delete collection %q", collectionID)
	}

	if err := m.engine.purgeCollectionCaches(ctx, collectionID); err != nil {
		return err
	}

	job := newJob(JobDeleteCollection, project, collection)
	return m.engine.enqueue(ctx, job)
}

func searchText(parts ...string) string {
	return strings.ToLower(strings.Join(parts, " "))
}
