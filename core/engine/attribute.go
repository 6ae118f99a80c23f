package engine

import (
	"context"
	"errors"

	"github.com/asaidimu/go-sarufi/core/schema"
	"github.com/asaidimu/go-sarufi/utils"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// AttributeManager orchestrates attribute lifecycle: synchronous metadata
// validation and writes, cache invalidation, the two-way relationship
// bookkeeping, and production of physical migration jobs.
type AttributeManager struct {
	engine *Engine
}

// AttributeUpdate carries the caller's requested changes for Update. Type and
// Format restate the existing attribute's identity and must match it. Nil
// pointer fields are left unchanged; Default is a full re-specification, so
// callers pass the current value to keep it and nil to clear it.
type AttributeUpdate struct {
	Type     schema.AttributeType
	Format   schema.Format
	Size     *int64
	Required *bool
	Default  any
	Min      *float64
	Max      *float64
	Elements []string
	NewKey   *string
	OnDelete *schema.OnDelete
}

// Create validates the definition, writes the metadata document in pending
// state, purges the collection's caches, performs the two-way relationship
// pairing when requested, and enqueues a CREATE_ATTRIBUTE job. The physical
// column is applied out-of-band; the returned attribute is pending.
func (m *AttributeManager) Create(ctx context.Context, project Project, collectionID string, def *schema.Attribute) (*schema.Attribute, error) {
	attr, err := m.create(ctx, project, collectionID, def)
	m.engine.hub.emit(eventOutcome(AttributeCreateSuccess, AttributeCreateFailed, err), project, collectionID, def.Key, err)
	return attr, err
}

func (m *AttributeManager) create(ctx context.Context, project Project, collectionID string, def *schema.Attribute) (*schema.Attribute, error) {
	collection, err := m.engine.fetchCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}

	// The physical width of an integer column follows from the declared
	// upper bound and must be fixed before the metadata write.
	if def.Type == schema.TypeInteger {
		if max, ok := def.RangeMax(); ok {
			def.Size = schema.IntegerSize(int64(max))
		} else if def.Size == 0 {
			def.Size = schema.IntegerSize(0)
		}
	}

	if err := mapValidationError(schema.ValidateAttribute(def)); err != nil {
		return nil, err
	}

	var related *schema.Collection
	var relation schema.RelationshipOptions
	if def.Type == schema.TypeRelationship {
		relation, _ = def.Relationship()
		related, err = m.engine.fetchCollection(ctx, relation.RelatedCollection)
		if err != nil {
			return nil, err
		}
		if relation.Side == "" {
			relation.Side = schema.SideParent
			def.SetRelationship(relation)
		}
	}

	if err := m.createDocument(ctx, collection, def); err != nil {
		return nil, err
	}

	if def.Type == schema.TypeRelationship && relation.TwoWay {
		mirror := &schema.Attribute{
			Key:      relation.TwoWayKey,
			Type:     schema.TypeRelationship,
			Size:     def.Size,
			Required: def.Required,
			Array:    def.Array,
			Format:   def.Format,
			Filters:  append([]string(nil), def.Filters...),
		}
		mirror.SetRelationship(schema.RelationshipOptions{
			RelatedCollection: collection.ID,
			RelationType:      relation.RelationType,
			TwoWay:            true,
			TwoWayKey:         def.Key,
			OnDelete:          relation.OnDelete,
			Side:              schema.SideChild,
		})

		if err := m.createDocument(ctx, related, mirror); err != nil {
			return nil, m.compensateCreate(ctx, collection, def, err)
		}
	}

	job := newJob(JobCreateAttribute, project, collection)
	job.Attribute = def
	if err := m.engine.enqueue(ctx, job); err != nil {
		return nil, err
	}

	return def, nil
}

// createDocument performs steps shared by the primary and mirror writes:
// deterministic id, pending status, structural check, metadata write and
// cache purge for the owning collection.
func (m *AttributeManager) createDocument(ctx context.Context, collection *schema.Collection, attr *schema.Attribute) error {
	attr.ID = schema.MemberID(collection.InternalID, attr.Key)
	attr.CollectionInternalID = collection.InternalID
	attr.CollectionID = collection.ID
	attr.Status = schema.StatusPending

	if err := m.engine.store.CheckAttribute(ctx, collection, attr); err != nil {
		switch {
		case errors.Is(err, ErrStoreLimitExceeded):
			return WrapError(ErrAttributeLimit, err, "attribute limit reached on collection %q", collection.ID)
		case errors.Is(err, ErrStoreDuplicate):
			return NewError(ErrAttributeAlreadyExists, "attribute %q already exists on collection %q", attr.Key, collection.ID)
		default:
			return WrapError(ErrInternal, err, "structural check failed for attribute %q", attr.Key)
		}
	}

	doc, err := attributeToDocument(attr)
	if err != nil {
		return WrapError(ErrInternal, err, "failed to encode attribute %q", attr.Key)
	}
	if err := m.engine.store.CreateDocument(ctx, NamespaceAttributes, attr.ID, doc); err != nil {
		if errors.Is(err, ErrStoreDuplicate) {
			return NewError(ErrAttributeAlreadyExists, "attribute %q already exists on collection %q", attr.Key, collection.ID)
		}
		return WrapError(ErrInternal, err, "failed to write attribute %q", attr.Key)
	}

	return m.engine.purgeCollectionCaches(ctx, collection.ID)
}

// compensateCreate removes the primary attribute after a failed mirror write,
// so that a two-way relationship never exists one-sided. When the
// compensating delete itself fails, both failures surface in the returned
// error rather than either being swallowed.
func (m *AttributeManager) compensateCreate(ctx context.Context, collection *schema.Collection, attr *schema.Attribute, cause error) error {
	m.engine.logger.Warn("mirror attribute creation failed, compensating",
		zap.String("collection", collection.ID),
		zap.String("attribute", attr.Key),
		zap.Error(cause))

	compErr := m.engine.store.DeleteDocument(ctx, NamespaceAttributes, attr.ID)
	if compErr == nil {
		compErr = m.engine.purgeCollectionCaches(ctx, collection.ID)
	}
	if compErr != nil {
		return &Error{
			Kind:    KindOf(cause),
			Message: "two-way pairing failed and compensating delete of the primary attribute also failed",
			Err:     multierr.Combine(cause, compErr),
		}
	}
	return cause
}

// Get returns a single attribute by key.
func (m *AttributeManager) Get(ctx context.Context, collectionID, key string) (*schema.Attribute, error) {
	collection, err := m.engine.fetchCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	attr := collection.Attribute(key)
	if attr == nil {
		return nil, NewError(ErrAttributeNotFound, "attribute %q not found on collection %q", key, collectionID)
	}
	return attr, nil
}

// List returns all attributes of a collection.
func (m *AttributeManager) List(ctx context.Context, collectionID string) ([]*schema.Attribute, error) {
	collection, err := m.engine.fetchCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	return collection.Attributes, nil
}

// Update changes an available attribute. Relationship attributes take a
// constraint-only path with no queue job; everything else re-validates the
// definition, applies the physical change through the store and rewrites the
// metadata document, renaming it when NewKey differs.
func (m *AttributeManager) Update(ctx context.Context, project Project, collectionID, key string, update AttributeUpdate) (*schema.Attribute, error) {
	attr, err := m.update(ctx, collectionID, key, update)
	m.engine.hub.emit(eventOutcome(AttributeUpdateSuccess, AttributeUpdateFailed, err), project, collectionID, key, err)
	return attr, err
}

func (m *AttributeManager) update(ctx context.Context, collectionID, key string, update AttributeUpdate) (*schema.Attribute, error) {
	collection, err := m.engine.fetchCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}

	attr := collection.Attribute(key)
	if attr == nil {
		return nil, NewError(ErrAttributeNotFound, "attribute %q not found on collection %q", key, collectionID)
	}
	if attr.Status != schema.StatusAvailable {
		return nil, NewError(ErrAttributeNotAvailable, "attribute %q is %s", key, attr.Status)
	}
	if update.Type != attr.Type {
		return nil, NewError(ErrAttributeTypeInvalid, "attribute %q is of type %s, not %s", key, attr.Type, update.Type)
	}
	if attr.Type == schema.TypeString && update.Format != attr.Format {
		return nil, NewError(ErrAttributeTypeInvalid, "attribute %q has format %q, not %q", key, attr.Format, update.Format)
	}

	if attr.Type == schema.TypeRelationship {
		return m.updateRelationship(ctx, collection, attr, update)
	}

	applyAttributeUpdate(attr, update)

	if err := mapValidationError(schema.ValidateAttribute(attr)); err != nil {
		return nil, err
	}

	if err := m.engine.store.UpdateAttributeMeta(ctx, collection, attr); err != nil {
		if errors.Is(err, ErrStoreTruncate) {
			return nil, WrapError(ErrAttributeInvalidResize, err, "resize of %q would truncate existing data", key)
		}
		return nil, WrapError(ErrInternal, err, "physical update of attribute %q failed", key)
	}

	if update.NewKey != nil && *update.NewKey != key {
		if err := m.renameDocument(ctx, collection, attr, *update.NewKey); err != nil {
			return nil, err
		}
	} else {
		doc, err := attributeToDocument(attr)
		if err != nil {
			return nil, WrapError(ErrInternal, err, "failed to encode attribute %q", key)
		}
		if err := m.engine.store.UpdateDocument(ctx, NamespaceAttributes, attr.ID, doc); err != nil {
			return nil, WrapError(ErrInternal, err, "failed to update attribute %q", key)
		}
	}

	if err := m.engine.purgeCollectionCaches(ctx, collection.ID); err != nil {
		return nil, err
	}
	return attr, nil
}

// updateRelationship changes the enforcement policy of a relationship on both
// sides. No queue job is produced: the change is constraint-only and the
// store applies it directly.
func (m *AttributeManager) updateRelationship(ctx context.Context, collection *schema.Collection, attr *schema.Attribute, update AttributeUpdate) (*schema.Attribute, error) {
	opts, ok := attr.Relationship()
	if !ok {
		return nil, NewError(ErrAttributeValueInvalid, "attribute %q has malformed relationship options", attr.Key)
	}
	if update.OnDelete != nil {
		opts.OnDelete = *update.OnDelete
	}
	attr.SetRelationship(opts)

	doc, err := attributeToDocument(attr)
	if err != nil {
		return nil, WrapError(ErrInternal, err, "failed to encode attribute %q", attr.Key)
	}
	if err := m.engine.store.UpdateDocument(ctx, NamespaceAttributes, attr.ID, doc); err != nil {
		return nil, WrapError(ErrInternal, err, "failed to update attribute %q", attr.Key)
	}

	if opts.TwoWay {
		related, err := m.engine.fetchCollection(ctx, opts.RelatedCollection)
		if err != nil {
			return nil, err
		}
		mirror := related.Attribute(opts.TwoWayKey)
		if mirror == nil {
			return nil, NewError(ErrAttributeNotFound, "mirror attribute %q not found on collection %q", opts.TwoWayKey, related.ID)
		}
		if mirrorOpts, ok := mirror.Relationship(); ok {
			mirrorOpts.OnDelete = opts.OnDelete
			mirror.SetRelationship(mirrorOpts)
		}
		mirrorDoc, err := attributeToDocument(mirror)
		if err != nil {
			return nil, WrapError(ErrInternal, err, "failed to encode mirror attribute %q", mirror.Key)
		}
		if err := m.engine.store.UpdateDocument(ctx, NamespaceAttributes, mirror.ID, mirrorDoc); err != nil {
			return nil, WrapError(ErrInternal, err, "failed to update mirror attribute %q", mirror.Key)
		}
		if err := m.engine.purgeCollectionCaches(ctx, related.ID); err != nil {
			return nil, err
		}
	}

	if err := m.engine.store.UpdateRelationship(ctx, collection, attr); err != nil {
		return nil, WrapError(ErrInternal, err, "failed to update relationship constraint for %q", attr.Key)
	}

	if err := m.engine.purgeCollectionCaches(ctx, collection.ID); err != nil {
		return nil, err
	}
	return attr, nil
}

// renameDocument moves an attribute to a new deterministic id. The old
// document is deleted first; when creation of the new one fails the original
// is restored best-effort and the creation error surfaces.
func (m *AttributeManager) renameDocument(ctx context.Context, collection *schema.Collection, attr *schema.Attribute, newKey string) error {
	originalDoc, err := attributeToDocument(attr)
	if err != nil {
		return WrapError(ErrInternal, err, "failed to encode attribute %q", attr.Key)
	}
	restore, err := utils.CloneMap(originalDoc)
	if err != nil {
		return WrapError(ErrInternal, err, "failed to snapshot attribute %q", attr.Key)
	}
	oldID := attr.ID
	oldKey := attr.Key

	if err := m.engine.store.DeleteDocument(ctx, NamespaceAttributes, oldID); err != nil {
		return WrapError(ErrInternal, err, "failed to remove attribute %q for rename", oldKey)
	}

	attr.Key = newKey
	attr.ID = schema.MemberID(collection.InternalID, newKey)

	newDoc, err := attributeToDocument(attr)
	if err == nil {
		err = m.engine.store.CreateDocument(ctx, NamespaceAttributes, attr.ID, newDoc)
	}
	if err != nil {
		attr.Key = oldKey
		attr.ID = oldID
		var createErr error
		if errors.Is(err, ErrStoreDuplicate) {
			createErr = NewError(ErrAttributeAlreadyExists, "attribute %q already exists on collection %q", newKey, collection.ID)
		} else {
			createErr = WrapError(ErrInternal, err, "failed to create renamed attribute %q", newKey)
		}
		if restoreErr := m.engine.store.CreateDocument(ctx, NamespaceAttributes, oldID, restore); restoreErr != nil {
			m.engine.logger.Error("failed to restore attribute after rename failure",
				zap.String("attribute", oldKey), zap.Error(restoreErr))
			return &Error{
				Kind:    KindOf(createErr),
				Message: "rename failed and the original attribute could not be restored",
				Err:     multierr.Combine(createErr, restoreErr),
			}
		}
		return createErr
	}
	return nil
}

// Delete marks the attribute deleting, mirrors the transition onto the
// two-way counterpart before anything is enqueued, purges caches of every
// collection involved and enqueues a DELETE_ATTRIBUTE job. The physical
// column survives until the worker finishes.
func (m *AttributeManager) Delete(ctx context.Context, project Project, collectionID, key string) error {
	err := m.delete(ctx, project, collectionID, key)
	m.engine.hub.emit(eventOutcome(AttributeDeleteSuccess, AttributeDeleteFailed, err), project, collectionID, key, err)
	return err
}

func (m *AttributeManager) delete(ctx context.Context, project Project, collectionID, key string) error {
	collection, err := m.engine.fetchCollection(ctx, collectionID)
	if err != nil {
		return err
	}
	attr := collection.Attribute(key)
	if attr == nil {
		return NewError(ErrAttributeNotFound, "attribute %q not found on collection %q", key, collectionID)
	}

	if err := m.markDeleting(ctx, attr); err != nil {
		return err
	}

	// Both sides of a two-way relationship must be unavailable before the
	// job exists, so no reader ever sees a half-deleted pair.
	if opts, ok := attr.Relationship(); ok && opts.TwoWay {
		related, err := m.engine.fetchCollection(ctx, opts.RelatedCollection)
		if err == nil {
			if mirror := related.Attribute(opts.TwoWayKey); mirror != nil {
				if err := m.markDeleting(ctx, mirror); err != nil {
					return err
				}
			}
			if err := m.engine.purgeCollectionCaches(ctx, related.ID); err != nil {
				return err
			}
		} else if !IsKind(err, ErrCollectionNotFound) {
			return err
		}
	}

	if err := m.engine.purgeCollectionCaches(ctx, collection.ID); err != nil {
		return err
	}

	job := newJob(JobDeleteAttribute, project, collection)
	job.Attribute = attr
	return m.engine.enqueue(ctx, job)
}

func (m *AttributeManager) markDeleting(ctx context.Context, attr *schema.Attribute) error {
	if attr.Status == schema.StatusDeleting {
		return nil
	}
	attr.Status = schema.StatusDeleting
	doc, err := attributeToDocument(attr)
	if err != nil {
		return WrapError(ErrInternal, err, "failed to encode attribute %q", attr.Key)
	}
	if err := m.engine.store.UpdateDocument(ctx, NamespaceAttributes, attr.ID, doc); err != nil {
		return WrapError(ErrInternal, err, "failed to mark attribute %q deleting", attr.Key)
	}
	return nil
}

func applyAttributeUpdate(attr *schema.Attribute, update AttributeUpdate) {
	if update.Size != nil {
		attr.Size = *update.Size
	}
	if update.Required != nil {
		attr.Required = *update.Required
	}
	attr.Default = update.Default
	if update.Min != nil || update.Max != nil || update.Elements != nil {
		if attr.FormatOptions == nil {
			attr.FormatOptions = map[string]any{}
		}
	}
	if update.Min != nil {
		attr.FormatOptions["min"] = *update.Min
	}
	if update.Max != nil {
		attr.FormatOptions["max"] = *update.Max
		if attr.Type == schema.TypeInteger {
			attr.Size = schema.IntegerSize(int64(*update.Max))
		}
	}
	if update.Elements != nil {
		attr.FormatOptions["elements"] = update.Elements
	}
}

// mapValidationError turns schema package sentinels into domain errors.
func mapValidationError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, schema.ErrFormatUnsupported):
		return WrapError(ErrAttributeFormatInvalid, err, "unsupported attribute format")
	case errors.Is(err, schema.ErrDefaultUnsupported):
		return WrapError(ErrAttributeDefaultInvalid, err, "unsupported default value")
	case errors.Is(err, schema.ErrTypeInvalid):
		return WrapError(ErrAttributeTypeInvalid, err, "invalid attribute type")
	default:
		return WrapError(ErrAttributeValueInvalid, err, "invalid attribute value")
	}
}

func eventOutcome(success, failed SchemaEventType, err error) SchemaEventType {
	if err != nil {
		return failed
	}
	return success
}
