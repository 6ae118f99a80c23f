// Package engine orchestrates schema metadata changes: it validates
// collection, attribute and index definitions synchronously, writes metadata
// through a MetadataStore, keeps the store's caches coherent, and drives the
// physical migration asynchronously by producing jobs on a SchemaChangeQueue.
package engine

import (
	"context"
	"errors"

	"github.com/asaidimu/go-sarufi/core/schema"
)

// Metadata namespaces. Every metadata document lives in exactly one of these.
const (
	NamespaceCollections = "collections"
	NamespaceAttributes  = "attributes"
	NamespaceIndexes     = "indexes"
)

// Sentinel errors a MetadataStore implementation must return for the engine
// to map store failures onto the domain taxonomy.
var (
	ErrStoreNotFound      = errors.New("metadata: document not found")
	ErrStoreDuplicate     = errors.New("metadata: duplicate document id")
	ErrStoreLimitExceeded = errors.New("metadata: structural limit exceeded")
	ErrStoreTruncate      = errors.New("metadata: resize would truncate existing data")
)

// Filter is a single equality predicate for Find and Count.
type Filter struct {
	Field string
	Value any
}

// StoreLimits are the physical adapter's structural limits, consulted during
// validation before any metadata write.
type StoreLimits struct {
	MaxAttributesPerCollection int
	MaxIndexesPerCollection    int
	MaxIndexAttributes         int
	MaxIndexKeyLength          int
	MaxStringSize              int64
}

// DefaultStoreLimits mirror common relational adapter defaults.
func DefaultStoreLimits() StoreLimits {
	return StoreLimits{
		MaxAttributesPerCollection: 1012,
		MaxIndexesPerCollection:    64,
		MaxIndexAttributes:         16,
		MaxIndexKeyLength:          768,
		MaxStringSize:              16_777_216,
	}
}

// MetadataStore is the document store the engine writes schema metadata
// through. Implementations must keep a per-document cache and a compiled
// per-collection cache, both invalidated via the purge methods, and must
// surface the sentinel errors above for duplicates, missing documents,
// structural limits and truncating resizes.
type MetadataStore interface {
	GetDocument(ctx context.Context, namespace, id string) (schema.Document, error)
	CreateDocument(ctx context.Context, namespace, id string, doc schema.Document) error
	UpdateDocument(ctx context.Context, namespace, id string, doc schema.Document) error
	DeleteDocument(ctx context.Context, namespace, id string) error
	Find(ctx context.Context, namespace string, filters []Filter, limit int) ([]schema.Document, error)
	Count(ctx context.Context, namespace string, filters []Filter) (int, error)

	// PurgeCachedDocument drops one document from the read cache;
	// PurgeCachedCollection drops a collection's compiled form. These are
	// two independent cache namespaces and both must be purged before an
	// operation returns.
	PurgeCachedDocument(ctx context.Context, namespace, id string) error
	PurgeCachedCollection(ctx context.Context, collectionID string) error

	// CheckAttribute validates an attribute definition against the physical
	// adapter's capabilities without writing anything.
	CheckAttribute(ctx context.Context, collection *schema.Collection, attribute *schema.Attribute) error

	// UpdateAttributeMeta applies a physical non-relationship attribute
	// change (resize, default, rename). Returns ErrStoreTruncate when a
	// shrink would lose data.
	UpdateAttributeMeta(ctx context.Context, collection *schema.Collection, attribute *schema.Attribute) error

	// UpdateRelationship updates the enforcement rule of an existing
	// relationship constraint; constraint-only, no column change.
	UpdateRelationship(ctx context.Context, collection *schema.Collection, attribute *schema.Attribute) error

	// NextSequence reserves the next collection internal id.
	NextSequence(ctx context.Context) (int64, error)

	Limits() StoreLimits
}

// Project identifies the tenant on whose behalf an operation runs. It is
// carried into queue jobs and events as metadata only; authorization is
// handled upstream of the engine.
type Project struct {
	ID     string
	Schema string
}
