// Package memory provides an in-process implementation of the engine's
// MetadataStore interface. It honors the same sentinel errors and structural
// limits as the sqlite store and is the backing store used by the engine's
// own tests and by embedders that do not need durability.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/asaidimu/go-sarufi/core/engine"
	"github.com/asaidimu/go-sarufi/core/schema"
	"github.com/asaidimu/go-sarufi/utils"
)

// Store is a map-backed MetadataStore. All methods are safe for concurrent
// use.
type Store struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]schema.Document
	sequence   int64
	limits     engine.StoreLimits

	// purged records cache invalidations in order, for inspection by tests.
	purged []string
}

var _ engine.MetadataStore = (*Store)(nil)

// NewStore creates an empty store with the given limits; zero-value limits
// fall back to the engine defaults.
func NewStore(limits engine.StoreLimits) *Store {
	if limits == (engine.StoreLimits{}) {
		limits = engine.DefaultStoreLimits()
	}
	return &Store{
		namespaces: make(map[string]map[string]schema.Document),
		limits:     limits,
	}
}

func (s *Store) namespace(name string) map[string]schema.Document {
	ns, ok := s.namespaces[name]
	if !ok {
		ns = make(map[string]schema.Document)
		s.namespaces[name] = ns
	}
	return ns
}

// view is the read-path counterpart of namespace: it never mutates the
// namespace map, so it is safe under the read lock. A nil result supports
// lookup and iteration.
func (s *Store) view(name string) map[string]schema.Document {
	return s.namespaces[name]
}

// GetDocument returns a deep copy of the stored document.
func (s *Store) GetDocument(ctx context.Context, namespace, id string) (schema.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.view(namespace)[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", engine.ErrStoreNotFound, namespace, id)
	}
	copied, err := utils.CloneMap(doc)
	if err != nil {
		return nil, err
	}
	return copied, nil
}

// CreateDocument stores a new document, rejecting duplicate ids.
func (s *Store) CreateDocument(ctx context.Context, namespace, id string, doc schema.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.namespace(namespace)
	if _, exists := ns[id]; exists {
		return fmt.Errorf("%w: %s/%s", engine.ErrStoreDuplicate, namespace, id)
	}
	stored, err := utils.CloneMap(doc)
	if err != nil {
		return err
	}
	stamp(stored, true)
	ns[id] = stored
	return nil
}

// UpdateDocument replaces an existing document.
func (s *Store) UpdateDocument(ctx context.Context, namespace, id string, doc schema.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.namespace(namespace)
	previous, exists := ns[id]
	if !exists {
		return fmt.Errorf("%w: %s/%s", engine.ErrStoreNotFound, namespace, id)
	}
	stored, err := utils.CloneMap(doc)
	if err != nil {
		return err
	}
	if created, ok := previous["$createdAt"]; ok {
		stored["$createdAt"] = created
	}
	stamp(stored, false)
	ns[id] = stored
	return nil
}

// DeleteDocument removes a document.
func (s *Store) DeleteDocument(ctx context.Context, namespace, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.namespace(namespace)
	if _, exists := ns[id]; !exists {
		return fmt.Errorf("%w: %s/%s", engine.ErrStoreNotFound, namespace, id)
	}
	delete(ns, id)
	return nil
}

// Find returns copies of all documents in a namespace matching every filter.
func (s *Store) Find(ctx context.Context, namespace string, filters []engine.Filter, limit int) ([]schema.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []schema.Document
	for _, doc := range s.view(namespace) {
		if !matches(doc, filters) {
			continue
		}
		copied, err := utils.CloneMap(doc)
		if err != nil {
			return nil, err
		}
		results = append(results, copied)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

// Count returns the number of documents matching every filter.
func (s *Store) Count(ctx context.Context, namespace string, filters []engine.Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, doc := range s.view(namespace) {
		if matches(doc, filters) {
			count++
		}
	}
	return count, nil
}

// PurgeCachedDocument records the invalidation; the store itself is
// uncached.
func (s *Store) PurgeCachedDocument(ctx context.Context, namespace, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purged = append(s.purged, namespace+"/"+id)
	return nil
}

// PurgeCachedCollection records the compiled-collection invalidation.
func (s *Store) PurgeCachedCollection(ctx context.Context, collectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purged = append(s.purged, "compiled/"+collectionID)
	return nil
}

// Purged returns the cache invalidations recorded so far, in order.
func (s *Store) Purged() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.purged...)
}

// CheckAttribute validates the attribute against the store's structural
// limits: per-collection attribute count, duplicate id and string width.
func (s *Store) CheckAttribute(ctx context.Context, collection *schema.Collection, attribute *schema.Attribute) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.view(engine.NamespaceAttributes)[attribute.ID]; exists {
		return fmt.Errorf("%w: attribute %s", engine.ErrStoreDuplicate, attribute.ID)
	}

	count := 0
	for _, doc := range s.view(engine.NamespaceAttributes) {
		if v, ok := numeric(doc["collectionInternalId"]); ok && v == collection.InternalID {
			count++
		}
	}
	if s.limits.MaxAttributesPerCollection > 0 && count >= s.limits.MaxAttributesPerCollection {
		return fmt.Errorf("%w: collection %s has %d attributes", engine.ErrStoreLimitExceeded, collection.ID, count)
	}

	if attribute.Type == schema.TypeString && s.limits.MaxStringSize > 0 && attribute.Size > s.limits.MaxStringSize {
		return fmt.Errorf("%w: string size %d", engine.ErrStoreLimitExceeded, attribute.Size)
	}
	return nil
}

// UpdateAttributeMeta applies a physical attribute change. The memory store
// holds no row data, so a shrink below the previously declared size is
// rejected conservatively as a truncating resize.
func (s *Store) UpdateAttributeMeta(ctx context.Context, collection *schema.Collection, attribute *schema.Attribute) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	previous, ok := s.view(engine.NamespaceAttributes)[attribute.ID]
	if !ok {
		return fmt.Errorf("%w: attribute %s", engine.ErrStoreNotFound, attribute.ID)
	}
	if prevSize, ok := numeric(previous["size"]); ok && attribute.Type == schema.TypeString && attribute.Size < prevSize {
		return fmt.Errorf("%w: shrink from %d to %d", engine.ErrStoreTruncate, prevSize, attribute.Size)
	}
	return nil
}

// UpdateRelationship is a no-op for the memory store; there is no physical
// constraint to rewrite.
func (s *Store) UpdateRelationship(ctx context.Context, collection *schema.Collection, attribute *schema.Attribute) error {
	return nil
}

// NextSequence reserves the next collection internal id.
func (s *Store) NextSequence(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequence++
	return s.sequence, nil
}

// Limits returns the configured structural limits.
func (s *Store) Limits() engine.StoreLimits { return s.limits }

func stamp(doc schema.Document, create bool) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if create {
		doc["$createdAt"] = now
	}
	doc["$updatedAt"] = now
}

func matches(doc schema.Document, filters []engine.Filter) bool {
	for _, f := range filters {
		value, ok := doc[f.Field]
		if !ok {
			return false
		}
		if !equal(value, f.Value) {
			return false
		}
	}
	return true
}

// equal compares with numeric tolerance: JSON round-trips turn int64 into
// float64, and filters are built from typed structs.
func equal(a, b any) bool {
	if na, ok := numeric(a); ok {
		if nb, ok := numeric(b); ok {
			return na == nb
		}
	}
	return a == b
}

func numeric(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	}
	return 0, false
}
