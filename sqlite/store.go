// Package sqlite provides durable implementations of the engine's
// MetadataStore and SchemaChangeQueue interfaces on top of a SQLite
// database. Documents are stored as JSON with a unique (namespace, id)
// constraint, which is the serialization point for concurrent creates.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/asaidimu/go-sarufi/core/engine"
	"github.com/asaidimu/go-sarufi/core/schema"
	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// StoreOptions configure a Store.
type StoreOptions struct {
	// Limits are the structural limits reported to the engine. Zero value
	// falls back to engine defaults.
	Limits engine.StoreLimits
}

// DefaultStoreOptions returns the default configuration.
func DefaultStoreOptions() *StoreOptions {
	return &StoreOptions{Limits: engine.DefaultStoreLimits()}
}

// Store implements engine.MetadataStore over a SQLite database. It keeps two
// in-process caches: a per-document read cache and a compiled-collection
// cache, both invalidated through the purge methods.
type Store struct {
	db      *sql.DB
	logger  *zap.Logger
	options *StoreOptions

	cacheMu  sync.RWMutex
	docCache map[string]schema.Document // keyed namespace/id
	colCache map[string]schema.Document // compiled collections, keyed collection id
}

var _ engine.MetadataStore = (*Store)(nil)

// NewStore creates the metadata tables when missing and returns a Store.
func NewStore(db *sql.DB, logger *zap.Logger, options *StoreOptions) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if options == nil {
		options = DefaultStoreOptions()
	}
	if options.Limits == (engine.StoreLimits{}) {
		options.Limits = engine.DefaultStoreLimits()
	}

	ddl := []string{
		`CREATE TABLE IF NOT EXISTS _metadata (
			namespace TEXT NOT NULL,
			id        TEXT NOT NULL,
			doc       TEXT NOT NULL,
			created   TEXT NOT NULL,
			updated   TEXT NOT NULL,
			PRIMARY KEY (namespace, id)
		)`,
		`CREATE TABLE IF NOT EXISTS _sequences (
			name  TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		)`,
	}
	for _, stmt := range ddl {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to initialize metadata tables: %w", err)
		}
	}

	return &Store{
		db:       db,
		logger:   logger,
		options:  options,
		docCache: make(map[string]schema.Document),
		colCache: make(map[string]schema.Document),
	}, nil
}

func cacheKey(namespace, id string) string { return namespace + "/" + id }

// GetDocument returns a document, serving from the read cache when possible.
func (s *Store) GetDocument(ctx context.Context, namespace, id string) (schema.Document, error) {
	s.cacheMu.RLock()
	cached, ok := s.docCache[cacheKey(namespace, id)]
	s.cacheMu.RUnlock()
	if ok {
		return cloneDocument(cached)
	}

	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM _metadata WHERE namespace = ? AND id = ?`, namespace, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", engine.ErrStoreNotFound, namespace, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read document %s/%s: %w", namespace, id, err)
	}

	doc, err := decodeDocument(raw)
	if err != nil {
		return nil, err
	}

	s.cacheMu.Lock()
	s.docCache[cacheKey(namespace, id)] = doc
	s.cacheMu.Unlock()

	return cloneDocument(doc)
}

// CreateDocument inserts a new document; the primary key rejects duplicates.
func (s *Store) CreateDocument(ctx context.Context, namespace, id string, doc schema.Document) error {
	stored, err := cloneDocument(doc)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, ok := stored["$createdAt"]; !ok {
		stored["$createdAt"] = now
	}
	stored["$updatedAt"] = now

	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to encode document %s/%s: %w", namespace, id, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO _metadata (namespace, id, doc, created, updated) VALUES (?, ?, ?, ?, ?)`,
		namespace, id, string(raw), now, now)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("%w: %s/%s", engine.ErrStoreDuplicate, namespace, id)
		}
		return fmt.Errorf("failed to insert document %s/%s: %w", namespace, id, err)
	}
	return nil
}

// UpdateDocument replaces an existing document and drops its cache entry.
func (s *Store) UpdateDocument(ctx context.Context, namespace, id string, doc schema.Document) error {
	stored, err := cloneDocument(doc)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	stored["$updatedAt"] = now

	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to encode document %s/%s: %w", namespace, id, err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE _metadata SET doc = ?, updated = ? WHERE namespace = ? AND id = ?`,
		string(raw), now, namespace, id)
	if err != nil {
		return fmt.Errorf("failed to update document %s/%s: %w", namespace, id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s/%s", engine.ErrStoreNotFound, namespace, id)
	}

	s.dropDocCache(namespace, id)
	return nil
}

// DeleteDocument removes a document and drops its cache entry.
func (s *Store) DeleteDocument(ctx context.Context, namespace, id string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM _metadata WHERE namespace = ? AND id = ?`, namespace, id)
	if err != nil {
		return fmt.Errorf("failed to delete document %s/%s: %w", namespace, id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s/%s", engine.ErrStoreNotFound, namespace, id)
	}

	s.dropDocCache(namespace, id)
	return nil
}

// Find returns documents in a namespace matching every equality filter.
// Filter fields are document keys controlled by the engine, addressed via
// json_extract.
func (s *Store) Find(ctx context.Context, namespace string, filters []engine.Filter, limit int) ([]schema.Document, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT doc FROM _metadata WHERE namespace = ?`)
	args := []any{namespace}
	for _, f := range filters {
		sb.WriteString(fmt.Sprintf(` AND json_extract(doc, '$.%s') = ?`, f.Field))
		args = append(args, normalizeArg(f.Value))
	}
	if limit > 0 {
		sb.WriteString(` LIMIT ?`)
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query namespace %s: %w", namespace, err)
	}
	defer rows.Close()

	var results []schema.Document
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan document row: %w", err)
		}
		doc, err := decodeDocument(raw)
		if err != nil {
			return nil, err
		}
		results = append(results, doc)
	}
	return results, rows.Err()
}

// Count returns the number of documents matching every filter.
func (s *Store) Count(ctx context.Context, namespace string, filters []engine.Filter) (int, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT COUNT(*) FROM _metadata WHERE namespace = ?`)
	args := []any{namespace}
	for _, f := range filters {
		sb.WriteString(fmt.Sprintf(` AND json_extract(doc, '$.%s') = ?`, f.Field))
		args = append(args, normalizeArg(f.Value))
	}

	var count int
	if err := s.db.QueryRowContext(ctx, sb.String(), args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count namespace %s: %w", namespace, err)
	}
	return count, nil
}

// PurgeCachedDocument drops one entry from the document read cache.
func (s *Store) PurgeCachedDocument(ctx context.Context, namespace, id string) error {
	s.dropDocCache(namespace, id)
	return nil
}

// PurgeCachedCollection drops a collection's compiled form.
func (s *Store) PurgeCachedCollection(ctx context.Context, collectionID string) error {
	s.cacheMu.Lock()
	delete(s.colCache, collectionID)
	s.cacheMu.Unlock()
	return nil
}

func (s *Store) dropDocCache(namespace, id string) {
	s.cacheMu.Lock()
	delete(s.docCache, cacheKey(namespace, id))
	s.cacheMu.Unlock()
}

// CheckAttribute validates an attribute definition against the structural
// limits: duplicate id, per-collection attribute count and string width.
func (s *Store) CheckAttribute(ctx context.Context, collection *schema.Collection, attribute *schema.Attribute) error {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM _metadata WHERE namespace = ? AND id = ?`,
		engine.NamespaceAttributes, attribute.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check attribute %s: %w", attribute.ID, err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: attribute %s", engine.ErrStoreDuplicate, attribute.ID)
	}

	count, err := s.Count(ctx, engine.NamespaceAttributes, []engine.Filter{
		{Field: "collectionInternalId", Value: collection.InternalID},
	})
	if err != nil {
		return err
	}
	limits := s.options.Limits
	if limits.MaxAttributesPerCollection > 0 && count >= limits.MaxAttributesPerCollection {
		return fmt.Errorf("%w: collection %s has %d attributes", engine.ErrStoreLimitExceeded, collection.ID, count)
	}
	if attribute.Type == schema.TypeString && limits.MaxStringSize > 0 && attribute.Size > limits.MaxStringSize {
		return fmt.Errorf("%w: string size %d", engine.ErrStoreLimitExceeded, attribute.Size)
	}
	return nil
}

// UpdateAttributeMeta applies a physical attribute change. The store cannot
// inspect row data of the external adapter, so a shrink below the previously
// declared size is rejected conservatively as a truncating resize.
func (s *Store) UpdateAttributeMeta(ctx context.Context, collection *schema.Collection, attribute *schema.Attribute) error {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM _metadata WHERE namespace = ? AND id = ?`,
		engine.NamespaceAttributes, attribute.ID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: attribute %s", engine.ErrStoreNotFound, attribute.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to read attribute %s: %w", attribute.ID, err)
	}

	previous, err := decodeDocument(raw)
	if err != nil {
		return err
	}
	if prev, ok := previous["size"].(float64); ok &&
		attribute.Type == schema.TypeString && attribute.Size < int64(prev) {
		return fmt.Errorf("%w: shrink from %d to %d", engine.ErrStoreTruncate, int64(prev), attribute.Size)
	}
	return nil
}

// UpdateRelationship rewrites a relationship's enforcement rule. The
// metadata document itself is updated by the engine; nothing physical exists
// here to change.
func (s *Store) UpdateRelationship(ctx context.Context, collection *schema.Collection, attribute *schema.Attribute) error {
	s.logger.Debug("relationship constraint updated",
		zap.String("collection", collection.ID),
		zap.String("attribute", attribute.Key))
	return nil
}

// NextSequence reserves the next collection internal id atomically.
func (s *Store) NextSequence(ctx context.Context) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO _sequences (name, value) VALUES ('collections', 1)
		 ON CONFLICT(name) DO UPDATE SET value = value + 1
		 RETURNING value`).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("failed to reserve collection sequence: %w", err)
	}
	return value, nil
}

// Limits returns the configured structural limits.
func (s *Store) Limits() engine.StoreLimits { return s.options.Limits }

func decodeDocument(raw string) (schema.Document, error) {
	var doc schema.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("failed to decode stored document: %w", err)
	}
	return doc, nil
}

func cloneDocument(doc schema.Document) (schema.Document, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to clone document: %w", err)
	}
	return decodeDocument(string(raw))
}

// normalizeArg converts filter values into types SQLite compares cleanly
// against json_extract results.
func normalizeArg(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case schema.Status:
		return string(n)
	default:
		return v
	}
}

func isConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
