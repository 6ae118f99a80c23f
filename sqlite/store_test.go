package sqlite

import (
	"context"
	"database/sql"
	"testing"

	"github.com/asaidimu/go-sarufi/core/engine"
	"github.com/asaidimu/go-sarufi/core/schema"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// An in-memory database vanishes with its connection; keep exactly one.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(openTestDB(t), nil, nil)
	require.NoError(t, err)
	return store
}

func TestStoreCRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateDocument(ctx, "things", "a", schema.Document{"key": "a", "n": 1}))

	err := store.CreateDocument(ctx, "things", "a", schema.Document{"key": "a"})
	assert.ErrorIs(t, err, engine.ErrStoreDuplicate)

	doc, err := store.GetDocument(ctx, "things", "a")
	require.NoError(t, err)
	assert.Equal(t, "a", doc["key"])
	assert.NotEmpty(t, doc["$createdAt"])
	assert.NotEmpty(t, doc["$updatedAt"])

	require.NoError(t, store.UpdateDocument(ctx, "things", "a", schema.Document{"key": "a", "n": 2}))
	doc, err = store.GetDocument(ctx, "things", "a")
	require.NoError(t, err)
	assert.Equal(t, float64(2), doc["n"], "numbers round-trip as float64")

	err = store.UpdateDocument(ctx, "things", "missing", schema.Document{})
	assert.ErrorIs(t, err, engine.ErrStoreNotFound)

	require.NoError(t, store.DeleteDocument(ctx, "things", "a"))
	_, err = store.GetDocument(ctx, "things", "a")
	assert.ErrorIs(t, err, engine.ErrStoreNotFound)
	assert.ErrorIs(t, store.DeleteDocument(ctx, "things", "a"), engine.ErrStoreNotFound)
}

func TestStoreNamespaceIsolation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateDocument(ctx, "attributes", "x", schema.Document{"key": "attr"}))
	require.NoError(t, store.CreateDocument(ctx, "indexes", "x", schema.Document{"key": "index"}),
		"the same id may exist in different namespaces")

	doc, err := store.GetDocument(ctx, "indexes", "x")
	require.NoError(t, err)
	assert.Equal(t, "index", doc["key"])
}

func TestStoreFindAndCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateDocument(ctx, "attributes", "1_a", schema.Document{
		"key": "a", "collectionInternalId": int64(1), "status": "pending",
	}))
	require.NoError(t, store.CreateDocument(ctx, "attributes", "1_b", schema.Document{
		"key": "b", "collectionInternalId": int64(1), "status": "available",
	}))
	require.NoError(t, store.CreateDocument(ctx, "attributes", "2_c", schema.Document{
		"key": "c", "collectionInternalId": int64(2), "status": "pending",
	}))

	docs, err := store.Find(ctx, "attributes", []engine.Filter{
		{Field: "collectionInternalId", Value: int64(1)},
	}, 0)
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	docs, err = store.Find(ctx, "attributes", []engine.Filter{
		{Field: "collectionInternalId", Value: 1},
		{Field: "status", Value: schema.StatusPending},
	}, 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a", docs[0]["key"])

	count, err := store.Count(ctx, "attributes", []engine.Filter{{Field: "status", Value: "pending"}})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	docs, err = store.Find(ctx, "attributes", nil, 2)
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestStoreCacheInvalidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateDocument(ctx, "collections", "articles", schema.Document{"name": "Articles"}))

	// Prime the read cache, then write behind it and purge.
	doc, err := store.GetDocument(ctx, "collections", "articles")
	require.NoError(t, err)
	assert.Equal(t, "Articles", doc["name"])

	_, err = store.db.ExecContext(ctx,
		`UPDATE _metadata SET doc = json_set(doc, '$.name', 'Posts') WHERE namespace = 'collections' AND id = 'articles'`)
	require.NoError(t, err)

	doc, err = store.GetDocument(ctx, "collections", "articles")
	require.NoError(t, err)
	assert.Equal(t, "Articles", doc["name"], "stale until purged")

	require.NoError(t, store.PurgeCachedDocument(ctx, "collections", "articles"))

	doc, err = store.GetDocument(ctx, "collections", "articles")
	require.NoError(t, err)
	assert.Equal(t, "Posts", doc["name"])
}

func TestStoreCheckAttribute(t *testing.T) {
	limits := engine.DefaultStoreLimits()
	limits.MaxAttributesPerCollection = 1
	limits.MaxStringSize = 100
	db := openTestDB(t)
	store, err := NewStore(db, nil, &StoreOptions{Limits: limits})
	require.NoError(t, err)
	ctx := context.Background()

	collection := &schema.Collection{ID: "articles", InternalID: 1}

	require.NoError(t, store.CheckAttribute(ctx, collection, &schema.Attribute{
		ID: "1_a", Type: schema.TypeString, Size: 50,
	}))

	err = store.CheckAttribute(ctx, collection, &schema.Attribute{
		ID: "1_a2", Type: schema.TypeString, Size: 1000,
	})
	assert.ErrorIs(t, err, engine.ErrStoreLimitExceeded)

	require.NoError(t, store.CreateDocument(ctx, engine.NamespaceAttributes, "1_a", schema.Document{
		"$id": "1_a", "collectionInternalId": int64(1),
	}))

	err = store.CheckAttribute(ctx, collection, &schema.Attribute{ID: "1_a"})
	assert.ErrorIs(t, err, engine.ErrStoreDuplicate)

	err = store.CheckAttribute(ctx, collection, &schema.Attribute{
		ID: "1_b", Type: schema.TypeString, Size: 50,
	})
	assert.ErrorIs(t, err, engine.ErrStoreLimitExceeded)
}

func TestStoreUpdateAttributeMeta(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	collection := &schema.Collection{ID: "articles", InternalID: 1}

	require.NoError(t, store.CreateDocument(ctx, engine.NamespaceAttributes, "1_title", schema.Document{
		"$id": "1_title", "size": int64(128), "type": "string",
	}))

	assert.NoError(t, store.UpdateAttributeMeta(ctx, collection,
		&schema.Attribute{ID: "1_title", Type: schema.TypeString, Size: 256}))

	assert.ErrorIs(t, store.UpdateAttributeMeta(ctx, collection,
		&schema.Attribute{ID: "1_title", Type: schema.TypeString, Size: 64}), engine.ErrStoreTruncate)

	assert.ErrorIs(t, store.UpdateAttributeMeta(ctx, collection,
		&schema.Attribute{ID: "1_ghost", Type: schema.TypeString, Size: 64}), engine.ErrStoreNotFound)
}

func TestStoreNextSequence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.NextSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first)

	second, err := store.NextSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), second)
}
