package memory

import (
	"context"
	"testing"

	"github.com/asaidimu/go-sarufi/core/engine"
	"github.com/asaidimu/go-sarufi/core/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreCRUD(t *testing.T) {
	store := NewStore(engine.StoreLimits{})
	ctx := context.Background()

	err := store.CreateDocument(ctx, "things", "a", schema.Document{"key": "a", "n": 1})
	require.NoError(t, err)

	err = store.CreateDocument(ctx, "things", "a", schema.Document{"key": "a"})
	assert.ErrorIs(t, err, engine.ErrStoreDuplicate)

	doc, err := store.GetDocument(ctx, "things", "a")
	require.NoError(t, err)
	assert.Equal(t, "a", doc["key"])
	assert.NotEmpty(t, doc["$createdAt"], "writes are stamped")
	assert.NotEmpty(t, doc["$updatedAt"])

	created := doc["$createdAt"]
	require.NoError(t, store.UpdateDocument(ctx, "things", "a", schema.Document{"key": "a", "n": 2}))
	doc, err = store.GetDocument(ctx, "things", "a")
	require.NoError(t, err)
	assert.Equal(t, created, doc["$createdAt"], "updates preserve the creation stamp")

	err = store.UpdateDocument(ctx, "things", "missing", schema.Document{})
	assert.ErrorIs(t, err, engine.ErrStoreNotFound)

	require.NoError(t, store.DeleteDocument(ctx, "things", "a"))
	_, err = store.GetDocument(ctx, "things", "a")
	assert.ErrorIs(t, err, engine.ErrStoreNotFound)
	err = store.DeleteDocument(ctx, "things", "a")
	assert.ErrorIs(t, err, engine.ErrStoreNotFound)
}

func TestStoreReturnsCopies(t *testing.T) {
	store := NewStore(engine.StoreLimits{})
	ctx := context.Background()

	require.NoError(t, store.CreateDocument(ctx, "things", "a", schema.Document{"key": "a"}))

	doc, err := store.GetDocument(ctx, "things", "a")
	require.NoError(t, err)
	doc["key"] = "mutated"

	again, err := store.GetDocument(ctx, "things", "a")
	require.NoError(t, err)
	assert.Equal(t, "a", again["key"], "callers cannot mutate stored state")
}

func TestStoreFindAndCount(t *testing.T) {
	store := NewStore(engine.StoreLimits{})
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

	// Filters match across numeric representations; JSON decoding yields
	// float64 where the engine passes int64.
	docs, err = store.Find(ctx, "attributes", []engine.Filter{
		{Field: "collectionInternalId", Value: float64(2)},
	}, 0)
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	docs, err = store.Find(ctx, "attributes", []engine.Filter{
		{Field: "collectionInternalId", Value: int64(1)},
		{Field: "status", Value: "pending"},
	}, 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a", docs[0]["key"])

	count, err := store.Count(ctx, "attributes", []engine.Filter{{Field: "status", Value: "pending"}})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	docs, err = store.Find(ctx, "attributes", nil, 2)
	require.NoError(t, err)
	assert.Len(t, docs, 2, "limit caps the result set")
}

func TestStorePurgeLog(t *testing.T) {
	store := NewStore(engine.StoreLimits{})
	ctx := context.Background()

	require.NoError(t, store.PurgeCachedDocument(ctx, "collections", "articles"))
	require.NoError(t, store.PurgeCachedCollection(ctx, "articles"))

	assert.Equal(t, []string{"collections/articles", "compiled/articles"}, store.Purged())
}

func TestStoreCheckAttribute(t *testing.T) {
	limits := engine.DefaultStoreLimits()
	limits.MaxAttributesPerCollection = 2
	limits.MaxStringSize = 100
	store := NewStore(limits)
	ctx := context.Background()

	collection := &schema.Collection{ID: "articles", InternalID: 1}

	require.NoError(t, store.CreateDocument(ctx, engine.NamespaceAttributes, "1_a", schema.Document{
		"$id": "1_a", "collectionInternalId": int64(1),
	}))

	err := store.CheckAttribute(ctx, collection, &schema.Attribute{ID: "1_a", Key: "a"})
	assert.ErrorIs(t, err, engine.ErrStoreDuplicate)

	err = store.CheckAttribute(ctx, collection, &schema.Attribute{
		ID: "1_b", Key: "b", Type: schema.TypeString, Size: 1000,
	})
	assert.ErrorIs(t, err, engine.ErrStoreLimitExceeded, "string width above the cap")

	require.NoError(t, store.CheckAttribute(ctx, collection, &schema.Attribute{
		ID: "1_b", Key: "b", Type: schema.TypeString, Size: 50,
	}))

	require.NoError(t, store.CreateDocument(ctx, engine.NamespaceAttributes, "1_b", schema.Document{
		"$id": "1_b", "collectionInternalId": int64(1),
	}))

	err = store.CheckAttribute(ctx, collection, &schema.Attribute{
		ID: "1_c", Key: "c", Type: schema.TypeString, Size: 50,
	})
	assert.ErrorIs(t, err, engine.ErrStoreLimitExceeded, "per-collection attribute cap")
}

func TestStoreUpdateAttributeMeta(t *testing.T) {
	store := NewStore(engine.StoreLimits{})
	ctx := context.Background()
	collection := &schema.Collection{ID: "articles", InternalID: 1}

	require.NoError(t, store.CreateDocument(ctx, engine.NamespaceAttributes, "1_title", schema.Document{
		"$id": "1_title", "size": int64(128), "type": "string",
	}))

	grow := &schema.Attribute{ID: "1_title", Type: schema.TypeString, Size: 256}
	assert.NoError(t, store.UpdateAttributeMeta(ctx, collection, grow))

	shrink := &schema.Attribute{ID: "1_title", Type: schema.TypeString, Size: 64}
	assert.ErrorIs(t, store.UpdateAttributeMeta(ctx, collection, shrink), engine.ErrStoreTruncate)

	missing := &schema.Attribute{ID: "1_ghost", Type: schema.TypeString, Size: 64}
	assert.ErrorIs(t, store.UpdateAttributeMeta(ctx, collection, missing), engine.ErrStoreNotFound)
}

func TestStoreNextSequence(t *testing.T) {
	store := NewStore(engine.StoreLimits{})
	ctx := context.Background()

	first, err := store.NextSequence(ctx)
	require.NoError(t, err)
	second, err := store.NextSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, first+1, second)
}

func TestStoreDefaultLimits(t *testing.T) {
	store := NewStore(engine.StoreLimits{})
	assert.Equal(t, engine.DefaultStoreLimits(), store.Limits())
}
