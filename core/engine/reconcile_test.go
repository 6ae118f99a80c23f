package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/asaidimu/go-sarufi/core/engine"
	"github.com/asaidimu/go-sarufi/core/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileStaleReenqueuesPending(t *testing.T) {
	e, _, queue := newTestEngine(t)
	ctx := context.Background()
	createCollection(t, e, "articles", "Articles")

	_, err := e.Attributes().Create(ctx, testProject, "articles", &schema.Attribute{
		Key: "title", Type: schema.TypeString, Size: 128,
	})
	require.NoError(t, err)
	_, err = e.Indexes().Create(ctx, testProject, "articles", &schema.Index{
		Key: "idx_created", Attributes: []string{"$createdAt"},
	})
	require.NoError(t, err)
	queue.reset()

	// Zero threshold treats everything written before this call as stale.
	count, err := e.ReconcileStale(ctx, testProject, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	names := map[engine.JobName]int{}
	for _, job := range queue.all() {
		names[job.Name]++
	}
	assert.Equal(t, 1, names[engine.JobCreateAttribute])
	assert.Equal(t, 1, names[engine.JobCreateIndex])
}

func TestReconcileStaleRespectsThreshold(t *testing.T) {
	e, _, queue := newTestEngine(t)
	ctx := context.Background()
	createCollection(t, e, "articles", "Articles")

	_, err := e.Attributes().Create(ctx, testProject, "articles", &schema.Attribute{
		Key: "title", Type: schema.TypeString, Size: 128,
	})
	require.NoError(t, err)
	queue.reset()

	count, err := e.ReconcileStale(ctx, testProject, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, count, "freshly written documents are not stale")
	assert.Empty(t, queue.all())
}

func TestReconcileStaleDeleting(t *testing.T) {
	e, _, queue := newTestEngine(t)
	ctx := context.Background()
	createCollection(t, e, "articles", "Articles")

	_, err := e.Attributes().Create(ctx, testProject, "articles", &schema.Attribute{
		Key: "title", Type: schema.TypeString, Size: 128,
	})
	require.NoError(t, err)
	require.NoError(t, e.Attributes().Delete(ctx, testProject, "articles", "title"))
	queue.reset()

	count, err := e.ReconcileStale(ctx, testProject, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, engine.JobDeleteAttribute, queue.last().Name)
}

func TestReconcileStaleSkipsOrphans(t *testing.T) {
	e, store, queue := newTestEngine(t)
	ctx := context.Background()

	// An attribute document whose collection no longer exists must not stall
	// the sweep.
	require.NoError(t, store.CreateDocument(ctx, engine.NamespaceAttributes, "9_orphan", schema.Document{
		"$id":                  "9_orphan",
		"key":                  "orphan",
		"type":                 string(schema.TypeString),
		"status":               string(schema.StatusPending),
		"collectionId":         "ghost",
		"collectionInternalId": int64(9),
	}))

	count, err := e.ReconcileStale(ctx, testProject, 0)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, queue.all())
}

func TestReconcileStaleIgnoresSettledStatuses(t *testing.T) {
	e, store, queue := newTestEngine(t)
	ctx := context.Background()
	createCollection(t, e, "articles", "Articles")

	_, err := e.Attributes().Create(ctx, testProject, "articles", &schema.Attribute{
		Key: "title", Type: schema.TypeString, Size: 128,
	})
	require.NoError(t, err)
	makeAvailable(t, store, engine.NamespaceAttributes, "1_title")
	queue.reset()

	count, err := e.ReconcileStale(ctx, testProject, 0)
	require.NoError(t, err)
	assert.Zero(t, count, "available documents need no job")
	assert.Empty(t, queue.all())
}
