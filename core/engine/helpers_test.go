package engine_test

import (
	"context"
	"sync"
	"testing"

	"github.com/asaidimu/go-sarufi/core/engine"
	"github.com/asaidimu/go-sarufi/core/schema"
	"github.com/asaidimu/go-sarufi/memory"
	"github.com/stretchr/testify/require"
)

var testProject = engine.Project{ID: "project-1", Schema: "main"}

// recordQueue captures enqueued jobs for inspection. Setting fail makes the
// next Enqueue return that error once.
type recordQueue struct {
	mu   sync.Mutex
	jobs []*engine.Job
	fail error
}

func (q *recordQueue) Enqueue(ctx context.Context, job *engine.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail != nil {
		err := q.fail
		q.fail = nil
		return err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordQueue) all() []*engine.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*engine.Job(nil), q.jobs...)
}

func (q *recordQueue) last() *engine.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return nil
	}
	return q.jobs[len(q.jobs)-1]
}

func (q *recordQueue) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = nil
}

func newTestEngine(t *testing.T) (*engine.Engine, *memory.Store, *recordQueue) {
	t.Helper()
	store := memory.NewStore(engine.StoreLimits{})
	queue := &recordQueue{}
	e, err := engine.New(store, queue, nil)
	require.NoError(t, err)
	return e, store, queue
}

func createCollection(t *testing.T, e *engine.Engine, id, name string) *schema.Collection {
	t.Helper()
	collection, err := e.Collections().Create(context.Background(), testProject, engine.CollectionCreate{
		ID:      id,
		Name:    name,
		Enabled: true,
	})
	require.NoError(t, err)
	return collection
}

// makeAvailable flips a stored attribute or index to available, standing in
// for the migration worker's success transition.
func makeAvailable(t *testing.T, store *memory.Store, namespace, id string) {
	t.Helper()
	ctx := context.Background()
	doc, err := store.GetDocument(ctx, namespace, id)
	require.NoError(t, err)
	doc["status"] = string(schema.StatusAvailable)
	require.NoError(t, store.UpdateDocument(ctx, namespace, id, doc))
}
