package engine

import (
	"context"
	"time"

	"github.com/asaidimu/go-sarufi/core/schema"
	"go.uber.org/zap"
)

// ReconcileStale re-enqueues migration jobs for attributes and indexes that
// have been sitting in pending or deleting longer than olderThan. A document
// ends up orphaned like this when the enqueue failed after the metadata
// commit, or when the worker lost the job. Re-enqueueing is safe because
// delivery is at-least-once and the worker's transitions are idempotent.
// Returns the number of jobs re-enqueued.
func (e *Engine) ReconcileStale(ctx context.Context, project Project, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	total := 0

	for _, status := range []schema.Status{schema.StatusPending, schema.StatusDeleting} {
		n, err := e.reconcileAttributes(ctx, project, status, cutoff)
		if err != nil {
			return total, err
		}
		total += n

		n, err = e.reconcileIndexes(ctx, project, status, cutoff)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (e *Engine) reconcileAttributes(ctx context.Context, project Project, status schema.Status, cutoff time.Time) (int, error) {
	docs, err := e.store.Find(ctx, NamespaceAttributes, []Filter{{Field: "status", Value: string(status)}}, 0)
	if err != nil {
		return 0, WrapError(ErrInternal, err, "failed to scan %s attributes", status)
	}

	jobName := JobCreateAttribute
	if status == schema.StatusDeleting {
		jobName = JobDeleteAttribute
	}

	count := 0
	for _, doc := range docs {
		if !staleSince(doc, cutoff) {
			continue
		}
		attr, err := documentToAttribute(doc)
		if err != nil {
			return count, WrapError(ErrInternal, err, "failed to decode stale attribute")
		}
		collection, err := e.fetchCollection(ctx, attr.CollectionID)
		if err != nil {
			if IsKind(err, ErrCollectionNotFound) {
				e.logger.Warn("stale attribute references missing collection",
					zap.String("attribute", attr.ID), zap.String("collection", attr.CollectionID))
				continue
			}
			return count, err
		}
		job := newJob(jobName, project, collection)
		job.Attribute = attr
		if err := e.enqueue(ctx, job); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (e *Engine) reconcileIndexes(ctx context.Context, project Project, status schema.Status, cutoff time.Time) (int, error) {
	docs, err := e.store.Find(ctx, NamespaceIndexes, []Filter{{Field: "status", Value: string(status)}}, 0)
	if err != nil {
		return 0, WrapError(ErrInternal, err, "failed to scan %s indexes", status)
	}

	jobName := JobCreateIndex
	if status == schema.StatusDeleting {
		jobName = JobDeleteIndex
	}

	count := 0
	for _, doc := range docs {
		if !staleSince(doc, cutoff) {
			continue
		}
		index, err := documentToIndex(doc)
		if err != nil {
			return count, WrapError(ErrInternal, err, "failed to decode stale index")
		}
		collection, err := e.fetchCollection(ctx, index.CollectionID)
		if err != nil {
			if IsKind(err, ErrCollectionNotFound) {
				e.logger.Warn("stale index references missing collection",
					zap.String("index", index.ID), zap.String("collection", index.CollectionID))
				continue
			}
			return count, err
		}
		job := newJob(jobName, project, collection)
		job.Index = index
		if err := e.enqueue(ctx, job); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// staleSince reads the store-maintained update timestamp from the document.
// Documents without one are treated as stale so they are never stranded.
func staleSince(doc schema.Document, cutoff time.Time) bool {
	raw, ok := doc["$updatedAt"].(string)
	if !ok {
		return true
	}
	updated, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return true
	}
	return updated.Before(cutoff)
}
