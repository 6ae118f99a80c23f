// Package worker consumes schema change jobs and applies the status
// transition protocol: pending attributes and indexes become available (or
// failed), deleting ones are removed from metadata (or marked stuck), the
// mirror side of a two-way relationship settles together with its primary,
// and a deleted collection's children are swept. The actual DDL is delegated
// to an injected PhysicalApplier; everything else here is the protocol itself.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/asaidimu/go-sarufi/core/engine"
	"github.com/asaidimu/go-sarufi/core/schema"
	"go.uber.org/zap"
)

// Consumer is the receive side of the schema change queue.
type Consumer interface {
	// Dequeue leases the next job, returning (nil, nil) when empty.
	Dequeue(ctx context.Context) (*engine.Job, error)
	Ack(ctx context.Context, jobID string) error
	Nack(ctx context.Context, jobID string) error
}

// PhysicalApplier performs the actual storage change a job describes.
// Implementations sit in front of the physical adapter; they must be
// idempotent because delivery is at-least-once.
type PhysicalApplier interface {
	CreateAttribute(ctx context.Context, job *engine.Job) error
	DeleteAttribute(ctx context.Context, job *engine.Job) error
	CreateIndex(ctx context.Context, job *engine.Job) error
	DeleteIndex(ctx context.Context, job *engine.Job) error
	DeleteCollection(ctx context.Context, job *engine.Job) error
}

// NopApplier applies nothing. Useful for embedders whose physical storage is
// schemaless and for tests.
type NopApplier struct{}

func (NopApplier) CreateAttribute(ctx context.Context, job *engine.Job) error  { return nil }
func (NopApplier) DeleteAttribute(ctx context.Context, job *engine.Job) error  { return nil }
func (NopApplier) CreateIndex(ctx context.Context, job *engine.Job) error      { return nil }
func (NopApplier) DeleteIndex(ctx context.Context, job *engine.Job) error      { return nil }
func (NopApplier) DeleteCollection(ctx context.Context, job *engine.Job) error { return nil }

// Options configure a Worker.
type Options struct {
	// PollInterval is the sleep between polls of an empty queue.
	// Defaults to one second.
	PollInterval time.Duration
	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
}

// Worker drains the queue until its context is cancelled.
type Worker struct {
	store    engine.MetadataStore
	consumer Consumer
	applier  PhysicalApplier
	interval time.Duration
	logger   *zap.Logger
}

// New creates a Worker.
func New(store engine.MetadataStore, consumer Consumer, applier PhysicalApplier, opts *Options) (*Worker, error) {
	if store == nil || consumer == nil || applier == nil {
		return nil, fmt.Errorf("worker requires a store, a consumer and an applier")
	}
	interval := time.Second
	logger := zap.NewNop()
	if opts != nil {
		if opts.PollInterval > 0 {
			interval = opts.PollInterval
		}
		if opts.Logger != nil {
			logger = opts.Logger
		}
	}
	return &Worker{store: store, consumer: consumer, applier: applier, interval: interval, logger: logger}, nil
}

// Run polls the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		processed, err := w.RunOnce(ctx)
		if err != nil {
			return err
		}
		if !processed {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.interval):
			}
		}
	}
}

// RunOnce processes at most one job. It reports whether a job was seen.
// Applier failures are terminal for the job: the outcome is recorded on the
// status document and the job is acked. Metadata write failures nack the job
// for redelivery.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.consumer.Dequeue(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to dequeue: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.process(ctx, job); err != nil {
		w.logger.Error("job processing failed, returning to queue",
			zap.String("job", job.ID), zap.String("name", string(job.Name)), zap.Error(err))
		if nackErr := w.consumer.Nack(ctx, job.ID); nackErr != nil {
			return true, fmt.Errorf("failed to nack job %s: %w", job.ID, nackErr)
		}
		return true, nil
	}

	if err := w.consumer.Ack(ctx, job.ID); err != nil {
		return true, fmt.Errorf("failed to ack job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) process(ctx context.Context, job *engine.Job) error {
	switch job.Name {
	case engine.JobCreateAttribute:
		if err := w.settleCreate(ctx, job, engine.NamespaceAttributes, job.Attribute.ID,
			w.applier.CreateAttribute); err != nil {
			return err
		}
		return w.settleMirror(ctx, job)
	case engine.JobDeleteAttribute:
		if err := w.settleDelete(ctx, job, engine.NamespaceAttributes, job.Attribute.ID,
			w.applier.DeleteAttribute); err != nil {
			return err
		}
		return w.settleMirror(ctx, job)
	case engine.JobCreateIndex:
		return w.settleCreate(ctx, job, engine.NamespaceIndexes, job.Index.ID,
			w.applier.CreateIndex)
	case engine.JobDeleteIndex:
		return w.settleDelete(ctx, job, engine.NamespaceIndexes, job.Index.ID,
			w.applier.DeleteIndex)
	case engine.JobDeleteCollection:
		return w.deleteCollection(ctx, job)
	default:
		w.logger.Warn("unknown job name, dropping", zap.String("name", string(job.Name)))
		return nil
	}
}

// settleCreate applies the physical creation and moves the status document
// from pending to available, or to failed with the applier's error recorded.
func (w *Worker) settleCreate(ctx context.Context, job *engine.Job, namespace, id string, apply func(context.Context, *engine.Job) error) error {
	doc, err := w.store.GetDocument(ctx, namespace, id)
	if err != nil {
		if errors.Is(err, engine.ErrStoreNotFound) {
			// Deleted between enqueue and processing; nothing to settle.
			return nil
		}
		return err
	}
	if status, _ := doc["status"].(string); status != string(schema.StatusPending) {
		return nil
	}

	if applyErr := apply(ctx, job); applyErr != nil {
		doc["status"] = string(schema.StatusFailed)
		doc["error"] = applyErr.Error()
		w.logger.Warn("physical creation failed",
			zap.String("id", id), zap.Error(applyErr))
	} else {
		doc["status"] = string(schema.StatusAvailable)
		delete(doc, "error")
	}

	if err := w.store.UpdateDocument(ctx, namespace, id, doc); err != nil {
		return err
	}
	return w.purge(ctx, job)
}

// settleDelete applies the physical teardown and removes the status
// document, or marks it stuck when the teardown fails.
func (w *Worker) settleDelete(ctx context.Context, job *engine.Job, namespace, id string, apply func(context.Context, *engine.Job) error) error {
	if applyErr := apply(ctx, job); applyErr != nil {
		doc, err := w.store.GetDocument(ctx, namespace, id)
		if err != nil {
			if errors.Is(err, engine.ErrStoreNotFound) {
				return nil
			}
			return err
		}
		doc["status"] = string(schema.StatusStuck)
		doc["error"] = applyErr.Error()
		w.logger.Warn("physical teardown failed",
			zap.String("id", id), zap.Error(applyErr))
		if err := w.store.UpdateDocument(ctx, namespace, id, doc); err != nil {
			return err
		}
		return w.purge(ctx, job)
	}

	if err := w.store.DeleteDocument(ctx, namespace, id); err != nil && !errors.Is(err, engine.ErrStoreNotFound) {
		return err
	}
	return w.purge(ctx, job)
}

// settleMirror carries the primary's settlement over to the mirror document
// of a two-way relationship. The pair shares one job, so without this the
// mirror would be stranded in pending or deleting after the queue drains.
func (w *Worker) settleMirror(ctx context.Context, job *engine.Job) error {
	opts, ok := job.Attribute.Relationship()
	if !ok || !opts.TwoWay {
		return nil
	}

	mirrorID, err := w.mirrorID(ctx, opts)
	if err != nil || mirrorID == "" {
		return err
	}

	primary, err := w.store.GetDocument(ctx, engine.NamespaceAttributes, job.Attribute.ID)
	primaryGone := errors.Is(err, engine.ErrStoreNotFound)
	if err != nil && !primaryGone {
		return err
	}

	mirror, err := w.store.GetDocument(ctx, engine.NamespaceAttributes, mirrorID)
	if errors.Is(err, engine.ErrStoreNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	switch job.Name {
	case engine.JobCreateAttribute:
		// A vanished primary means a delete raced in; its job settles the pair.
		if primaryGone {
			return nil
		}
		if status, _ := mirror["status"].(string); status != string(schema.StatusPending) {
			return nil
		}
		mirror["status"] = primary["status"]
		if msg, ok := primary["error"]; ok {
			mirror["error"] = msg
		} else {
			delete(mirror, "error")
		}
		if err := w.store.UpdateDocument(ctx, engine.NamespaceAttributes, mirrorID, mirror); err != nil {
			return err
		}
	case engine.JobDeleteAttribute:
		if primaryGone {
			if err := w.store.DeleteDocument(ctx, engine.NamespaceAttributes, mirrorID); err != nil && !errors.Is(err, engine.ErrStoreNotFound) {
				return err
			}
		} else if status, _ := primary["status"].(string); status == string(schema.StatusStuck) {
			mirror["status"] = string(schema.StatusStuck)
			if msg, ok := primary["error"]; ok {
				mirror["error"] = msg
			}
			if err := w.store.UpdateDocument(ctx, engine.NamespaceAttributes, mirrorID, mirror); err != nil {
				return err
			}
		} else {
			return nil
		}
	}

	if err := w.store.PurgeCachedDocument(ctx, engine.NamespaceCollections, opts.RelatedCollection); err != nil {
		return err
	}
	return w.store.PurgeCachedCollection(ctx, opts.RelatedCollection)
}

// mirrorID resolves the mirror attribute's deterministic id through the
// related collection's sequence. Empty when the related collection is gone.
func (w *Worker) mirrorID(ctx context.Context, opts schema.RelationshipOptions) (string, error) {
	doc, err := w.store.GetDocument(ctx, engine.NamespaceCollections, opts.RelatedCollection)
	if errors.Is(err, engine.ErrStoreNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	switch seq := doc["$sequence"].(type) {
	case int64:
		return schema.MemberID(seq, opts.TwoWayKey), nil
	case float64:
		return schema.MemberID(int64(seq), opts.TwoWayKey), nil
	}
	return "", nil
}

// deleteCollection tears down the physical collection and sweeps all child
// attribute and index documents. The collection document itself was already
// removed by the engine.
func (w *Worker) deleteCollection(ctx context.Context, job *engine.Job) error {
	if err := w.applier.DeleteCollection(ctx, job); err != nil {
		// No status document left to record the failure on; redeliver.
		return fmt.Errorf("physical collection teardown failed: %w", err)
	}

	filters := []engine.Filter{{Field: "collectionInternalId", Value: job.Collection.InternalID}}
	for _, namespace := range []string{engine.NamespaceAttributes, engine.NamespaceIndexes} {
		docs, err := w.store.Find(ctx, namespace, filters, 0)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			id, _ := doc["$id"].(string)
			if id == "" {
				continue
			}
			if err := w.store.DeleteDocument(ctx, namespace, id); err != nil && !errors.Is(err, engine.ErrStoreNotFound) {
				return err
			}
		}
	}
	return w.purge(ctx, job)
}

func (w *Worker) purge(ctx context.Context, job *engine.Job) error {
	if err := w.store.PurgeCachedDocument(ctx, engine.NamespaceCollections, job.Collection.ID); err != nil {
		return err
	}
	return w.store.PurgeCachedCollection(ctx, job.Collection.ID)
}
