package engine

import (
	"context"
	"time"

	"github.com/asaidimu/go-sarufi/core/schema"
	"github.com/google/uuid"
)

// JobName identifies the physical change a queue job describes.
type JobName string

const (
	JobCreateAttribute  JobName = "CREATE_ATTRIBUTE"
	JobDeleteAttribute  JobName = "DELETE_ATTRIBUTE"
	JobCreateIndex      JobName = "CREATE_INDEX"
	JobDeleteIndex      JobName = "DELETE_INDEX"
	JobDeleteCollection JobName = "DELETE_COLLECTION"
)

// Job is the payload enqueued for the external migration worker. Collection
// is always a snapshot of the collection at enqueue time; Attribute and Index
// are set for the respective job names only.
type Job struct {
	ID         string             `json:"$id"`
	Name       JobName            `json:"name"`
	Schema     string             `json:"schema"`
	Project    string             `json:"project"`
	Collection *schema.Collection `json:"collection"`
	Attribute  *schema.Attribute  `json:"attribute,omitempty"`
	Index      *schema.Index      `json:"index,omitempty"`
	EnqueuedAt time.Time          `json:"enqueuedAt"`
}

// SchemaChangeQueue is the durable, at-least-once work queue the engine
// produces on. The consumer side lives in the worker package.
type SchemaChangeQueue interface {
	Enqueue(ctx context.Context, job *Job) error
}

func newJob(name JobName, project Project, collection *schema.Collection) *Job {
	return &Job{
		ID:         uuid.New().String(),
		Name:       name,
		Schema:     project.Schema,
		Project:    project.ID,
		Collection: collection,
		EnqueuedAt: time.Now().UTC(),
	}
}
