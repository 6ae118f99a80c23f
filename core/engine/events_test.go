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

func waitForEvent(t *testing.T, ch <-chan engine.SchemaEvent) engine.SchemaEvent {
	t.Helper()
	select {
	case event := <-ch:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for schema event")
		return engine.SchemaEvent{}
	}
}

func TestSchemaEvents(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	createCollection(t, e, "articles", "Articles")

	success := make(chan engine.SchemaEvent, 1)
	failed := make(chan engine.SchemaEvent, 1)

	e.Subscribe(engine.AttributeCreateSuccess, func(ctx context.Context, event engine.SchemaEvent) error {
		success <- event
		return nil
	}, nil, nil)
	e.Subscribe(engine.AttributeCreateFailed, func(ctx context.Context, event engine.SchemaEvent) error {
		failed <- event
		return nil
	}, nil, nil)

	_, err := e.Attributes().Create(ctx, testProject, "articles", &schema.Attribute{
		Key: "title", Type: schema.TypeString, Size: 128,
	})
	require.NoError(t, err)

	event := waitForEvent(t, success)
	assert.Equal(t, engine.AttributeCreateSuccess, event.Type)
	assert.Equal(t, testProject.ID, event.Project)
	assert.Equal(t, "articles", event.Collection)
	assert.Equal(t, "title", event.Member)
	assert.Empty(t, event.Error)

	_, err = e.Attributes().Create(ctx, testProject, "ghost", &schema.Attribute{
		Key: "title", Type: schema.TypeString, Size: 128,
	})
	require.Error(t, err)

	event = waitForEvent(t, failed)
	assert.Equal(t, engine.AttributeCreateFailed, event.Type)
	assert.Equal(t, "ghost", event.Collection)
	assert.NotEmpty(t, event.Error)
}

func TestSubscriptionLifecycle(t *testing.T) {
	e, _, _ := newTestEngine(t)

	label := "audit"
	id := e.Subscribe(engine.CollectionCreateSuccess, func(ctx context.Context, event engine.SchemaEvent) error {
		return nil
	}, &label, nil)

	subs := e.Subscriptions()
	require.Len(t, subs, 1)
	assert.Equal(t, id, subs[0].ID)
	assert.Equal(t, engine.CollectionCreateSuccess, subs[0].Event)
	require.NotNil(t, subs[0].Label)
	assert.Equal(t, "audit", *subs[0].Label)

	e.Unsubscribe(id)
	assert.Empty(t, e.Subscriptions())
}
