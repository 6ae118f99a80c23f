package engine

import (
	"context"
	"sync"
	"time"

	"github.com/asaidimu/go-events"
	"github.com/google/uuid"
)

// SchemaEventType enumerates the events emitted around schema operations.
type SchemaEventType string

const (
	AttributeCreateSuccess  SchemaEventType = "attribute:create:success"
	AttributeCreateFailed   SchemaEventType = "attribute:create:failed"
	AttributeUpdateSuccess  SchemaEventType = "attribute:update:success"
	AttributeUpdateFailed   SchemaEventType = "attribute:update:failed"
	AttributeDeleteSuccess  SchemaEventType = "attribute:delete:success"
	AttributeDeleteFailed   SchemaEventType = "attribute:delete:failed"
	IndexCreateSuccess      SchemaEventType = "index:create:success"
	IndexCreateFailed       SchemaEventType = "index:create:failed"
	IndexDeleteSuccess      SchemaEventType = "index:delete:success"
	IndexDeleteFailed       SchemaEventType = "index:delete:failed"
	CollectionCreateSuccess SchemaEventType = "collection:create:success"
	CollectionCreateFailed  SchemaEventType = "collection:create:failed"
	CollectionUpdateSuccess SchemaEventType = "collection:update:success"
	CollectionUpdateFailed  SchemaEventType = "collection:update:failed"
	CollectionDeleteSuccess SchemaEventType = "collection:delete:success"
	CollectionDeleteFailed  SchemaEventType = "collection:delete:failed"
)

// SchemaEvent is the payload published on the engine's event bus.
type SchemaEvent struct {
	Type       SchemaEventType `json:"type"`
	Timestamp  int64           `json:"timestamp"`
	Project    string          `json:"project,omitempty"`
	Collection string          `json:"collection,omitempty"`
	Member     string          `json:"member,omitempty"` // attribute or index key
	Error      string          `json:"error,omitempty"`
}

// EventCallback is invoked for every event of a subscribed type.
type EventCallback func(ctx context.Context, event SchemaEvent) error

// SubscriptionInfo describes a registered event subscription.
type SubscriptionInfo struct {
	ID          string
	Event       SchemaEventType
	Label       *string
	Description *string
	unsubscribe func()
}

type eventHub struct {
	bus           *events.TypedEventBus[SchemaEvent]
	subscriptions map[string]*SubscriptionInfo
	mu            sync.RWMutex
}

func newEventHub() (*eventHub, error) {
	bus, err := events.NewTypedEventBus[SchemaEvent](events.DefaultConfig())
	if err != nil {
		return nil, err
	}
	return &eventHub{bus: bus, subscriptions: make(map[string]*SubscriptionInfo)}, nil
}

func (h *eventHub) emit(eventType SchemaEventType, project Project, collection, member string, opErr error) {
	event := SchemaEvent{
		Type:       eventType,
		Timestamp:  time.Now().UnixMilli(),
		Project:    project.ID,
		Collection: collection,
		Member:     member,
	}
	if opErr != nil {
		event.Error = opErr.Error()
	}
	h.bus.Emit(string(eventType), event)
}

func (h *eventHub) subscribe(eventType SchemaEventType, callback EventCallback, label, description *string) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	unsubscribe := h.bus.Subscribe(string(eventType), callback)
	id := uuid.New().String()
	h.subscriptions[id] = &SubscriptionInfo{
		ID:          id,
		Event:       eventType,
		Label:       label,
		Description: description,
		unsubscribe: unsubscribe,
	}
	return id
}

func (h *eventHub) unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if info, ok := h.subscriptions[id]; ok {
		info.unsubscribe()
		delete(h.subscriptions, id)
	}
}

func (h *eventHub) list() []SubscriptionInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	subs := make([]SubscriptionInfo, 0, len(h.subscriptions))
	for _, sub := range h.subscriptions {
		subs = append(subs, *sub)
	}
	return subs
}
