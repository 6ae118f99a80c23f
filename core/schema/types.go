// Package schema defines the metadata model for collections, attributes and
// indexes, together with the pure validation rules that govern them. It has no
// knowledge of storage or queues; orchestration lives in core/engine.
package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the lifecycle state shared by attributes and indexes. The engine
// only ever writes StatusPending or StatusDeleting; transitions out of those
// states are owned by the migration worker.
type Status string

const (
	StatusPending   Status = "pending"   // metadata written, physical change not yet applied
	StatusAvailable Status = "available" // physical change applied, usable
	StatusDeleting  Status = "deleting"  // delete requested, physical teardown outstanding
	StatusStuck     Status = "stuck"     // physical teardown failed
	StatusFailed    Status = "failed"    // physical creation failed
)

// WorkerTransitionAllowed reports whether the external migration worker may
// move an object from one status to another. The engine itself never performs
// these transitions.
func WorkerTransitionAllowed(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusAvailable || to == StatusFailed
	case StatusDeleting:
		return to == StatusStuck
	}
	return false
}

// AttributeType is the base type of an attribute.
type AttributeType string

const (
	TypeString       AttributeType = "string"
	TypeInteger      AttributeType = "integer"
	TypeFloat        AttributeType = "double"
	TypeBoolean      AttributeType = "boolean"
	TypeDatetime     AttributeType = "datetime"
	TypeRelationship AttributeType = "relationship"
)

// Format is a semantic refinement of a base attribute type.
type Format string

const (
	FormatEmail Format = "email"
	FormatEnum  Format = "enum"
	FormatIP    Format = "ip"
	FormatURL   Format = "url"
	// Range formats narrow a numeric type to explicit min/max bounds.
	FormatIntRange   Format = "integer"
	FormatFloatRange Format = "float"
)

// formatCompatibility maps each format to the base type it may refine.
var formatCompatibility = map[Format]AttributeType{
	FormatEmail:      TypeString,
	FormatEnum:       TypeString,
	FormatIP:         TypeString,
	FormatURL:        TypeString,
	FormatIntRange:   TypeInteger,
	FormatFloatRange: TypeFloat,
}

// FormatSupported reports whether a format is valid for the given base type.
// An empty format is always valid.
func FormatSupported(t AttributeType, f Format) bool {
	if f == "" {
		return true
	}
	base, ok := formatCompatibility[f]
	return ok && base == t
}

// IndexType is the kind of secondary index.
type IndexType string

const (
	IndexKey      IndexType = "key"
	IndexUnique   IndexType = "unique"
	IndexFulltext IndexType = "fulltext"
)

// RelationType describes the cardinality of a relationship attribute.
type RelationType string

const (
	RelationOneToOne   RelationType = "oneToOne"
	RelationOneToMany  RelationType = "oneToMany"
	RelationManyToOne  RelationType = "manyToOne"
	RelationManyToMany RelationType = "manyToMany"
)

// OnDelete is the referential action applied when a related document is deleted.
type OnDelete string

const (
	OnDeleteRestrict OnDelete = "restrict"
	OnDeleteCascade  OnDelete = "cascade"
	OnDeleteSetNull  OnDelete = "setNull"
)

// Side distinguishes the attribute that triggered a relationship's creation
// from the mirror attribute created on the related collection.
type Side string

const (
	SideParent Side = "parent"
	SideChild  Side = "child"
)

// Document is the generic map form all metadata travels in at the store
// boundary. Typed structs are the working representation inside the engine.
type Document map[string]any

// Collection is the top-level schema container. InternalID is a
// sequence-generated numeric id used to namespace attribute and index ids.
type Collection struct {
	ID               string       `json:"$id"`
	InternalID       int64        `json:"$sequence"`
	Name             string       `json:"name"`
	Permissions      []string     `json:"$permissions"`
	DocumentSecurity bool         `json:"documentSecurity"`
	Enabled          bool         `json:"enabled"`
	SearchText       string       `json:"search"`
	Attributes       []*Attribute `json:"attributes,omitempty"`
	Indexes          []*Index     `json:"indexes,omitempty"`
	CreatedAt        time.Time    `json:"$createdAt,omitempty"`
	UpdatedAt        time.Time    `json:"$updatedAt,omitempty"`
}

// Attribute is a single field definition on a collection. Known fields are
// typed; format- and relationship-specific settings live in the explicit
// FormatOptions and Options bags with typed accessors below.
type Attribute struct {
	ID                   string         `json:"$id"`
	Key                  string         `json:"key"`
	CollectionInternalID int64          `json:"collectionInternalId"`
	CollectionID         string         `json:"collectionId"`
	Type                 AttributeType  `json:"type"`
	Status               Status         `json:"status"`
	Error                string         `json:"error,omitempty"`
	Size                 int64          `json:"size"`
	Required             bool           `json:"required"`
	Array                bool           `json:"array"`
	Default              any            `json:"default,omitempty"`
	Format               Format         `json:"format,omitempty"`
	FormatOptions        map[string]any `json:"formatOptions,omitempty"`
	Filters              []string       `json:"filters,omitempty"`
	Options              map[string]any `json:"options,omitempty"`
}

// RelationshipOptions is the typed view over the Options bag of a
// relationship attribute.
type RelationshipOptions struct {
	RelatedCollection string       `json:"relatedCollection"`
	RelationType      RelationType `json:"relationType"`
	TwoWay            bool         `json:"twoWay"`
	TwoWayKey         string       `json:"twoWayKey"`
	OnDelete          OnDelete     `json:"onDelete"`
	Side              Side         `json:"side"`
}

// Relationship decodes the Options bag into RelationshipOptions. The second
// return value is false when the attribute is not a relationship or the bag
// cannot be decoded.
func (a *Attribute) Relationship() (RelationshipOptions, bool) {
	if a.Type != TypeRelationship || a.Options == nil {
		return RelationshipOptions{}, false
	}
	raw, err := json.Marshal(a.Options)
	if err != nil {
		return RelationshipOptions{}, false
	}
	var opts RelationshipOptions
	if err := json.Unmarshal(raw, &opts); err != nil {
		return RelationshipOptions{}, false
	}
	return opts, opts.RelatedCollection != ""
}

// SetRelationship stores the typed options back into the Options bag.
func (a *Attribute) SetRelationship(opts RelationshipOptions) {
	a.Options = map[string]any{
		"relatedCollection": opts.RelatedCollection,
		"relationType":      string(opts.RelationType),
		"twoWay":            opts.TwoWay,
		"twoWayKey":         opts.TwoWayKey,
		"onDelete":          string(opts.OnDelete),
		"side":              string(opts.Side),
	}
}

// RangeMin returns the numeric lower bound from FormatOptions, if present.
func (a *Attribute) RangeMin() (float64, bool) { return a.formatNumber("min") }

// RangeMax returns the numeric upper bound from FormatOptions, if present.
func (a *Attribute) RangeMax() (float64, bool) { return a.formatNumber("max") }

func (a *Attribute) formatNumber(key string) (float64, bool) {
	if a.FormatOptions == nil {
		return 0, false
	}
	switch v := a.FormatOptions[key].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

// Elements returns the enum element list from FormatOptions.
func (a *Attribute) Elements() []string {
	if a.FormatOptions == nil {
		return nil
	}
	switch v := a.FormatOptions["elements"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil
			}
			out = append(out, s)
		}
		return out
	}
	return nil
}

// Index is a secondary index definition. Orders holds one entry per indexed
// attribute; the empty string is the no-order sentinel (the flat-string
// stand-in for a null order) and is forced for array-typed attributes, whose
// index entries cannot carry a direction.
type Index struct {
	ID                   string    `json:"$id"`
	Key                  string    `json:"key"`
	CollectionInternalID int64     `json:"collectionInternalId"`
	CollectionID         string    `json:"collectionId"`
	Type                 IndexType `json:"type"`
	Status               Status    `json:"status"`
	Error                string    `json:"error,omitempty"`
	Attributes           []string  `json:"attributes"`
	Orders               []string  `json:"orders"`
}

// Attribute looks up an attribute by key on a hydrated collection.
func (c *Collection) Attribute(key string) *Attribute {
	for _, a := range c.Attributes {
		if a.Key == key {
			return a
		}
	}
	return nil
}

// Index looks up an index by key on a hydrated collection.
func (c *Collection) IndexByKey(key string) *Index {
	for _, i := range c.Indexes {
		if i.Key == key {
			return i
		}
	}
	return nil
}

func (s Status) String() string { return string(s) }

func (a *Attribute) String() string {
	return fmt.Sprintf("%s/%s (%s, %s)", a.CollectionID, a.Key, a.Type, a.Status)
}
