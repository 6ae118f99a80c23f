package engine

import (
	"fmt"

	"github.com/asaidimu/go-sarufi/core/schema"
	"github.com/asaidimu/go-sarufi/utils"
)

// Conversions between the typed model and the map documents the store speaks.
// These are thin wrappers over the shared JSON round-trip helpers so the
// store sees exactly the wire shape of each struct.

func attributeToDocument(a *schema.Attribute) (schema.Document, error) {
	doc, err := utils.StructToMap(a)
	if err != nil {
		return nil, fmt.Errorf("failed to encode attribute %q: %w", a.Key, err)
	}
	return doc, nil
}

func documentToAttribute(doc schema.Document) (*schema.Attribute, error) {
	a, err := utils.MapToStruct[schema.Attribute](doc)
	if err != nil {
		return nil, fmt.Errorf("failed to decode attribute document: %w", err)
	}
	return &a, nil
}

func indexToDocument(i *schema.Index) (schema.Document, error) {
	doc, err := utils.StructToMap(i)
	if err != nil {
		return nil, fmt.Errorf("failed to encode index %q: %w", i.Key, err)
	}
	return doc, nil
}

func documentToIndex(doc schema.Document) (*schema.Index, error) {
	i, err := utils.MapToStruct[schema.Index](doc)
	if err != nil {
		return nil, fmt.Errorf("failed to decode index document: %w", err)
	}
	return &i, nil
}

func collectionToDocument(c *schema.Collection) (schema.Document, error) {
	// Attributes and indexes live in their own namespaces; the collection
	// document stores only the collection's own fields.
	flat := *c
	flat.Attributes = nil
	flat.Indexes = nil
	doc, err := utils.StructToMap(&flat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode collection %q: %w", c.ID, err)
	}
	return doc, nil
}

func documentToCollection(doc schema.Document) (*schema.Collection, error) {
	c, err := utils.MapToStruct[schema.Collection](doc)
	if err != nil {
		return nil, fmt.Errorf("failed to decode collection document: %w", err)
	}
	return &c, nil
}
