package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/asaidimu/go-sarufi/core/engine"
	"github.com/asaidimu/go-sarufi/core/schema"
	"github.com/asaidimu/go-sarufi/sqlite"
	"github.com/asaidimu/go-sarufi/utils"
	"github.com/asaidimu/go-sarufi/worker"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const dbFileName = "schema.db"

func main() {
	// Start fresh so the demo is repeatable.
	if err := os.Remove(dbFileName); err != nil && !os.IsNotExist(err) {
		log.Fatalf("Failed to remove existing database file %s: %v", dbFileName, err)
	}

	db, err := sql.Open("sqlite3", dbFileName)
	if err != nil {
		log.Fatalf("Failed to open database connection: %v", err)
	}
	defer db.Close()

	store, err := sqlite.NewStore(db, nil, nil)
	if err != nil {
		log.Fatalf("Failed to initialize metadata store: %v", err)
	}
	queue, err := sqlite.NewQueue(db, nil)
	if err != nil {
		log.Fatalf("Failed to initialize job queue: %v", err)
	}
	eng, err := engine.New(store, queue, nil)
	if err != nil {
		log.Fatalf("Failed to initialize engine: %v", err)
	}

	ctx := context.Background()
	project := engine.Project{ID: "demo", Schema: "main"}

	// Create two collections and wire a two-way relationship between them.
	articles, err := eng.Collections().Create(ctx, project, engine.CollectionCreate{
		ID:      "articles",
		Name:    "Articles",
		Enabled: true,
		Permissions: []string{
			`read("any")`,
			`create("users")`,
		},
	})
	if err != nil {
		log.Fatalf("Failed to create collection: %v", err)
	}
	fmt.Printf("Created collection %s (sequence %d)\n", articles.ID, articles.InternalID)

	if _, err := eng.Collections().Create(ctx, project, engine.CollectionCreate{
		ID: "authors", Name: "Authors", Enabled: true,
	}); err != nil {
		log.Fatalf("Failed to create collection: %v", err)
	}

	title := &schema.Attribute{Key: "title", Type: schema.TypeString, Size: 256, Required: true}
	if _, err := eng.Attributes().Create(ctx, project, "articles", title); err != nil {
		log.Fatalf("Failed to create attribute: %v", err)
	}
	fmt.Printf("Attribute %s created in state %s\n", title.Key, title.Status)

	author := &schema.Attribute{Key: "author", Type: schema.TypeRelationship}
	author.SetRelationship(schema.RelationshipOptions{
		RelatedCollection: "authors",
		RelationType:      schema.RelationManyToOne,
		TwoWay:            true,
		TwoWayKey:         "articles",
		OnDelete:          schema.OnDeleteRestrict,
	})
	if _, err := eng.Attributes().Create(ctx, project, "articles", author); err != nil {
		log.Fatalf("Failed to create relationship: %v", err)
	}
	fmt.Println("Two-way relationship articles.author <-> authors.articles created")

	// Drain the queue: the worker flips pending members to available.
	w, err := worker.New(store, queue, worker.NopApplier{}, nil)
	if err != nil {
		log.Fatalf("Failed to initialize worker: %v", err)
	}
	for {
		processed, err := w.RunOnce(ctx)
		if err != nil {
			log.Fatalf("Worker failed: %v", err)
		}
		if !processed {
			break
		}
	}

	// Indexes require their attributes to be available, which they now are.
	if _, err := eng.Indexes().Create(ctx, project, "articles", &schema.Index{
		Key:        "idx_title",
		Type:       schema.IndexKey,
		Attributes: []string{"title"},
		Orders:     []string{"ASC"},
	}); err != nil {
		log.Fatalf("Failed to create index: %v", err)
	}

	hydrated, err := eng.Collections().Get(ctx, "articles")
	if err != nil {
		log.Fatalf("Failed to read collection: %v", err)
	}
	for _, attr := range hydrated.Attributes {
		fmt.Printf("  attribute %-8s %-13s %s\n", attr.Key, attr.Type, attr.Status)
	}
	for _, index := range hydrated.Indexes {
		fmt.Printf("  index     %-8s %-13s %s\n", index.Key, index.Type, index.Status)
	}

	// Renaming an available attribute keeps its deterministic id in sync.
	renamed, err := eng.Attributes().Update(ctx, project, "articles", "title", engine.AttributeUpdate{
		Type:   schema.TypeString,
		NewKey: utils.Ptr("headline"),
	})
	if err != nil {
		log.Fatalf("Failed to rename attribute: %v", err)
	}
	fmt.Printf("Renamed title -> %s (id %s)\n", renamed.Key, renamed.ID)
}
