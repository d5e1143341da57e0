package mapper

import (
	"context"

	"cleanloop/internal/imagestore"
)

// GriddingEngine is the external gridding/degridding engine. Grid calls
// accumulate psf+weight (dopsf) or residual+weight into the store; degrid
// calls predict from the store's model. The engine never sees the
// lifecycle ordering; the collection enforces it.
type GriddingEngine interface {
	InitializeGrid(ctx context.Context, id int, store *imagestore.ImageStore, dopsf bool) error
	Grid(ctx context.Context, id int, store *imagestore.ImageStore, dopsf bool) error
	FinalizeGrid(ctx context.Context, id int, store *imagestore.ImageStore, dopsf bool) error

	InitializeDegrid(ctx context.Context, id int, store *imagestore.ImageStore) error
	Degrid(ctx context.Context, id int, store *imagestore.ImageStore) error
	FinalizeDegrid(ctx context.Context, id int, store *imagestore.ImageStore) error
}

// Spec describes a mapper to add to a collection.
type Spec struct {
	ID     int
	Store  *imagestore.ImageStore
	Engine GriddingEngine
}
