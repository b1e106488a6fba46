package db

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/patrickwarner/adselection/internal/logic/predicates"
	"github.com/patrickwarner/adselection/internal/models"
)

// CatalogSource is the persistent catalog, normally *Postgres.
type CatalogSource interface {
	LoadContents(ctx context.Context, marketplaceIDs ...string) ([]models.AdvertisementContent, error)
	LoadTargetingGroups(ctx context.Context) ([]models.TargetingGroupRecord, error)
}

// Catalog is one consistent read of the persistent catalog.
type Catalog struct {
	Contents []models.AdvertisementContent
	Groups   []models.TargetingGroupRecord
}

// LoadCatalog reads contents and targeting groups from src concurrently,
// compiles the predicate specs and installs the result into store. Groups
// that reference content outside the read (for example inactive content)
// are dropped. The store keeps its previous snapshot on any error.
func LoadCatalog(ctx context.Context, src CatalogSource, store models.AdDataStore) (Catalog, error) {
	var cat Catalog
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		contents, err := src.LoadContents(gctx)
		if err != nil {
			return fmt.Errorf("load contents: %w", err)
		}
		cat.Contents = contents
		return nil
	})
	g.Go(func() error {
		groups, err := src.LoadTargetingGroups(gctx)
		if err != nil {
			return fmt.Errorf("load targeting groups: %w", err)
		}
		cat.Groups = groups
		return nil
	})
	if err := g.Wait(); err != nil {
		return Catalog{}, err
	}

	known := make(map[string]struct{}, len(cat.Contents))
	for _, c := range cat.Contents {
		known[c.ContentID] = struct{}{}
	}
	kept := cat.Groups[:0]
	for _, rec := range cat.Groups {
		if _, ok := known[rec.ContentID]; ok {
			kept = append(kept, rec)
		}
	}
	cat.Groups = kept

	groups, err := predicates.BuildGroups(cat.Groups)
	if err != nil {
		return Catalog{}, err
	}
	if err := store.ReloadAll(cat.Contents, groups); err != nil {
		return Catalog{}, fmt.Errorf("install catalog: %w", err)
	}
	return cat, nil
}
