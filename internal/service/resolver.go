package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"bitespeed/internal/database"
	"bitespeed/internal/models"
)

// maxLinkDepth bounds the link walk; clusters are flat after a merge so anything deeper is corrupt.
const maxLinkDepth = 16

// resolveRoot follows linkedId references from contactID until it reaches a primary.
// Legacy chains of secondaries are followed; cycles, dangling links and chains longer
// than maxLinkDepth fail with ErrDataIntegrity.
func (s *ReconciliationService) resolveRoot(ctx context.Context, contactID int64) (*models.Contact, error) {
	current, err := s.store.FindByID(ctx, contactID)
	if err != nil {
		return nil, fmt.Errorf("resolve root of contact %d: %w", contactID, err)
	}

	visited := map[int64]struct{}{current.ID: {}}
	for depth := 0; !current.IsPrimary(); depth++ {
		if current.LinkedID == nil {
			return nil, fmt.Errorf("%w: secondary contact %d has no linked contact", ErrDataIntegrity, current.ID)
		}
		next := *current.LinkedID
		if _, seen := visited[next]; seen {
			return nil, fmt.Errorf("%w: link cycle through contact %d", ErrDataIntegrity, next)
		}
		if depth >= maxLinkDepth {
			return nil, fmt.Errorf("%w: link chain from contact %d exceeds %d hops", ErrDataIntegrity, contactID, maxLinkDepth)
		}

		linked, err := s.store.FindByID(ctx, next)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return nil, fmt.Errorf("%w: contact %d links to missing contact %d: %w", ErrDataIntegrity, current.ID, next, err)
			}
			return nil, fmt.Errorf("resolve root of contact %d: %w", contactID, err)
		}
		visited[next] = struct{}{}
		current = linked
	}
	return current, nil
}

// resolveRoots resolves every match concurrently and returns the distinct primaries,
// oldest first (id breaks createdAt ties).
func (s *ReconciliationService) resolveRoots(ctx context.Context, matches []*models.Contact) ([]*models.Contact, error) {
	roots := make([]*models.Contact, len(matches))
	g, gctx := errgroup.WithContext(ctx)
	for i, m := range matches {
		g.Go(func() error {
			root, err := s.resolveRoot(gctx, m.ID)
			if err != nil {
				return err
			}
			roots[i] = root
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	unique := make(map[int64]*models.Contact, len(roots))
	for _, r := range roots {
		unique[r.ID] = r
	}
	primaries := make([]*models.Contact, 0, len(unique))
	for _, r := range unique {
		primaries = append(primaries, r)
	}
	sort.Slice(primaries, func(i, j int) bool {
		if primaries[i].CreatedAt.Equal(primaries[j].CreatedAt) {
			return primaries[i].ID < primaries[j].ID
		}
		return primaries[i].CreatedAt.Before(primaries[j].CreatedAt)
	})
	return primaries, nil
}
