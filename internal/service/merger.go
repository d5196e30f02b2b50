package service

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"bitespeed/internal/database"
	"bitespeed/internal/models"
)

// mergeClusters repoints every member of each target cluster onto survivorID. Targets
// touch disjoint rows, so each is merged in its own atomic unit and concurrently.
func (s *ReconciliationService) mergeClusters(ctx context.Context, targets []*models.Contact, survivorID int64) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, target := range targets {
		if target.ID == survivorID {
			continue
		}
		g.Go(func() error {
			return s.mergeInto(gctx, target.ID, survivorID)
		})
	}
	return g.Wait()
}

// mergeInto demotes oldPrimaryID and moves its members, plus contacts still chained
// through those members, onto survivorID.
func (s *ReconciliationService) mergeInto(ctx context.Context, oldPrimaryID, survivorID int64) error {
	err := s.store.Atomic(ctx, func(ctx context.Context) error {
		direct, err := s.store.FindMany(ctx, database.ContactFilter{
			IDs:       []int64{oldPrimaryID},
			LinkedIDs: []int64{oldPrimaryID},
		})
		if err != nil {
			return err
		}

		var childIDs []int64
		for _, c := range direct {
			if c.ID != oldPrimaryID {
				childIDs = append(childIDs, c.ID)
			}
		}
		var chained []*models.Contact
		if len(childIDs) > 0 {
			chained, err = s.store.FindMany(ctx, database.ContactFilter{LinkedIDs: childIDs})
			if err != nil {
				return err
			}
		}

		ids := make([]int64, 0, len(direct)+len(chained))
		seen := map[int64]struct{}{survivorID: {}}
		for _, c := range append(direct, chained...) {
			if _, ok := seen[c.ID]; ok {
				continue
			}
			seen[c.ID] = struct{}{}
			ids = append(ids, c.ID)
		}
		if len(ids) == 0 {
			return nil
		}

		return s.store.UpdateMany(ctx, ids, database.ContactUpdate{
			LinkPrecedence: models.LinkSecondary,
			LinkedID:       models.Int64Ptr(survivorID),
			UpdatedAt:      s.clock(),
		})
	})
	if err != nil {
		return fmt.Errorf("merge cluster %d into %d: %w", oldPrimaryID, survivorID, err)
	}

	s.logger.InfoContext(ctx, "merged cluster",
		"old_primary_id", oldPrimaryID,
		"primary_id", survivorID,
	)
	return nil
}
