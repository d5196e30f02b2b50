package service

import (
	"context"
	"fmt"
	"sort"

	"bitespeed/internal/database"
	"bitespeed/internal/models"
)

// findMatches returns every contact whose email or phone number equals the normalized
// request value. Absent fields match nothing.
func (s *ReconciliationService) findMatches(ctx context.Context, email, phoneNumber *string) ([]*models.Contact, error) {
	var filter database.ContactFilter
	if email != nil {
		filter.Emails = []string{*email}
	}
	if phoneNumber != nil {
		filter.PhoneNumbers = []string{*phoneNumber}
	}
	if filter.IsEmpty() {
		return nil, nil
	}

	contacts, err := s.store.FindMany(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("find matching contacts: %w", err)
	}
	return contacts, nil
}

// clusterMembers returns the primary and every contact linked to it, directly or through
// legacy chains that no merge has flattened yet. Members are ordered oldest first.
func (s *ReconciliationService) clusterMembers(ctx context.Context, primaryID int64) ([]*models.Contact, error) {
	contacts, err := s.store.FindMany(ctx, database.ContactFilter{
		IDs:       []int64{primaryID},
		LinkedIDs: []int64{primaryID},
	})
	if err != nil {
		return nil, fmt.Errorf("load cluster %d: %w", primaryID, err)
	}

	seen := make(map[int64]struct{}, len(contacts))
	var frontier []int64
	for _, c := range contacts {
		seen[c.ID] = struct{}{}
		if c.ID != primaryID {
			frontier = append(frontier, c.ID)
		}
	}
	for depth := 1; len(frontier) > 0; depth++ {
		if depth >= maxLinkDepth {
			return nil, fmt.Errorf("%w: cluster %d is linked deeper than %d hops", ErrDataIntegrity, primaryID, maxLinkDepth)
		}
		children, err := s.store.FindMany(ctx, database.ContactFilter{LinkedIDs: frontier})
		if err != nil {
			return nil, fmt.Errorf("load cluster %d: %w", primaryID, err)
		}
		var next []int64
		for _, c := range children {
			if _, ok := seen[c.ID]; ok {
				continue
			}
			seen[c.ID] = struct{}{}
			contacts = append(contacts, c)
			next = append(next, c.ID)
		}
		frontier = next
	}

	sort.SliceStable(contacts, func(i, j int) bool {
		if contacts[i].CreatedAt.Equal(contacts[j].CreatedAt) {
			return contacts[i].ID < contacts[j].ID
		}
		return contacts[i].CreatedAt.Before(contacts[j].CreatedAt)
	})
	return contacts, nil
}
