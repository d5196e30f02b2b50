package service

import (
	"context"
	"fmt"

	"bitespeed/internal/models"
)

// appendIfNew creates a secondary under primaryID unless some member already carries the
// exact (email, phoneNumber) pair. An absent field only matches an absent field.
func (s *ReconciliationService) appendIfNew(ctx context.Context, email, phoneNumber *string, primaryID int64, members []*models.Contact) (*models.Contact, error) {
	for _, m := range members {
		if equalOptional(m.Email, email) && equalOptional(m.PhoneNumber, phoneNumber) {
			return nil, nil
		}
	}

	created, err := s.store.Create(ctx, &models.Contact{
		Email:          email,
		PhoneNumber:    phoneNumber,
		LinkedID:       models.Int64Ptr(primaryID),
		LinkPrecedence: models.LinkSecondary,
	})
	if err != nil {
		return nil, fmt.Errorf("create secondary contact: %w", err)
	}
	if s.metrics != nil {
		s.metrics.IncrementContactsCreated(string(models.LinkSecondary))
	}
	return created, nil
}

// createPrimary starts a new single-member cluster.
func (s *ReconciliationService) createPrimary(ctx context.Context, email, phoneNumber *string) (*models.Contact, error) {
	created, err := s.store.Create(ctx, &models.Contact{
		Email:          email,
		PhoneNumber:    phoneNumber,
		LinkPrecedence: models.LinkPrimary,
	})
	if err != nil {
		return nil, fmt.Errorf("create primary contact: %w", err)
	}
	if s.metrics != nil {
		s.metrics.IncrementContactsCreated(string(models.LinkPrimary))
	}
	return created, nil
}

func equalOptional(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
