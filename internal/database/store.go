package database

import (
	"errors"
	"time"

	"bitespeed/internal/models"
)

// ErrNotFound is returned when a contact looked up by id does not exist.
var ErrNotFound = errors.New("contact not found")

// ContactFilter selects contacts matching any of its non-empty fields (logical OR).
// Soft-deleted contacts are never returned.
type ContactFilter struct {
	Emails       []string
	PhoneNumbers []string
	IDs          []int64
	LinkedIDs    []int64
}

// IsEmpty reports whether the filter has no criteria at all.
func (f ContactFilter) IsEmpty() bool {
	return len(f.Emails) == 0 && len(f.PhoneNumbers) == 0 && len(f.IDs) == 0 && len(f.LinkedIDs) == 0
}

func (f ContactFilter) matches(c *models.Contact) bool {
	if c.DeletedAt != nil {
		return false
	}
	if c.Email != nil && containsString(f.Emails, *c.Email) {
		return true
	}
	if c.PhoneNumber != nil && containsString(f.PhoneNumbers, *c.PhoneNumber) {
		return true
	}
	if containsInt64(f.IDs, c.ID) {
		return true
	}
	return c.LinkedID != nil && containsInt64(f.LinkedIDs, *c.LinkedID)
}

// ContactUpdate is the set of fields a multi-row update writes.
type ContactUpdate struct {
	LinkPrecedence models.LinkPrecedence
	LinkedID       *int64
	UpdatedAt      time.Time
}

// Clock returns the current time; stores take one so tests can pin createdAt ordering.
type Clock func() time.Time

func containsString(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

func containsInt64(values []int64, v int64) bool {
	for _, i := range values {
		if i == v {
			return true
		}
	}
	return false
}
