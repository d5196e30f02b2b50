package service

import (
	"fmt"
	"sort"

	"bitespeed/internal/models"
)

// Consolidate projects a cluster into its public identity. It requires exactly one primary;
// anything else means the cluster is corrupt and is reported as ErrDataIntegrity.
//
// Emails and phone numbers are deduplicated and sorted; secondary ids keep the order given.
func Consolidate(primaries, secondaries []*models.Contact) (*models.ConsolidatedContact, error) {
	if len(primaries) != 1 || primaries[0] == nil {
		return nil, fmt.Errorf("%w: cluster has %d primary contacts", ErrDataIntegrity, len(primaries))
	}
	primary := primaries[0]

	emails := newStringSet()
	phones := newStringSet()
	emails.add(primary.Email)
	phones.add(primary.PhoneNumber)

	secondaryIDs := make([]int64, 0, len(secondaries))
	for _, c := range secondaries {
		if c.ID == primary.ID {
			return nil, fmt.Errorf("%w: contact %d is both primary and secondary", ErrDataIntegrity, c.ID)
		}
		emails.add(c.Email)
		phones.add(c.PhoneNumber)
		secondaryIDs = append(secondaryIDs, c.ID)
	}

	return &models.ConsolidatedContact{
		PrimaryContactID:    primary.ID,
		Emails:              emails.sorted(),
		PhoneNumbers:        phones.sorted(),
		SecondaryContactIDs: secondaryIDs,
	}, nil
}

// splitCluster partitions members by link precedence, preserving order.
func splitCluster(members []*models.Contact) (primaries, secondaries []*models.Contact) {
	for _, c := range members {
		if c.IsPrimary() {
			primaries = append(primaries, c)
		} else {
			secondaries = append(secondaries, c)
		}
	}
	return primaries, secondaries
}

type stringSet map[string]struct{}

func newStringSet() stringSet {
	return make(stringSet)
}

func (s stringSet) add(v *string) {
	if v != nil && *v != "" {
		s[*v] = struct{}{}
	}
}

func (s stringSet) sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
