package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitespeed/internal/models"
)

func TestConsolidate(t *testing.T) {
	primary := contact(1, "lorraine@hillvalley.edu", "123456", nil, t0)
	secondaries := []*models.Contact{
		contact(5, "mcfly@hillvalley.edu", "123456", models.Int64Ptr(1), t0),
		contact(3, "", "000111", models.Int64Ptr(1), t0),
		contact(4, "biff@hillvalley.edu", "", models.Int64Ptr(1), t0),
	}

	got, err := Consolidate([]*models.Contact{primary}, secondaries)
	require.NoError(t, err)

	assert.Equal(t, int64(1), got.PrimaryContactID)
	assert.Equal(t, []string{"biff@hillvalley.edu", "lorraine@hillvalley.edu", "mcfly@hillvalley.edu"}, got.Emails)
	assert.Equal(t, []string{"000111", "123456"}, got.PhoneNumbers)
	assert.Equal(t, []int64{5, 3, 4}, got.SecondaryContactIDs, "secondary ids keep the order received")
}

func TestConsolidateKeepsDuplicateSecondaryIDs(t *testing.T) {
	primary := contact(1, "a@example.com", "", nil, t0)
	dup := contact(2, "b@example.com", "", models.Int64Ptr(1), t0)

	got, err := Consolidate([]*models.Contact{primary}, []*models.Contact{dup, dup})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 2}, got.SecondaryContactIDs)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, got.Emails)
}

func TestConsolidateRequiresExactlyOnePrimary(t *testing.T) {
	a := contact(1, "a@example.com", "", nil, t0)
	b := contact(2, "b@example.com", "", nil, t0)

	_, err := Consolidate(nil, []*models.Contact{b})
	assert.ErrorIs(t, err, ErrDataIntegrity)

	_, err = Consolidate([]*models.Contact{a, b}, nil)
	assert.ErrorIs(t, err, ErrDataIntegrity)
}

func TestConsolidateRejectsPrimaryListedAsSecondary(t *testing.T) {
	a := contact(1, "a@example.com", "", nil, t0)

	_, err := Consolidate([]*models.Contact{a}, []*models.Contact{a})
	assert.ErrorIs(t, err, ErrDataIntegrity)
}

func TestSplitCluster(t *testing.T) {
	members := []*models.Contact{
		contact(1, "a@example.com", "", nil, t0),
		contact(2, "b@example.com", "", models.Int64Ptr(1), t0),
		contact(3, "c@example.com", "", models.Int64Ptr(1), t0),
	}

	primaries, secondaries := splitCluster(members)
	require.Len(t, primaries, 1)
	assert.Equal(t, int64(1), primaries[0].ID)
	require.Len(t, secondaries, 2)
	assert.Equal(t, int64(2), secondaries[0].ID)
	assert.Equal(t, int64(3), secondaries[1].ID)
}
