package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"bitespeed/internal/database"
	"bitespeed/internal/models"
)

var t0 = time.Date(2023, time.April, 1, 0, 0, 0, 0, time.UTC)

// steppingClock returns t0 plus one hour per call, so contacts created by the service are
// always younger than seeded fixtures.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	n := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		n++
		return t0.Add(time.Duration(n) * time.Hour)
	}
}

type ReconciliationSuite struct {
	suite.Suite
	store   *database.MemoryStore
	service *ReconciliationService
	ctx     context.Context
}

func TestReconciliationSuite(t *testing.T) {
	suite.Run(t, new(ReconciliationSuite))
}

func (s *ReconciliationSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = database.NewMemoryStore(steppingClock())
	s.service = NewReconciliationService(s.store, WithClock(steppingClock()))
}

func (s *ReconciliationSuite) identify(email, phone string) *models.ConsolidatedContact {
	resp, err := s.service.Identify(s.ctx, request(email, phone))
	s.Require().NoError(err)
	return &resp.Contact
}

func request(email, phone string) models.IdentifyRequest {
	var req models.IdentifyRequest
	if email != "" {
		req.Email = models.StringPtr(email)
	}
	if phone != "" {
		req.PhoneNumber = models.StringPtr(phone)
	}
	return req
}

func (s *ReconciliationSuite) seedPrimary(id int64, email, phone string, createdAt time.Time) {
	s.store.Put(contact(id, email, phone, nil, createdAt))
}

func (s *ReconciliationSuite) seedSecondary(id int64, email, phone string, linkedID int64, createdAt time.Time) {
	s.store.Put(contact(id, email, phone, models.Int64Ptr(linkedID), createdAt))
}

func contact(id int64, email, phone string, linkedID *int64, createdAt time.Time) *models.Contact {
	c := &models.Contact{
		ID:             id,
		LinkPrecedence: models.LinkPrimary,
		LinkedID:       linkedID,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
	if linkedID != nil {
		c.LinkPrecedence = models.LinkSecondary
	}
	if email != "" {
		c.Email = models.StringPtr(email)
	}
	if phone != "" {
		c.PhoneNumber = models.StringPtr(phone)
	}
	return c
}

func (s *ReconciliationSuite) contactByID(id int64) *models.Contact {
	c, err := s.store.FindByID(s.ctx, id)
	s.Require().NoError(err)
	return c
}

func (s *ReconciliationSuite) TestCreatesPrimaryForUnknownContact() {
	got := s.identify("lorraine@hillvalley.edu", "123456")

	s.Equal(&models.ConsolidatedContact{
		PrimaryContactID:    1,
		Emails:              []string{"lorraine@hillvalley.edu"},
		PhoneNumbers:        []string{"123456"},
		SecondaryContactIDs: []int64{},
	}, got)

	all := s.store.All()
	s.Require().Len(all, 1)
	s.Equal(models.LinkPrimary, all[0].LinkPrecedence)
	s.Nil(all[0].LinkedID)
}

func (s *ReconciliationSuite) TestCreatesPrimaryWithSingleField() {
	got := s.identify("", "987654")

	s.Equal(int64(1), got.PrimaryContactID)
	s.Empty(got.Emails)
	s.NotNil(got.Emails)
	s.Equal([]string{"987654"}, got.PhoneNumbers)
}

func (s *ReconciliationSuite) TestLinksNewEmailAsSecondary() {
	s.identify("lorraine@hillvalley.edu", "123456")
	got := s.identify("mcfly@hillvalley.edu", "123456")

	s.Equal(&models.ConsolidatedContact{
		PrimaryContactID:    1,
		Emails:              []string{"lorraine@hillvalley.edu", "mcfly@hillvalley.edu"},
		PhoneNumbers:        []string{"123456"},
		SecondaryContactIDs: []int64{2},
	}, got)

	secondary := s.contactByID(2)
	s.Equal(models.LinkSecondary, secondary.LinkPrecedence)
	s.Require().NotNil(secondary.LinkedID)
	s.Equal(int64(1), *secondary.LinkedID)
}

func (s *ReconciliationSuite) TestExistingPairCreatesNothing() {
	s.identify("lorraine@hillvalley.edu", "123456")
	s.identify("mcfly@hillvalley.edu", "123456")
	before := s.identify("lorraine@hillvalley.edu", "123456")
	again := s.identify("lorraine@hillvalley.edu", "123456")

	s.Len(s.store.All(), 2)
	s.Equal(before, again)
}

func (s *ReconciliationSuite) TestPartialRequestWithKnownValueIsNotAPairMatch() {
	s.identify("lorraine@hillvalley.edu", "123456")

	got := s.identify("lorraine@hillvalley.edu", "")

	// (email, nil) differs from (email, phone): absent is not a wildcard.
	s.Len(s.store.All(), 2)
	s.Equal([]int64{2}, got.SecondaryContactIDs)
	s.Equal([]string{"lorraine@hillvalley.edu"}, got.Emails)

	s.identify("lorraine@hillvalley.edu", "")
	s.Len(s.store.All(), 2)
}

func (s *ReconciliationSuite) TestNormalizesBeforeMatching() {
	s.identify("Lorraine@HillValley.edu", " 123456 ")
	got := s.identify("  lorraine@hillvalley.edu", "123456")

	s.Len(s.store.All(), 1)
	s.Equal([]string{"lorraine@hillvalley.edu"}, got.Emails)
	s.Equal([]string{"123456"}, got.PhoneNumbers)
}

func (s *ReconciliationSuite) TestRejectsEmptyRequest() {
	_, err := s.service.Identify(s.ctx, request("  ", ""))
	s.ErrorIs(err, ErrEmptyRequest)
	s.False(IsInternal(err))
	s.Empty(s.store.All())
}

func (s *ReconciliationSuite) seedTwoClusters() {
	s.seedPrimary(1, "a1@example.com", "111", t0.Add(-5*time.Hour))
	s.seedSecondary(2, "a2@example.com", "112", 1, t0.Add(-4*time.Hour))
	s.seedSecondary(3, "a3@example.com", "113", 1, t0.Add(-3*time.Hour))
	s.seedPrimary(4, "b1@example.com", "221", t0.Add(-2*time.Hour))
	s.seedSecondary(5, "b2@example.com", "222", 4, t0.Add(-1*time.Hour))
}

func (s *ReconciliationSuite) TestMergesYoungerClusterIntoOlder() {
	s.seedTwoClusters()

	got := s.identify("a1@example.com", "221")

	s.True(s.contactByID(1).IsPrimary())
	for _, id := range []int64{4, 5} {
		c := s.contactByID(id)
		s.Equal(models.LinkSecondary, c.LinkPrecedence, "contact %d", id)
		s.Require().NotNil(c.LinkedID)
		s.Equal(int64(1), *c.LinkedID, "contact %d", id)
		s.True(c.UpdatedAt.After(c.CreatedAt), "contact %d updatedAt refreshed", id)
	}
	s.Equal(t0.Add(-3*time.Hour), s.contactByID(3).UpdatedAt, "untouched member keeps updatedAt")

	s.Equal(int64(1), got.PrimaryContactID)
	s.Equal([]string{"a1@example.com", "a2@example.com", "a3@example.com", "b1@example.com", "b2@example.com"}, got.Emails)
	s.Equal([]string{"111", "112", "113", "221", "222"}, got.PhoneNumbers)
	s.Equal([]int64{2, 3, 4, 5, 6}, got.SecondaryContactIDs)
	s.NotContains(got.SecondaryContactIDs, got.PrimaryContactID)
}

func (s *ReconciliationSuite) TestRepeatAfterMergeIsIdempotent() {
	s.seedPrimary(1, "george@hillvalley.edu", "919191", t0.Add(-2*time.Hour))
	s.seedPrimary(2, "biffsucks@hillvalley.edu", "717171", t0.Add(-1*time.Hour))

	got := s.identify("george@hillvalley.edu", "717171")

	// The pair is new, so the request itself is recorded after the merge.
	s.Equal([]int64{2, 3}, got.SecondaryContactIDs)
	s.Equal([]string{"biffsucks@hillvalley.edu", "george@hillvalley.edu"}, got.Emails)
	s.Equal([]string{"717171", "919191"}, got.PhoneNumbers)

	again := s.identify("george@hillvalley.edu", "717171")
	s.Equal(got, again)
	s.Len(s.store.All(), 3)
}

func (s *ReconciliationSuite) TestMergeFlattensLegacyChains() {
	s.seedPrimary(1, "a1@example.com", "111", t0.Add(-5*time.Hour))
	s.seedPrimary(2, "b1@example.com", "221", t0.Add(-4*time.Hour))
	s.seedSecondary(3, "b2@example.com", "222", 2, t0.Add(-3*time.Hour))
	s.seedSecondary(4, "b3@example.com", "223", 3, t0.Add(-2*time.Hour))

	got := s.identify("a1@example.com", "221")

	for _, id := range []int64{2, 3, 4} {
		c := s.contactByID(id)
		s.Require().NotNil(c.LinkedID, "contact %d", id)
		s.Equal(int64(1), *c.LinkedID, "contact %d", id)
	}
	s.Equal([]int64{2, 3, 4, 5}, got.SecondaryContactIDs)
}

func (s *ReconciliationSuite) TestLegacyChainMemberIsPartOfCluster() {
	s.seedPrimary(1, "a@example.com", "111", t0.Add(-3*time.Hour))
	s.seedSecondary(2, "b@example.com", "222", 1, t0.Add(-2*time.Hour))
	s.seedSecondary(3, "c@example.com", "333", 2, t0.Add(-1*time.Hour))

	got := s.identify("c@example.com", "333")

	s.Equal(int64(1), got.PrimaryContactID)
	s.Equal([]int64{2, 3}, got.SecondaryContactIDs)
	s.Equal([]string{"a@example.com", "b@example.com", "c@example.com"}, got.Emails)
	s.Len(s.store.All(), 3)

	again := s.identify("c@example.com", "333")
	s.Equal(got, again)
	s.Len(s.store.All(), 3)
}

func (s *ReconciliationSuite) TestLegacyChainAppendsNewPairOnce() {
	s.seedPrimary(1, "a@example.com", "111", t0.Add(-3*time.Hour))
	s.seedSecondary(2, "b@example.com", "222", 1, t0.Add(-2*time.Hour))
	s.seedSecondary(3, "c@example.com", "333", 2, t0.Add(-1*time.Hour))

	got := s.identify("c@example.com", "444")

	s.Equal([]int64{2, 3, 4}, got.SecondaryContactIDs)
	s.Equal(int64(1), *s.contactByID(4).LinkedID)
	s.Equal(got, s.identify("c@example.com", "444"))
	s.Len(s.store.All(), 4)
}

func (s *ReconciliationSuite) TestOlderClusterSurvivesRegardlessOfMatchField() {
	s.seedPrimary(1, "a@example.com", "111", t0.Add(-1*time.Hour))
	s.seedPrimary(2, "b@example.com", "222", t0.Add(-3*time.Hour))
	s.seedSecondary(3, "c@example.com", "222", 2, t0.Add(-2*time.Hour))

	// Matches contact 1 by email and the cluster of 2 by phone; 2 is older and survives.
	got := s.identify("a@example.com", "222")

	s.Equal(int64(2), got.PrimaryContactID)
	s.False(s.contactByID(1).IsPrimary())
	s.Equal([]int64{3, 1, 4}, got.SecondaryContactIDs)
}

func (s *ReconciliationSuite) TestMatchOnSecondaryResolvesToPrimary() {
	s.seedTwoClusters()

	got := s.identify("b2@example.com", "")

	s.Equal(int64(4), got.PrimaryContactID)
	s.Equal([]int64{5, 6}, got.SecondaryContactIDs)
}

func (s *ReconciliationSuite) TestCorruptClusterFails() {
	s.seedPrimary(1, "a@example.com", "111", t0.Add(-2*time.Hour))
	s.seedSecondary(2, "b@example.com", "222", 3, t0.Add(-1*time.Hour))
	s.seedSecondary(3, "c@example.com", "333", 2, t0)

	_, err := s.service.Identify(s.ctx, request("b@example.com", ""))
	s.ErrorIs(err, ErrDataIntegrity)
	s.True(IsInternal(err))
	s.Len(s.store.All(), 3)
}

type failingUpdateStore struct {
	*database.MemoryStore
}

var errDiskFull = errors.New("disk full")

func (f failingUpdateStore) UpdateMany(context.Context, []int64, database.ContactUpdate) error {
	return errDiskFull
}

func (s *ReconciliationSuite) TestMergeFailureCreatesNoSecondary() {
	s.seedTwoClusters()
	svc := NewReconciliationService(failingUpdateStore{s.store})

	_, err := svc.Identify(s.ctx, request("a1@example.com", "221"))

	s.ErrorIs(err, errDiskFull)
	s.Len(s.store.All(), 5)
	s.True(s.contactByID(4).IsPrimary())
}

func (s *ReconciliationSuite) TestConcurrentIdenticalRequestsCreateOnePrimary() {
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.service.Identify(s.ctx, request("doc@hillvalley.edu", "555000"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.NoError(err)
	}
	s.Len(s.store.All(), 1)
}

func (s *ReconciliationSuite) TestConcurrentRequestsSharingPhoneFormOneCluster() {
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.service.Identify(s.ctx, request(fmt.Sprintf("user%d@example.com", i), "555111"))
			s.NoError(err)
		}()
	}
	wg.Wait()

	var primaries int
	for _, c := range s.store.All() {
		if c.IsPrimary() {
			primaries++
		}
	}
	s.Equal(1, primaries)
	s.Len(s.store.All(), 10)
}
