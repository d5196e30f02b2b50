package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"bitespeed/internal/database"
	"bitespeed/internal/lock"
	"bitespeed/internal/metrics"
	"bitespeed/internal/models"
)

// maxLockAttempts bounds how often Identify re-locks when a cluster is merged away
// between matching and locking.
const maxLockAttempts = 3

// Outcome is the terminal state of one identify call.
type Outcome string

const (
	OutcomeCreatedNew     Outcome = "created_new"
	OutcomeLinkedExisting Outcome = "linked_existing"
	OutcomeError          Outcome = "error"
)

// Store is the persistence the reconciliation algorithm needs.
type Store interface {
	FindMany(ctx context.Context, filter database.ContactFilter) ([]*models.Contact, error)
	FindByID(ctx context.Context, id int64) (*models.Contact, error)
	Create(ctx context.Context, c *models.Contact) (*models.Contact, error)
	UpdateMany(ctx context.Context, ids []int64, update database.ContactUpdate) error
	Atomic(ctx context.Context, fn func(ctx context.Context) error) error
}

// ReconciliationService handles identity reconciliation logic
type ReconciliationService struct {
	store   Store
	locker  lock.Locker
	logger  *slog.Logger
	metrics *metrics.Metrics
	clock   func() time.Time
}

// Option configures a ReconciliationService.
type Option func(*ReconciliationService)

// WithLogger sets the structured logger; nil keeps the discard logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *ReconciliationService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records identify outcomes and merges on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *ReconciliationService) {
		s.metrics = m
	}
}

// WithLocker replaces the default in-process locker, e.g. with a Redis or Postgres one
// when several replicas share the store.
func WithLocker(l lock.Locker) Option {
	return func(s *ReconciliationService) {
		if l != nil {
			s.locker = l
		}
	}
}

// WithClock overrides the time stamped on merged contacts.
func WithClock(clock func() time.Time) Option {
	return func(s *ReconciliationService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewReconciliationService creates a new reconciliation service
func NewReconciliationService(store Store, opts ...Option) *ReconciliationService {
	s := &ReconciliationService{
		store:  store,
		locker: lock.NewMemory(),
		logger: slog.New(slog.DiscardHandler),
		clock:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Identify returns the consolidated identity for the request's email and/or phone number,
// creating, linking or merging contacts as needed.
func (s *ReconciliationService) Identify(ctx context.Context, req models.IdentifyRequest) (*models.IdentifyResponse, error) {
	start := time.Now()
	req = req.Normalize()
	if req.Email == nil && req.PhoneNumber == nil {
		return nil, ErrEmptyRequest
	}

	contact, outcome, err := s.identify(ctx, req)
	if err != nil {
		outcome = OutcomeError
	}
	if s.metrics != nil {
		s.metrics.ObserveIdentify(string(outcome), time.Since(start))
	}
	if err != nil {
		return nil, err
	}

	s.logger.DebugContext(ctx, "identified contact",
		"outcome", outcome,
		"primary_id", contact.PrimaryContactID,
		"secondaries", len(contact.SecondaryContactIDs),
	)
	return &models.IdentifyResponse{Contact: *contact}, nil
}

func (s *ReconciliationService) identify(ctx context.Context, req models.IdentifyRequest) (*models.ConsolidatedContact, Outcome, error) {
	release, err := s.locker.Acquire(ctx, requestLockKeys(req)...)
	if err != nil {
		return nil, OutcomeError, fmt.Errorf("lock request keys: %w", err)
	}
	defer release()

	for attempt := 0; attempt < maxLockAttempts; attempt++ {
		matches, err := s.findMatches(ctx, req.Email, req.PhoneNumber)
		if err != nil {
			return nil, OutcomeError, err
		}
		if len(matches) == 0 {
			primary, err := s.createPrimary(ctx, req.Email, req.PhoneNumber)
			if err != nil {
				return nil, OutcomeError, err
			}
			contact, err := Consolidate([]*models.Contact{primary}, nil)
			return contact, OutcomeCreatedNew, err
		}

		roots, err := s.resolveRoots(ctx, matches)
		if err != nil {
			return nil, OutcomeError, err
		}

		contact, done, err := s.withClusterLocks(ctx, req, roots)
		if err != nil {
			return nil, OutcomeError, err
		}
		if done {
			return contact, OutcomeLinkedExisting, nil
		}
		s.logger.DebugContext(ctx, "cluster changed while locking, retrying", "attempt", attempt+1)
	}
	return nil, OutcomeError, ErrContention
}

// withClusterLocks locks the clusters of roots, re-reads the match set, and reconciles if
// the roots are still covered by the held locks. done is false when the caller must retry.
func (s *ReconciliationService) withClusterLocks(ctx context.Context, req models.IdentifyRequest, roots []*models.Contact) (*models.ConsolidatedContact, bool, error) {
	release, err := s.locker.Acquire(ctx, clusterLockKeys(roots)...)
	if err != nil {
		return nil, false, fmt.Errorf("lock clusters: %w", err)
	}
	defer release()

	matches, err := s.findMatches(ctx, req.Email, req.PhoneNumber)
	if err != nil {
		return nil, false, err
	}
	current, err := s.resolveRoots(ctx, matches)
	if err != nil {
		return nil, false, err
	}
	if len(current) == 0 || !coveredBy(current, roots) {
		return nil, false, nil
	}

	contact, err := s.reconcile(ctx, req, current)
	if err != nil {
		return nil, false, err
	}
	return contact, true, nil
}

// reconcile merges the clusters of primaries into the oldest, appends the request as a
// secondary if it carries a new pair, and consolidates the result. primaries must be
// sorted oldest first.
func (s *ReconciliationService) reconcile(ctx context.Context, req models.IdentifyRequest, primaries []*models.Contact) (*models.ConsolidatedContact, error) {
	survivor := primaries[0]
	if len(primaries) > 1 {
		if err := s.mergeClusters(ctx, primaries[1:], survivor.ID); err != nil {
			return nil, err
		}
		if s.metrics != nil {
			s.metrics.AddClustersMerged(len(primaries) - 1)
		}
	}

	members, err := s.clusterMembers(ctx, survivor.ID)
	if err != nil {
		return nil, err
	}
	created, err := s.appendIfNew(ctx, req.Email, req.PhoneNumber, survivor.ID, members)
	if err != nil {
		return nil, err
	}
	if created != nil {
		if members, err = s.clusterMembers(ctx, survivor.ID); err != nil {
			return nil, err
		}
	}

	contact, err := Consolidate(splitCluster(members))
	if err != nil {
		return nil, fmt.Errorf("consolidate cluster %d: %w", survivor.ID, err)
	}
	return contact, nil
}

func requestLockKeys(req models.IdentifyRequest) []string {
	var keys []string
	if req.Email != nil {
		keys = append(keys, "email:"+*req.Email)
	}
	if req.PhoneNumber != nil {
		keys = append(keys, "phone:"+*req.PhoneNumber)
	}
	return keys
}

func clusterLockKeys(roots []*models.Contact) []string {
	keys := make([]string, 0, len(roots))
	for _, r := range roots {
		keys = append(keys, "cluster:"+strconv.FormatInt(r.ID, 10))
	}
	return keys
}

func coveredBy(current, locked []*models.Contact) bool {
	held := make(map[int64]struct{}, len(locked))
	for _, r := range locked {
		held[r.ID] = struct{}{}
	}
	for _, r := range current {
		if _, ok := held[r.ID]; !ok {
			return false
		}
	}
	return true
}

// IsInternal reports whether err should surface as a server-side failure rather than a
// client error.
func IsInternal(err error) bool {
	return err != nil && !errors.Is(err, ErrEmptyRequest)
}
