package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"bitespeed/internal/models"
)

const contactColumns = `id, phone_number, email, linked_id, link_precedence, created_at, updated_at, deleted_at`

type txKey struct{}

// ContactStore persists contacts in a SQL database.
type ContactStore struct {
	db    *sqlx.DB
	clock Clock
}

// ContactStoreOption configures a ContactStore.
type ContactStoreOption func(*ContactStore)

// WithClock sets the clock used to stamp created_at/updated_at.
func WithClock(clock Clock) ContactStoreOption {
	return func(s *ContactStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewContactStore creates a store on top of an open connection.
func NewContactStore(db *sqlx.DB, opts ...ContactStoreOption) *ContactStore {
	s := &ContactStore{
		db:    db,
		clock: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ext returns the transaction bound to ctx by Atomic, or the pool.
func (s *ContactStore) ext(ctx context.Context) sqlx.ExtContext {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return s.db
}

// FindMany returns every live contact matching the filter, oldest first.
func (s *ContactStore) FindMany(ctx context.Context, filter ContactFilter) ([]*models.Contact, error) {
	if filter.IsEmpty() {
		return nil, nil
	}

	var clauses []string
	var args []interface{}
	if len(filter.Emails) > 0 {
		clauses = append(clauses, "email IN (?)")
		args = append(args, filter.Emails)
	}
	if len(filter.PhoneNumbers) > 0 {
		clauses = append(clauses, "phone_number IN (?)")
		args = append(args, filter.PhoneNumbers)
	}
	if len(filter.IDs) > 0 {
		clauses = append(clauses, "id IN (?)")
		args = append(args, filter.IDs)
	}
	if len(filter.LinkedIDs) > 0 {
		clauses = append(clauses, "linked_id IN (?)")
		args = append(args, filter.LinkedIDs)
	}

	query := `SELECT ` + contactColumns + ` FROM contacts
		WHERE (` + strings.Join(clauses, " OR ") + `) AND deleted_at IS NULL
		ORDER BY created_at, id`
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("expand contact filter: %w", err)
	}

	var contacts []*models.Contact
	if err := sqlx.SelectContext(ctx, s.ext(ctx), &contacts, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("find contacts: %w", err)
	}
	return contacts, nil
}

// FindByID returns the contact with the given id, or ErrNotFound.
func (s *ContactStore) FindByID(ctx context.Context, id int64) (*models.Contact, error) {
	query := s.db.Rebind(`SELECT ` + contactColumns + ` FROM contacts WHERE id = ? AND deleted_at IS NULL`)
	var c models.Contact
	if err := sqlx.GetContext(ctx, s.ext(ctx), &c, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("contact %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("find contact %d: %w", id, err)
	}
	return &c, nil
}

// Create inserts a contact and returns it with its assigned id and timestamps.
func (s *ContactStore) Create(ctx context.Context, c *models.Contact) (*models.Contact, error) {
	now := s.clock()
	out := c.Clone()
	out.Email = models.NormalizeEmail(c.Email)
	out.PhoneNumber = models.NormalizePhone(c.PhoneNumber)
	out.CreatedAt = now
	out.UpdatedAt = now

	query := s.db.Rebind(`INSERT INTO contacts (phone_number, email, linked_id, link_precedence, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`)
	err := s.ext(ctx).QueryRowxContext(ctx, query,
		out.PhoneNumber, out.Email, out.LinkedID, string(out.LinkPrecedence), now, now,
	).Scan(&out.ID)
	if err != nil {
		return nil, fmt.Errorf("create contact: %w", err)
	}
	return out, nil
}

// UpdateMany writes the update to every contact in ids.
func (s *ContactStore) UpdateMany(ctx context.Context, ids []int64, update ContactUpdate) error {
	if len(ids) == 0 {
		return nil
	}
	updatedAt := update.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = s.clock()
	}

	query, args, err := sqlx.In(`UPDATE contacts SET link_precedence = ?, linked_id = ?, updated_at = ? WHERE id IN (?)`,
		string(update.LinkPrecedence), update.LinkedID, updatedAt, ids)
	if err != nil {
		return fmt.Errorf("expand update ids: %w", err)
	}
	if _, err := s.ext(ctx).ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("update contacts: %w", err)
	}
	return nil
}

// Atomic runs fn inside a transaction. Store calls made with the ctx passed to fn join it.
// Nested calls reuse the outer transaction.
func (s *ContactStore) Atomic(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return fn(ctx)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
