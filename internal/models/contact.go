package models

import (
	"strings"
	"time"
)

// LinkPrecedence marks whether a contact is the identity of its cluster or defers to another.
type LinkPrecedence string

const (
	LinkPrimary   LinkPrecedence = "primary"
	LinkSecondary LinkPrecedence = "secondary"
)

// Contact represents a customer contact in the database
type Contact struct {
	ID             int64          `json:"id"                    db:"id"`
	PhoneNumber    *string        `json:"phoneNumber,omitempty" db:"phone_number"`
	Email          *string        `json:"email,omitempty"       db:"email"`
	LinkedID       *int64         `json:"linkedId,omitempty"    db:"linked_id"`
	LinkPrecedence LinkPrecedence `json:"linkPrecedence"        db:"link_precedence"`
	CreatedAt      time.Time      `json:"createdAt"             db:"created_at"`
	UpdatedAt      time.Time      `json:"updatedAt"             db:"updated_at"`
	DeletedAt      *time.Time     `json:"deletedAt,omitempty"   db:"deleted_at"`
}

// IsPrimary reports whether the contact is the root of its cluster.
func (c *Contact) IsPrimary() bool {
	return c.LinkPrecedence == LinkPrimary
}

// Clone returns a deep copy so stores never hand out shared pointers.
func (c *Contact) Clone() *Contact {
	out := *c
	out.PhoneNumber = cloneString(c.PhoneNumber)
	out.Email = cloneString(c.Email)
	if c.LinkedID != nil {
		id := *c.LinkedID
		out.LinkedID = &id
	}
	if c.DeletedAt != nil {
		t := *c.DeletedAt
		out.DeletedAt = &t
	}
	return &out
}

// IdentifyRequest represents the incoming request body
type IdentifyRequest struct {
	Email       *string `json:"email"`
	PhoneNumber *string `json:"phoneNumber"`
}

// Normalize returns a copy with the email trimmed and lower-cased and the phone number trimmed.
// Values that are empty after trimming become nil.
func (r IdentifyRequest) Normalize() IdentifyRequest {
	return IdentifyRequest{
		Email:       NormalizeEmail(r.Email),
		PhoneNumber: NormalizePhone(r.PhoneNumber),
	}
}

// NormalizeEmail trims and lower-cases an email. Blank input yields nil.
func NormalizeEmail(email *string) *string {
	if email == nil {
		return nil
	}
	v := strings.ToLower(strings.TrimSpace(*email))
	if v == "" {
		return nil
	}
	return &v
}

// NormalizePhone trims a phone number. Blank input yields nil.
func NormalizePhone(phone *string) *string {
	if phone == nil {
		return nil
	}
	v := strings.TrimSpace(*phone)
	if v == "" {
		return nil
	}
	return &v
}

// ConsolidatedContact is the externally visible identity of one cluster.
type ConsolidatedContact struct {
	PrimaryContactID    int64    `json:"primaryContactId"`
	Emails              []string `json:"emails"`
	PhoneNumbers        []string `json:"phoneNumbers"`
	SecondaryContactIDs []int64  `json:"secondaryContactIds"`
}

// IdentifyResponse represents the response body
type IdentifyResponse struct {
	Contact ConsolidatedContact `json:"contact"`
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// StringPtr is a convenience for building optional fields.
func StringPtr(s string) *string {
	return &s
}

// Int64Ptr is a convenience for building optional references.
func Int64Ptr(i int64) *int64 {
	return &i
}
