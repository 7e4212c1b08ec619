// Package subscription defines the subscription record document
package subscription

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Record is the persisted active-subscription state for an email, stored in
// the premium_users collection. It is keyed by a generated id and related to
// profiles by lower-cased email only; the UserID back-reference is
// informational, not ownership.
type Record struct {
	ID                       string    `json:"id"`
	Email                    string    `json:"email"`
	UserID                   string    `json:"userId"`
	Active                   bool      `json:"active"`
	StripeSubscriptionActive bool      `json:"stripeSubscriptionActive"`
	CreatedAt                time.Time `json:"createdAt"`
	UpdatedAt                time.Time `json:"updatedAt"`
}

// NewRecord creates an active record for a first-time premium grant
func NewRecord(email, userID string) *Record {
	now := time.Now()
	return &Record{
		ID:                       uuid.NewString(),
		Email:                    strings.ToLower(email),
		UserID:                   userID,
		Active:                   true,
		StripeSubscriptionActive: true,
		CreatedAt:                now,
		UpdatedAt:                now,
	}
}

// Activate marks the record active on a repeated grant for the same email
func (r *Record) Activate(userID string) {
	r.Active = true
	r.StripeSubscriptionActive = true
	r.UserID = userID
	r.UpdatedAt = time.Now()
}

// Grants reports whether this record satisfies the premium predicate for
// the given email
func (r *Record) Grants(email string) bool {
	return r.Email == strings.ToLower(email) && r.Active && r.StripeSubscriptionActive
}
