// Package profile defines the per-account profile document
package profile

import (
	"encoding/json"
	"strings"
	"time"
)

// Theme represents the UI theme preference
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// Preferences contains user preferences stored on the profile
type Preferences struct {
	DietaryRestrictions []string `json:"dietaryRestrictions" validate:"dive,min=1"`
	ServingSize         int      `json:"servingSize" validate:"gt=0"`
	Theme               Theme    `json:"theme" validate:"oneof=light dark"`
}

// DefaultPreferences returns the preferences written at account creation
func DefaultPreferences() Preferences {
	return Preferences{
		DietaryRestrictions: []string{},
		ServingSize:         2,
		Theme:               ThemeLight,
	}
}

// Profile is the persisted per-account record holding identity, premium
// status, and preferences. It is a document keyed by the account id in the
// users collection.
//
// IsPremium is a cached derived value: it must equal the most recent
// reconciliation result against the subscription records at LastVerified.
// It is never the source of truth.
type Profile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	// Email is lower-cased at write time; subscription matching is
	// case-insensitive.
	Email string `json:"email"`

	IsPremium    bool       `json:"isPremium"`
	PremiumSince *time.Time `json:"premiumSince,omitempty"`
	LastVerified *time.Time `json:"lastVerified,omitempty"`

	// Subscription-provider linkage
	StripeSessionID          string `json:"stripeSessionId,omitempty"`
	StripeCustomerID         string `json:"stripeCustomerId,omitempty"`
	StripeSubscriptionActive *bool  `json:"stripeSubscriptionActive,omitempty"`
	SubscriptionRecordID     string `json:"subscriptionRecordId,omitempty"`

	// Opaque UI-owned collections, not modeled here
	SavedRecipes []json.RawMessage `json:"savedRecipes"`
	MealPlans    []json.RawMessage `json:"mealPlans"`

	Preferences Preferences `json:"preferences"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// New creates a fresh profile for a newly registered account
func New(id, email, username string, isPremium bool) *Profile {
	now := time.Now()
	return &Profile{
		ID:           id,
		Username:     username,
		Email:        strings.ToLower(email),
		IsPremium:    isPremium,
		SavedRecipes: []json.RawMessage{},
		MealPlans:    []json.RawMessage{},
		Preferences:  DefaultPreferences(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Touch refreshes the updatedAt stamp
func (p *Profile) Touch() {
	p.UpdatedAt = time.Now()
}

// SetPremium records a reconciliation result and the time it was computed
func (p *Profile) SetPremium(isPremium bool, verifiedAt time.Time) {
	p.IsPremium = isPremium
	p.LastVerified = &verifiedAt
	p.UpdatedAt = verifiedAt
}

// MarkPremium unconditionally upgrades the profile as part of a grant
func (p *Profile) MarkPremium(recordID string, grantedAt time.Time) {
	p.IsPremium = true
	p.PremiumSince = &grantedAt
	p.LastVerified = &grantedAt
	p.UpdatedAt = grantedAt
	p.SubscriptionRecordID = recordID
}

// Clone returns a deep-enough copy for merged-in-memory reads: callers may
// mutate the copy without touching the stored document.
func (p *Profile) Clone() *Profile {
	c := *p
	if p.PremiumSince != nil {
		t := *p.PremiumSince
		c.PremiumSince = &t
	}
	if p.LastVerified != nil {
		t := *p.LastVerified
		c.LastVerified = &t
	}
	if p.StripeSubscriptionActive != nil {
		b := *p.StripeSubscriptionActive
		c.StripeSubscriptionActive = &b
	}
	c.SavedRecipes = append([]json.RawMessage(nil), p.SavedRecipes...)
	c.MealPlans = append([]json.RawMessage(nil), p.MealPlans...)
	c.Preferences.DietaryRestrictions = append([]string(nil), p.Preferences.DietaryRestrictions...)
	return &c
}

// Patch holds the partial fields an update may merge into a profile.
// Nil pointers mean "leave unchanged".
type Patch struct {
	Username     *string           `json:"username,omitempty"`
	SavedRecipes []json.RawMessage `json:"savedRecipes,omitempty"`
	MealPlans    []json.RawMessage `json:"mealPlans,omitempty"`
	Preferences  *Preferences      `json:"preferences,omitempty"`
}

// Apply merges the patch into the profile and returns the names of the
// fields that changed. UpdatedAt is refreshed whenever anything applies.
func (p *Profile) Apply(patch Patch) []string {
	var changed []string

	if patch.Username != nil {
		p.Username = *patch.Username
		changed = append(changed, "username")
	}
	if patch.SavedRecipes != nil {
		p.SavedRecipes = patch.SavedRecipes
		changed = append(changed, "savedRecipes")
	}
	if patch.MealPlans != nil {
		p.MealPlans = patch.MealPlans
		changed = append(changed, "mealPlans")
	}
	if patch.Preferences != nil {
		p.Preferences = *patch.Preferences
		changed = append(changed, "preferences")
	}

	if len(changed) > 0 {
		p.Touch()
	}
	return changed
}
