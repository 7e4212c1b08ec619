// Package outbound defines the interfaces for outbound ports (secondary/driven adapters)
// These are the interfaces that the application uses to interact with external systems
package outbound

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platefull/v1/internal/domain/profile"
	"github.com/platefull/v1/internal/domain/subscription"
)

// Session is the opaque authenticated-session handle returned by the
// identity provider. UID is the account identifier profiles are keyed by.
type Session struct {
	UID      string
	Email    string
	Token    string
	IssuedAt time.Time
}

// ProviderErrorCode identifies an identity-provider failure. The account
// service maps each code to a user-facing message.
type ProviderErrorCode string

const (
	ProviderEmailExists       ProviderErrorCode = "EMAIL_EXISTS"
	ProviderInvalidEmail      ProviderErrorCode = "INVALID_EMAIL"
	ProviderWeakPassword      ProviderErrorCode = "WEAK_PASSWORD"
	ProviderInvalidCredential ProviderErrorCode = "INVALID_CREDENTIAL"
	ProviderUserNotFound      ProviderErrorCode = "USER_NOT_FOUND"
	ProviderTooManyAttempts   ProviderErrorCode = "TOO_MANY_ATTEMPTS"
	ProviderNetworkError      ProviderErrorCode = "NETWORK_ERROR"
)

// ProviderError is the structured error identity adapters return
type ProviderError struct {
	Code    ProviderErrorCode
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("identity provider error %s: %s", e.Code, e.Message)
}

// ProviderCode extracts the provider error code from an error, if any
func ProviderCode(err error) (ProviderErrorCode, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code, true
	}
	return "", false
}

// IdentityService is the interface to the hosted authentication provider
type IdentityService interface {
	// CreateAccount registers email/password credentials and sets the
	// account's display name. The returned session is signed in.
	CreateAccount(ctx context.Context, email, password, displayName string) (*Session, error)
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context) error
	// CurrentSession returns the active session, or nil when signed out
	CurrentSession() *Session
}

// ProfileRepository persists profile documents in the users collection,
// keyed by account id
type ProfileRepository interface {
	Create(ctx context.Context, p *profile.Profile) error
	FindByID(ctx context.Context, id string) (*profile.Profile, error)
	Update(ctx context.Context, p *profile.Profile) error
	// SetPremium writes only the reconciliation fields (isPremium,
	// lastVerified, updatedAt) without touching the rest of the document
	SetPremium(ctx context.Context, id string, isPremium bool, verifiedAt time.Time) error
}

// SubscriptionRepository persists subscription records in the premium_users
// collection
type SubscriptionRepository interface {
	Create(ctx context.Context, r *subscription.Record) error
	Update(ctx context.Context, r *subscription.Record) error
	// FindByEmail returns the first record for the lower-cased email
	// regardless of its active flags, or nil when none exists
	FindByEmail(ctx context.Context, email string) (*subscription.Record, error)
	// FindActiveByEmail returns records matching the premium predicate:
	// lower-cased email equality AND active AND stripeSubscriptionActive
	FindActiveByEmail(ctx context.Context, email string) ([]*subscription.Record, error)
}

// PremiumWriter applies the two writes of a premium grant: the subscription
// record upsert and the profile upgrade. The port exists so the atomicity of
// the pair is an adapter decision: the postgres adapter runs both in one
// transaction, the memory adapter performs them sequentially, and tests
// inject writers that fail between the two to exercise partial-failure
// states.
type PremiumWriter interface {
	WritePremiumGrant(ctx context.Context, rec *subscription.Record, p *profile.Profile) error
}

// AnalyticsSink receives fire-and-forget named events with a parameter map.
// Implementations log delivery failures and never propagate them.
type AnalyticsSink interface {
	Emit(ctx context.Context, event string, params map[string]interface{})
}

// ChatMessage is a role-tagged message in a chat completion request
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest describes one completion call to the text-generation endpoint
type ChatRequest struct {
	Model            string
	Messages         []ChatMessage
	Temperature      float64
	MaxTokens        int
	PresencePenalty  float64
	FrequencyPenalty float64
	// JSONResponse sets the provider's "must return JSON" response format
	JSONResponse bool
}

// ChatService is the interface to the hosted text-generation endpoint
type ChatService interface {
	Complete(ctx context.Context, req ChatRequest) (string, error)
}

// CheckoutResolution is the billing provider's view of a checkout session
type CheckoutResolution struct {
	CustomerID         string
	SubscriptionID     string
	SubscriptionActive bool
}

// BillingService resolves subscription-provider linkage for a profile
type BillingService interface {
	ResolveCheckoutSession(ctx context.Context, sessionID string) (*CheckoutResolution, error)
}
