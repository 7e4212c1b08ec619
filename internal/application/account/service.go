// Package account provides the application layer for account and profile
// management
package account

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/platefull/v1/internal/application/subscription"
	"github.com/platefull/v1/internal/domain/profile"
	subdomain "github.com/platefull/v1/internal/domain/subscription"
	"github.com/platefull/v1/internal/ports/outbound"
	apperrors "github.com/platefull/v1/pkg/errors"
	"go.uber.org/zap"
)

// Service implements account management use cases. All clients are injected
// at construction; the service holds no global state of its own.
type Service struct {
	identity      outbound.IdentityService
	profiles      outbound.ProfileRepository
	subscriptions outbound.SubscriptionRepository
	premiumWriter outbound.PremiumWriter
	verifier      *subscription.Verifier
	analytics     outbound.AnalyticsSink
	billing       outbound.BillingService
	validate      *validator.Validate
	logger        *zap.Logger
}

// NewService creates a new account service. billing may be nil when no
// subscription provider is configured.
func NewService(
	identity outbound.IdentityService,
	profiles outbound.ProfileRepository,
	subscriptions outbound.SubscriptionRepository,
	premiumWriter outbound.PremiumWriter,
	verifier *subscription.Verifier,
	analytics outbound.AnalyticsSink,
	billing outbound.BillingService,
	logger *zap.Logger,
) *Service {
	return &Service{
		identity:      identity,
		profiles:      profiles,
		subscriptions: subscriptions,
		premiumWriter: premiumWriter,
		verifier:      verifier,
		analytics:     analytics,
		billing:       billing,
		validate:      validator.New(),
		logger:        logger.Named("account-service"),
	}
}

// CreateAccountCommand contains account registration data
type CreateAccountCommand struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
}

// CreateAccount registers a new account with the identity provider, writes
// a fresh profile with default preferences, and reconciles the premium flag
// for the new account's email before the first read ever happens. Input
// checks are the provider's: its error codes drive the user-facing message.
func (s *Service) CreateAccount(ctx context.Context, cmd CreateAccountCommand) (*outbound.Session, error) {
	s.logger.Info("Creating account", zap.String("email", cmd.Email))

	session, err := s.identity.CreateAccount(ctx, cmd.Email, cmd.Password, cmd.Username)
	if err != nil {
		s.logger.Error("Identity provider rejected account creation",
			zap.String("email", cmd.Email),
			zap.Error(err),
		)
		if code, ok := outbound.ProviderCode(err); ok && code == outbound.ProviderEmailExists {
			return nil, apperrors.NewAccountCreationError(cmd.Email)
		}
		return nil, s.mapAuthError(err)
	}

	// The profile does not exist yet, so the reconciliation runs against
	// the email directly: an email with a live subscription record starts
	// premium from the first session.
	isPremium, err := s.verifier.Check(ctx, session.Email)
	if err != nil {
		s.logger.Warn("Initial premium check failed, defaulting to non-premium",
			zap.String("account_id", session.UID),
			zap.Error(err),
		)
		isPremium = false
	}

	prof := profile.New(session.UID, session.Email, cmd.Username, isPremium)
	now := time.Now()
	prof.LastVerified = &now
	if err := s.profiles.Create(ctx, prof); err != nil {
		s.logger.Error("Failed to write fresh profile",
			zap.String("account_id", session.UID),
			zap.Error(err),
		)
		return nil, apperrors.Wrap(err, "failed to create profile")
	}

	s.analytics.Emit(ctx, "user_created", map[string]interface{}{
		"account_id": session.UID,
		"is_premium": isPremium,
	})

	s.logger.Info("Account created",
		zap.String("account_id", session.UID),
		zap.Bool("is_premium", isPremium),
	)

	return session, nil
}

// SignIn authenticates against the identity provider and reconciles the
// premium flag before returning the session
func (s *Service) SignIn(ctx context.Context, email, password string) (*outbound.Session, error) {
	s.logger.Info("Sign-in attempt", zap.String("email", email))

	session, err := s.identity.SignIn(ctx, email, password)
	if err != nil {
		s.logger.Warn("Sign-in failed", zap.String("email", email), zap.Error(err))
		return nil, s.mapAuthError(err)
	}

	// Verify writes isPremium, lastVerified, and updatedAt back to the
	// profile; a verifier-internal failure degrades to non-premium and is
	// not surfaced here.
	result := s.verifier.Verify(ctx, session.UID)

	s.analytics.Emit(ctx, "user_signed_in", map[string]interface{}{
		"account_id": session.UID,
		"is_premium": result.IsPremium,
	})

	return session, nil
}

// SignOut ends the current session. The account id is captured before the
// provider call so the analytics event can still name it afterwards.
func (s *Service) SignOut(ctx context.Context) error {
	var accountID string
	if session := s.identity.CurrentSession(); session != nil {
		accountID = session.UID
	}

	if err := s.identity.SignOut(ctx); err != nil {
		s.logger.Error("Sign-out failed", zap.Error(err))
		return apperrors.NewSignOutError(err)
	}

	if accountID != "" {
		s.analytics.Emit(ctx, "user_signed_out", map[string]interface{}{
			"account_id": accountID,
		})
	}

	return nil
}

// GetProfile reads a profile. With forceRefresh the premium flag is
// recomputed, and written back only when it differs from the stored value;
// a plain read never mutates the document.
func (s *Service) GetProfile(ctx context.Context, accountID string, forceRefresh bool) (*profile.Profile, error) {
	prof, err := s.profiles.FindByID(ctx, accountID)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to load profile")
	}
	if prof == nil {
		return nil, apperrors.NewNotFoundError("profile")
	}

	if !forceRefresh {
		return prof, nil
	}

	fresh, err := s.verifier.Check(ctx, prof.Email)
	if err != nil {
		// Unavailability degrades to non-premium, same policy as Verify.
		s.logger.Warn("Forced refresh check failed",
			zap.String("account_id", accountID),
			zap.Error(err),
		)
		fresh = false
	}

	if fresh == prof.IsPremium {
		return prof, nil
	}

	now := time.Now()
	if err := s.profiles.SetPremium(ctx, accountID, fresh, now); err != nil {
		return nil, apperrors.Wrap(err, "failed to refresh premium status")
	}

	// Merged-in-memory result: the stored document was only patched, the
	// returned value reflects the patch without a second read.
	merged := prof.Clone()
	merged.SetPremium(fresh, now)

	s.logger.Info("Premium status refreshed",
		zap.String("account_id", accountID),
		zap.Bool("was_premium", prof.IsPremium),
		zap.Bool("is_premium", fresh),
	)

	return merged, nil
}

// GrantPremium marks the caller's account premium. The subscription record
// upsert and the profile upgrade go through the premium writer; whether the
// pair is atomic is the writer's decision. A post-condition verification
// catches a grant whose writes did not land.
func (s *Service) GrantPremium(ctx context.Context, email string) (*profile.Profile, error) {
	session := s.identity.CurrentSession()
	if session == nil {
		return nil, apperrors.NewAuthError("You must be signed in to upgrade.")
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, apperrors.NewValidationError("email is required")
	}

	prof, err := s.profiles.FindByID(ctx, session.UID)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to load profile")
	}
	if prof == nil {
		return nil, apperrors.NewNotFoundError("profile")
	}

	rec, err := s.subscriptions.FindByEmail(ctx, email)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to query subscription records")
	}
	if rec != nil {
		rec.Activate(session.UID)
	} else {
		rec = subdomain.NewRecord(email, session.UID)
	}

	now := time.Now()
	prof.MarkPremium(rec.ID, now)

	// Resolve subscription-provider linkage when a checkout session is on
	// file. A billing failure does not block the grant.
	if s.billing != nil && prof.StripeSessionID != "" {
		if res, err := s.billing.ResolveCheckoutSession(ctx, prof.StripeSessionID); err != nil {
			s.logger.Warn("Failed to resolve checkout session",
				zap.String("account_id", session.UID),
				zap.Error(err),
			)
		} else {
			prof.StripeCustomerID = res.CustomerID
			prof.StripeSubscriptionActive = &res.SubscriptionActive
		}
	}

	if err := s.premiumWriter.WritePremiumGrant(ctx, rec, prof); err != nil {
		s.logger.Error("Premium grant write failed",
			zap.String("account_id", session.UID),
			zap.Error(err),
		)
		return nil, apperrors.Wrap(err, "failed to write premium grant")
	}

	s.analytics.Emit(ctx, "premium_user_added", map[string]interface{}{
		"account_id":             session.UID,
		"subscription_record_id": rec.ID,
	})

	// Post-condition: the state just written must verify as premium. A
	// mismatch means the record write and the profile read disagree.
	result := s.verifier.Verify(ctx, session.UID)
	if !result.IsPremium {
		s.logger.Error("Post-grant verification failed",
			zap.String("account_id", session.UID),
			zap.String("verifier_error", result.Err),
		)
		return nil, apperrors.NewVerificationError(result.Err)
	}

	s.logger.Info("Premium granted",
		zap.String("account_id", session.UID),
		zap.String("subscription_record_id", rec.ID),
	)

	return prof, nil
}

// UpdateProfile merges partial fields into the profile. Any underlying
// failure is wrapped into the generic update error.
func (s *Service) UpdateProfile(ctx context.Context, accountID string, patch profile.Patch) (*profile.Profile, error) {
	prof, err := s.profiles.FindByID(ctx, accountID)
	if err != nil {
		return nil, apperrors.NewUpdateError(err)
	}
	if prof == nil {
		return nil, apperrors.NewUpdateError(apperrors.NewNotFoundError("profile"))
	}

	if patch.Preferences != nil {
		if err := s.validate.Struct(patch.Preferences); err != nil {
			return nil, apperrors.NewUpdateError(err)
		}
	}

	changed := prof.Apply(patch)
	if len(changed) == 0 {
		return prof, nil
	}

	if err := s.profiles.Update(ctx, prof); err != nil {
		s.logger.Error("Profile update failed",
			zap.String("account_id", accountID),
			zap.Error(err),
		)
		return nil, apperrors.NewUpdateError(err)
	}

	s.analytics.Emit(ctx, "user_data_updated", map[string]interface{}{
		"account_id":     accountID,
		"changed_fields": changed,
	})

	return prof, nil
}

// mapAuthError converts an identity-provider error into the user-facing
// auth error for its code; unmapped codes get the generic message
func (s *Service) mapAuthError(err error) *apperrors.AppError {
	code, ok := outbound.ProviderCode(err)
	if !ok {
		return apperrors.NewAuthError("").WithCause(err)
	}

	var message string
	switch code {
	case outbound.ProviderEmailExists:
		return apperrors.NewAccountCreationError("").WithCause(err)
	case outbound.ProviderInvalidEmail:
		message = "Please enter a valid email address."
	case outbound.ProviderWeakPassword:
		message = "Password should be at least 6 characters."
	case outbound.ProviderInvalidCredential, outbound.ProviderUserNotFound:
		message = "Incorrect email or password."
	case outbound.ProviderTooManyAttempts:
		message = "Too many attempts. Please wait a moment and try again."
	case outbound.ProviderNetworkError:
		message = "Network error. Check your connection and try again."
	default:
		message = ""
	}

	return apperrors.NewAuthError(message).WithCause(err)
}
