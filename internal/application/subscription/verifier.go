// Package subscription provides premium-status reconciliation against the
// subscription records collection
package subscription

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/platefull/v1/internal/ports/outbound"
	"go.uber.org/zap"
)

// Result is the outcome of one reconciliation. Err carries the internal
// failure message when the verifier degraded to non-premium; callers never
// receive a Go error from Verify.
type Result struct {
	IsPremium    bool
	LastVerified time.Time
	Err          string
}

// Verifier recomputes a profile's premium flag from the subscription records
// and writes it back. The computation is side-effect-free on the records, so
// repeated calls with unchanged backing data converge on the same result.
type Verifier struct {
	profiles      outbound.ProfileRepository
	subscriptions outbound.SubscriptionRepository
	analytics     outbound.AnalyticsSink
	logger        *zap.Logger
}

// NewVerifier creates a new verifier
func NewVerifier(
	profiles outbound.ProfileRepository,
	subscriptions outbound.SubscriptionRepository,
	analytics outbound.AnalyticsSink,
	logger *zap.Logger,
) *Verifier {
	return &Verifier{
		profiles:      profiles,
		subscriptions: subscriptions,
		analytics:     analytics,
		logger:        logger.Named("subscription-verifier"),
	}
}

// Check computes the premium predicate for an email without writing
// anything back: true iff at least one record matches the lower-cased email
// with both active flags set
func (v *Verifier) Check(ctx context.Context, email string) (bool, error) {
	matches, err := v.subscriptions.FindActiveByEmail(ctx, strings.ToLower(email))
	if err != nil {
		return false, fmt.Errorf("subscription query failed: %w", err)
	}
	return len(matches) > 0, nil
}

// Verify reconciles the premium flag for an account. Every internal failure
// is swallowed into a non-premium result with the message attached: a store
// outage demotes the user until the next successful verification rather
// than surfacing an error.
func (v *Verifier) Verify(ctx context.Context, accountID string) Result {
	now := time.Now()

	prof, err := v.profiles.FindByID(ctx, accountID)
	if err != nil {
		v.logger.Warn("Verification failed to load profile",
			zap.String("account_id", accountID),
			zap.Error(err),
		)
		return Result{IsPremium: false, LastVerified: now, Err: fmt.Sprintf("profile lookup failed: %v", err)}
	}
	if prof == nil {
		v.logger.Warn("Verification for missing profile", zap.String("account_id", accountID))
		return Result{IsPremium: false, LastVerified: now, Err: "profile not found"}
	}

	isPremium, err := v.Check(ctx, prof.Email)
	if err != nil {
		v.logger.Warn("Verification query failed",
			zap.String("account_id", accountID),
			zap.Error(err),
		)
		return Result{IsPremium: false, LastVerified: now, Err: err.Error()}
	}

	// The computed value is always written back, premium or not, so the
	// cached flag tracks the records even when a subscription lapses.
	if err := v.profiles.SetPremium(ctx, accountID, isPremium, now); err != nil {
		v.logger.Warn("Failed to write verification result",
			zap.String("account_id", accountID),
			zap.Error(err),
		)
		return Result{IsPremium: false, LastVerified: now, Err: fmt.Sprintf("premium write-back failed: %v", err)}
	}

	v.analytics.Emit(ctx, "premium_status_verified", map[string]interface{}{
		"account_id": accountID,
		"is_premium": isPremium,
	})

	v.logger.Debug("Premium status verified",
		zap.String("account_id", accountID),
		zap.Bool("is_premium", isPremium),
	)

	return Result{IsPremium: isPremium, LastVerified: now}
}
