package account

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	appsubscription "github.com/platefull/v1/internal/application/subscription"
	"github.com/platefull/v1/internal/domain/profile"
	subdomain "github.com/platefull/v1/internal/domain/subscription"
	"github.com/platefull/v1/internal/infrastructure/identity/local"
	"github.com/platefull/v1/internal/infrastructure/persistence/memory"
	"github.com/platefull/v1/internal/ports/outbound"
	apperrors "github.com/platefull/v1/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// captureSink records emitted events for assertions
type captureSink struct {
	mu     sync.Mutex
	events []capturedEvent
}

type capturedEvent struct {
	name   string
	params map[string]interface{}
}

func (s *captureSink) Emit(ctx context.Context, event string, params map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, capturedEvent{name: event, params: params})
}

func (s *captureSink) find(name string) (capturedEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.name == name {
			return e, true
		}
	}
	return capturedEvent{}, false
}

// brokenWriter fails between the record upsert and the profile write,
// leaving the sequential grant half-applied
type brokenWriter struct {
	subscriptions *memory.SubscriptionRepository
}

func (w *brokenWriter) WritePremiumGrant(ctx context.Context, rec *subdomain.Record, p *profile.Profile) error {
	if err := w.subscriptions.Create(ctx, rec); err != nil {
		return err
	}
	return errors.New("profile write rejected")
}

// lossyWriter reports success but silently drops the record write, so the
// post-grant verification sees a non-premium state
type lossyWriter struct {
	profiles *memory.ProfileRepository
}

func (w *lossyWriter) WritePremiumGrant(ctx context.Context, rec *subdomain.Record, p *profile.Profile) error {
	return w.profiles.Update(ctx, p)
}

type fixture struct {
	service       *Service
	identity      *local.Provider
	profiles      *memory.ProfileRepository
	subscriptions *memory.SubscriptionRepository
	sink          *captureSink
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithWriter(t, nil)
}

func newFixtureWithWriter(t *testing.T, writer outbound.PremiumWriter) *fixture {
	logger := zaptest.NewLogger(t)

	profiles := memory.NewProfileRepository()
	subscriptions := memory.NewSubscriptionRepository()
	sink := &captureSink{}
	identity := local.NewProvider("test-secret", time.Hour, 4, logger)
	verifier := appsubscription.NewVerifier(profiles, subscriptions, sink, logger)

	if writer == nil {
		writer = memory.NewPremiumWriter(profiles, subscriptions)
	}

	service := NewService(identity, profiles, subscriptions, writer, verifier, sink, nil, logger)

	return &fixture{
		service:       service,
		identity:      identity,
		profiles:      profiles,
		subscriptions: subscriptions,
		sink:          sink,
	}
}

func validCommand() CreateAccountCommand {
	return CreateAccountCommand{
		Email:    gofakeit.Email(),
		Password: "secret123",
		Username: gofakeit.Username(),
	}
}

func TestCreateAccountWritesFreshProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cmd := validCommand()

	session, err := f.service.CreateAccount(ctx, cmd)
	require.NoError(t, err)
	require.NotNil(t, session)

	prof, err := f.profiles.FindByID(ctx, session.UID)
	require.NoError(t, err)
	require.NotNil(t, prof)

	assert.Equal(t, cmd.Username, prof.Username)
	assert.False(t, prof.IsPremium)
	assert.NotNil(t, prof.LastVerified)
	assert.Empty(t, prof.SavedRecipes)
	assert.Empty(t, prof.MealPlans)
	assert.Equal(t, profile.DefaultPreferences(), prof.Preferences)

	event, ok := f.sink.find("user_created")
	require.True(t, ok)
	assert.Equal(t, session.UID, event.params["account_id"])
	assert.Equal(t, false, event.params["is_premium"])
}

func TestCreateAccountStartsPremiumWhenRecordExists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cmd := validCommand()

	// A grant for this email predates the account.
	require.NoError(t, f.subscriptions.Create(ctx, subdomain.NewRecord(cmd.Email, "")))

	session, err := f.service.CreateAccount(ctx, cmd)
	require.NoError(t, err)

	prof, err := f.profiles.FindByID(ctx, session.UID)
	require.NoError(t, err)
	assert.True(t, prof.IsPremium)
}

func TestCreateAccountDuplicateEmailGetsDistinctMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cmd := validCommand()

	_, err := f.service.CreateAccount(ctx, cmd)
	require.NoError(t, err)

	_, err = f.service.CreateAccount(ctx, cmd)
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.CodeEmailAlreadyExists, appErr.Code)
	assert.Contains(t, appErr.Message, "Try signing in instead")
}

func TestCreateAccountMapsProviderRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		cmd     CreateAccountCommand
		message string
	}{
		{
			"missing email",
			CreateAccountCommand{Password: "secret123", Username: "cook"},
			"Please enter a valid email address.",
		},
		{
			"malformed email",
			CreateAccountCommand{Email: "not-an-email", Password: "secret123", Username: "cook"},
			"Please enter a valid email address.",
		},
		{
			"short password",
			CreateAccountCommand{Email: gofakeit.Email(), Password: "abc", Username: "cook"},
			"Password should be at least 6 characters.",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.service.CreateAccount(ctx, tc.cmd)
			require.Error(t, err)

			var appErr *apperrors.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, apperrors.CodeAuthFailed, appErr.Code)
			assert.Equal(t, tc.message, appErr.Message)
		})
	}
}

// rejectingIdentity fails every call with a fixed provider error
type rejectingIdentity struct {
	err error
}

func (r *rejectingIdentity) CreateAccount(ctx context.Context, email, password, displayName string) (*outbound.Session, error) {
	return nil, r.err
}

func (r *rejectingIdentity) SignIn(ctx context.Context, email, password string) (*outbound.Session, error) {
	return nil, r.err
}

func (r *rejectingIdentity) SignOut(ctx context.Context) error { return r.err }
func (r *rejectingIdentity) CurrentSession() *outbound.Session { return nil }

func TestCreateAccountMessagePerProviderCode(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		code     outbound.ProviderErrorCode
		wantCode apperrors.ErrorCode
		message  string
	}{
		{outbound.ProviderInvalidEmail, apperrors.CodeAuthFailed, "Please enter a valid email address."},
		{outbound.ProviderWeakPassword, apperrors.CodeAuthFailed, "Password should be at least 6 characters."},
		{outbound.ProviderInvalidCredential, apperrors.CodeAuthFailed, "Incorrect email or password."},
		{outbound.ProviderUserNotFound, apperrors.CodeAuthFailed, "Incorrect email or password."},
		{outbound.ProviderTooManyAttempts, apperrors.CodeAuthFailed, "Too many attempts. Please wait a moment and try again."},
		{outbound.ProviderNetworkError, apperrors.CodeAuthFailed, "Network error. Check your connection and try again."},
		{outbound.ProviderErrorCode("SOMETHING_NEW"), apperrors.CodeAuthFailed, "Authentication failed. Please try again."},
		{outbound.ProviderEmailExists, apperrors.CodeEmailAlreadyExists, "An account with this email already exists. Try signing in instead."},
	}

	for _, tc := range cases {
		t.Run(string(tc.code), func(t *testing.T) {
			logger := zaptest.NewLogger(t)
			profiles := memory.NewProfileRepository()
			subscriptions := memory.NewSubscriptionRepository()
			sink := &captureSink{}
			identity := &rejectingIdentity{err: &outbound.ProviderError{Code: tc.code, Message: "provider detail"}}
			verifier := appsubscription.NewVerifier(profiles, subscriptions, sink, logger)
			service := NewService(identity, profiles, subscriptions,
				memory.NewPremiumWriter(profiles, subscriptions), verifier, sink, nil, logger)

			_, err := service.CreateAccount(ctx, validCommand())
			require.Error(t, err)

			var appErr *apperrors.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tc.wantCode, appErr.Code)
			assert.Equal(t, tc.message, appErr.Message)
			// The provider's internal detail never reaches the message.
			assert.NotContains(t, appErr.Message, "provider detail")
		})
	}
}

func TestSignInMapsProviderErrorsToMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cmd := validCommand()

	_, err := f.service.CreateAccount(ctx, cmd)
	require.NoError(t, err)

	cases := []struct {
		name     string
		email    string
		password string
	}{
		{"wrong password", cmd.Email, "wrong-password"},
		{"unknown account", gofakeit.Email(), cmd.Password},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.service.SignIn(ctx, tc.email, tc.password)
			require.Error(t, err)

			var appErr *apperrors.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, apperrors.CodeAuthFailed, appErr.Code)
			// Wrong password and unknown account are indistinguishable to
			// the caller.
			assert.Equal(t, "Incorrect email or password.", appErr.Message)
		})
	}
}

func TestSignInReconcilesPremiumStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cmd := validCommand()

	session, err := f.service.CreateAccount(ctx, cmd)
	require.NoError(t, err)

	prof, err := f.profiles.FindByID(ctx, session.UID)
	require.NoError(t, err)
	require.False(t, prof.IsPremium)

	// A subscription lands between sessions.
	require.NoError(t, f.subscriptions.Create(ctx, subdomain.NewRecord(cmd.Email, session.UID)))

	_, err = f.service.SignIn(ctx, cmd.Email, cmd.Password)
	require.NoError(t, err)

	prof, err = f.profiles.FindByID(ctx, session.UID)
	require.NoError(t, err)
	assert.True(t, prof.IsPremium)

	event, ok := f.sink.find("user_signed_in")
	require.True(t, ok)
	assert.Equal(t, true, event.params["is_premium"])
}

func TestSignOutEmitsEventWithCapturedAccountID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cmd := validCommand()

	session, err := f.service.CreateAccount(ctx, cmd)
	require.NoError(t, err)

	require.NoError(t, f.service.SignOut(ctx))
	assert.Nil(t, f.identity.CurrentSession())

	event, ok := f.sink.find("user_signed_out")
	require.True(t, ok)
	assert.Equal(t, session.UID, event.params["account_id"])
}

func TestSignOutWhileSignedOutEmitsNothing(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.service.SignOut(context.Background()))

	_, ok := f.sink.find("user_signed_out")
	assert.False(t, ok)
}

func TestGetProfileMissingAccount(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.GetProfile(context.Background(), "no-such-account", false)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeNotFound, apperrors.GetCode(err))
}

func TestGetProfilePlainReadNeverMutates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cmd := validCommand()

	session, err := f.service.CreateAccount(ctx, cmd)
	require.NoError(t, err)

	// The cached flag is stale: a record exists but the profile still says
	// non-premium.
	require.NoError(t, f.subscriptions.Create(ctx, subdomain.NewRecord(cmd.Email, session.UID)))

	prof, err := f.service.GetProfile(ctx, session.UID, false)
	require.NoError(t, err)
	assert.False(t, prof.IsPremium, "plain read must return the cached value")

	stored, err := f.profiles.FindByID(ctx, session.UID)
	require.NoError(t, err)
	assert.False(t, stored.IsPremium, "plain read must not write back")
}

func TestGetProfileForceRefreshWritesBackOnlyWhenChanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cmd := validCommand()

	session, err := f.service.CreateAccount(ctx, cmd)
	require.NoError(t, err)

	before, err := f.profiles.FindByID(ctx, session.UID)
	require.NoError(t, err)

	// Status unchanged: the stored document keeps its timestamps.
	prof, err := f.service.GetProfile(ctx, session.UID, true)
	require.NoError(t, err)
	assert.False(t, prof.IsPremium)

	unchanged, err := f.profiles.FindByID(ctx, session.UID)
	require.NoError(t, err)
	assert.Equal(t, before.UpdatedAt, unchanged.UpdatedAt)

	// Status flips: the refresh patches the document and returns the merged
	// value without a second read.
	require.NoError(t, f.subscriptions.Create(ctx, subdomain.NewRecord(cmd.Email, session.UID)))

	prof, err = f.service.GetProfile(ctx, session.UID, true)
	require.NoError(t, err)
	assert.True(t, prof.IsPremium)
	assert.NotNil(t, prof.LastVerified)

	stored, err := f.profiles.FindByID(ctx, session.UID)
	require.NoError(t, err)
	assert.True(t, stored.IsPremium)
}

func TestGrantPremiumRequiresSession(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.GrantPremium(context.Background(), gofakeit.Email())
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.CodeAuthFailed, appErr.Code)
	assert.Equal(t, "You must be signed in to upgrade.", appErr.Message)
}

func TestGrantPremiumRejectsEmptyEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.CreateAccount(ctx, validCommand())
	require.NoError(t, err)

	_, err = f.service.GrantPremium(ctx, "   ")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeValidationFailed, apperrors.GetCode(err))
}

func TestGrantPremiumUpgradesProfileAndRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cmd := validCommand()

	session, err := f.service.CreateAccount(ctx, cmd)
	require.NoError(t, err)

	prof, err := f.service.GrantPremium(ctx, "  "+cmd.Email+"  ")
	require.NoError(t, err)

	assert.True(t, prof.IsPremium)
	assert.NotNil(t, prof.PremiumSince)
	assert.NotEmpty(t, prof.SubscriptionRecordID)

	rec, err := f.subscriptions.FindByEmail(ctx, cmd.Email)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.Active)
	assert.Equal(t, session.UID, rec.UserID)

	// Email was normalized before the record was written.
	assert.Equal(t, rec.Email, prof.Email)

	_, ok := f.sink.find("premium_user_added")
	assert.True(t, ok)

	// The grant survives a subsequent reconciliation.
	refreshed, err := f.service.GetProfile(ctx, session.UID, true)
	require.NoError(t, err)
	assert.True(t, refreshed.IsPremium)
}

func TestGrantPremiumNormalizesEmailCase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.CreateAccount(ctx, CreateAccountCommand{
		Email:    "user@example.com",
		Password: "secret123",
		Username: "user",
	})
	require.NoError(t, err)

	_, err = f.service.GrantPremium(ctx, "User@Example.COM")
	require.NoError(t, err)

	rec, err := f.subscriptions.FindByEmail(ctx, "user@example.com")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "user@example.com", rec.Email)
}

func TestGrantPremiumReusesExistingRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cmd := validCommand()

	session, err := f.service.CreateAccount(ctx, cmd)
	require.NoError(t, err)

	stale := subdomain.NewRecord(cmd.Email, "")
	stale.Active = false
	stale.StripeSubscriptionActive = false
	require.NoError(t, f.subscriptions.Create(ctx, stale))

	prof, err := f.service.GrantPremium(ctx, cmd.Email)
	require.NoError(t, err)

	// The lapsed record was reactivated, not duplicated.
	assert.Equal(t, stale.ID, prof.SubscriptionRecordID)

	rec, err := f.subscriptions.FindByEmail(ctx, cmd.Email)
	require.NoError(t, err)
	assert.Equal(t, stale.ID, rec.ID)
	assert.True(t, rec.Active)
	assert.Equal(t, session.UID, rec.UserID)
}

func TestGrantPremiumPartialFailureLeavesProfileUntouched(t *testing.T) {
	subscriptions := memory.NewSubscriptionRepository()
	f := newFixtureWithWriter(t, &brokenWriter{subscriptions: subscriptions})
	f.subscriptions = subscriptions
	ctx := context.Background()
	cmd := validCommand()

	session, err := f.service.CreateAccount(ctx, cmd)
	require.NoError(t, err)

	_, err = f.service.GrantPremium(ctx, cmd.Email)
	require.Error(t, err)

	// The record write landed but the profile write did not: the stored
	// profile still says non-premium.
	rec, recErr := subscriptions.FindByEmail(ctx, cmd.Email)
	require.NoError(t, recErr)
	assert.NotNil(t, rec)

	stored, profErr := f.profiles.FindByID(ctx, session.UID)
	require.NoError(t, profErr)
	assert.False(t, stored.IsPremium)

	_, ok := f.sink.find("premium_user_added")
	assert.False(t, ok, "a failed grant must not emit the grant event")
}

func TestGrantPremiumPostConditionCatchesLostWrites(t *testing.T) {
	profiles := memory.NewProfileRepository()
	f := newFixtureWithWriter(t, &lossyWriter{profiles: profiles})
	ctx := context.Background()
	cmd := validCommand()

	// The lossy writer updates a detached repository, so the verifier's
	// subscription query finds no record after the "successful" write.
	_, err := f.service.CreateAccount(ctx, cmd)
	require.NoError(t, err)

	_, err = f.service.GrantPremium(ctx, cmd.Email)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeVerificationFailed, apperrors.GetCode(err))
}

func TestUpdateProfileMergesPartialFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cmd := validCommand()

	session, err := f.service.CreateAccount(ctx, cmd)
	require.NoError(t, err)

	newUsername := "renamed-cook"
	prefs := profile.Preferences{
		DietaryRestrictions: []string{"vegetarian"},
		ServingSize:         4,
		Theme:               profile.ThemeDark,
	}

	prof, err := f.service.UpdateProfile(ctx, session.UID, profile.Patch{
		Username:    &newUsername,
		Preferences: &prefs,
	})
	require.NoError(t, err)

	assert.Equal(t, newUsername, prof.Username)
	assert.Equal(t, prefs, prof.Preferences)

	stored, err := f.profiles.FindByID(ctx, session.UID)
	require.NoError(t, err)
	assert.Equal(t, newUsername, stored.Username)

	event, ok := f.sink.find("user_data_updated")
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"username", "preferences"}, event.params["changed_fields"])
}

func TestUpdateProfileEmptyPatchIsANoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.service.CreateAccount(ctx, validCommand())
	require.NoError(t, err)

	_, err = f.service.UpdateProfile(ctx, session.UID, profile.Patch{})
	require.NoError(t, err)

	_, ok := f.sink.find("user_data_updated")
	assert.False(t, ok)
}

func TestUpdateProfileWrapsFailuresGenerically(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.service.CreateAccount(ctx, validCommand())
	require.NoError(t, err)

	cases := []struct {
		name      string
		accountID string
		patch     profile.Patch
	}{
		{"missing profile", "no-such-account", profile.Patch{}},
		{"invalid serving size", session.UID, profile.Patch{
			Preferences: &profile.Preferences{ServingSize: 0, Theme: profile.ThemeLight},
		}},
		{"invalid theme", session.UID, profile.Patch{
			Preferences: &profile.Preferences{ServingSize: 2, Theme: "sepia"},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.service.UpdateProfile(ctx, tc.accountID, tc.patch)
			require.Error(t, err)
			assert.Equal(t, apperrors.CodeUpdateFailed, apperrors.GetCode(err))
		})
	}
}
