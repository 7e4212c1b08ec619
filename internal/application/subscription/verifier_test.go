package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/platefull/v1/internal/domain/profile"
	subdomain "github.com/platefull/v1/internal/domain/subscription"
	"github.com/platefull/v1/internal/infrastructure/persistence/memory"
	"github.com/platefull/v1/internal/ports/outbound"
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

func (s *captureSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.events))
	for i, e := range s.events {
		names[i] = e.name
	}
	return names
}

// failingSubscriptions simulates a document store outage
type failingSubscriptions struct{}

func (f *failingSubscriptions) Create(ctx context.Context, r *subdomain.Record) error { return nil }
func (f *failingSubscriptions) Update(ctx context.Context, r *subdomain.Record) error { return nil }
func (f *failingSubscriptions) FindByEmail(ctx context.Context, email string) (*subdomain.Record, error) {
	return nil, errors.New("store unavailable")
}
func (f *failingSubscriptions) FindActiveByEmail(ctx context.Context, email string) ([]*subdomain.Record, error) {
	return nil, errors.New("store unavailable")
}

var _ outbound.SubscriptionRepository = (*failingSubscriptions)(nil)

func newTestVerifier(t *testing.T) (*Verifier, *memory.ProfileRepository, *memory.SubscriptionRepository, *captureSink) {
	profiles := memory.NewProfileRepository()
	subscriptions := memory.NewSubscriptionRepository()
	sink := &captureSink{}
	v := NewVerifier(profiles, subscriptions, sink, zaptest.NewLogger(t))
	return v, profiles, subscriptions, sink
}

func TestVerifyPremiumWhenRecordMatches(t *testing.T) {
	v, profiles, subscriptions, sink := newTestVerifier(t)
	ctx := context.Background()

	require.NoError(t, profiles.Create(ctx, profile.New("acc-1", "cook@example.com", "cook", false)))
	require.NoError(t, subscriptions.Create(ctx, subdomain.NewRecord("cook@example.com", "acc-1")))

	result := v.Verify(ctx, "acc-1")

	assert.True(t, result.IsPremium)
	assert.Empty(t, result.Err)
	assert.False(t, result.LastVerified.IsZero())

	stored, err := profiles.FindByID(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, stored.IsPremium)
	require.NotNil(t, stored.LastVerified)

	assert.Contains(t, sink.names(), "premium_status_verified")
}

func TestVerifyMatchesCaseInsensitively(t *testing.T) {
	v, profiles, subscriptions, _ := newTestVerifier(t)
	ctx := context.Background()

	// Profile email stored upper-cased on purpose; matching must still
	// normalize both sides.
	prof := profile.New("acc-1", "user@example.com", "user", false)
	prof.Email = "USER@EXAMPLE.COM"
	require.NoError(t, profiles.Create(ctx, prof))
	require.NoError(t, subscriptions.Create(ctx, subdomain.NewRecord("User@Example.com", "acc-1")))

	result := v.Verify(ctx, "acc-1")
	assert.True(t, result.IsPremium)
}

func TestVerifyRequiresBothActiveFlags(t *testing.T) {
	cases := []struct {
		name         string
		active       bool
		stripeActive bool
		want         bool
	}{
		{"both set", true, true, true},
		{"inactive record", false, true, false},
		{"stripe lapsed", true, false, false},
		{"neither", false, false, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, profiles, subscriptions, _ := newTestVerifier(t)
			ctx := context.Background()

			require.NoError(t, profiles.Create(ctx, profile.New("acc-1", "cook@example.com", "cook", false)))

			rec := subdomain.NewRecord("cook@example.com", "acc-1")
			rec.Active = tc.active
			rec.StripeSubscriptionActive = tc.stripeActive
			require.NoError(t, subscriptions.Create(ctx, rec))

			result := v.Verify(ctx, "acc-1")
			assert.Equal(t, tc.want, result.IsPremium)
		})
	}
}

func TestVerifyIsIdempotent(t *testing.T) {
	v, profiles, subscriptions, _ := newTestVerifier(t)
	ctx := context.Background()

	require.NoError(t, profiles.Create(ctx, profile.New("acc-1", "cook@example.com", "cook", false)))
	require.NoError(t, subscriptions.Create(ctx, subdomain.NewRecord("cook@example.com", "acc-1")))

	first := v.Verify(ctx, "acc-1")
	second := v.Verify(ctx, "acc-1")
	third := v.Verify(ctx, "acc-1")

	assert.Equal(t, first.IsPremium, second.IsPremium)
	assert.Equal(t, second.IsPremium, third.IsPremium)

	stored, err := profiles.FindByID(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, stored.IsPremium)
}

func TestVerifyWritesBackDemotion(t *testing.T) {
	v, profiles, subscriptions, _ := newTestVerifier(t)
	ctx := context.Background()

	prof := profile.New("acc-1", "cook@example.com", "cook", true)
	require.NoError(t, profiles.Create(ctx, prof))

	rec := subdomain.NewRecord("cook@example.com", "acc-1")
	rec.Active = false
	require.NoError(t, subscriptions.Create(ctx, rec))

	result := v.Verify(ctx, "acc-1")
	assert.False(t, result.IsPremium)

	stored, err := profiles.FindByID(ctx, "acc-1")
	require.NoError(t, err)
	assert.False(t, stored.IsPremium)
}

func TestVerifyMissingProfileDegradesToNonPremium(t *testing.T) {
	v, _, _, sink := newTestVerifier(t)

	result := v.Verify(context.Background(), "no-such-account")

	assert.False(t, result.IsPremium)
	assert.NotEmpty(t, result.Err)
	// Nothing verified, nothing emitted.
	assert.NotContains(t, sink.names(), "premium_status_verified")
}

func TestVerifyStoreOutageDegradesToNonPremium(t *testing.T) {
	profiles := memory.NewProfileRepository()
	sink := &captureSink{}
	v := NewVerifier(profiles, &failingSubscriptions{}, sink, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, profiles.Create(ctx, profile.New("acc-1", "cook@example.com", "cook", true)))

	result := v.Verify(ctx, "acc-1")

	assert.False(t, result.IsPremium)
	assert.Contains(t, result.Err, "subscription query failed")
}

func TestCheckDoesNotWriteBack(t *testing.T) {
	v, profiles, subscriptions, _ := newTestVerifier(t)
	ctx := context.Background()

	require.NoError(t, profiles.Create(ctx, profile.New("acc-1", "cook@example.com", "cook", false)))
	require.NoError(t, subscriptions.Create(ctx, subdomain.NewRecord("cook@example.com", "acc-1")))

	isPremium, err := v.Check(ctx, "cook@example.com")
	require.NoError(t, err)
	assert.True(t, isPremium)

	stored, err := profiles.FindByID(ctx, "acc-1")
	require.NoError(t, err)
	assert.False(t, stored.IsPremium, "Check must not touch the profile")
}
