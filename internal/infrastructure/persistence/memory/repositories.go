// Package memory provides in-memory document store implementations
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/platefull/v1/internal/domain/profile"
	"github.com/platefull/v1/internal/domain/subscription"
	"github.com/platefull/v1/internal/ports/outbound"
)

// ProfileRepository implements the profile repository over a mutex-guarded
// map. Documents are cloned on the way in and out so callers can never
// mutate stored state through a shared pointer.
type ProfileRepository struct {
	mu   sync.RWMutex
	data map[string]*profile.Profile
}

// NewProfileRepository creates a new in-memory profile repository
func NewProfileRepository() *ProfileRepository {
	return &ProfileRepository{
		data: make(map[string]*profile.Profile),
	}
}

// Create stores a new profile document
func (r *ProfileRepository) Create(ctx context.Context, p *profile.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[p.ID] = p.Clone()
	return nil
}

// FindByID returns the profile for an account id, or nil when absent
func (r *ProfileRepository) FindByID(ctx context.Context, id string) (*profile.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.data[id]
	if !exists {
		return nil, nil
	}
	return p.Clone(), nil
}

// Update replaces the stored document
func (r *ProfileRepository) Update(ctx context.Context, p *profile.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[p.ID] = p.Clone()
	return nil
}

// SetPremium patches only the reconciliation fields of the stored document
func (r *ProfileRepository) SetPremium(ctx context.Context, id string, isPremium bool, verifiedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.data[id]
	if !exists {
		return nil
	}
	p.SetPremium(isPremium, verifiedAt)
	return nil
}

// SubscriptionRepository implements the subscription record repository over
// a mutex-guarded map keyed by record id
type SubscriptionRepository struct {
	mu   sync.RWMutex
	data map[string]*subscription.Record
}

// NewSubscriptionRepository creates a new in-memory subscription repository
func NewSubscriptionRepository() *SubscriptionRepository {
	return &SubscriptionRepository{
		data: make(map[string]*subscription.Record),
	}
}

// Create stores a new record
func (r *SubscriptionRepository) Create(ctx context.Context, rec *subscription.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *rec
	r.data[rec.ID] = &clone
	return nil
}

// Update replaces the stored record
func (r *SubscriptionRepository) Update(ctx context.Context, rec *subscription.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *rec
	r.data[rec.ID] = &clone
	return nil
}

// FindByEmail returns the first record for the lower-cased email, or nil
func (r *SubscriptionRepository) FindByEmail(ctx context.Context, email string) (*subscription.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	email = strings.ToLower(email)
	for _, rec := range r.data {
		if rec.Email == email {
			clone := *rec
			return &clone, nil
		}
	}
	return nil, nil
}

// FindActiveByEmail returns the records matching the premium predicate
func (r *SubscriptionRepository) FindActiveByEmail(ctx context.Context, email string) ([]*subscription.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []*subscription.Record
	for _, rec := range r.data {
		if rec.Grants(email) {
			clone := *rec
			matches = append(matches, &clone)
		}
	}
	return matches, nil
}

// PremiumWriter applies the two writes of a premium grant sequentially.
// There is no atomicity here: a failure injected between the record upsert
// and the profile write leaves an active record pointing at a non-premium
// profile, which is exactly the state the tests exercise.
type PremiumWriter struct {
	profiles      *ProfileRepository
	subscriptions *SubscriptionRepository
}

// NewPremiumWriter creates a sequential premium writer over the in-memory
// repositories
func NewPremiumWriter(profiles *ProfileRepository, subscriptions *SubscriptionRepository) *PremiumWriter {
	return &PremiumWriter{
		profiles:      profiles,
		subscriptions: subscriptions,
	}
}

// WritePremiumGrant upserts the record, then updates the profile
func (w *PremiumWriter) WritePremiumGrant(ctx context.Context, rec *subscription.Record, p *profile.Profile) error {
	existing, err := w.subscriptions.FindByEmail(ctx, rec.Email)
	if err != nil {
		return err
	}
	if existing != nil {
		if err := w.subscriptions.Update(ctx, rec); err != nil {
			return err
		}
	} else {
		if err := w.subscriptions.Create(ctx, rec); err != nil {
			return err
		}
	}

	return w.profiles.Update(ctx, p)
}

var _ outbound.ProfileRepository = (*ProfileRepository)(nil)
var _ outbound.SubscriptionRepository = (*SubscriptionRepository)(nil)
var _ outbound.PremiumWriter = (*PremiumWriter)(nil)
