// Package postgres provides PostgreSQL-backed document store implementations.
// Profiles and subscription records are stored as JSONB documents, queried
// with equality filters over document fields the way the hosted document
// store is.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/platefull/v1/internal/domain/profile"
	"github.com/platefull/v1/internal/domain/subscription"
	"github.com/platefull/v1/internal/ports/outbound"
	"go.uber.org/zap"
)

// Connect opens a connection pool and makes sure the document tables exist
func Connect(ctx context.Context, dsn string, logger *zap.Logger) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := ensureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("Connected to PostgreSQL document store")
	return pool, nil
}

func ensureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id  TEXT PRIMARY KEY,
			doc JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS premium_users (
			id  TEXT PRIMARY KEY,
			doc JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_premium_users_email ON premium_users ((doc->>'email'))`,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

// ProfileRepository implements the profile repository over the users table
type ProfileRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewProfileRepository creates a new PostgreSQL profile repository
func NewProfileRepository(db *pgxpool.Pool, logger *zap.Logger) *ProfileRepository {
	return &ProfileRepository{
		db:     db,
		logger: logger.Named("profile-repository"),
	}
}

// Create stores a new profile document
func (r *ProfileRepository) Create(ctx context.Context, p *profile.Profile) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	_, err = r.db.Exec(ctx, `INSERT INTO users (id, doc) VALUES ($1, $2)`, p.ID, doc)
	if err != nil {
		r.logger.Error("Failed to create profile",
			zap.String("account_id", p.ID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// FindByID retrieves a profile by account id, or nil when absent
func (r *ProfileRepository) FindByID(ctx context.Context, id string) (*profile.Profile, error) {
	var doc []byte
	err := r.db.QueryRow(ctx, `SELECT doc FROM users WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to load profile",
			zap.String("account_id", id),
			zap.Error(err),
		)
		return nil, err
	}

	var p profile.Profile
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}
	return &p, nil
}

// Update replaces the stored document
func (r *ProfileRepository) Update(ctx context.Context, p *profile.Profile) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	tag, err := r.db.Exec(ctx, `UPDATE users SET doc = $2 WHERE id = $1`, p.ID, doc)
	if err != nil {
		r.logger.Error("Failed to update profile",
			zap.String("account_id", p.ID),
			zap.Error(err),
		)
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("profile %s does not exist", p.ID)
	}
	return nil
}

// SetPremium patches only the reconciliation fields of the document
func (r *ProfileRepository) SetPremium(ctx context.Context, id string, isPremium bool, verifiedAt time.Time) error {
	stamp, err := json.Marshal(verifiedAt)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx,
		`UPDATE users
		 SET doc = jsonb_set(jsonb_set(jsonb_set(doc,
			'{isPremium}', to_jsonb($2::boolean)),
			'{lastVerified}', $3::jsonb),
			'{updatedAt}', $3::jsonb)
		 WHERE id = $1`,
		id, isPremium, string(stamp),
	)
	if err != nil {
		r.logger.Error("Failed to set premium flag",
			zap.String("account_id", id),
			zap.Error(err),
		)
	}
	return err
}

// SubscriptionRepository implements the subscription record repository over
// the premium_users table
type SubscriptionRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewSubscriptionRepository creates a new PostgreSQL subscription repository
func NewSubscriptionRepository(db *pgxpool.Pool, logger *zap.Logger) *SubscriptionRepository {
	return &SubscriptionRepository{
		db:     db,
		logger: logger.Named("subscription-repository"),
	}
}

// Create stores a new record
func (r *SubscriptionRepository) Create(ctx context.Context, rec *subscription.Record) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription record: %w", err)
	}

	_, err = r.db.Exec(ctx, `INSERT INTO premium_users (id, doc) VALUES ($1, $2)`, rec.ID, doc)
	if err != nil {
		r.logger.Error("Failed to create subscription record",
			zap.String("record_id", rec.ID),
			zap.Error(err),
		)
	}
	return err
}

// Update replaces the stored record
func (r *SubscriptionRepository) Update(ctx context.Context, rec *subscription.Record) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription record: %w", err)
	}

	_, err = r.db.Exec(ctx, `UPDATE premium_users SET doc = $2 WHERE id = $1`, rec.ID, doc)
	if err != nil {
		r.logger.Error("Failed to update subscription record",
			zap.String("record_id", rec.ID),
			zap.Error(err),
		)
	}
	return err
}

// FindByEmail returns the first record for the lower-cased email, or nil
func (r *SubscriptionRepository) FindByEmail(ctx context.Context, email string) (*subscription.Record, error) {
	var doc []byte
	err := r.db.QueryRow(ctx,
		`SELECT doc FROM premium_users WHERE doc->>'email' = lower($1) LIMIT 1`,
		email,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec subscription.Record
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal subscription record: %w", err)
	}
	return &rec, nil
}

// FindActiveByEmail returns the records matching the premium predicate
func (r *SubscriptionRepository) FindActiveByEmail(ctx context.Context, email string) ([]*subscription.Record, error) {
	rows, err := r.db.Query(ctx,
		`SELECT doc FROM premium_users
		 WHERE doc->>'email' = lower($1)
		   AND (doc->>'active')::boolean = true
		   AND (doc->>'stripeSubscriptionActive')::boolean = true`,
		email,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []*subscription.Record
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var rec subscription.Record
		if err := json.Unmarshal(doc, &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal subscription record: %w", err)
		}
		matches = append(matches, &rec)
	}
	return matches, rows.Err()
}

// PremiumWriter applies both writes of a premium grant in one transaction.
// The hosted store performed them as two independent writes; running them
// atomically closes the window where an active record points at a
// non-premium profile.
type PremiumWriter struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPremiumWriter creates a transactional premium writer
func NewPremiumWriter(db *pgxpool.Pool, logger *zap.Logger) *PremiumWriter {
	return &PremiumWriter{
		db:     db,
		logger: logger.Named("premium-writer"),
	}
}

// WritePremiumGrant upserts the subscription record and updates the profile
// within a single transaction
func (w *PremiumWriter) WritePremiumGrant(ctx context.Context, rec *subscription.Record, p *profile.Profile) error {
	recDoc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription record: %w", err)
	}
	profDoc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	tx, err := w.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO premium_users (id, doc) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc`,
		rec.ID, recDoc,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription record: %w", err)
	}

	_, err = tx.Exec(ctx, `UPDATE users SET doc = $2 WHERE id = $1`, p.ID, profDoc)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit premium grant: %w", err)
	}

	w.logger.Info("Premium grant committed",
		zap.String("account_id", p.ID),
		zap.String("record_id", rec.ID),
	)
	return nil
}

var _ outbound.ProfileRepository = (*ProfileRepository)(nil)
var _ outbound.SubscriptionRepository = (*SubscriptionRepository)(nil)
var _ outbound.PremiumWriter = (*PremiumWriter)(nil)
