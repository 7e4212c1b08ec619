// Package local provides an identity provider backed by in-process
// credential storage. It implements the same port as the hosted provider so
// the account service never knows which one it is talking to.
package local

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/platefull/v1/internal/ports/outbound"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 6

type account struct {
	uid          string
	email        string
	displayName  string
	passwordHash string
	createdAt    time.Time
}

// Provider implements outbound.IdentityService with bcrypt credentials and
// JWT session tokens
type Provider struct {
	jwtSecret  string
	jwtTTL     time.Duration
	bcryptCost int
	logger     *zap.Logger

	mu       sync.RWMutex
	accounts map[string]*account // keyed by lower-cased email
	session  *outbound.Session
}

// NewProvider creates a new local identity provider
func NewProvider(jwtSecret string, jwtTTL time.Duration, bcryptCost int, logger *zap.Logger) *Provider {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	if jwtTTL == 0 {
		jwtTTL = 24 * time.Hour
	}
	return &Provider{
		jwtSecret:  jwtSecret,
		jwtTTL:     jwtTTL,
		bcryptCost: bcryptCost,
		logger:     logger.Named("local-identity"),
		accounts:   make(map[string]*account),
	}
}

// CreateAccount registers credentials, sets the display name, and returns a
// signed-in session
func (p *Provider) CreateAccount(ctx context.Context, email, password, displayName string) (*outbound.Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	if !strings.Contains(email, "@") {
		return nil, &outbound.ProviderError{Code: outbound.ProviderInvalidEmail, Message: "malformed email address"}
	}
	if len(password) < minPasswordLength {
		return nil, &outbound.ProviderError{Code: outbound.ProviderWeakPassword, Message: "password too short"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.bcryptCost)
	if err != nil {
		return nil, &outbound.ProviderError{Code: outbound.ProviderNetworkError, Message: err.Error()}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.accounts[email]; exists {
		return nil, &outbound.ProviderError{Code: outbound.ProviderEmailExists, Message: "email already registered"}
	}

	acc := &account{
		uid:          uuid.NewString(),
		email:        email,
		displayName:  displayName,
		passwordHash: string(hash),
		createdAt:    time.Now(),
	}
	p.accounts[email] = acc

	session, err := p.newSession(acc)
	if err != nil {
		return nil, err
	}
	p.session = session

	p.logger.Info("Account registered", zap.String("uid", acc.uid))
	return session, nil
}

// SignIn checks credentials and returns a fresh session
func (p *Provider) SignIn(ctx context.Context, email, password string) (*outbound.Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	p.mu.Lock()
	defer p.mu.Unlock()

	acc, exists := p.accounts[email]
	if !exists {
		return nil, &outbound.ProviderError{Code: outbound.ProviderUserNotFound, Message: "no account for email"}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(acc.passwordHash), []byte(password)); err != nil {
		p.logger.Warn("Invalid password attempt", zap.String("uid", acc.uid))
		return nil, &outbound.ProviderError{Code: outbound.ProviderInvalidCredential, Message: "wrong password"}
	}

	session, err := p.newSession(acc)
	if err != nil {
		return nil, err
	}
	p.session = session

	return session, nil
}

// SignOut clears the active session
func (p *Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session = nil
	return nil
}

// CurrentSession returns the active session, or nil when signed out
func (p *Provider) CurrentSession() *outbound.Session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.session
}

// newSession issues a signed JWT for the account. Callers hold p.mu.
func (p *Provider) newSession(acc *account) (*outbound.Session, error) {
	now := time.Now()

	claims := jwt.RegisteredClaims{
		Subject:   acc.uid,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(p.jwtTTL)),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(p.jwtSecret))
	if err != nil {
		return nil, &outbound.ProviderError{Code: outbound.ProviderNetworkError, Message: err.Error()}
	}

	return &outbound.Session{
		UID:      acc.uid,
		Email:    acc.email,
		Token:    token,
		IssuedAt: now,
	}, nil
}
