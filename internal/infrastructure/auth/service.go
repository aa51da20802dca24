// Package auth issues and verifies identities for the API server.
// Accounts live in the same key-value store as study stats.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/studyhub/study-companion/internal/domain/identity"
	"github.com/studyhub/study-companion/internal/domain/shared"
	"github.com/studyhub/study-companion/internal/domain/study"
	"github.com/studyhub/study-companion/pkg/logger"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 8

// Config holds token and hashing settings.
type Config struct {
	Secret     string
	TokenTTL   time.Duration
	BcryptCost int
	Issuer     string
}

// DefaultConfig returns defaults suitable for development.
func DefaultConfig() Config {
	return Config{
		TokenTTL:   24 * time.Hour,
		BcryptCost: bcrypt.DefaultCost,
		Issuer:     "study-companion",
	}
}

// Account is the stored form of a local user.
type Account struct {
	UserID       string    `json:"userId"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName"`
	PasswordHash string    `json:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Identity returns the public identity of the account.
func (a Account) Identity() identity.Identity {
	return identity.Identity{
		UserID:      a.UserID,
		DisplayName: shared.DisplayNameOrDefault(a.DisplayName),
		Email:       a.Email,
	}
}

// Claims are the JWT claims of a session token.
type Claims struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Token is a signed token and its expiry.
type Token struct {
	AccessToken string            `json:"accessToken"`
	ExpiresAt   time.Time         `json:"expiresAt"`
	Identity    identity.Identity `json:"identity"`
}

// Service registers accounts and issues tokens.
type Service struct {
	store     study.Store
	cfg       Config
	publisher shared.EventPublisher
	log       *logger.Logger
	now       func() time.Time

	// serializes the exists-check and write of Register
	mu sync.Mutex
}

// NewService creates an auth service. publisher and log may be nil.
func NewService(store study.Store, cfg Config, publisher shared.EventPublisher, log *logger.Logger) *Service {
	def := DefaultConfig()
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = def.TokenTTL
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = def.BcryptCost
	}
	if cfg.Issuer == "" {
		cfg.Issuer = def.Issuer
	}
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		store:     store,
		cfg:       cfg,
		publisher: publisher,
		log:       log.With(logger.Component("auth")),
		now:       time.Now,
	}
}

// Register creates a local account and returns its identity.
func (s *Service) Register(ctx context.Context, email, password, displayName string) (identity.Identity, error) {
	addr, err := shared.NewEmail(email)
	if err != nil {
		return identity.Identity{}, err
	}
	if len(password) < MinPasswordLength {
		return identity.Identity{}, shared.ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return identity.Identity{}, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := study.AccountKey(addr.String())
	if _, found, err := s.store.Get(ctx, key); err != nil {
		return identity.Identity{}, shared.ErrStorageRead.Wrap(err)
	} else if found {
		return identity.Identity{}, shared.ErrAccountExists
	}

	acc := Account{
		UserID:       uuid.NewString(),
		Email:        addr.String(),
		DisplayName:  shared.DisplayNameOrDefault(displayName),
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}
	raw, err := json.Marshal(acc)
	if err != nil {
		return identity.Identity{}, fmt.Errorf("encode account: %w", err)
	}
	if err := s.store.Set(ctx, key, string(raw)); err != nil {
		return identity.Identity{}, shared.ErrStorageWrite.Wrap(err)
	}

	s.log.Info("account registered", logger.UserID(acc.UserID))
	if err := s.publisher.Publish(shared.NewUserRegisteredEvent(acc.UserID, acc.Email, acc.DisplayName, acc.CreatedAt)); err != nil {
		s.log.Warn("publish registration failed", logger.Err(err))
	}
	return acc.Identity(), nil
}

// Login checks credentials and returns a signed token.
func (s *Service) Login(ctx context.Context, email, password string) (Token, error) {
	addr, err := shared.NewEmail(email)
	if err != nil {
		return Token{}, shared.ErrInvalidCredentials
	}

	acc, err := s.account(ctx, addr.String())
	if err != nil {
		return Token{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return Token{}, shared.ErrInvalidCredentials
	}
	return s.Issue(acc.Identity())
}

func (s *Service) account(ctx context.Context, email string) (Account, error) {
	raw, found, err := s.store.Get(ctx, study.AccountKey(email))
	if err != nil {
		return Account{}, shared.ErrStorageRead.Wrap(err)
	}
	if !found {
		return Account{}, shared.ErrInvalidCredentials
	}
	var acc Account
	if err := json.Unmarshal([]byte(raw), &acc); err != nil {
		return Account{}, shared.ErrCorruptRecord.Wrap(err)
	}
	return acc, nil
}

// Issue signs a token for id.
func (s *Service) Issue(id identity.Identity) (Token, error) {
	if id.IsZero() {
		return Token{}, shared.ErrNoIdentity
	}
	now := s.now()
	exp := now.Add(s.cfg.TokenTTL)
	claims := Claims{
		Name:  id.Name(),
		Email: id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    s.cfg.Issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{AccessToken: signed, ExpiresAt: exp, Identity: id}, nil
}

// Verify parses a token and returns the identity it carries.
func (s *Service) Verify(token string) (identity.Identity, error) {
	if token == "" {
		return identity.Identity{}, shared.ErrInvalidToken
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(s.cfg.Secret), nil
	})
	if err != nil {
		return identity.Identity{}, shared.ErrInvalidToken.Wrap(err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return identity.Identity{}, shared.ErrInvalidToken
	}
	return identity.Identity{
		UserID:      claims.Subject,
		DisplayName: shared.DisplayNameOrDefault(claims.Name),
		Email:       claims.Email,
	}, nil
}
