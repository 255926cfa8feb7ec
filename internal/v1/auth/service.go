// Package auth verifies credentials, mints bearer tokens, and owns the
// user store. Tokens are opaque to clients; the server validates them with
// a signing-key MAC (HS256 by default).
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Error taxonomy surfaced to the gateway. Handlers map these onto the
// structured {success:false, error:<kind>} response shapes.
var (
	ErrBadCredentials = errors.New("invalid name or password")
	ErrNameTaken      = errors.New("name already taken")
	ErrUserNotFound   = errors.New("user not found")
	ErrTokenInvalid   = errors.New("token invalid")
	ErrTokenExpired   = errors.New("token expired")
)

// Defaults for a freshly registered account.
const (
	defaultCoins  = 1000
	defaultRating = 1200
	defaultLevel  = 1
)

// Claims binds a token to a user id with an expiry.
type Claims struct {
	jwt.RegisteredClaims
}

// Service verifies credentials and issues tokens against a Store.
type Service struct {
	store  Store
	secret []byte
	expiry time.Duration
	method jwt.SigningMethod
}

// NewService builds an auth service. algorithm selects the keyed MAC
// variant; anything unrecognized falls back to HS256.
func NewService(store Store, secret string, expireHours int, algorithm string) *Service {
	method := jwt.GetSigningMethod(algorithm)
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		method = jwt.SigningMethodHS256
	}
	return &Service{
		store:  store,
		secret: []byte(secret),
		expiry: time.Duration(expireHours) * time.Hour,
		method: method,
	}
}

// Store exposes the underlying user store to sibling services.
func (s *Service) Store() Store {
	return s.store
}

// Register creates a new user with default inventory.
func (s *Service) Register(name, password, displayName string) (*User, error) {
	if name == "" || password == "" {
		return nil, ErrBadCredentials
	}
	if displayName == "" {
		displayName = name
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &User{
		Name:         name,
		DisplayName:  displayName,
		Level:        defaultLevel,
		Coins:        defaultCoins,
		Rating:       defaultRating,
		PasswordHash: hash,
	}
	if err := s.store.Create(u); err != nil {
		return nil, err
	}
	return u, nil
}

// Login checks the password against the stored hash and mints a token.
// bcrypt's comparison is constant-time with respect to the hash.
func (s *Service) Login(name, password string) (*User, string, error) {
	u, ok := s.store.GetByName(name)
	if !ok {
		// Burn a comparison anyway so a missing name costs the same as a
		// wrong password.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, "", ErrBadCredentials
	}

	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return nil, "", ErrBadCredentials
	}

	token, err := s.mint(u.ID)
	if err != nil {
		return nil, "", err
	}

	_ = s.store.Update(u.ID, func(stored *User) {
		stored.LastLogin = time.Now()
	})
	return u, token, nil
}

// TokenLogin verifies signature and expiry and resolves the user.
func (s *Service) TokenLogin(token string) (*User, error) {
	id, err := s.verify(token)
	if err != nil {
		return nil, err
	}
	u, ok := s.store.GetByID(id)
	if !ok {
		return nil, ErrUserNotFound
	}
	_ = s.store.Update(u.ID, func(stored *User) {
		stored.LastLogin = time.Now()
	})
	return u, nil
}

// ExpirySeconds reports the configured token lifetime.
func (s *Service) ExpirySeconds() int {
	return int(s.expiry / time.Second)
}

func (s *Service) mint(userID string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
	}
	signed, err := jwt.NewWithClaims(s.method, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (s *Service) verify(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", ErrTokenInvalid
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return "", ErrTokenInvalid
	}
	return claims.Subject, nil
}

// dummyHash keeps failed-name logins on the same code path cost as failed
// passwords. Generated once at init from a throwaway input.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("partyhub-dummy"), bcrypt.DefaultCost)
