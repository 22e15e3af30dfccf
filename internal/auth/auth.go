// Package auth issues and validates the bearer tokens of the operator API. Operators are a fixed
// list from configuration with bcrypt password hashes.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/BearBump/ShipTrack/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

const (
	TokenType       = "Bearer"
	DefaultTokenTTL = 24 * time.Hour
	MinSecretLen    = 32

	issuer = "shiptrack"
)

var ErrInvalidCredentials = errors.Wrap(models.ErrUnauthorized, "invalid credentials")

type User struct {
	Username     string
	PasswordHash string
}

type Token struct {
	AccessToken string
	TokenType   string
	Username    string
	ExpiresAt   time.Time
}

type Claims struct {
	jwt.RegisteredClaims
}

type Authenticator struct {
	secret []byte
	ttl    time.Duration
	users  map[string][]byte
	// compared against for unknown users so both paths cost one bcrypt check
	dummyHash []byte
	now       func() time.Time
}

func New(secret string, ttl time.Duration, users []User) (*Authenticator, error) {
	if len(secret) < MinSecretLen {
		return nil, errors.Errorf("jwt secret must be at least %d bytes", MinSecretLen)
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	a := &Authenticator{
		secret: []byte(secret),
		ttl:    ttl,
		users:  make(map[string][]byte, len(users)),
		now:    time.Now,
	}
	for _, u := range users {
		if u.Username == "" {
			return nil, errors.New("user without username")
		}
		if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
			return nil, errors.Wrapf(err, "user %s: password hash is not bcrypt", u.Username)
		}
		a.users[u.Username] = []byte(u.PasswordHash)
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("shiptrack"), bcrypt.MinCost)
	if err != nil {
		return nil, errors.Wrap(err, "dummy hash")
	}
	a.dummyHash = dummy
	return a, nil
}

// HashPassword returns the bcrypt hash to put in the users section of the config.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", errors.Wrap(err, "hash password")
	}
	return string(b), nil
}

func (a *Authenticator) Login(ctx context.Context, username, password string) (Token, error) {
	hash, ok := a.users[username]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(a.dummyHash, []byte(password))
		return Token{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return Token{}, ErrInvalidCredentials
	}

	now := a.now().UTC()
	exp := now.Add(a.ttl)
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   username,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return Token{}, errors.Wrap(err, "sign token")
	}
	return Token{AccessToken: signed, TokenType: TokenType, Username: username, ExpiresAt: exp}, nil
}

// Validate verifies signature, issuer and expiry and returns the username.
func (a *Authenticator) Validate(token string) (string, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return "", errors.Wrap(models.ErrUnauthorized, err.Error())
	}
	if _, ok := a.users[claims.Subject]; !ok {
		return "", errors.Wrap(models.ErrUnauthorized, "unknown user")
	}
	return claims.Subject, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, TokenType) {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

type ctxKey struct{}

func WithUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, ctxKey{}, username)
}

func UsernameFrom(ctx context.Context) (string, bool) {
	u, ok := ctx.Value(ctxKey{}).(string)
	return u, ok
}
