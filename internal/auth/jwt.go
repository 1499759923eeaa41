package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token roles
const (
	RoleDesigner = "designer"
	RolePlayer   = "player"
)

const (
	issuerName      = "grid-dungeon"
	defaultTokenTTL = 24 * time.Hour
	minSecretLength = 32
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrShortSecret  = errors.New("secret key must be at least 32 bytes")
)

// Claims represents JWT claims.
// Subject holds the principal id: username for designers, player id for players.
type Claims struct {
	Username string `json:"username,omitempty"`
	Role     string `json:"role"`
	IsAdmin  bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and validates HS256 tokens with a single secret.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates issuer. An empty secret is replaced with a random one,
// so tokens do not survive a restart.
func NewTokenIssuer(secret []byte, ttl time.Duration) (*TokenIssuer, error) {
	if len(secret) == 0 {
		secret = make([]byte, minSecretLength)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
	}
	if len(secret) < minSecretLength {
		return nil, ErrShortSecret
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &TokenIssuer{secret: secret, ttl: ttl, now: time.Now}, nil
}

// GenerateJWT creates a token for a designer account
func (i *TokenIssuer) GenerateJWT(user *User) (string, error) {
	return i.sign(&Claims{
		Username: user.Username,
		Role:     RoleDesigner,
		IsAdmin:  user.IsAdmin,
	}, user.Username)
}

// GeneratePlayerToken creates a token for a player of the dungeon
func (i *TokenIssuer) GeneratePlayerToken(playerID string) (string, error) {
	if playerID == "" {
		return "", errors.New("player id is empty")
	}
	return i.sign(&Claims{Role: RolePlayer}, playerID)
}

func (i *TokenIssuer) sign(claims *Claims, subject string) (string, error) {
	now := i.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		Issuer:    issuerName,
		Subject:   subject,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// ValidateJWT checks token validity and returns its claims
func (i *TokenIssuer) ValidateJWT(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return i.secret, nil
	},
		jwt.WithIssuer(issuerName),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	if claims.Role != RoleDesigner && claims.Role != RolePlayer {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}
	return claims, nil
}

// GenerateSecureSecret generates a new secure secret key in base64
func GenerateSecureSecret() (string, error) {
	b := make([]byte, minSecretLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
