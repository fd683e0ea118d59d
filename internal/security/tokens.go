package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed, badly signed or of the wrong kind.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when an otherwise valid token is past its exp claim.
	ErrExpiredToken = errors.New("token expired")
	// ErrInvalidSecret is returned for empty or reused signing secrets.
	ErrInvalidSecret = errors.New("invalid signing secret")
)

const (
	// RefreshTokenType is the typ claim carried by refresh tokens.
	RefreshTokenType = "refresh"
	// ResetVerificationPurpose is the purpose claim carried by reset-verification tokens.
	ResetVerificationPurpose = "password_reset_verification"
	// ResetSecretSuffix is appended to the access secret to derive the reset-verification secret.
	ResetSecretSuffix = "_reset_verification"
	// ResetVerificationTTL is the fixed lifetime of reset-verification tokens.
	ResetVerificationTTL = 10 * time.Minute
)

// AccessClaims holds JWT claims for the access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

// RefreshClaims holds JWT claims for the refresh token.
type RefreshClaims struct {
	jwt.RegisteredClaims
	Type string `json:"typ"`
}

// ResetClaims holds JWT claims for the reset-verification token.
type ResetClaims struct {
	jwt.RegisteredClaims
	Purpose string `json:"purpose"`
}

// TokenProvider issues and validates HS256 tokens. Access, refresh and reset-verification
// tokens each use their own secret, so a token of one kind never validates as another.
type TokenProvider struct {
	accessSecret  []byte
	refreshSecret []byte
	resetSecret   []byte
	issuer        string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// NewTokenProvider returns a TokenProvider. accessSecret and refreshSecret must be non-empty and distinct.
func NewTokenProvider(accessSecret, refreshSecret, issuer string, accessTTL, refreshTTL time.Duration) (*TokenProvider, error) {
	if accessSecret == "" || refreshSecret == "" || accessSecret == refreshSecret {
		return nil, ErrInvalidSecret
	}
	return &TokenProvider{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		resetSecret:   []byte(accessSecret + ResetSecretSuffix),
		issuer:        issuer,
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}, nil
}

// WithClock replaces the time source used for issuing and validating tokens.
func (p *TokenProvider) WithClock(now func() time.Time) *TokenProvider {
	p.now = now
	return p
}

// RefreshTTL returns the refresh token lifetime.
func (p *TokenProvider) RefreshTTL() time.Duration {
	return p.refreshTTL
}

// IssueAccess issues an access JWT carrying the user id, email and active role.
func (p *TokenProvider) IssueAccess(userID, email, role string) (token string, expiresAt time.Time, err error) {
	reg, expiresAt, err := p.registered(userID, p.accessTTL)
	if err != nil {
		return "", time.Time{}, err
	}
	token, err = sign(AccessClaims{RegisteredClaims: reg, Email: email, Role: role}, p.accessSecret)
	return token, expiresAt, err
}

// IssueRefresh issues a refresh JWT. Every call yields a distinct token (unique jti).
func (p *TokenProvider) IssueRefresh(userID string) (token string, expiresAt time.Time, err error) {
	reg, expiresAt, err := p.registered(userID, p.refreshTTL)
	if err != nil {
		return "", time.Time{}, err
	}
	token, err = sign(RefreshClaims{RegisteredClaims: reg, Type: RefreshTokenType}, p.refreshSecret)
	return token, expiresAt, err
}

// IssueResetVerification issues a reset-verification JWT valid for ResetVerificationTTL.
func (p *TokenProvider) IssueResetVerification(userID string) (token string, expiresAt time.Time, err error) {
	reg, expiresAt, err := p.registered(userID, ResetVerificationTTL)
	if err != nil {
		return "", time.Time{}, err
	}
	token, err = sign(ResetClaims{RegisteredClaims: reg, Purpose: ResetVerificationPurpose}, p.resetSecret)
	return token, expiresAt, err
}

// ValidateAccess parses and validates an access token (signature, exp, iss).
func (p *TokenProvider) ValidateAccess(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := p.parse(tokenString, claims, p.accessSecret); err != nil {
		return nil, err
	}
	return claims, nil
}

// ValidateRefresh parses and validates a refresh token and returns its subject.
// A correctly signed but expired token returns its subject together with ErrExpiredToken,
// so callers can still match it against the stored token before reporting expiry.
func (p *TokenProvider) ValidateRefresh(tokenString string) (userID string, err error) {
	claims := &RefreshClaims{}
	err = p.parse(tokenString, claims, p.refreshSecret)
	if err != nil && err != ErrExpiredToken {
		return "", err
	}
	if claims.Type != RefreshTokenType || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, err
}

// ValidateResetVerification parses and validates a reset-verification token and returns its subject.
func (p *TokenProvider) ValidateResetVerification(tokenString string) (userID string, err error) {
	claims := &ResetClaims{}
	if err := p.parse(tokenString, claims, p.resetSecret); err != nil {
		return "", err
	}
	if claims.Purpose != ResetVerificationPurpose || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

func (p *TokenProvider) registered(userID string, ttl time.Duration) (jwt.RegisteredClaims, time.Time, error) {
	jti, err := generateJTI()
	if err != nil {
		return jwt.RegisteredClaims{}, time.Time{}, err
	}
	now := p.now().UTC()
	expiresAt := now.Add(ttl)
	return jwt.RegisteredClaims{
		ID:        jti,
		Subject:   userID,
		Issuer:    p.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}, expiresAt, nil
}

func (p *TokenProvider) parse(tokenString string, claims jwt.Claims, secret []byte) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		return ErrInvalidToken
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}

func sign(claims jwt.Claims, secret []byte) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
