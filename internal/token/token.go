// Package token mints and verifies the short-lived credentials that gate
// manifest downloads. Credentials are HS256 JWTs bound to one app identifier.
package token

import (
	stderrors "errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/R3E-Network/ipa_gateway/internal/errors"
)

// DefaultTTL is the lifetime of a freshly minted credential.
const DefaultTTL = 5 * time.Minute

// DefaultIssuer is the iss claim used when none is configured.
const DefaultIssuer = "ipa-gateway"

// ErrIdentifierMismatch is returned when a valid credential was minted for another app.
var ErrIdentifierMismatch = stderrors.New("token identifier does not match request identifier")

// Claims are the JWT claims embedded in a download credential.
type Claims struct {
	AppID   string `json:"id"`
	IPAName string `json:"ipa_name"`
	jwt.RegisteredClaims
}

// Config configures a Signer.
type Config struct {
	Secret []byte
	TTL    time.Duration
	Issuer string
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Signer mints and verifies credentials with a single shared HMAC secret.
type Signer struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewSigner creates a Signer. The secret must be non-empty.
func NewSigner(cfg Config) (*Signer, error) {
	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("token secret is required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = DefaultIssuer
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)

	return &Signer{
		secret: secret,
		ttl:    ttl,
		issuer: issuer,
		now:    now,
	}, nil
}

// TTL returns the lifetime applied to minted credentials.
func (s *Signer) TTL() time.Duration {
	return s.ttl
}

// Mint signs a new credential for appID and ipaName. Every call yields a distinct token.
func (s *Signer) Mint(appID, ipaName string) (string, *Claims, error) {
	issuedAt := s.now()
	claims := &Claims{
		AppID:   appID,
		IPAName: ipaName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   appID,
			Issuer:    s.issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

// Verify checks signature, algorithm, expiry and issuer, then binds the
// credential to appID. Every failure is an InvalidOrExpiredCredential error.
func (s *Signer) Verify(tokenString, appID string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
	)

	token, err := parser.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, errors.InvalidOrExpiredCredential(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.InvalidOrExpiredCredential(nil).WithDetails("reason", "invalid claims")
	}

	if claims.AppID != appID || claims.Subject != appID {
		return nil, errors.InvalidOrExpiredCredential(ErrIdentifierMismatch)
	}

	return claims, nil
}
