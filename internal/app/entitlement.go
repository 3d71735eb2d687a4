package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/skyvaultex/chrono-license-service/internal/domain"
)

const entitlementIssuer = "chrono-license-service"

// EntitlementClaims is the payload of an offline entitlement token. Clients
// holding a fresh token can unlock their tier without reaching the service.
type EntitlementClaims struct {
	LicenseKey string      `json:"license_key"`
	Tier       domain.Tier `json:"tier"`
	DeviceID   string      `json:"device_id,omitempty"`
	jwt.RegisteredClaims
}

// EntitlementSigner issues HS256 entitlement tokens.
type EntitlementSigner struct {
	secret []byte
	ttl    time.Duration
}

// NewEntitlementSigner returns nil when secret is empty, which disables tokens.
func NewEntitlementSigner(secret string, ttl time.Duration) *EntitlementSigner {
	if secret == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &EntitlementSigner{secret: []byte(secret), ttl: ttl}
}

// Sign issues a token that expires at the earlier of the license expiry and
// now plus the configured TTL.
func (s *EntitlementSigner) Sign(license *domain.License, deviceID string, now time.Time) (string, error) {
	expiresAt := now.Add(s.ttl)
	if license.ExpiresAt != nil && license.ExpiresAt.Before(expiresAt) {
		expiresAt = *license.ExpiresAt
	}

	claims := EntitlementClaims{
		LicenseKey: license.LicenseKey,
		Tier:       license.Tier,
		DeviceID:   deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    entitlementIssuer,
			Subject:   license.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign entitlement token: %w", err)
	}
	return token, nil
}

// Verify parses a token issued by Sign.
func (s *EntitlementSigner) Verify(tokenString string) (*EntitlementClaims, error) {
	claims := &EntitlementClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(entitlementIssuer),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	if !token.Valid {
		return nil, errors.Join(domain.ErrUnauthorized, errors.New("entitlement token is not valid"))
	}
	return claims, nil
}
