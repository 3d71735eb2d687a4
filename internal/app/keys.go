package app

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/skyvaultex/chrono-license-service/internal/domain"
)

// licenseKeyAlphabet leaves out characters that are easy to misread (0/O, 1/I/L).
const licenseKeyAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

var licenseKeyPattern = regexp.MustCompile(`^(PRO|LIFE)-[2-9A-HJKMNP-Z]{4}-[2-9A-HJKMNP-Z]{4}-[2-9A-HJKMNP-Z]{4}$`)

// GenerateLicenseKey returns a random key such as PRO-7KQ2-M9XD-4HTW.
func GenerateLicenseKey(tier domain.Tier) (string, error) {
	var b strings.Builder
	b.WriteString(tier.KeyPrefix())

	max := big.NewInt(int64(len(licenseKeyAlphabet)))
	for group := 0; group < 3; group++ {
		b.WriteByte('-')
		for i := 0; i < 4; i++ {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return "", fmt.Errorf("generate license key: %w", err)
			}
			b.WriteByte(licenseKeyAlphabet[n.Int64()])
		}
	}
	return b.String(), nil
}

// IsWellFormedLicenseKey reports whether key has the generated shape.
func IsWellFormedLicenseKey(key string) bool {
	return licenseKeyPattern.MatchString(key)
}

// NormaliseLicenseKey trims and upper-cases a user-supplied key.
func NormaliseLicenseKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}
