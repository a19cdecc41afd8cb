package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/punchamoorthee/walletops/internal/domain"
)

const (
	APIKeyPrefix = "sk_live_"
	HeaderAPIKey = "x-api-key"

	apiKeyRandomBytes = 24
	displayPrefixLen  = 12
)

// KeyMaterial is a freshly generated key. Raw is shown to the caller once and
// never persisted.
type KeyMaterial struct {
	Raw    string
	Hash   string
	Prefix string
}

func GenerateAPIKey() (KeyMaterial, error) {
	b := make([]byte, apiKeyRandomBytes)
	if _, err := rand.Read(b); err != nil {
		return KeyMaterial{}, fmt.Errorf("generate api key: %w", err)
	}
	raw := APIKeyPrefix + hex.EncodeToString(b)
	return KeyMaterial{
		Raw:    raw,
		Hash:   HashAPIKey(raw),
		Prefix: raw[:displayPrefixLen] + "...",
	}, nil
}

// HashAPIKey is the one-way lookup hash stored in place of the raw key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// ExpiryFrom turns an expiry code (1H, 1D, 1M, 1Y) into an absolute time.
func ExpiryFrom(code string, now time.Time) (time.Time, error) {
	switch code {
	case "1H":
		return now.Add(time.Hour), nil
	case "1D":
		return now.Add(24 * time.Hour), nil
	case "1M":
		return now.AddDate(0, 1, 0), nil
	case "1Y":
		return now.AddDate(1, 0, 0), nil
	default:
		return time.Time{}, domain.ErrInvalidExpiry
	}
}
