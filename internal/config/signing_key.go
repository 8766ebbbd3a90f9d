package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// SigningKeyLength is the size of an ed25519 private key (seed + public key).
const SigningKeyLength = 64

// ErrInvalidSigningKey is returned for a key in neither accepted encoding.
var ErrInvalidSigningKey = errors.New("invalid signing key")

// SecretKey holds the custodial key bytes. Its formatted forms are redacted.
type SecretKey []byte

func (SecretKey) String() string   { return "[redacted]" }
func (SecretKey) GoString() string { return "[redacted]" }

// MarshalJSON keeps the key out of dumped configuration.
func (SecretKey) MarshalJSON() ([]byte, error) { return []byte(`"[redacted]"`), nil }

// ParseSigningKey accepts a JSON array of 64 byte values or a base58 string
// decoding to 64 bytes.
func ParseSigningKey(raw string) (SecretKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidSigningKey)
	}

	if strings.HasPrefix(raw, "[") {
		var ints []int
		if err := json.Unmarshal([]byte(raw), &ints); err != nil {
			return nil, fmt.Errorf("%w: byte array is not valid JSON", ErrInvalidSigningKey)
		}
		if len(ints) != SigningKeyLength {
			return nil, fmt.Errorf("%w: byte array has %d entries, want %d", ErrInvalidSigningKey, len(ints), SigningKeyLength)
		}
		key := make(SecretKey, SigningKeyLength)
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("%w: entry %d out of byte range", ErrInvalidSigningKey, i)
			}
			key[i] = byte(v)
		}
		return key, nil
	}

	decoded, err := base58.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: not base58", ErrInvalidSigningKey)
	}
	if len(decoded) != SigningKeyLength {
		return nil, fmt.Errorf("%w: base58 decodes to %d bytes, want %d", ErrInvalidSigningKey, len(decoded), SigningKeyLength)
	}
	return SecretKey(decoded), nil
}
