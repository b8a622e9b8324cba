package security

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/aq2208/gcheckout/configs"
)

// Keyring holds the active AES-256 key and the retired ones still needed to
// open old ciphertexts.
type Keyring struct {
	ActiveID string
	Keys     map[string][]byte
}

func LoadKeyring(c configs.CryptoConfig) (*Keyring, error) {
	if c.AES256B64 == "" {
		return nil, errors.New("missing aes256_b64url")
	}
	id := c.KeyID
	if id == "" {
		id = "v1"
	}
	kr := &Keyring{ActiveID: id, Keys: map[string][]byte{}}
	key, err := decodeKey(c.AES256B64)
	if err != nil {
		return nil, fmt.Errorf("decode aes256_b64url: %w", err)
	}
	kr.Keys[id] = key
	for rid, enc := range c.Retired {
		if rid == id {
			return nil, fmt.Errorf("retired key %q is also the active key", rid)
		}
		k, err := decodeKey(enc)
		if err != nil {
			return nil, fmt.Errorf("decode retired key %q: %w", rid, err)
		}
		kr.Keys[rid] = k
	}
	return kr, nil
}

func decodeKey(s string) ([]byte, error) {
	key, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("aes key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}
