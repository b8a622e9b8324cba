package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Sealer encrypts data at rest. The associated data binds a ciphertext to
// its record, so a sealed blob copied under another key fails to open.
type Sealer interface {
	Seal(plaintext, aad []byte) ([]byte, error)
	Open(sealed, aad []byte) ([]byte, error)
}

var ErrUnknownKey = errors.New("sealed with an unknown key")

type gcmSealer struct {
	activeID string
	aeads    map[string]cipher.AEAD // AES-256-GCM per key id
}

func NewSealer(kr *Keyring) (Sealer, error) {
	if kr == nil || len(kr.Keys[kr.ActiveID]) == 0 {
		return nil, errors.New("active key required")
	}
	s := &gcmSealer{activeID: kr.ActiveID, aeads: make(map[string]cipher.AEAD, len(kr.Keys))}
	for id, key := range kr.Keys {
		if strings.Contains(id, ".") {
			return nil, fmt.Errorf("key id %q must not contain '.'", id)
		}
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("aes.NewCipher: %w", err)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("cipher.NewGCM: %w", err)
		}
		s.aeads[id] = aead
	}
	return s, nil
}

// Seal returns keyID "." nonce || ct.
func (s *gcmSealer) Seal(plaintext, aad []byte) ([]byte, error) {
	aead := s.aeads[s.activeID]
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("rand nonce: %w", err)
	}
	out := make([]byte, 0, len(s.activeID)+1+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, s.activeID...)
	out = append(out, '.')
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, aad), nil
}

func (s *gcmSealer) Open(sealed, aad []byte) ([]byte, error) {
	i := bytes.IndexByte(sealed, '.')
	if i <= 0 {
		return nil, errors.New("sealed value has no key id")
	}
	aead, ok := s.aeads[string(sealed[:i])]
	if !ok {
		return nil, ErrUnknownKey
	}
	body := sealed[i+1:]
	if len(body) < aead.NonceSize()+aead.Overhead() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ct := body[:aead.NonceSize()], body[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, fmt.Errorf("gcm open: %w", err)
	}
	return pt, nil
}
