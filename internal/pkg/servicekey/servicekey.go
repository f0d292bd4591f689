// Package servicekey authenticates collaborating services. Keys are opaque
// random strings; only their bcrypt hashes are configured.
package servicekey

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

const cost = 12

var ErrNoKeys = errors.New("no service keys configured")

// Hash returns the bcrypt hash of key.
func Hash(key string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	return string(b), err
}

// Generate returns a new random key with a recognisable prefix.
func Generate() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "lsk_" + base64.RawURLEncoding.EncodeToString(buf), nil
}

// Verifier checks presented keys against a fixed set of hashes. Keys that
// verified once are remembered by digest so bcrypt runs once per key.
type Verifier struct {
	hashes   [][]byte
	verified sync.Map // [32]byte -> struct{}
}

func NewVerifier(hashes []string) (*Verifier, error) {
	v := &Verifier{}
	for _, h := range hashes {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if _, err := bcrypt.Cost([]byte(h)); err != nil {
			return nil, err
		}
		v.hashes = append(v.hashes, []byte(h))
	}
	if len(v.hashes) == 0 {
		return nil, ErrNoKeys
	}
	return v, nil
}

// Verify reports whether key matches any configured hash.
func (v *Verifier) Verify(key string) bool {
	if key == "" {
		return false
	}
	digest := sha256.Sum256([]byte(key))
	if _, ok := v.verified.Load(digest); ok {
		return true
	}
	for _, h := range v.hashes {
		if bcrypt.CompareHashAndPassword(h, []byte(key)) == nil {
			v.verified.Store(digest, struct{}{})
			return true
		}
	}
	return false
}
