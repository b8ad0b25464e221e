// ABOUTME: Observer passcode check, configured either as plain text or as a bcrypt hash.
// ABOUTME: Comparisons take constant time whichever form is configured.

package auth

import (
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrNoPasscode is returned when neither a passcode nor a hash is configured.
var ErrNoPasscode = errors.New("no observer passcode configured")

// dummyHash keeps a rejected comparison as slow as a real one.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Passcode validates the passcode observers present in their auth message.
type Passcode struct {
	plain []byte
	hash  []byte
}

// NewPasscode creates a Passcode. When hash is set it takes precedence over plain.
func NewPasscode(plain, hash string) (*Passcode, error) {
	if plain == "" && hash == "" {
		return nil, ErrNoPasscode
	}
	p := &Passcode{}
	if hash != "" {
		if !strings.HasPrefix(hash, "$2") {
			return nil, errors.New("passcode hash is not a bcrypt hash")
		}
		p.hash = []byte(hash)
	} else {
		p.plain = []byte(plain)
	}
	return p, nil
}

// Check reports whether candidate is the configured passcode.
func (p *Passcode) Check(candidate string) bool {
	if p.hash != nil {
		if candidate == "" {
			_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte("x"))
			return false
		}
		return bcrypt.CompareHashAndPassword(p.hash, []byte(candidate)) == nil
	}
	return subtle.ConstantTimeCompare(p.plain, []byte(candidate)) == 1
}

// HashPasscode returns a bcrypt hash suitable for the passcode_hash setting.
func HashPasscode(plain string) (string, error) {
	if plain == "" {
		return "", ErrNoPasscode
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
