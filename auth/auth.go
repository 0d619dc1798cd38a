// Package auth verifies client credentials against the server's stored
// secret.
//
// Three schemes exist, selected by how the stored secret string is encoded:
// no secret at all (every credential passes), a plaintext secret (exact
// match), and a salted scrypt hash of the form "algorithm$salt$hash".
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/scrypt"
)

// Authenticator checks a presented credential against a stored secret.
type Authenticator interface {
	// Authenticate reports whether the credential matches.
	Authenticate(credential string) bool
	// Required reports whether clients must present a credential at all.
	Required() bool
}

// ScryptAlgorithmID tags stored scrypt hashes. A stored secret whose first
// `$`-field equals this id is parsed as a hash.
const ScryptAlgorithmID = "scrypt"

// scrypt cost parameters. Fixed: changing them invalidates every stored
// hash, since the parameters are not encoded in the secret string.
const (
	scryptN      = 16384
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
	saltLen      = 16
)

// ErrMalformedSecret indicates a hash-shaped secret whose salt or hash
// field is not valid hex.
var ErrMalformedSecret = errors.New("malformed stored secret")

// None accepts every credential. Used when no secret is configured.
type None struct{}

// Authenticate always succeeds.
func (None) Authenticate(string) bool { return true }

// Required reports false: clients may connect without a credential.
func (None) Required() bool { return false }

// Plain matches the credential against a plaintext secret.
type Plain struct {
	secret string
}

// NewPlain creates a plaintext authenticator.
func NewPlain(secret string) *Plain {
	return &Plain{secret: secret}
}

// Authenticate succeeds iff the credential equals the secret exactly.
func (p *Plain) Authenticate(credential string) bool {
	return subtle.ConstantTimeCompare([]byte(credential), []byte(p.secret)) == 1
}

// Required reports true.
func (p *Plain) Required() bool { return true }

// Scrypt matches the credential against a salted scrypt hash.
type Scrypt struct {
	salt []byte
	hash []byte
}

// NewScrypt parses a stored "scrypt$salt$hash" string. The caller has
// already split off and checked the algorithm id.
func NewScrypt(saltHex, hashHex string) (*Scrypt, error) {
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return nil, fmt.Errorf("%w: bad salt: %v", ErrMalformedSecret, err)
	}
	hash, err := hex.DecodeString(hashHex)
	if err != nil {
		return nil, fmt.Errorf("%w: bad hash: %v", ErrMalformedSecret, err)
	}
	return &Scrypt{salt: salt, hash: hash}, nil
}

// Authenticate recomputes scrypt(credential, salt) with the fixed cost
// parameters and compares against the stored hash.
func (s *Scrypt) Authenticate(credential string) bool {
	derived, err := scrypt.Key([]byte(credential), s.salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Authenticate",
			"error":    err.Error(),
		}).Error("scrypt derivation failed")
		return false
	}
	return subtle.ConstantTimeCompare(derived, s.hash) == 1
}

// Required reports true.
func (s *Scrypt) Required() bool { return true }

// NewStoredSecret hashes a secret into a storable "scrypt$salt$hash"
// string, drawing a fresh random salt each call. Two calls on the same
// secret therefore yield different strings that both authenticate it.
func NewStoredSecret(secret string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash, err := scrypt.Key([]byte(secret), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return "", err
	}
	return strings.Join([]string{
		ScryptAlgorithmID,
		hex.EncodeToString(salt),
		hex.EncodeToString(hash),
	}, "$"), nil
}

// Parse selects the authenticator for a stored-secret string: empty means
// None, three `$`-fields with a known algorithm id mean Scrypt, anything
// else is taken as plaintext.
//
// The heuristic is deliberately lossy: a plaintext secret that happens to
// look like "scrypt$x$y" is ambiguous and resolved in favor of the hash
// reading.
func Parse(stored string) (Authenticator, error) {
	if stored == "" {
		return None{}, nil
	}
	fields := strings.Split(stored, "$")
	if len(fields) == 3 && fields[0] == ScryptAlgorithmID {
		a, err := NewScrypt(fields[1], fields[2])
		if err != nil {
			return nil, err
		}
		logrus.WithFields(logrus.Fields{
			"function": "Parse",
			"scheme":   "scrypt",
		}).Debug("Parsed stored secret")
		return a, nil
	}
	logrus.WithFields(logrus.Fields{
		"function": "Parse",
		"scheme":   "plain",
	}).Debug("Parsed stored secret")
	return NewPlain(stored), nil
}
