// Package vault encrypts stored SSH private keys at rest.
//
// It wraps fernet symmetric encryption with a single process-wide key
// sourced from configuration at startup. A missing or malformed key is a
// configuration error: Init fails and the caller must refuse to serve
// rather than silently store plaintext.
package vault

import (
	"fmt"

	"github.com/fernet/fernet-go"
)

// Vault holds the decoded fernet key. Construct with Open; the zero value
// is unusable.
type Vault struct {
	key *fernet.Key
}

// Open decodes the base64 fernet key from configuration. An empty or
// undecodable key is rejected.
func Open(encoded string) (*Vault, error) {
	if encoded == "" {
		return nil, fmt.Errorf("encryption key is not configured")
	}
	key, err := fernet.DecodeKey(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	return &Vault{key: key}, nil
}

// GenerateKey returns a fresh encoded fernet key, for first-time setup.
func GenerateKey() string {
	var k fernet.Key
	k.Generate()
	return k.Encode()
}

// Encrypt seals plaintext into a fernet token.
func (v *Vault) Encrypt(plaintext []byte) (string, error) {
	tok, err := fernet.EncryptAndSign(plaintext, v.key)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return string(tok), nil
}

// Decrypt opens a fernet token. Tokens never expire; tampered or foreign
// tokens are rejected.
func (v *Vault) Decrypt(ciphertext string) ([]byte, error) {
	msg := fernet.VerifyAndDecrypt([]byte(ciphertext), 0, []*fernet.Key{v.key})
	if msg == nil {
		return nil, fmt.Errorf("decrypt: invalid token")
	}
	return msg, nil
}
