// Package crypto signs exchange requests and keeps API secrets sealed at
// rest.
package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"os"

	"github.com/sugawarayuuta/sonnet"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

// scrypt cost for newly sealed files. Opening uses the parameters stored
// in the file.
const (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
	saltLen = 16
)

const sealedFormat = "tarbot-secret/scrypt-xchacha20poly1305"

// ErrWrongPassword is returned when a sealed secret fails authentication.
var ErrWrongPassword = errors.New("crypto: wrong password or corrupted secret file")

// sealedSecret is the JSON layout of a secret file. Sealed holds the nonce
// followed by the ciphertext.
type sealedSecret struct {
	Format string `json:"format"`
	N      int    `json:"n"`
	R      int    `json:"r"`
	P      int    `json:"p"`
	Salt   []byte `json:"salt"`
	Sealed []byte `json:"sealed"`
}

// SecretConfig locates an exchange API secret.
type SecretConfig struct {
	Raw           string // used as is when set
	EncryptedPath string // file written by EncryptSecret
	Password      string // opens EncryptedPath
}

// EncryptSecret seals secret under password and returns the file contents.
func EncryptSecret(secret, password string) ([]byte, error) {
	switch {
	case password == "":
		return nil, errors.New("crypto: empty password")
	case secret == "":
		return nil, errors.New("crypto: empty secret")
	}

	s := sealedSecret{Format: sealedFormat, N: scryptN, R: scryptR, P: scryptP, Salt: make([]byte, saltLen)}
	if _, err := rand.Read(s.Salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	aead, err := s.aead(password)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(secret)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}
	s.Sealed = aead.Seal(nonce, nonce, []byte(secret), []byte(sealedFormat))
	return sonnet.MarshalIndent(s, "", "  ")
}

// DecryptSecret opens a file written by EncryptSecret.
func DecryptSecret(blob []byte, password string) (string, error) {
	var s sealedSecret
	if err := sonnet.Unmarshal(blob, &s); err != nil {
		return "", fmt.Errorf("crypto: parse secret file: %w", err)
	}
	if s.Format != sealedFormat {
		return "", fmt.Errorf("crypto: unknown secret format %q", s.Format)
	}
	aead, err := s.aead(password)
	if err != nil {
		return "", err
	}
	if len(s.Sealed) < aead.NonceSize() {
		return "", ErrWrongPassword
	}
	nonce, box := s.Sealed[:aead.NonceSize()], s.Sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, box, []byte(sealedFormat))
	if err != nil {
		return "", ErrWrongPassword
	}
	return string(plain), nil
}

func (s sealedSecret) aead(password string) (cipher.AEAD, error) {
	if password == "" {
		return nil, errors.New("crypto: empty password")
	}
	key, err := scrypt.Key([]byte(password), s.Salt, s.N, s.R, s.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, fmt.Errorf("crypto: derive key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	return aead, nil
}

// LoadSecret returns the raw secret if set, else opens the sealed file. No
// secret at all is not an error; the adapter is then limited to public
// endpoints.
func LoadSecret(cfg SecretConfig) (string, error) {
	if cfg.Raw != "" || cfg.EncryptedPath == "" {
		return cfg.Raw, nil
	}
	blob, err := os.ReadFile(cfg.EncryptedPath)
	if err != nil {
		return "", fmt.Errorf("crypto: read secret file: %w", err)
	}
	return DecryptSecret(blob, cfg.Password)
}
