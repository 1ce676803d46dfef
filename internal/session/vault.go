// Package session keeps per-user interaction state encrypted in memory.
//
// A master key is derived once per process from the configured secret with
// argon2id. Each session gets its own subkey through HKDF salted with the
// session ID, so a blob only opens under the session it was sealed for.
// Blobs are authenticated with XChaCha20-Poly1305; any modification fails
// with ErrSessionTampered.
package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"imgshift/internal/services"
)

const (
	blobVersion = byte(1)
	keySize     = chacha20poly1305.KeySize
	hkdfInfo    = "imgshift session v1"
	// MinSaltBytes is the shortest salt accepted for key derivation.
	MinSaltBytes = 16
)

// ErrSessionTampered is returned when a blob fails authentication.
var ErrSessionTampered = fmt.Errorf("%w: session blob failed authentication", services.ErrTampered)

// Options configures key derivation.
type Options struct {
	Secret    string
	Salt      []byte
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

// Vault seals and unseals session blobs.
type Vault struct {
	master []byte
}

// NewVault derives the master key. It is slow by construction and should run
// once at startup.
func NewVault(opts Options) (*Vault, error) {
	if opts.Secret == "" {
		return nil, errors.New("session secret is required")
	}
	if len(opts.Salt) < MinSaltBytes {
		return nil, fmt.Errorf("session salt must be at least %d bytes", MinSaltBytes)
	}
	if opts.Time == 0 {
		opts.Time = 1
	}
	if opts.MemoryKiB == 0 {
		opts.MemoryKiB = 64 * 1024
	}
	if opts.Threads == 0 {
		opts.Threads = 4
	}
	master := argon2.IDKey([]byte(opts.Secret), opts.Salt, opts.Time, opts.MemoryKiB, opts.Threads, keySize)
	return &Vault{master: master}, nil
}

// SaltFromHex decodes a configured salt. An empty value yields a random salt,
// which makes blobs unreadable after a restart.
func SaltFromHex(value string) ([]byte, error) {
	if value == "" {
		salt := make([]byte, MinSaltBytes)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("generate session salt: %w", err)
		}
		return salt, nil
	}
	salt, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("decode session salt: %w", err)
	}
	return salt, nil
}

func (v *Vault) subkey(sessionID string) ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, v.master, []byte(sessionID), []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}
	return key, nil
}

func additionalData(sessionID string) []byte {
	return append([]byte{blobVersion}, sessionID...)
}

// Seal encrypts plaintext for sessionID. The blob layout is
// version || nonce || ciphertext.
func (v *Vault) Seal(sessionID string, plaintext []byte) ([]byte, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	key, err := v.subkey(sessionID)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	blob := make([]byte, 1+aead.NonceSize(), 1+aead.NonceSize()+len(plaintext)+aead.Overhead())
	blob[0] = blobVersion
	if _, err := rand.Read(blob[1:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(blob, blob[1:], plaintext, additionalData(sessionID)), nil
}

// Unseal authenticates and decrypts blob for sessionID.
func (v *Vault) Unseal(sessionID string, blob []byte) ([]byte, error) {
	key, err := v.subkey(sessionID)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	if len(blob) < 1+aead.NonceSize()+aead.Overhead() || blob[0] != blobVersion {
		return nil, ErrSessionTampered
	}
	nonce := blob[1 : 1+aead.NonceSize()]
	plaintext, err := aead.Open(nil, nonce, blob[1+aead.NonceSize():], additionalData(sessionID))
	if err != nil {
		return nil, ErrSessionTampered
	}
	return plaintext, nil
}
