// Package encryption makes the sensitive ticket fields opaque at rest.
//
// Encoded values are self-describing: they start with Marker, which carries
// the scheme version, followed by base64url(nonce || sealed). Values without
// the marker are legacy plaintext written before encryption was enabled and
// are returned unchanged by Decrypt. Values starting with LegacyMarker were
// sealed by an earlier passphrase scheme whose key is gone; they are
// recognised as ciphertext but never opened.
package encryption

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Marker prefixes every value produced by Encrypt.
const Marker = "enc:v1:"

// ErrorPlaceholder replaces a field that could not be decrypted.
const ErrorPlaceholder = "[Error]"

// LegacyMarker is the base64 of the OpenSSL "Salted__" header.
const LegacyMarker = "U2FsdGVkX1"

const hkdfInfo = "ticketkp sensitive field key v1"

var (
	// ErrDecrypt is returned when an encoded value cannot be opened.
	ErrDecrypt = errors.New("encryption: decrypt field")
	// ErrNoKey is returned when an encoded value is read without a key.
	ErrNoKey = errors.New("encryption: no key configured")
	// ErrLegacyCiphertext is returned for values sealed by the passphrase scheme.
	ErrLegacyCiphertext = fmt.Errorf("%w: legacy passphrase ciphertext", ErrDecrypt)
)

// IsEncoded reports whether a stored value is ciphertext of either scheme. It
// is the single place that tells legacy plaintext apart from ciphertext.
func IsEncoded(value string) bool {
	return strings.HasPrefix(value, Marker) || strings.HasPrefix(value, LegacyMarker)
}

// Codec encrypts and decrypts individual field values.
type Codec struct {
	aead     cipher.AEAD
	readOnly bool
}

// NewCodec derives the field key from secret.
func NewCodec(secret string) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("encryption: empty secret")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("encryption: derive key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("encryption: init cipher: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// NewReadOnlyCodec decrypts values sealed with secret but stores new values
// as plaintext. It serves installations that turned encryption off.
func NewReadOnlyCodec(secret string) (*Codec, error) {
	c, err := NewCodec(secret)
	if err != nil {
		return nil, err
	}
	c.readOnly = true
	return c, nil
}

// NewPlaintextCodec returns a codec that stores values as-is. Encoded values
// already in the store still decode to ErrorPlaceholder since no key is known.
func NewPlaintextCodec() *Codec {
	return &Codec{}
}

// Enabled reports whether new values are encrypted.
func (c *Codec) Enabled() bool {
	return c.hasKey() && !c.readOnly
}

func (c *Codec) hasKey() bool {
	return c != nil && c.aead != nil
}

// Encrypt seals plaintext. Output always differs from the input and starts with Marker.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	if !c.Enabled() {
		return plaintext, nil
	}
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("encryption: nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), []byte(Marker))
	return Marker + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a stored value. Legacy plaintext is returned unchanged.
func (c *Codec) Decrypt(stored string) (string, error) {
	if !IsEncoded(stored) {
		return stored, nil
	}
	if !strings.HasPrefix(stored, Marker) {
		return "", ErrLegacyCiphertext
	}
	if !c.hasKey() {
		return "", ErrNoKey
	}
	raw, err := base64.RawURLEncoding.DecodeString(stored[len(Marker):])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if len(raw) < c.aead.NonceSize()+c.aead.Overhead() {
		return "", fmt.Errorf("%w: truncated value", ErrDecrypt)
	}
	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, sealed, []byte(Marker))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return string(plain), nil
}

// Reveal decrypts stored and substitutes ErrorPlaceholder on failure.
func (c *Codec) Reveal(stored string) (string, error) {
	plain, err := c.Decrypt(stored)
	if err != nil {
		return ErrorPlaceholder, err
	}
	return plain, nil
}
