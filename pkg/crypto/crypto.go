// Package crypto implements at-rest confidentiality for direct
// messages. Each conversation gets a deterministic symmetric key both
// participants derive independently from their user IDs and a shared
// process-wide secret; message bodies are sealed with AES-256-GCM under
// a key expanded from that conversation key.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"

	"golang.org/x/crypto/hkdf"
)

const (
	// AESKeySize is the size of AES-256 keys.
	AESKeySize = 32

	// NonceSize is the size of AES-GCM nonces.
	NonceSize = 12

	// TagSize is the size of AES-GCM authentication tags.
	TagSize = 16

	// HKDFInfo binds expanded keys to this use of the conversation key.
	HKDFInfo = "wavelink-conversation-v1"

	// DefaultRandomLength is the byte length SecureRandom uses when the
	// caller passes zero.
	DefaultRandomLength = 32

	idSeparator = "_"
)

var (
	ErrInvalidCiphertext = errors.New("ciphertext malformed or too short")
	ErrDecryptionFailed  = errors.New("decryption failed: authentication error")
	ErrEmptySecret       = errors.New("encryption secret is empty")
)

// DeriveConversationKey derives the symmetric key for a pair of
// participants: SHA-256 over the lexicographically sorted IDs joined
// with an underscore, concatenated with the shared secret, hex encoded.
// Symmetric by construction: DeriveConversationKey(a, b, s) equals
// DeriveConversationKey(b, a, s), which is what lets either participant
// derive the key without coordination.
func DeriveConversationKey(userA, userB, secret string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	sum := sha256.Sum256([]byte(userA + idSeparator + userB + secret))
	return hex.EncodeToString(sum[:])
}

// Encrypt seals plaintext with AES-256-GCM under the given conversation
// key. Output is base64(nonce || ciphertext || tag).
func Encrypt(plaintext, conversationKey string) (string, error) {
	gcm, err := newGCM(conversationKey)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. A payload that is not valid base64 (for
// example a message stored before encryption was enabled) is reported
// as ErrInvalidCiphertext rather than a panic, so callers can fall back.
func Decrypt(ciphertext, conversationKey string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	if len(raw) < NonceSize+TagSize {
		return "", ErrInvalidCiphertext
	}

	gcm, err := newGCM(conversationKey)
	if err != nil {
		return "", err
	}

	nonce, sealed := raw[:NonceSize], raw[NonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// newGCM expands the textual conversation key into an AES-256 key via
// HKDF-SHA256 and builds the AEAD.
func newGCM(conversationKey string) (cipher.AEAD, error) {
	key := make([]byte, AESKeySize)
	reader := hkdf.New(sha256.New, []byte(conversationKey), nil, []byte(HKDFInfo))
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("HKDF key expansion failed: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Cipher binds the process-wide secret to the convenience operations
// the messaging UI calls around message content. Its encrypt/decrypt
// paths fail open: on any error the input passes through unchanged, so
// a mis-keyed or corrupted message degrades to unreadable-but-visible
// text instead of crashing or getting lost. Tightening this to
// fail-closed only requires changing failOpen, not the call sites.
type Cipher struct {
	secret string
	logger *log.Logger
}

// NewCipher creates a Cipher around the shared secret.
func NewCipher(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Cipher{secret: secret}, nil
}

// SetLogger sets a logger for reporting fail-open fallbacks.
func (c *Cipher) SetLogger(logger *log.Logger) {
	c.logger = logger
}

func (c *Cipher) logf(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

// ConversationKey derives the key for a sender/receiver pair using the
// cipher's secret.
func (c *Cipher) ConversationKey(senderID, receiverID string) string {
	return DeriveConversationKey(senderID, receiverID, c.secret)
}

// EncryptForSending encrypts message content for the given pair,
// falling back to the plaintext if encryption fails.
func (c *Cipher) EncryptForSending(content, senderID, receiverID string) string {
	out, err := Encrypt(content, c.ConversationKey(senderID, receiverID))
	return c.failOpen("encrypt", out, err, content)
}

// DecryptReceived decrypts message content for the given pair, falling
// back to the raw payload if decryption fails.
func (c *Cipher) DecryptReceived(content, senderID, receiverID string) string {
	out, err := Decrypt(content, c.ConversationKey(senderID, receiverID))
	return c.failOpen("decrypt", out, err, content)
}

// failOpen is the fallback policy shared by the message paths: return
// the result on success, the untouched original on failure.
func (c *Cipher) failOpen(op, result string, err error, original string) string {
	if err != nil {
		c.logf("%s failed, passing content through: %v", op, err)
		return original
	}
	return result
}

// HashData computes a one-way hash of data mixed with the secret, for
// sensitive values that are compared but never read back.
func (c *Cipher) HashData(data string) string {
	sum := sha256.Sum256([]byte(data + c.secret))
	return hex.EncodeToString(sum[:])
}

// SecureRandom returns a cryptographically strong random token of the
// requested byte length, hex encoded. A non-positive length gets
// DefaultRandomLength.
func SecureRandom(length int) (string, error) {
	if length <= 0 {
		length = DefaultRandomLength
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
