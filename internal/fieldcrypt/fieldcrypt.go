// Package fieldcrypt encrypts sensitive columns at the persistence boundary.
// Application code always sees plaintext; ciphertext only exists between the
// GORM Valuer/Scanner calls and the database. The key is derived once from
// APP_KEY at bootstrap (SetKey) or lazily from the environment.
package fieldcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"database/sql/driver"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Ciphertext layout: "v1:" + base64(nonce | aes-gcm sealed plaintext).
const prefix = "v1:"

var (
	keyOnce sync.Once
	key     []byte
)

// SetKey derives the AES key from the given secret. Call once at bootstrap;
// later calls are ignored.
func SetKey(secret string) {
	keyOnce.Do(func() {
		sum := sha256.Sum256([]byte(secret))
		key = sum[:]
	})
}

func encryptionKey() []byte {
	keyOnce.Do(func() {
		secret := os.Getenv("APP_KEY")
		if secret == "" {
			secret = "devappkey"
		}
		sum := sha256.Sum256([]byte(secret))
		key = sum[:]
	})
	return key
}

// Encrypt seals plaintext with AES-256-GCM under the app key.
func Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(encryptionKey())
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Fails on unknown prefix, bad base64, or a key
// mismatch.
func Decrypt(token string) (string, error) {
	if !strings.HasPrefix(token, prefix) {
		return "", errors.New("fieldcrypt: unknown ciphertext format")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(token, prefix))
	if err != nil {
		return "", fmt.Errorf("fieldcrypt: decode: %w", err)
	}
	block, err := aes.NewCipher(encryptionKey())
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(raw) < gcm.NonceSize() {
		return "", errors.New("fieldcrypt: ciphertext too short")
	}
	plain, err := gcm.Open(nil, raw[:gcm.NonceSize()], raw[gcm.NonceSize():], nil)
	if err != nil {
		return "", fmt.Errorf("fieldcrypt: open: %w", err)
	}
	return string(plain), nil
}

// DecryptOrLegacy is the compatibility shim for rows written before field
// encryption was introduced: anything that does not decrypt is returned as-is.
// Remove once all stored rows are migrated to the v1 format.
func DecryptOrLegacy(stored string) string {
	plain, err := Decrypt(stored)
	if err != nil {
		return stored
	}
	return plain
}

// EncryptedString is a string column encrypted at rest. Use it as a model
// field type; reads and writes go through Encrypt/Decrypt transparently.
type EncryptedString string

// Value implements driver.Valuer: encrypt on write.
func (e EncryptedString) Value() (driver.Value, error) {
	if e == "" {
		return "", nil
	}
	return Encrypt(string(e))
}

// Scan implements sql.Scanner: decrypt on read, with the legacy fallback.
func (e *EncryptedString) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*e = ""
	case string:
		*e = EncryptedString(DecryptOrLegacy(v))
	case []byte:
		*e = EncryptedString(DecryptOrLegacy(string(v)))
	default:
		return fmt.Errorf("fieldcrypt: cannot scan %T into EncryptedString", value)
	}
	return nil
}

// GormDataType keeps the column a plain text type despite the custom Go type.
func (EncryptedString) GormDataType() string { return "text" }
