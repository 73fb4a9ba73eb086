// Package cryptutil implements symmetric at-rest encryption for user
// credentials and brokerage tokens. The ciphertext carries no MAC, so
// integrity is checked only as far as base64, length and PKCS#7 padding
// validation go.
//
// The wire format is grounded directly on the original service's
// app/usecases/services/encryption.py: AES-CBC with PKCS#7 padding, a fresh
// random IV per call, encoded as base64(ciphertext) concatenated with
// base64(iv). Since base64 of a 16-byte IV is always 24 characters,
// Decrypt recovers the IV by splitting on a fixed-length tail rather than
// framing it explicitly.
package cryptutil

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// ivBase64Len is the fixed length of base64-encoded AES IVs (16 raw bytes).
const ivBase64Len = 24

// DecryptError is returned when ciphertext fails to decrypt: truncated
// input, invalid base64, a key mismatch, or invalid PKCS#7 padding.
type DecryptError struct {
	Reason string
}

func (e *DecryptError) Error() string {
	return fmt.Sprintf("decrypt failed: %s", e.Reason)
}

// Service provides Encrypt/Decrypt over a single 256-bit key loaded once at
// process startup.
type Service struct {
	key []byte
}

// NewService builds a Service from a base64-encoded 32-byte key, as found in
// the ENCRYPTION_SECRET_KEY configuration variable.
func NewService(base64Key string) (*Service, error) {
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must decode to 32 bytes, got %d", len(key))
	}
	return &Service{key: key}, nil
}

// Encrypt returns a self-contained ciphertext string encoding both the
// random IV used and the encrypted payload.
func (s *Service) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", fmt.Errorf("building AES cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generating IV: %w", err)
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	mode := cipher.NewCBCEncrypter(block, iv)
	mode.CryptBlocks(ciphertext, padded)

	encodedCiphertext := base64.StdEncoding.EncodeToString(ciphertext)
	encodedIV := base64.StdEncoding.EncodeToString(iv)

	return encodedCiphertext + encodedIV, nil
}

// Decrypt reverses Encrypt, failing with *DecryptError on truncation,
// invalid base64, or invalid PKCS#7 padding. A key mismatch or an altered
// ciphertext is detected only when it breaks the padding; otherwise Decrypt
// returns garbage plaintext without an error.
func (s *Service) Decrypt(encoded string) (string, error) {
	if len(encoded) <= ivBase64Len {
		return "", &DecryptError{Reason: "ciphertext too short to contain an IV"}
	}

	ciphertextPart := encoded[:len(encoded)-ivBase64Len]
	ivPart := encoded[len(encoded)-ivBase64Len:]

	iv, err := base64.StdEncoding.DecodeString(ivPart)
	if err != nil {
		return "", &DecryptError{Reason: "invalid base64 IV"}
	}
	if len(iv) != aes.BlockSize {
		return "", &DecryptError{Reason: "IV is not a full AES block"}
	}

	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextPart)
	if err != nil {
		return "", &DecryptError{Reason: "invalid base64 ciphertext"}
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", &DecryptError{Reason: "ciphertext is not a multiple of the block size"}
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", fmt.Errorf("building AES cipher: %w", err)
	}

	plainPadded := make([]byte, len(ciphertext))
	mode := cipher.NewCBCDecrypter(block, iv)
	mode.CryptBlocks(plainPadded, ciphertext)

	plaintext, err := pkcs7Unpad(plainPadded, aes.BlockSize)
	if err != nil {
		return "", &DecryptError{Reason: err.Error()}
	}

	return string(plaintext), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(append([]byte{}, data...), padding...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	n := len(data)
	if n == 0 || n%blockSize != 0 {
		return nil, errors.New("invalid padded data length")
	}
	padLen := int(data[n-1])
	if padLen == 0 || padLen > blockSize || padLen > n {
		return nil, errors.New("invalid PKCS#7 padding")
	}
	for _, b := range data[n-padLen:] {
		if int(b) != padLen {
			return nil, errors.New("invalid PKCS#7 padding")
		}
	}
	return data[:n-padLen], nil
}
