package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const roomKeyBytes = 32 // 256-bit room key

// GenerateRoomKey creates a new random 256-bit room key, base64-encoded for storage at rest.
func GenerateRoomKey() (string, error) {
	b := make([]byte, roomKeyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate room key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// WrapRoomKey encrypts a base64 room key with the process-level key-encryption-key (hex-encoded, 32 bytes) using
// AES-256-GCM. If kekHex is empty, the room key is stored as-is (unwrapped) — this is the zero-configuration default,
// matching a deployment with no dedicated key-encryption-key.
func WrapRoomKey(roomKeyB64, kekHex string) (string, error) {
	if kekHex == "" {
		return roomKeyB64, nil
	}

	key, err := hex.DecodeString(kekHex)
	if err != nil {
		return "", fmt.Errorf("decode key-encryption-key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(roomKeyB64), nil)
	return "wrapped:" + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// UnwrapRoomKey returns the plaintext base64 room key, transparently reversing WrapRoomKey. Callers never need to know
// whether the stored value was wrapped.
func UnwrapRoomKey(stored, kekHex string) (string, error) {
	const prefix = "wrapped:"
	if len(stored) < len(prefix) || stored[:len(prefix)] != prefix {
		return stored, nil
	}
	if kekHex == "" {
		return "", fmt.Errorf("room key is wrapped but no key-encryption-key is configured")
	}

	key, err := hex.DecodeString(kekHex)
	if err != nil {
		return "", fmt.Errorf("decode key-encryption-key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create GCM: %w", err)
	}

	data, err := base64.StdEncoding.DecodeString(stored[len(prefix):])
	if err != nil {
		return "", fmt.Errorf("decode wrapped room key: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("wrapped room key too short")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("unwrap room key: %w", err)
	}
	return string(plaintext), nil
}
