package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// Sealed key file parameters: PBKDF2-HMAC-SHA256 feeding AES-256-GCM.
const (
	kdfRounds     = 600_000
	kdfSaltLen    = 16
	sealedVersion = 1
)

// sealedKey is the on-disk envelope for the oracle signing key.
type sealedKey struct {
	Version int    `json:"version"`
	Salt    string `json:"kdf_salt"`
	Nonce   string `json:"nonce"`
	Box     string `json:"box"`
}

// KeyConfig tells LoadSigner where the oracle key comes from: either an
// inline hex key or a sealed key file plus its password.
type KeyConfig struct {
	// RawPrivateKey is a hex-encoded private key, with or without 0x prefix.
	// Takes precedence over EncryptedKeyPath when both are set.
	RawPrivateKey string

	// EncryptedKeyPath points at a file written by SealKey.
	EncryptedKeyPath string

	// KeyPassword opens the file at EncryptedKeyPath.
	KeyPassword string
}

// LoadSigner resolves the oracle signing key and returns a ready Signer.
func LoadSigner(cfg KeyConfig) (*Signer, error) {
	switch {
	case cfg.RawPrivateKey != "":
		return NewSigner(cfg.RawPrivateKey)
	case cfg.EncryptedKeyPath != "":
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return nil, fmt.Errorf("crypto: read sealed key: %w", err)
		}
		keyHex, err := OpenKey(data, cfg.KeyPassword)
		if err != nil {
			return nil, err
		}
		return NewSigner(keyHex)
	default:
		return nil, errors.New("crypto: no oracle key configured")
	}
}

// SealKey encrypts a hex-encoded private key under a password, returning the
// JSON blob to write to disk.
func SealKey(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: sealing password is empty")
	}
	keyBytes, err := hex.DecodeString(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: private key hex: %w", err)
	}
	if len(keyBytes) != 32 {
		return nil, fmt.Errorf("crypto: private key is %d bytes, want 32", len(keyBytes))
	}

	salt := make([]byte, kdfSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	aead, err := newSealCipher(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}

	return json.MarshalIndent(sealedKey{
		Version: sealedVersion,
		Salt:    base64.StdEncoding.EncodeToString(salt),
		Nonce:   base64.StdEncoding.EncodeToString(nonce),
		Box:     base64.StdEncoding.EncodeToString(aead.Seal(nil, nonce, keyBytes, nil)),
	}, "", "  ")
}

// OpenKey decrypts a sealed key blob, returning the hex-encoded private key
// without 0x prefix.
func OpenKey(data []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: sealing password is empty")
	}
	var sk sealedKey
	if err := json.Unmarshal(data, &sk); err != nil {
		return "", fmt.Errorf("crypto: sealed key file: %w", err)
	}
	if sk.Version != sealedVersion {
		return "", fmt.Errorf("crypto: sealed key version %d not supported", sk.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(sk.Salt)
	if err != nil {
		return "", fmt.Errorf("crypto: sealed key salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(sk.Nonce)
	if err != nil {
		return "", fmt.Errorf("crypto: sealed key nonce: %w", err)
	}
	box, err := base64.StdEncoding.DecodeString(sk.Box)
	if err != nil {
		return "", fmt.Errorf("crypto: sealed key box: %w", err)
	}

	aead, err := newSealCipher(password, salt)
	if err != nil {
		return "", err
	}
	keyBytes, err := aead.Open(nil, nonce, box, nil)
	if err != nil {
		return "", errors.New("crypto: cannot open sealed key, wrong password or corrupt file")
	}
	return hex.EncodeToString(keyBytes), nil
}

func newSealCipher(password string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, kdfRounds, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
