package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	keyfileVersion   = 1
)

// keyfile is the on-disk form of an encrypted publisher key. Binary fields
// use standard base64.
type keyfile struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeySource says where the oracle publisher key comes from. A raw key wins
// over a key file.
type KeySource struct {
	RawPrivateKey    string
	EncryptedKeyPath string
	KeyPassword      string
}

// gcmFor derives an AES-256-GCM cipher from password and salt with
// PBKDF2-HMAC-SHA256.
func gcmFor(password string, salt []byte) (cipher.AEAD, error) {
	if password == "" {
		return nil, errors.New("crypto/keyfile: password must not be empty")
	}
	block, err := aes.NewCipher(pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New))
	if err != nil {
		return nil, fmt.Errorf("crypto/keyfile: cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// SealKey encrypts a hex private key under password and returns the JSON
// key file.
func SealKey(privateKeyHex, password string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/keyfile: invalid private key hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("crypto/keyfile: expected 32-byte key, got %d bytes", len(raw))
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto/keyfile: salt: %w", err)
	}
	gcm, err := gcmFor(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto/keyfile: nonce: %w", err)
	}

	enc := base64.StdEncoding
	return json.MarshalIndent(keyfile{
		Version:    keyfileVersion,
		Salt:       enc.EncodeToString(salt),
		Nonce:      enc.EncodeToString(nonce),
		Ciphertext: enc.EncodeToString(gcm.Seal(nil, nonce, raw, nil)),
	}, "", "  ")
}

// OpenKey decrypts a key file produced by SealKey.
func OpenKey(data []byte, password string) (*ecdsa.PrivateKey, error) {
	var kf keyfile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("crypto/keyfile: parse: %w", err)
	}
	if kf.Version != keyfileVersion {
		return nil, fmt.Errorf("crypto/keyfile: unsupported version %d", kf.Version)
	}

	enc := base64.StdEncoding
	salt, err := enc.DecodeString(kf.Salt)
	if err != nil {
		return nil, fmt.Errorf("crypto/keyfile: salt: %w", err)
	}
	nonce, err := enc.DecodeString(kf.Nonce)
	if err != nil {
		return nil, fmt.Errorf("crypto/keyfile: nonce: %w", err)
	}
	ct, err := enc.DecodeString(kf.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("crypto/keyfile: ciphertext: %w", err)
	}

	gcm, err := gcmFor(password, salt)
	if err != nil {
		return nil, err
	}
	raw, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto/keyfile: decrypt (wrong password?): %w", err)
	}
	return ethcrypto.ToECDSA(raw)
}

// LoadKey resolves the key described by src.
func LoadKey(src KeySource) (*ecdsa.PrivateKey, error) {
	if src.RawPrivateKey != "" {
		pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(src.RawPrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("crypto/keyfile: raw key: %w", err)
		}
		return pk, nil
	}
	if src.EncryptedKeyPath != "" {
		data, err := os.ReadFile(src.EncryptedKeyPath)
		if err != nil {
			return nil, fmt.Errorf("crypto/keyfile: read %s: %w", src.EncryptedKeyPath, err)
		}
		return OpenKey(data, src.KeyPassword)
	}
	return nil, errors.New("crypto/keyfile: no key configured (set a raw key or an encrypted key path)")
}
