package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"

	gethkeystore "github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"

	"github.com/kestrelwallet/kestrel-go/errctx"
)

const (
	// KDFIterations matches the PBKDF2 iteration count of common
	// wallet-interchange keystore files, so envelopes produced here stay
	// compatible with tooling built around that format.
	KDFIterations = 262144

	kdfName   = "pbkdf2"
	keyLen    = 32
	saltLen   = 32
	nonceLen  = 12
	envelopeV = 1
)

// Envelope is the serialized form of a password-encrypted secret.
// All binary fields are hex encoded for the on-disk JSON.
type Envelope struct {
	Version    int    `json:"version"`
	KDF        string `json:"kdf"`
	Iterations int    `json:"c"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	CipherText string `json:"ciphertext"`
}

func deriveKey(password []byte, salt []byte, iterations int) []byte {
	return pbkdf2.Key(password, salt, iterations, keyLen, sha256.New)
}

// Seal encrypts plaintext under a password-derived key with AES-256-GCM.
func Seal(plaintext, password []byte) (*Envelope, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, errors.Wrap(err, "generate salt")
	}
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Wrap(err, "generate nonce")
	}

	key := deriveKey(password, salt, KDFIterations)
	defer Zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	return &Envelope{
		Version:    envelopeV,
		KDF:        kdfName,
		Iterations: KDFIterations,
		Salt:       hex.EncodeToString(salt),
		Nonce:      hex.EncodeToString(nonce),
		CipherText: hex.EncodeToString(ciphertext),
	}, nil
}

// Open decrypts an Envelope with the given password. A wrong password fails
// GCM authentication and surfaces as InvalidPassword.
func Open(env *Envelope, password []byte) ([]byte, error) {
	if env.Version != envelopeV {
		return nil, errctx.E(errctx.KindValidationFailed, errctx.New("open_envelope"),
			"unknown envelope version %d, expected %d", env.Version, envelopeV)
	}
	if env.KDF != kdfName {
		return nil, errctx.E(errctx.KindValidationFailed, errctx.New("open_envelope"),
			"unknown kdf %q, expected %q", env.KDF, kdfName)
	}
	salt, err := hex.DecodeString(env.Salt)
	if err != nil {
		return nil, errors.Wrap(err, "decode salt")
	}
	nonce, err := hex.DecodeString(env.Nonce)
	if err != nil {
		return nil, errors.Wrap(err, "decode nonce")
	}
	ciphertext, err := hex.DecodeString(env.CipherText)
	if err != nil {
		return nil, errors.Wrap(err, "decode ciphertext")
	}

	key := deriveKey(password, salt, env.Iterations)
	defer Zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errctx.E(errctx.KindInvalidPassword, errctx.New("open_envelope"),
			"password verification failed: ciphertext authentication did not match")
	}
	return plaintext, nil
}

// DecryptVendorKeystore decodes a vendor V3 keystore file (the JSON format
// shared by MetaMask, geth and friends) and returns the raw private key.
// The passphrase check happens inside the V3 MAC verification.
func DecryptVendorKeystore(keyJSON []byte, passphrase string) ([]byte, error) {
	key, err := gethkeystore.DecryptKey(keyJSON, passphrase)
	if err != nil {
		return nil, errctx.E(errctx.KindImportFormatInvalid, errctx.New("import_vendor_keystore"),
			"vendor keystore rejected: %v", err)
	}
	defer ZeroKey(key.PrivateKey)
	raw := key.PrivateKey.D.Bytes()
	// Left-pad to 32 bytes; D.Bytes() drops leading zeros.
	if len(raw) < 32 {
		padded := make([]byte, 32)
		copy(padded[32-len(raw):], raw)
		Zero(raw)
		raw = padded
	}
	return raw, nil
}
