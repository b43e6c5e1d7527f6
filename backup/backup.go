// Package backup produces and restores encrypted wallet backups. A backup
// is a versioned envelope: the account payload is sealed under a random
// master key, the master key is wrapped under the user's password and can
// additionally be split into Shamir shares, and an HMAC over the envelope
// is checked before any decryption is attempted.
package backup

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/corvus-ch/shamir"
	"github.com/sirupsen/logrus"

	"github.com/kestrelwallet/kestrel-go/errctx"
	"github.com/kestrelwallet/kestrel-go/keystore"
)

const (
	// EnvelopeVersion is the current backup format version. Restores of
	// any other version are refused.
	EnvelopeVersion = 1

	masterKeyLen = 64 // first 32 bytes encrypt, last 32 authenticate
	nonceLen     = 12
)

// Envelope is the on-disk backup format. All binary fields are hex so the
// envelope survives any transport that handles JSON.
type Envelope struct {
	Version      int                `json:"version"`
	CreatedAt    time.Time          `json:"created_at"`
	AccountCount int                `json:"account_count"`
	WrappedKey   *keystore.Envelope `json:"wrapped_key"`
	Nonce        string             `json:"nonce"`
	CipherText   string             `json:"ciphertext"`
	Tag          string             `json:"tag"`
}

// Share is one Shamir fragment of the master key. Any Threshold of them
// reconstruct the key; fewer reveal nothing.
type Share struct {
	Index     byte   `json:"index"`
	Data      string `json:"data"`
	Threshold int    `json:"threshold"`
}

// Manager creates and restores backups.
type Manager struct {
	log *logrus.Logger
}

func NewManager(log *logrus.Logger) *Manager {
	return &Manager{log: log}
}

// Create seals the exported accounts into an envelope. When shareCount > 0
// the master key is additionally split threshold-of-shareCount; the shares
// are an alternative to the password at restore time, not a replacement.
func (m *Manager) Create(accounts []keystore.ExportedAccount, password []byte, threshold, shareCount int) (*Envelope, []Share, error) {
	ec := errctx.New("backup_create")

	if shareCount > 0 {
		if threshold < 2 || threshold > shareCount {
			return nil, nil, errctx.E(errctx.KindValidationFailed, ec,
				"invalid sharing scheme %d-of-%d", threshold, shareCount)
		}
		if shareCount > 255 {
			return nil, nil, errctx.E(errctx.KindValidationFailed, ec,
				"at most 255 shares supported, got %d", shareCount)
		}
	}

	payload, err := json.Marshal(accounts)
	if err != nil {
		return nil, nil, errctx.Wrap(err, ec)
	}
	defer keystore.Zero(payload)

	master := make([]byte, masterKeyLen)
	if _, err := rand.Read(master); err != nil {
		return nil, nil, errctx.Wrap(err, ec)
	}
	defer keystore.Zero(master)

	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, errctx.Wrap(err, ec)
	}

	block, err := aes.NewCipher(master[:32])
	if err != nil {
		return nil, nil, errctx.Wrap(err, ec)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, errctx.Wrap(err, ec)
	}
	cipherText := gcm.Seal(nil, nonce, payload, nil)

	wrapped, err := keystore.Seal(master, password)
	if err != nil {
		return nil, nil, errctx.Wrap(err, ec)
	}

	env := &Envelope{
		Version:      EnvelopeVersion,
		CreatedAt:    time.Now().UTC(),
		AccountCount: len(accounts),
		WrappedKey:   wrapped,
		Nonce:        hex.EncodeToString(nonce),
		CipherText:   hex.EncodeToString(cipherText),
	}
	env.Tag = hex.EncodeToString(computeTag(master[32:], env, cipherText))

	var shares []Share
	if shareCount > 0 {
		parts, err := shamir.Split(master, shareCount, threshold)
		if err != nil {
			return nil, nil, errctx.Wrap(err, ec)
		}
		for idx, data := range parts {
			shares = append(shares, Share{
				Index:     idx,
				Data:      hex.EncodeToString(data),
				Threshold: threshold,
			})
		}
	}

	m.log.WithFields(logrus.Fields{
		"correlation_id": ec.CorrelationID,
		"accounts":       len(accounts),
		"shares":         shareCount,
		"threshold":      threshold,
	}).Info("backup: envelope created")

	return env, shares, nil
}

// Restore opens an envelope with the password.
func (m *Manager) Restore(env *Envelope, password []byte) ([]keystore.ExportedAccount, error) {
	ec := errctx.New("backup_restore")

	if err := checkVersion(env, ec); err != nil {
		return nil, err
	}
	master, err := keystore.Open(env.WrappedKey, password)
	if err != nil {
		return nil, errctx.Wrap(err, ec)
	}
	defer keystore.Zero(master)
	return m.open(env, master, ec)
}

// RestoreFromShares reconstructs the master key from Shamir shares and
// opens the envelope without the password.
func (m *Manager) RestoreFromShares(env *Envelope, shares []Share) ([]keystore.ExportedAccount, error) {
	ec := errctx.New("backup_restore_shares")

	if err := checkVersion(env, ec); err != nil {
		return nil, err
	}

	parts := make(map[byte][]byte, len(shares))
	for _, s := range shares {
		data, err := hex.DecodeString(s.Data)
		if err != nil {
			return nil, errctx.E(errctx.KindImportFormatInvalid, ec,
				"share %d is not valid hex", s.Index)
		}
		parts[s.Index] = data
	}

	master, err := shamir.Combine(parts)
	if err != nil {
		return nil, errctx.E(errctx.KindImportFormatInvalid, ec,
			"share combination failed: %v", err)
	}
	defer keystore.Zero(master)

	if len(master) != masterKeyLen {
		return nil, errctx.E(errctx.KindIntegrityCheckFailed, ec,
			"reconstructed key has wrong length")
	}
	return m.open(env, master, ec)
}

// open verifies the envelope tag and only then decrypts. A tampered
// envelope never reaches the cipher.
func (m *Manager) open(env *Envelope, master []byte, ec *errctx.Context) ([]keystore.ExportedAccount, error) {
	cipherText, err := hex.DecodeString(env.CipherText)
	if err != nil {
		return nil, errctx.E(errctx.KindImportFormatInvalid, ec, "ciphertext is not valid hex")
	}
	wantTag, err := hex.DecodeString(env.Tag)
	if err != nil {
		return nil, errctx.E(errctx.KindImportFormatInvalid, ec, "tag is not valid hex")
	}
	nonce, err := hex.DecodeString(env.Nonce)
	if err != nil || len(nonce) != nonceLen {
		return nil, errctx.E(errctx.KindImportFormatInvalid, ec, "nonce is malformed")
	}

	gotTag := computeTag(master[32:], env, cipherText)
	if !hmac.Equal(wantTag, gotTag) {
		m.log.WithField("correlation_id", ec.CorrelationID).Warn("backup: integrity check failed")
		return nil, errctx.E(errctx.KindIntegrityCheckFailed, ec,
			"backup integrity check failed")
	}

	block, err := aes.NewCipher(master[:32])
	if err != nil {
		return nil, errctx.Wrap(err, ec)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errctx.Wrap(err, ec)
	}
	payload, err := gcm.Open(nil, nonce, cipherText, nil)
	if err != nil {
		return nil, errctx.E(errctx.KindIntegrityCheckFailed, ec, "backup decryption failed")
	}
	defer keystore.Zero(payload)

	var accounts []keystore.ExportedAccount
	if err := json.Unmarshal(payload, &accounts); err != nil {
		return nil, errctx.E(errctx.KindImportFormatInvalid, ec,
			"backup payload is malformed: %v", err)
	}

	m.log.WithFields(logrus.Fields{
		"correlation_id": ec.CorrelationID,
		"accounts":       len(accounts),
	}).Info("backup: envelope restored")

	return accounts, nil
}

func checkVersion(env *Envelope, ec *errctx.Context) error {
	if env.Version != EnvelopeVersion {
		return errctx.E(errctx.KindValidationFailed, ec,
			"unsupported backup version %d", env.Version)
	}
	if env.WrappedKey == nil && env.Tag == "" {
		return errctx.E(errctx.KindImportFormatInvalid, ec, "envelope is incomplete")
	}
	return nil
}

// computeTag authenticates the envelope header together with the
// ciphertext so neither can be swapped independently.
func computeTag(macKey []byte, env *Envelope, cipherText []byte) []byte {
	mac := hmac.New(sha256.New, macKey)
	var header [20]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(env.Version))
	binary.BigEndian.PutUint64(header[4:12], uint64(env.CreatedAt.Unix()))
	binary.BigEndian.PutUint64(header[12:20], uint64(env.AccountCount))
	mac.Write(header[:])
	nonce, _ := hex.DecodeString(env.Nonce)
	mac.Write(nonce)
	mac.Write(cipherText)
	return mac.Sum(nil)
}
