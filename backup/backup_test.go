package backup

import (
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelwallet/kestrel-go/errctx"
	"github.com/kestrelwallet/kestrel-go/keystore"
)

var backupPassword = []byte("backup password")

func newTestBackupManager() *Manager {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return NewManager(log)
}

func sampleAccounts() []keystore.ExportedAccount {
	priv := make([]byte, 32)
	priv[31] = 1
	return []keystore.ExportedAccount{
		{
			Record: keystore.Record{
				Name:    "main",
				Address: common.HexToAddress("0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf"),
			},
			PrivKey:  priv,
			Mnemonic: []byte("abandon abandon about"),
		},
	}
}

func TestBackupRestoreRoundtrip(t *testing.T) {
	a := assert.New(t)
	m := newTestBackupManager()

	env, shares, err := m.Create(sampleAccounts(), backupPassword, 0, 0)
	require.NoError(t, err)
	a.Empty(shares)
	a.Equal(EnvelopeVersion, env.Version)
	a.Equal(1, env.AccountCount)

	got, err := m.Restore(env, backupPassword)
	require.NoError(t, err)
	require.Len(t, got, 1)
	a.Equal("main", got[0].Record.Name)
	a.Equal([]byte("abandon abandon about"), got[0].Mnemonic)
}

func TestRestoreWrongPassword(t *testing.T) {
	a := assert.New(t)
	m := newTestBackupManager()

	env, _, err := m.Create(sampleAccounts(), backupPassword, 0, 0)
	require.NoError(t, err)

	_, err = m.Restore(env, []byte("wrong"))
	require.Error(t, err)
	a.Equal(errctx.KindInvalidPassword, errctx.KindOf(err))
}

func TestTamperedCiphertextFailsBeforeDecrypt(t *testing.T) {
	a := assert.New(t)
	m := newTestBackupManager()

	env, _, err := m.Create(sampleAccounts(), backupPassword, 0, 0)
	require.NoError(t, err)

	raw, err := hex.DecodeString(env.CipherText)
	require.NoError(t, err)
	raw[0] ^= 0xff
	env.CipherText = hex.EncodeToString(raw)

	_, err = m.Restore(env, backupPassword)
	require.Error(t, err)
	a.Equal(errctx.KindIntegrityCheckFailed, errctx.KindOf(err))
}

func TestTamperedHeaderFailsIntegrity(t *testing.T) {
	a := assert.New(t)
	m := newTestBackupManager()

	env, _, err := m.Create(sampleAccounts(), backupPassword, 0, 0)
	require.NoError(t, err)
	env.AccountCount = 42

	_, err = m.Restore(env, backupPassword)
	require.Error(t, err)
	a.Equal(errctx.KindIntegrityCheckFailed, errctx.KindOf(err))
}

func TestUnknownVersionRefused(t *testing.T) {
	a := assert.New(t)
	m := newTestBackupManager()

	env, _, err := m.Create(sampleAccounts(), backupPassword, 0, 0)
	require.NoError(t, err)
	env.Version = 2

	_, err = m.Restore(env, backupPassword)
	require.Error(t, err)
	a.Equal(errctx.KindValidationFailed, errctx.KindOf(err))
	a.Contains(err.Error(), "version 2")
}

func TestShamirThresholdRestore(t *testing.T) {
	a := assert.New(t)
	m := newTestBackupManager()

	env, shares, err := m.Create(sampleAccounts(), backupPassword, 3, 5)
	require.NoError(t, err)
	require.Len(t, shares, 5)
	for _, s := range shares {
		a.Equal(3, s.Threshold)
		data, err := hex.DecodeString(s.Data)
		require.NoError(t, err)
		a.NotEmpty(data)
	}

	// Any three shares reconstruct the backup.
	got, err := m.RestoreFromShares(env, shares[1:4])
	require.NoError(t, err)
	require.Len(t, got, 1)
	a.Equal("main", got[0].Record.Name)

	// A different subset works too.
	got, err = m.RestoreFromShares(env, []Share{shares[0], shares[2], shares[4]})
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestTooFewSharesFailIntegrity(t *testing.T) {
	a := assert.New(t)
	m := newTestBackupManager()

	env, shares, err := m.Create(sampleAccounts(), backupPassword, 3, 5)
	require.NoError(t, err)

	// Two of five reconstruct garbage; the tag check catches it before
	// any decryption happens.
	_, err = m.RestoreFromShares(env, shares[:2])
	require.Error(t, err)
	kind := errctx.KindOf(err)
	a.True(kind == errctx.KindIntegrityCheckFailed || kind == errctx.KindImportFormatInvalid,
		"got kind %s", kind)
}

func TestInvalidSharingScheme(t *testing.T) {
	a := assert.New(t)
	m := newTestBackupManager()

	_, _, err := m.Create(sampleAccounts(), backupPassword, 6, 5)
	require.Error(t, err)
	a.Equal(errctx.KindValidationFailed, errctx.KindOf(err))

	_, _, err = m.Create(sampleAccounts(), backupPassword, 1, 5)
	require.Error(t, err)
	a.Equal(errctx.KindValidationFailed, errctx.KindOf(err))
}

func TestPasswordStillWorksWhenSharesExist(t *testing.T) {
	a := assert.New(t)
	m := newTestBackupManager()

	env, shares, err := m.Create(sampleAccounts(), backupPassword, 2, 3)
	require.NoError(t, err)
	require.Len(t, shares, 3)

	got, err := m.Restore(env, backupPassword)
	require.NoError(t, err)
	a.Len(got, 1)
}
