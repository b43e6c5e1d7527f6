package keystore

import (
	"crypto/ecdsa"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelwallet/kestrel-go/errctx"
)

var testPassword = []byte("correct horse battery staple")

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	m := NewManager(t.TempDir(), log)
	require.NoError(t, m.Init(testPassword, true))
	return m
}

func TestInitStartsUnlockedOnlyWhenAsked(t *testing.T) {
	a := assert.New(t)
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	m1 := NewManager(t.TempDir(), log)
	require.NoError(t, m1.Init(testPassword, false))
	a.True(m1.IsLocked())

	m2 := NewManager(t.TempDir(), log)
	require.NoError(t, m2.Init(testPassword, true))
	a.False(m2.IsLocked())
}

func TestCreateFromMnemonicAndReadBack(t *testing.T) {
	a := assert.New(t)
	m := newTestManager(t)

	rec, err := m.CreateFromMnemonic("main", testMnemonic, "", testPassword)
	require.NoError(t, err)
	a.Equal(common.HexToAddress("0x9858EfFD232B4033E47d90003D41EC34EcaEda94"), rec.Address)
	a.Equal(KeyRefKeystore, rec.KeyRef.Kind)
	a.False(rec.IsHardware)
	a.Equal(DefaultHDPath, rec.DerivationPath)
	a.NotEmpty(rec.Metadata.AvatarSeed)

	priv, err := m.PrivateKey(rec.Address)
	require.NoError(t, err)
	a.Len(priv, 32)

	phrase, err := m.Mnemonic(rec.Address)
	require.NoError(t, err)
	a.Equal(testMnemonic, string(phrase))
}

func TestDuplicateAddressRejected(t *testing.T) {
	a := assert.New(t)
	m := newTestManager(t)

	_, err := m.CreateFromMnemonic("one", testMnemonic, "", testPassword)
	require.NoError(t, err)
	_, err = m.CreateFromMnemonic("two", testMnemonic, "", testPassword)
	require.Error(t, err)
	a.Equal(errctx.KindValidationFailed, errctx.KindOf(err))
	a.Contains(err.Error(), "already exists")
}

func TestLockClearsSecrets(t *testing.T) {
	a := assert.New(t)
	m := newTestManager(t)

	rec, err := m.CreateFromMnemonic("main", testMnemonic, "", testPassword)
	require.NoError(t, err)

	m.Lock()
	a.True(m.IsLocked())

	_, err = m.PrivateKey(rec.Address)
	require.Error(t, err)
	a.Equal(errctx.KindLocked, errctx.KindOf(err))

	_, err = m.Mnemonic(rec.Address)
	require.Error(t, err)
	a.Equal(errctx.KindLocked, errctx.KindOf(err))

	// Lock is idempotent.
	m.Lock()
	a.True(m.IsLocked())
}

func TestUnlockRestoresExactAccountSet(t *testing.T) {
	a := assert.New(t)
	m := newTestManager(t)

	rec1, err := m.CreateFromMnemonic("main", testMnemonic, "", testPassword)
	require.NoError(t, err)
	raw := make([]byte, 32)
	raw[31] = 7
	rec2, err := m.CreateFromPrivateKey("imported", raw, testPassword)
	require.NoError(t, err)

	before := m.Records()
	m.Lock()

	// Records stay listed while locked, secrets do not.
	a.Len(m.Records(), 2)

	require.NoError(t, m.Unlock(testPassword))
	after := m.Records()
	require.Len(t, after, len(before))
	for i := range before {
		a.Equal(before[i].Address, after[i].Address)
		a.Equal(before[i].Name, after[i].Name)
		a.Equal(before[i].Metadata, after[i].Metadata)
	}

	_, err = m.PrivateKey(rec1.Address)
	a.NoError(err)
	_, err = m.PrivateKey(rec2.Address)
	a.NoError(err)
}

func TestUnlockWrongPassword(t *testing.T) {
	a := assert.New(t)
	m := newTestManager(t)
	m.Lock()

	err := m.Unlock([]byte("wrong"))
	require.Error(t, err)
	a.Equal(errctx.KindInvalidPassword, errctx.KindOf(err))
	a.True(m.IsLocked())
}

func TestCreateWhileLockedFails(t *testing.T) {
	a := assert.New(t)
	m := newTestManager(t)
	m.Lock()

	_, err := m.CreateFromMnemonic("main", testMnemonic, "", testPassword)
	require.Error(t, err)
	a.Equal(errctx.KindLocked, errctx.KindOf(err))
}

func TestLockDuringCreateFailsLocked(t *testing.T) {
	a := assert.New(t)
	m := newTestManager(t)

	raw := make([]byte, 32)
	raw[31] = 5
	done := make(chan error, 1)
	go func() {
		_, err := m.CreateFromPrivateKey("racer", raw, testPassword)
		done <- err
	}()
	time.Sleep(5 * time.Millisecond)
	m.Lock()

	// The create either finished before the lock or fails with Locked;
	// it must never tear the store.
	err := <-done
	if err != nil {
		a.Equal(errctx.KindLocked, errctx.KindOf(err))
		_, err = m.Record(crypto.PubkeyToAddress(mustKey(t, raw).PublicKey))
		a.Equal(errctx.KindNotFound, errctx.KindOf(err))
	}
	a.True(m.IsLocked())
}

func mustKey(t *testing.T, raw []byte) *ecdsa.PrivateKey {
	t.Helper()
	priv, err := crypto.ToECDSA(raw)
	require.NoError(t, err)
	return priv
}

func TestRawImportHasNoMnemonic(t *testing.T) {
	a := assert.New(t)
	m := newTestManager(t)

	raw := make([]byte, 32)
	raw[31] = 9
	rec, err := m.CreateFromPrivateKey("raw", raw, testPassword)
	require.NoError(t, err)

	_, err = m.Mnemonic(rec.Address)
	require.Error(t, err)
	a.Equal(errctx.KindHardwareUnsupported, errctx.KindOf(err))
}

func TestHardwareAccountHasNoLocalKey(t *testing.T) {
	a := assert.New(t)
	m := newTestManager(t)

	addr := common.HexToAddress("0x00000000000000000000000000000000deadbeef")
	rec, err := m.RegisterHardware("ledger-1", addr, "device-1", "m/44'/60'/0'/0/0")
	require.NoError(t, err)
	a.True(rec.IsHardware)
	a.Equal(KeyRefHardware, rec.KeyRef.Kind)
	a.Equal("device-1", rec.KeyRef.DeviceID)

	_, err = m.PrivateKey(addr)
	require.Error(t, err)
	a.Equal(errctx.KindHardwareUnsupported, errctx.KindOf(err))
}

func TestRemoveAccount(t *testing.T) {
	a := assert.New(t)
	m := newTestManager(t)

	rec, err := m.CreateFromMnemonic("main", testMnemonic, "", testPassword)
	require.NoError(t, err)

	require.NoError(t, m.Remove(rec.Address))
	_, err = m.Record(rec.Address)
	a.Equal(errctx.KindNotFound, errctx.KindOf(err))

	err = m.Remove(rec.Address)
	require.Error(t, err)
	a.Equal(errctx.KindNotFound, errctx.KindOf(err))
}

func TestRecordsSurviveReload(t *testing.T) {
	a := assert.New(t)
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	dir := t.TempDir()

	m := NewManager(dir, log)
	require.NoError(t, m.Init(testPassword, true))
	rec, err := m.CreateFromMnemonic("main", testMnemonic, "", testPassword)
	require.NoError(t, err)

	reloaded := NewManager(dir, log)
	require.NoError(t, reloaded.LoadAll())
	a.True(reloaded.IsLocked())

	got, err := reloaded.Record(rec.Address)
	require.NoError(t, err)
	a.Equal(rec.Name, got.Name)

	require.NoError(t, reloaded.Unlock(testPassword))
	phrase, err := reloaded.Mnemonic(rec.Address)
	require.NoError(t, err)
	a.Equal(testMnemonic, string(phrase))
}

func TestUpdateMetadata(t *testing.T) {
	a := assert.New(t)
	m := newTestManager(t)

	rec, err := m.CreateFromMnemonic("main", testMnemonic, "", testPassword)
	require.NoError(t, err)

	require.NoError(t, m.UpdateMetadata(rec.Address, func(md *Metadata) {
		md.Nickname = "savings"
		md.Tags = []string{"cold"}
		md.TxCount = 3
	}))

	got, err := m.Record(rec.Address)
	require.NoError(t, err)
	a.Equal("savings", got.Metadata.Nickname)
	a.Equal([]string{"cold"}, got.Metadata.Tags)
	a.EqualValues(3, got.Metadata.TxCount)
}

func TestExportRestoreRoundtrip(t *testing.T) {
	a := assert.New(t)
	m := newTestManager(t)

	rec, err := m.CreateFromMnemonic("main", testMnemonic, "", testPassword)
	require.NoError(t, err)

	exported, err := m.ExportAll(testPassword)
	require.NoError(t, err)
	require.Len(t, exported, 1)
	a.Equal(testMnemonic, string(exported[0].Mnemonic))
	a.Nil(exported[0].Record.Crypto)

	// Restore into a fresh store.
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	fresh := NewManager(t.TempDir(), log)
	require.NoError(t, fresh.Init(testPassword, true))
	require.NoError(t, fresh.RestoreAll(exported, testPassword))

	got, err := fresh.Record(rec.Address)
	require.NoError(t, err)
	a.Equal("main", got.Name)

	phrase, err := fresh.Mnemonic(rec.Address)
	require.NoError(t, err)
	a.Equal(testMnemonic, string(phrase))
}

func TestRestoreReplacesAccountsOnDisk(t *testing.T) {
	a := assert.New(t)
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	src := NewManager(t.TempDir(), log)
	require.NoError(t, src.Init(testPassword, true))
	kept, err := src.CreateFromMnemonic("main", testMnemonic, "", testPassword)
	require.NoError(t, err)
	exported, err := src.ExportAll(testPassword)
	require.NoError(t, err)

	// The target already holds an account the backup does not contain.
	dir := t.TempDir()
	target := NewManager(dir, log)
	require.NoError(t, target.Init(testPassword, true))
	raw := make([]byte, 32)
	raw[31] = 7
	stale, err := target.CreateFromPrivateKey("stale", raw, testPassword)
	require.NoError(t, err)

	require.NoError(t, target.RestoreAll(exported, testPassword))

	_, err = target.Record(stale.Address)
	a.Equal(errctx.KindNotFound, errctx.KindOf(err))

	// The stale record file is gone too, so a fresh load agrees with the
	// in-memory state.
	reloaded := NewManager(dir, log)
	require.NoError(t, reloaded.LoadAll())
	require.Len(t, reloaded.Records(), 1)
	_, err = reloaded.Record(stale.Address)
	a.Equal(errctx.KindNotFound, errctx.KindOf(err))
	got, err := reloaded.Record(kept.Address)
	require.NoError(t, err)
	a.Equal("main", got.Name)
}

func TestAutoLockFiresAfterIdle(t *testing.T) {
	a := assert.New(t)
	m := newTestManager(t)

	locked := make(chan struct{}, 1)
	m.StartAutoLock(80*time.Millisecond, func() { locked <- struct{}{} })
	defer m.StopAutoLock()

	select {
	case <-locked:
	case <-time.After(2 * time.Second):
		t.Fatal("auto-lock did not fire")
	}
	a.True(m.IsLocked())
}
