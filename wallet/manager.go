// Package wallet wires the account core together: keystore, hardware
// signers, export authentication, backups, the batch processor and the
// event recorder behind one coordinator.
package wallet

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/kestrelwallet/kestrel-go/auth"
	"github.com/kestrelwallet/kestrel-go/backup"
	"github.com/kestrelwallet/kestrel-go/batch"
	"github.com/kestrelwallet/kestrel-go/config"
	"github.com/kestrelwallet/kestrel-go/errctx"
	"github.com/kestrelwallet/kestrel-go/hardware"
	"github.com/kestrelwallet/kestrel-go/keystore"
	"github.com/kestrelwallet/kestrel-go/observe"
	"github.com/kestrelwallet/kestrel-go/provider"
	"github.com/kestrelwallet/kestrel-go/securecache"
)

// DefaultMnemonicStrength is the entropy for freshly generated accounts.
const DefaultMnemonicStrength = 128

// Manager is the account coordinator. All account state flows through it;
// the underlying services are not exposed for mutation.
type Manager struct {
	log *logrus.Logger
	cfg config.Config

	keys    *keystore.Manager
	hw      *hardware.Manager
	auth    *auth.Authenticator
	backups *backup.Manager
	batch   *batch.Processor
	rec     *observe.Recorder

	unlockAttempts *auth.RateLimiter
	cache          *securecache.Cache[common.Address, keystore.Record]

	mu      sync.RWMutex
	current common.Address
}

// New builds a Manager from the config. prov may be nil when no network is
// configured; balance operations then refuse with a validation error.
func New(cfg config.Config, log *logrus.Logger, prov provider.Provider, vendors ...hardware.Vendor) (*Manager, error) {
	cache, err := securecache.New[common.Address, keystore.Record](
		cfg.Cache.Capacity, time.Duration(cfg.Cache.TTLSeconds)*time.Second)
	if err != nil {
		return nil, err
	}

	keys := keystore.NewManager(cfg.KeystoreDir(), log)
	m := &Manager{
		log:            log,
		cfg:            cfg,
		keys:           keys,
		hw:             hardware.NewManager(log, vendors...),
		auth:           auth.NewAuthenticator(log, keys.VerifyPassword),
		backups:        backup.NewManager(log),
		rec:            observe.NewRecorder(log, EventBus.New()),
		unlockAttempts: auth.NewRateLimiter(auth.UnlockAttemptCapacity, auth.UnlockAttemptWindow),
		cache:          cache,
	}
	m.rec.SetPrivacyMode(cfg.PrivacyMode)

	if prov != nil {
		bcfg := batch.DefaultConfig()
		bcfg.MaxConcurrent = cfg.Batch.MaxConcurrent
		bcfg.MaxRetries = cfg.Batch.MaxRetries
		bcfg.BaseDelay = time.Duration(cfg.Batch.BaseDelaySeconds) * time.Second
		bcfg.ChunkSize = cfg.Batch.ChunkSize
		m.batch = batch.NewProcessor(log, prov, bcfg)
	}
	return m, nil
}

// Init sets up a brand-new wallet with the given password. Whether the
// wallet starts unlocked is an explicit configuration decision.
func (m *Manager) Init(password []byte) error {
	if err := m.keys.Init(password, m.cfg.UnlockedOnInit); err != nil {
		return err
	}
	m.startAutoLock()
	return nil
}

// Load opens an existing wallet from disk. The wallet always comes up
// locked; UnlockedOnInit only applies to first-time initialization.
func (m *Manager) Load() error {
	if err := m.keys.LoadAll(); err != nil {
		return err
	}
	m.startAutoLock()
	return nil
}

func (m *Manager) startAutoLock() {
	if m.cfg.AutoLockMinutes <= 0 {
		return
	}
	timeout := time.Duration(m.cfg.AutoLockMinutes) * time.Minute
	m.keys.StartAutoLock(timeout, func() {
		m.cache.Purge()
		m.rec.Emit(observe.TopicLock, errctx.New("auto_lock"), "ok", "idle timeout")
	})
}

// Close stops background work. The keystore is locked on the way out.
func (m *Manager) Close() {
	m.keys.StopAutoLock()
	m.hw.Close()
	m.keys.Lock()
	m.cache.Purge()
}

// Events exposes the bus so embedders can subscribe to wallet events.
func (m *Manager) Events() EventBus.Bus {
	return m.rec.Bus()
}

// Audit returns the export authorization trail.
func (m *Manager) Audit() []auth.AuditEntry {
	return m.auth.Audit().Entries()
}

// CacheMetrics reports account cache hit/miss counters.
func (m *Manager) CacheMetrics() securecache.Metrics {
	return m.cache.Metrics()
}

// ---- account lifecycle ----

// CreateAccount generates a fresh mnemonic, derives the first account from
// it and returns the record together with the phrase. The phrase is shown
// exactly once; it is not retrievable later without an export token.
func (m *Manager) CreateAccount(name string, password []byte) (keystore.Record, string, error) {
	ec := errctx.New("create_account").WithNetwork(m.cfg.Network)

	if err := m.checkName(name, ec); err != nil {
		return keystore.Record{}, "", err
	}
	mnemonic, err := keystore.GenerateMnemonic(DefaultMnemonicStrength)
	if err != nil {
		return keystore.Record{}, "", errctx.Wrap(err, ec)
	}
	rec, err := m.keys.CreateFromMnemonic(name, mnemonic, "", password)
	if err != nil {
		m.rec.Emit(observe.TopicAccount, ec, "error", err.Error())
		return keystore.Record{}, "", err
	}
	m.registered(rec, ec)
	return rec, mnemonic, nil
}

// ImportFromMnemonic derives an account from an existing seed phrase.
// path may be empty for the default derivation path.
func (m *Manager) ImportFromMnemonic(name, mnemonic, path string, password []byte) (keystore.Record, error) {
	ec := errctx.New("import_mnemonic").WithNetwork(m.cfg.Network)

	if err := m.checkName(name, ec); err != nil {
		return keystore.Record{}, err
	}
	rec, err := m.keys.CreateFromMnemonic(name, mnemonic, path, password)
	if err != nil {
		m.rec.Emit(observe.TopicAccount, ec, "error", err.Error())
		return keystore.Record{}, err
	}
	m.registered(rec, ec)
	return rec, nil
}

// ImportFromPrivateKey stores a raw 32-byte private key.
func (m *Manager) ImportFromPrivateKey(name string, raw, password []byte) (keystore.Record, error) {
	ec := errctx.New("import_private_key").WithNetwork(m.cfg.Network)

	if err := m.checkName(name, ec); err != nil {
		return keystore.Record{}, err
	}
	rec, err := m.keys.CreateFromPrivateKey(name, raw, password)
	if err != nil {
		m.rec.Emit(observe.TopicAccount, ec, "error", err.Error())
		return keystore.Record{}, err
	}
	m.registered(rec, ec)
	return rec, nil
}

// ImportFromVendorKeystore accepts a V3 keystore JSON file as produced by
// other wallets, decrypts it with its own passphrase and re-encrypts the
// key under this wallet's password.
func (m *Manager) ImportFromVendorKeystore(name string, keyJSON []byte, passphrase string, password []byte) (keystore.Record, error) {
	ec := errctx.New("import_keystore").WithNetwork(m.cfg.Network)

	if err := m.checkName(name, ec); err != nil {
		return keystore.Record{}, err
	}
	raw, err := keystore.DecryptVendorKeystore(keyJSON, passphrase)
	if err != nil {
		m.rec.Emit(observe.TopicAccount, ec, "error", err.Error())
		return keystore.Record{}, err
	}
	defer keystore.Zero(raw)

	rec, err := m.keys.CreateFromPrivateKey(name, raw, password)
	if err != nil {
		m.rec.Emit(observe.TopicAccount, ec, "error", err.Error())
		return keystore.Record{}, err
	}
	m.registered(rec, ec)
	return rec, nil
}

// RegisterHardwareAccount attaches an address that lives on a hardware
// device. No secret material is stored locally.
func (m *Manager) RegisterHardwareAccount(name string, addr common.Address, deviceID, path string) (keystore.Record, error) {
	ec := errctx.New("register_hardware").WithNetwork(m.cfg.Network)

	if err := m.checkName(name, ec); err != nil {
		return keystore.Record{}, err
	}
	rec, err := m.keys.RegisterHardware(name, addr, deviceID, path)
	if err != nil {
		m.rec.Emit(observe.TopicAccount, ec, "error", err.Error())
		return keystore.Record{}, err
	}
	m.registered(rec, ec)
	return rec, nil
}

func (m *Manager) registered(rec keystore.Record, ec *errctx.Context) {
	m.cache.Put(rec.Address, rec)

	m.mu.Lock()
	if m.current == (common.Address{}) {
		m.current = rec.Address
	}
	m.mu.Unlock()

	m.rec.Emit(observe.TopicAccount, ec.WithAccount(rec.Address.Hex()), "ok", "account registered")
}

// RemoveAccount forgets an account. Removing an address that is not there
// is not an error; the end state is the same.
func (m *Manager) RemoveAccount(addr common.Address) error {
	ec := errctx.New("remove_account").WithAccount(addr.Hex())

	err := m.keys.Remove(addr)
	if err != nil && errctx.KindOf(err) != errctx.KindNotFound {
		m.rec.Emit(observe.TopicAccount, ec, "error", err.Error())
		return err
	}
	m.cache.Remove(addr)

	m.mu.Lock()
	if m.current == addr {
		m.current = common.Address{}
		for _, rec := range m.keys.Records() {
			m.current = rec.Address
			break
		}
	}
	m.mu.Unlock()

	if err == nil {
		m.rec.Emit(observe.TopicAccount, ec, "ok", "account removed")
	}
	return nil
}

// Accounts lists every account, oldest first.
func (m *Manager) Accounts() []keystore.Record {
	return m.keys.Records()
}

// Account returns one record, served from the cache when fresh.
func (m *Manager) Account(addr common.Address) (keystore.Record, error) {
	if rec, ok := m.cache.Get(addr); ok {
		return rec, nil
	}
	rec, err := m.keys.Record(addr)
	if err != nil {
		return keystore.Record{}, err
	}
	m.cache.Put(addr, rec)
	return rec, nil
}

// Current returns the active account.
func (m *Manager) Current() (keystore.Record, error) {
	m.mu.RLock()
	addr := m.current
	m.mu.RUnlock()
	if addr == (common.Address{}) {
		return keystore.Record{}, errctx.E(errctx.KindNotFound, errctx.New("current_account"),
			"no account selected")
	}
	return m.Account(addr)
}

// SetCurrent switches the active account.
func (m *Manager) SetCurrent(addr common.Address) error {
	if _, err := m.keys.Record(addr); err != nil {
		return err
	}
	m.mu.Lock()
	m.current = addr
	m.mu.Unlock()
	return nil
}

// SetNickname renames an account's display nickname. Nicknames are unique
// across the wallet, compared case-insensitively.
func (m *Manager) SetNickname(addr common.Address, nickname string) error {
	ec := errctx.New("set_nickname").WithAccount(addr.Hex())

	if nickname != "" {
		for _, rec := range m.keys.Records() {
			if rec.Address != addr && strings.EqualFold(rec.Metadata.Nickname, nickname) {
				return errctx.E(errctx.KindDuplicateNickname, ec,
					"nickname %q is already taken by %s", nickname, rec.Address.Hex())
			}
		}
	}
	if err := m.keys.UpdateMetadata(addr, func(md *keystore.Metadata) {
		md.Nickname = nickname
	}); err != nil {
		return err
	}
	m.cache.Remove(addr)
	return nil
}

// MarkUsed bumps an account's usage metadata after a signed transaction.
func (m *Manager) MarkUsed(addr common.Address) error {
	now := time.Now().UTC()
	if err := m.keys.UpdateMetadata(addr, func(md *keystore.Metadata) {
		md.LastUsed = &now
		md.TxCount++
	}); err != nil {
		return err
	}
	m.cache.Remove(addr)
	return nil
}

// ---- locking ----

// IsLocked reports whether secret material is currently accessible.
func (m *Manager) IsLocked() bool {
	return m.keys.IsLocked()
}

// Lock wipes all decrypted material. Safe to call repeatedly.
func (m *Manager) Lock() {
	m.keys.Lock()
	m.cache.Purge()
	m.rec.Emit(observe.TopicLock, errctx.New("lock"), "ok", "wallet locked")
}

// Unlock decrypts the keystore. Attempts are rate limited: five per
// rolling minute, and a refused attempt reports how long to wait. A
// successful unlock resets the attempt budget.
func (m *Manager) Unlock(password []byte) error {
	ec := errctx.New("unlock")

	ok, wait := m.unlockAttempts.TryConsume()
	if !ok {
		m.rec.Emit(observe.TopicLock, ec, "error", "unlock attempts exhausted")
		return errctx.RateLimited(ec, wait)
	}
	if err := m.keys.Unlock(password); err != nil {
		m.rec.Emit(observe.TopicLock, ec, "error", "unlock failed")
		return err
	}
	m.unlockAttempts.Reset()
	m.auth.ResetAttempts()
	m.rec.Emit(observe.TopicLock, ec, "ok", "wallet unlocked")
	return nil
}

// ---- exports ----

// AuthorizeExport re-checks the password and issues a single-use export
// token, valid for two minutes.
func (m *Manager) AuthorizeExport(password []byte, userAction string) (*auth.Token, error) {
	return m.auth.Authorize(password, userAction)
}

// ExportMnemonic reveals an account's seed phrase. Requires the wallet
// password and an unconsumed export token.
func (m *Manager) ExportMnemonic(tokenID string, password []byte, addr common.Address) (string, error) {
	ec := errctx.New("export_mnemonic").WithAccount(addr.Hex())

	if err := m.keys.VerifyPassword(password); err != nil {
		m.rec.Emit(observe.TopicExport, ec, "error", "password rejected")
		return "", err
	}
	if err := m.auth.Consume(tokenID, "export_mnemonic"); err != nil {
		m.rec.Emit(observe.TopicExport, ec, "error", "token refused")
		return "", err
	}
	phrase, err := m.keys.Mnemonic(addr)
	if err != nil {
		m.rec.Emit(observe.TopicExport, ec, "error", err.Error())
		return "", err
	}
	m.rec.Emit(observe.TopicExport, ec, "ok", "mnemonic exported")
	return string(phrase), nil
}

// ExportPrivateKey reveals an account's raw private key. Requires the
// wallet password and an unconsumed export token. The caller owns wiping
// the returned slice.
func (m *Manager) ExportPrivateKey(tokenID string, password []byte, addr common.Address) ([]byte, error) {
	ec := errctx.New("export_private_key").WithAccount(addr.Hex())

	if err := m.keys.VerifyPassword(password); err != nil {
		m.rec.Emit(observe.TopicExport, ec, "error", "password rejected")
		return nil, err
	}
	if err := m.auth.Consume(tokenID, "export_private_key"); err != nil {
		m.rec.Emit(observe.TopicExport, ec, "error", "token refused")
		return nil, err
	}
	priv, err := m.keys.PrivateKey(addr)
	if err != nil {
		m.rec.Emit(observe.TopicExport, ec, "error", err.Error())
		return nil, err
	}
	m.rec.Emit(observe.TopicExport, ec, "ok", "private key exported")
	return priv, nil
}

// ---- backups ----

// CreateBackup seals every account into a backup envelope. With
// shareCount > 0 the backup key is additionally split
// threshold-of-shareCount.
func (m *Manager) CreateBackup(password []byte, threshold, shareCount int) (*backup.Envelope, []backup.Share, error) {
	ec := errctx.New("create_backup")

	accounts, err := m.keys.ExportAll(password)
	if err != nil {
		m.rec.Emit(observe.TopicBackup, ec, "error", err.Error())
		return nil, nil, err
	}
	defer func() {
		for i := range accounts {
			accounts[i].Wipe()
		}
	}()

	env, shares, err := m.backups.Create(accounts, password, threshold, shareCount)
	if err != nil {
		m.rec.Emit(observe.TopicBackup, ec, "error", err.Error())
		return nil, nil, err
	}
	m.rec.Emit(observe.TopicBackup, ec, "ok", "backup created")
	return env, shares, nil
}

// RestoreBackup replaces this wallet's accounts with the backup's. The same
// password must open the backup and the local keystore.
func (m *Manager) RestoreBackup(env *backup.Envelope, password []byte) error {
	ec := errctx.New("restore_backup")

	accounts, err := m.backups.Restore(env, password)
	if err != nil {
		m.rec.Emit(observe.TopicBackup, ec, "error", err.Error())
		return err
	}
	return m.adoptRestored(accounts, password, ec)
}

// RestoreBackupFromShares is RestoreBackup with Shamir shares standing in
// for the backup password. The local keystore password is still required
// to re-encrypt the restored accounts.
func (m *Manager) RestoreBackupFromShares(env *backup.Envelope, shares []backup.Share, password []byte) error {
	ec := errctx.New("restore_backup_shares")

	accounts, err := m.backups.RestoreFromShares(env, shares)
	if err != nil {
		m.rec.Emit(observe.TopicBackup, ec, "error", err.Error())
		return err
	}
	return m.adoptRestored(accounts, password, ec)
}

func (m *Manager) adoptRestored(accounts []keystore.ExportedAccount, password []byte, ec *errctx.Context) error {
	defer func() {
		for i := range accounts {
			accounts[i].Wipe()
		}
	}()
	if err := m.keys.RestoreAll(accounts, password); err != nil {
		m.rec.Emit(observe.TopicBackup, ec, "error", err.Error())
		return err
	}
	m.cache.Purge()

	m.mu.Lock()
	// The restore replaced the account set; re-point current if its
	// account did not survive.
	if _, err := m.keys.Record(m.current); err != nil {
		m.current = common.Address{}
		for _, rec := range m.keys.Records() {
			m.current = rec.Address
			break
		}
	}
	m.mu.Unlock()

	m.rec.Emit(observe.TopicBackup, ec, "ok", "backup restored")
	return nil
}

// ---- balances ----

// FetchBalances resolves balances for the given addresses through the
// batch processor. Partial failures are reported per address.
func (m *Manager) FetchBalances(ctx context.Context, addrs []common.Address) (*batch.Report, error) {
	if m.batch == nil {
		return nil, errctx.E(errctx.KindValidationFailed, errctx.New("fetch_balances"),
			"no network provider configured")
	}
	report := m.batch.FetchBalances(ctx, addrs)
	m.rec.Emit(observe.TopicBatch, errctx.New("fetch_balances").WithNetwork(m.cfg.Network),
		"ok", "balances fetched")
	return report, nil
}

// FetchAllBalances fetches balances for every account in the wallet.
func (m *Manager) FetchAllBalances(ctx context.Context) (*batch.Report, error) {
	records := m.keys.Records()
	addrs := make([]common.Address, len(records))
	for i, rec := range records {
		addrs[i] = rec.Address
	}
	return m.FetchBalances(ctx, addrs)
}

// ---- hardware ----

// ScanHardware refreshes the device registry across all vendors.
func (m *Manager) ScanHardware(ctx context.Context) ([]hardware.DeviceRecord, error) {
	return m.hw.ScanDevices(ctx)
}

// HardwareDevices lists every known device.
func (m *Manager) HardwareDevices() []hardware.DeviceRecord {
	return m.hw.Devices()
}

// HandleDeviceDisconnect reports a device loss and starts reconnection.
func (m *Manager) HandleDeviceDisconnect(deviceID string) error {
	return m.hw.HandleDisconnect(deviceID)
}

// SignWithHardware signs a 32-byte digest with the device backing the
// given hardware account.
func (m *Manager) SignWithHardware(ctx context.Context, addr common.Address, digest []byte) ([]byte, error) {
	ec := errctx.New("hardware_sign").WithAccount(addr.Hex())

	rec, err := m.Account(addr)
	if err != nil {
		return nil, err
	}
	if !rec.IsHardware {
		return nil, errctx.E(errctx.KindHardwareUnsupported, ec,
			"account %s is not hardware backed", addr.Hex())
	}
	sig, err := m.hw.Sign(ctx, rec.KeyRef.DeviceID, digest)
	if err != nil {
		return nil, err
	}
	if err := m.MarkUsed(addr); err != nil {
		m.log.WithField("account", addr.Hex()).Warn("wallet: usage metadata update failed")
	}
	return sig, nil
}

func (m *Manager) checkName(name string, ec *errctx.Context) error {
	if strings.TrimSpace(name) == "" {
		return errctx.E(errctx.KindValidationFailed, ec, "account name must not be empty")
	}
	for _, rec := range m.keys.Records() {
		if strings.EqualFold(rec.Name, name) {
			return errctx.E(errctx.KindDuplicateNickname, ec,
				"account name %q is already taken", name)
		}
	}
	return nil
}
