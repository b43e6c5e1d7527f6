package keystore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/kestrelwallet/kestrel-go/errctx"
)

const checkFilename = "KESTREL-CHECK.json"

// checkPlaintext is the fixed payload of the password check envelope. The
// envelope's GCM tag is what actually proves the password, not the payload.
var checkPlaintext = []byte("kestrel keystore check value v1")

// Manager owns the encrypted account records and the global lock state.
// It is the root of trust for in-memory secrets: while unlocked it holds
// decrypted key material for every software account, and on Lock every
// secret buffer is actively overwritten before being dropped.
//
// The lock-state transition is a single atomic flip under the write lock:
// concurrent readers either see the full unlocked secret set or none of it.
type Manager struct {
	log     *logrus.Logger
	dirPath string

	mu      sync.RWMutex
	records map[common.Address]*Record
	secrets map[common.Address]*secretMaterial
	locked  bool
	check   *Envelope

	lastActivity int64 // unix nanos of last secret-requiring call
	autoLockStop chan struct{}
	onAutoLock   func()
}

// NewManager creates a Manager rooted at dirPath. The keystore starts
// Locked; call Init for a fresh store or LoadAll + Unlock for an existing one.
func NewManager(dirPath string, log *logrus.Logger) *Manager {
	if log == nil {
		log = logrus.New()
	}
	return &Manager{
		log:     log,
		dirPath: dirPath,
		records: make(map[common.Address]*Record),
		locked:  true,
	}
}

// Init prepares a new keystore directory and writes the password check
// envelope. With unlockedOnInit the store starts Unlocked (the explicit
// configuration flag for test-mode auto-unlock); otherwise it stays Locked.
func (m *Manager) Init(password []byte, unlockedOnInit bool) error {
	if err := os.MkdirAll(m.dirPath, 0700); err != nil {
		return errors.Wrap(err, "create keystore dir")
	}
	checkPath := filepath.Join(m.dirPath, checkFilename)
	if _, err := os.Stat(checkPath); os.IsNotExist(err) {
		env, err := Seal(checkPlaintext, password)
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(env, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(checkPath, data, 0600); err != nil {
			return errors.Wrap(err, "write check file")
		}
		m.mu.Lock()
		m.check = env
		m.mu.Unlock()
	} else if err := m.loadCheck(); err != nil {
		return err
	}

	if unlockedOnInit {
		return m.Unlock(password)
	}
	return nil
}

func (m *Manager) loadCheck() error {
	data, err := os.ReadFile(filepath.Join(m.dirPath, checkFilename))
	if err != nil {
		return errors.Wrap(err, "read check file")
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return errors.Wrap(err, "parse check file")
	}
	m.mu.Lock()
	m.check = &env
	m.mu.Unlock()
	return nil
}

// LoadAll reads every account record file under the keystore directory.
func (m *Manager) LoadAll() error {
	if _, err := os.Stat(m.dirPath); os.IsNotExist(err) {
		return err
	}
	if err := m.loadCheck(); err != nil {
		return err
	}
	loaded := make(map[common.Address]*Record)
	err := filepath.Walk(m.dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".json") || filepath.Base(path) == checkFilename {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return errors.Wrapf(err, "parse record %s", filepath.Base(path))
		}
		loaded[rec.Address] = &rec
		return nil
	})
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.records = loaded
	m.mu.Unlock()
	m.log.WithField("count", len(loaded)).Info("keystore records loaded")
	return nil
}

// VerifyPassword checks a password against the stored key-derivation check
// value without changing lock state.
func (m *Manager) VerifyPassword(password []byte) error {
	m.mu.RLock()
	check := m.check
	m.mu.RUnlock()
	if check == nil {
		return errctx.E(errctx.KindValidationFailed, errctx.New("verify_password"),
			"keystore not initialized: missing password check value")
	}
	plain, err := Open(check, password)
	if err != nil {
		return err
	}
	Zero(plain)
	return nil
}

// IsLocked reports the current lock state.
func (m *Manager) IsLocked() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.locked
}

// Unlock verifies the password and decrypts every software account's secret.
// The secret table is fully built before the state flips, so no caller can
// observe a partially unlocked store. The account set visible afterwards is
// exactly the set that was visible before the most recent Lock.
func (m *Manager) Unlock(password []byte) error {
	if err := m.VerifyPassword(password); err != nil {
		return err
	}

	m.mu.RLock()
	pending := make([]*Record, 0, len(m.records))
	for _, rec := range m.records {
		if !rec.IsHardware {
			pending = append(pending, rec)
		}
	}
	m.mu.RUnlock()

	staged := make(map[common.Address]*secretMaterial, len(pending))
	for _, rec := range pending {
		plain, err := Open(rec.Crypto, password)
		if err != nil {
			for _, s := range staged {
				s.wipe()
			}
			return errors.Wrapf(err, "decrypt record %s", rec.Address.Hex())
		}
		var sec secretMaterial
		if err := json.Unmarshal(plain, &sec); err != nil {
			Zero(plain)
			for _, s := range staged {
				s.wipe()
			}
			return errors.Wrapf(err, "parse secret of %s", rec.Address.Hex())
		}
		Zero(plain)
		staged[rec.Address] = &sec
	}

	m.mu.Lock()
	m.secrets = staged
	m.locked = false
	m.mu.Unlock()
	m.touch()
	m.log.WithField("accounts", len(staged)).Info("keystore unlocked")
	return nil
}

// Lock transitions to the locked state, actively zeroing every in-memory
// secret buffer before dropping it. Lock is unconditional and idempotent.
func (m *Manager) Lock() {
	m.mu.Lock()
	for _, sec := range m.secrets {
		sec.wipe()
	}
	m.secrets = nil
	already := m.locked
	m.locked = true
	m.mu.Unlock()
	if !already {
		m.log.Info("keystore locked, secrets cleared")
	}
}

// StartAutoLock arranges a background transition to Locked once no
// secret-requiring call has happened for the given timeout. Clearing
// semantics are identical to an explicit Lock.
func (m *Manager) StartAutoLock(timeout time.Duration, onAutoLock func()) {
	if timeout <= 0 {
		return
	}
	m.mu.Lock()
	if m.autoLockStop != nil {
		close(m.autoLockStop)
	}
	stop := make(chan struct{})
	m.autoLockStop = stop
	m.onAutoLock = onAutoLock
	m.mu.Unlock()

	ticker := time.NewTicker(timeout / 4)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				last := time.Unix(0, atomic.LoadInt64(&m.lastActivity))
				m.mu.RLock()
				idle := !m.locked && time.Since(last) >= timeout
				cb := m.onAutoLock
				m.mu.RUnlock()
				if idle {
					m.Lock()
					if cb != nil {
						cb()
					}
				}
			}
		}
	}()
}

// StopAutoLock cancels the auto-lock watcher.
func (m *Manager) StopAutoLock() {
	m.mu.Lock()
	if m.autoLockStop != nil {
		close(m.autoLockStop)
		m.autoLockStop = nil
	}
	m.mu.Unlock()
}

func (m *Manager) touch() {
	atomic.StoreInt64(&m.lastActivity, time.Now().UnixNano())
}

// CreateFromMnemonic derives an account from a BIP-39 mnemonic, encrypts its
// secret under the password and persists the record. The keystore must be
// unlocked; the password must match the check value so the new record stays
// decryptable together with the rest of the store.
func (m *Manager) CreateFromMnemonic(name, mnemonic, path string, password []byte) (Record, error) {
	priv, addr, err := DeriveFromSeed(mnemonic, path)
	if err != nil {
		return Record{}, err
	}
	defer ZeroKey(priv)
	if path == "" {
		path = DefaultHDPath
	}
	sec := &secretMaterial{
		PrivKey:  crypto.FromECDSA(priv),
		Mnemonic: []byte(mnemonic),
	}
	return m.storeNew(name, addr, path, sec, password)
}

// CreateFromPrivateKey imports a raw secp256k1 private key as an account.
func (m *Manager) CreateFromPrivateKey(name string, raw, password []byte) (Record, error) {
	priv, addr, err := DeriveFromPrivateKey(raw)
	if err != nil {
		return Record{}, err
	}
	defer ZeroKey(priv)
	sec := &secretMaterial{PrivKey: crypto.FromECDSA(priv)}
	return m.storeNew(name, addr, "", sec, password)
}

// RegisterHardware records a hardware-backed account. No secret material is
// stored locally; the key reference points at the device.
func (m *Manager) RegisterHardware(name string, addr common.Address, deviceID, path string) (Record, error) {
	rec := Record{
		ID:             uuid.New().String(),
		Address:        addr,
		Name:           name,
		KeyRef:         KeyReference{Kind: KeyRefHardware, DeviceID: deviceID},
		CreatedAt:      time.Now().UTC(),
		IsHardware:     true,
		DerivationPath: path,
		Metadata:       Metadata{AvatarSeed: AvatarSeed(addr)},
	}
	m.mu.Lock()
	if _, exists := m.records[addr]; exists {
		m.mu.Unlock()
		return Record{}, errctx.E(errctx.KindValidationFailed, errctx.New("register_hardware").WithAccount(addr.Hex()),
			"an account for address %s already exists", addr.Hex())
	}
	m.records[addr] = &rec
	m.mu.Unlock()
	if err := m.persist(&rec); err != nil {
		m.mu.Lock()
		delete(m.records, addr)
		m.mu.Unlock()
		return Record{}, err
	}
	return rec, nil
}

func (m *Manager) storeNew(name string, addr common.Address, path string, sec *secretMaterial, password []byte) (Record, error) {
	defer sec.wipe()

	if m.IsLocked() {
		return Record{}, errctx.E(errctx.KindLocked, errctx.New("store_account").WithAccount(addr.Hex()),
			"keystore is locked")
	}
	if err := m.VerifyPassword(password); err != nil {
		return Record{}, err
	}

	plain, err := json.Marshal(sec)
	if err != nil {
		return Record{}, err
	}
	env, err := Seal(plain, password)
	Zero(plain)
	if err != nil {
		return Record{}, err
	}

	id := uuid.New().String()
	rec := Record{
		ID:             id,
		Address:        addr,
		Name:           name,
		KeyRef:         KeyReference{Kind: KeyRefKeystore, Slot: id},
		CreatedAt:      time.Now().UTC(),
		DerivationPath: path,
		Metadata:       Metadata{AvatarSeed: AvatarSeed(addr)},
		Crypto:         env,
	}

	m.mu.Lock()
	// The store may have locked while we were deriving keys; a locked store
	// has no secrets map to insert into.
	if m.locked {
		m.mu.Unlock()
		return Record{}, errctx.E(errctx.KindLocked, errctx.New("store_account").WithAccount(addr.Hex()),
			"keystore locked during account creation")
	}
	if _, exists := m.records[addr]; exists {
		m.mu.Unlock()
		return Record{}, errctx.E(errctx.KindValidationFailed, errctx.New("store_account").WithAccount(addr.Hex()),
			"an account for address %s already exists", addr.Hex())
	}
	m.records[addr] = &rec
	m.secrets[addr] = &secretMaterial{
		PrivKey:  append([]byte(nil), sec.PrivKey...),
		Mnemonic: append([]byte(nil), sec.Mnemonic...),
	}
	m.mu.Unlock()

	if err := m.persist(&rec); err != nil {
		m.mu.Lock()
		if s := m.secrets[addr]; s != nil {
			s.wipe()
		}
		delete(m.secrets, addr)
		delete(m.records, addr)
		m.mu.Unlock()
		return Record{}, err
	}
	m.touch()
	return rec, nil
}

func (m *Manager) persist(rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(m.dirPath, recordFilename(rec.Address))
	return os.WriteFile(path, data, 0600)
}

// Remove deletes an account record and wipes its unlocked secret, if any.
func (m *Manager) Remove(addr common.Address) error {
	m.mu.Lock()
	_, exists := m.records[addr]
	if !exists {
		m.mu.Unlock()
		return errctx.E(errctx.KindNotFound, errctx.New("remove_account").WithAccount(addr.Hex()),
			"no account for address %s", addr.Hex())
	}
	if sec := m.secrets[addr]; sec != nil {
		sec.wipe()
	}
	delete(m.secrets, addr)
	delete(m.records, addr)
	m.mu.Unlock()

	path := filepath.Join(m.dirPath, recordFilename(addr))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove record file")
	}
	return nil
}

// Records returns a copy of every account record, sorted by creation time.
func (m *Manager) Records() []Record {
	m.mu.RLock()
	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, *rec)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Record returns the record for one address.
func (m *Manager) Record(addr common.Address) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[addr]
	if !ok {
		return Record{}, errctx.E(errctx.KindNotFound, errctx.New("get_account").WithAccount(addr.Hex()),
			"no account for address %s", addr.Hex())
	}
	return *rec, nil
}

// UpdateMetadata applies a mutation to one account's metadata and persists it.
func (m *Manager) UpdateMetadata(addr common.Address, mutate func(*Metadata)) error {
	m.mu.Lock()
	rec, ok := m.records[addr]
	if !ok {
		m.mu.Unlock()
		return errctx.E(errctx.KindNotFound, errctx.New("update_metadata").WithAccount(addr.Hex()),
			"no account for address %s", addr.Hex())
	}
	mutate(&rec.Metadata)
	snapshot := *rec
	m.mu.Unlock()
	return m.persist(&snapshot)
}

// PrivateKey returns a copy of the unlocked private key for addr. The caller
// must zero the copy after use.
func (m *Manager) PrivateKey(addr common.Address) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[addr]
	if !ok {
		return nil, errctx.E(errctx.KindNotFound, errctx.New("private_key").WithAccount(addr.Hex()),
			"no account for address %s", addr.Hex())
	}
	if rec.IsHardware {
		return nil, errctx.E(errctx.KindHardwareUnsupported, errctx.New("private_key").WithAccount(addr.Hex()),
			"account %s is hardware-backed: its private key never leaves the device", addr.Hex())
	}
	if m.locked {
		return nil, errctx.E(errctx.KindLocked, errctx.New("private_key").WithAccount(addr.Hex()),
			"keystore is locked")
	}
	sec := m.secrets[addr]
	if sec == nil {
		return nil, errctx.E(errctx.KindLocked, errctx.New("private_key").WithAccount(addr.Hex()),
			"keystore is locked")
	}
	m.touch()
	return append([]byte(nil), sec.PrivKey...), nil
}

// Mnemonic returns a copy of the seed phrase backing addr, when one exists
// locally. Hardware accounts and raw-key imports have none.
func (m *Manager) Mnemonic(addr common.Address) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[addr]
	if !ok {
		return nil, errctx.E(errctx.KindNotFound, errctx.New("mnemonic").WithAccount(addr.Hex()),
			"no account for address %s", addr.Hex())
	}
	if rec.IsHardware {
		return nil, errctx.E(errctx.KindHardwareUnsupported, errctx.New("mnemonic").WithAccount(addr.Hex()),
			"account %s is hardware-backed and has no local seed", addr.Hex())
	}
	if m.locked {
		return nil, errctx.E(errctx.KindLocked, errctx.New("mnemonic").WithAccount(addr.Hex()),
			"keystore is locked")
	}
	sec := m.secrets[addr]
	if sec == nil || len(sec.Mnemonic) == 0 {
		return nil, errctx.E(errctx.KindHardwareUnsupported, errctx.New("mnemonic").WithAccount(addr.Hex()),
			"account %s was imported from a raw private key and has no seed phrase", addr.Hex())
	}
	m.touch()
	return append([]byte(nil), sec.Mnemonic...), nil
}

// ExportedAccount is one account's full state as used by backup envelopes.
type ExportedAccount struct {
	Record   Record `json:"record"`
	PrivKey  []byte `json:"priv_key,omitempty"`
	Mnemonic []byte `json:"mnemonic,omitempty"`
}

// Wipe zeros the secret fields of an export.
func (e *ExportedAccount) Wipe() {
	Zero(e.PrivKey)
	Zero(e.Mnemonic)
}

// ExportAll decrypts every record under the given password and returns the
// full account set, secrets included. Used by the backup manager; callers
// must wipe the result.
func (m *Manager) ExportAll(password []byte) ([]ExportedAccount, error) {
	if err := m.VerifyPassword(password); err != nil {
		return nil, err
	}
	records := m.Records()
	out := make([]ExportedAccount, 0, len(records))
	for _, rec := range records {
		exp := ExportedAccount{Record: rec}
		exp.Record.Crypto = nil
		if !rec.IsHardware {
			plain, err := Open(rec.Crypto, password)
			if err != nil {
				for i := range out {
					out[i].Wipe()
				}
				return nil, errors.Wrapf(err, "decrypt record %s", rec.Address.Hex())
			}
			var sec secretMaterial
			if err := json.Unmarshal(plain, &sec); err != nil {
				Zero(plain)
				for i := range out {
					out[i].Wipe()
				}
				return nil, err
			}
			Zero(plain)
			exp.PrivKey = sec.PrivKey
			exp.Mnemonic = sec.Mnemonic
		}
		out = append(out, exp)
	}
	return out, nil
}

// RestoreAll re-encrypts restored accounts under the password and replaces
// the current store, in memory and on disk: record files for accounts absent
// from the backup are removed. New record files are staged to a temporary
// directory and only renamed into place once every account has re-encrypted
// and written cleanly, so a mid-restore failure leaves the store untouched.
func (m *Manager) RestoreAll(accounts []ExportedAccount, password []byte) error {
	if err := m.VerifyPassword(password); err != nil {
		return err
	}

	type staged struct {
		rec Record
		sec *secretMaterial
	}
	prepared := make([]staged, 0, len(accounts))
	for _, acc := range accounts {
		rec := acc.Record
		if !rec.IsHardware {
			sec := &secretMaterial{
				PrivKey:  append([]byte(nil), acc.PrivKey...),
				Mnemonic: append([]byte(nil), acc.Mnemonic...),
			}
			plain, err := json.Marshal(sec)
			if err != nil {
				return err
			}
			env, err := Seal(plain, password)
			Zero(plain)
			if err != nil {
				return err
			}
			rec.Crypto = env
			prepared = append(prepared, staged{rec: rec, sec: sec})
		} else {
			prepared = append(prepared, staged{rec: rec})
		}
	}

	// Stage every record file first. The .tmp suffix keeps a crashed
	// restore's leftovers invisible to LoadAll.
	staging, err := os.MkdirTemp(m.dirPath, "restore-")
	if err != nil {
		return errors.Wrap(err, "create restore staging dir")
	}
	defer os.RemoveAll(staging)
	for i := range prepared {
		data, err := json.MarshalIndent(&prepared[i].rec, "", "  ")
		if err != nil {
			return err
		}
		name := recordFilename(prepared[i].rec.Address) + ".tmp"
		if err := os.WriteFile(filepath.Join(staging, name), data, 0600); err != nil {
			return errors.Wrapf(err, "stage restored record %s", prepared[i].rec.Address.Hex())
		}
	}

	newRecords := make(map[common.Address]*Record, len(prepared))
	newSecrets := make(map[common.Address]*secretMaterial, len(prepared))
	for i := range prepared {
		rec := prepared[i].rec
		newRecords[rec.Address] = &rec
		if prepared[i].sec != nil {
			newSecrets[rec.Address] = prepared[i].sec
		}
	}

	m.mu.Lock()
	for i := range prepared {
		name := recordFilename(prepared[i].rec.Address)
		if err := os.Rename(filepath.Join(staging, name+".tmp"), filepath.Join(m.dirPath, name)); err != nil {
			m.mu.Unlock()
			for _, sec := range newSecrets {
				sec.wipe()
			}
			return errors.Wrapf(err, "apply restored record %s", prepared[i].rec.Address.Hex())
		}
	}
	for addr := range m.records {
		if _, ok := newRecords[addr]; !ok {
			os.Remove(filepath.Join(m.dirPath, recordFilename(addr)))
		}
	}
	for _, sec := range m.secrets {
		sec.wipe()
	}
	m.records = newRecords
	if !m.locked {
		m.secrets = newSecrets
	} else {
		for _, sec := range newSecrets {
			sec.wipe()
		}
	}
	m.mu.Unlock()
	m.log.WithField("accounts", len(prepared)).Info("keystore state restored from backup")
	return nil
}
