package hardware

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/kestrelwallet/kestrel-go/errctx"
	"github.com/kestrelwallet/kestrel-go/keystore"
)

// Vendor is the uniform capability every hardware maker must provide. The
// Manager treats vendors polymorphically; it never switches on vendor names.
type Vendor interface {
	// Name identifies the vendor, e.g. "ledger" or "trezor".
	Name() string

	// ListDevices reports every device of this vendor currently attached.
	ListDevices(ctx context.Context) ([]DeviceInfo, error)

	// Sign asks the given device to sign a 32-byte digest and returns the
	// 65-byte [R || S || V] signature.
	Sign(ctx context.Context, deviceID string, digest []byte) ([]byte, error)
}

// LocalVendor is a software signer exposed through the vendor capability.
// It keeps secp256k1 keys in process memory and is the local-key variant of
// the signer interface: tests and development builds plug it in exactly
// where a Ledger or Trezor capability would go.
type LocalVendor struct {
	mu   sync.RWMutex
	keys map[string][]byte // deviceID -> 32-byte private key
}

func NewLocalVendor() *LocalVendor {
	return &LocalVendor{keys: make(map[string][]byte)}
}

func (v *LocalVendor) Name() string { return "local" }

// AddKey registers a private key as a simulated device and returns its id.
func (v *LocalVendor) AddKey(priv []byte) (string, error) {
	if len(priv) != 32 {
		return "", errctx.E(errctx.KindValidationFailed, errctx.New("local_vendor_add_key"),
			"private key must be exactly 32 bytes, got %d", len(priv))
	}
	id := "local-" + uuid.New().String()
	v.mu.Lock()
	v.keys[id] = append([]byte(nil), priv...)
	v.mu.Unlock()
	return id, nil
}

// RemoveKey forgets a simulated device, wiping its key.
func (v *LocalVendor) RemoveKey(deviceID string) {
	v.mu.Lock()
	if k, ok := v.keys[deviceID]; ok {
		keystore.Zero(k)
		delete(v.keys, deviceID)
	}
	v.mu.Unlock()
}

func (v *LocalVendor) ListDevices(_ context.Context) ([]DeviceInfo, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]DeviceInfo, 0, len(v.keys))
	for id := range v.keys {
		out = append(out, DeviceInfo{ID: id, Model: "software-signer", FirmwareVersion: "n/a"})
	}
	return out, nil
}

func (v *LocalVendor) Sign(_ context.Context, deviceID string, digest []byte) ([]byte, error) {
	v.mu.RLock()
	priv, ok := v.keys[deviceID]
	v.mu.RUnlock()
	if !ok {
		return nil, errctx.E(errctx.KindNotFound, errctx.New("local_vendor_sign"),
			"no local key for device %s", deviceID)
	}
	if len(digest) != 32 {
		return nil, errctx.E(errctx.KindValidationFailed, errctx.New("local_vendor_sign"),
			"digest must be exactly 32 bytes, got %d", len(digest))
	}
	key, err := crypto.ToECDSA(priv)
	if err != nil {
		return nil, err
	}
	defer keystore.ZeroKey(key)
	return crypto.Sign(digest, key)
}
