package keystore

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// KeyRefKind tells where the secret material for an account physically lives.
type KeyRefKind string

const (
	KeyRefKeystore KeyRefKind = "keystore"
	KeyRefHardware KeyRefKind = "hardware"
)

// KeyReference is an opaque pointer to secret material. It never contains
// the material itself: either a keystore slot id or a hardware device handle.
type KeyReference struct {
	Kind     KeyRefKind `json:"kind"`
	Slot     string     `json:"slot,omitempty"`
	DeviceID string     `json:"device_id,omitempty"`
}

// Metadata is the mutable, non-secret annotation set of an account.
type Metadata struct {
	Nickname   string     `json:"nickname,omitempty"`
	AvatarSeed string     `json:"avatar_seed,omitempty"`
	Tags       []string   `json:"tags,omitempty"`
	LastUsed   *time.Time `json:"last_used,omitempty"`
	TxCount    uint64     `json:"tx_count"`
}

// Record is one account as owned by the keystore: identity, key reference
// and the encrypted secret envelope. Plaintext secrets never appear here.
type Record struct {
	ID             string         `json:"id"`
	Address        common.Address `json:"address"`
	Name           string         `json:"name"`
	KeyRef         KeyReference   `json:"key_reference"`
	CreatedAt      time.Time      `json:"created_at"`
	IsHardware     bool           `json:"is_hardware"`
	DerivationPath string         `json:"derivation_path,omitempty"`
	Metadata       Metadata       `json:"metadata"`
	Crypto         *Envelope      `json:"crypto,omitempty"`
}

// AvatarSeed derives a short deterministic identicon seed from an address,
// so the same account always renders the same avatar.
func AvatarSeed(addr common.Address) string {
	sum := crypto.Keccak256(addr.Bytes())
	return hex.EncodeToString(sum[:8])
}

// secretMaterial is the plaintext payload sealed inside a Record's envelope.
// Both fields are byte slices so they can be actively zeroed.
type secretMaterial struct {
	PrivKey  []byte `json:"priv_key"`
	Mnemonic []byte `json:"mnemonic,omitempty"`
}

func (s *secretMaterial) wipe() {
	Zero(s.PrivKey)
	Zero(s.Mnemonic)
}

func recordFilename(addr common.Address) string {
	return fmt.Sprintf("KESTREL-KEYJSON-%s.json", addr.Hex())
}
