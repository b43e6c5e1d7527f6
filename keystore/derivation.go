package keystore

import (
	"crypto/ecdsa"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"

	"github.com/kestrelwallet/kestrel-go/errctx"
)

// DefaultHDPath is the standard BIP-44 path for the first external account.
const DefaultHDPath = "m/44'/60'/0'/0/0"

var DefaultRootDerivationPath = DerivationPath{0x80000000 + 44, 0x80000000 + 60, 0x80000000 + 0, 0, 0}

type DerivationPath []uint32

// ParseDerivationPath converts a textual derivation path into its binary
// form. Absolute paths start with "m/", relative ones are appended to the
// default root path.
func ParseDerivationPath(path string) (DerivationPath, error) {
	var result DerivationPath

	components := strings.Split(path, "/")
	switch {
	case len(components) == 0:
		return nil, fmt.Errorf("empty derivation path")

	case strings.TrimSpace(components[0]) == "":
		return nil, fmt.Errorf("ambiguous path: use 'm/' prefix for absolute paths, or no leading '/' for relative ones")

	case strings.TrimSpace(components[0]) == "m":
		components = components[1:]

	default:
		result = append(result, DefaultRootDerivationPath...)
	}
	if len(components) == 0 {
		return nil, fmt.Errorf("empty derivation path")
	}
	for _, component := range components {
		component = strings.TrimSpace(component)
		var value uint32

		if strings.HasSuffix(component, "'") {
			value = 0x80000000
			component = strings.TrimSpace(strings.TrimSuffix(component, "'"))
		}
		bigval, ok := new(big.Int).SetString(component, 0)
		if !ok {
			return nil, fmt.Errorf("invalid component: %s", component)
		}
		max := math.MaxUint32 - value
		if bigval.Sign() < 0 || bigval.Cmp(big.NewInt(int64(max))) > 0 {
			if value == 0 {
				return nil, fmt.Errorf("component %v out of allowed range [0, %d]", bigval, max)
			}
			return nil, fmt.Errorf("component %v out of allowed hardened range [0, %d]", bigval, max)
		}
		value += uint32(bigval.Uint64())

		result = append(result, value)
	}
	return result, nil
}

// String converts a binary derivation path to its canonical representation.
func (path DerivationPath) String() string {
	result := "m"
	for _, component := range path {
		var hardened bool
		if component >= 0x80000000 {
			component -= 0x80000000
			hardened = true
		}
		result = fmt.Sprintf("%s/%d", result, component)
		if hardened {
			result += "'"
		}
	}
	return result
}

// GenerateMnemonic creates a fresh BIP-39 mnemonic with the given entropy
// strength. Strength must be 128-256 bits in 32-bit increments.
func GenerateMnemonic(strengthBits int) (string, error) {
	if strengthBits < 128 || strengthBits > 256 || strengthBits%32 != 0 {
		return "", errctx.E(errctx.KindValidationFailed, errctx.New("generate_mnemonic"),
			"seed strength must be 128-256 bits in 32-bit increments, got %d", strengthBits)
	}
	entropy, err := bip39.NewEntropy(strengthBits)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// DeriveFromSeed deterministically derives the secp256k1 key and address at
// the given path from a BIP-39 mnemonic. Identical mnemonic and path always
// yield the identical address.
func DeriveFromSeed(mnemonic, path string) (*ecdsa.PrivateKey, common.Address, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, common.Address{}, errctx.E(errctx.KindImportFormatInvalid, errctx.New("derive_from_seed"),
			"invalid mnemonic: word count must be 12-24 and all words must be from the BIP-39 english list")
	}
	if path == "" {
		path = DefaultHDPath
	}
	parsed, err := ParseDerivationPath(path)
	if err != nil {
		return nil, common.Address{}, errctx.E(errctx.KindValidationFailed, errctx.New("derive_from_seed"),
			"invalid derivation path %q: %v", path, err)
	}

	seed := bip39.NewSeed(mnemonic, "")
	defer Zero(seed)

	key, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, common.Address{}, err
	}
	for _, n := range parsed {
		key, err = key.NewChildKey(n)
		if err != nil {
			return nil, common.Address{}, err
		}
	}
	priv := crypto.ToECDSAUnsafe(key.Key)
	addr := crypto.PubkeyToAddress(priv.PublicKey)
	return priv, addr, nil
}

// DeriveFromPrivateKey validates a raw 32-byte secp256k1 private key and
// returns its key object and address.
func DeriveFromPrivateKey(raw []byte) (*ecdsa.PrivateKey, common.Address, error) {
	if len(raw) != 32 {
		return nil, common.Address{}, errctx.E(errctx.KindImportFormatInvalid, errctx.New("derive_from_private_key"),
			"private key must be exactly 32 bytes, got %d", len(raw))
	}
	priv, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, common.Address{}, errctx.E(errctx.KindImportFormatInvalid, errctx.New("derive_from_private_key"),
			"private key rejected by secp256k1: %v", err)
	}
	return priv, crypto.PubkeyToAddress(priv.PublicKey), nil
}
