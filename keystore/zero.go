package keystore

import (
	"crypto/ecdsa"
	"math/big"
)

// Zero actively overwrites a byte slice so the secret does not linger in
// memory until the garbage collector reuses the allocation.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ZeroKey wipes the scalar of an ECDSA private key.
func ZeroKey(k *ecdsa.PrivateKey) {
	if k == nil {
		return
	}
	b := k.D.Bits()
	for i := range b {
		b[i] = 0
	}
	k.D = new(big.Int)
}
