package primitives

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
)

// AddressSize is the width, in bytes, of an account address.
const AddressSize = 20

// Address identifies an account: the low 20 bytes of the Blake2b-256 hash
// of the owning public key (or, for contracts, of the creating
// transaction's content — see ContractCreationAddress).
type Address [AddressSize]byte

func (a Address) Bytes() []byte { return a[:] }

func (a Address) Hex() string { return hex.EncodeToString(a[:]) }

func (a Address) String() string { return a.Hex() }

func (a Address) IsZero() bool {
	for _, b := range a {
		if b != 0 {
			return false
		}
	}
	return true
}

// AddressFromHex decodes a hex-encoded address.
func AddressFromHex(s string) (Address, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, fmt.Errorf("primitives: decode address hex: %w", err)
	}
	if len(b) != AddressSize {
		return Address{}, fmt.Errorf("primitives: invalid address length: got %d, want %d", len(b), AddressSize)
	}
	var a Address
	copy(a[:], b)
	return a, nil
}

// AddressFromEd25519PublicKey derives the account address owned by an
// Ed25519 public key.
func AddressFromEd25519PublicKey(pub ed25519.PublicKey) Address {
	h := ComputeHash(pub)
	var a Address
	copy(a[:], h[len(h)-AddressSize:])
	return a
}

// StakingContractAddress is the fixed, reserved address of the built-in
// staking contract (internal/accounts) that holds validator deposits and
// processes reward/slash/jail inherents.
var StakingContractAddress = Address{
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0x01,
}

// CoinbaseAddress is the fixed address macro-block reward inherents credit
// block production rewards from.
var CoinbaseAddress = Address{
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0x00,
}
