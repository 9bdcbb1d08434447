// Package address derives deterministic record identifiers from seed tuples.
//
// An identifier is keccak256(seeds || bump || program || marker), with the
// bump searched downward from 255 until the result is not the x coordinate
// of a secp256k1 point. Such an identifier has no private key, so records
// stored under it can only be changed by the program that derived it.
package address

import (
	"encoding/binary"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/escrowbet/internal/domain"
)

// MaxSeedLen bounds a single seed. Feed ids (66 bytes) are the longest seed.
const MaxSeedLen = 128

const derivationMarker = "ProgramDerivedAddress"

// Seeds.
var (
	SeedHigherPool = []byte("higher_pool")
	SeedLowerPool  = []byte("lower_pool")
	SeedBet        = []byte("prediction_bet")
	SeedToken      = []byte("associated_token")
)

// CreateWithBump computes the identifier for seeds and a known bump. It
// fails with domain.ErrNoViableBump if the candidate lies on the curve.
func CreateWithBump(program common.Hash, bump uint8, seeds ...[]byte) (common.Hash, error) {
	parts := make([][]byte, 0, len(seeds)+3)
	for _, s := range seeds {
		if len(s) > MaxSeedLen {
			return common.Hash{}, domain.ErrSeedTooLong
		}
		parts = append(parts, s)
	}
	parts = append(parts, []byte{bump}, program.Bytes(), []byte(derivationMarker))

	h := ethcrypto.Keccak256Hash(parts...)
	if onCurve(h) {
		return common.Hash{}, domain.ErrNoViableBump
	}
	return h, nil
}

// Derive returns the first off-curve identifier for seeds, trying bumps
// from 255 down to 0.
func Derive(program common.Hash, seeds ...[]byte) (common.Hash, uint8, error) {
	for bump := 255; bump >= 0; bump-- {
		h, err := CreateWithBump(program, uint8(bump), seeds...)
		if err == nil {
			return h, uint8(bump), nil
		}
		if !errors.Is(err, domain.ErrNoViableBump) {
			return common.Hash{}, 0, err
		}
	}
	return common.Hash{}, 0, domain.ErrNoViableBump
}

// Verify checks that addr is the identifier for seeds at bump.
func Verify(program common.Hash, addr common.Hash, bump uint8, seeds ...[]byte) error {
	h, err := CreateWithBump(program, bump, seeds...)
	if err != nil || h != addr {
		return domain.ErrAddressMismatch
	}
	return nil
}

// onCurve reports whether h is the x coordinate of a point on secp256k1,
// i.e. whether 0x02||h decompresses to a valid public key.
func onCurve(h common.Hash) bool {
	var compressed [33]byte
	compressed[0] = 0x02
	copy(compressed[1:], h[:])
	_, err := ethcrypto.DecompressPubkey(compressed[:])
	return err == nil
}

// U64 encodes v little-endian.
func U64(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}
