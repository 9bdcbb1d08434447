package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/escrowbet/internal/domain"
)

// Verifier recovers the signer of an operation.
type Verifier struct {
	domainSep []byte
}

// NewVerifier returns a Verifier for the deployment of program on chainID.
func NewVerifier(chainID int, program common.Hash) *Verifier {
	return &Verifier{domainSep: buildDomainSeparator(DomainName, DomainVersion, chainID, program)}
}

// Digest returns the EIP-712 digest of op.
func (v *Verifier) Digest(op Operation) common.Hash {
	return common.BytesToHash(eip712Hash(v.domainSep, operationStructHash(op)))
}

// Recover returns the address that signed op, and the digest it signed.
func (v *Verifier) Recover(op Operation, signature string) (common.Address, common.Hash, error) {
	digest := v.Digest(op)
	sig, err := decodeSignature(signature)
	if err != nil {
		return common.Address{}, digest, err
	}
	addr, err := recoverDigest(digest.Bytes(), sig)
	return addr, digest, err
}

func decodeSignature(s string) ([]byte, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/verify: decode signature: %w", domain.ErrInvalidSignature)
	}
	return sig, nil
}

func recoverDigest(digest, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, domain.ErrInvalidSignature
	}
	rsv := make([]byte, 65)
	copy(rsv, sig)
	if rsv[64] >= 27 {
		rsv[64] -= 27
	}
	if rsv[64] > 1 {
		return common.Address{}, domain.ErrInvalidSignature
	}
	pub, err := ethcrypto.SigToPub(digest, rsv)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/verify: recover: %w", domain.ErrInvalidSignature)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}
