package crypto

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/escrowbet/internal/domain"
)

// AttestationDigest returns the EIP-191 personal-message digest a publisher
// signs: keccak256("\x19Ethereum Signed Message:\n32" || keccak256(feed ||
// price || conf || publish_slot)), integers big-endian.
func AttestationDigest(att domain.PriceAttestation) []byte {
	var nums [24]byte
	binary.BigEndian.PutUint64(nums[0:8], uint64(att.Price))
	binary.BigEndian.PutUint64(nums[8:16], att.Conf)
	binary.BigEndian.PutUint64(nums[16:24], att.PublishSlot)
	inner := ethcrypto.Keccak256(att.FeedID[:], nums[:])
	return ethcrypto.Keccak256([]byte("\x19Ethereum Signed Message:\n32"), inner)
}

// SignAttestation returns att with its Signature set.
func (s *Signer) SignAttestation(att domain.PriceAttestation) (domain.PriceAttestation, error) {
	sig, err := s.signDigest(AttestationDigest(att))
	if err != nil {
		return att, err
	}
	att.Signature = sig
	return att, nil
}

// RecoverAttestation returns the address that signed att.
func RecoverAttestation(att domain.PriceAttestation) (common.Address, error) {
	return recoverDigest(AttestationDigest(att), att.Signature)
}
