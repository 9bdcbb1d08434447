// Package crypto provides EIP-712 signing and recovery of settlement
// operations, EIP-191 price attestations, replay protection and encrypted
// key files.
package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Domain separator fields.
const (
	DomainName    = "EscrowBet"
	DomainVersion = "1"
)

var (
	// The salt is the program id, binding signatures to one deployment.
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,bytes32 salt)"),
	)

	operationTypeHash = ethcrypto.Keccak256(
		[]byte("Operation(string operation,bytes32 market,bytes32 bet,uint256 amount,uint8 direction,address mint,uint256 targetPrice,string feedId,uint256 duration,uint256 deadline)"),
	)
)

// Operation names.
const (
	OpCreateMarket    = "create_market"
	OpInitializePools = "initialize_pools"
	OpCancelMarket    = "cancel_market"
	OpFinalizeMarket  = "finalize_market"
	OpPlaceBet        = "place_bet"
	OpCancelBet       = "cancel_bet"
	OpClaimBet        = "claim_bet"
)

// Operation is the signed form of a settlement request. Fields an
// operation does not use are left zero; they are still part of the digest.
type Operation struct {
	Kind        string         `json:"operation"`
	Market      common.Hash    `json:"market"`
	Bet         common.Hash    `json:"bet"`
	Amount      uint64         `json:"amount"`
	Direction   uint8          `json:"direction"`
	Mint        common.Address `json:"mint"`
	TargetPrice uint64         `json:"target_price"`
	FeedID      string         `json:"feed_id"`
	Duration    uint64         `json:"duration"`
	Deadline    int64          `json:"deadline"`
}

// Signer signs operations and attestations with a secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	domainSep  []byte
}

// NewSigner creates a Signer from a hex-encoded private key for the
// deployment of program on chainID.
func NewSigner(privateKeyHex string, chainID int, program common.Hash) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return NewSignerFromKey(pk, chainID, program), nil
}

// NewSignerFromKey wraps an existing key.
func NewSignerFromKey(pk *ecdsa.PrivateKey, chainID int, program common.Hash) *Signer {
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		domainSep:  buildDomainSeparator(DomainName, DomainVersion, chainID, program),
	}
}

// Address returns the signer's address.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignOperation returns the hex-encoded 65-byte EIP-712 signature of op.
func (s *Signer) SignOperation(op Operation) (string, error) {
	sig, err := s.signDigest(eip712Hash(s.domainSep, operationStructHash(op)))
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(sig), nil
}

func operationStructHash(op Operation) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			operationTypeHash,
			ethcrypto.Keccak256([]byte(op.Kind)),
			op.Market.Bytes(),
			op.Bet.Bytes(),
			bigIntTo32Bytes(new(big.Int).SetUint64(op.Amount)),
			bigIntTo32Bytes(big.NewInt(int64(op.Direction))),
			common.LeftPadBytes(op.Mint.Bytes(), 32),
			bigIntTo32Bytes(new(big.Int).SetUint64(op.TargetPrice)),
			ethcrypto.Keccak256([]byte(op.FeedID)),
			bigIntTo32Bytes(new(big.Int).SetUint64(op.Duration)),
			bigIntTo32Bytes(big.NewInt(op.Deadline)),
		),
	)
}

// buildDomainSeparator returns keccak256(abi.encode(typeHash, nameHash, versionHash, chainId, salt)).
func buildDomainSeparator(name, version string, chainID int, salt common.Hash) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(name)),
			ethcrypto.Keccak256([]byte(version)),
			bigIntTo32Bytes(big.NewInt(int64(chainID))),
			salt.Bytes(),
		),
	)
}

// eip712Hash computes keccak256("\x19\x01" || domainSeparator || structHash).
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(concatBytes([]byte{0x19, 0x01}, domainSep, structHash))
}

// signDigest signs a 32-byte digest and returns r || s || v with v in {27,28}.
func (s *Signer) signDigest(digest []byte) ([]byte, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: signing: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
