package domain

import "github.com/ethereum/go-ethereum/common"

// TokenAccount holds a balance of one mint on behalf of an owner. The owner
// is either a user (see UserOwner) or a market's derived address.
type TokenAccount struct {
	Address common.Hash    `json:"address"`
	Owner   common.Hash    `json:"owner"`
	Mint    common.Address `json:"mint"`
	Amount  uint64         `json:"amount"`
}

// UserOwner converts a user address into the owner value used by token
// accounts.
func UserOwner(user common.Address) common.Hash {
	return common.BytesToHash(user.Bytes())
}
