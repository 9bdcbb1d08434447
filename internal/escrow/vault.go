// Package escrow holds the two outcome pools of a market. A Vault is the
// only value that carries the market's pool authority, and it only moves
// funds along the paths settlement allows: stakes in, a bet's own amount
// back out, and a final sweep to one destination.
package escrow

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowbet/internal/address"
	"github.com/alanyoungcy/escrowbet/internal/custody"
	"github.com/alanyoungcy/escrowbet/internal/domain"
)

// Pools are the derived pool addresses of a market.
type Pools struct {
	Higher     common.Hash
	HigherBump uint8
	Lower      common.Hash
	LowerBump  uint8
}

// Of returns the pool address for dir.
func (p Pools) Of(dir domain.Direction) (common.Hash, error) {
	switch dir {
	case domain.DirectionHigher:
		return p.Higher, nil
	case domain.DirectionLower:
		return p.Lower, nil
	default:
		return common.Hash{}, domain.ErrInvalidDirection
	}
}

// DerivePools computes both pool addresses of market.
func DerivePools(program, market common.Hash) (Pools, error) {
	h, hb, err := address.HigherPool(program, market)
	if err != nil {
		return Pools{}, fmt.Errorf("escrow: derive higher pool: %w", err)
	}
	l, lb, err := address.LowerPool(program, market)
	if err != nil {
		return Pools{}, fmt.Errorf("escrow: derive lower pool: %w", err)
	}
	return Pools{Higher: h, HigherBump: hb, Lower: l, LowerBump: lb}, nil
}

// Vault operates the pools of one market inside one transaction.
type Vault struct {
	tx        domain.Tx
	custody   *custody.Program
	market    domain.Market
	pools     Pools
	authority *custody.MarketAuthority
}

// Initialize creates both pool accounts for market, owned by the market's
// address, and returns the vault with the bumps recorded on market. The
// market record must exist in tx.
func Initialize(tx domain.Tx, cp *custody.Program, program common.Hash, market domain.Market, mint common.Address) (*Vault, domain.Market, error) {
	pools, err := DerivePools(program, market.Address)
	if err != nil {
		return nil, market, err
	}
	auth, err := cp.MarketAuthority(tx, market.Address)
	if err != nil {
		return nil, market, err
	}
	if _, err := cp.InitAccount(tx, pools.Higher, market.Address, mint); err != nil {
		return nil, market, fmt.Errorf("escrow: init higher pool: %w", err)
	}
	if _, err := cp.InitAccount(tx, pools.Lower, market.Address, mint); err != nil {
		return nil, market, fmt.Errorf("escrow: init lower pool: %w", err)
	}
	market.Mint = mint
	market.HigherPoolBump = pools.HigherBump
	market.LowerPoolBump = pools.LowerBump
	return &Vault{tx: tx, custody: cp, market: market, pools: pools, authority: auth}, market, nil
}

// Open returns the vault of an initialised market, verifying the bumps
// stored on the market record.
func Open(tx domain.Tx, cp *custody.Program, program common.Hash, market domain.Market) (*Vault, error) {
	if market.State != domain.MarketStatePoolsInitialized {
		return nil, domain.ErrInvalidMarketState
	}
	pools, err := DerivePools(program, market.Address)
	if err != nil {
		return nil, err
	}
	if pools.HigherBump != market.HigherPoolBump || pools.LowerBump != market.LowerPoolBump {
		return nil, domain.ErrAddressMismatch
	}
	auth, err := cp.MarketAuthority(tx, market.Address)
	if err != nil {
		return nil, err
	}
	return &Vault{tx: tx, custody: cp, market: market, pools: pools, authority: auth}, nil
}

// Pools returns the vault's pool addresses.
func (v *Vault) Pools() Pools { return v.pools }

// Balances returns the amounts held by the Higher and Lower pools.
func (v *Vault) Balances() (higher, lower uint64, err error) {
	if higher, err = v.custody.Balance(v.tx, v.pools.Higher); err != nil {
		return 0, 0, err
	}
	if lower, err = v.custody.Balance(v.tx, v.pools.Lower); err != nil {
		return 0, 0, err
	}
	return higher, lower, nil
}

// Deposit moves amount from user's account into the pool for dir.
func (v *Vault) Deposit(from common.Hash, user common.Address, dir domain.Direction, amount uint64) error {
	pool, err := v.pools.Of(dir)
	if err != nil {
		return err
	}
	return v.custody.Transfer(v.tx, from, pool, user, amount)
}

// Refund pays exactly bet.Amount from the bet's pool to the bet owner's
// associated account, creating that account if needed.
func (v *Vault) Refund(bet domain.Bet) error {
	pool, err := v.pools.Of(bet.Direction)
	if err != nil {
		return err
	}
	dst, err := v.custody.Ensure(v.tx, domain.UserOwner(bet.User), v.market.Mint)
	if err != nil {
		return err
	}
	return v.authority.Transfer(pool, dst.Address, bet.Amount)
}

// Sweep closes both pools into destination's associated account and
// returns the amounts moved.
func (v *Vault) Sweep(destination common.Hash) (higher, lower uint64, dst common.Hash, err error) {
	acct, err := v.custody.Ensure(v.tx, destination, v.market.Mint)
	if err != nil {
		return 0, 0, common.Hash{}, err
	}
	if higher, err = v.authority.Close(v.pools.Higher, acct.Address); err != nil {
		return 0, 0, common.Hash{}, fmt.Errorf("escrow: close higher pool: %w", err)
	}
	if lower, err = v.authority.Close(v.pools.Lower, acct.Address); err != nil {
		return 0, 0, common.Hash{}, fmt.Errorf("escrow: close lower pool: %w", err)
	}
	return higher, lower, acct.Address, nil
}
