// Package custody implements token accounts and the transfers between them.
// Every operation runs inside a ledger transaction and checks authority,
// mint and balance before mutating anything. A user signs for its own
// accounts by address; a market's accounts move only through the
// MarketAuthority issued for a live market record.
package custody

import (
	"errors"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowbet/internal/address"
	"github.com/alanyoungcy/escrowbet/internal/domain"
)

// Program is the token custody primitive for one program id.
type Program struct {
	program common.Hash
}

// New returns a custody program that derives associated accounts under
// program.
func New(program common.Hash) *Program {
	return &Program{program: program}
}

// AccountAddress returns the associated token account of owner for mint.
func (p *Program) AccountAddress(owner common.Hash, mint common.Address) (common.Hash, error) {
	addr, _, err := address.TokenAccount(p.program, owner, mint)
	if err != nil {
		return common.Hash{}, fmt.Errorf("custody: derive account: %w", err)
	}
	return addr, nil
}

// InitAccount creates an empty token account at addr.
func (p *Program) InitAccount(tx domain.Tx, addr, owner common.Hash, mint common.Address) (domain.TokenAccount, error) {
	if _, err := tx.Account(addr); err == nil {
		return domain.TokenAccount{}, domain.ErrIdentifierCollision
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.TokenAccount{}, err
	}
	acct := domain.TokenAccount{Address: addr, Owner: owner, Mint: mint}
	if err := tx.PutAccount(acct); err != nil {
		return domain.TokenAccount{}, err
	}
	return acct, nil
}

// Ensure returns the associated account of owner for mint, creating it
// empty if absent.
func (p *Program) Ensure(tx domain.Tx, owner common.Hash, mint common.Address) (domain.TokenAccount, error) {
	addr, err := p.AccountAddress(owner, mint)
	if err != nil {
		return domain.TokenAccount{}, err
	}
	acct, err := tx.Account(addr)
	switch {
	case err == nil:
		return acct, nil
	case errors.Is(err, domain.ErrNotFound):
		return p.InitAccount(tx, addr, owner, mint)
	default:
		return domain.TokenAccount{}, err
	}
}

// Balance returns the amount held at addr.
func (p *Program) Balance(tx domain.Tx, addr common.Hash) (uint64, error) {
	acct, err := p.load(tx, addr)
	if err != nil {
		return 0, err
	}
	return acct.Amount, nil
}

// Transfer moves amount between two accounts on behalf of user, who must
// own the source account. Accounts owned by a market cannot be debited this
// way; see MarketAuthority.
func (p *Program) Transfer(tx domain.Tx, from, to common.Hash, user common.Address, amount uint64) error {
	return p.transfer(tx, from, to, domain.UserOwner(user), amount)
}

// MarketAuthority signs for the accounts one market owns. It exists only
// for a market record present in the transaction it was issued for.
type MarketAuthority struct {
	p      *Program
	tx     domain.Tx
	market common.Hash
}

// MarketAuthority returns the signing authority of market inside tx.
func (p *Program) MarketAuthority(tx domain.Tx, market common.Hash) (*MarketAuthority, error) {
	m, err := tx.Market(market)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrMarketNotFound
	}
	if err != nil {
		return nil, err
	}
	if m.Address != market {
		return nil, domain.ErrAddressMismatch
	}
	return &MarketAuthority{p: p, tx: tx, market: market}, nil
}

// Market returns the address the authority signs for.
func (a *MarketAuthority) Market() common.Hash { return a.market }

// Transfer moves amount out of an account the market owns.
func (a *MarketAuthority) Transfer(from, to common.Hash, amount uint64) error {
	return a.p.transfer(a.tx, from, to, a.market, amount)
}

// Close moves the remaining balance of a market-owned account to
// destination and deletes the account record. It returns the amount moved.
func (a *MarketAuthority) Close(account, destination common.Hash) (uint64, error) {
	src, err := a.p.load(a.tx, account)
	if err != nil {
		return 0, err
	}
	if account == destination {
		return 0, fmt.Errorf("custody: close into itself: %w", domain.ErrOwnerMismatch)
	}
	amount := src.Amount
	if err := a.p.transfer(a.tx, account, destination, a.market, amount); err != nil {
		return 0, err
	}
	if err := a.tx.DeleteAccount(account); err != nil {
		return 0, err
	}
	return amount, nil
}

func (p *Program) transfer(tx domain.Tx, from, to, authority common.Hash, amount uint64) error {
	src, err := p.load(tx, from)
	if err != nil {
		return err
	}
	dst, err := p.load(tx, to)
	if err != nil {
		return err
	}
	if src.Owner != authority {
		return domain.ErrOwnerMismatch
	}
	if src.Mint != dst.Mint {
		return domain.ErrMintMismatch
	}
	if src.Amount < amount {
		return domain.ErrInsufficientFunds
	}
	if from == to {
		return nil
	}
	if dst.Amount > math.MaxUint64-amount {
		return domain.ErrBalanceOverflow
	}
	src.Amount -= amount
	dst.Amount += amount
	if err := tx.PutAccount(src); err != nil {
		return err
	}
	return tx.PutAccount(dst)
}

// MintTo credits amount to owner's associated account for mint, creating
// the account if needed. Only the development faucet and tests call it.
func (p *Program) MintTo(tx domain.Tx, owner common.Hash, mint common.Address, amount uint64) (domain.TokenAccount, error) {
	acct, err := p.Ensure(tx, owner, mint)
	if err != nil {
		return domain.TokenAccount{}, err
	}
	if acct.Amount > math.MaxUint64-amount {
		return domain.TokenAccount{}, domain.ErrBalanceOverflow
	}
	acct.Amount += amount
	if err := tx.PutAccount(acct); err != nil {
		return domain.TokenAccount{}, err
	}
	return acct, nil
}

func (p *Program) load(tx domain.Tx, addr common.Hash) (domain.TokenAccount, error) {
	acct, err := tx.Account(addr)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.TokenAccount{}, domain.ErrAccountNotFound
	}
	return acct, err
}
