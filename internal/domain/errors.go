package domain

import "errors"

// Kind classifies an error for callers that react to categories rather than
// individual codes (the HTTP layer maps kinds to status codes).
type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindState         Kind = "state"
	KindDoubleClaim   Kind = "double_claim"
	KindCustody       Kind = "custody"
	KindOracle        Kind = "oracle"
	KindCollision     Kind = "collision"
	KindNotFound      Kind = "not_found"
	KindConflict      Kind = "conflict"
	KindInternal      Kind = "internal"
)

// Error is a sentinel engine error with a stable code. Compare with
// errors.Is; wrapped errors keep their code.
type Error struct {
	Code    string
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(code string, kind Kind, msg string) *Error {
	return &Error{Code: code, Kind: kind, Message: msg}
}

var (
	// Validation.
	ErrIncorrectFeedIDLength = newError("IncorrectFeedIDLength", KindValidation, "feed id must be 66 characters")
	ErrShortMarketDuration   = newError("ShortMarketDuration", KindValidation, "market duration is shorter than the minimum")
	ErrInvalidBetAmount      = newError("InvalidBetAmount", KindValidation, "bet amount must be greater than zero")
	ErrInvalidDirection      = newError("InvalidDirection", KindValidation, "direction must be higher or lower")
	ErrInvalidMint           = newError("InvalidMint", KindValidation, "mint must be a non-zero address")
	ErrAddressMismatch       = newError("AddressMismatch", KindValidation, "record identifier does not match its seeds")
	ErrMarketMismatch        = newError("MarketMismatch", KindValidation, "bet does not belong to this market")
	ErrSeedTooLong           = newError("SeedTooLong", KindValidation, "address seed exceeds the maximum length")

	// Authorization.
	ErrUnauthorizedUser = newError("UnauthorizedUser", KindAuthorization, "caller is not allowed to perform this operation")
	ErrInvalidSignature = newError("InvalidSignature", KindAuthorization, "request signature is invalid")
	ErrRequestExpired   = newError("RequestExpired", KindAuthorization, "request deadline is outside the accepted window")
	ErrRequestReplayed  = newError("RequestReplayed", KindAuthorization, "request was already submitted")

	// State.
	ErrInvalidMarketState      = newError("InvalidMarketState", KindState, "operation is not valid for the market's current state")
	ErrMarketDurationOver      = newError("MarketDurationOver", KindState, "market duration is over")
	ErrMarketDurationNotOver   = newError("MarketDurationNotOver", KindState, "market duration is not over yet")
	ErrMarketLockPeriodNotOver = newError("MarketLockPeriodNotOver", KindState, "market lock period is not over yet")
	ErrLosingBet               = newError("LosingBet", KindState, "bet is on the losing side")

	// Double claim.
	ErrBetIsClaimed = newError("BetIsClaimed", KindDoubleClaim, "bet is already claimed")

	// Custody.
	ErrNonZeroPools      = newError("NonZeroPools", KindCustody, "pools still hold funds")
	ErrInsufficientFunds = newError("InsufficientFunds", KindCustody, "account balance is too low")
	ErrMintMismatch      = newError("MintMismatch", KindCustody, "accounts hold different mints")
	ErrOwnerMismatch     = newError("OwnerMismatch", KindCustody, "authority does not own the account")
	ErrBalanceOverflow   = newError("BalanceOverflow", KindCustody, "account balance would overflow")

	// Oracle.
	ErrPriceUnavailable = newError("PriceUnavailable", KindOracle, "no price attestation for feed")
	ErrStalePrice       = newError("StalePrice", KindOracle, "price attestation is too old")
	ErrUntrustedPrice   = newError("UntrustedPrice", KindOracle, "price attestation is not signed by the configured publisher")

	// Collision.
	ErrIdentifierCollision = newError("IdentifierCollision", KindCollision, "a live record already exists at this identifier")
	ErrNoViableBump        = newError("NoViableBump", KindCollision, "no off-curve identifier for these seeds")

	// Not found.
	ErrNotFound        = newError("NotFound", KindNotFound, "not found")
	ErrMarketNotFound  = newError("MarketNotFound", KindNotFound, "market not found")
	ErrBetNotFound     = newError("BetNotFound", KindNotFound, "bet not found")
	ErrAccountNotFound = newError("AccountNotFound", KindNotFound, "token account not found")

	// Conflict.
	ErrConflict         = newError("Conflict", KindConflict, "records changed concurrently, resubmit the operation")
	ErrUndeclaredRecord = newError("UndeclaredRecord", KindConflict, "operation touched a record it did not declare")

	// Internal.
	ErrReadOnly      = newError("ReadOnly", KindInternal, "write attempted in a read-only view")
	ErrCorruptRecord = newError("CorruptRecord", KindInternal, "stored record cannot be decoded")
	ErrUnsupported   = newError("Unsupported", KindInternal, "operation is not supported by this backend")
)

// CodeOf returns the stable code of the first *Error in err's chain, or
// "Internal" when there is none.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "Internal"
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
