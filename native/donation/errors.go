package donation

import "errors"

var (
	// ErrZeroAmount is returned when a currency contribution of zero is attempted.
	ErrZeroAmount = errors.New("donation engine: amount must be positive")
	// ErrCampaignFinished is returned when a campaign in its terminal state is targeted.
	ErrCampaignFinished = errors.New("donation engine: campaign finished")
	// ErrCampaignNotFound is returned when the referenced campaign does not exist.
	ErrCampaignNotFound = errors.New("donation engine: campaign not found")
	// ErrNotCampaignOwner is returned when the caller does not own the campaign.
	ErrNotCampaignOwner = errors.New("donation engine: caller is not the campaign owner")
	// ErrNotOwner is returned when the caller is not the service owner.
	ErrNotOwner = errors.New("donation engine: caller is not the service owner")
	// ErrActiveLimitExceeded is returned when no more campaigns can be activated.
	ErrActiveLimitExceeded = errors.New("donation engine: active campaign limit reached")
	// ErrInsufficientCancellationTokens is returned when the cancellation threshold has not been crossed.
	ErrInsufficientCancellationTokens = errors.New("donation engine: cancellation threshold not met")
	// ErrInvalidWalletAccount is returned when a reward destination does not match the ranking.
	ErrInvalidWalletAccount = errors.New("donation engine: reward wallet mismatch")
	// ErrTooEarly is returned when the reward cooldown has not elapsed.
	ErrTooEarly = errors.New("donation engine: reward cooldown active")
	// ErrAlreadyInitialized is returned when the service ledger already exists.
	ErrAlreadyInitialized = errors.New("donation engine: service already initialized")
	// ErrNotInitialized is returned when an operation runs before the service ledger exists.
	ErrNotInitialized = errors.New("donation engine: service not initialized")
	// ErrInvalidParams is returned when service parameters fail validation.
	ErrInvalidParams = errors.New("donation engine: invalid parameters")
	// ErrArithmeticOverflow is returned when an amount computation leaves the 64-bit range.
	ErrArithmeticOverflow = errors.New("donation engine: arithmetic overflow")

	// ErrNotFound signals an active index lookup for an id that is not present. The
	// engine establishes membership itself, so seeing this is an internal fault.
	ErrNotFound = errors.New("donation engine: active index entry not found")
	// ErrCapacityExceeded signals an insert into a full active index.
	ErrCapacityExceeded = errors.New("donation engine: active index capacity exceeded")
	// ErrDuplicateEntry signals an insert of an id already tracked by the active index.
	ErrDuplicateEntry = errors.New("donation engine: active index entry exists")
	// ErrBalanceMismatch signals a campaign whose collected amount disagrees with its
	// active index balance.
	ErrBalanceMismatch = errors.New("donation engine: collected amount out of sync with active index")

	errNilState        = errors.New("donation engine: state not configured")
	errZeroDenominator = errors.New("donation engine: redistribution over zero balance")
	errInvalidPurpose  = errors.New("donation engine: unknown token purpose")
)

// IsInternal reports whether err indicates an index consistency fault rather than a
// rejected request.
func IsInternal(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrCapacityExceeded) || errors.Is(err, ErrDuplicateEntry) ||
		errors.Is(err, ErrBalanceMismatch)
}
