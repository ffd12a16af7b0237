package broadcast

import "errors"

// Validation errors returned to the submitting administrator.
var (
	ErrInvalidTimeFormat = errors.New("invalid time format")
	ErrTimeNotInFuture   = errors.New("time is not in the future")
	ErrInvalidTargetList = errors.New("invalid target list")
	ErrEmptyContent      = errors.New("message text is empty")
	ErrEmptyAudience     = errors.New("audience is empty")
)

// ErrRecipientUnavailable marks deliveries refused because the recipient
// blocked the bot or no longer exists.
var ErrRecipientUnavailable = errors.New("recipient unavailable")
