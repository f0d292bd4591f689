package ledger

import "errors"

var (
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrInvalidKind          = errors.New("invalid entry kind")
	ErrBalanceNotFound      = errors.New("balance not found")
	ErrDuplicateSourceEvent = errors.New("source event already applied")
	ErrNegativeBalance      = errors.New("balance would become negative")
	ErrInternal             = errors.New("ledger internal error")
)
