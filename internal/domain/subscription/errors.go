package subscription

import "errors"

var (
	// ErrUnresolvableAccount is retryable: the account behind the event has
	// no balance row or subscription record yet.
	ErrUnresolvableAccount  = errors.New("account for provider event not resolvable")
	ErrEventIgnored         = errors.New("provider event ignored")
	ErrInvalidEvent         = errors.New("invalid provider event")
	ErrPlanNotFound         = errors.New("plan not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
)
