package notification

import "errors"

var (
	ErrNotificationNotFound = errors.New("notification not found")
	ErrNoChannel            = errors.New("no chat channel linked")
)
