package payment

import (
	"database/sql"
	"encoding/json"
	"time"
)

// RetryStatus is the state of a queued webhook.
type RetryStatus string

const (
	RetryPending    RetryStatus = "pending"
	RetryProcessing RetryStatus = "processing"
	RetryDone       RetryStatus = "done"
	RetryDead       RetryStatus = "dead"
)

// Retry is a verified provider payload waiting to be applied again, usually
// because its account could not be resolved yet.
type Retry struct {
	EventID       string          `db:"event_id"`
	Provider      string          `db:"provider"`
	Payload       json.RawMessage `db:"payload"`
	Attempts      int             `db:"attempts"`
	Status        RetryStatus     `db:"status"`
	NextAttemptAt time.Time       `db:"next_attempt_at"`
	LastError     sql.NullString  `db:"last_error"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

// Result is what the webhook endpoint did with a delivery.
type Result string

const (
	ResultApplied   Result = "applied"
	ResultDuplicate Result = "duplicate"
	ResultIgnored   Result = "ignored"
	ResultQueued    Result = "queued"
)

// WebhookResponse is returned to the provider.
type WebhookResponse struct {
	EventID string `json:"event_id,omitempty"`
	Status  Result `json:"status"`
}
