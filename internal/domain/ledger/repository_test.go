package ledger

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/mwork/ledger-api/internal/pkg/database"
)

func TestClassify(t *testing.T) {
	negative := fmt.Errorf("update balance: %w", &pq.Error{Code: database.CodeCheckViolation, Constraint: "balances_credits_non_negative"})
	err := classify(negative, "debit")
	assert.ErrorIs(t, err, ErrNegativeBalance)
	assert.NotErrorIs(t, err, ErrInternal)

	duplicate := &pq.Error{Code: database.CodeUniqueViolation, Constraint: "ledger_entries_source_event_unique"}
	assert.ErrorIs(t, classify(duplicate, "credit"), ErrDuplicateSourceEvent)

	otherCheck := &pq.Error{Code: database.CodeCheckViolation, Constraint: "ledger_entries_amount_check"}
	err = classify(otherCheck, "append entry")
	assert.ErrorIs(t, err, ErrInternal)
	assert.NotErrorIs(t, err, ErrNegativeBalance)

	cause := errors.New("connection reset")
	err = classify(cause, "debit")
	assert.ErrorIs(t, err, ErrInternal)
	assert.ErrorIs(t, err, cause)
}
