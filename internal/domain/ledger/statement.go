package ledger

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

var statementHeader = []string{
	"entry_id", "seq", "account_id", "kind", "amount", "signed_amount",
	"description", "source_event_id", "premium_bypass", "created_at",
}

// WriteStatementCSV writes entries as CSV in the given order.
func WriteStatementCSV(w io.Writer, entries []Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(statementHeader); err != nil {
		return err
	}
	for _, e := range entries {
		src := ""
		if e.SourceEventID != nil {
			src = *e.SourceEventID
		}
		record := []string{
			e.ID.String(),
			strconv.FormatInt(e.Seq, 10),
			e.AccountID.String(),
			string(e.Kind),
			strconv.FormatInt(e.Amount, 10),
			strconv.FormatInt(e.Signed(), 10),
			e.Description,
			src,
			strconv.FormatBool(e.PremiumBypass),
			e.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ObjectWriter is the object storage used for statements.
type ObjectWriter interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
}

// StatementKey is the object key of a month's statement.
func StatementKey(month time.Time) string {
	return fmt.Sprintf("statements/%s/ledger-entries.csv", month.Format("2006-01"))
}

// ExportMonth writes the entries created during month (in the ledger zone)
// to store and returns the object key and entry count.
func (s *Service) ExportMonth(ctx context.Context, store ObjectWriter, month time.Time) (string, int, error) {
	local := month.In(s.opts.Location)
	from := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, s.opts.Location)
	to := from.AddDate(0, 1, 0)

	entries, err := s.store.ListEntriesBetween(ctx, from, to)
	if err != nil {
		return "", 0, err
	}

	var buf bytes.Buffer
	if err := WriteStatementCSV(&buf, entries); err != nil {
		return "", 0, fmt.Errorf("encode statement: %w", err)
	}

	key := StatementKey(from)
	if err := store.Put(ctx, key, &buf, "text/csv"); err != nil {
		return "", 0, err
	}
	return key, len(entries), nil
}
