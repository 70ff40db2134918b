package journal

import (
	"fmt"
	"strings"
	"time"
)

// ReversalSuffix is appended to the document number of reversal lines.
const ReversalSuffix = "-REV"

// Reverse returns a new line that cancels line. The input is never modified.
func Reverse(line Line, reason string, at time.Time, actor int64) (Line, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Line{}, ErrReasonRequired
	}
	if line.IsReversed {
		return Line{}, fmt.Errorf("%w: line %d", ErrAlreadyReversed, line.ID)
	}
	if err := Validate(line); err != nil {
		return Line{}, err
	}
	from := line.ID
	return Line{
		DocumentID:      line.DocumentID,
		DocumentType:    line.DocumentType,
		DocumentNumber:  line.DocumentNumber + ReversalSuffix,
		TransactionDate: at,
		AccountCode:     line.AccountCode,
		AccountName:     line.AccountName,
		Debit:           line.Credit,
		Credit:          line.Debit,
		Description:     fmt.Sprintf("Cancelled (%s): %s", reason, line.Description),
		BranchCode:      line.BranchCode,
		Period:          PeriodOf(at),
		IsReversed:      true,
		ReversedFrom:    &from,
		CreatedBy:       actor,
	}, nil
}

// ReverseAll reverses every line, keeping order. Any failure aborts the set.
func ReverseAll(lines []Line, reason string, at time.Time, actor int64) ([]Line, error) {
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		rev, err := Reverse(l, reason, at, actor)
		if err != nil {
			return nil, err
		}
		out = append(out, rev)
	}
	return out, nil
}
