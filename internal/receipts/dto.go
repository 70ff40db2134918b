package receipts

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// batchRequest is the body of POST /batch and POST /batch/jobs.
type batchRequest struct {
	Branch string   `json:"branch" validate:"omitempty,max=32"`
	Types  []string `json:"types" validate:"omitempty,max=7,dive,oneof=cash_sale credit_sale debt_payment deposit return service installment"`
	From   string   `json:"from" validate:"omitempty,datetime=2006-01-02"`
	To     string   `json:"to" validate:"omitempty,datetime=2006-01-02"`
	Limit  int      `json:"limit" validate:"omitempty,min=1"`
}

func (b batchRequest) filter() (BatchFilter, error) {
	from, err := parseDatePtr(b.From)
	if err != nil {
		return BatchFilter{}, err
	}
	to, err := parseDatePtr(b.To)
	if err != nil {
		return BatchFilter{}, err
	}
	types := make([]VoucherType, 0, len(b.Types))
	for _, t := range b.Types {
		types = append(types, VoucherType(t))
	}
	return BatchFilter{Branch: strings.TrimSpace(b.Branch), Types: types, From: from, To: to, Limit: b.Limit}, nil
}

func parseDatePtr(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, fmt.Errorf("%w: date %q: use YYYY-MM-DD", ErrInvalidFilter, s)
	}
	return &t, nil
}

// ParseTypes parses a comma separated list of voucher types. Empty input means all.
func ParseTypes(raw string) ([]VoucherType, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out []VoucherType
	for _, part := range strings.Split(raw, ",") {
		t := VoucherType(strings.TrimSpace(part))
		if !t.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidType, t)
		}
		out = append(out, t)
	}
	return out, nil
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id %q", ErrInvalidFilter, raw)
	}
	return id, nil
}

func parseListFilter(q url.Values) (ListFilter, error) {
	filter := ListFilter{
		Branch: q.Get("branch"),
		Type:   VoucherType(q.Get("type")),
		Status: Status(q.Get("status")),
	}
	if filter.Status != "" && filter.Status != StatusCompleted && filter.Status != StatusCancelled {
		return ListFilter{}, fmt.Errorf("%w: status %q", ErrInvalidFilter, filter.Status)
	}
	var err error
	if filter.From, err = parseDatePtr(q.Get("from")); err != nil {
		return ListFilter{}, err
	}
	if filter.To, err = parseDatePtr(q.Get("to")); err != nil {
		return ListFilter{}, err
	}
	filter.To = endOfDayPtr(filter.To)
	filter.Page = atoiDefault(q.Get("page"), 1)
	filter.PerPage = atoiDefault(q.Get("per_page"), 20)
	if filter.PerPage > 200 {
		filter.PerPage = 200
	}
	return filter, nil
}

func parsePendingInput(q url.Values) (PendingInput, error) {
	types, err := ParseTypes(q.Get("types"))
	if err != nil {
		return PendingInput{}, err
	}
	from, err := parseDatePtr(q.Get("from"))
	if err != nil {
		return PendingInput{}, err
	}
	to, err := parseDatePtr(q.Get("to"))
	if err != nil {
		return PendingInput{}, err
	}
	return PendingInput{Branch: q.Get("branch"), Types: types, From: from, To: to}, nil
}

func parseSummaryFilter(q url.Values) (SummaryFilter, error) {
	from, err := parseDatePtr(q.Get("from"))
	if err != nil {
		return SummaryFilter{}, err
	}
	to, err := parseDatePtr(q.Get("to"))
	if err != nil {
		return SummaryFilter{}, err
	}
	if from == nil || to == nil {
		return SummaryFilter{}, errors.Join(ErrInvalidFilter, errors.New("from and to required"))
	}
	return SummaryFilter{Branch: q.Get("branch"), From: *from, To: *to}, nil
}

func atoiDefault(raw string, def int) int {
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
