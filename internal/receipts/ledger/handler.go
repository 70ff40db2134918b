package ledger

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-receipts/internal/platform/httpx"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Handler serves ledger and trial balance reports.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/ledger/{code}", h.getLedger)
	r.Get("/ledger/{code}/export", h.exportLedger)
	r.Get("/trial-balance", h.getTrialBalance)
	r.Get("/trial-balance/export", h.exportTrialBalance)
}

func (h *Handler) ledger(r *http.Request) (Ledger, error) {
	from, to, err := parseRange(r)
	if err != nil {
		return Ledger{}, err
	}
	return h.service.AccountLedger(r.Context(), Query{
		AccountCode: chi.URLParam(r, "code"),
		Branch:      r.URL.Query().Get("branch"),
		From:        from,
		To:          to,
	})
}

func (h *Handler) trialBalance(r *http.Request) (TrialBalance, error) {
	from, to, err := parseRange(r)
	if err != nil {
		return TrialBalance{}, err
	}
	return h.service.TrialBalance(r.Context(), from, to, r.URL.Query().Get("branch"))
}

func (h *Handler) getLedger(w http.ResponseWriter, r *http.Request) {
	l, err := h.ledger(r)
	if err != nil {
		h.fail(w, "account ledger", err)
		return
	}
	httpx.OK(w, http.StatusOK, "", l)
}

func (h *Handler) exportLedger(w http.ResponseWriter, r *http.Request) {
	l, err := h.ledger(r)
	if err != nil {
		h.fail(w, "account ledger export", err)
		return
	}
	var buf bytes.Buffer
	if err := ExportLedgerXLSX(&buf, l); err != nil {
		h.fail(w, "account ledger export", err)
		return
	}
	writeAttachment(w, fmt.Sprintf("ledger-%s.xlsx", l.Account.Code), buf.Bytes())
}

func (h *Handler) getTrialBalance(w http.ResponseWriter, r *http.Request) {
	tb, err := h.trialBalance(r)
	if err != nil {
		h.fail(w, "trial balance", err)
		return
	}
	httpx.OK(w, http.StatusOK, "", tb)
}

func (h *Handler) exportTrialBalance(w http.ResponseWriter, r *http.Request) {
	tb, err := h.trialBalance(r)
	if err != nil {
		h.fail(w, "trial balance export", err)
		return
	}
	var buf bytes.Buffer
	if err := ExportTrialBalanceXLSX(&buf, tb); err != nil {
		h.fail(w, "trial balance export", err)
		return
	}
	writeAttachment(w, fmt.Sprintf("trial-balance-%s-%s.xlsx", tb.From.Format(dateLayout), tb.To.Format(dateLayout)), buf.Bytes())
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrUnknownAccount):
		err = fmt.Errorf("%w: %w", httpx.ErrNotFound, err)
	case errors.Is(err, ErrAccountRequired), errors.Is(err, ErrInvalidRange):
		err = fmt.Errorf("%w: %w", httpx.ErrValidation, err)
	default:
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func writeAttachment(w http.ResponseWriter, name string, body []byte) {
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// parseRange reads from/to query parameters as YYYY-MM-DD.
func parseRange(r *http.Request) (time.Time, time.Time, error) {
	var from, to time.Time
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			return from, to, fmt.Errorf("%w: from: %v", ErrInvalidRange, err)
		}
		from = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			return from, to, fmt.Errorf("%w: to: %v", ErrInvalidRange, err)
		}
		to = t
	}
	return from, to, nil
}
