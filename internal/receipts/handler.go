package receipts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-receipts/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-receipts/internal/receipts/accounts"
	"github.com/odyssey-erp/odyssey-receipts/internal/receipts/journal"
	"github.com/odyssey-erp/odyssey-receipts/internal/receipts/numbering"
	"github.com/odyssey-erp/odyssey-receipts/internal/shared"
)

// ActorHeader carries the id of the user acting on the API.
const ActorHeader = "X-Actor-ID"

// BatchEnqueuer schedules batch runs on the job queue.
type BatchEnqueuer interface {
	EnqueueReceiptBatch(ctx context.Context, filter BatchFilter, actorID int64) (string, error)
}

// Handler wires HTTP endpoints for receipt vouchers.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	batch     *Orchestrator
	enqueuer  BatchEnqueuer
	validator *validator.Validate
}

// NewHandler constructs the receipts handler. A nil enqueuer disables POST /batch/jobs.
func NewHandler(logger *slog.Logger, service *Service, batch *Orchestrator, enqueuer BatchEnqueuer) *Handler {
	return &Handler{logger: logger, service: service, batch: batch, enqueuer: enqueuer, validator: validator.New()}
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if !h.decode(w, r, &in) {
		return
	}
	in.ActorID = actorID(r)
	res, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.fail(w, "create receipt voucher", err)
		return
	}
	if res.Status == PostAlreadyExists {
		httpx.OK(w, http.StatusOK, "Receipt voucher already exists for this transaction", res)
		return
	}
	httpx.OK(w, http.StatusCreated, fmt.Sprintf("Receipt voucher %s created", res.Voucher.DocumentNumber), res)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r.URL.Query())
	if err != nil {
		h.fail(w, "list receipt vouchers", err)
		return
	}
	items, page, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, "list receipt vouchers", err)
		return
	}
	if items == nil {
		items = []Voucher{}
	}
	httpx.OKWithMeta(w, http.StatusOK, items, page)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "get receipt voucher", err)
		return
	}
	v, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get receipt voucher", err)
		return
	}
	httpx.OK(w, http.StatusOK, "", v)
}

func (h *Handler) getBySource(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "sourceID"))
	if err != nil {
		h.fail(w, "get receipt voucher by source", err)
		return
	}
	v, err := h.service.GetBySource(r.Context(), id)
	if err != nil {
		h.fail(w, "get receipt voucher by source", err)
		return
	}
	httpx.OK(w, http.StatusOK, "", v)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "cancel receipt voucher", err)
		return
	}
	var in CancelInput
	if !h.decode(w, r, &in) {
		return
	}
	in.VoucherID = id
	in.ActorID = actorID(r)
	v, err := h.service.Cancel(r.Context(), in)
	if err != nil {
		h.fail(w, "cancel receipt voucher", err)
		return
	}
	httpx.OK(w, http.StatusOK, fmt.Sprintf("Receipt voucher %s cancelled", v.DocumentNumber), v)
}

func (h *Handler) runBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !h.decode(w, r, &req) {
		return
	}
	filter, err := req.filter()
	if err != nil {
		h.fail(w, "run receipt batch", err)
		return
	}
	run, err := h.batch.Run(r.Context(), filter, actorID(r), nil)
	if err != nil {
		h.fail(w, "run receipt batch", err)
		return
	}
	httpx.OK(w, http.StatusOK, run.Message, run)
}

func (h *Handler) enqueueBatch(w http.ResponseWriter, r *http.Request) {
	if h.enqueuer == nil {
		httpx.RespondError(w, fmt.Errorf("%w: job queue not configured", httpx.ErrUnavailable))
		return
	}
	var req batchRequest
	if !h.decode(w, r, &req) {
		return
	}
	filter, err := req.filter()
	if err != nil {
		h.fail(w, "enqueue receipt batch", err)
		return
	}
	if filter, err = h.batch.NormalizeFilter(filter); err != nil {
		h.fail(w, "enqueue receipt batch", err)
		return
	}
	taskID, err := h.enqueuer.EnqueueReceiptBatch(r.Context(), filter, actorID(r))
	if err != nil {
		h.fail(w, "enqueue receipt batch", err)
		return
	}
	httpx.OK(w, http.StatusAccepted, "Batch queued", map[string]string{"taskId": taskID})
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.batch.ListRuns(r.Context(), atoiDefault(r.URL.Query().Get("limit"), 20))
	if err != nil {
		h.fail(w, "list batch runs", err)
		return
	}
	if runs == nil {
		runs = []BatchRun{}
	}
	httpx.OK(w, http.StatusOK, "", runs)
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.batch.GetRun(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		h.fail(w, "get batch run", err)
		return
	}
	httpx.OK(w, http.StatusOK, "", run)
}

func (h *Handler) pending(w http.ResponseWriter, r *http.Request) {
	in, err := parsePendingInput(r.URL.Query())
	if err != nil {
		h.fail(w, "check pending", err)
		return
	}
	report, err := h.service.CheckPending(r.Context(), in)
	if err != nil {
		h.fail(w, "check pending", err)
		return
	}
	httpx.OK(w, http.StatusOK, "", report)
}

func (h *Handler) retry(w http.ResponseWriter, r *http.Request) {
	var in RetryInput
	if !h.decode(w, r, &in) {
		return
	}
	in.ActorID = actorID(r)
	res, err := h.service.RetryFailed(r.Context(), in)
	if err != nil {
		h.fail(w, "retry failed sources", err)
		return
	}
	httpx.OK(w, http.StatusOK, fmt.Sprintf("%d succeeded, %d skipped, %d failed", len(res.Succeeded), len(res.Skipped), len(res.Failed)), res)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	filter, err := parseSummaryFilter(r.URL.Query())
	if err != nil {
		h.fail(w, "receipt summary", err)
		return
	}
	report, err := h.service.Summary(r.Context(), filter)
	if err != nil {
		h.fail(w, "receipt summary", err)
		return
	}
	httpx.OK(w, http.StatusOK, "", report)
}

// decode reads and validates the body; it writes the failure response itself.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(w, r, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			err = errors.New(strings.Join(msgs, "; "))
		}
		httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrValidation, err))
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	mapped := mapError(err)
	if !errors.Is(mapped, httpx.ErrValidation) && !errors.Is(mapped, httpx.ErrNotFound) {
		h.logger.Warn(op, slog.Any("error", err))
	}
	httpx.RespondError(w, mapped)
}

// mapError wraps domain errors into httpx sentinels.
func mapError(err error) error {
	var sentinel error
	switch {
	case IsNotFound(err):
		sentinel = httpx.ErrNotFound
	case errors.Is(err, ErrInvalidType), errors.Is(err, ErrInvalidFilter),
		errors.Is(err, ErrReasonRequired), errors.Is(err, journal.ErrReasonRequired):
		sentinel = httpx.ErrValidation
	case errors.Is(err, ErrAlreadyCancelled), errors.Is(err, ErrBatchInProgress),
		errors.Is(err, journal.ErrAlreadyReversed), errors.Is(err, shared.ErrConflict):
		sentinel = httpx.ErrConflict
	case errors.Is(err, accounts.ErrAccountNotConfigured), errors.Is(err, accounts.ErrUnknownCategory),
		errors.Is(err, accounts.ErrDirectionMismatch), errors.Is(err, ErrBranchNotFound),
		errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrDirectionMismatch),
		errors.Is(err, journal.ErrUnbalanced), errors.Is(err, journal.ErrInvalidLine),
		errors.Is(err, journal.ErrInvalidAmount), errors.Is(err, journal.ErrTaxAccountMissing):
		sentinel = httpx.ErrUnprocessable
	case errors.Is(err, numbering.ErrAllocate), IsTransient(err):
		sentinel = httpx.ErrUnavailable
	default:
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

func actorID(r *http.Request) int64 {
	id, err := strconv.ParseInt(r.Header.Get(ActorHeader), 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}
