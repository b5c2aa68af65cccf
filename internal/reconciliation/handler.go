package reconciliation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"

	"github.com/frahmantamala/payment-reconciliation/internal"
	reconmodel "github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/reconciliation"
	"github.com/frahmantamala/payment-reconciliation/internal/transport"
)

type ServiceAPI interface {
	Run(ctx context.Context, req Request) (*reconmodel.Record, error)
	List(ctx context.Context, filter Filter) ([]reconmodel.Record, int64, error)
	Get(ctx context.Context, id int64) (*reconmodel.Record, error)
	UpdateStatus(ctx context.Context, id int64, dto UpdateStatusDTO) (*reconmodel.Record, error)
}

// ReportWriter renders a record as a downloadable spreadsheet.
type ReportWriter interface {
	Write(w io.Writer, rec *reconmodel.Record) error
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
	Reports ReportWriter
}

func NewHandler(service ServiceAPI, reports ReportWriter, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler: transport.NewBaseHandler(logger),
		Service:     service,
		Reports:     reports,
	}
}

const maxRequestBody = 64 << 10

func (h *Handler) StartReconciliation(w http.ResponseWriter, r *http.Request) {
	var dto RunReconciliationDTO
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&dto); err != nil {
		h.Logger.Warn("StartReconciliation: invalid request body", "error", err)
		h.WriteAppError(w, internal.NewValidationError("invalid request body", internal.ErrCodeInvalidBody))
		return
	}

	actor := internal.UserIDFromContext(r.Context())
	rec, err := h.Service.Run(r.Context(), dto.ToRequest(actor))
	if err != nil {
		h.Logger.Error("StartReconciliation: service error", "error", err, "tenant_id", dto.TenantID)
		h.HandleError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, NewSummaryResponse(rec))
}

func (h *Handler) ListReconciliations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := Filter{
		TenantID: q.Get("tenant_id"),
		Status:   reconmodel.Status(q.Get("status")),
	}

	if filter.Status != "" {
		switch filter.Status {
		case reconmodel.StatusPending, reconmodel.StatusReconciled, reconmodel.StatusDiscrepanciesFound, reconmodel.StatusFailed:
		default:
			h.WriteAppError(w, internal.NewValidationFieldError("status", "unknown status", internal.ErrCodeInvalidStatus))
			return
		}
	}

	var err error
	if filter.From, err = parseTimeParam(q.Get("from")); err != nil {
		h.WriteAppError(w, internal.NewValidationFieldError("from", "from must be RFC3339", internal.ErrCodeInvalidPeriod))
		return
	}
	if filter.To, err = parseTimeParam(q.Get("to")); err != nil {
		h.WriteAppError(w, internal.NewValidationFieldError("to", "to must be RFC3339", internal.ErrCodeInvalidPeriod))
		return
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= MaxListLimit {
			filter.Limit = l
		}
	}
	if offsetStr := q.Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			filter.Offset = o
		}
	}
	if filter.Limit == 0 {
		filter.Limit = DefaultListLimit
	}

	records, total, err := h.Service.List(r.Context(), filter)
	if err != nil {
		h.HandleError(w, err)
		return
	}

	resp := ListResponse{
		Reconciliations: make([]SummaryResponse, 0, len(records)),
		Total:           total,
		Limit:           filter.Limit,
		Offset:          filter.Offset,
	}
	for i := range records {
		resp.Reconciliations = append(resp.Reconciliations, NewSummaryResponse(&records[i]))
	}
	h.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetReconciliation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}

	rec, err := h.Service.Get(r.Context(), id)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, NewSummaryResponse(rec))
}

func (h *Handler) UpdateReconciliationStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}

	var dto UpdateStatusDTO
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&dto); err != nil {
		h.Logger.Warn("UpdateReconciliationStatus: invalid request body", "error", err)
		h.WriteAppError(w, internal.NewValidationError("invalid request body", internal.ErrCodeInvalidBody))
		return
	}

	rec, err := h.Service.UpdateStatus(r.Context(), id, dto)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, NewSummaryResponse(rec))
}

func (h *Handler) ExportReconciliation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}

	rec, err := h.Service.Get(r.Context(), id)
	if err != nil {
		h.HandleError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="reconciliation-%d.xlsx"`, rec.ID))
	if err := h.Reports.Write(w, rec); err != nil {
		// headers are already sent; the client sees a truncated file
		h.Logger.Error("ExportReconciliation: failed to write report", "error", err, "reconciliation_id", id)
	}
}

func (h *Handler) idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		h.Logger.Warn("invalid reconciliation ID", "id", idStr)
		h.WriteAppError(w, internal.NewValidationFieldError("id", "invalid reconciliation ID", internal.ErrCodeValidationFailed))
		return 0, false
	}
	return id, true
}

func parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}
