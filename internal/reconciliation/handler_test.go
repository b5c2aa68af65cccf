package reconciliation_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/xuri/excelize/v2"

	"github.com/frahmantamala/payment-reconciliation/internal"
	gatewaytypes "github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/payment-reconciliation/internal/reconciliation"
	"github.com/frahmantamala/payment-reconciliation/internal/reconciliation/report"
	"github.com/frahmantamala/payment-reconciliation/pkg/logger"
)

var _ = Describe("Handler", func() {
	var (
		f      *fixture
		router *chi.Mux
	)

	BeforeEach(func() {
		f = newFixture()
		h := reconciliation.NewHandler(f.service, report.NewWriter(), logger.Discard())

		router = chi.NewRouter()
		router.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				next.ServeHTTP(w, r.WithContext(internal.ContextWithUserID(r.Context(), "admin_1")))
			})
		})
		router.Route("/api/v1/reconciliations", func(r chi.Router) {
			r.Post("/", h.StartReconciliation)
			r.Get("/", h.ListReconciliations)
			r.Get("/{id}", h.GetReconciliation)
			r.Patch("/{id}", h.UpdateReconciliationStatus)
			r.Get("/{id}/report", h.ExportReconciliation)
		})
	})

	do := func(method, path string, body interface{}) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			Expect(json.NewEncoder(&buf).Encode(body)).To(Succeed())
		}
		req := httptest.NewRequest(method, path, &buf)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	start := func() reconciliation.SummaryResponse {
		rec := do(http.MethodPost, "/api/v1/reconciliations", reconciliation.RunReconciliationDTO{
			TenantID:    "acme",
			PeriodStart: periodStart,
			PeriodEnd:   periodEnd,
		})
		Expect(rec.Code).To(Equal(http.StatusCreated), rec.Body.String())
		var summary reconciliation.SummaryResponse
		Expect(json.Unmarshal(rec.Body.Bytes(), &summary)).To(Succeed())
		return summary
	}

	It("starts a run and returns the summary", func() {
		f.seedCaptured("acme", "T1", 50000, periodStart.Add(time.Hour))
		f.seedCaptured("acme", "T2", 30000, periodStart.Add(time.Hour))
		f.gateway.payments = []gatewaytypes.Payment{
			gatewayPayment("acme", "T1", 50000, 1000),
			gatewayPayment("acme", "T3", 20000, 400),
		}

		summary := start()
		Expect(summary.Status).To(BeEquivalentTo("discrepancies_found"))
		Expect(summary.MatchedCount).To(Equal(1))
		Expect(summary.UnmatchedCount).To(Equal(2))
		Expect(summary.Totals.Reconciled.Minor).To(Equal(int64(50000)))
		Expect(summary.Totals.Reconciled.Major).To(Equal("500.00"))
		Expect(summary.Totals.Discrepancy.Major).To(Equal("500.00"))
		Expect(summary.Discrepancies).To(HaveLen(2))
		Expect(summary.Discrepancies[0].Difference.Major).To(Equal("-300.00"))
		Expect(summary.InitiatedBy).To(Equal("admin_1"))
	})

	It("returns 409 for a duplicate run", func() {
		start()
		rec := do(http.MethodPost, "/api/v1/reconciliations", reconciliation.RunReconciliationDTO{
			TenantID:    "acme",
			PeriodStart: periodStart,
			PeriodEnd:   periodEnd,
		})
		Expect(rec.Code).To(Equal(http.StatusConflict))
		Expect(rec.Body.String()).To(ContainSubstring("ALREADY_RECONCILED"))
	})

	It("returns 400 for an invalid body", func() {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/reconciliations", bytes.NewBufferString("{"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
		Expect(rec.Body.String()).To(ContainSubstring("INVALID_BODY"))
	})

	It("returns 500 without leaking the cause when the gateway fails", func() {
		f.gateway.paymentErr = errGatewayDown
		rec := do(http.MethodPost, "/api/v1/reconciliations", reconciliation.RunReconciliationDTO{
			TenantID:    "acme",
			PeriodStart: periodStart,
			PeriodEnd:   periodEnd,
		})
		Expect(rec.Code).To(Equal(http.StatusInternalServerError))
		Expect(rec.Body.String()).To(ContainSubstring("RECONCILIATION_FAILED"))
		Expect(rec.Body.String()).NotTo(ContainSubstring("503"))
	})

	It("gets, lists and updates runs", func() {
		f.seedCaptured("acme", "T1", 500, periodStart.Add(time.Hour))
		f.gateway.payments = []gatewaytypes.Payment{gatewayPayment("acme", "T1", 450, 0)}
		summary := start()

		rec := do(http.MethodGet, fmt.Sprintf("/api/v1/reconciliations/%d", summary.ID), nil)
		Expect(rec.Code).To(Equal(http.StatusOK))

		rec = do(http.MethodGet, "/api/v1/reconciliations?tenant_id=acme&status=discrepancies_found", nil)
		Expect(rec.Code).To(Equal(http.StatusOK))
		var list reconciliation.ListResponse
		Expect(json.Unmarshal(rec.Body.Bytes(), &list)).To(Succeed())
		Expect(list.Total).To(Equal(int64(1)))
		Expect(list.Limit).To(Equal(reconciliation.DefaultListLimit))

		rec = do(http.MethodPatch, fmt.Sprintf("/api/v1/reconciliations/%d", summary.ID), reconciliation.UpdateStatusDTO{
			Status: "reconciled",
			Reason: "gateway adjusted amount after dispute",
		})
		Expect(rec.Code).To(Equal(http.StatusOK), rec.Body.String())
		var updated reconciliation.SummaryResponse
		Expect(json.Unmarshal(rec.Body.Bytes(), &updated)).To(Succeed())
		Expect(updated.Status).To(BeEquivalentTo("reconciled"))
		Expect(*updated.DiscrepancyReason).To(Equal("gateway adjusted amount after dispute"))
	})

	It("rejects disallowed transitions with 400", func() {
		summary := start()
		rec := do(http.MethodPatch, fmt.Sprintf("/api/v1/reconciliations/%d", summary.ID), reconciliation.UpdateStatusDTO{Status: "failed"})
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
		Expect(rec.Body.String()).To(ContainSubstring("INVALID_STATUS_TRANSITION"))
	})

	It("returns 404 for unknown runs and 400 for bad ids", func() {
		Expect(do(http.MethodGet, "/api/v1/reconciliations/42", nil).Code).To(Equal(http.StatusNotFound))
		Expect(do(http.MethodGet, "/api/v1/reconciliations/abc", nil).Code).To(Equal(http.StatusBadRequest))
	})

	It("rejects unknown list filters", func() {
		Expect(do(http.MethodGet, "/api/v1/reconciliations?status=archived", nil).Code).To(Equal(http.StatusBadRequest))
		Expect(do(http.MethodGet, "/api/v1/reconciliations?from=yesterday", nil).Code).To(Equal(http.StatusBadRequest))
	})

	It("exports the run as a workbook", func() {
		f.seedCaptured("acme", "T2", 300, periodStart.Add(time.Hour))
		summary := start()

		rec := do(http.MethodGet, fmt.Sprintf("/api/v1/reconciliations/%d/report", summary.ID), nil)
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Header().Get("Content-Type")).To(Equal(report.ContentType))

		book, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
		Expect(err).NotTo(HaveOccurred())
		defer book.Close()
		rows, err := book.GetRows(report.DiscrepanciesSheet)
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(HaveLen(2))
		Expect(rows[1][0]).To(Equal("missing_payment"))
		Expect(rows[1][1]).To(Equal("T2"))
	})
})
