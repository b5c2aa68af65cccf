package reconciliation_test

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/payment-reconciliation/internal"
	"github.com/frahmantamala/payment-reconciliation/internal/audit"
	paymentmodel "github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/payment"
	gatewaytypes "github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/paymentgateway"
	reconmodel "github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/reconciliation"
	"github.com/frahmantamala/payment-reconciliation/internal/core/events"
	"github.com/frahmantamala/payment-reconciliation/internal/payment"
	paymentpostgres "github.com/frahmantamala/payment-reconciliation/internal/payment/postgres"
	"github.com/frahmantamala/payment-reconciliation/pkg/logger"
)

var _ = Describe("Engine", func() {
	var (
		ctx context.Context
		f   *fixture
	)

	BeforeEach(func() {
		ctx = context.Background()
		f = newFixture()
	})

	It("finds missing and extra payments", func() {
		f.seedCaptured("acme", "T1", 500, periodStart.Add(time.Hour))
		f.seedCaptured("acme", "T2", 300, periodStart.Add(2*time.Hour))
		f.gateway.payments = []gatewaytypes.Payment{
			gatewayPayment("acme", "T1", 500, 10),
			gatewayPayment("acme", "T3", 200, 4),
		}

		rec, err := f.engine.Run(ctx, f.request())
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.Status).To(Equal(reconmodel.StatusDiscrepanciesFound))
		Expect(rec.MatchedCount).To(Equal(1))
		Expect(rec.DiscrepancyCount).To(Equal(2))
		Expect(rec.ReconciledAmount).To(Equal(int64(500)))
		Expect(rec.DiscrepancyAmount).To(Equal(int64(500)))
		Expect(rec.Currency).To(Equal("INR"))
		Expect(rec.CompletedAt).NotTo(BeNil())

		stored, err := f.store.Get(ctx, rec.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.Status).To(Equal(reconmodel.StatusDiscrepanciesFound))
		Expect(stored.Discrepancies).To(HaveLen(2))
		Expect(stored.Discrepancies[0].Type).To(Equal(reconmodel.DiscrepancyMissingPayment))
		Expect(*stored.Discrepancies[0].InternalTransactionID).To(Equal("T2"))
		Expect(stored.Discrepancies[0].Difference).To(Equal(int64(-300)))
		Expect(stored.Discrepancies[1].Type).To(Equal(reconmodel.DiscrepancyExtraPayment))
		Expect(*stored.Discrepancies[1].GatewayTransactionID).To(Equal("T3"))
		Expect(stored.Discrepancies[1].Difference).To(Equal(int64(200)))
	})

	It("reports an amount mismatch", func() {
		f.seedCaptured("acme", "T1", 500, periodStart.Add(time.Hour))
		f.gateway.payments = []gatewaytypes.Payment{gatewayPayment("acme", "T1", 450, 9)}

		rec, err := f.engine.Run(ctx, f.request())
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.Status).To(Equal(reconmodel.StatusDiscrepanciesFound))
		Expect(rec.Discrepancies).To(HaveLen(1))
		Expect(rec.Discrepancies[0].Type).To(Equal(reconmodel.DiscrepancyAmountMismatch))
		Expect(rec.Discrepancies[0].Difference).To(Equal(int64(-50)))
		Expect(rec.DiscrepancyAmount).To(Equal(int64(50)))
	})

	It("computes settlement totals for a clean run", func() {
		f.seedCaptured("acme", "T1", 500, periodStart.Add(time.Hour))
		f.seedCaptured("acme", "T2", 300, periodStart.Add(time.Hour))
		f.gateway.payments = []gatewaytypes.Payment{
			gatewayPayment("acme", "T1", 500, 10),
			gatewayPayment("acme", "T2", 300, 6),
		}
		f.gateway.refunds = []gatewaytypes.Refund{{
			ID:        "rfnd_1",
			PaymentID: "T0",
			Amount:    100,
			Status:    gatewaytypes.RefundStatusProcessed,
			Notes:     map[string]interface{}{"tenant_id": "acme"},
		}}

		rec, err := f.engine.Run(ctx, f.request())
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.Status).To(Equal(reconmodel.StatusReconciled))
		Expect(rec.TotalPayments).To(Equal(int64(800)))
		Expect(rec.TotalRefunds).To(Equal(int64(100)))
		Expect(rec.TotalFees).To(Equal(int64(16)))
		Expect(rec.NetSettlement).To(Equal(int64(684)))
		Expect(rec.Discrepancies).To(BeEmpty())

		published := f.publisher.all()
		Expect(published).To(HaveLen(1))
		completed, ok := published[0].(*events.ReconciliationCompletedEvent)
		Expect(ok).To(BeTrue())
		Expect(completed.ReconciliationID).To(Equal(rec.ID))
		Expect(completed.Status).To(Equal(string(reconmodel.StatusReconciled)))
	})

	It("only loads captured transactions of the tenant inside the period", func() {
		f.seedCaptured("acme", "T1", 500, periodStart.Add(time.Hour))
		f.seedCaptured("acme", "EARLY", 100, periodStart.Add(-time.Second))
		f.seedCaptured("acme", "EDGE", 100, periodEnd)
		f.seedCaptured("globex", "OTHER", 700, periodStart.Add(time.Hour))
		at := periodStart.Add(time.Hour)
		f.seed("acme", "AUTH", 900, paymentmodel.TransactionStatusAuthorized, nil)
		f.seed("acme", "REFUNDED", 900, paymentmodel.TransactionStatusRefunded, &at)
		f.gateway.payments = []gatewaytypes.Payment{gatewayPayment("acme", "T1", 500, 0)}

		rec, err := f.engine.Run(ctx, f.request())
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.Status).To(Equal(reconmodel.StatusReconciled))
		Expect(rec.MatchedCount).To(Equal(1))
	})

	It("windows internal payments on the gateway clock, not the processing clock", func() {
		gp := gatewayPayment("acme", "pay_late", 500, 10)
		gp.CreatedAt = periodEnd.Add(-30 * time.Second).Unix()
		raw, err := json.Marshal(gp)
		Expect(err).NotTo(HaveOccurred())

		processedAt := periodEnd.Add(5 * time.Second)
		processor := payment.NewProcessor(paymentpostgres.NewPaymentRepository(f.db), audit.NewLogger(logger.Discard()), nil, "razorpay", logger.Discard(),
			payment.WithProcessorClock(func() time.Time { return processedAt }))
		_, err = processor.Process(ctx, &payment.Event{
			Type:    payment.EventPaymentCaptured,
			Payload: map[string]payment.EntityEnvelope{payment.EntityPayment: {Entity: raw}},
		})
		Expect(err).NotTo(HaveOccurred())

		f.gateway.payments = []gatewaytypes.Payment{gp}
		rec, err := f.engine.Run(ctx, f.request())
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.Status).To(Equal(reconmodel.StatusReconciled))
		Expect(rec.MatchedCount).To(Equal(1))

		f.gateway.payments = nil
		next := f.request()
		next.PeriodStart, next.PeriodEnd = periodEnd, periodEnd.Add(24*time.Hour)
		rec, err = f.engine.Run(ctx, next)
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.Status).To(Equal(reconmodel.StatusReconciled))
		Expect(rec.MatchedCount).To(BeZero())
	})

	It("audits creation and completion", func() {
		rec, err := f.engine.Run(ctx, f.request())
		Expect(err).NotTo(HaveOccurred())

		entries, err := f.audits.ListByEntity(ctx, audit.EntityReconciliation, strconv.FormatInt(rec.ID, 10))
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(2))
		Expect(entries[0].Action).To(Equal(audit.ActionCreated))
		Expect(entries[1].Action).To(Equal(audit.ActionStatusChanged))
		Expect(entries[1].Actor).To(Equal("admin_1"))
	})

	Describe("duplicate runs", func() {
		It("rejects a second run for the same period", func() {
			_, err := f.engine.Run(ctx, f.request())
			Expect(err).NotTo(HaveOccurred())

			_, err = f.engine.Run(ctx, f.request())
			Expect(err).To(MatchError(internal.ErrAlreadyReconciled))
			Expect(f.gateway.calls).To(Equal(1))
		})

		It("allows a forced re-run", func() {
			first, err := f.engine.Run(ctx, f.request())
			Expect(err).NotTo(HaveOccurred())

			req := f.request()
			req.Force = true
			second, err := f.engine.Run(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.ID).NotTo(Equal(first.ID))
		})

		It("does not count other run types", func() {
			_, err := f.engine.Run(ctx, f.request())
			Expect(err).NotTo(HaveOccurred())

			req := f.request()
			req.Type = reconmodel.TypeSettlement
			_, err = f.engine.Run(ctx, req)
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("failures", func() {
		It("marks the run failed when the gateway is unavailable", func() {
			f.gateway.paymentErr = errGatewayDown

			_, err := f.engine.Run(ctx, f.request())
			Expect(err).To(HaveOccurred())
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeReconciliationFailed))
			Expect(err).To(MatchError(ContainSubstring("503")))

			records, total, err := f.store.List(ctx, reconciliationFilter("acme"))
			Expect(err).NotTo(HaveOccurred())
			Expect(total).To(Equal(int64(1)))
			Expect(records[0].Status).To(Equal(reconmodel.StatusFailed))
			Expect(*records[0].FailureReason).To(ContainSubstring("load gateway transactions"))
		})

		It("lets a failed period be run again", func() {
			f.gateway.paymentErr = errGatewayDown
			_, err := f.engine.Run(ctx, f.request())
			Expect(err).To(HaveOccurred())

			f.gateway.paymentErr = nil
			rec, err := f.engine.Run(ctx, f.request())
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Status).To(Equal(reconmodel.StatusReconciled))
		})
	})

	Describe("validation", func() {
		It("rejects an inverted period", func() {
			req := f.request()
			req.PeriodStart, req.PeriodEnd = req.PeriodEnd, req.PeriodStart

			_, err := f.engine.Run(ctx, req)
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.StatusCode).To(Equal(400))
		})

		It("rejects a missing tenant and an unknown gateway", func() {
			req := f.request()
			req.TenantID = ""
			req.Gateway = "stripe"

			_, err := f.engine.Run(ctx, req)
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			details, ok := appErr.Details.(internal.ValidationErrors)
			Expect(ok).To(BeTrue())
			Expect(details.Errors).To(HaveLen(2))
		})

		It("rejects periods longer than the maximum", func() {
			req := f.request()
			req.PeriodEnd = req.PeriodStart.Add(40 * 24 * time.Hour)

			_, err := f.engine.Run(ctx, req)
			Expect(err).To(HaveOccurred())
			Expect(f.gateway.calls).To(BeZero())
		})
	})
})
