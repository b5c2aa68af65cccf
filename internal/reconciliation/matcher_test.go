package reconciliation_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	reconmodel "github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/reconciliation"
	"github.com/frahmantamala/payment-reconciliation/internal/reconciliation"
)

func txn(ref string, amount int64) reconciliation.Transaction {
	return reconciliation.Transaction{Reference: ref, Amount: amount, Currency: "INR"}
}

func ref(d reconmodel.Discrepancy) (string, string) {
	var in, gw string
	if d.InternalTransactionID != nil {
		in = *d.InternalTransactionID
	}
	if d.GatewayTransactionID != nil {
		gw = *d.GatewayTransactionID
	}
	return in, gw
}

var _ = Describe("Match", func() {
	It("reports missing and extra payments", func() {
		out := reconciliation.Match(
			[]reconciliation.Transaction{txn("T1", 500), txn("T2", 300)},
			[]reconciliation.Transaction{txn("T1", 500), txn("T3", 200)},
		)

		Expect(out.Matched).To(HaveLen(1))
		Expect(out.Matched[0].Reference).To(Equal("T1"))
		Expect(out.ReconciledAmount).To(Equal(int64(500)))
		Expect(out.DiscrepancyAmount).To(Equal(int64(500)))
		Expect(out.Status()).To(Equal(reconmodel.StatusDiscrepanciesFound))

		Expect(out.Discrepancies).To(HaveLen(2))
		missing := out.Discrepancies[0]
		Expect(missing.Type).To(Equal(reconmodel.DiscrepancyMissingPayment))
		in, gw := ref(missing)
		Expect(in).To(Equal("T2"))
		Expect(gw).To(BeEmpty())
		Expect(missing.Difference).To(Equal(int64(-300)))

		extra := out.Discrepancies[1]
		Expect(extra.Type).To(Equal(reconmodel.DiscrepancyExtraPayment))
		in, gw = ref(extra)
		Expect(in).To(BeEmpty())
		Expect(gw).To(Equal("T3"))
		Expect(extra.Difference).To(Equal(int64(200)))
	})

	It("reports an amount mismatch as gateway minus internal", func() {
		out := reconciliation.Match(
			[]reconciliation.Transaction{txn("T1", 500)},
			[]reconciliation.Transaction{txn("T1", 450)},
		)

		Expect(out.Matched).To(BeEmpty())
		Expect(out.Discrepancies).To(HaveLen(1))
		d := out.Discrepancies[0]
		Expect(d.Type).To(Equal(reconmodel.DiscrepancyAmountMismatch))
		Expect(d.ExpectedAmount).To(Equal(int64(500)))
		Expect(d.ActualAmount).To(Equal(int64(450)))
		Expect(d.Difference).To(Equal(int64(-50)))
		Expect(out.DiscrepancyAmount).To(Equal(int64(50)))
		Expect(out.Status()).To(Equal(reconmodel.StatusDiscrepanciesFound))
	})

	It("consumes the gateway record on a mismatch", func() {
		out := reconciliation.Match(
			[]reconciliation.Transaction{txn("T1", 500)},
			[]reconciliation.Transaction{txn("T1", 450)},
		)
		for _, d := range out.Discrepancies {
			Expect(d.Type).NotTo(Equal(reconmodel.DiscrepancyExtraPayment))
		}
	})

	It("is reconciled when both sides agree", func() {
		gw := []reconciliation.Transaction{
			{Reference: "T2", Amount: 300, Fee: 6},
			{Reference: "T1", Amount: 500, Fee: 10},
		}
		out := reconciliation.Match([]reconciliation.Transaction{txn("T1", 500), txn("T2", 300)}, gw)

		Expect(out.Discrepancies).To(BeEmpty())
		Expect(out.Status()).To(Equal(reconmodel.StatusReconciled))
		Expect(out.ReconciledAmount).To(Equal(int64(800)))
		Expect(out.MatchedFees).To(Equal(int64(16)))
	})

	It("treats empty sets as reconciled", func() {
		out := reconciliation.Match(nil, nil)
		Expect(out.Status()).To(Equal(reconmodel.StatusReconciled))
		Expect(out.ReconciledAmount).To(BeZero())
	})

	It("reports a repeated gateway reference as extra", func() {
		out := reconciliation.Match(
			[]reconciliation.Transaction{txn("T1", 500)},
			[]reconciliation.Transaction{txn("T1", 500), txn("T1", 500)},
		)
		Expect(out.Matched).To(HaveLen(1))
		Expect(out.Discrepancies).To(HaveLen(1))
		Expect(out.Discrepancies[0].Type).To(Equal(reconmodel.DiscrepancyExtraPayment))
	})

	It("orders discrepancies deterministically", func() {
		internal := []reconciliation.Transaction{txn("A", 1), txn("B", 2), txn("C", 3)}
		gateway := []reconciliation.Transaction{txn("Z", 9), txn("B", 5), txn("Y", 8)}

		first := reconciliation.Match(internal, gateway)
		second := reconciliation.Match(internal, gateway)
		Expect(second.Discrepancies).To(Equal(first.Discrepancies))

		types := make([]reconmodel.DiscrepancyType, len(first.Discrepancies))
		for i, d := range first.Discrepancies {
			types[i] = d.Type
		}
		Expect(types).To(Equal([]reconmodel.DiscrepancyType{
			reconmodel.DiscrepancyMissingPayment,
			reconmodel.DiscrepancyAmountMismatch,
			reconmodel.DiscrepancyMissingPayment,
			reconmodel.DiscrepancyExtraPayment,
			reconmodel.DiscrepancyExtraPayment,
		}))
	})
})
