package paymentgateway_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/payment-reconciliation/internal/paymentgateway"
	"github.com/frahmantamala/payment-reconciliation/pkg/logger"
)

func paymentItem(id string, amount int64, status, tenant string) map[string]interface{} {
	var notes interface{} = []interface{}{}
	if tenant != "" {
		notes = map[string]interface{}{"tenant_id": tenant}
	}
	return map[string]interface{}{
		"id":         id,
		"entity":     "payment",
		"amount":     amount,
		"currency":   "INR",
		"status":     status,
		"fee":        "12",
		"notes":      notes,
		"created_at": 1700000000,
	}
}

var _ = Describe("Client", func() {
	var (
		server   *httptest.Server
		requests atomic.Int32
		traceIDs atomic.Value
		pages    [][]map[string]interface{}
		from     time.Time
		to       time.Time
	)

	BeforeEach(func() {
		requests.Store(0)
		from = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
		to = from.Add(24 * time.Hour)
		pages = nil
	})

	AfterEach(func() {
		if server != nil {
			server.Close()
		}
	})

	serve := func(path string) {
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			requests.Add(1)
			traceIDs.Store(r.Header.Get("X-Trace-ID"))
			user, pass, ok := r.BasicAuth()
			if !ok || user != "rzp_test_key" || pass != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"The api key provided is invalid"}}`))
				return
			}
			if r.URL.Path != path {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			Expect(r.URL.Query().Get("from")).To(Equal(strconv.FormatInt(from.Unix(), 10)))
			Expect(r.URL.Query().Get("to")).To(Equal(strconv.FormatInt(to.Unix()-1, 10)))

			skip, _ := strconv.Atoi(r.URL.Query().Get("skip"))
			count, _ := strconv.Atoi(r.URL.Query().Get("count"))
			idx := skip / count
			var items []map[string]interface{}
			if idx < len(pages) {
				items = pages[idx]
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"entity": "collection",
				"count":  len(items),
				"items":  items,
			})
		}))
	}

	newClient := func(keySecret string) *paymentgateway.Client {
		return paymentgateway.NewClient(paymentgateway.Config{
			BaseURL:   server.URL,
			KeyID:     "rzp_test_key",
			KeySecret: keySecret,
			Timeout:   2 * time.Second,
			PageSize:  2,
		}, logger.Discard())
	}

	It("walks every page and keeps captured payments for the tenant", func() {
		pages = [][]map[string]interface{}{
			{paymentItem("pay_1", 500, "captured", "acme"), paymentItem("pay_2", 300, "failed", "acme")},
			{paymentItem("pay_3", 200, "captured", "globex"), paymentItem("pay_4", 100, "captured", "acme")},
			{paymentItem("pay_5", 50, "captured", "")},
		}
		serve("/v1/payments")

		payments, err := newClient("secret").ListCapturedPayments(context.Background(), "acme", from, to)
		Expect(err).NotTo(HaveOccurred())
		Expect(requests.Load()).To(Equal(int32(3)))

		ids := make([]string, 0, len(payments))
		for _, p := range payments {
			ids = append(ids, p.ID)
		}
		Expect(ids).To(Equal([]string{"pay_1", "pay_4"}))
		Expect(payments[0].FeeAmount()).To(Equal(int64(12)))
	})

	It("keeps every tenant when none is given", func() {
		pages = [][]map[string]interface{}{
			{paymentItem("pay_1", 500, "captured", "acme"), paymentItem("pay_3", 200, "captured", "")},
		}
		serve("/v1/payments")

		payments, err := newClient("secret").ListCapturedPayments(context.Background(), "", from, to)
		Expect(err).NotTo(HaveOccurred())
		Expect(payments).To(HaveLen(2))
		// a full page forces one more request that comes back empty
		Expect(requests.Load()).To(Equal(int32(2)))
	})

	It("lists processed refunds only", func() {
		pages = [][]map[string]interface{}{{
			{"id": "rfnd_1", "entity": "refund", "payment_id": "pay_1", "amount": 100, "currency": "INR", "status": "processed", "notes": map[string]interface{}{"tenant_id": "acme"}},
			{"id": "rfnd_2", "entity": "refund", "payment_id": "pay_1", "amount": 50, "currency": "INR", "status": "pending", "notes": []interface{}{}},
		}}
		serve("/v1/refunds")

		refunds, err := newClient("secret").ListProcessedRefunds(context.Background(), "acme", from, to)
		Expect(err).NotTo(HaveOccurred())
		Expect(refunds).To(HaveLen(1))
		Expect(refunds[0].ID).To(Equal("rfnd_1"))
		Expect(refunds[0].PaymentID).To(Equal("pay_1"))
	})

	It("surfaces gateway errors", func() {
		serve("/v1/payments")

		_, err := newClient("wrong").ListCapturedPayments(context.Background(), "acme", from, to)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring(fmt.Sprintf("status %d", http.StatusUnauthorized)))
		Expect(err.Error()).To(ContainSubstring("api key provided is invalid"))
	})

	It("forwards the trace id of the calling context", func() {
		serve("/v1/payments")
		ctx := logger.WithTraceID(context.Background(), "trace-123")

		_, err := newClient("secret").ListCapturedPayments(ctx, "acme", from, to)
		Expect(err).NotTo(HaveOccurred())
		Expect(traceIDs.Load()).To(Equal("trace-123"))
	})

	It("honours context cancellation", func() {
		serve("/v1/payments")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := newClient("secret").ListCapturedPayments(ctx, "acme", from, to)
		Expect(err).To(MatchError(ContainSubstring("context canceled")))
	})
})
