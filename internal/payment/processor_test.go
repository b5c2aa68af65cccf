package payment_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/frahmantamala/payment-reconciliation/internal/audit"
	auditpostgres "github.com/frahmantamala/payment-reconciliation/internal/audit/postgres"
	auditmodel "github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/audit"
	paymentmodel "github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/payment"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/payment-reconciliation/internal/core/events"
	"github.com/frahmantamala/payment-reconciliation/internal/payment"
	"github.com/frahmantamala/payment-reconciliation/internal/payment/postgres"
	"github.com/frahmantamala/payment-reconciliation/internal/testutil"
	"github.com/frahmantamala/payment-reconciliation/pkg/logger"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType()
	}
	return out
}

// failingAuditStore wraps a real store but fails every audit write.
type failingAuditStore struct {
	inner payment.Store
}

type failingAuditTx struct {
	payment.TxRepository
}

func (failingAuditTx) WriteAudit(context.Context, *auditmodel.Entry) error {
	return errors.New("audit table unavailable")
}

func (s failingAuditStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx payment.TxRepository) error) error {
	return s.inner.WithinTransaction(ctx, func(ctx context.Context, tx payment.TxRepository) error {
		return fn(ctx, failingAuditTx{TxRepository: tx})
	})
}

// failingOrderStore wraps a real store but fails payment order transitions.
type failingOrderStore struct {
	inner payment.Store
}

type failingOrderTx struct {
	payment.TxRepository
}

func (failingOrderTx) TransitionOrder(context.Context, int64, []paymentmodel.OrderStatus, paymentmodel.OrderStatus) (bool, error) {
	return false, errors.New("db down")
}

func (s failingOrderStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx payment.TxRepository) error) error {
	return s.inner.WithinTransaction(ctx, func(ctx context.Context, tx payment.TxRepository) error {
		return fn(ctx, failingOrderTx{TxRepository: tx})
	})
}

func paymentEvent(t payment.EventType, p paymentgateway.Payment) *payment.Event {
	raw, err := json.Marshal(p)
	Expect(err).NotTo(HaveOccurred())
	return &payment.Event{
		Entity:    "event",
		AccountID: "acc_test",
		Type:      t,
		Contains:  []string{payment.EntityPayment},
		Payload:   map[string]payment.EntityEnvelope{payment.EntityPayment: {Entity: raw}},
		CreatedAt: time.Now().Unix(),
	}
}

func refundEvent(t payment.EventType, r paymentgateway.Refund) *payment.Event {
	raw, err := json.Marshal(r)
	Expect(err).NotTo(HaveOccurred())
	return &payment.Event{
		Entity:    "event",
		AccountID: "acc_test",
		Type:      t,
		Contains:  []string{payment.EntityRefund},
		Payload:   map[string]payment.EntityEnvelope{payment.EntityRefund: {Entity: raw}},
		CreatedAt: time.Now().Unix(),
	}
}

var _ = Describe("Processor", func() {
	var (
		ctx       context.Context
		db        *gorm.DB
		repo      *postgres.PaymentRepository
		audits    *auditpostgres.AuditRepository
		publisher *recordingPublisher
		processor *payment.Processor
		order     *paymentmodel.PaymentOrder
		linked    *paymentmodel.LinkedOrder
		now       time.Time
		gwPayment paymentgateway.Payment
	)

	newProcessor := func(store payment.Store) *payment.Processor {
		return payment.NewProcessor(store, audit.NewLogger(logger.Discard()), publisher, "razorpay", logger.Discard(),
			payment.WithProcessorClock(func() time.Time { return now }))
	}

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

		var err error
		db, err = testutil.NewSQLiteDB()
		Expect(err).NotTo(HaveOccurred())

		repo = postgres.NewPaymentRepository(db)
		audits = auditpostgres.NewAuditRepository(db)
		publisher = &recordingPublisher{}
		processor = newProcessor(repo)

		linked = &paymentmodel.LinkedOrder{PaymentStatus: "pending", Status: "placed"}
		Expect(db.Create(linked).Error).NotTo(HaveOccurred())

		order = &paymentmodel.PaymentOrder{
			GatewayOrderID: "order_100",
			Amount:         50000,
			Currency:       "INR",
			Status:         paymentmodel.OrderStatusCreated,
			UserID:         "user_1",
			TenantID:       "tenant_1",
			LinkedOrderID:  &linked.ID,
		}
		Expect(repo.CreateOrder(ctx, order)).To(Succeed())

		gwPayment = paymentgateway.Payment{
			ID:       "pay_100",
			Entity:   "payment",
			Amount:   50000,
			Currency: "INR",
			OrderID:  "order_100",
			Method:   "upi",
			Fee:      1180,
			Tax:      180,
			Notes:    map[string]interface{}{"tenant_id": "tenant_1"},
		}
	})

	orderStatus := func() paymentmodel.OrderStatus {
		o, err := repo.GetOrderByGatewayOrderID(ctx, "order_100")
		Expect(err).NotTo(HaveOccurred())
		return o.Status
	}

	transaction := func(id string) *paymentmodel.PaymentTransaction {
		txn, err := repo.GetTransactionByGatewayID(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		return txn
	}

	It("has a handler for every known event type", func() {
		for _, t := range payment.KnownEventTypes() {
			Expect(processor.HasHandler(t)).To(BeTrue(), string(t))
		}
	})

	Describe("payment.captured", func() {
		It("is idempotent across duplicate deliveries", func() {
			first, err := processor.Process(ctx, paymentEvent(payment.EventPaymentCaptured, gwPayment))
			Expect(err).NotTo(HaveOccurred())
			Expect(first.Applied).To(BeTrue())

			second, err := processor.Process(ctx, paymentEvent(payment.EventPaymentCaptured, gwPayment))
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Applied).To(BeFalse())
			Expect(second.Duplicate).To(BeTrue())

			count, err := repo.CountTransactions(ctx, "pay_100")
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(int64(1)))
			Expect(orderStatus()).To(Equal(paymentmodel.OrderStatusPaid))

			txnAudit, err := audits.ListByEntity(ctx, audit.EntityPaymentTransaction, "pay_100")
			Expect(err).NotTo(HaveOccurred())
			Expect(txnAudit).To(HaveLen(1))
			Expect(txnAudit[0].Action).To(Equal(audit.ActionCreated))

			orderAudit, err := audits.ListByEntity(ctx, audit.EntityPaymentOrder, "order_100")
			Expect(err).NotTo(HaveOccurred())
			Expect(orderAudit).To(HaveLen(1))

			Expect(publisher.types()).To(Equal([]string{events.EventTypePaymentCaptured}))
		})

		It("creates a captured transaction when no authorization was seen", func() {
			res, err := processor.Process(ctx, paymentEvent(payment.EventPaymentCaptured, gwPayment))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Applied).To(BeTrue())

			txn := transaction("pay_100")
			Expect(txn.Status).To(Equal(paymentmodel.TransactionStatusCaptured))
			Expect(txn.CapturedAt).NotTo(BeNil())
			Expect(txn.Fee).To(Equal(int64(1180)))
			Expect(txn.Tax).To(Equal(int64(180)))
			Expect(*txn.PaymentOrderID).To(Equal(order.ID))
		})

		It("moves an authorized transaction to captured and the order to paid", func() {
			_, err := processor.Process(ctx, paymentEvent(payment.EventPaymentAuthorized, gwPayment))
			Expect(err).NotTo(HaveOccurred())
			Expect(transaction("pay_100").Status).To(Equal(paymentmodel.TransactionStatusAuthorized))
			Expect(orderStatus()).To(Equal(paymentmodel.OrderStatusCreated))

			res, err := processor.Process(ctx, paymentEvent(payment.EventPaymentCaptured, gwPayment))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Applied).To(BeTrue())
			Expect(res.SecondaryFailures).To(BeEmpty())

			Expect(transaction("pay_100").Status).To(Equal(paymentmodel.TransactionStatusCaptured))
			Expect(orderStatus()).To(Equal(paymentmodel.OrderStatusPaid))

			var lo paymentmodel.LinkedOrder
			Expect(db.First(&lo, linked.ID).Error).NotTo(HaveOccurred())
			Expect(lo.PaymentStatus).To(Equal(payment.LinkedPaymentPaid))
			Expect(lo.Status).To(Equal(payment.LinkedOrderConfirmed))

			entries, err := audits.ListByEntity(ctx, audit.EntityPaymentTransaction, "pay_100")
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(2))
			Expect(entries[1].Action).To(Equal(audit.ActionStatusChanged))
			Expect(entries[1].Actor).To(Equal("system-webhook-handler"))
		})

		It("records a missing linked order as a secondary failure", func() {
			missing := int64(9999)
			Expect(db.Model(&paymentmodel.PaymentOrder{}).Where("id = ?", order.ID).
				Update("linked_order_id", missing).Error).NotTo(HaveOccurred())

			res, err := processor.Process(ctx, paymentEvent(payment.EventPaymentCaptured, gwPayment))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Applied).To(BeTrue())
			Expect(res.SecondaryFailures).To(HaveLen(1))
			Expect(orderStatus()).To(Equal(paymentmodel.OrderStatusPaid))
		})

		It("does not fail when audit writes fail", func() {
			processor = newProcessor(failingAuditStore{inner: repo})

			res, err := processor.Process(ctx, paymentEvent(payment.EventPaymentCaptured, gwPayment))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Applied).To(BeTrue())
			Expect(res.SecondaryFailures).NotTo(BeEmpty())
			Expect(transaction("pay_100").Status).To(Equal(paymentmodel.TransactionStatusCaptured))
			Expect(orderStatus()).To(Equal(paymentmodel.OrderStatusPaid))
		})

		It("keeps the gateway creation time separate from the processing time", func() {
			gatewayTime := time.Date(2024, 3, 1, 23, 59, 30, 0, time.UTC)
			now = time.Date(2024, 3, 2, 0, 0, 5, 0, time.UTC)
			gwPayment.CreatedAt = gatewayTime.Unix()

			_, err := processor.Process(ctx, paymentEvent(payment.EventPaymentCaptured, gwPayment))
			Expect(err).NotTo(HaveOccurred())

			txn := transaction("pay_100")
			Expect(txn.CapturedAt.Equal(now)).To(BeTrue())
			Expect(txn.GatewayCreatedAt).NotTo(BeNil())
			Expect(txn.GatewayCreatedAt.Equal(gatewayTime)).To(BeTrue())
		})

		It("rolls back every write when a primary write fails", func() {
			processor = newProcessor(failingOrderStore{inner: repo})

			_, err := processor.Process(ctx, paymentEvent(payment.EventPaymentCaptured, gwPayment))
			Expect(err).To(MatchError(ContainSubstring("mark payment order paid: db down")))

			count, err := repo.CountTransactions(ctx, "pay_100")
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(BeZero())
			Expect(orderStatus()).To(Equal(paymentmodel.OrderStatusCreated))

			entries, err := audits.ListByEntity(ctx, audit.EntityPaymentTransaction, "pay_100")
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(BeEmpty())
			Expect(publisher.types()).To(BeEmpty())
		})

		It("creates one transaction when the same capture is delivered concurrently", func() {
			const deliveries = 2
			results := make(chan *payment.Result, deliveries)
			var wg sync.WaitGroup
			for i := 0; i < deliveries; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					res, err := processor.Process(ctx, paymentEvent(payment.EventPaymentCaptured, gwPayment))
					Expect(err).NotTo(HaveOccurred())
					results <- res
				}()
			}
			wg.Wait()
			close(results)

			applied := 0
			for res := range results {
				if res.Applied {
					applied++
				}
			}
			Expect(applied).To(Equal(1))

			count, err := repo.CountTransactions(ctx, "pay_100")
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(int64(1)))

			orderAudit, err := audits.ListByEntity(ctx, audit.EntityPaymentOrder, "order_100")
			Expect(err).NotTo(HaveOccurred())
			Expect(orderAudit).To(HaveLen(1))
			Expect(publisher.types()).To(Equal([]string{events.EventTypePaymentCaptured}))
		})

		It("records a transaction even without a payment order", func() {
			gwPayment.ID = "pay_orphan"
			gwPayment.OrderID = "order_unknown"

			res, err := processor.Process(ctx, paymentEvent(payment.EventPaymentCaptured, gwPayment))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Applied).To(BeTrue())

			txn := transaction("pay_orphan")
			Expect(txn.PaymentOrderID).To(BeNil())
			Expect(txn.TenantID).To(Equal("tenant_1"))
		})
	})

	Describe("payment.authorized", func() {
		It("is a no-op without a payment order", func() {
			gwPayment.OrderID = "order_unknown"
			res, err := processor.Process(ctx, paymentEvent(payment.EventPaymentAuthorized, gwPayment))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Ignored).To(BeTrue())
			Expect(transaction("pay_100")).To(BeNil())
		})

		It("does not regress a captured transaction", func() {
			_, err := processor.Process(ctx, paymentEvent(payment.EventPaymentCaptured, gwPayment))
			Expect(err).NotTo(HaveOccurred())

			res, err := processor.Process(ctx, paymentEvent(payment.EventPaymentAuthorized, gwPayment))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Duplicate).To(BeTrue())
			Expect(transaction("pay_100").Status).To(Equal(paymentmodel.TransactionStatusCaptured))
		})
	})

	Describe("payment.failed", func() {
		BeforeEach(func() {
			gwPayment.ErrorCode = "BAD_REQUEST_ERROR"
			gwPayment.ErrorDescription = "card declined"
		})

		It("moves an authorized transaction and its order to failed", func() {
			_, err := processor.Process(ctx, paymentEvent(payment.EventPaymentAuthorized, gwPayment))
			Expect(err).NotTo(HaveOccurred())

			res, err := processor.Process(ctx, paymentEvent(payment.EventPaymentFailed, gwPayment))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Applied).To(BeTrue())

			txn := transaction("pay_100")
			Expect(txn.Status).To(Equal(paymentmodel.TransactionStatusFailed))
			Expect(*txn.ErrorCode).To(Equal("BAD_REQUEST_ERROR"))
			Expect(txn.FailedAt).NotTo(BeNil())
			Expect(orderStatus()).To(Equal(paymentmodel.OrderStatusFailed))

			var lo paymentmodel.LinkedOrder
			Expect(db.First(&lo, linked.ID).Error).NotTo(HaveOccurred())
			Expect(lo.PaymentStatus).To(Equal(payment.LinkedPaymentFailed))
			Expect(lo.Status).To(Equal("placed"))
			Expect(publisher.types()).To(ContainElement(events.EventTypePaymentFailed))
		})

		It("never moves a paid order back to failed", func() {
			_, err := processor.Process(ctx, paymentEvent(payment.EventPaymentCaptured, gwPayment))
			Expect(err).NotTo(HaveOccurred())

			res, err := processor.Process(ctx, paymentEvent(payment.EventPaymentFailed, gwPayment))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Applied).To(BeFalse())
			Expect(orderStatus()).To(Equal(paymentmodel.OrderStatusPaid))
			Expect(transaction("pay_100").Status).To(Equal(paymentmodel.TransactionStatusCaptured))
		})
	})

	Describe("refunds", func() {
		var gwRefund paymentgateway.Refund

		BeforeEach(func() {
			gwRefund = paymentgateway.Refund{
				ID:        "rfnd_1",
				Entity:    "refund",
				PaymentID: "pay_100",
				Amount:    20000,
				Currency:  "INR",
				Notes:     []interface{}{},
			}
		})

		It("fails and warns when the payment transaction is unknown", func() {
			var out bytes.Buffer
			processor = payment.NewProcessor(repo, audit.NewLogger(logger.Discard()), publisher, "razorpay",
				slog.New(slog.NewJSONHandler(&out, nil)))

			_, err := processor.Process(ctx, refundEvent(payment.EventRefundCreated, gwRefund))
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, payment.ErrTransactionNotFound)).To(BeTrue())

			Expect(out.String()).To(ContainSubstring(`"level":"WARN"`))
			Expect(out.String()).To(ContainSubstring(`"gateway_refund_id":"rfnd_1"`))
			Expect(out.String()).To(ContainSubstring(`"gateway_transaction_id":"pay_100"`))
		})

		It("keeps a partially refunded transaction captured until refunds cover it", func() {
			_, err := processor.Process(ctx, paymentEvent(payment.EventPaymentCaptured, gwPayment))
			Expect(err).NotTo(HaveOccurred())

			res, err := processor.Process(ctx, refundEvent(payment.EventRefundProcessed, gwRefund))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Applied).To(BeTrue())
			Expect(transaction("pay_100").Status).To(Equal(paymentmodel.TransactionStatusCaptured))
			Expect(transaction("pay_100").RefundedAt).To(BeNil())

			rest := gwRefund
			rest.ID = "rfnd_2"
			rest.Amount = gwPayment.Amount - gwRefund.Amount
			res, err = processor.Process(ctx, refundEvent(payment.EventRefundProcessed, rest))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Applied).To(BeTrue())

			txn := transaction("pay_100")
			Expect(txn.Status).To(Equal(paymentmodel.TransactionStatusRefunded))
			Expect(txn.RefundedAt).NotTo(BeNil())
			Expect(publisher.types()).To(Equal([]string{
				events.EventTypePaymentCaptured,
				events.EventTypeRefundProcessed,
				events.EventTypeRefundProcessed,
			}))
		})

		It("creates then processes a full refund and marks the transaction refunded", func() {
			gwRefund.Amount = gwPayment.Amount

			_, err := processor.Process(ctx, paymentEvent(payment.EventPaymentCaptured, gwPayment))
			Expect(err).NotTo(HaveOccurred())

			created, err := processor.Process(ctx, refundEvent(payment.EventRefundCreated, gwRefund))
			Expect(err).NotTo(HaveOccurred())
			Expect(created.Applied).To(BeTrue())
			Expect(transaction("pay_100").Status).To(Equal(paymentmodel.TransactionStatusCaptured))

			processed, err := processor.Process(ctx, refundEvent(payment.EventRefundProcessed, gwRefund))
			Expect(err).NotTo(HaveOccurred())
			Expect(processed.Applied).To(BeTrue())

			refund, err := repo.GetRefundByGatewayID(ctx, "rfnd_1")
			Expect(err).NotTo(HaveOccurred())
			Expect(refund.Status).To(Equal(paymentmodel.RefundStatusProcessed))
			Expect(refund.ProcessedAt).NotTo(BeNil())

			txn := transaction("pay_100")
			Expect(txn.Status).To(Equal(paymentmodel.TransactionStatusRefunded))
			Expect(txn.RefundedAt).NotTo(BeNil())
			Expect(orderStatus()).To(Equal(paymentmodel.OrderStatusPaid))
			Expect(publisher.types()).To(ContainElement(events.EventTypeRefundProcessed))

			again, err := processor.Process(ctx, refundEvent(payment.EventRefundProcessed, gwRefund))
			Expect(err).NotTo(HaveOccurred())
			Expect(again.Duplicate).To(BeTrue())
		})

		It("marks a failed refund without touching the transaction", func() {
			_, err := processor.Process(ctx, paymentEvent(payment.EventPaymentCaptured, gwPayment))
			Expect(err).NotTo(HaveOccurred())

			res, err := processor.Process(ctx, refundEvent(payment.EventRefundFailed, gwRefund))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Applied).To(BeTrue())

			refund, err := repo.GetRefundByGatewayID(ctx, "rfnd_1")
			Expect(err).NotTo(HaveOccurred())
			Expect(refund.Status).To(Equal(paymentmodel.RefundStatusFailed))
			Expect(transaction("pay_100").Status).To(Equal(paymentmodel.TransactionStatusCaptured))
		})
	})

	It("acknowledges order.paid without changes", func() {
		evt := &payment.Event{Type: payment.EventOrderPaid, Payload: map[string]payment.EntityEnvelope{}}
		res, err := processor.Process(ctx, evt)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Ignored).To(BeTrue())
	})

	It("ignores event types outside the known set", func() {
		res, err := processor.Process(ctx, &payment.Event{Type: "invoice.paid"})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Ignored).To(BeTrue())
	})
})
