package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/frahmantamala/payment-reconciliation/internal"
	"github.com/frahmantamala/payment-reconciliation/internal/audit"
	paymentmodel "github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/payment"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/payment-reconciliation/internal/core/events"
)

var ErrTransactionNotFound = errors.New("payment transaction not found")

// Linked order and subscription states written on payment outcomes.
const (
	LinkedPaymentPaid     = "paid"
	LinkedPaymentFailed   = "failed"
	LinkedOrderConfirmed  = "confirmed"
	SubscriptionActive    = "active"
	SubscriptionSuspended = "payment_failed"
)

// Result describes what processing one event did.
type Result struct {
	EventType         EventType `json:"event"`
	Reference         string    `json:"reference,omitempty"`
	Applied           bool      `json:"applied"`
	Duplicate         bool      `json:"duplicate"`
	Ignored           bool      `json:"ignored"`
	SecondaryFailures []string  `json:"secondary_failures,omitempty"`
}

func (r *Result) secondary(what string, err error) {
	r.SecondaryFailures = append(r.SecondaryFailures, fmt.Sprintf("%s: %v", what, err))
}

type eventHandler func(ctx context.Context, tx TxRepository, evt *Event, res *Result, outbox *[]events.Event) error

type Processor struct {
	store     Store
	audit     *audit.Logger
	publisher events.Publisher
	gateway   string
	now       func() time.Time
	logger    *slog.Logger
}

type ProcessorOption func(*Processor)

func WithProcessorClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) {
		p.now = now
	}
}

func NewProcessor(store Store, auditLogger *audit.Logger, publisher events.Publisher, gateway string, logger *slog.Logger, opts ...ProcessorOption) *Processor {
	p := &Processor{
		store:     store,
		audit:     auditLogger,
		publisher: publisher,
		gateway:   gateway,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// handlerFor is the single dispatch point for every known event type.
func (p *Processor) handlerFor(t EventType) (eventHandler, bool) {
	switch t {
	case EventPaymentAuthorized:
		return p.handleAuthorized, true
	case EventPaymentCaptured:
		return p.handleCaptured, true
	case EventPaymentFailed:
		return p.handleFailed, true
	case EventRefundCreated, EventRefundProcessed, EventRefundFailed:
		return p.handleRefund, true
	case EventOrderPaid:
		return p.handleIgnored, true
	}
	return nil, false
}

// Process applies evt in one unit of work. Primary write failures roll
// everything back and are returned; secondary failures end up on the Result.
func (p *Processor) Process(ctx context.Context, evt *Event) (*Result, error) {
	res := &Result{EventType: evt.Type}

	handler, ok := p.handlerFor(evt.Type)
	if !ok {
		p.logger.Warn("unknown webhook event ignored", "event", evt.Type)
		res.Ignored = true
		return res, nil
	}

	var outbox []events.Event
	err := p.store.WithinTransaction(ctx, func(ctx context.Context, tx TxRepository) error {
		return handler(ctx, tx, evt, res, &outbox)
	})
	if err != nil {
		return nil, fmt.Errorf("process %s: %w", evt.Type, err)
	}

	for _, failure := range res.SecondaryFailures {
		p.logger.Warn("secondary effect failed",
			"event", evt.Type,
			"reference", res.Reference,
			"error", failure)
	}

	if p.publisher != nil {
		for _, e := range outbox {
			if err := p.publisher.Publish(ctx, e); err != nil {
				p.logger.Warn("publish domain event failed", "event_type", e.EventType(), "error", err)
			}
		}
	}

	p.logger.Info("webhook event processed",
		"event", evt.Type,
		"reference", res.Reference,
		"applied", res.Applied,
		"duplicate", res.Duplicate,
		"ignored", res.Ignored)

	return res, nil
}

func (p *Processor) record(ctx context.Context, tx TxRepository, res *Result, c audit.Change) {
	if c.Actor == "" {
		c.Actor = internal.SystemWebhookActor
	}
	if err := p.audit.Record(ctx, tx, c); err != nil {
		res.secondary("audit", err)
	}
}

func (p *Processor) handleIgnored(_ context.Context, _ TxRepository, evt *Event, res *Result, _ *[]events.Event) error {
	p.logger.Info("webhook event acknowledged without processing", "event", evt.Type)
	res.Ignored = true
	return nil
}

func (p *Processor) newTransaction(gp *paymentgateway.Payment, order *paymentmodel.PaymentOrder, status paymentmodel.TransactionStatus) *paymentmodel.PaymentTransaction {
	txn := &paymentmodel.PaymentTransaction{
		TenantID:             gp.TenantID(),
		GatewayTransactionID: gp.ID,
		GatewayOrderID:       gp.OrderID,
		Amount:               gp.Amount,
		Currency:             gp.Currency,
		Status:               status,
		Method:               gp.Method,
		Gateway:              p.gateway,
		Fee:                  gp.FeeAmount(),
		Tax:                  gp.TaxAmount(),
		GatewayPayload:       gp.Raw,
	}
	if gp.CreatedAt > 0 {
		createdAt := gp.CreatedTime()
		txn.GatewayCreatedAt = &createdAt
	}
	if order != nil {
		txn.PaymentOrderID = &order.ID
		txn.TenantID = order.TenantID
	}
	return txn
}

func (p *Processor) handleAuthorized(ctx context.Context, tx TxRepository, evt *Event, res *Result, _ *[]events.Event) error {
	gp, err := evt.Payment()
	if err != nil {
		return err
	}
	res.Reference = gp.ID

	order, err := tx.FindOrderByGatewayOrderID(ctx, gp.OrderID)
	if err != nil {
		return fmt.Errorf("find payment order: %w", err)
	}
	if order == nil {
		p.logger.Info("no payment order for authorized payment",
			"gateway_order_id", gp.OrderID,
			"gateway_transaction_id", gp.ID)
		res.Ignored = true
		return nil
	}

	now := p.now()
	txn := p.newTransaction(gp, order, paymentmodel.TransactionStatusAuthorized)
	txn.AuthorizedAt = &now

	stored, created, err := tx.CreateTransactionIfAbsent(ctx, txn)
	if err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}
	if !created {
		res.Duplicate = true
		return nil
	}

	res.Applied = true
	p.record(ctx, tx, res, audit.Change{
		EntityType: audit.EntityPaymentTransaction,
		EntityID:   stored.GatewayTransactionID,
		Action:     audit.ActionCreated,
		Changes: map[string]interface{}{
			"status":           stored.Status,
			"amount":           stored.Amount,
			"currency":         stored.Currency,
			"payment_order_id": order.ID,
		},
	})
	return nil
}

func (p *Processor) handleCaptured(ctx context.Context, tx TxRepository, evt *Event, res *Result, outbox *[]events.Event) error {
	gp, err := evt.Payment()
	if err != nil {
		return err
	}
	res.Reference = gp.ID

	order, err := tx.FindOrderByGatewayOrderID(ctx, gp.OrderID)
	if err != nil {
		return fmt.Errorf("find payment order: %w", err)
	}
	if order == nil {
		p.logger.Warn("captured payment has no payment order",
			"gateway_order_id", gp.OrderID,
			"gateway_transaction_id", gp.ID)
	}

	now := p.now()
	txn := p.newTransaction(gp, order, paymentmodel.TransactionStatusCaptured)
	txn.CapturedAt = &now

	stored, created, err := tx.CreateTransactionIfAbsent(ctx, txn)
	if err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}

	captured := created
	if created {
		p.record(ctx, tx, res, audit.Change{
			EntityType: audit.EntityPaymentTransaction,
			EntityID:   stored.GatewayTransactionID,
			Action:     audit.ActionCreated,
			Changes: map[string]interface{}{
				"status":   stored.Status,
				"amount":   stored.Amount,
				"currency": stored.Currency,
				"fee":      stored.Fee,
			},
		})
	} else {
		fee, tax := gp.FeeAmount(), gp.TaxAmount()
		patch := TransactionPatch{
			Method:         &gp.Method,
			Fee:            &fee,
			Tax:            &tax,
			GatewayPayload: gp.Raw,
			CapturedAt:     &now,
		}
		if stored.GatewayCreatedAt == nil {
			patch.GatewayCreatedAt = txn.GatewayCreatedAt
		}
		if order != nil && stored.PaymentOrderID == nil {
			patch.PaymentOrderID = &order.ID
			patch.TenantID = &order.TenantID
		}
		captured, err = tx.TransitionTransaction(ctx, stored.ID,
			[]paymentmodel.TransactionStatus{paymentmodel.TransactionStatusAuthorized},
			paymentmodel.TransactionStatusCaptured, patch)
		if err != nil {
			return fmt.Errorf("capture transaction: %w", err)
		}
		if captured {
			p.record(ctx, tx, res, audit.StatusChange(audit.EntityPaymentTransaction, stored.GatewayTransactionID, internal.SystemWebhookActor,
				stored.Status, paymentmodel.TransactionStatusCaptured, map[string]interface{}{"fee": fee}))
		} else if stored.Status != paymentmodel.TransactionStatusCaptured {
			p.logger.Warn("capture ignored for transaction in terminal state",
				"gateway_transaction_id", stored.GatewayTransactionID,
				"status", stored.Status)
		}
	}

	orderPaid := false
	if order != nil {
		orderPaid, err = tx.TransitionOrder(ctx, order.ID,
			[]paymentmodel.OrderStatus{paymentmodel.OrderStatusCreated}, paymentmodel.OrderStatusPaid)
		if err != nil {
			return fmt.Errorf("mark payment order paid: %w", err)
		}
		if orderPaid {
			p.record(ctx, tx, res, audit.StatusChange(audit.EntityPaymentOrder, order.GatewayOrderID, internal.SystemWebhookActor,
				order.Status, paymentmodel.OrderStatusPaid, map[string]interface{}{"gateway_transaction_id": gp.ID}))
			p.updateLinked(ctx, tx, res, order, LinkedPaymentPaid, LinkedOrderConfirmed, SubscriptionActive)
		}
	}

	res.Applied = captured || orderPaid
	res.Duplicate = !res.Applied
	if captured {
		var orderID int64
		var userID, tenantID string
		if order != nil {
			orderID, userID, tenantID = order.ID, order.UserID, order.TenantID
		}
		*outbox = append(*outbox, events.NewPaymentCapturedEvent(gp.ID, gp.OrderID, orderID, userID, tenantID, gp.Amount, gp.Currency))
	}
	return nil
}

func (p *Processor) handleFailed(ctx context.Context, tx TxRepository, evt *Event, res *Result, outbox *[]events.Event) error {
	gp, err := evt.Payment()
	if err != nil {
		return err
	}
	res.Reference = gp.ID

	order, err := tx.FindOrderByGatewayOrderID(ctx, gp.OrderID)
	if err != nil {
		return fmt.Errorf("find payment order: %w", err)
	}

	now := p.now()
	txn := p.newTransaction(gp, order, paymentmodel.TransactionStatusFailed)
	txn.FailedAt = &now
	if gp.ErrorCode != "" {
		txn.ErrorCode = &gp.ErrorCode
	}
	if gp.ErrorDescription != "" {
		txn.ErrorDescription = &gp.ErrorDescription
	}

	stored, created, err := tx.CreateTransactionIfAbsent(ctx, txn)
	if err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}

	failed := created
	if created {
		p.record(ctx, tx, res, audit.Change{
			EntityType: audit.EntityPaymentTransaction,
			EntityID:   stored.GatewayTransactionID,
			Action:     audit.ActionCreated,
			Changes: map[string]interface{}{
				"status":     stored.Status,
				"amount":     stored.Amount,
				"error_code": gp.ErrorCode,
			},
		})
	} else {
		failed, err = tx.TransitionTransaction(ctx, stored.ID,
			[]paymentmodel.TransactionStatus{paymentmodel.TransactionStatusAuthorized},
			paymentmodel.TransactionStatusFailed, TransactionPatch{
				FailedAt:         &now,
				ErrorCode:        txn.ErrorCode,
				ErrorDescription: txn.ErrorDescription,
				GatewayPayload:   gp.Raw,
			})
		if err != nil {
			return fmt.Errorf("fail transaction: %w", err)
		}
		if failed {
			p.record(ctx, tx, res, audit.StatusChange(audit.EntityPaymentTransaction, stored.GatewayTransactionID, internal.SystemWebhookActor,
				stored.Status, paymentmodel.TransactionStatusFailed, map[string]interface{}{"error_code": gp.ErrorCode}))
		}
	}

	orderFailed := false
	if order != nil {
		// a paid order never moves back to failed
		orderFailed, err = tx.TransitionOrder(ctx, order.ID,
			[]paymentmodel.OrderStatus{paymentmodel.OrderStatusCreated}, paymentmodel.OrderStatusFailed)
		if err != nil {
			return fmt.Errorf("mark payment order failed: %w", err)
		}
		if orderFailed {
			p.record(ctx, tx, res, audit.StatusChange(audit.EntityPaymentOrder, order.GatewayOrderID, internal.SystemWebhookActor,
				order.Status, paymentmodel.OrderStatusFailed, map[string]interface{}{"gateway_transaction_id": gp.ID}))
			p.updateLinked(ctx, tx, res, order, LinkedPaymentFailed, "", SubscriptionSuspended)
		}
	}

	res.Applied = failed || orderFailed
	res.Duplicate = !res.Applied
	if failed {
		*outbox = append(*outbox, events.NewPaymentFailedEvent(gp.ID, gp.OrderID, gp.ErrorCode, gp.ErrorDescription))
	}
	return nil
}

// updateLinked moves the order or subscription behind a payment order. These
// writes are secondary: failures are recorded and processing continues.
func (p *Processor) updateLinked(ctx context.Context, tx TxRepository, res *Result, order *paymentmodel.PaymentOrder, paymentStatus, orderStatus, subscriptionStatus string) {
	if order.LinkedOrderID != nil {
		if err := tx.UpdateLinkedOrderPayment(ctx, *order.LinkedOrderID, paymentStatus, orderStatus); err != nil {
			res.secondary("linked order "+strconv.FormatInt(*order.LinkedOrderID, 10), err)
		}
	}
	if order.SubscriptionID != nil {
		if err := tx.UpdateSubscriptionPayment(ctx, *order.SubscriptionID, paymentStatus, subscriptionStatus); err != nil {
			res.secondary("subscription "+strconv.FormatInt(*order.SubscriptionID, 10), err)
		}
	}
}

func refundStatusFor(t EventType) paymentmodel.RefundStatus {
	switch t {
	case EventRefundProcessed:
		return paymentmodel.RefundStatusProcessed
	case EventRefundFailed:
		return paymentmodel.RefundStatusFailed
	default:
		return paymentmodel.RefundStatusCreated
	}
}

func (p *Processor) handleRefund(ctx context.Context, tx TxRepository, evt *Event, res *Result, outbox *[]events.Event) error {
	gr, err := evt.Refund()
	if err != nil {
		return err
	}
	res.Reference = gr.ID

	txn, err := tx.FindTransactionByGatewayID(ctx, gr.PaymentID)
	if err != nil {
		return fmt.Errorf("find transaction: %w", err)
	}
	if txn == nil {
		// the gateway keeps redelivering until the payment shows up
		p.logger.Warn("refund references unknown payment, gateway will retry",
			"event", evt.Type,
			"gateway_refund_id", gr.ID,
			"gateway_transaction_id", gr.PaymentID)
		return fmt.Errorf("refund %s for payment %s: %w", gr.ID, gr.PaymentID, ErrTransactionNotFound)
	}

	now := p.now()
	target := refundStatusFor(evt.Type)
	refund := &paymentmodel.PaymentRefund{
		PaymentTransactionID: txn.ID,
		GatewayRefundID:      gr.ID,
		Amount:               gr.Amount,
		Currency:             gr.Currency,
		Status:               target,
	}
	if reason := gr.Note("reason"); reason != "" {
		refund.Reason = &reason
	}
	if target == paymentmodel.RefundStatusProcessed {
		refund.ProcessedAt = &now
	}

	stored, created, err := tx.CreateRefundIfAbsent(ctx, refund)
	if err != nil {
		return fmt.Errorf("create refund: %w", err)
	}

	changed := created
	if created {
		p.record(ctx, tx, res, audit.Change{
			EntityType: audit.EntityPaymentRefund,
			EntityID:   stored.GatewayRefundID,
			Action:     audit.ActionCreated,
			Changes: map[string]interface{}{
				"status":                 stored.Status,
				"amount":                 stored.Amount,
				"gateway_transaction_id": txn.GatewayTransactionID,
			},
		})
	} else if target != paymentmodel.RefundStatusCreated {
		changed, err = tx.TransitionRefund(ctx, stored.ID,
			[]paymentmodel.RefundStatus{paymentmodel.RefundStatusCreated}, target, refund.ProcessedAt)
		if err != nil {
			return fmt.Errorf("transition refund: %w", err)
		}
		if changed {
			p.record(ctx, tx, res, audit.StatusChange(audit.EntityPaymentRefund, stored.GatewayRefundID, internal.SystemWebhookActor,
				stored.Status, target, nil))
		}
	}

	if changed && target == paymentmodel.RefundStatusProcessed {
		if err := p.settleRefund(ctx, tx, res, txn, gr.ID, now); err != nil {
			return err
		}
		*outbox = append(*outbox, events.NewRefundProcessedEvent(gr.ID, txn.GatewayTransactionID, gr.Amount, gr.Currency))
	}

	res.Applied = changed
	res.Duplicate = !changed
	return nil
}

// settleRefund moves the transaction to refunded once processed refunds cover
// its amount. A partially refunded payment stays captured, as it does on the
// gateway, so both sides of a reconciliation keep it.
func (p *Processor) settleRefund(ctx context.Context, tx TxRepository, res *Result, txn *paymentmodel.PaymentTransaction, refundID string, now time.Time) error {
	total, err := tx.ProcessedRefundTotal(ctx, txn.ID)
	if err != nil {
		return fmt.Errorf("sum processed refunds: %w", err)
	}
	if total < txn.Amount {
		p.logger.Info("partial refund processed, transaction stays captured",
			"gateway_transaction_id", txn.GatewayTransactionID,
			"gateway_refund_id", refundID,
			"refunded", total,
			"amount", txn.Amount)
		return nil
	}

	refunded, err := tx.TransitionTransaction(ctx, txn.ID,
		[]paymentmodel.TransactionStatus{paymentmodel.TransactionStatusCaptured},
		paymentmodel.TransactionStatusRefunded, TransactionPatch{RefundedAt: &now})
	if err != nil {
		return fmt.Errorf("mark transaction refunded: %w", err)
	}
	if refunded {
		p.record(ctx, tx, res, audit.StatusChange(audit.EntityPaymentTransaction, txn.GatewayTransactionID, internal.SystemWebhookActor,
			txn.Status, paymentmodel.TransactionStatusRefunded, map[string]interface{}{"gateway_refund_id": refundID}))
	}
	return nil
}
